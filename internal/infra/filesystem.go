package infra

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/robbob/launcher/internal/domain"
)

// FileSystemManagerImpl implements domain.FileSystemManager.
type FileSystemManagerImpl struct {
	homeDir string
}

// NewFileSystemManager creates a new filesystem manager.
func NewFileSystemManager() domain.FileSystemManager {
	home, _ := os.UserHomeDir()
	return &FileSystemManagerImpl{homeDir: home}
}

// NewFileSystemManagerWithHome creates a filesystem manager with custom home (for testing).
func NewFileSystemManagerWithHome(home string) domain.FileSystemManager {
	return &FileSystemManagerImpl{homeDir: home}
}

// Exists checks if a path exists.
func (fm *FileSystemManagerImpl) Exists(path string) bool {
	_, err := os.Stat(fm.ExpandHome(path))
	return err == nil
}

// Delete removes a file or directory recursively.
func (fm *FileSystemManagerImpl) Delete(path string) error {
	return os.RemoveAll(fm.ExpandHome(path))
}

// MissingFiles returns the base names of paths that do not exist.
func (fm *FileSystemManagerImpl) MissingFiles(paths []string) []string {
	var missing []string
	for _, p := range paths {
		if !fm.Exists(p) {
			missing = append(missing, filepath.Base(p))
		}
	}
	return missing
}

// ExpandHome expands ~ to the user's home directory.
func (fm *FileSystemManagerImpl) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(fm.homeDir, path[2:])
	}
	if path == "~" {
		return fm.homeDir
	}
	return path
}

// Ensure FileSystemManagerImpl implements domain.FileSystemManager.
var _ domain.FileSystemManager = (*FileSystemManagerImpl)(nil)
