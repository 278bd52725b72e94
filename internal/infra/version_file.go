package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robbob/launcher/internal/domain"
)

// VersionFileName records the installed helper version inside its install dir.
const VersionFileName = "version.txt"

// VersionFile implements domain.InstallationStore with a text file.
type VersionFile struct {
	installDir string
}

// NewVersionFile creates a store for installDir.
func NewVersionFile(installDir string) *VersionFile {
	return &VersionFile{installDir: installDir}
}

// Load returns the installation state. A missing file means not installed.
func (v *VersionFile) Load() (domain.InstallationState, error) {
	state := domain.InstallationState{InstallPath: v.installDir}
	data, err := os.ReadFile(filepath.Join(v.installDir, VersionFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	state.InstalledVersion = strings.TrimSpace(string(data))
	return state, nil
}

// Save records version. Called only after a verified install.
func (v *VersionFile) Save(version string) error {
	if err := os.MkdirAll(v.installDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	path := filepath.Join(v.installDir, VersionFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.TrimSpace(version)), 0644); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	return nil
}

// Ensure VersionFile implements domain.InstallationStore.
var _ domain.InstallationStore = (*VersionFile)(nil)
