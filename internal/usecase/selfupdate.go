package usecase

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

// SelfUpdateConfig describes the running launcher and where updates come from.
type SelfUpdateConfig struct {
	ManifestURL        string
	FallbackPackageURL string // used when the manifest has no downloadUrl
	CurrentVersion     string
	Executable         string   // path of the running launcher binary
	InstallDir         string   // where the package unpacks, the executable's dir when empty
	Args               []string // arguments for the relaunched launcher
	StagingDir         string   // os.TempDir() when empty
	HandoffDelay       time.Duration
	ExitDelay          time.Duration
}

// SelfUpdateCoordinator replaces the running launcher with a newer release.
// The actual file swap happens in a detached script after this process exits.
type SelfUpdateCoordinator struct {
	resolver domain.VersionResolver
	fetcher  domain.ArtifactFetcher
	handoff  domain.HandoffLauncher
	config   SelfUpdateConfig
	logger   *zap.Logger
	exit     func(code int)

	applying atomic.Bool
}

// NewSelfUpdateCoordinator creates a coordinator. exit terminates the process
// after a successful handoff; os.Exit when nil.
func NewSelfUpdateCoordinator(
	resolver domain.VersionResolver,
	fetcher domain.ArtifactFetcher,
	handoff domain.HandoffLauncher,
	config SelfUpdateConfig,
	exit func(int),
	logger *zap.Logger,
) *SelfUpdateCoordinator {
	if config.InstallDir == "" && config.Executable != "" {
		config.InstallDir = filepath.Dir(config.Executable)
	}
	if config.StagingDir == "" {
		config.StagingDir = os.TempDir()
	}
	if config.HandoffDelay <= 0 {
		config.HandoffDelay = 2 * time.Second
	}
	if config.ExitDelay <= 0 {
		config.ExitDelay = 500 * time.Millisecond
	}
	if exit == nil {
		exit = os.Exit
	}
	return &SelfUpdateCoordinator{
		resolver: resolver,
		fetcher:  fetcher,
		handoff:  handoff,
		config:   config,
		logger:   logger,
		exit:     exit,
	}
}

// Check compares the running version with the manifest. A development build,
// whose version does not parse, never has an update available.
func (u *SelfUpdateCoordinator) Check(ctx context.Context) (*domain.UpdateCheck, error) {
	check := &domain.UpdateCheck{CurrentVersion: u.config.CurrentVersion}

	if _, err := u.resolver.CompareVersions(u.config.CurrentVersion, u.config.CurrentVersion); err != nil {
		u.logger.Info("development build, skipping update check",
			zap.String("version", u.config.CurrentVersion))
		return check, nil
	}

	rec, err := u.resolver.FetchVersion(ctx, u.config.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("check launcher update: %w", err)
	}
	cmp, err := u.resolver.CompareVersions(rec.Version, u.config.CurrentVersion)
	if err != nil {
		return nil, fmt.Errorf("check launcher update: %w", err)
	}

	check.LatestVersion = rec.Version
	check.Available = cmp > 0
	check.ReleaseNotes = rec.ReleaseNotes
	check.DownloadURL = rec.DownloadURL
	if check.DownloadURL == "" {
		check.DownloadURL = u.config.FallbackPackageURL
	}
	return check, nil
}

// Apply downloads the update and hands off to the install script, then exits
// the process after ExitDelay. Every failure wraps ErrUpdateFailed and leaves
// the coordinator ready for a retry.
func (u *SelfUpdateCoordinator) Apply(ctx context.Context, check *domain.UpdateCheck, onProgress domain.ProgressFunc) error {
	if check == nil || !check.Available {
		return nil
	}
	if !u.applying.CompareAndSwap(false, true) {
		return domain.ErrUpdateInProgress
	}
	handedOff := false
	defer func() {
		if !handedOff {
			u.applying.Store(false)
		}
	}()

	if check.DownloadURL == "" {
		return fmt.Errorf("%w: no download url for %s", domain.ErrUpdateFailed, check.LatestVersion)
	}

	staging := filepath.Join(u.config.StagingDir, "robbob-update-"+uuid.NewString())
	pkg := filepath.Join(staging, packageName(check.DownloadURL))

	u.logger.Info("downloading launcher update",
		zap.String("from", check.CurrentVersion),
		zap.String("to", check.LatestVersion))

	if err := u.fetcher.Download(ctx, check.DownloadURL, pkg, onProgress); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("%w: %w", domain.ErrUpdateFailed, err)
	}

	script, err := u.handoff.Stage(staging, domain.HandoffScript{
		PackagePath: pkg,
		InstallDir:  u.config.InstallDir,
		Executable:  u.config.Executable,
		Args:        u.config.Args,
		Delay:       u.config.HandoffDelay,
	})
	if err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("%w: %w", domain.ErrUpdateFailed, err)
	}
	if err := u.handoff.Launch(script); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("%w: %w", domain.ErrUpdateFailed, err)
	}

	handedOff = true
	u.logger.Info("update handed off, exiting", zap.Duration("delay", u.config.ExitDelay))
	time.AfterFunc(u.config.ExitDelay, func() { u.exit(0) })
	return nil
}

// Run checks for an update and applies it. An unreachable update server is
// not an error: the launcher keeps running its current version.
func (u *SelfUpdateCoordinator) Run(ctx context.Context, onProgress domain.ProgressFunc) (bool, error) {
	check, err := u.Check(ctx)
	if err != nil {
		u.logger.Warn("update check failed, continuing", zap.Error(err))
		return false, nil
	}
	if !check.Available {
		return false, nil
	}
	if err := u.Apply(ctx, check, onProgress); err != nil {
		return false, err
	}
	return true, nil
}

// packageName keeps the archive suffix of the download URL so the install
// script can pick the right unpacker.
func packageName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		base := path.Base(u.Path)
		lower := strings.ToLower(base)
		if strings.HasSuffix(lower, ".zip") || strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") {
			return base
		}
	}
	return "update.zip"
}
