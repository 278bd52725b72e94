package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

// DefaultHelperAsset is the release asset holding the helper package.
const DefaultHelperAsset = "bypass.zip"

// InstallerConfig locates the helper package and its install dir.
type InstallerConfig struct {
	InstallDir  string
	Layout      domain.HelperLayout
	ManifestURL string
	AssetName   string
	StagingDir  string // parent of per-install download dirs, os.TempDir() when empty
}

// HelperInstaller keeps the helper package installed and current.
type HelperInstaller struct {
	resolver domain.VersionResolver
	fetcher  domain.ArtifactFetcher
	releases domain.ReleaseSource // optional
	store    domain.InstallationStore
	fs       domain.FileSystemManager
	config   InstallerConfig
	logger   *zap.Logger
}

// NewHelperInstaller creates an installer. releases may be nil when the
// manifest always carries a download URL.
func NewHelperInstaller(
	resolver domain.VersionResolver,
	fetcher domain.ArtifactFetcher,
	releases domain.ReleaseSource,
	store domain.InstallationStore,
	fs domain.FileSystemManager,
	config InstallerConfig,
	logger *zap.Logger,
) *HelperInstaller {
	if config.Layout.Executable == "" {
		config.Layout = domain.DefaultHelperLayout()
	}
	if config.AssetName == "" {
		config.AssetName = DefaultHelperAsset
	}
	if config.StagingDir == "" {
		config.StagingDir = os.TempDir()
	}
	return &HelperInstaller{
		resolver: resolver,
		fetcher:  fetcher,
		releases: releases,
		store:    store,
		fs:       fs,
		config:   config,
		logger:   logger,
	}
}

// State returns the recorded installation.
func (i *HelperInstaller) State() (domain.InstallationState, error) {
	return i.store.Load()
}

// Missing returns the base names of required helper files that are absent.
func (i *HelperInstaller) Missing() []string {
	return i.fs.MissingFiles(i.config.Layout.RequiredFiles(i.config.InstallDir))
}

// Ensure installs the helper when it is absent or incomplete and updates it
// when the server publishes a different version. An unreachable server is
// tolerated as long as a complete installation exists.
func (i *HelperInstaller) Ensure(ctx context.Context, onProgress domain.ProgressFunc) (domain.InstallationState, error) {
	state, err := i.store.Load()
	if err != nil {
		return state, err
	}
	complete := state.Installed() && len(i.Missing()) == 0

	remote, err := i.resolver.FetchVersion(ctx, i.config.ManifestURL)
	if err != nil {
		if complete {
			i.logger.Warn("helper manifest unavailable, using installed helper",
				zap.String("version", state.InstalledVersion),
				zap.Error(err))
			return state, nil
		}
		if errors.Is(err, domain.ErrNetwork) || errors.Is(err, domain.ErrTimeout) {
			return state, fmt.Errorf("helper not installed: %w", err)
		}
		return state, fmt.Errorf("%w: helper not installed: %w", domain.ErrNetwork, err)
	}

	if complete && !i.differs(state.InstalledVersion, remote.Version) {
		i.logger.Debug("helper up to date", zap.String("version", state.InstalledVersion))
		return state, nil
	}

	i.logger.Info("installing helper",
		zap.String("installed", state.InstalledVersion),
		zap.String("available", remote.Version),
		zap.Bool("complete", complete))

	if err := i.install(ctx, remote, onProgress); err != nil {
		if complete {
			i.logger.Warn("helper update failed, keeping installed version",
				zap.String("version", state.InstalledVersion),
				zap.Error(err))
			return state, nil
		}
		return state, err
	}

	return domain.InstallationState{InstalledVersion: remote.Version, InstallPath: i.config.InstallDir}, nil
}

func (i *HelperInstaller) install(ctx context.Context, remote *domain.VersionRecord, onProgress domain.ProgressFunc) error {
	url, err := i.downloadURL(ctx, remote)
	if err != nil {
		return err
	}

	staging := filepath.Join(i.config.StagingDir, "robbob-helper-"+uuid.NewString())
	defer func() {
		if err := i.fs.Delete(staging); err != nil {
			i.logger.Warn("failed to remove staging dir", zap.String("path", staging), zap.Error(err))
		}
	}()

	archive := filepath.Join(staging, i.config.AssetName)
	if err := i.fetcher.Download(ctx, url, archive, onProgress); err != nil {
		return fmt.Errorf("download helper: %w", err)
	}
	if err := i.fetcher.Extract(archive, i.config.InstallDir); err != nil {
		return fmt.Errorf("extract helper: %w", err)
	}

	if missing := i.Missing(); len(missing) > 0 {
		return &domain.MissingComponentsError{Files: missing}
	}
	if err := i.store.Save(remote.Version); err != nil {
		return fmt.Errorf("record helper version: %w", err)
	}

	i.logger.Info("helper installed",
		zap.String("version", remote.Version),
		zap.String("path", i.config.InstallDir))
	return nil
}

// downloadURL prefers the manifest's URL and falls back to the release asset.
func (i *HelperInstaller) downloadURL(ctx context.Context, remote *domain.VersionRecord) (string, error) {
	if remote.DownloadURL != "" {
		return remote.DownloadURL, nil
	}
	if i.releases == nil {
		return "", fmt.Errorf("%w: helper manifest has no download url", domain.ErrParse)
	}
	release, err := i.releases.LatestRelease(ctx)
	if err != nil {
		return "", fmt.Errorf("find helper release: %w", err)
	}
	asset, err := i.releases.FindAsset(release, i.config.AssetName)
	if err != nil {
		return "", err
	}
	return asset.BrowserDownloadURL, nil
}

// differs compares numerically when both versions parse, textually otherwise.
func (i *HelperInstaller) differs(installed, remote string) bool {
	cmp, err := i.resolver.CompareVersions(installed, remote)
	if err != nil {
		return strings.TrimSpace(installed) != strings.TrimSpace(remote)
	}
	return cmp != 0
}
