package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/robbob/launcher/internal/config"
	"github.com/robbob/launcher/internal/domain"
	"github.com/robbob/launcher/internal/infra"
	"github.com/robbob/launcher/internal/launcher"
	"github.com/robbob/launcher/internal/logging"
	"github.com/robbob/launcher/internal/mode"
	"github.com/robbob/launcher/internal/provider"
	"github.com/robbob/launcher/internal/usecase"
)

// app holds every wired component for one CLI invocation.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	state      *infra.StateRepository
	watchFiles []string
	closers    []io.Closer

	modes      *mode.Registry
	gate       *usecase.AccessGate
	supervisor *usecase.ProcessSupervisor
	installer  *usecase.HelperInstaller
	updater    *usecase.SelfUpdateCoordinator
	launcher   *launcher.Launcher
}

// newApp loads configuration and wires the launcher. console mirrors the log
// to stderr.
func newApp(console bool, hooks launcher.Hooks) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging, console)

	a := &app{cfg: cfg, logger: logger, modes: mode.NewRegistry()}
	if err := a.openState(); err != nil {
		a.Close()
		return nil, err
	}

	httpOpts := infra.HTTPOptions{
		Timeout:      cfg.HTTP.Timeout,
		MaxRedirects: cfg.HTTP.MaxRedirects,
		UserAgent:    cfg.HTTP.UserAgent,
	}
	resolver := infra.NewVersionResolver(httpOpts, logger)
	fetcher := infra.NewFetcher(httpOpts, cfg.HTTP.DownloadTimeout, logger)
	fs := infra.NewFileSystemManager()
	installDir := fs.ExpandHome(cfg.Helper.InstallDir)
	layout := cfg.Helper.Layout()

	a.gate = usecase.NewAccessGate(
		infra.NewSubscriptionClient(cfg.Subscription.APIURL, cfg.Subscription.RequestTimeout, httpOpts, logger),
		a.state,
		usecase.GateConfig{
			FirstCheckDelay: cfg.Subscription.FirstCheckDelay,
			CheckInterval:   cfg.Subscription.CheckInterval,
		},
		logger,
	)

	a.supervisor = usecase.NewProcessSupervisor(
		a.gate,
		a.modes,
		infra.NewProcessManager(),
		fs,
		infra.NewExecSpawner(logger),
		usecase.SupervisorConfig{
			InstallDir:  installDir,
			Layout:      layout,
			SettleDelay: cfg.Helper.SettleDelay,
			StopTimeout: cfg.Helper.StopTimeout,
		},
		logger,
	)

	var releases domain.ReleaseSource
	if cfg.Helper.ReleaseURL != "" {
		releases = infra.NewReleaseSource(cfg.Helper.ReleaseURL, httpOpts, logger)
	}
	a.installer = usecase.NewHelperInstaller(
		resolver,
		fetcher,
		releases,
		infra.NewVersionFile(installDir),
		fs,
		usecase.InstallerConfig{
			InstallDir:  installDir,
			Layout:      layout,
			ManifestURL: cfg.Helper.ManifestURL,
			AssetName:   cfg.Helper.AssetName,
		},
		logger,
	)

	executable, err := os.Executable()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	relaunch := []string{"run"}
	if configPath != "" {
		relaunch = append(relaunch, "--config", configPath)
	}
	a.updater = usecase.NewSelfUpdateCoordinator(
		resolver,
		fetcher,
		infra.NewScriptHandoff(logger),
		usecase.SelfUpdateConfig{
			ManifestURL:        cfg.Launcher.VersionURL,
			FallbackPackageURL: cfg.Launcher.DownloadURL,
			CurrentVersion:     Version,
			Executable:         executable,
			Args:               relaunch,
			HandoffDelay:       cfg.Launcher.ScriptDelay,
			ExitDelay:          cfg.Launcher.ExitDelay,
		},
		nil,
		logger,
	)

	detector := provider.NewDetector(
		infra.NewIPInfoClient(cfg.Provider.IPInfoURL, cfg.Provider.Timeout, httpOpts, logger),
		provider.NewRegistry(),
		logger,
	)

	var updater launcher.Updater = a.updater
	if term.IsTerminal(int(os.Stdin.Fd())) {
		updater = &promptingUpdater{updater: a.updater, in: os.Stdin, out: os.Stdout}
	}
	a.launcher = launcher.New(
		a.gate,
		a.supervisor,
		a.installer,
		updater,
		detector,
		a.state,
		a.modes,
		launcher.Config{RestartDelay: cfg.Launcher.RestartDelay},
		hooks,
		logger,
	)
	return a, nil
}

// openState opens the settings file and, when enabled, the encrypted
// subscription database next to it.
func (a *app) openState() error {
	dataDir := infra.NewFileSystemManager().ExpandHome(a.cfg.Storage.DataDir)

	settings, err := infra.NewFileStore(filepath.Join(dataDir, infra.StateFileName))
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	a.closers = append(a.closers, settings)
	a.watchFiles = append(a.watchFiles, filepath.Base(settings.Path()))

	var subscription domain.StateStore
	if a.cfg.Storage.EncryptSubscription {
		secure, err := infra.OpenSubscriptionBackend(dataDir)
		if err != nil {
			return fmt.Errorf("open subscription store: %w", err)
		}
		a.closers = append(a.closers, secure)
		a.watchFiles = append(a.watchFiles, filepath.Base(secure.Path()))
		subscription = secure
	}

	a.state = infra.NewStateRepository(settings, subscription, a.cfg.Helper.DefaultMode)
	return nil
}

// initGate loads the subscription for commands that run outside the
// launcher's lifecycle.
func (a *app) initGate() {
	if err := a.gate.Init(nil); err != nil {
		a.logger.Warn("failed to load subscription", zap.Error(err))
	}
}

// watch returns a channel that fires when another invocation changes the
// settings or subscription.
func (a *app) watch(ctx context.Context) <-chan struct{} {
	dir := infra.NewFileSystemManager().ExpandHome(a.cfg.Storage.DataDir)
	events, err := infra.WatchDir(ctx, dir, a.watchFiles, 0, a.logger)
	if err != nil {
		a.logger.Warn("settings watcher unavailable, external changes apply on restart", zap.Error(err))
		return nil
	}
	return events
}

// Close releases stores and flushes the log.
func (a *app) Close() {
	if a.gate != nil {
		a.gate.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
