// Package launcher wires the access gate, helper supervisor, installer and
// self-updater into the launcher's lifecycle.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/robbob/launcher/internal/domain"
)

// AccessGate is the subscription gate as the launcher uses it.
type AccessGate interface {
	domain.AccessChecker
	Init(onRevoked func()) error
	VerifyCode(ctx context.Context, code string) domain.VerifyResult
	Status() domain.GateStatus
	Refresh(ctx context.Context) error
	Reset() error
	Reload() error
	Close()
}

// Supervisor owns the helper process.
type Supervisor interface {
	Start(ctx context.Context, mode string) (domain.HelperStatus, error)
	Stop() error
	Status() domain.HelperStatus
	IsRunning() (bool, error)
	CheckComponents() []string
}

// Installer keeps the helper package installed.
type Installer interface {
	Ensure(ctx context.Context, onProgress domain.ProgressFunc) (domain.InstallationState, error)
	State() (domain.InstallationState, error)
}

// Updater replaces the launcher with a newer release.
type Updater interface {
	Run(ctx context.Context, onProgress domain.ProgressFunc) (bool, error)
}

// Config holds launcher timing.
type Config struct {
	RestartDelay time.Duration // pause between stopping and restarting the helper
}

// DefaultConfig returns default launcher configuration.
func DefaultConfig() Config {
	return Config{RestartDelay: time.Second}
}

// Hooks receive progress and events for display. Any field may be nil.
type Hooks struct {
	UpdateProgress  domain.ProgressFunc
	InstallProgress domain.ProgressFunc
	Revoked         func()
}

// Status is a snapshot of everything the launcher knows.
type Status struct {
	Helper           domain.HelperStatus           `json:"helper"`
	ProcessRunning   bool                          `json:"process_running"`
	Gate             domain.GateStatus             `json:"gate"`
	Settings         domain.Settings               `json:"settings"`
	Provider         domain.ProviderRecommendation `json:"provider"`
	ProviderDetected bool                          `json:"provider_detected"`
	Installation     domain.InstallationState      `json:"installation"`
	Missing          []string                      `json:"missing,omitempty"`
}

// Launcher runs the startup sequence and applies settings changes.
//
// Setting changes made through a Launcher that is not inside Run are only
// persisted; the instance that is running picks them up via WatchSettings.
type Launcher struct {
	gate       AccessGate
	supervisor Supervisor
	installer  Installer
	updater    Updater
	detector   domain.ProviderDetector
	settings   domain.SettingsStore
	modes      domain.ModeResolver
	config     Config
	hooks      Hooks
	logger     *zap.Logger

	mu      sync.Mutex // serializes settings changes
	applied domain.Settings
	running atomic.Bool
}

// New creates a launcher.
func New(
	gate AccessGate,
	supervisor Supervisor,
	installer Installer,
	updater Updater,
	detector domain.ProviderDetector,
	settings domain.SettingsStore,
	modes domain.ModeResolver,
	config Config,
	hooks Hooks,
	logger *zap.Logger,
) *Launcher {
	if config.RestartDelay <= 0 {
		config.RestartDelay = DefaultConfig().RestartDelay
	}
	return &Launcher{
		gate:       gate,
		supervisor: supervisor,
		installer:  installer,
		updater:    updater,
		detector:   detector,
		settings:   settings,
		modes:      modes,
		config:     config,
		hooks:      hooks,
		logger:     logger,
	}
}

// Run performs the startup sequence and then applies settings events until
// ctx is canceled. It returns domain.ErrHandedOff when a self-update took
// over; the process is about to exit in that case. Shutdown always stops the
// helper and closes the gate.
func (l *Launcher) Run(ctx context.Context, events <-chan struct{}) (err error) {
	l.logger.Info("launcher starting")

	if err := l.supervisor.Stop(); err != nil {
		l.logger.Warn("failed to kill orphaned helpers", zap.Error(err))
	}

	handedOff, err := l.updater.Run(ctx, l.hooks.UpdateProgress)
	if err != nil {
		return err
	}
	if handedOff {
		return domain.ErrHandedOff
	}

	if err := l.gate.Init(l.onRevoked); err != nil {
		l.logger.Warn("failed to load subscription, verification required", zap.Error(err))
	}
	defer func() {
		l.running.Store(false)
		if shutdownErr := l.shutdown(); shutdownErr != nil {
			if err == nil {
				err = shutdownErr
			} else {
				l.logger.Error("shutdown failed", zap.Error(shutdownErr))
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state, err := l.installer.Ensure(gctx, l.hooks.InstallProgress)
		if err != nil {
			return fmt.Errorf("install helper: %w", err)
		}
		l.logger.Info("helper ready", zap.String("version", state.InstalledVersion))
		return nil
	})
	// detection waits for access; a code verified during install is
	// handled by the start below
	detecting := l.gate.CanActivate()
	if detecting {
		g.Go(func() error {
			if _, err := l.detectProvider(gctx, false); err != nil {
				l.logger.Warn("provider detection failed, using default mode", zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	l.mu.Lock()
	l.running.Store(true)
	if err := l.startIfAllowedLocked(ctx, !detecting); err != nil {
		l.logger.Error("helper did not start", zap.Error(err))
	}
	l.mu.Unlock()

	l.logger.Info("launcher running")
	return l.WatchSettings(ctx, events)
}

func (l *Launcher) shutdown() error {
	var result *multierror.Error
	if err := l.supervisor.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop helper: %w", err))
	}
	l.gate.Close()
	l.logger.Info("launcher stopped")
	return result.ErrorOrNil()
}

// onRevoked runs on the gate's goroutine after a confirmed revocation.
func (l *Launcher) onRevoked() {
	l.logger.Warn("access revoked, stopping helper")
	if err := l.supervisor.Stop(); err != nil {
		l.logger.Error("failed to stop helper after revocation", zap.Error(err))
	}
	if l.hooks.Revoked != nil {
		l.hooks.Revoked()
	}
}

// WatchSettings applies settings and subscription changes made by other
// processes each time events fires. It blocks until ctx is canceled; a nil
// or closed channel just waits.
func (l *Launcher) WatchSettings(ctx context.Context, events <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			l.applyExternalChanges(ctx)
		}
	}
}

func (l *Launcher) applyExternalChanges(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	wasAllowed := l.gate.CanActivate()
	if err := l.gate.Reload(); err != nil {
		l.logger.Warn("failed to reload subscription", zap.Error(err))
	}
	allowed := l.gate.CanActivate()

	s, err := l.settings.LoadSettings()
	if err != nil {
		l.logger.Warn("failed to reload settings", zap.Error(err))
		return
	}
	prev := l.applied
	l.applied = s

	if !l.running.Load() {
		return
	}
	running := l.supervisor.Status().State.Running()

	changed := !wasAllowed || prev.Enabled != s.Enabled || prev.Mode != s.Mode

	switch {
	case !allowed || !s.Enabled:
		if running {
			l.logger.Info("settings changed, stopping helper",
				zap.Bool("enabled", s.Enabled),
				zap.Bool("authorized", allowed))
			if err := l.supervisor.Stop(); err != nil {
				l.logger.Error("failed to stop helper", zap.Error(err))
			}
		}
	case changed:
		if !wasAllowed {
			l.recommendLocked(ctx, &s)
		}
		l.logger.Info("settings changed, restarting helper", zap.String("mode", s.Mode))
		if err := l.restartLocked(ctx, s.Mode); err != nil {
			l.logger.Error("helper restart failed", zap.Error(err))
		}
	}
}

// SetEnabled persists the enabled flag and applies it to a running launcher.
func (l *Launcher) SetEnabled(ctx context.Context, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := l.settings.LoadSettings()
	if err != nil {
		return err
	}
	s.Enabled = enabled
	if err := l.settings.SaveSettings(s); err != nil {
		return err
	}
	l.applied = s
	l.logger.Info("helper enabled changed", zap.Bool("enabled", enabled))

	if !l.running.Load() {
		return nil
	}
	if !enabled {
		return l.supervisor.Stop()
	}
	return l.restartLocked(ctx, s.Mode)
}

// SetMode validates and persists mode and restarts an enabled helper with it.
func (l *Launcher) SetMode(ctx context.Context, mode string) error {
	if !l.modes.Has(mode) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownMode, mode)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setModeLocked(ctx, mode)
}

func (l *Launcher) setModeLocked(ctx context.Context, mode string) error {
	s, err := l.settings.LoadSettings()
	if err != nil {
		return err
	}
	s.Mode = mode
	if err := l.settings.SaveSettings(s); err != nil {
		return err
	}
	l.applied = s
	l.logger.Info("helper mode changed", zap.String("mode", mode))

	if !l.running.Load() || !s.Enabled {
		return nil
	}
	return l.restartLocked(ctx, mode)
}

// restartLocked stops the helper, waits RestartDelay and starts it again
// when the user is authorized.
func (l *Launcher) restartLocked(ctx context.Context, mode string) error {
	if err := l.supervisor.Stop(); err != nil {
		l.logger.Warn("failed to stop helper before restart", zap.Error(err))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.config.RestartDelay):
	}

	if !l.gate.CanActivate() {
		return domain.ErrAccessDenied
	}
	_, err := l.supervisor.Start(ctx, mode)
	return err
}

// startIfAllowedLocked starts the helper when it is enabled and the user is
// authorized. With recommend set the provider recommendation is resolved
// first, for users who became authorized after startup.
func (l *Launcher) startIfAllowedLocked(ctx context.Context, recommend bool) error {
	s, err := l.settings.LoadSettings()
	if err != nil {
		return err
	}
	l.applied = s

	if !s.Enabled {
		l.logger.Info("helper disabled, not starting")
		return nil
	}
	if !l.gate.CanActivate() {
		l.logger.Info("verification required before the helper can start")
		return nil
	}
	if recommend {
		l.recommendLocked(ctx, &s)
	}
	_, err = l.supervisor.Start(ctx, s.Mode)
	return err
}

// VerifyCode verifies a subscription code and, in a running launcher, starts
// the helper when it is enabled.
func (l *Launcher) VerifyCode(ctx context.Context, code string) domain.VerifyResult {
	res := l.gate.VerifyCode(ctx, code)
	if !res.Success || !l.running.Load() {
		return res
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.startIfAllowedLocked(ctx, true); err != nil {
		l.logger.Error("helper did not start after verification", zap.Error(err))
	}
	return res
}

// ResetVerification forgets the verified user and stops the helper.
func (l *Launcher) ResetVerification() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result *multierror.Error
	if err := l.gate.Reset(); err != nil {
		result = multierror.Append(result, err)
	}
	if l.running.Load() {
		if err := l.supervisor.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// RefreshSubscription re-checks the subscription now.
func (l *Launcher) RefreshSubscription(ctx context.Context) error {
	return l.gate.Refresh(ctx)
}

// DetectProvider returns the mode recommendation for the current network.
// Unless force is set a cached result is reused. An auto-detected provider
// also becomes the stored mode.
func (l *Launcher) DetectProvider(ctx context.Context, force bool) (domain.ProviderRecommendation, error) {
	return l.detectProvider(ctx, force)
}

func (l *Launcher) detectProvider(ctx context.Context, force bool) (domain.ProviderRecommendation, error) {
	rec, fresh, err := l.lookupProvider(ctx, force)
	if err != nil || !fresh || !rec.AutoDetected {
		return rec, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.settings.LoadSettings()
	if err != nil {
		return rec, err
	}
	if s.Mode == rec.Mode {
		return rec, nil
	}
	return rec, l.setModeLocked(ctx, rec.Mode)
}

// lookupProvider returns the cached recommendation, or asks the detector and
// caches a successful answer. fresh reports a new detection.
func (l *Launcher) lookupProvider(ctx context.Context, force bool) (domain.ProviderRecommendation, bool, error) {
	if !force {
		rec, detected, err := l.settings.ProviderCache()
		if err != nil {
			l.logger.Warn("failed to read provider cache", zap.Error(err))
		} else if detected {
			return rec, false, nil
		}
	}

	rec, err := l.detector.Recommend(ctx)
	if err != nil {
		// not cached, so the next start tries again
		return rec, false, err
	}
	if err := l.settings.SaveProviderCache(rec); err != nil {
		return rec, false, err
	}
	l.logger.Info("provider detected",
		zap.String("provider", rec.ProviderID),
		zap.String("mode", rec.Mode),
		zap.Bool("auto", rec.AutoDetected))
	return rec, true, nil
}

// recommendLocked resolves the provider recommendation and stores a freshly
// auto-detected mode in s. It never restarts the helper; the caller starts it
// with s.Mode.
func (l *Launcher) recommendLocked(ctx context.Context, s *domain.Settings) {
	rec, fresh, err := l.lookupProvider(ctx, false)
	if err != nil {
		l.logger.Warn("provider detection failed, keeping stored mode", zap.Error(err))
		return
	}
	if !fresh || !rec.AutoDetected || rec.Mode == s.Mode {
		return
	}
	s.Mode = rec.Mode
	if err := l.settings.SaveSettings(*s); err != nil {
		l.logger.Warn("failed to save recommended mode", zap.Error(err))
		return
	}
	l.applied = *s
	l.logger.Info("helper mode set from provider", zap.String("mode", s.Mode))
}

// ResetProviderDetection forgets the cached recommendation so the next
// startup or DetectProvider call asks the network again. The stored mode is
// left as it is.
func (l *Launcher) ResetProviderDetection() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.settings.ClearProviderCache(); err != nil {
		return fmt.Errorf("reset provider detection: %w", err)
	}
	l.logger.Info("provider detection reset")
	return nil
}

// Status collects a snapshot. Partial failures are logged and leave the
// affected fields zero.
func (l *Launcher) Status() (Status, error) {
	st := Status{
		Helper:  l.supervisor.Status(),
		Gate:    l.gate.Status(),
		Missing: l.supervisor.CheckComponents(),
	}

	var result *multierror.Error
	var err error
	if st.ProcessRunning, err = l.supervisor.IsRunning(); err != nil {
		result = multierror.Append(result, err)
	}
	if st.Settings, err = l.settings.LoadSettings(); err != nil {
		result = multierror.Append(result, err)
	}
	if st.Provider, st.ProviderDetected, err = l.settings.ProviderCache(); err != nil {
		result = multierror.Append(result, err)
	}
	if st.Installation, err = l.installer.State(); err != nil {
		result = multierror.Append(result, err)
	}
	return st, result.ErrorOrNil()
}

// IsHandedOff reports whether err means a self-update took over.
func IsHandedOff(err error) bool {
	return errors.Is(err, domain.ErrHandedOff)
}
