package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

// SupervisorConfig locates the helper and tunes its lifecycle timing.
type SupervisorConfig struct {
	InstallDir       string
	Layout           domain.HelperLayout
	SettleDelay      time.Duration // wait before confirming a fresh start
	StopTimeout      time.Duration // how long Stop waits for the name to vanish
	StopPollInterval time.Duration
}

// DefaultSupervisorConfig returns production timing for the helper in installDir.
func DefaultSupervisorConfig(installDir string) SupervisorConfig {
	return SupervisorConfig{
		InstallDir:       installDir,
		Layout:           domain.DefaultHelperLayout(),
		SettleDelay:      2 * time.Second,
		StopTimeout:      5 * time.Second,
		StopPollInterval: 200 * time.Millisecond,
	}
}

// ProcessSupervisor owns the helper process. Start and Stop are serialized;
// state reads never block on them.
type ProcessSupervisor struct {
	access  domain.AccessChecker
	modes   domain.ModeResolver
	pm      domain.ProcessManager
	fs      domain.FileSystemManager
	spawner domain.Spawner
	config  SupervisorConfig
	logger  *zap.Logger

	ops sync.Mutex // serializes Start and Stop

	mu        sync.Mutex
	status    domain.HelperStatus
	handle    domain.ProcessHandle
	gen       uint64
	settle    *time.Timer
	listeners []func(domain.HelperStatus)
}

// NewProcessSupervisor creates a supervisor.
func NewProcessSupervisor(
	access domain.AccessChecker,
	modes domain.ModeResolver,
	pm domain.ProcessManager,
	fs domain.FileSystemManager,
	spawner domain.Spawner,
	config SupervisorConfig,
	logger *zap.Logger,
) *ProcessSupervisor {
	def := DefaultSupervisorConfig(config.InstallDir)
	if config.Layout.Executable == "" {
		config.Layout = def.Layout
	}
	if config.SettleDelay <= 0 {
		config.SettleDelay = def.SettleDelay
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = def.StopTimeout
	}
	if config.StopPollInterval <= 0 {
		config.StopPollInterval = def.StopPollInterval
	}
	return &ProcessSupervisor{
		access:  access,
		modes:   modes,
		pm:      pm,
		fs:      fs,
		spawner: spawner,
		config:  config,
		logger:  logger,
		status:  domain.HelperStatus{State: domain.HelperNotStarted},
	}
}

// OnStatus registers a listener for every status transition. Listeners run
// outside the state lock but may run inside Start or Stop, so they must not
// call either.
func (s *ProcessSupervisor) OnStatus(fn func(domain.HelperStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Status returns the latest status.
func (s *ProcessSupervisor) Status() domain.HelperStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CheckComponents returns the base names of missing helper files.
func (s *ProcessSupervisor) CheckComponents() []string {
	return s.fs.MissingFiles(s.config.Layout.RequiredFiles(s.config.InstallDir))
}

// IsRunning asks the OS whether any helper process is alive, including ones
// this supervisor did not start.
func (s *ProcessSupervisor) IsRunning() (bool, error) {
	pids, err := s.pm.FindByName(s.config.Layout.ProcessName())
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}
	return len(pids) > 0, nil
}

// Start launches the helper in mode (the default mode when empty). The
// returned status is provisional; the confirmed status reaches listeners
// after SettleDelay.
func (s *ProcessSupervisor) Start(ctx context.Context, mode string) (domain.HelperStatus, error) {
	s.ops.Lock()
	defer s.ops.Unlock()

	if !s.access.CanActivate() {
		st := s.Status()
		st.NeedsVerification = true
		st.Error = domain.UserMessage(domain.ErrAccessDenied)
		s.logger.Info("helper start refused, verification required")
		return st, domain.ErrAccessDenied
	}

	if mode == "" {
		mode = s.modes.Default()
	}
	if !s.modes.Has(mode) {
		return s.Status(), fmt.Errorf("%w: %s", domain.ErrUnknownMode, mode)
	}

	if missing := s.CheckComponents(); len(missing) > 0 {
		err := &domain.MissingComponentsError{Files: missing}
		st := s.transition(func(gen uint64) domain.HelperStatus {
			return domain.HelperStatus{State: domain.HelperFailed, Mode: mode, Missing: missing, Error: domain.UserMessage(err)}
		})
		s.logger.Warn("helper files missing", zap.Strings("files", missing))
		return st, err
	}

	binDir := filepath.Join(s.config.InstallDir, s.config.Layout.BinDir)
	listsDir := filepath.Join(s.config.InstallDir, s.config.Layout.ListsDir)
	args, err := s.modes.Args(mode, binDir, listsDir)
	if err != nil {
		return s.Status(), err
	}

	if err := s.killAll(); err != nil {
		s.logger.Warn("previous helper instances did not stop", zap.Error(err))
	}
	if err := ctx.Err(); err != nil {
		return s.Status(), err
	}

	s.transition(func(uint64) domain.HelperStatus {
		return domain.HelperStatus{State: domain.HelperStarting, Mode: mode}
	})

	h, err := s.spawner.Spawn(domain.SpawnSpec{
		Path: filepath.Join(binDir, s.config.Layout.Executable),
		Args: args,
		Dir:  binDir,
	})
	if err != nil {
		st := s.transition(func(uint64) domain.HelperStatus {
			return domain.HelperStatus{State: domain.HelperFailed, Mode: mode, Error: domain.UserMessage(err)}
		})
		s.logger.Error("failed to start helper", zap.String("mode", mode), zap.Error(err))
		return st, err
	}

	var gen uint64
	st := s.transition(func(g uint64) domain.HelperStatus {
		gen = g
		s.handle = h
		s.settle = time.AfterFunc(s.config.SettleDelay, func() { s.confirm(g) })
		return domain.HelperStatus{State: domain.HelperRunningUnverified, Mode: mode, PID: h.PID()}
	})
	go s.observe(h, gen)

	s.logger.Info("helper started",
		zap.String("mode", mode),
		zap.Int("pid", h.PID()),
		zap.Uint64("generation", gen))
	return st, nil
}

// Stop kills the helper and waits for every instance to disappear. Stopping
// a stopped helper is a no-op apart from the process sweep.
func (s *ProcessSupervisor) Stop() error {
	s.ops.Lock()
	defer s.ops.Unlock()

	prev := s.Status().State
	err := s.killAll()

	if prev != domain.HelperStopped && prev != domain.HelperNotStarted {
		mode := s.Status().Mode
		s.transition(func(uint64) domain.HelperStatus {
			return domain.HelperStatus{State: domain.HelperStopped, Mode: mode}
		})
		s.logger.Info("helper stopped", zap.String("mode", mode))
	}
	return err
}

// killAll kills the held handle and every process with the helper's name,
// then waits for the name to vanish from the process list.
func (s *ProcessSupervisor) killAll() error {
	var result *multierror.Error

	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.gen++
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
	s.mu.Unlock()

	if h != nil {
		if err := h.Kill(); err != nil {
			result = multierror.Append(result, fmt.Errorf("kill pid %d: %w", h.PID(), err))
		}
	}

	name := s.config.Layout.ProcessName()
	if pids, err := s.pm.KillByName(name); err != nil {
		result = multierror.Append(result, fmt.Errorf("kill %s: %w", name, err))
	} else if len(pids) > 0 {
		s.logger.Debug("killed helper processes", zap.Ints("pids", pids))
	}

	if err := s.waitGone(name); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (s *ProcessSupervisor) waitGone(name string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.StopPollInterval
	b.MaxInterval = s.config.StopPollInterval * 4
	b.MaxElapsedTime = s.config.StopTimeout

	return backoff.Retry(func() error {
		pids, err := s.pm.FindByName(name)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("list processes: %w", err))
		}
		if len(pids) == 0 {
			return nil
		}
		_, _ = s.pm.KillByName(name)
		return fmt.Errorf("%s still running: %v", name, pids)
	}, b)
}

// transition sets a new status for a fresh generation and notifies listeners.
// build runs under the lock with the new generation.
func (s *ProcessSupervisor) transition(build func(gen uint64) domain.HelperStatus) domain.HelperStatus {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	st := build(gen)
	st.Generation = gen
	st.At = time.Now()
	s.status = st
	listeners := append([]func(domain.HelperStatus){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
	return st
}

// update replaces the status of generation gen without starting a new one.
// It is a no-op when gen is stale.
func (s *ProcessSupervisor) update(gen uint64, apply func(*domain.HelperStatus) bool) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	st := s.status
	if !apply(&st) {
		s.mu.Unlock()
		return
	}
	st.At = time.Now()
	s.status = st
	listeners := append([]func(domain.HelperStatus){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}

// confirm runs SettleDelay after a start and checks the helper survived by
// looking for its name in the process list. The lookup happens before the
// status lock is taken.
func (s *ProcessSupervisor) confirm(gen uint64) {
	alive := s.aliveByName()

	s.update(gen, func(st *domain.HelperStatus) bool {
		if st.State != domain.HelperRunningUnverified {
			return false
		}
		s.settle = nil
		if s.handle != nil && alive {
			st.State = domain.HelperRunningVerified
			s.logger.Info("helper running", zap.Int("pid", st.PID))
			return true
		}
		st.State = domain.HelperFailed
		st.Error = domain.UserMessage(domain.ErrElevationRequired)
		s.logger.Warn("helper exited during startup", zap.Int("pid", st.PID))
		return true
	})
}

// aliveByName reports whether a helper process is listed. When the process
// list is unavailable it falls back to the held handle's PID.
func (s *ProcessSupervisor) aliveByName() bool {
	pids, err := s.pm.FindByName(s.config.Layout.ProcessName())
	if err == nil {
		return len(pids) > 0
	}
	s.logger.Warn("process list unavailable, checking handle", zap.Error(err))

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	return h != nil && s.pm.IsRunning(h.PID())
}

// observe waits for h to exit and clears it when it is still current.
func (s *ProcessSupervisor) observe(h domain.ProcessHandle, gen uint64) {
	waitErr := h.Wait()

	s.update(gen, func(st *domain.HelperStatus) bool {
		if s.handle != h {
			return false
		}
		s.handle = nil
		if s.settle != nil {
			s.settle.Stop()
			s.settle = nil
		}
		if st.State == domain.HelperRunningUnverified {
			st.State = domain.HelperFailed
			st.Error = domain.UserMessage(domain.ErrElevationRequired)
		} else {
			st.State = domain.HelperStopped
			st.Error = "helper exited unexpectedly"
		}
		s.logger.Warn("helper exited",
			zap.Int("pid", h.PID()),
			zap.Uint64("generation", gen),
			zap.NamedError("wait", waitErr))
		return true
	})
}
