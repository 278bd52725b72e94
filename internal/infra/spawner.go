package infra

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

// ExecSpawner implements domain.Spawner with os/exec. Children get no
// standard streams, no console window, and are tied to the launcher's
// lifetime where the OS supports it (job object on Windows, parent-death
// signal on Linux).
type ExecSpawner struct {
	logger *zap.Logger
}

// NewExecSpawner creates a spawner.
func NewExecSpawner(logger *zap.Logger) *ExecSpawner {
	return &ExecSpawner{logger: logger}
}

// Spawn starts the process described by spec.
func (s *ExecSpawner) Spawn(spec domain.SpawnSpec) (domain.ProcessHandle, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	// nil streams are connected to the null device
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	configureHelperCmd(cmd)

	if err := cmd.Start(); err != nil {
		if isElevationError(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrElevationRequired, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSpawn, err)
	}

	release, err := bindToLifetime(cmd)
	if err != nil {
		// The helper still runs; explicit stop and shutdown cleanup remain.
		s.log("failed to bind helper to launcher lifetime", zap.Error(err))
		release = func() error { return nil }
	}

	h := &execHandle{cmd: cmd, release: release, done: make(chan struct{})}
	go h.reap()
	return h, nil
}

func (s *ExecSpawner) log(msg string, fields ...zap.Field) {
	if s.logger != nil {
		s.logger.Warn(msg, fields...)
	}
}

// execHandle owns a started exec.Cmd. reap is the only caller of cmd.Wait.
type execHandle struct {
	cmd     *exec.Cmd
	release func() error

	done    chan struct{}
	waitErr error
	once    sync.Once
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Kill() error {
	err := h.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (h *execHandle) Wait() error {
	<-h.done
	return h.waitErr
}

func (h *execHandle) reap() {
	h.waitErr = h.cmd.Wait()
	h.once.Do(func() { _ = h.release() })
	close(h.done)
}

// Ensure ExecSpawner implements domain.Spawner.
var _ domain.Spawner = (*ExecSpawner)(nil)
