//go:build linux

package infra

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureHelperCmd makes the kernel kill the helper when the launcher dies.
func configureHelperCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}

func bindToLifetime(_ *exec.Cmd) (func() error, error) {
	return func() error { return nil }, nil
}

func isElevationError(err error) bool {
	return errors.Is(err, os.ErrPermission)
}
