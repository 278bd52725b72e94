//go:build !linux && !windows

package infra

import (
	"errors"
	"os"
	"os/exec"
)

// No parent-death binding on this platform; the launcher's shutdown path
// kills the helper explicitly.
func configureHelperCmd(_ *exec.Cmd) {}

func bindToLifetime(_ *exec.Cmd) (func() error, error) {
	return func() error { return nil }, nil
}

func isElevationError(err error) bool {
	return errors.Is(err, os.ErrPermission)
}
