//go:build !windows

package infra

import (
	"fmt"
	"os"
	"syscall"
)

// startDetached runs a shell script in a new session with stdio on /dev/null.
func startDetached(scriptPath string) (int, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	attr := &syscall.ProcAttr{
		Dir:   "/",
		Env:   os.Environ(),
		Files: []uintptr{devNull.Fd(), devNull.Fd(), devNull.Fd()},
		Sys: &syscall.SysProcAttr{
			Setsid: true,
		},
	}
	return syscall.ForkExec("/bin/sh", []string{"/bin/sh", scriptPath}, attr)
}
