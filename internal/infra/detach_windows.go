//go:build windows

package infra

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// startDetached runs a batch script outside the launcher's console and
// process group, with no window.
func startDetached(scriptPath string) (int, error) {
	cmd := exec.Command("cmd.exe", "/c", scriptPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.DETACHED_PROCESS | windows.CREATE_NEW_PROCESS_GROUP,
	}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	return pid, cmd.Process.Release()
}
