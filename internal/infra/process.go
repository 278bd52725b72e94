// Package infra implements infrastructure concerns (process, filesystem, HTTP, storage).
package infra

import (
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/robbob/launcher/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByName returns PIDs of processes whose name equals name (case-insensitive).
// Substring matches are deliberately excluded: the result feeds KillByName.
func (pm *ProcessManagerImpl) FindByName(name string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var found []int
	for _, p := range procs {
		pname, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		if matchesProcessName(pname, name) {
			found = append(found, int(p.Pid))
		}
	}

	return found, nil
}

// Kill force-terminates a process by PID.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// KillByName force-terminates every process with the given name.
// Processes that exit between listing and killing are not errors.
func (pm *ProcessManagerImpl) KillByName(name string) ([]int, error) {
	pids, err := pm.FindByName(name)
	if err != nil {
		return nil, err
	}

	var killed []int
	var result *multierror.Error
	for _, pid := range pids {
		if err := pm.Kill(pid); err != nil {
			if !pm.IsRunning(pid) {
				continue
			}
			result = multierror.Append(result, err)
			continue
		}
		killed = append(killed, pid)
	}
	return killed, result.ErrorOrNil()
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return false
	}
	// Killed children linger as zombies until reaped.
	if status, err := p.Status(); err == nil {
		for _, s := range status {
			if s == process.Zombie {
				return false
			}
		}
	}
	return true
}

// matchesProcessName compares OS process names. Linux truncates comm to 15
// bytes, so a longer expected name also matches its truncated prefix.
func matchesProcessName(actual, expected string) bool {
	if strings.EqualFold(actual, expected) {
		return true
	}
	const commLen = 15
	return len(expected) > commLen && len(actual) == commLen &&
		strings.EqualFold(actual, expected[:commLen])
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
