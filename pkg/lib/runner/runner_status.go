package runner

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

// StatusResult describes a daemon launched by this runner.
type StatusResult struct {
	Command *lib.Command
	Status  *lib.ProcessStatus
}

// IsAlive probes the daemon without affecting it. A missing process is
// reported as not alive, never as an error.
func (runner *Runner) IsAlive(handle *lib.ProcessHandle) bool {
	if handle == nil || handle.PID <= 0 {
		return false
	}
	if pe, err := runner.getProcess(handle.ID); err == nil && pe.exited() {
		return false
	}
	return signalZero(handle.PID)
}

// Status returns the command and status of a daemon launched by this runner.
func (runner *Runner) Status(handle *lib.ProcessHandle) (*StatusResult, error) {
	if handle == nil {
		return nil, lib.ErrNilHandle
	}
	pe, err := runner.getProcess(handle.ID)
	if err != nil {
		return nil, err
	}

	status := pe.lockAndGetStatus()
	return &StatusResult{
		Command: &pe.command,
		Status:  &status,
	}, nil
}

// Output returns what the daemon wrote to stdout and stderr so far.
func (runner *Runner) Output(handle *lib.ProcessHandle) (stdout string, stderr string, err error) {
	if handle == nil {
		return "", "", lib.ErrNilHandle
	}
	pe, err := runner.getProcess(handle.ID)
	if err != nil {
		return "", "", err
	}
	return pe.stdout.String(), pe.stderr.String(), nil
}

func (runner *Runner) getProcess(id string) (*processEntry, error) {
	runner.mu.RLock()
	pe := runner.processes[id]
	runner.mu.RUnlock()
	if pe == nil {
		return nil, os.ErrNotExist
	}
	return pe, nil
}

func (processEntry *processEntry) exited() bool {
	select {
	case <-processEntry.done:
		return true
	default:
		return false
	}
}

func (processEntry *processEntry) lockAndGetStatus() lib.ProcessStatus {
	processEntry.mu.RLock()
	defer processEntry.mu.RUnlock()

	st := lib.ProcessStatus{State: processEntry.state, StartTime: processEntry.start}
	if processEntry.exitCode != nil {
		st.ExitCode = new(int)
		*st.ExitCode = *processEntry.exitCode
	}
	if processEntry.end != nil {
		t := *processEntry.end
		st.EndTime = &t
	}
	return st
}

// signalZero is kill(pid, 0): EPERM still proves the process exists.
func signalZero(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
