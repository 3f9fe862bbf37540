package runner

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

// ErrStillRunning is returned by Release for a daemon that was not reaped yet.
var ErrStillRunning = errors.New("daemon still running")

// Terminate kills the daemon with SIGKILL. A daemon that already exited is
// not an error, so Terminate is safe to call any number of times. Handles
// this runner does not know, including released ones, are left alone: their
// PID may belong to another process by now.
func (runner *Runner) Terminate(handle *lib.ProcessHandle) error {
	if handle == nil {
		return lib.ErrNilHandle
	}

	pe, err := runner.getProcess(handle.ID)
	if err != nil {
		lib.WithHandle(runner.log, handle).Debug("terminate: unknown daemon, not signalled")
		return nil
	}

	log := lib.WithHandle(runner.log, handle)
	if pe.exited() {
		log.Debug("terminate: daemon already exited")
		return nil
	}

	// Prefer cgroup kill on Linux, else kill the process group
	killed := false
	if pe.cgroup {
		killed, err = KillCgroup(handle.ID)
		if err != nil {
			log.WithError(err).Warn("cgroup kill failed, falling back to process group")
		}
	}
	if !killed {
		if err := unix.Kill(-handle.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			log.WithError(err).Debug("process group kill failed")
		}
		if err := killPID(handle.PID); err != nil {
			return err
		}
	}

	select {
	case <-pe.done:
		log.Info("daemon terminated")
	case <-time.After(runner.cfg.StopTimeout):
		log.Warn("daemon not reaped before stop timeout")
	}

	return nil
}

// Release forgets a reaped daemon together with its captured output.
// Status and Output no longer know the handle afterwards.
func (runner *Runner) Release(handle *lib.ProcessHandle) error {
	if handle == nil {
		return lib.ErrNilHandle
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()

	pe, ok := runner.processes[handle.ID]
	if !ok {
		return nil
	}
	if !pe.exited() {
		return fmt.Errorf("%w: pid %d", ErrStillRunning, handle.PID)
	}
	delete(runner.processes, handle.ID)
	_ = os.RemoveAll(pe.workDir)
	return nil
}

func killPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
