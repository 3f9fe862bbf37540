package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"k8s.io/utils/ptr"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/output_storage"
)

// Launch starts the daemon against configPath and returns its handle without
// waiting for it to become ready. The daemon may already have exited by the
// time Launch returns; callers find out through IsAlive or port resolution.
func (runner *Runner) Launch(ctx context.Context, configPath string) (*lib.ProcessHandle, error) {
	if configPath == "" {
		return nil, fmt.Errorf("%w: config path is required", lib.ErrLaunchFailure)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", lib.ErrLaunchFailure, err)
	}

	id := lib.NewID()
	workDir := filepath.Join(runner.baseDir, id)
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", lib.ErrLaunchFailure, err)
	}

	args := append(append([]string(nil), runner.cfg.DaemonArgs...), configPath)

	sysProcAttr, err := GetSysProcAttr(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lib.ErrLaunchFailure, err)
	}

	log := runner.log.WithField(lib.FieldConfigPath, configPath)
	log.Debugf("starting %s %v", runner.cfg.Daemon, args)

	stdout := output_storage.New(0)
	stderr := output_storage.New(0)
	cmd, cgroup, err := runner.startDaemon(id, workDir, args, sysProcAttr, stdout, stderr)
	if err != nil {
		log.WithError(err).Error("failed to start daemon")
		return nil, fmt.Errorf("%w: %v", lib.ErrLaunchFailure, err)
	}

	entry := &processEntry{
		command: lib.Command{Command: runner.cfg.Daemon, Args: args},
		cmd:     cmd,
		workDir: workDir,
		cgroup:  cgroup,
		done:    make(chan struct{}),
		state:   lib.ProcessStateRunning,
		start:   time.Now(),
		stdout:  stdout,
		stderr:  stderr,
	}

	entry.handle = lib.ProcessHandle{ID: id, PID: cmd.Process.Pid, ConfigPath: configPath}

	runner.mu.Lock()
	runner.processes[id] = entry
	runner.mu.Unlock()

	go runner.reap(entry)

	handle := entry.handle
	lib.WithHandle(runner.log, &handle).Info("daemon launched")

	return &handle, nil
}

// startDaemon starts the daemon with attr. When the kernel refuses the
// cgroup placement the daemon is started again in a plain process group,
// and the returned flag reports which of the two it got.
func (runner *Runner) startDaemon(id, workDir string, args []string, attr *SysProcAttr, stdout, stderr io.Writer) (*exec.Cmd, bool, error) {
	cmd := runner.daemonCmd(workDir, args, attr, stdout, stderr)
	err := cmd.Start()
	if attr.File != nil {
		_ = attr.File.Close()
	}
	if err == nil {
		return cmd, attr.Cgroup, nil
	}
	if !attr.Cgroup {
		return nil, false, err
	}

	_ = CleanupCgroup(id)
	runner.log.WithError(err).Warn("cgroup placement refused, falling back to process group")

	// An exec.Cmd cannot be started twice.
	cmd = runner.daemonCmd(workDir, args, processGroupAttr(), stdout, stderr)
	if err := cmd.Start(); err != nil {
		return nil, false, err
	}
	return cmd, false, nil
}

func (runner *Runner) daemonCmd(workDir string, args []string, attr *SysProcAttr, stdout, stderr io.Writer) *exec.Cmd {
	// Not bound to ctx: the daemon outlives the call and is stopped by Terminate.
	cmd := exec.Command(runner.cfg.Daemon, args...)
	cmd.Dir = workDir
	if len(runner.cfg.DaemonEnv) > 0 {
		cmd.Env = append(os.Environ(), runner.cfg.DaemonEnv...)
	}
	// Daemon children may keep the output pipes open after the parent dies.
	cmd.WaitDelay = runner.cfg.StopTimeout
	cmd.SysProcAttr = attr.Raw

	// cmd.Stdin is left nil, so it will use /dev/null
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd
}

// reap waits for the child so it never lingers as a zombie that still
// answers signal 0, then records how it ended.
func (runner *Runner) reap(entry *processEntry) {
	log := lib.WithHandle(runner.log, &entry.handle)

	err := entry.cmd.Wait()

	entry.stdout.Close()
	entry.stderr.Close()

	entry.mu.Lock()
	// ProcessState is set whenever the child was reaped, including when
	// Wait reports ErrWaitDelay for pipes held open by grandchildren.
	if state := entry.cmd.ProcessState; state != nil {
		entry.exitCode = ptr.To(state.ExitCode())
	}
	entry.end = ptr.To(time.Now())
	entry.state = lib.ProcessStateStopped
	exitCode := entry.exitCode
	entry.mu.Unlock()

	close(entry.done)

	if exitCode != nil {
		log.WithField("exit_code", *exitCode).Info("daemon exited")
	} else {
		log.WithError(err).Warn("daemon exited")
	}

	if entry.cgroup {
		if err := CleanupCgroup(entry.handle.ID); err != nil {
			log.WithError(err).Debug("cgroup cleanup failed")
		}
	}
}
