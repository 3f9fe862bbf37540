package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/output_storage"
)

// CheckSyntax runs the daemon against configPath for at most the configured
// syntax-check timeout. The daemon rejecting the configuration exits on its
// own; one that is still running at the deadline accepted it and is killed.
func (runner *Runner) CheckSyntax(ctx context.Context, configPath string) (*lib.CheckResult, error) {
	if configPath == "" {
		return nil, fmt.Errorf("%w: config path is required", lib.ErrLaunchFailure)
	}

	checkCtx, cancel := context.WithTimeout(ctx, runner.cfg.SyntaxCheckTimeout)
	defer cancel()

	args := append(append([]string(nil), runner.cfg.DaemonArgs...), configPath)
	cmd := exec.CommandContext(checkCtx, runner.cfg.Daemon, args...)
	cmd.Dir = runner.baseDir
	if len(runner.cfg.DaemonEnv) > 0 {
		cmd.Env = append(cmd.Environ(), runner.cfg.DaemonEnv...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = runner.cfg.StopTimeout

	out := output_storage.New(0)
	cmd.Stdout = out
	cmd.Stderr = out

	log := runner.log.WithField(lib.FieldConfigPath, configPath)
	err := cmd.Run()

	// The caller gave up: that is not a verdict on the configuration.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := &lib.CheckResult{Output: out.String()}
	switch {
	case errors.Is(checkCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitCode = TimeoutExitCode
	case err == nil:
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			log.WithError(err).Error("syntax check could not run")
			return nil, fmt.Errorf("%w: %v", lib.ErrLaunchFailure, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	log.WithFields(logrus.Fields{
		"exit_code": result.ExitCode,
		"timed_out": result.TimedOut,
	}).Debug("syntax check finished")

	return result, nil
}
