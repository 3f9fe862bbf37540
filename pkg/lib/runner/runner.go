package runner

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/output_storage"
)

// TimeoutExitCode is what coreutils timeout(1) reports for a command
// still running at its deadline.
const TimeoutExitCode = 124

// Runner launches and supervises daemons. It is safe for concurrent use.
type Runner struct {
	cfg *lib.Config
	log logrus.FieldLogger

	mu        sync.RWMutex
	processes map[string]*processEntry
	baseDir   string
}

type processEntry struct {
	handle  lib.ProcessHandle
	command lib.Command
	cmd     *exec.Cmd
	workDir string
	cgroup  bool
	// closed by the reaper once the child has been waited for
	done chan struct{}

	mu       sync.RWMutex
	state    lib.ProcessState
	exitCode *int
	start    time.Time
	end      *time.Time
	stdout   *output_storage.OutputStorage
	stderr   *output_storage.OutputStorage
}

// SysProcAttr is the platform-specific process setup. File, when set, must
// stay open until the child has started.
type SysProcAttr struct {
	File   *os.File
	Raw    *syscall.SysProcAttr
	Cgroup bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger replaces the default discard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Runner) {
		r.log = logger
	}
}

// NewRunner creates a new Runner.
func NewRunner(cfg *lib.Config, opts ...Option) (*Runner, error) {
	if cfg == nil {
		cfg = lib.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseDir, err := os.MkdirTemp(cfg.WorkDir, "ftpd-harness-*")
	if err != nil {
		return nil, err
	}

	runner := &Runner{
		cfg:       cfg,
		log:       lib.DiscardLogger(),
		processes: make(map[string]*processEntry),
		baseDir:   baseDir,
	}
	for _, opt := range opts {
		opt(runner)
	}
	runner.log = runner.log.WithField(lib.FieldComponent, "runner")

	return runner, nil
}

// Close terminates every daemon still running and removes working directories.
func (runner *Runner) Close() error {
	runner.mu.RLock()
	entries := make([]*processEntry, 0, len(runner.processes))
	for _, pe := range runner.processes {
		entries = append(entries, pe)
	}
	runner.mu.RUnlock()

	var errs []error
	for _, pe := range entries {
		handle := pe.handle
		if err := runner.Terminate(&handle); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(runner.baseDir); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
