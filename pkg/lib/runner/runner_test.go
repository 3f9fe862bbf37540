package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SanjoDeundiak/ftpd-harness/internal/fakeftpd"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/resolver"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/vsftpdconf"
)

func TestMain(m *testing.M) {
	if fakeftpd.Enabled() {
		os.Exit(fakeftpd.Main(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func testConfig(t *testing.T) *lib.Config {
	t.Helper()
	cfg, err := fakeftpd.HarnessConfig(t.TempDir())
	if err != nil {
		t.Fatalf("HarnessConfig failed: %v", err)
	}
	cfg.StopTimeout = 2 * time.Second
	return cfg
}

func newTestRunner(t *testing.T, cfg *lib.Config) *Runner {
	t.Helper()
	runner, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	t.Cleanup(func() {
		if err := runner.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return runner
}

func writeConfig(t *testing.T, lines ...string) string {
	t.Helper()
	artifact, err := vsftpdconf.Write(t.TempDir(), lines...)
	if err != nil {
		t.Fatalf("Write config failed: %v", err)
	}
	return artifact.Path
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func resolvePort(t *testing.T, runner *Runner, handle *lib.ProcessHandle) int {
	t.Helper()
	lookup, err := resolver.DefaultLookup()
	if err != nil {
		t.Fatalf("DefaultLookup failed: %v", err)
	}
	poller := resolver.NewPoller(lookup, runner.IsAlive, 20*time.Millisecond)
	port, err := poller.ResolvePort(context.Background(), handle, 5*time.Second)
	if err != nil {
		stdout, stderr, _ := runner.Output(handle)
		t.Fatalf("ResolvePort failed: %v (stdout %q, stderr %q)", err, stdout, stderr)
	}
	return port
}

func TestLaunchAndTerminate(t *testing.T) {
	runner := newTestRunner(t, testConfig(t))

	handle, err := runner.Launch(context.Background(), writeConfig(t))
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if handle.PID <= 0 || handle.ID == "" {
		t.Fatalf("unexpected handle %+v", handle)
	}
	if !runner.IsAlive(handle) {
		t.Fatalf("expected daemon to be alive after launch")
	}

	st, err := runner.Status(handle)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Status.State != lib.ProcessStateRunning {
		t.Fatalf("expected state Running, got %v", st.Status.State)
	}
	if got := st.Command.Args[len(st.Command.Args)-1]; got != handle.ConfigPath {
		t.Fatalf("expected config path as last argument, got %q", got)
	}

	if port := resolvePort(t, runner, handle); port <= 0 {
		t.Fatalf("expected a positive port, got %d", port)
	}

	if err := runner.Terminate(handle); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if runner.IsAlive(handle) {
		t.Fatalf("expected daemon to be dead after Terminate")
	}

	st, err = runner.Status(handle)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Status.State != lib.ProcessStateStopped {
		t.Fatalf("expected state Stopped, got %v", st.Status.State)
	}
	if st.Status.ExitCode == nil || st.Status.EndTime == nil {
		t.Fatalf("expected exit code and end time after Terminate")
	}

	// Terminating a dead daemon is a no-op.
	if err := runner.Terminate(handle); err != nil {
		t.Fatalf("second Terminate failed: %v", err)
	}
}

func TestInvalidConfigExits(t *testing.T) {
	runner := newTestRunner(t, testConfig(t))

	handle, err := runner.Launch(context.Background(), writeConfig(t, "asdfs"))
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	if !waitFor(5*time.Second, func() bool { return !runner.IsAlive(handle) }) {
		t.Fatalf("expected daemon with an invalid config to exit")
	}

	_, stderr, err := runner.Output(handle)
	if err != nil {
		t.Fatalf("Output failed: %v", err)
	}
	if !strings.Contains(stderr, "500 OOPS") {
		t.Fatalf("expected vsftpd style failure on stderr, got %q", stderr)
	}

	st, err := runner.Status(handle)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Status.ExitCode == nil || *st.Status.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %v", st.Status.ExitCode)
	}

	if err := runner.Terminate(handle); err != nil {
		t.Fatalf("Terminate of an exited daemon failed: %v", err)
	}
}

func TestConcurrentDaemonsGetDistinctPorts(t *testing.T) {
	runner := newTestRunner(t, testConfig(t))

	first, err := runner.Launch(context.Background(), writeConfig(t))
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	second, err := runner.Launch(context.Background(), writeConfig(t))
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if first.ID == second.ID || first.PID == second.PID {
		t.Fatalf("expected distinct handles, got %+v and %+v", first, second)
	}

	firstPort := resolvePort(t, runner, first)
	secondPort := resolvePort(t, runner, second)
	if firstPort == secondPort {
		t.Fatalf("expected distinct ports, both got %d", firstPort)
	}
}

func TestLaunchInvalidCommand(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon = filepath.Join(t.TempDir(), "no-such-daemon")
	runner := newTestRunner(t, cfg)

	_, err := runner.Launch(context.Background(), writeConfig(t))
	if !errors.Is(err, lib.ErrLaunchFailure) {
		t.Fatalf("expected ErrLaunchFailure, got %v", err)
	}
}

func TestLaunchRequiresConfigPath(t *testing.T) {
	runner := newTestRunner(t, testConfig(t))

	if _, err := runner.Launch(context.Background(), ""); !errors.Is(err, lib.ErrLaunchFailure) {
		t.Fatalf("expected ErrLaunchFailure, got %v", err)
	}
}

func TestIsAliveWithoutRunnerEntry(t *testing.T) {
	runner := newTestRunner(t, testConfig(t))

	self := &lib.ProcessHandle{ID: "foreign", PID: os.Getpid()}
	if !runner.IsAlive(self) {
		t.Fatalf("expected own process to be alive")
	}
	if runner.IsAlive(nil) {
		t.Fatalf("expected nil handle to be dead")
	}
	if runner.IsAlive(&lib.ProcessHandle{ID: "zero"}) {
		t.Fatalf("expected PID 0 to be dead")
	}
	if err := runner.Terminate(nil); !errors.Is(err, lib.ErrNilHandle) {
		t.Fatalf("expected ErrNilHandle, got %v", err)
	}
}

func TestCloseTerminatesDaemons(t *testing.T) {
	runner, err := NewRunner(testConfig(t))
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	handle, err := runner.Launch(context.Background(), writeConfig(t))
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	if err := runner.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if runner.IsAlive(handle) {
		t.Fatalf("expected daemon to be dead after Close")
	}
	if _, err := os.Stat(runner.baseDir); !os.IsNotExist(err) {
		t.Fatalf("expected working directory to be removed, got %v", err)
	}
}

func TestCheckSyntax(t *testing.T) {
	runner := newTestRunner(t, testConfig(t))

	tests := []struct {
		name     string
		lines    []string
		valid    bool
		timedOut bool
	}{
		{name: "invalid line", lines: []string{"invalidline"}, valid: false},
		{name: "unknown directive", lines: []string{"no_such_directive=YES"}, valid: false},
		{name: "listen_ipv6 off", lines: []string{"listen_ipv6=NO"}, valid: true, timedOut: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := runner.CheckSyntax(context.Background(), writeConfig(t, tt.lines...))
			if err != nil {
				t.Fatalf("CheckSyntax failed: %v", err)
			}
			if result.Valid() != tt.valid {
				t.Fatalf("expected valid=%v, got %+v", tt.valid, result)
			}
			if result.TimedOut != tt.timedOut {
				t.Fatalf("expected timedOut=%v, got %+v", tt.timedOut, result)
			}
			if tt.timedOut && result.ExitCode != TimeoutExitCode {
				t.Fatalf("expected exit code %d on timeout, got %d", TimeoutExitCode, result.ExitCode)
			}
		})
	}
}

func TestCheckSyntaxCancelled(t *testing.T) {
	runner := newTestRunner(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := runner.CheckSyntax(ctx, writeConfig(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReleaseForgetsReapedDaemon(t *testing.T) {
	runner := newTestRunner(t, testConfig(t))

	handle, err := runner.Launch(context.Background(), writeConfig(t))
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if err := runner.Release(handle); !errors.Is(err, ErrStillRunning) {
		t.Fatalf("expected ErrStillRunning for a live daemon, got %v", err)
	}

	if err := runner.Terminate(handle); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if err := runner.Release(handle); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := runner.Release(handle); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}

	runner.mu.RLock()
	entries := len(runner.processes)
	runner.mu.RUnlock()
	if entries != 0 {
		t.Fatalf("expected no entries after Release, got %d", entries)
	}
	if _, err := runner.Status(handle); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist from Status, got %v", err)
	}
	if err := runner.Terminate(handle); err != nil {
		t.Fatalf("Terminate of a released daemon failed: %v", err)
	}
	if err := runner.Release(nil); !errors.Is(err, lib.ErrNilHandle) {
		t.Fatalf("expected ErrNilHandle, got %v", err)
	}
}

// A handle the runner never launched may carry a recycled PID.
func TestTerminateLeavesForeignProcess(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("Skipping: sleep not found")
	}
	runner := newTestRunner(t, testConfig(t))

	cmd := exec.Command(sleep, "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep failed: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	foreign := &lib.ProcessHandle{ID: "foreign", PID: cmd.Process.Pid}
	if err := runner.Terminate(foreign); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if !runner.IsAlive(foreign) {
		t.Fatalf("expected the foreign process to survive Terminate")
	}
}
