// Package harness ties the launcher, port resolver, supervisor and probe
// together under a scoped acquire/release discipline: every daemon a
// Harness starts is terminated exactly once, whichever way the caller's
// scope ends.
package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/metrics"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/probe"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/resolver"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/runner"
)

// ProcessSupervisor launches daemons and controls their lifetime.
type ProcessSupervisor interface {
	Launch(ctx context.Context, configPath string) (*lib.ProcessHandle, error)
	IsAlive(handle *lib.ProcessHandle) bool
	Terminate(handle *lib.ProcessHandle) error
}

// SyntaxChecker asks the daemon whether it accepts a configuration.
type SyntaxChecker interface {
	CheckSyntax(ctx context.Context, configPath string) (*lib.CheckResult, error)
}

// PortResolver discovers the port a launched daemon bound to.
type PortResolver interface {
	ResolvePort(ctx context.Context, handle *lib.ProcessHandle, timeout time.Duration) (int, error)
}

// Prober drives a login on the control connection.
type Prober interface {
	AnonymousLogin(ctx context.Context, addr string) error
}

// Harness runs daemons for behaviour scenarios.
type Harness struct {
	cfg        *lib.Config
	supervisor ProcessSupervisor
	resolver   PortResolver
	checker    SyntaxChecker
	prober     Prober
	metrics    *metrics.Collector
	log        logrus.FieldLogger

	// set when the harness created its own runner
	owned *runner.Runner
}

// Option configures a Harness.
type Option func(*Harness)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(h *Harness) { h.log = logger }
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(h *Harness) { h.metrics = collector }
}

func WithResolver(r PortResolver) Option {
	return func(h *Harness) { h.resolver = r }
}

func WithSyntaxChecker(c SyntaxChecker) Option {
	return func(h *Harness) { h.checker = c }
}

func WithProber(p Prober) Option {
	return func(h *Harness) { h.prober = p }
}

// New builds a Harness around supervisor. Unless overridden, ports are
// resolved from the OS socket table, logins go through a plaintext FTP
// probe, and the supervisor doubles as syntax checker when it can.
func New(cfg *lib.Config, supervisor ProcessSupervisor, opts ...Option) (*Harness, error) {
	if cfg == nil {
		cfg = lib.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if supervisor == nil {
		return nil, fmt.Errorf("%w: a process supervisor is required", lib.ErrInvalidConfig)
	}

	h := &Harness{
		cfg:        cfg,
		supervisor: supervisor,
		log:        lib.DiscardLogger(),
	}
	if checker, ok := supervisor.(SyntaxChecker); ok {
		h.checker = checker
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.resolver == nil {
		lookup, err := resolver.DefaultLookup()
		if err != nil {
			return nil, err
		}
		h.resolver = resolver.NewPoller(lookup, supervisor.IsAlive, cfg.PollInterval, resolver.WithLogger(h.log))
	}
	if h.prober == nil {
		h.prober = probe.NewFTP(cfg.ProbeTimeout, probe.WithLogger(h.log))
	}
	h.log = h.log.WithField(lib.FieldComponent, "harness")

	return h, nil
}

// NewLocal builds a Harness over a runner of its own. Close releases it.
func NewLocal(cfg *lib.Config, opts ...Option) (*Harness, error) {
	if cfg == nil {
		cfg = lib.DefaultConfig()
	}

	// Resolve the logger first so that the runner shares it.
	scratch := &Harness{log: lib.DiscardLogger()}
	for _, opt := range opts {
		opt(scratch)
	}

	r, err := runner.NewRunner(cfg, runner.WithLogger(scratch.log))
	if err != nil {
		return nil, err
	}

	h, err := New(cfg, r, opts...)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	h.owned = r
	return h, nil
}

// Runner returns the runner created by NewLocal, or nil.
func (h *Harness) Runner() *runner.Runner {
	return h.owned
}

// Config returns the configuration the harness runs with.
func (h *Harness) Config() *lib.Config {
	return h.cfg
}

// Close terminates whatever the harness's own runner still runs.
func (h *Harness) Close() error {
	if h.owned == nil {
		return nil
	}
	return h.owned.Close()
}

// IsAlive probes the daemon behind handle.
func (h *Harness) IsAlive(handle *lib.ProcessHandle) bool {
	alive := h.supervisor.IsAlive(handle)
	h.metrics.RecordLiveness(alive)
	return alive
}

// Start launches a daemon for configPath. The returned Session must be
// closed; see WithService and StartT for scoped variants.
func (h *Harness) Start(ctx context.Context, configPath string) (*Session, error) {
	handle, err := h.supervisor.Launch(ctx, configPath)
	h.metrics.RecordLaunch(err)
	if err != nil {
		if !errors.Is(err, lib.ErrLaunchFailure) {
			err = fmt.Errorf("%w: %w", lib.ErrLaunchFailure, err)
		}
		h.log.WithField(lib.FieldConfigPath, configPath).WithError(err).Error("launch failed")
		return nil, err
	}

	return &Session{
		h:      h,
		Handle: handle,
		log:    lib.WithHandle(h.log, handle),
	}, nil
}

// WithService launches a daemon, waits for its port and runs fn against it.
// The daemon is terminated before WithService returns, including when fn
// fails or panics. An error from terminating is reported only when fn
// itself succeeded.
func (h *Harness) WithService(ctx context.Context, configPath string, fn func(ctx context.Context, svc *lib.BoundService) error) (err error) {
	session, err := h.Start(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	svc, err := session.Bind(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, svc)
}

// TB is the subset of testing.TB used by StartT.
type TB interface {
	Helper()
	Cleanup(func())
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// StartT launches a daemon whose termination is registered with t.Cleanup.
func (h *Harness) StartT(t TB, configPath string) *Session {
	t.Helper()

	session, err := h.Start(context.Background(), configPath)
	if err != nil {
		t.Fatalf("launch daemon with %s: %v", configPath, err)
	}
	t.Cleanup(func() {
		if err := session.Close(); err != nil {
			t.Logf("terminate daemon %d: %v", session.Handle.PID, err)
		}
	})
	return session
}

// CheckSyntax runs the daemon's configuration check on configPath.
func (h *Harness) CheckSyntax(ctx context.Context, configPath string) (*lib.CheckResult, error) {
	if h.checker == nil {
		return nil, fmt.Errorf("%w: no syntax checker configured", lib.ErrInvalidConfig)
	}
	result, err := h.checker.CheckSyntax(ctx, configPath)
	if err != nil {
		return nil, err
	}
	h.metrics.RecordSyntaxCheck(result.Valid())
	return result, nil
}

// ProbeAnonymous attempts an anonymous login on svc. See probe.FTP for the
// error classification.
func (h *Harness) ProbeAnonymous(ctx context.Context, svc *lib.BoundService) error {
	if svc == nil {
		return lib.ErrNilHandle
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	defer cancel()

	err := h.prober.AnonymousLogin(ctx, svc.Addr())
	switch {
	case err == nil:
		h.metrics.RecordProbe("accepted")
	case errors.Is(err, lib.ErrLoginRejected):
		h.metrics.RecordProbe("rejected")
	default:
		h.metrics.RecordProbe("connection_failure")
	}
	return err
}

// AwaitExit polls the daemon until it is gone or grace elapses, and reports
// whether it is gone.
func (h *Harness) AwaitExit(ctx context.Context, session *Session, grace time.Duration) bool {
	err := wait.PollUntilContextTimeout(ctx, h.cfg.PollInterval, grace, true, func(context.Context) (bool, error) {
		return !session.Alive(), nil
	})
	return err == nil
}
