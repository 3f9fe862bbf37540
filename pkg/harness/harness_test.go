package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/resolver"
)

type fakeSupervisor struct {
	mu           sync.Mutex
	nextPID      int
	launchErr    error
	terminateErr error
	alive        map[int]bool
	terminated   map[int]int
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		nextPID:    1000,
		alive:      map[int]bool{},
		terminated: map[int]int{},
	}
}

func (s *fakeSupervisor) Launch(_ context.Context, configPath string) (*lib.ProcessHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.launchErr != nil {
		return nil, s.launchErr
	}
	s.nextPID++
	s.alive[s.nextPID] = true
	return &lib.ProcessHandle{ID: fmt.Sprint(s.nextPID), PID: s.nextPID, ConfigPath: configPath}, nil
}

func (s *fakeSupervisor) IsAlive(handle *lib.ProcessHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive[handle.PID]
}

func (s *fakeSupervisor) Terminate(handle *lib.ProcessHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated[handle.PID]++
	s.alive[handle.PID] = false
	return s.terminateErr
}

func (s *fakeSupervisor) exit(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive[pid] = false
}

func (s *fakeSupervisor) terminations(pid int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated[pid]
}

type countingResolver struct {
	mu    sync.Mutex
	calls int
	port  int
	err   error
}

func (r *countingResolver) ResolvePort(context.Context, *lib.ProcessHandle, time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.port, r.err
}

// releasingSupervisor forgets daemons the way the runner does.
type releasingSupervisor struct {
	*fakeSupervisor
	releaseErr error
	released   map[int]int
}

func (s *releasingSupervisor) Release(handle *lib.ProcessHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releaseErr != nil {
		return s.releaseErr
	}
	s.released[handle.PID]++
	return nil
}

// blockingResolver holds ResolvePort until release is closed.
type blockingResolver struct {
	release chan struct{}
	port    int
}

func (r *blockingResolver) ResolvePort(context.Context, *lib.ProcessHandle, time.Duration) (int, error) {
	<-r.release
	return r.port, nil
}

type fakeProber struct {
	addr string
	err  error
}

func (p *fakeProber) AnonymousLogin(_ context.Context, addr string) error {
	p.addr = addr
	return p.err
}

func newTestHarness(t *testing.T, supervisor ProcessSupervisor, opts ...Option) *Harness {
	t.Helper()
	cfg := lib.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.WorkDir = t.TempDir()

	opts = append([]Option{WithResolver(resolver.Static(2121))}, opts...)
	h, err := New(cfg, supervisor, opts...)
	require.NoError(t, err)
	return h
}

func TestWithServiceTerminatesOnce(t *testing.T) {
	supervisor := newFakeSupervisor()
	h := newTestHarness(t, supervisor)

	var pid int
	err := h.WithService(context.Background(), "/tmp/vsftpd.conf", func(_ context.Context, svc *lib.BoundService) error {
		pid = svc.Handle.PID
		assert.Equal(t, "127.0.0.1:2121", svc.Addr())
		assert.Equal(t, 0, supervisor.terminations(pid), "terminated before the scope ended")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, supervisor.terminations(pid))
}

func TestWithServiceTerminatesWhenBodyFails(t *testing.T) {
	supervisor := newFakeSupervisor()
	h := newTestHarness(t, supervisor)
	errAssertion := errors.New("assertion failed")

	var pid int
	err := h.WithService(context.Background(), "/tmp/vsftpd.conf", func(_ context.Context, svc *lib.BoundService) error {
		pid = svc.Handle.PID
		return errAssertion
	})
	require.ErrorIs(t, err, errAssertion)
	assert.Equal(t, 1, supervisor.terminations(pid))
}

func TestWithServiceTerminatesOnPanic(t *testing.T) {
	supervisor := newFakeSupervisor()
	h := newTestHarness(t, supervisor)

	var pid int
	assert.Panics(t, func() {
		_ = h.WithService(context.Background(), "/tmp/vsftpd.conf", func(_ context.Context, svc *lib.BoundService) error {
			pid = svc.Handle.PID
			panic("boom")
		})
	})
	assert.Equal(t, 1, supervisor.terminations(pid))
}

func TestWithServiceTerminatesUnboundDaemon(t *testing.T) {
	supervisor := newFakeSupervisor()
	unbound := &countingResolver{err: lib.ErrPortNotFound}
	h := newTestHarness(t, supervisor, WithResolver(unbound))

	called := false
	err := h.WithService(context.Background(), "/tmp/vsftpd.conf", func(context.Context, *lib.BoundService) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, lib.ErrPortNotFound)
	assert.False(t, called)
	assert.Equal(t, 1, supervisor.terminations(supervisor.nextPID))
}

func TestWithServiceReportsTerminateError(t *testing.T) {
	supervisor := newFakeSupervisor()
	supervisor.terminateErr = errors.New("operation not permitted")
	h := newTestHarness(t, supervisor)

	err := h.WithService(context.Background(), "/tmp/vsftpd.conf", func(context.Context, *lib.BoundService) error {
		return nil
	})
	require.ErrorIs(t, err, supervisor.terminateErr)

	// The body's own failure takes precedence.
	errBody := errors.New("body")
	err = h.WithService(context.Background(), "/tmp/vsftpd.conf", func(context.Context, *lib.BoundService) error {
		return errBody
	})
	require.ErrorIs(t, err, errBody)
}

func TestStartWrapsLaunchFailure(t *testing.T) {
	supervisor := newFakeSupervisor()
	supervisor.launchErr = errors.New("exec: vsftpd: not found")
	h := newTestHarness(t, supervisor)

	_, err := h.Start(context.Background(), "/tmp/vsftpd.conf")
	require.ErrorIs(t, err, lib.ErrLaunchFailure)
	require.ErrorIs(t, err, supervisor.launchErr)
}

func TestSessionBindsOnce(t *testing.T) {
	supervisor := newFakeSupervisor()
	counting := &countingResolver{port: 40021}
	h := newTestHarness(t, supervisor, WithResolver(counting))

	session, err := h.Start(context.Background(), "/tmp/vsftpd.conf")
	require.NoError(t, err)
	defer session.Close()

	assert.Nil(t, session.Service())
	first, err := session.Bind(context.Background())
	require.NoError(t, err)
	second, err := session.Bind(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first, session.Service())
	assert.Equal(t, 40021, first.Port)
	assert.Equal(t, 1, counting.calls)
}

func TestSessionRejectsOutOfRangePort(t *testing.T) {
	supervisor := newFakeSupervisor()
	h := newTestHarness(t, supervisor, WithResolver(&countingResolver{port: 70000}))

	session, err := h.Start(context.Background(), "/tmp/vsftpd.conf")
	require.NoError(t, err)
	defer session.Close()

	_, err = session.Bind(context.Background())
	var portErr *lib.InvalidPortError
	require.ErrorAs(t, err, &portErr)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	supervisor := newFakeSupervisor()
	h := newTestHarness(t, supervisor)

	session, err := h.Start(context.Background(), "/tmp/vsftpd.conf")
	require.NoError(t, err)
	assert.True(t, session.Alive())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, session.Close())
		}()
	}
	wg.Wait()

	assert.False(t, session.Alive())
	assert.Equal(t, 1, supervisor.terminations(session.Handle.PID))
}

func TestSessionServiceDuringBind(t *testing.T) {
	supervisor := newFakeSupervisor()
	blocking := &blockingResolver{release: make(chan struct{}), port: 40022}
	h := newTestHarness(t, supervisor, WithResolver(blocking))

	session, err := h.Start(context.Background(), "/tmp/vsftpd.conf")
	require.NoError(t, err)
	defer session.Close()

	bound := make(chan *lib.BoundService)
	go func() {
		svc, _ := session.Bind(context.Background())
		bound <- svc
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if svc := session.Service(); svc != nil {
					assert.Equal(t, 40022, svc.Port)
				}
			}
		}()
	}
	close(blocking.release)
	wg.Wait()

	svc := <-bound
	require.NotNil(t, svc)
	assert.Same(t, svc, session.Service())
}

func TestSessionCloseReleasesDaemon(t *testing.T) {
	supervisor := &releasingSupervisor{fakeSupervisor: newFakeSupervisor(), released: map[int]int{}}
	h := newTestHarness(t, supervisor)

	session, err := h.Start(context.Background(), "/tmp/vsftpd.conf")
	require.NoError(t, err)
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	assert.Equal(t, 1, supervisor.released[session.Handle.PID])
	// A reused PID must not make a released session look alive.
	supervisor.alive[session.Handle.PID] = true
	assert.False(t, session.Alive())
}

func TestSessionCloseKeepsUnreleasedDaemon(t *testing.T) {
	supervisor := &releasingSupervisor{
		fakeSupervisor: newFakeSupervisor(),
		releaseErr:     errors.New("still running"),
		released:       map[int]int{},
	}
	h := newTestHarness(t, supervisor)

	session, err := h.Start(context.Background(), "/tmp/vsftpd.conf")
	require.NoError(t, err)
	require.NoError(t, session.Close())

	// Not released, so liveness still comes from the supervisor.
	supervisor.alive[session.Handle.PID] = true
	assert.True(t, session.Alive())
}

type fakeTB struct {
	cleanups []func()
	fatal    string
	logs     []string
}

func (f *fakeTB) Helper()                 {}
func (f *fakeTB) Cleanup(fn func())       { f.cleanups = append(f.cleanups, fn) }
func (f *fakeTB) Logf(s string, a ...any) { f.logs = append(f.logs, fmt.Sprintf(s, a...)) }
func (f *fakeTB) Fatalf(s string, a ...any) {
	f.fatal = fmt.Sprintf(s, a...)
	panic(f.fatal)
}

func TestStartTRegistersCleanup(t *testing.T) {
	supervisor := newFakeSupervisor()
	h := newTestHarness(t, supervisor)
	tb := &fakeTB{}

	session := h.StartT(tb, "/tmp/vsftpd.conf")
	require.Len(t, tb.cleanups, 1)
	assert.Equal(t, 0, supervisor.terminations(session.Handle.PID))

	tb.cleanups[0]()
	assert.Equal(t, 1, supervisor.terminations(session.Handle.PID))
}

func TestStartTFailsTest(t *testing.T) {
	supervisor := newFakeSupervisor()
	supervisor.launchErr = errors.New("exec failed")
	h := newTestHarness(t, supervisor)
	tb := &fakeTB{}

	assert.Panics(t, func() { h.StartT(tb, "/tmp/vsftpd.conf") })
	assert.Contains(t, tb.fatal, "exec failed")
	assert.Empty(t, tb.cleanups)
}

func TestProbeAnonymousUsesBoundAddress(t *testing.T) {
	supervisor := newFakeSupervisor()
	rejected := fmt.Errorf("%w: 530 anonymous disabled", lib.ErrLoginRejected)
	prober := &fakeProber{err: rejected}
	h := newTestHarness(t, supervisor, WithProber(prober))

	err := h.WithService(context.Background(), "/tmp/vsftpd.conf", h.ProbeAnonymous)
	require.ErrorIs(t, err, lib.ErrLoginRejected)
	assert.Equal(t, "127.0.0.1:2121", prober.addr)
}

func TestAwaitExit(t *testing.T) {
	supervisor := newFakeSupervisor()
	h := newTestHarness(t, supervisor)

	session, err := h.Start(context.Background(), "/tmp/vsftpd.conf")
	require.NoError(t, err)
	defer session.Close()

	assert.False(t, h.AwaitExit(context.Background(), session, 50*time.Millisecond))

	go func() {
		time.Sleep(20 * time.Millisecond)
		supervisor.exit(session.Handle.PID)
	}()
	assert.True(t, h.AwaitExit(context.Background(), session, 2*time.Second))
}

func TestNewRequiresSupervisor(t *testing.T) {
	_, err := New(nil, nil)
	require.ErrorIs(t, err, lib.ErrInvalidConfig)
}

func TestCheckSyntaxWithoutChecker(t *testing.T) {
	h := newTestHarness(t, newFakeSupervisor())

	_, err := h.CheckSyntax(context.Background(), "/tmp/vsftpd.conf")
	require.ErrorIs(t, err, lib.ErrInvalidConfig)
}
