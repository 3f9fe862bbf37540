package harness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

// Session owns one launched daemon: Launched, then Bound or Unbound, and
// finally Dead once Close ran.
type Session struct {
	h      *Harness
	Handle *lib.ProcessHandle
	log    logrus.FieldLogger

	bindOnce sync.Once
	bindErr  error

	mu      sync.Mutex
	service *lib.BoundService

	closeOnce sync.Once
	closeErr  error
	// set once the supervisor forgot the reaped daemon
	released atomic.Bool
}

// releaser is implemented by supervisors that keep per-daemon state until
// told to drop it.
type releaser interface {
	Release(handle *lib.ProcessHandle) error
}

// Bind resolves the daemon's port. Resolution runs once; later calls return
// the first outcome.
func (s *Session) Bind(ctx context.Context) (*lib.BoundService, error) {
	s.bindOnce.Do(func() {
		started := time.Now()
		port, err := s.h.resolver.ResolvePort(ctx, s.Handle, s.h.cfg.ResolveTimeout)
		var svc *lib.BoundService
		if err == nil {
			svc, err = lib.NewBoundService(s.Handle, port)
		}
		s.mu.Lock()
		s.service = svc
		s.mu.Unlock()
		s.bindErr = err
		s.h.metrics.RecordResolution(time.Since(started), err)

		if err != nil {
			s.log.WithError(err).Warn("daemon unbound")
			return
		}
		s.log.WithField(lib.FieldPort, port).Info("daemon bound")
	})
	return s.Service(), s.bindErr
}

// Service returns the bound service, or nil before a successful Bind.
func (s *Session) Service() *lib.BoundService {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service
}

// Alive probes the daemon now. A released daemon was reaped and stays dead.
func (s *Session) Alive() bool {
	if s.released.Load() {
		return false
	}
	return s.h.IsAlive(s.Handle)
}

// Close terminates the daemon and lets the supervisor forget it once it is
// reaped. Only the first call does anything; a daemon that already exited is
// not an error.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.h.supervisor.Terminate(s.Handle)
		s.h.metrics.RecordTermination()
		if s.closeErr != nil {
			s.log.WithError(s.closeErr).Error("terminate failed")
			return
		}
		if r, ok := s.h.supervisor.(releaser); ok {
			if err := r.Release(s.Handle); err != nil {
				s.log.WithError(err).Debug("daemon kept by supervisor")
				return
			}
			s.released.Store(true)
		}
	})
	return s.closeErr
}
