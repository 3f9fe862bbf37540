// Package resolver discovers the TCP port a daemon bound to, without the
// daemon's cooperation, by inspecting the OS socket table for its PID.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

// PortResolver resolves the listening port of a launched daemon.
type PortResolver interface {
	ResolvePort(ctx context.Context, handle *lib.ProcessHandle, timeout time.Duration) (int, error)
}

// Lookup lists, in ascending order, the TCP ports pid is listening on.
// Only sockets owned by pid may be reported.
type Lookup interface {
	ListeningPorts(ctx context.Context, pid int) ([]int, error)
}

// LivenessFunc reports whether the daemon behind handle is still running.
type LivenessFunc func(handle *lib.ProcessHandle) bool

// Poller retries a Lookup until the daemon has bound, the daemon dies, or
// the deadline passes. The daemon binds asynchronously after launch, so a
// single check is either too early or needlessly late.
type Poller struct {
	lookup   Lookup
	alive    LivenessFunc
	interval time.Duration
	log      logrus.FieldLogger
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger replaces the default discard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Poller) {
		p.log = logger
	}
}

// NewPoller creates a Poller. alive may be nil, in which case a dead daemon
// is only noticed through the deadline.
func NewPoller(lookup Lookup, alive LivenessFunc, interval time.Duration, opts ...Option) *Poller {
	p := &Poller{
		lookup:   lookup,
		alive:    alive,
		interval: interval,
		log:      lib.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField(lib.FieldComponent, "resolver")
	return p
}

var errExited = errors.New("daemon exited while resolving")

// ResolvePort returns the lowest listening port owned by handle's PID.
// It fails with lib.ErrPortNotFound when the timeout elapses first or the
// daemon exits; in the latter case the error also matches lib.ErrProcessExited.
func (p *Poller) ResolvePort(ctx context.Context, handle *lib.ProcessHandle, timeout time.Duration) (int, error) {
	if handle == nil {
		return 0, lib.ErrNilHandle
	}
	if handle.PID <= 0 {
		return 0, fmt.Errorf("%w: invalid pid %d", lib.ErrPortNotFound, handle.PID)
	}

	log := lib.WithHandle(p.log, handle)
	started := time.Now()
	attempts := 0
	port := 0
	var lastErr error

	err := wait.PollUntilContextTimeout(ctx, p.interval, timeout, true, func(ctx context.Context) (bool, error) {
		attempts++
		if p.alive != nil && !p.alive(handle) {
			return false, errExited
		}
		ports, err := p.lookup.ListeningPorts(ctx, handle.PID)
		if err != nil {
			// Sockets and fds come and go while the daemon starts up.
			lastErr = err
			return false, nil
		}
		for _, candidate := range ports {
			if candidate > 0 && candidate <= 65535 {
				port = candidate
				return true, nil
			}
		}
		return false, nil
	})

	log = log.WithFields(logrus.Fields{
		"attempts":        attempts,
		lib.FieldDuration: time.Since(started).Milliseconds(),
	})

	switch {
	case err == nil:
		log.WithField(lib.FieldPort, port).Debug("port resolved")
		return port, nil
	case errors.Is(err, errExited):
		log.Debug("daemon exited before binding")
		return 0, fmt.Errorf("%w: pid %d: %w", lib.ErrPortNotFound, handle.PID, lib.ErrProcessExited)
	case errors.Is(ctx.Err(), context.Canceled):
		return 0, ctx.Err()
	}

	if lastErr != nil {
		log.WithError(lastErr).Debug("port not resolved before deadline")
		return 0, fmt.Errorf("%w: pid %d after %s: %v", lib.ErrPortNotFound, handle.PID, timeout, lastErr)
	}
	log.Debug("port not resolved before deadline")
	return 0, fmt.Errorf("%w: pid %d after %s", lib.ErrPortNotFound, handle.PID, timeout)
}

// Static resolves every handle to the same port. It is meant for tests
// that drive a service they started themselves.
type Static int

func (s Static) ResolvePort(_ context.Context, handle *lib.ProcessHandle, _ time.Duration) (int, error) {
	if handle == nil {
		return 0, lib.ErrNilHandle
	}
	if s <= 0 || s > 65535 {
		return 0, lib.ErrPortNotFound
	}
	return int(s), nil
}
