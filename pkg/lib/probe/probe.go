// Package probe drives the FTP control connection of a launched daemon.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/secsy/goftp"
	"github.com/sirupsen/logrus"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

// AnonymousUser is the user name of an anonymous FTP login.
const AnonymousUser = "anonymous"

// ReplyError is a negative FTP reply to the login.
type ReplyError struct {
	Code    int
	Message string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// FTP logs in over a plaintext control connection.
type FTP struct {
	timeout time.Duration
	log     logrus.FieldLogger
}

// Option configures an FTP probe.
type Option func(*FTP)

// WithLogger replaces the default discard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *FTP) {
		p.log = logger
	}
}

// NewFTP creates a probe whose every exchange is bounded by timeout.
func NewFTP(timeout time.Duration, opts ...Option) *FTP {
	p := &FTP{
		timeout: timeout,
		log:     lib.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField(lib.FieldComponent, "probe")
	return p
}

// AnonymousLogin attempts an anonymous login on addr.
//
// It returns nil when the server let the anonymous user in. A permanent
// negative reply (5xx) yields an error matching lib.ErrLoginRejected and
// *ReplyError; anything else that stops the login yields an error matching
// lib.ErrConnectionFailure.
func (p *FTP) AnonymousLogin(ctx context.Context, addr string) error {
	return p.Login(ctx, addr, AnonymousUser, AnonymousUser)
}

// Login attempts a login with the given credentials.
func (p *FTP) Login(ctx context.Context, addr, user, password string) error {
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: %s: %v", lib.ErrConnectionFailure, addr, context.DeadlineExceeded)
	}

	log := p.log.WithField("addr", addr).WithField("user", user)

	client, err := goftp.DialConfig(goftp.Config{
		User:               user,
		Password:           password,
		ConnectionsPerHost: 1,
		Timeout:            timeout,
	}, addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", lib.ErrConnectionFailure, addr, err)
	}
	defer client.Close()

	// goftp connects lazily; opening a raw connection dials and logs in.
	done := make(chan error, 1)
	go func() {
		raw, err := client.OpenRawConn()
		if err == nil {
			_ = raw.Close()
		}
		done <- err
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", lib.ErrConnectionFailure, addr, ctx.Err())
	case err = <-done:
	}

	if err == nil {
		log.Info("login accepted")
		return nil
	}

	var ftpErr goftp.Error
	if errors.As(err, &ftpErr) && ftpErr.Code() >= 500 && ftpErr.Code() < 600 {
		reply := &ReplyError{Code: ftpErr.Code(), Message: ftpErr.Message()}
		log.WithField("reply", reply.Error()).Info("login rejected")
		return fmt.Errorf("%w: %w", lib.ErrLoginRejected, reply)
	}

	log.WithError(err).Warn("login could not complete")
	return fmt.Errorf("%w: %s: %v", lib.ErrConnectionFailure, addr, err)
}
