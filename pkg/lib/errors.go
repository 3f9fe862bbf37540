package lib

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunchFailure means the daemon could not be created at the OS level.
	ErrLaunchFailure = errors.New("launch failure")
	// ErrPortNotFound means no listening port owned by the daemon was found
	// before the resolution deadline.
	ErrPortNotFound = errors.New("listening port not found")
	// ErrProcessExited is informational. It is wrapped into other errors but
	// never returned from liveness checks or termination.
	ErrProcessExited = errors.New("process already exited")
	// ErrLoginRejected is the protocol-level refusal of a login.
	ErrLoginRejected = errors.New("login rejected")
	// ErrConnectionFailure means the control connection could not be used at all.
	ErrConnectionFailure = errors.New("connection failure")
	// ErrInvalidConfig is returned for unusable harness configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNilHandle guards every operation that takes a handle.
	ErrNilHandle = errors.New("nil process handle")
)

// InvalidPortError reports a port outside 1..65535.
type InvalidPortError struct {
	Port int
}

func (e *InvalidPortError) Error() string {
	return fmt.Sprintf("invalid port %d", e.Port)
}
