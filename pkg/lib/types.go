package lib

import (
	"net"
	"strconv"
	"time"
)

// ProcessState is the runner-side view of a launched daemon.
type ProcessState int

const (
	ProcessStateUnspecified ProcessState = iota
	ProcessStateRunning
	ProcessStateStopped
)

func (s ProcessState) String() string {
	switch s {
	case ProcessStateRunning:
		return "Running"
	case ProcessStateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Command captures command metadata used to start a process.
type Command struct {
	Command string
	Args    []string
}

// ProcessStatus captures runtime state and timestamps.
type ProcessStatus struct {
	State     ProcessState
	ExitCode  *int
	StartTime time.Time
	EndTime   *time.Time
}

// ProcessHandle identifies a daemon started by a launcher.
// The caller that received it owns it and must release it exactly once.
type ProcessHandle struct {
	ID         string
	PID        int
	ConfigPath string
}

// BoundService is a launched daemon whose listening port has been resolved.
type BoundService struct {
	Handle *ProcessHandle
	Port   int
}

// NewBoundService validates port and binds it to handle.
func NewBoundService(handle *ProcessHandle, port int) (*BoundService, error) {
	if handle == nil {
		return nil, ErrNilHandle
	}
	if port <= 0 || port > 65535 {
		return nil, &InvalidPortError{Port: port}
	}
	return &BoundService{Handle: handle, Port: port}, nil
}

// Addr returns the loopback control-connection address of the service.
func (s *BoundService) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port))
}

// Liveness is computed on every query; it is never cached.
type Liveness int

const (
	LivenessDead Liveness = iota
	LivenessAlive
)

func LivenessOf(alive bool) Liveness {
	if alive {
		return LivenessAlive
	}
	return LivenessDead
}

func (l Liveness) String() string {
	if l == LivenessAlive {
		return "alive"
	}
	return "dead"
}

// CheckResult is the outcome of a configuration syntax check.
type CheckResult struct {
	ExitCode int
	TimedOut bool
	Output   string
}

// Valid reports whether the daemon accepted the configuration. A daemon that
// was still running when the check deadline hit has accepted it.
func (r *CheckResult) Valid() bool {
	return r.ExitCode == 0 || r.TimedOut
}
