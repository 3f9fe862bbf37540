package lib

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable read by LoadConfig.
const EnvPrefix = "FTPD_HARNESS"

// DefaultDaemonArgs ask the daemon to bind an OS-assigned port, listen in
// standalone mode and run as the invoking user.
var DefaultDaemonArgs = []string{"-olisten_port=0", "-olisten=YES", "-orun_as_launching_user=YES"}

// Config holds the process-wide harness configuration.
type Config struct {
	// Daemon is the executable to launch, resolved through PATH when relative.
	Daemon string `envconfig:"DAEMON"`

	// DaemonArgs precede the configuration path on every invocation.
	DaemonArgs []string `envconfig:"DAEMON_ARGS"`

	// DaemonEnv is appended to the inherited environment of the daemon.
	DaemonEnv []string `envconfig:"DAEMON_ENV"`

	ResolveTimeout     time.Duration `envconfig:"RESOLVE_TIMEOUT"`
	PollInterval       time.Duration `envconfig:"POLL_INTERVAL"`
	SyntaxCheckTimeout time.Duration `envconfig:"SYNTAX_CHECK_TIMEOUT"`
	ProbeTimeout       time.Duration `envconfig:"PROBE_TIMEOUT"`
	StopTimeout        time.Duration `envconfig:"STOP_TIMEOUT"`

	// StartGrace bounds how long a daemon that is expected to fail may keep running.
	StartGrace time.Duration `envconfig:"START_GRACE"`

	// WorkDir holds configuration artifacts and daemon working directories.
	WorkDir string `envconfig:"WORK_DIR"`

	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Daemon:             "vsftpd",
		DaemonArgs:         append([]string(nil), DefaultDaemonArgs...),
		ResolveTimeout:     5 * time.Second,
		PollInterval:       50 * time.Millisecond,
		SyntaxCheckTimeout: time.Second,
		ProbeTimeout:       5 * time.Second,
		StopTimeout:        time.Second,
		StartGrace:         time.Second,
		WorkDir:            os.TempDir(),
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// LoadConfig overlays FTPD_HARNESS_* environment variables on DefaultConfig.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Daemon == "" {
		return fmt.Errorf("%w: daemon executable is required", ErrInvalidConfig)
	}
	if c.WorkDir == "" {
		return fmt.Errorf("%w: work directory is required", ErrInvalidConfig)
	}
	for name, d := range map[string]time.Duration{
		"resolve timeout":      c.ResolveTimeout,
		"poll interval":        c.PollInterval,
		"syntax check timeout": c.SyntaxCheckTimeout,
		"probe timeout":        c.ProbeTimeout,
		"stop timeout":         c.StopTimeout,
		"start grace":          c.StartGrace,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if c.PollInterval > c.ResolveTimeout {
		return fmt.Errorf("%w: poll interval exceeds resolve timeout", ErrInvalidConfig)
	}
	return nil
}

// Endpoint locates a harness server and the optional mTLS material for it.
// The server listens on it and the CLI dials it.
type Endpoint struct {
	Address   string `envconfig:"ADDRESS" default:"localhost:50051"`
	TLSKey    string `envconfig:"TLS_KEY"`
	TLSCert   string `envconfig:"TLS_CERT"`
	CATLSCert string `envconfig:"CA_TLS_CERT"`
}

// LoadEndpoint reads the FTPD_HARNESS_* endpoint variables.
func LoadEndpoint() (*Endpoint, error) {
	var e Endpoint
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &e, nil
}

// TLSEnabled reports whether any TLS material is set.
func (e *Endpoint) TLSEnabled() bool {
	return e.TLSKey != "" || e.TLSCert != "" || e.CATLSCert != ""
}
