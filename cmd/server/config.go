package main

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

// serverConfig is the server-only part of the FTPD_HARNESS_* environment.
type serverConfig struct {
	lib.Endpoint

	MetricsAddress string        `envconfig:"METRICS_ADDRESS"`
	Config         string        `envconfig:"CONFIG" required:"true"`
	CheckInterval  time.Duration `envconfig:"CHECK_INTERVAL" default:"1s"`
}

func loadServerConfig() (*serverConfig, error) {
	var cfg serverConfig
	if err := envconfig.Process(lib.EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", lib.ErrInvalidConfig, err)
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("%w: check interval must be positive", lib.ErrInvalidConfig)
	}
	return &cfg, nil
}
