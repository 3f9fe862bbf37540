package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/harness"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

// serviceName is the health service that reflects the daemon's liveness.
const serviceName = "vsftpd"

// Supervisor keeps one daemon running and mirrors its liveness into a
// gRPC health server.
type Supervisor struct {
	harness  *harness.Harness
	health   *health.Server
	interval time.Duration
	log      logrus.FieldLogger

	session *harness.Session
	service *lib.BoundService
}

func NewSupervisor(h *harness.Harness, healthServer *health.Server, interval time.Duration, logger logrus.FieldLogger) *Supervisor {
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Supervisor{
		harness:  h,
		health:   healthServer,
		interval: interval,
		log:      logger.WithField(lib.FieldComponent, "supervisor"),
	}
}

// Start launches the daemon and waits until it listens.
func (s *Supervisor) Start(ctx context.Context, configPath string) (*lib.BoundService, error) {
	session, err := s.harness.Start(ctx, configPath)
	if err != nil {
		return nil, err
	}

	svc, err := session.Bind(ctx)
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	s.session = session
	s.service = svc
	s.health.SetServingStatus(serviceName, servingStatus(lib.LivenessAlive))
	s.log.WithField(lib.FieldPort, svc.Port).Info("daemon serving")
	return svc, nil
}

// Watch polls the daemon until ctx is done or the daemon dies, and returns
// a closed channel once the daemon is dead.
func (s *Supervisor) Watch(ctx context.Context) <-chan struct{} {
	dead := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			liveness := lib.LivenessOf(s.session.Alive())
			s.health.SetServingStatus(serviceName, servingStatus(liveness))
			if liveness == lib.LivenessDead {
				s.log.WithField(lib.FieldLiveness, liveness).Warn("daemon died")
				close(dead)
				return
			}
		}
	}()
	return dead
}

// Close terminates the daemon and marks every service as not serving.
func (s *Supervisor) Close() error {
	s.health.Shutdown()
	if s.session == nil {
		return nil
	}
	return s.session.Close()
}
