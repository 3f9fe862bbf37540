package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/health"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/harness"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/metrics"
)

// shutdownTimeout bounds how long open RPCs may delay shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("server failed")
	}
}

func run() error {
	cfg, err := lib.LoadConfig()
	if err != nil {
		return err
	}
	srvCfg, err := loadServerConfig()
	if err != nil {
		return err
	}
	logger := lib.NewLogger(cfg.LogLevel, cfg.LogFormat)
	collector := metrics.NewCollector("")

	h, err := harness.NewLocal(cfg, harness.WithLogger(logger), harness.WithMetrics(collector))
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthServer := health.NewServer()
	supervisor := NewSupervisor(h, healthServer, srvCfg.CheckInterval, logger)

	svc, err := supervisor.Start(ctx, srvCfg.Config)
	if err != nil {
		return errors.Join(err, supervisor.Close())
	}

	srv, err := NewGRPCServer(srvCfg, healthServer, logger)
	if err != nil {
		return errors.Join(err, supervisor.Close())
	}
	logger.WithFields(logrus.Fields{
		"address":     srv.Addr().String(),
		"tls":         srvCfg.TLSEnabled(),
		lib.FieldPort: svc.Port,
	}).Info("health server listening")

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Serve() }()

	if srvCfg.MetricsAddress != "" {
		metricsSrv := &http.Server{
			Addr:    srvCfg.MetricsAddress,
			Handler: metricsHandler(collector),
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		defer metricsSrv.Close()
		logger.WithField("address", srvCfg.MetricsAddress).Info("metrics listening")
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-supervisor.Watch(ctx):
		err = lib.ErrProcessExited
	case err = <-errCh:
	}

	// A second signal now kills the server outright.
	stop()
	return errors.Join(err, shutdown(supervisor, srv, shutdownTimeout))
}

// shutdown terminates the daemon before stopping the gRPC server, so that
// RPCs which never finish on their own cannot keep the daemon running.
func shutdown(supervisor *Supervisor, srv *GRPCServer, timeout time.Duration) error {
	err := supervisor.Close()
	srv.Stop(timeout)
	return err
}

func metricsHandler(collector *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	return mux
}
