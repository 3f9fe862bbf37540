package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer encapsulates TLS/mTLS configuration, gRPC server instance and listener.
type GRPCServer struct {
	lis net.Listener
	s   *grpc.Server
}

// NewGRPCServer constructs a gRPC server exposing healthServer on cfg.Address.
// When TLS material is configured it requires client certs carrying a SPIFFE
// ID (mTLS); otherwise it serves plaintext.
func NewGRPCServer(cfg *serverConfig, healthServer *health.Server, logger logrus.FieldLogger) (*GRPCServer, error) {
	var opts []grpc.ServerOption
	if cfg.TLSEnabled() {
		creds, err := serverCredentials(cfg)
		if err != nil {
			return nil, err
		}
		auth := &authenticator{log: logger}
		opts = append(opts,
			grpc.Creds(creds),
			grpc.UnaryInterceptor(auth.injectSpiffeIdUnary),
			grpc.StreamInterceptor(auth.injectSpiffeIdStream),
		)
	}

	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, healthServer)

	return &GRPCServer{lis: lis, s: s}, nil
}

func serverCredentials(cfg *serverConfig) (credentials.TransportCredentials, error) {
	if cfg.TLSKey == "" || cfg.TLSCert == "" || cfg.CATLSCert == "" {
		return nil, fmt.Errorf("incomplete TLS environment; require FTPD_HARNESS_TLS_KEY, FTPD_HARNESS_TLS_CERT, FTPD_HARNESS_CA_TLS_CERT")
	}

	cert, err := tls.X509KeyPair([]byte(cfg.TLSCert), []byte(cfg.TLSKey))
	if err != nil {
		return nil, fmt.Errorf("failed to load server key pair: %w", err)
	}

	caPool := x509.NewCertPool()
	if ok := caPool.AppendCertsFromPEM([]byte(cfg.CATLSCert)); !ok {
		return nil, fmt.Errorf("failed to append CA certificate to pool")
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		ClientCAs:    caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}), nil
}

// Serve starts serving gRPC on the configured listener.
func (g *GRPCServer) Serve() error {
	return g.s.Serve(g.lis)
}

// Addr returns the network address the server is bound to.
func (g *GRPCServer) Addr() net.Addr { return g.lis.Addr() }

// Stop gracefully stops the gRPC server. Streams still open after timeout,
// such as health watchers, are cancelled.
func (g *GRPCServer) Stop(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		g.s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		g.s.Stop()
		<-done
	}
}
