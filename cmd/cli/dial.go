package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

// dial connects to the harness server named by FTPD_HARNESS_ADDRESS. mTLS
// is used when all of FTPD_HARNESS_TLS_KEY, FTPD_HARNESS_TLS_CERT and
// FTPD_HARNESS_CA_TLS_CERT are set, plaintext when none is.
func dial() (*grpc.ClientConn, error) {
	endpoint, err := lib.LoadEndpoint()
	if err != nil {
		return nil, err
	}

	creds, err := transportCredentials(endpoint.TLSKey, endpoint.TLSCert, endpoint.CATLSCert)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(endpoint.Address, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func transportCredentials(keyPEM, certPEM, caPEM string) (credentials.TransportCredentials, error) {
	set := 0
	for _, v := range []string{keyPEM, certPEM, caPEM} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	switch set {
	case 0:
		return insecure.NewCredentials(), nil
	case 3:
	default:
		return nil, fmt.Errorf("incomplete TLS environment; require FTPD_HARNESS_TLS_KEY, FTPD_HARNESS_TLS_CERT, FTPD_HARNESS_CA_TLS_CERT")
	}

	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse TLS cert/key from env: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(caPEM)) {
		return nil, fmt.Errorf("failed to parse CA cert from env")
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}), nil
}

func grpcCode(err error) codes.Code {
	st, ok := status.FromError(err)
	if !ok {
		return codes.Unknown
	}
	return st.Code()
}
