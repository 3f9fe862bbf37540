package main

import (
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

func servingStatus(l lib.Liveness) healthpb.HealthCheckResponse_ServingStatus {
	if l == lib.LivenessAlive {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
