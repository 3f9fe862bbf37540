package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var errNotServing = errors.New("daemon is not serving")

func newHealthCmd() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Ask a harness server whether its daemon is alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			client := healthpb.NewHealthClient(conn)
			resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				if grpcCode(err) == codes.NotFound {
					return fmt.Errorf("unknown service %q", service)
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return errNotServing
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "vsftpd", "health service name")
	return cmd
}
