package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/probe"
)

func newProbeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <host:port>",
		Short: "Attempt an anonymous FTP login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prober := probe.NewFTP(a.cfg.ProbeTimeout, probe.WithLogger(a.log))

			err := prober.AnonymousLogin(cmd.Context(), args[0])
			switch {
			case err == nil:
				fmt.Fprintln(cmd.OutOrStdout(), "accepted")
			case errors.Is(err, lib.ErrLoginRejected):
				fmt.Fprintln(cmd.OutOrStdout(), "rejected")
			}
			return err
		},
	}
	return cmd
}
