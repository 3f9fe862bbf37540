package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errConfigRejected = errors.New("configuration rejected")

func newCheckCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <config>",
		Short: "Check whether the daemon accepts a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.harness()
			if err != nil {
				return err
			}
			defer h.Close()

			result, err := h.CheckSyntax(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Valid() {
				fmt.Fprintln(out, "valid")
				return nil
			}
			fmt.Fprintf(out, "invalid (exit status %d)\n", result.ExitCode)
			if result.Output != "" {
				fmt.Fprint(cmd.ErrOrStderr(), result.Output)
			}
			return errConfigRejected
		},
	}
	return cmd
}
