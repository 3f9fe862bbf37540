package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

const watchInterval = 500 * time.Millisecond

func newStartCmd(a *app) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "start <config>",
		Short: "Start the daemon, print its port and keep it running until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			h, err := a.harness()
			if err != nil {
				return err
			}
			defer h.Close()

			session, err := h.Start(ctx, args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			svc, err := session.Bind(ctx)
			if err != nil {
				return err
			}

			printTable(cmd.OutOrStdout(),
				[]string{"ID", "PID", "PORT", "CONFIG"},
				[][]string{{svc.Handle.ID, strconv.Itoa(svc.Handle.PID), strconv.Itoa(svc.Port), svc.Handle.ConfigPath}},
			)

			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			// Returns nil only when the daemon went away on its own.
			err = wait.PollUntilContextCancel(ctx, watchInterval, false, func(context.Context) (bool, error) {
				return !session.Alive(), nil
			})
			if err == nil {
				return fmt.Errorf("%w: pid %d", lib.ErrProcessExited, svc.Handle.PID)
			}
			return session.Close()
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "stop the daemon after this long (default: run until interrupted)")
	return cmd
}
