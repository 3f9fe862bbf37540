package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/harness"
)

func newScenariosCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Run behaviour scenarios against the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			scenarios := harness.DefaultScenarios()
			if file != "" {
				var err error
				if scenarios, err = harness.LoadScenarios(file); err != nil {
					return err
				}
			}

			h, err := a.harness()
			if err != nil {
				return err
			}
			defer h.Close()

			results := h.RunScenarios(cmd.Context(), scenarios)
			printScenarioTable(cmd.OutOrStdout(), results)

			failed := 0
			for _, r := range results {
				if !r.Passed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with scenarios (default: built-in vsftpd suite)")
	return cmd
}
