package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mdl/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check credentials, directories and API reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.credentialsStore()
			if err != nil {
				return err
			}

			results := preflight.RunAll(cmd.Context(), cfg, store)
			rows := make([][]string, 0, len(results))
			failed := 0
			for _, result := range results {
				status := "ok"
				if !result.Passed {
					status = "FAIL"
					failed++
				}
				rows = append(rows, []string{result.Name, status, result.Detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
				leftColumn("Check"),
				leftColumn("Status"),
				wrappedColumn("Detail", 80),
			}, rows))

			if preflight.Failed(results) {
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			return nil
		},
	}
}
