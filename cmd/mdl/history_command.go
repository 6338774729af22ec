package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mdl/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently downloaded files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := os.Stat(cfg.HistoryPath()); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(out, "No downloads recorded")
				return nil
			}

			ledger, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer ledger.Close()

			entries, err := ledger.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No downloads recorded")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				size := ""
				if entry.Status == history.StatusWritten {
					size = humanize.Bytes(uint64(entry.Bytes))
				}
				problem := entry.Error
				if entry.ErrorKind != "" {
					problem = entry.ErrorKind + ": " + entry.Error
				}
				rows = append(rows, []string{
					humanize.Time(entry.RecordedAt),
					shortRunID(entry.RunID),
					entry.GroupID,
					entry.EventID,
					string(entry.Kind),
					size,
					string(entry.Status),
					problem,
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				leftColumn("When"),
				leftColumn("Run"),
				leftColumn("Group"),
				leftColumn("Event"),
				leftColumn("Kind"),
				rightColumn("Size"),
				leftColumn("Status"),
				wrappedColumn("Error", 60),
			}, rows))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of entries to show")
	return cmd
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
