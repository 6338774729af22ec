package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mdl/internal/logging"
	"mdl/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var eventID string
	var groupID string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the mdl log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if lines < 0 {
				return fmt.Errorf("--lines must not be negative, got %d", lines)
			}

			opts := logs.TailOptions{
				Offset: -1,
				Limit:  lines,
				Match: logs.All(
					logs.MatchField(logging.FieldEventID, eventID),
					logs.MatchField(logging.FieldGroupID, groupID),
				),
			}
			out := cmd.OutOrStdout()
			for {
				result, err := logs.Tail(cmd.Context(), cfg.LogPath(), opts)
				for _, line := range result.Lines {
					fmt.Fprintln(out, line)
				}
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				if !follow {
					return nil
				}
				opts.Offset = result.Offset
				opts.Follow = true
				opts.Wait = time.Second
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&eventID, "event", "", "Only lines for this event ID")
	cmd.Flags().StringVar(&groupID, "group", "", "Only lines for this group ID")
	return cmd
}
