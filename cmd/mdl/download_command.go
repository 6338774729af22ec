package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mdl/internal/config"
	"mdl/internal/credentials"
	"mdl/internal/download"
	"mdl/internal/history"
	"mdl/internal/logging"
	"mdl/internal/materialize"
	"mdl/internal/notifications"
	"mdl/internal/services"
)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	var concurrency int
	var noAtomic bool

	cmd := &cobra.Command{
		Use:   "download <groupId...>",
		Short: "Download recordings and transcripts for groups",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if concurrency < 0 {
				return fmt.Errorf("--concurrency must be positive, got %d", concurrency)
			}

			store, err := ctx.credentialsStore()
			if err != nil {
				return err
			}
			creds, err := store.Credentials()
			if err != nil {
				return err
			}
			token, _ := creds.BearerToken()
			if err := credentials.CheckExpiry(token, time.Now()); err != nil {
				return err
			}

			root := cfg.Download.OutputDir
			if strings.TrimSpace(outputDir) != "" {
				expanded, err := config.ExpandPath(outputDir)
				if err != nil {
					return fmt.Errorf("resolve output directory: %w", err)
				}
				root = expanded
			}
			limit := cfg.Download.MaxConcurrent
			if concurrency > 0 {
				limit = concurrency
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			logger := ctx.log()

			opts := download.Options{
				MaxConcurrent: limit,
				Observer:      newStatusPrinter(cmd.OutOrStdout()),
				Logger:        logger,
			}
			if cfg.History.Enabled {
				ledger, err := history.Open(cfg.HistoryPath())
				if err != nil {
					logger.Warn("history ledger unavailable; continuing without it",
						logging.String("path", cfg.HistoryPath()),
						logging.Error(err),
					)
				} else {
					defer ledger.Close()
					opts.Recorder = ledger
				}
			}

			files := materialize.New(root, cfg.Download.AtomicWrites && !noAtomic)
			orchestrator := download.New(client, files, opts)
			logging.NewComponentLogger(logger, "download").Info("download started",
				logging.String(logging.FieldCorrelationID, orchestrator.RunID()),
				logging.String("output_dir", files.Root()),
				logging.String("api", client.BaseURL()),
				logging.Int("groups", len(args)),
			)
			started := time.Now()
			outcome, runErr := orchestrator.DownloadGroups(cmd.Context(), creds, args)
			printSummary(cmd.OutOrStdout(), outcome)
			notifyRun(cmd.Context(), notifications.NewService(cfg), logger, outcome, time.Since(started), runErr)
			return runErr
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default download.output_dir)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Events downloaded at once per group (default download.max_concurrent)")
	cmd.Flags().BoolVar(&noAtomic, "no-atomic", false, "Write files in place instead of temp file and rename")
	return cmd
}

// statusPrinter renders the per-group and per-event status lines.
type statusPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	return &statusPrinter{out: out}
}

func (p *statusPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *statusPrinter) GroupStarted(groupID string) {
	p.printf("processing group %s ...\n", groupID)
}

func (p *statusPrinter) GroupListed(groupID string, events int) {
	p.printf("found %d events in %s\n", events, groupID)
}

func (p *statusPrinter) EventStarted(_ string, eventID string) {
	p.printf("downloading event %s\n", eventID)
}

func (p *statusPrinter) EventFinished(_ string, result download.EventResult) {
	if result.Err != nil {
		p.printf("failed %s: %v\n", result.EventID, result.Err)
		return
	}
	p.printf("done with %s\n", result.EventID)
}

func (p *statusPrinter) GroupFinished(result download.GroupResult) {
	if result.Err != nil {
		p.printf("group %s failed: %v\n", result.GroupID, result.Err)
	}
}

func printSummary(out io.Writer, outcome download.Outcome) {
	written, failed, bytes := outcome.Totals()
	cancelled := 0
	for _, group := range outcome.Groups {
		cancelled += len(group.Cancelled)
	}
	line := fmt.Sprintf("%d files written (%s) across %d groups, %d events failed",
		written, humanize.Bytes(uint64(bytes)), len(outcome.Groups), failed)
	if cancelled > 0 {
		line += fmt.Sprintf(", %d cancelled", cancelled)
	}
	fmt.Fprintln(out, line)
}

// notifyRun publishes the run summary. Failures to notify are logged only.
func notifyRun(ctx context.Context, notifier notifications.Service, logger *slog.Logger, outcome download.Outcome, elapsed time.Duration, runErr error) {
	ctx = context.WithoutCancel(ctx)
	written, failed, bytes := outcome.Totals()
	summary := notifications.RunSummary{
		RunID:    outcome.RunID,
		Groups:   len(outcome.Groups),
		Written:  written,
		Failed:   failed,
		Bytes:    bytes,
		Duration: elapsed,
	}
	for _, group := range outcome.Groups {
		summary.Cancelled += len(group.Cancelled)
	}
	if err := notifier.NotifyRunCompleted(ctx, summary); err != nil {
		logger.Warn("run notification failed", logging.Error(err))
	}
	if errors.Is(runErr, services.ErrAuth) {
		if err := notifier.NotifyError(ctx, runErr, "download"); err != nil {
			logger.Warn("error notification failed", logging.Error(err))
		}
	}
}
