package preflight

import (
	"context"
	"time"

	"mdl/internal/config"
	"mdl/internal/credentials"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// MinFreeBytes is the free space below which the output check fails.
const MinFreeBytes = 1 << 30

// RunAll executes every readiness check for downloads.
func RunAll(ctx context.Context, cfg *config.Config, store *credentials.Store) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckCredentials(store, time.Now()),
		CheckOutputDirectory("Output directory", cfg.Download.OutputDir),
		CheckFreeSpace("Free space", cfg.Download.OutputDir, MinFreeBytes),
	}
	if cfg.History.Enabled {
		results = append(results, CheckOutputDirectory("State directory", cfg.Paths.StateDir))
	}
	results = append(results, CheckAPI(ctx, cfg.API.BaseURL))
	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return true
		}
	}
	return false
}
