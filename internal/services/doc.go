// Package services defines shared utilities consumed by the download pipeline
// and the Momentos API client.
//
// Key responsibilities:
//   - Context helpers that stamp group IDs, event IDs, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that tag failures as auth,
//     network, decode, or filesystem errors so callers can decide whether a
//     failure aborts the run or only the affected event.
//
// Use these helpers when adding new remote calls or file writers so error
// classification and log fields stay uniform across the tool.
package services
