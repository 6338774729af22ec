// Package logs tails the mdl log file.
//
// Tail supports "last N lines" reads, offset-based resumption and a bounded
// follow mode, optionally filtered by log field (event_id, group_id) so a single
// event's history can be pulled out of a concurrent run.
package logs
