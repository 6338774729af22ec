// Package logging assembles the slog loggers used by mdl.
//
// It provides a console handler for interactive use and a JSON handler for
// machine consumption, both writing to stderr and optionally to a log file in
// the state directory. Context helpers tag lines with the run correlation ID
// and the group and event being processed.
package logging
