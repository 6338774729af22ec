package logging

import (
	"context"
	"log/slog"

	"mdl/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldGroupID identifies the group being processed.
	FieldGroupID = "group_id"
	// FieldEventID identifies the event being materialized.
	FieldEventID = "event_id"
	// FieldCorrelationID is the run identifier shared by every line of one invocation.
	FieldCorrelationID = "correlation_id"
	// FieldErrorKind carries services.Classify output for failed operations.
	FieldErrorKind = "error_kind"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	if gid, ok := services.GroupIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldGroupID, gid))
	}
	if eid, ok := services.EventIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldEventID, eid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
