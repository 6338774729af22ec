package download

import (
	"context"
	"io"

	"mdl/internal/history"
	"mdl/internal/materialize"
	"mdl/internal/momentos"
)

// DefaultMaxConcurrent bounds per-group event fan-out when no limit is set.
const DefaultMaxConcurrent = 8

// API is the subset of the Momentos client the orchestrator needs.
type API interface {
	GroupEvents(ctx context.Context, creds momentos.Credentials, groupID string) ([]momentos.EventSummary, error)
	Event(ctx context.Context, creds momentos.Credentials, groupID, eventID string) (momentos.Event, error)
	Recording(ctx context.Context, rawURL string, w io.Writer, progress momentos.ProgressFunc) (int64, error)
}

// FileWriter materializes group content on disk.
type FileWriter interface {
	EnsureGroupDirectory(groupID string) (string, error)
	WriteIndex(groupID string, events []momentos.EventSummary) (materialize.Artifact, error)
	WriteNamedFile(groupID, name, ext string, content materialize.ContentFunc) (materialize.Artifact, error)
	CleanPartials(groupID string) (int, error)
}

// Recorder persists artifact outcomes. Failures are logged and never abort a run.
type Recorder interface {
	Record(ctx context.Context, entry history.Entry) error
}

// Observer receives progress notifications. EventStarted and EventFinished
// are called from concurrent tasks.
type Observer interface {
	GroupStarted(groupID string)
	GroupListed(groupID string, events int)
	EventStarted(groupID, eventID string)
	EventFinished(groupID string, result EventResult)
	GroupFinished(result GroupResult)
}

// Artifact is a file written for an event or group.
type Artifact struct {
	EventID string
	Kind    history.Kind
	Path    string
	Bytes   int64
}

// Skip notes an artifact the remote event did not offer.
type Skip struct {
	EventID string
	Kind    history.Kind
	Reason  string
}

// EventResult is the outcome of one event task.
type EventResult struct {
	EventID   string
	Written   []Artifact
	Skipped   []Skip
	Err       error
	Cancelled bool
}

// EventFailure pairs a failed event with its error.
type EventFailure struct {
	EventID string
	Err     error
}

// GroupResult summarizes one attempted group.
type GroupResult struct {
	GroupID   string
	Events    int
	Index     *Artifact
	Written   []Artifact
	Skipped   []Skip
	Failures  []EventFailure
	Cancelled []string
	Err       error
}

// Bytes totals the bytes written for the group including the index.
func (g GroupResult) Bytes() int64 {
	var total int64
	if g.Index != nil {
		total += g.Index.Bytes
	}
	for _, artifact := range g.Written {
		total += artifact.Bytes
	}
	return total
}

// Outcome lists a result for every attempted group.
type Outcome struct {
	RunID  string
	Groups []GroupResult
}

// Totals aggregates artifacts, failures and bytes across groups.
func (o Outcome) Totals() (written, failed int, bytes int64) {
	for _, group := range o.Groups {
		written += len(group.Written)
		failed += len(group.Failures)
		bytes += group.Bytes()
	}
	return written, failed, bytes
}
