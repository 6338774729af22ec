package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mdl/internal/history"
	"mdl/internal/logging"
	"mdl/internal/materialize"
	"mdl/internal/momentos"
	"mdl/internal/services"
	"mdl/internal/vtt"
)

const component = "download"

// Options configures an Orchestrator.
type Options struct {
	MaxConcurrent int
	// RunID tags log lines and history rows. Empty generates a UUID.
	RunID    string
	Recorder Recorder
	Observer Observer
	Logger   *slog.Logger
}

// Orchestrator downloads groups sequentially and their events concurrently.
type Orchestrator struct {
	api           API
	files         FileWriter
	maxConcurrent int
	runID         string
	recorder      Recorder
	observer      Observer
	logger        *slog.Logger
}

// New wires an Orchestrator around the API client and file writer.
func New(api API, files FileWriter, opts Options) *Orchestrator {
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Orchestrator{
		api:           api,
		files:         files,
		maxConcurrent: limit,
		runID:         runID,
		recorder:      opts.Recorder,
		observer:      opts.Observer,
		logger:        logging.NewComponentLogger(opts.Logger, component),
	}
}

// RunID returns the identifier stamped on this orchestrator's records.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// DownloadGroups processes groupIDs in order. A rejected credential (see
// authRejected) or cancellation stops the run; any other group failure is reported and the
// next group still runs. The returned error joins every group-level error.
func (o *Orchestrator) DownloadGroups(ctx context.Context, creds momentos.Credentials, groupIDs []string) (Outcome, error) {
	outcome := Outcome{RunID: o.runID}
	if _, ok := creds.BearerToken(); !ok {
		return outcome, services.Wrap(services.ErrAuth, component, "download groups", "access token not found", nil)
	}

	ctx = services.WithRequestID(ctx, o.runID)
	var errs []error
	for _, groupID := range groupIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("download cancelled before group %s: %w", groupID, err))
			break
		}

		result := o.downloadGroup(services.WithGroupID(ctx, groupID), creds, groupID)
		outcome.Groups = append(outcome.Groups, result)
		if result.Err == nil {
			continue
		}
		errs = append(errs, result.Err)
		if authRejected(result) {
			o.logger.Error("authentication rejected; skipping remaining groups",
				logging.String(logging.FieldGroupID, groupID),
				logging.Error(result.Err),
			)
			break
		}
	}
	return outcome, errors.Join(errs...)
}

func (o *Orchestrator) downloadGroup(ctx context.Context, creds momentos.Credentials, groupID string) GroupResult {
	logger := logging.WithContext(ctx, o.logger)
	result := GroupResult{GroupID: groupID}
	if o.observer != nil {
		o.observer.GroupStarted(groupID)
		defer func() { o.observer.GroupFinished(result) }()
	}
	logger.Info("processing group")

	events, err := o.api.GroupEvents(ctx, creds, groupID)
	if err != nil {
		result.Err = fmt.Errorf("group %s: list events: %w", groupID, err)
		logger.Error("list events failed", logging.Error(err), logging.String(logging.FieldErrorKind, services.Classify(err)))
		return result
	}
	result.Events = len(events)
	if o.observer != nil {
		o.observer.GroupListed(groupID, len(events))
	}

	if _, err := o.files.EnsureGroupDirectory(groupID); err != nil {
		result.Err = fmt.Errorf("group %s: %w", groupID, err)
		logger.Error("create group directory failed", logging.Error(err))
		return result
	}
	// Leftovers of a killed run; a failed sweep never blocks the group.
	if removed, err := o.files.CleanPartials(groupID); err != nil {
		logger.Warn("clean partial files failed", logging.Error(err))
	} else if removed > 0 {
		logger.Info("removed stale partial files", logging.Int("count", removed))
	}
	index, err := o.files.WriteIndex(groupID, events)
	if err != nil {
		result.Err = fmt.Errorf("group %s: %w", groupID, err)
		logger.Error("write index failed", logging.Error(err))
		o.record(ctx, history.Entry{GroupID: groupID, Kind: history.KindIndex, Status: history.StatusFailed}, err)
		return result
	}
	result.Index = &Artifact{Kind: history.KindIndex, Path: index.Path, Bytes: index.Bytes}
	o.record(ctx, history.Entry{GroupID: groupID, Kind: history.KindIndex, Path: index.Path, Bytes: index.Bytes, Status: history.StatusWritten}, nil)

	// Tasks never return an error so a failed event cannot cancel its siblings.
	slots := make([]EventResult, len(events))
	var g errgroup.Group
	g.SetLimit(o.maxConcurrent)
	for i, event := range events {
		g.Go(func() error {
			slots[i] = o.downloadEvent(ctx, creds, groupID, event.ID)
			return nil
		})
	}
	_ = g.Wait()

	for _, slot := range slots {
		result.Written = append(result.Written, slot.Written...)
		result.Skipped = append(result.Skipped, slot.Skipped...)
		switch {
		case slot.Cancelled:
			result.Cancelled = append(result.Cancelled, slot.EventID)
		case slot.Err != nil:
			result.Failures = append(result.Failures, EventFailure{EventID: slot.EventID, Err: slot.Err})
		}
	}

	result.Err = groupError(ctx, groupID, result)
	logger.Info("group finished",
		logging.Int("events", result.Events),
		logging.Int("artifacts", len(result.Written)),
		logging.Int("failures", len(result.Failures)),
		logging.Int("cancelled", len(result.Cancelled)),
		logging.String("bytes", humanize.Bytes(uint64(result.Bytes()))),
	)
	return result
}

// groupError raises per-event failures only when no event succeeded.
func groupError(ctx context.Context, groupID string, result GroupResult) error {
	if err := ctx.Err(); err != nil && len(result.Cancelled) > 0 {
		return fmt.Errorf("group %s: %d events cancelled: %w", groupID, len(result.Cancelled), err)
	}
	if len(result.Failures) == 0 || len(result.Failures) < result.Events {
		return nil
	}
	errs := make([]error, 0, len(result.Failures))
	for _, failure := range result.Failures {
		errs = append(errs, fmt.Errorf("event %s: %w", failure.EventID, failure.Err))
	}
	return fmt.Errorf("group %s: all %d events failed: %w", groupID, result.Events, errors.Join(errs...))
}

// authRejected reports whether the service refused the credential for a
// whole group: the listing was rejected, or every failed event was.
// A single 403 among other failures is an event failure only.
func authRejected(result GroupResult) bool {
	if !errors.Is(result.Err, services.ErrAuth) {
		return false
	}
	for _, failure := range result.Failures {
		if !errors.Is(failure.Err, services.ErrAuth) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) downloadEvent(ctx context.Context, creds momentos.Credentials, groupID, eventID string) EventResult {
	ctx = services.WithEventID(ctx, eventID)
	logger := logging.WithContext(ctx, o.logger)
	result := EventResult{EventID: eventID}

	if err := ctx.Err(); err != nil {
		result.Cancelled = true
		result.Err = err
		o.record(ctx, history.Entry{GroupID: groupID, EventID: eventID, Kind: history.KindEvent, Status: history.StatusCancelled}, err)
		return result
	}
	if o.observer != nil {
		o.observer.EventStarted(groupID, eventID)
		defer func() { o.observer.EventFinished(groupID, result) }()
	}
	logger.Info("downloading event")

	event, err := o.api.Event(ctx, creds, groupID, eventID)
	if err != nil {
		result.Err = err
		logger.Warn("fetch event failed", logging.Error(err), logging.String(logging.FieldErrorKind, services.Classify(err)))
		o.record(ctx, history.Entry{GroupID: groupID, EventID: eventID, Kind: history.KindEvent, Status: history.StatusFailed}, err)
		return result
	}

	// Transcript and recording are independent; one failing never skips the other.
	var errs []error
	if event.Transcript != nil {
		transcript := *event.Transcript
		artifact, err := o.files.WriteNamedFile(groupID, eventID, "vtt", func(w io.Writer) (int64, error) {
			return vtt.Encode(w, transcript)
		})
		if err := o.finishArtifact(ctx, &result, groupID, history.KindTranscript, artifact, err); err != nil {
			errs = append(errs, err)
		}
	} else {
		result.Skipped = append(result.Skipped, Skip{EventID: eventID, Kind: history.KindTranscript, Reason: "no transcript"})
	}

	if url, ok := event.Recording.DownloadURL(); ok {
		sampler := logging.NewProgressSampler(10)
		progress := func(written, total int64) {
			if total <= 0 {
				return
			}
			percent := float64(written) * 100 / float64(total)
			if sampler.ShouldLog(percent, eventID) {
				logger.Debug("recording progress",
					logging.Int("percent", int(percent)),
					logging.String("received", humanize.Bytes(uint64(written))),
					logging.String("total", humanize.Bytes(uint64(total))),
				)
			}
		}
		artifact, err := o.files.WriteNamedFile(groupID, eventID, "mp4", func(w io.Writer) (int64, error) {
			return o.api.Recording(ctx, url, w, progress)
		})
		if err := o.finishArtifact(ctx, &result, groupID, history.KindRecording, artifact, err); err != nil {
			errs = append(errs, err)
		}
	} else {
		result.Skipped = append(result.Skipped, Skip{EventID: eventID, Kind: history.KindRecording, Reason: "recording not processed"})
	}

	result.Err = errors.Join(errs...)
	if result.Err == nil {
		logger.Info("done with event", logging.Int("artifacts", len(result.Written)))
	}
	return result
}

func (o *Orchestrator) finishArtifact(ctx context.Context, result *EventResult, groupID string, kind history.Kind, artifact materialize.Artifact, err error) error {
	if err != nil {
		logging.WithContext(ctx, o.logger).Warn("write artifact failed",
			logging.String("kind", string(kind)),
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Classify(err)),
		)
		o.record(ctx, history.Entry{GroupID: groupID, EventID: result.EventID, Kind: kind, Status: history.StatusFailed}, err)
		return fmt.Errorf("%s: %w", kind, err)
	}
	result.Written = append(result.Written, Artifact{EventID: result.EventID, Kind: kind, Path: artifact.Path, Bytes: artifact.Bytes})
	o.record(ctx, history.Entry{GroupID: groupID, EventID: result.EventID, Kind: kind, Path: artifact.Path, Bytes: artifact.Bytes, Status: history.StatusWritten}, nil)
	return nil
}

func (o *Orchestrator) record(ctx context.Context, entry history.Entry, cause error) {
	if o.recorder == nil {
		return
	}
	entry.RunID = o.runID
	if cause != nil {
		entry.ErrorKind = services.Classify(cause)
		entry.Error = cause.Error()
	}
	// Detached so cancelled runs still land their final rows.
	if err := o.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		logging.WithContext(ctx, o.logger).Warn("history record failed", logging.Error(err))
	}
}
