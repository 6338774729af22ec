package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mdl/internal/history"
	"mdl/internal/materialize"
	"mdl/internal/momentos"
	"mdl/internal/services"
)

var testCreds = momentos.NewCredentials("u1", "tok")

type fakeAPI struct {
	groups      map[string][]momentos.EventSummary
	listErrs    map[string]error
	events      map[string]momentos.Event
	eventErrs   map[string]error
	onEvent     func(ctx context.Context, eventID string) error
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
	listCalls   atomic.Int32
}

func (f *fakeAPI) GroupEvents(_ context.Context, _ momentos.Credentials, groupID string) ([]momentos.EventSummary, error) {
	f.listCalls.Add(1)
	if err := f.listErrs[groupID]; err != nil {
		return nil, err
	}
	return f.groups[groupID], nil
}

func (f *fakeAPI) Event(ctx context.Context, _ momentos.Credentials, _ string, eventID string) (momentos.Event, error) {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if current <= peak || f.maxInFlight.CompareAndSwap(peak, current) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.onEvent != nil {
		if err := f.onEvent(ctx, eventID); err != nil {
			return momentos.Event{}, err
		}
	}
	if err := f.eventErrs[eventID]; err != nil {
		return momentos.Event{}, err
	}
	return f.events[eventID], nil
}

func (f *fakeAPI) Recording(ctx context.Context, rawURL string, w io.Writer, progress momentos.ProgressFunc) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, services.Wrap(services.ErrNetwork, "momentos", "fetch recording", "request failed", err)
	}
	n, err := io.WriteString(w, "video:"+rawURL)
	if progress != nil {
		progress(int64(n), int64(n))
	}
	return int64(n), err
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (r *memoryRecorder) Record(_ context.Context, entry history.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func urlPtr(s string) *string { return &s }

func fullEvent(id string) momentos.Event {
	return momentos.Event{
		ID:        id,
		Title:     "Event " + id,
		Recording: momentos.Recording{ID: "r-" + id, PresignedURL: urlPtr("https://cdn.example/" + id + ".mp4")},
		Transcript: &momentos.Transcript{Phrases: []momentos.Phrase{
			{ID: "p1", Text: "Hello " + id, Start: 0, End: 1.5},
		}},
	}
}

func newGroupAPI(groupID string, count int) *fakeAPI {
	api := &fakeAPI{
		groups:    map[string][]momentos.EventSummary{},
		listErrs:  map[string]error{},
		events:    map[string]momentos.Event{},
		eventErrs: map[string]error{},
	}
	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("%s-e%d", groupID, i)
		api.groups[groupID] = append(api.groups[groupID], momentos.EventSummary{ID: id, Title: "Event " + id, Published: true})
		api.events[id] = fullEvent(id)
	}
	return api
}

func TestDownloadGroupsPartialFailure(t *testing.T) {
	api := newGroupAPI("g1", 10)
	api.eventErrs["g1-e5"] = services.Wrap(services.ErrNetwork, "momentos", "fetch event", "status 500", nil)
	root := t.TempDir()
	recorder := &memoryRecorder{}
	orch := New(api, materialize.New(root, true), Options{Recorder: recorder, RunID: "run-1"})

	outcome, err := orch.DownloadGroups(context.Background(), testCreds, []string{"g1"})
	if err != nil {
		t.Fatalf("DownloadGroups returned error: %v", err)
	}
	if len(outcome.Groups) != 1 {
		t.Fatalf("len(Groups) = %d, want 1", len(outcome.Groups))
	}
	group := outcome.Groups[0]
	if group.Events != 10 || len(group.Written) != 18 {
		t.Fatalf("events=%d written=%d, want 10 and 18", group.Events, len(group.Written))
	}
	if len(group.Failures) != 1 || group.Failures[0].EventID != "g1-e5" {
		t.Fatalf("failures = %+v, want exactly g1-e5", group.Failures)
	}
	if !errors.Is(group.Failures[0].Err, services.ErrNetwork) {
		t.Fatalf("failure error = %v", group.Failures[0].Err)
	}

	for i := 1; i <= 10; i++ {
		id := fmt.Sprintf("g1-e%d", i)
		_, vttErr := os.Stat(filepath.Join(root, "g1", id+".vtt"))
		_, mp4Err := os.Stat(filepath.Join(root, "g1", id+".mp4"))
		if i == 5 {
			if vttErr == nil || mp4Err == nil {
				t.Fatalf("failed event %s should have no files", id)
			}
			continue
		}
		if vttErr != nil || mp4Err != nil {
			t.Fatalf("event %s missing files: %v %v", id, vttErr, mp4Err)
		}
	}
	vttBody, err := os.ReadFile(filepath.Join(root, "g1", "g1-e1.vtt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(vttBody) != "WEBVTT\n\n00:00:00.000 --> 00:00:01.500\nHello g1-e1\n\n" {
		t.Fatalf("unexpected vtt %q", vttBody)
	}

	written, failed, _ := outcome.Totals()
	if written != 18 || failed != 1 {
		t.Fatalf("Totals = %d written, %d failed", written, failed)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	var failedRows int
	for _, entry := range recorder.entries {
		if entry.RunID != "run-1" {
			t.Fatalf("entry run id = %q", entry.RunID)
		}
		if entry.Status == history.StatusFailed {
			failedRows++
			if entry.ErrorKind != "network" {
				t.Fatalf("error kind = %q, want network", entry.ErrorKind)
			}
		}
	}
	if len(recorder.entries) != 20 || failedRows != 1 {
		t.Fatalf("recorded %d entries (%d failed), want 20 (1 failed)", len(recorder.entries), failedRows)
	}
}

func TestDownloadGroupsSkipsMissingContent(t *testing.T) {
	api := newGroupAPI("g1", 1)
	api.events["g1-e1"] = momentos.Event{ID: "g1-e1", Recording: momentos.Recording{ID: "r"}}
	root := t.TempDir()
	orch := New(api, materialize.New(root, true), Options{})

	outcome, err := orch.DownloadGroups(context.Background(), testCreds, []string{"g1"})
	if err != nil {
		t.Fatalf("DownloadGroups returned error: %v", err)
	}
	group := outcome.Groups[0]
	if len(group.Written) != 0 || len(group.Failures) != 0 || len(group.Skipped) != 2 {
		t.Fatalf("written=%d failures=%d skipped=%d", len(group.Written), len(group.Failures), len(group.Skipped))
	}
	entries, err := os.ReadDir(filepath.Join(root, "g1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != materialize.IndexFileName {
		t.Fatalf("expected only the index, found %d entries", len(entries))
	}
}

func TestDownloadGroupsAuthAbortsRun(t *testing.T) {
	api := newGroupAPI("g2", 1)
	api.listErrs["g1"] = services.Wrap(services.ErrAuth, "momentos", "list events", "status 401", nil)
	orch := New(api, materialize.New(t.TempDir(), true), Options{})

	outcome, err := orch.DownloadGroups(context.Background(), testCreds, []string{"g1", "g2"})
	if !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if len(outcome.Groups) != 1 || api.listCalls.Load() != 1 {
		t.Fatalf("expected only g1 to be attempted, groups=%d calls=%d", len(outcome.Groups), api.listCalls.Load())
	}
}

func TestDownloadGroupsEventAuthFailuresAbortRun(t *testing.T) {
	api := newGroupAPI("g1", 2)
	for id, event := range newGroupAPI("g2", 1).events {
		api.events[id] = event
	}
	api.groups["g2"] = []momentos.EventSummary{{ID: "g2-e1"}}
	for _, id := range []string{"g1-e1", "g1-e2"} {
		api.eventErrs[id] = services.Wrap(services.ErrAuth, "momentos", "fetch event", "status 403", nil)
	}
	orch := New(api, materialize.New(t.TempDir(), true), Options{})

	outcome, err := orch.DownloadGroups(context.Background(), testCreds, []string{"g1", "g2"})
	if !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if len(outcome.Groups) != 1 || api.listCalls.Load() != 1 {
		t.Fatalf("expected only g1 to be attempted, groups=%d calls=%d", len(outcome.Groups), api.listCalls.Load())
	}
}

func TestDownloadGroupsMixedEventFailuresContinue(t *testing.T) {
	api := newGroupAPI("g1", 3)
	for id, event := range newGroupAPI("g2", 1).events {
		api.events[id] = event
	}
	api.groups["g2"] = []momentos.EventSummary{{ID: "g2-e1"}}
	api.eventErrs["g1-e1"] = services.Wrap(services.ErrAuth, "momentos", "fetch event", "status 403", nil)
	api.eventErrs["g1-e2"] = services.Wrap(services.ErrNetwork, "momentos", "fetch event", "status 500", nil)
	api.eventErrs["g1-e3"] = services.Wrap(services.ErrNetwork, "momentos", "fetch event", "status 500", nil)
	orch := New(api, materialize.New(t.TempDir(), true), Options{})

	outcome, err := orch.DownloadGroups(context.Background(), testCreds, []string{"g1", "g2"})
	if err == nil || outcome.Groups[0].Err == nil {
		t.Fatalf("expected g1 to fail, got %v", err)
	}
	if len(outcome.Groups) != 2 || api.listCalls.Load() != 2 {
		t.Fatalf("expected g2 to run, groups=%d calls=%d", len(outcome.Groups), api.listCalls.Load())
	}
	if outcome.Groups[1].Err != nil || len(outcome.Groups[1].Written) != 2 {
		t.Fatalf("g2 err=%v written=%d, want nil and 2", outcome.Groups[1].Err, len(outcome.Groups[1].Written))
	}
}

func TestDownloadGroupsListingFailureContinues(t *testing.T) {
	api := newGroupAPI("g2", 2)
	api.listErrs["g1"] = services.Wrap(services.ErrNetwork, "momentos", "list events", "status 502", nil)
	root := t.TempDir()
	orch := New(api, materialize.New(root, true), Options{})

	outcome, err := orch.DownloadGroups(context.Background(), testCreds, []string{"g1", "g2"})
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if len(outcome.Groups) != 2 {
		t.Fatalf("len(Groups) = %d, want 2", len(outcome.Groups))
	}
	if outcome.Groups[0].Err == nil || outcome.Groups[1].Err != nil {
		t.Fatalf("unexpected group errors %v / %v", outcome.Groups[0].Err, outcome.Groups[1].Err)
	}
	if len(outcome.Groups[1].Written) != 4 {
		t.Fatalf("g2 written = %d, want 4", len(outcome.Groups[1].Written))
	}
	if _, err := os.Stat(filepath.Join(root, "g1")); !os.IsNotExist(err) {
		t.Fatal("failed listing should not create the group directory")
	}
}

func TestDownloadGroupsAllEventsFailed(t *testing.T) {
	api := newGroupAPI("g1", 3)
	for id := range api.events {
		api.eventErrs[id] = services.Wrap(services.ErrDecode, "momentos", "fetch event", "bad body", nil)
	}
	orch := New(api, materialize.New(t.TempDir(), true), Options{})

	_, err := orch.DownloadGroups(context.Background(), testCreds, []string{"g1"})
	if !errors.Is(err, services.ErrDecode) {
		t.Fatalf("expected joined ErrDecode, got %v", err)
	}
}

func TestDownloadGroupsEmptyGroup(t *testing.T) {
	api := newGroupAPI("g1", 0)
	root := t.TempDir()
	outcome, err := New(api, materialize.New(root, true), Options{}).DownloadGroups(context.Background(), testCreds, []string{"g1"})
	if err != nil {
		t.Fatalf("DownloadGroups returned error: %v", err)
	}
	if outcome.Groups[0].Index == nil {
		t.Fatal("expected index artifact")
	}
	if _, err := os.Stat(filepath.Join(root, "g1", materialize.IndexFileName)); err != nil {
		t.Fatalf("index missing: %v", err)
	}
}

func TestDownloadGroupsBoundsConcurrency(t *testing.T) {
	api := newGroupAPI("g1", 12)
	api.delay = 20 * time.Millisecond
	orch := New(api, materialize.New(t.TempDir(), true), Options{MaxConcurrent: 3})

	if _, err := orch.DownloadGroups(context.Background(), testCreds, []string{"g1"}); err != nil {
		t.Fatal(err)
	}
	if peak := api.maxInFlight.Load(); peak > 3 || peak < 1 {
		t.Fatalf("peak in-flight = %d, want 1..3", peak)
	}
}

func TestDownloadGroupsCancellation(t *testing.T) {
	api := newGroupAPI("g1", 3)
	for id, event := range newGroupAPI("g2", 1).events {
		api.events[id] = event
	}
	api.groups["g2"] = []momentos.EventSummary{{ID: "g2-e1"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api.onEvent = func(ctx context.Context, eventID string) error {
		if eventID == "g1-e1" {
			cancel()
			return services.Wrap(services.ErrNetwork, "momentos", "fetch event", "request failed", context.Canceled)
		}
		return nil
	}
	orch := New(api, materialize.New(t.TempDir(), true), Options{MaxConcurrent: 1})

	outcome, err := orch.DownloadGroups(ctx, testCreds, []string{"g1", "g2"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(outcome.Groups) != 1 {
		t.Fatalf("expected g2 not to start, got %d groups", len(outcome.Groups))
	}
	cancelled := append([]string(nil), outcome.Groups[0].Cancelled...)
	sort.Strings(cancelled)
	if len(cancelled) != 2 || cancelled[0] != "g1-e2" || cancelled[1] != "g1-e3" {
		t.Fatalf("cancelled = %v, want [g1-e2 g1-e3]", cancelled)
	}
	if api.listCalls.Load() != 1 {
		t.Fatalf("list calls = %d, want 1", api.listCalls.Load())
	}
}

func TestDownloadGroupsRequiresToken(t *testing.T) {
	api := newGroupAPI("g1", 1)
	_, err := New(api, materialize.New(t.TempDir(), true), Options{}).DownloadGroups(context.Background(), momentos.NewCredentials("u1", ""), []string{"g1"})
	if !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if api.listCalls.Load() != 0 {
		t.Fatal("expected no listing without a token")
	}
}

type failingTranscripts struct {
	*materialize.Materializer
}

func (f failingTranscripts) WriteNamedFile(groupID, name, ext string, content materialize.ContentFunc) (materialize.Artifact, error) {
	if ext == "vtt" {
		return materialize.Artifact{}, services.Wrap(services.ErrFilesystem, "materialize", "write file", "disk full", nil)
	}
	return f.Materializer.WriteNamedFile(groupID, name, ext, content)
}

func TestTranscriptFailureStillDownloadsRecording(t *testing.T) {
	api := newGroupAPI("g1", 1)
	root := t.TempDir()
	orch := New(api, failingTranscripts{materialize.New(root, true)}, Options{})

	outcome, err := orch.DownloadGroups(context.Background(), testCreds, []string{"g1"})
	if !errors.Is(err, services.ErrFilesystem) {
		t.Fatalf("expected ErrFilesystem from the only event, got %v", err)
	}
	group := outcome.Groups[0]
	if len(group.Written) != 1 || group.Written[0].Kind != history.KindRecording {
		t.Fatalf("written = %+v, want the recording", group.Written)
	}
	if _, err := os.Stat(filepath.Join(root, "g1", "g1-e1.mp4")); err != nil {
		t.Fatalf("recording missing: %v", err)
	}
}

func TestDownloadGroupsRemovesStalePartials(t *testing.T) {
	api := newGroupAPI("g1", 1)
	root := t.TempDir()
	stale := filepath.Join(root, "g1", "g1-e1.mp4.0b1c.part")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("half"), 0o644); err != nil {
		t.Fatal(err)
	}
	orch := New(api, materialize.New(root, true), Options{})

	if _, err := orch.DownloadGroups(context.Background(), testCreds, []string{"g1"}); err != nil {
		t.Fatalf("DownloadGroups returned error: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale partial to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "g1", "g1-e1.mp4")); err != nil {
		t.Fatalf("expected recording: %v", err)
	}
}

func TestRerunOverwrites(t *testing.T) {
	api := newGroupAPI("g1", 2)
	root := t.TempDir()
	orch := New(api, materialize.New(root, true), Options{})
	for run := 0; run < 2; run++ {
		if _, err := orch.DownloadGroups(context.Background(), testCreds, []string{"g1"}); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(root, "g1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected index plus 4 files after rerun, found %d", len(entries))
	}
	body, err := os.ReadFile(filepath.Join(root, "g1", "g1-e1.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "video:https://cdn.example/g1-e1.mp4" {
		t.Fatalf("recording body = %q", body)
	}
}
