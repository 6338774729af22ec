package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"mdl/internal/momentos"
)

// Fake login identity accepted by FakeMomentos.
const (
	FakeEmail    = "user@example.com"
	FakePassword = "secret"
	FakeUserID   = "u1"
	FakeToken    = "fake-token"
)

// FakeEvent describes an event served by FakeMomentos. A nil Phrases slice
// means no transcript; a nil Recording means no presigned URL.
type FakeEvent struct {
	ID        string
	Title     string
	Published bool
	Phrases   []momentos.Phrase
	Recording []byte
}

// FakeMomentos is an in-process Momentos service for tests.
type FakeMomentos struct {
	server *httptest.Server

	mu          sync.Mutex
	groups      []momentos.Group
	events      map[string][]FakeEvent
	listStatus  map[string]int
	eventStatus map[string]int
	requests    []string
}

// NewFakeMomentos starts a fake service and closes it when the test ends.
func NewFakeMomentos(t testing.TB) *FakeMomentos {
	t.Helper()
	fake := &FakeMomentos{
		events:      map[string][]FakeEvent{},
		listStatus:  map[string]int{},
		eventStatus: map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", fake.handleLogin)
	mux.HandleFunc("GET /api/v1/users/{uid}/groups", fake.authorized(fake.handleGroups))
	mux.HandleFunc("GET /api/v1/groups/{gid}/events", fake.authorized(fake.handleEvents))
	mux.HandleFunc("GET /api/v1/groups/{gid}/events/{eid}", fake.authorized(fake.handleEvent))
	mux.HandleFunc("GET /recordings/{gid}/{eid}", fake.handleRecording)
	fake.server = httptest.NewServer(fake.logged(mux))
	t.Cleanup(fake.server.Close)
	return fake
}

// URL returns the service root.
func (f *FakeMomentos) URL() string {
	return f.server.URL
}

// AddGroup registers a group and its events.
func (f *FakeMomentos) AddGroup(id, name string, events ...FakeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, momentos.Group{ID: id, Name: name})
	f.events[id] = append(f.events[id], events...)
}

// FailListing makes the event listing of a group answer with status.
func (f *FakeMomentos) FailListing(groupID string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listStatus[groupID] = status
}

// FailEvent makes the detail request of an event answer with status.
func (f *FakeMomentos) FailEvent(eventID string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventStatus[eventID] = status
}

// Requests returns the method and path of every request served so far.
func (f *FakeMomentos) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *FakeMomentos) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *FakeMomentos) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+FakeToken {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *FakeMomentos) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if body.Email != FakeEmail || body.Password != FakePassword {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	writeJSON(w, momentos.LoginResult{Token: FakeToken, UserID: FakeUserID, Privileges: "user"})
}

func (f *FakeMomentos) handleGroups(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("uid") != FakeUserID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	f.mu.Lock()
	groups := append([]momentos.Group(nil), f.groups...)
	f.mu.Unlock()
	writeJSON(w, map[string]any{"groups": groups})
}

func (f *FakeMomentos) handleEvents(w http.ResponseWriter, r *http.Request) {
	gid := r.PathValue("gid")
	f.mu.Lock()
	status := f.listStatus[gid]
	events := append([]FakeEvent(nil), f.events[gid]...)
	f.mu.Unlock()
	if status != 0 {
		http.Error(w, "listing failed", status)
		return
	}
	summaries := make([]momentos.EventSummary, 0, len(events))
	for _, event := range events {
		summaries = append(summaries, momentos.EventSummary{ID: event.ID, Title: event.Title, Published: event.Published})
	}
	writeJSON(w, map[string]any{"events": summaries})
}

func (f *FakeMomentos) handleEvent(w http.ResponseWriter, r *http.Request) {
	gid, eid := r.PathValue("gid"), r.PathValue("eid")
	f.mu.Lock()
	status := f.eventStatus[eid]
	event, ok := f.find(gid, eid)
	f.mu.Unlock()
	if status != 0 {
		http.Error(w, "event failed", status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	detail := momentos.Event{ID: event.ID, Title: event.Title, Published: event.Published, Recording: momentos.Recording{ID: "rec-" + event.ID}}
	if event.Recording != nil {
		url := f.server.URL + "/recordings/" + gid + "/" + eid
		detail.Recording.PresignedURL = &url
	}
	if event.Phrases != nil {
		detail.Transcript = &momentos.Transcript{Phrases: event.Phrases}
	}
	writeJSON(w, detail)
}

func (f *FakeMomentos) handleRecording(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	event, ok := f.find(r.PathValue("gid"), r.PathValue("eid"))
	f.mu.Unlock()
	if !ok || event.Recording == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	_, _ = w.Write(event.Recording)
}

// find must be called with f.mu held.
func (f *FakeMomentos) find(groupID, eventID string) (FakeEvent, bool) {
	for _, event := range f.events[groupID] {
		if event.ID == eventID {
			return event, true
		}
	}
	return FakeEvent{}, false
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
