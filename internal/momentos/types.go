package momentos

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Credentials is the immutable identity passed into every authenticated call.
type Credentials struct {
	userID string
	token  string
}

// NewCredentials builds Credentials from a stored user ID and bearer token.
func NewCredentials(userID, token string) Credentials {
	return Credentials{userID: strings.TrimSpace(userID), token: strings.TrimSpace(token)}
}

// UserID returns the user identifier when present.
func (c Credentials) UserID() (string, bool) {
	return c.userID, c.userID != ""
}

// BearerToken returns the access token when present.
func (c Credentials) BearerToken() (string, bool) {
	return c.token, c.token != ""
}

// LoginResult is the body returned by POST /login.
type LoginResult struct {
	Token      string `json:"jwt"`
	UserID     string `json:"ID"`
	Privileges string `json:"privileges"`
}

// Group is a collection of events the user belongs to.
type Group struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// EventSummary is the partial event returned by a group listing.
type EventSummary struct {
	ID        string `json:"_id"`
	Title     string `json:"title"`
	Published bool   `json:"published"`
}

// Recording references the media for an event. PresignedURL is nil until the
// service has processed the recording.
type Recording struct {
	ID           string  `json:"ID"`
	PresignedURL *string `json:"presignedURL"`
}

// DownloadURL returns the presigned URL when one is available.
func (r Recording) DownloadURL() (string, bool) {
	if r.PresignedURL == nil {
		return "", false
	}
	url := strings.TrimSpace(*r.PresignedURL)
	return url, url != ""
}

// Phrase is a timed span of transcript text. Times are seconds from the start
// of the recording.
type Phrase struct {
	ID    string
	Text  string
	Start float32
	End   float32
}

type phrasePayload struct {
	ID           string          `json:"_id"`
	Text         string          `json:"text"`
	TimeInterval json.RawMessage `json:"timeInterval"`
}

// UnmarshalJSON decodes the wire form where times arrive as a
// `timeInterval: [start, end]` pair.
func (p *Phrase) UnmarshalJSON(data []byte) error {
	var payload phrasePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	var interval []float32
	if err := json.Unmarshal(payload.TimeInterval, &interval); err != nil {
		return fmt.Errorf("phrase %q: timeInterval: %w", payload.ID, err)
	}
	if len(interval) != 2 {
		return fmt.Errorf("phrase %q: timeInterval has %d elements, want 2", payload.ID, len(interval))
	}
	*p = Phrase{ID: payload.ID, Text: payload.Text, Start: interval[0], End: interval[1]}
	return nil
}

// MarshalJSON renders the wire form.
func (p Phrase) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID           string     `json:"_id"`
		Text         string     `json:"text"`
		TimeInterval [2]float32 `json:"timeInterval"`
	}{p.ID, p.Text, [2]float32{p.Start, p.End}})
}

// Transcript is an ordered list of phrases. Order is the service's and is
// never re-sorted.
type Transcript struct {
	Phrases []Phrase `json:"phrases"`
}

// Event is the full event detail. A nil Transcript means the event has none.
type Event struct {
	ID         string      `json:"_id"`
	Title      string      `json:"title"`
	Published  bool        `json:"published"`
	Recording  Recording   `json:"recording"`
	Transcript *Transcript `json:"transcript"`
}

type groupsResponse struct {
	Groups []Group `json:"groups"`
}

type eventsResponse struct {
	Events []EventSummary `json:"events"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
