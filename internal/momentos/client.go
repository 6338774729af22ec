package momentos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mdl/internal/services"
)

const (
	// DefaultBaseURL is the production Momentos content service.
	DefaultBaseURL     = "https://mds.production.momentos.life"
	defaultUserAgent   = "mdl/dev"
	defaultHTTPTimeout = 60 * time.Second
	errorBodyLimit     = 4096
	streamChunkSize    = 32 * 1024
	component          = "momentos"
)

// Config describes the Momentos client configuration.
type Config struct {
	BaseURL string
	// Timeout bounds control-plane calls. Zero uses the default.
	Timeout time.Duration
	// RecordingTimeout bounds a whole recording stream. Zero disables it.
	RecordingTimeout  time.Duration
	RequestsPerMinute int
	UserAgent         string
	HTTPClient        *http.Client
}

// ProgressFunc receives the running byte count of a recording stream. Total
// is -1 when the server did not announce a length.
type ProgressFunc func(written, total int64)

// Client wraps the Momentos REST API.
type Client struct {
	baseURL   *url.URL
	userAgent string
	http      *http.Client
	stream    *http.Client
	limiter   *rate.Limiter
}

// New creates a Client from the supplied configuration.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("momentos: parse base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("momentos: base url %q must be absolute", base)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	control := cfg.HTTPClient
	stream := cfg.HTTPClient
	if control == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		control = &http.Client{Timeout: timeout}
		stream = &http.Client{Timeout: cfg.RecordingTimeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		http:      control,
		stream:    stream,
		limiter:   limiter,
	}, nil
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Login exchanges an email and password for a bearer token and user ID.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return LoginResult{}, services.Wrap(services.ErrDecode, component, "login", "encode request", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL.JoinPath("login"), bytes.NewReader(body))
	if err != nil {
		return LoginResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var result LoginResult
	if err := c.doJSON(req, "login", &result); err != nil {
		return LoginResult{}, err
	}
	if strings.TrimSpace(result.Token) == "" || strings.TrimSpace(result.UserID) == "" {
		return LoginResult{}, services.Wrap(services.ErrDecode, component, "login", "response missing jwt or ID", nil)
	}
	return result, nil
}

// UserGroups lists the groups the credential's user belongs to.
func (c *Client) UserGroups(ctx context.Context, creds Credentials) ([]Group, error) {
	uid, ok := creds.UserID()
	if !ok {
		return nil, services.Wrap(services.ErrAuth, component, "list groups", "user id not found", nil)
	}
	req, err := c.authorizedRequest(ctx, creds, "list groups", c.baseURL.JoinPath("api", "v1", "users", uid, "groups"))
	if err != nil {
		return nil, err
	}
	var payload groupsResponse
	if err := c.doJSON(req, "list groups", &payload); err != nil {
		return nil, err
	}
	return payload.Groups, nil
}

// GroupEvents lists the partial events of a group.
func (c *Client) GroupEvents(ctx context.Context, creds Credentials, groupID string) ([]EventSummary, error) {
	req, err := c.authorizedRequest(ctx, creds, "list events", c.baseURL.JoinPath("api", "v1", "groups", groupID, "events"))
	if err != nil {
		return nil, err
	}
	var payload eventsResponse
	if err := c.doJSON(req, "list events", &payload); err != nil {
		return nil, err
	}
	return payload.Events, nil
}

// Event fetches the full detail of one event including its transcript and a
// presigned recording URL.
func (c *Client) Event(ctx context.Context, creds Credentials, groupID, eventID string) (Event, error) {
	endpoint := c.baseURL.JoinPath("api", "v1", "groups", groupID, "events", eventID)
	params := url.Values{}
	params.Set("fields", "title,recording,published,transcript")
	params.Set("presignedURL", "true")
	endpoint.RawQuery = params.Encode()

	req, err := c.authorizedRequest(ctx, creds, "fetch event", endpoint)
	if err != nil {
		return Event{}, err
	}
	var event Event
	if err := c.doJSON(req, "fetch event", &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Recording streams the media behind a presigned URL into w without buffering
// the whole payload. No credentials are sent. A non-nil progress is invoked
// after every chunk.
func (c *Client) Recording(ctx context.Context, rawURL string, w io.Writer, progress ProgressFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrNetwork, component, "fetch recording", "build request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.stream.Do(req)
	if err != nil {
		return 0, services.Wrap(services.ErrNetwork, component, "fetch recording", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return 0, services.Wrap(services.ErrNetwork, component, "fetch recording",
			fmt.Sprintf("status %s: %s", resp.Status, strings.TrimSpace(string(body))), nil)
	}

	reader := &progressReader{reader: resp.Body, total: resp.ContentLength, onProgress: progress}
	written, err := io.CopyBuffer(w, reader, make([]byte, streamChunkSize))
	if err != nil {
		if reader.err != nil {
			return written, services.Wrap(services.ErrNetwork, component, "fetch recording", "stream interrupted", err)
		}
		return written, services.Wrap(services.ErrFilesystem, component, "fetch recording", "write recording", err)
	}
	return written, nil
}

func (c *Client) authorizedRequest(ctx context.Context, creds Credentials, operation string, endpoint *url.URL) (*http.Request, error) {
	token, ok := creds.BearerToken()
	if !ok {
		return nil, services.Wrap(services.ErrAuth, component, operation, "access token not found", nil)
	}
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) newRequest(ctx context.Context, method string, endpoint *url.URL, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, component, method, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

func (c *Client) doJSON(req *http.Request, operation string, target any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return services.Wrap(services.ErrNetwork, component, operation, "rate limiter", err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrNetwork, component, operation, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		marker := services.ErrNetwork
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			marker = services.ErrAuth
		}
		return services.Wrap(marker, component, operation,
			fmt.Sprintf("status %s: %s", resp.Status, strings.TrimSpace(string(body))), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		if isTransportError(err) {
			return services.Wrap(services.ErrNetwork, component, operation, "read response", err)
		}
		return services.Wrap(services.ErrDecode, component, operation, "decode response", err)
	}
	return nil
}

// isTransportError separates a body cut off mid-read from a malformed one.
func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

type progressReader struct {
	reader     io.Reader
	total      int64
	written    int64
	onProgress ProgressFunc
	err        error
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.written += int64(n)
		if r.onProgress != nil {
			r.onProgress(r.written, r.total)
		}
	}
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}
