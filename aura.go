// Package aura is the client core of the Aura calendar assistant.
//
// It covers the event and conversation transport, the locally persisted
// conversation log, scheduling-conflict resolution and backend liveness.
// Rendering is left to the caller, which drives these types and renders
// their state.
//
// Example:
//
//	client := aura.NewClient(aura.WithEnvironment(aura.EnvironmentFromEnv()))
//	store := aura.NewConversationStore(aura.NewFileBlobStore(dir), aura.DefaultConversationKey, nil)
//	monitor := aura.NewConnectionMonitor(client, nil)
//	resolver := aura.NewConflictResolver(client, store, nil, nil)
//	session := aura.NewSession(aura.SessionConfig{
//		Sender: client, Store: store, Resolver: resolver, Connection: monitor,
//	})
//
//	session.Start(ctx)
//	session.Submit(ctx, "Schedule lunch at noon tomorrow")
package aura

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

var environments = map[Environment]string{
	Development: "http://localhost:8000",
	Production:  "https://api.aura-calendar.app",
}

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second
	DefaultUserID  = "default_user"
)

// EnvironmentFromEnv selects the environment from AURA_ENV. Anything other
// than "production" selects development.
func EnvironmentFromEnv() Environment {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("AURA_ENV"))) {
	case "production", "prod":
		return Production
	default:
		return Development
	}
}

// BaseURLFor returns the base URL of a known environment.
func BaseURLFor(env Environment) (string, bool) {
	u, ok := environments[env]
	return u, ok
}

// ============================================================================
// Client
// ============================================================================

// Client talks to the assistant backend. The base URL is fixed when the
// client is built.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
	logger     *slog.Logger
	notifier   *Notifier
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithUserID(userID string) ClientOption {
	return func(c *Client) { c.userID = userID }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithNotifier routes recoverable transport errors to n.
func WithNotifier(n *Notifier) ClientOption {
	return func(c *Client) { c.notifier = n }
}

// NewClient creates a new client. Without options it targets the
// development backend.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		userID:  DefaultUserID,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = discardLogger()
	}
	return c
}

// BaseURL returns the backend the client was built for.
func (c *Client) BaseURL() string { return c.baseURL }

// UserID returns the user id sent with chat turns.
func (c *Client) UserID() string { return c.userID }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	op := method + " " + path
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: op, Err: &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}}
	}
	return data, nil
}

func decodeJSON[T any](op string, data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	return &result, nil
}

// recoverable logs a failure that is answered with a safe default and
// surfaces it as a banner notification.
func (c *Client) recoverable(what string, err error) {
	c.logger.Warn("backend request failed", "op", what, "error", err)
	c.notifier.Emit(NotifyTransportError, "Could not "+what+": "+err.Error(), err)
}

func eventPath(id int64) string {
	return "/events/" + strconv.FormatInt(id, 10)
}

func rangeQuery(start, end time.Time) url.Values {
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start", start.Format(wireLayout))
	}
	if !end.IsZero() {
		q.Set("end", end.Format(wireLayout))
	}
	return q
}

// ============================================================================
// Event API
// ============================================================================

// ListEvents returns the events in [start, end]. Zero bounds are omitted.
// On failure it returns an empty list together with the error, which is
// recoverable and has already been published to the notifier.
func (c *Client) ListEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	const op = "GET /events"
	data, err := c.doRequest(ctx, http.MethodGet, "/events", nil, rangeQuery(start, end))
	if err != nil {
		c.recoverable("load events", err)
		return []Event{}, err
	}
	events, err := decodeJSON[[]Event](op, data)
	if err != nil {
		c.recoverable("load events", err)
		return []Event{}, err
	}
	if *events == nil {
		return []Event{}, nil
	}
	return *events, nil
}

// CreateEvent commits a draft. Failures are returned to the caller.
func (c *Client) CreateEvent(ctx context.Context, draft EventDraft) (*Event, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/events", draft, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Event]("POST /events", data)
}

// UpdateEvent applies patch to the event with the given id.
func (c *Client) UpdateEvent(ctx context.Context, id int64, patch EventPatch) (*Event, error) {
	path := eventPath(id)
	data, err := c.doRequest(ctx, http.MethodPut, path, patch, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Event]("PUT "+path, data)
}

// DeleteEvent removes the event with the given id.
func (c *Client) DeleteEvent(ctx context.Context, id int64) (*DeleteConfirmation, error) {
	path := eventPath(id)
	data, err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var conf DeleteConfirmation
	if json.Unmarshal(data, &conf) != nil || conf.Message == "" {
		// Some deployments answer with plain text.
		conf.Message = strings.TrimSpace(string(data))
	}
	if conf.Message == "" {
		conf.Message = fmt.Sprintf("Event %d deleted", id)
	}
	return &conf, nil
}

// CheckConflicts asks the backend which active events overlap [start, end).
// excludeID of 0 excludes nothing. On failure it returns an empty result
// and the error.
func (c *Client) CheckConflicts(ctx context.Context, start, end time.Time, excludeID int64) (*ConflictCheck, error) {
	const op = "GET /check-conflicts"
	q := rangeQuery(start, end)
	if excludeID != 0 {
		q.Set("exclude_event_id", strconv.FormatInt(excludeID, 10))
	}
	empty := &ConflictCheck{Conflicts: []Event{}}

	data, err := c.doRequest(ctx, http.MethodGet, "/check-conflicts", nil, q)
	if err != nil {
		c.logger.Warn("conflict check failed", "error", err)
		return empty, err
	}
	check, err := decodeJSON[ConflictCheck](op, data)
	if err != nil {
		c.logger.Warn("conflict check failed", "error", err)
		return empty, err
	}
	if check.Conflicts == nil {
		check.Conflicts = []Event{}
	}
	check.HasConflicts = check.HasConflicts || len(check.Conflicts) > 0
	return check, nil
}

// ============================================================================
// Conversation API
// ============================================================================

// SendMessage relays one user turn to the assistant. It always returns a
// reply: when the backend cannot be reached or answers garbage the reply is
// FallbackReply() and the error explains why.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string) (*ChatReply, error) {
	const op = "POST /message"
	req := messageRequest{Message: text, UserID: c.userID, ConversationID: conversationID}

	data, err := c.doRequest(ctx, http.MethodPost, "/message", req, nil)
	if err != nil {
		c.logger.Warn("chat turn failed", "conversation_id", conversationID, "error", err)
		return FallbackReply(), err
	}
	resp, err := decodeJSON[messageResponse](op, data)
	if err != nil {
		c.logger.Warn("chat turn failed", "conversation_id", conversationID, "error", err)
		return FallbackReply(), err
	}

	reply := &ChatReply{Text: resp.Text}
	if strings.TrimSpace(reply.Text) == "" {
		reply.Text = FallbackReplyText
	}
	action, err := decodeUIAction(resp.UIAction)
	if err != nil {
		// The text is still worth showing.
		c.logger.Warn("ignoring ui action", "conversation_id", conversationID, "error", err)
		return reply, nil
	}
	reply.Action = action
	return reply, nil
}

// CheckHealth reports whether GET /health answers 2xx. It never fails.
func (c *Client) CheckHealth(ctx context.Context) bool {
	if _, err := c.doRequest(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		c.logger.Debug("health check failed", "base_url", c.baseURL, "error", err)
		return false
	}
	return true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
