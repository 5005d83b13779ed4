package aura

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrBusy is returned when a chat turn is submitted while another is in flight.
	ErrBusy = errors.New("aura: a message is already being processed")
	// ErrDisconnected is returned when the backend was last probed as unreachable.
	ErrDisconnected = errors.New("aura: backend is disconnected")
	// ErrInvalidEventID is returned when no identifier strategy yields an integer id.
	ErrInvalidEventID = errors.New("aura: event identifier is not a valid integer")
	// ErrNotConflicting is returned when a replace target is not part of the open conflict.
	ErrNotConflicting = errors.New("aura: event is not one of the conflicting events")
	// ErrNoOpenConflict is returned when a resolution is requested with no open conflict.
	ErrNoOpenConflict = errors.New("aura: no conflict is open")
	// ErrNotFound is returned by blob stores for missing keys.
	ErrNotFound = errors.New("aura: not found")
)

// HTTPError is a non-2xx answer from the backend.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, body)
}

// TransportError wraps any failure to complete a request: network errors,
// non-2xx statuses (as *HTTPError) and undecodable bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err is a transport failure the UI can
// surface as a banner and retry later.
func IsRecoverable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ============================================================================
// Timestamps
// ============================================================================

// wireLayout keeps the numeric offset so zone-less parsers on the backend
// still accept the value.
const wireLayout = "2006-01-02T15:04:05-07:00"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Timestamp is a time.Time that also accepts the backend's zone-less ISO
// form. Zone-less values are read in the local zone.
type Timestamp struct {
	time.Time
}

// At wraps t as a Timestamp.
func At(t time.Time) Timestamp { return Timestamp{Time: t} }

// ParseTimestamp parses s using every accepted layout in turn.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// String formats the timestamp the way it is sent on the wire.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.Format(wireLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(wireLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ============================================================================
// Events
// ============================================================================

// EventStatus is the lifecycle status the backend keeps for an event.
type EventStatus string

const (
	EventActive    EventStatus = "active"
	EventCancelled EventStatus = "cancelled"
)

// Event is a committed calendar event. ID is assigned by the backend.
type Event struct {
	ID          int64       `json:"event_id"`
	Title       string      `json:"title"`
	Description *string     `json:"description,omitempty"`
	Start       Timestamp   `json:"start_time"`
	End         Timestamp   `json:"end_time"`
	Location    *string     `json:"location,omitempty"`
	Importance  int         `json:"importance"`
	Status      EventStatus `json:"status"`

	// identifiers holds the raw id fields as received, for ResolveEventID.
	identifiers map[string]json.RawMessage
}

func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var aux struct {
		plain
		ID    json.RawMessage `json:"event_id"`
		AltID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Event(aux.plain)
	e.identifiers = nil
	for field, raw := range map[string]json.RawMessage{"event_id": aux.ID, "id": aux.AltID} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		if e.identifiers == nil {
			e.identifiers = make(map[string]json.RawMessage, 2)
		}
		e.identifiers[field] = raw
	}
	if id, err := ResolveEventID(*e); err == nil {
		e.ID = id
	}
	return nil
}

// IsActive reports whether the event still occupies its slot. Events
// without a status are treated as active.
func (e Event) IsActive() bool {
	return e.Status == "" || e.Status == EventActive
}

// Draft returns the creatable fields of e.
func (e Event) Draft() EventDraft {
	return EventDraft{
		Title:       e.Title,
		Description: e.Description,
		Start:       e.Start,
		End:         e.End,
		Location:    e.Location,
		Importance:  e.Importance,
	}
}

// EventDraft is an event that has not been committed yet: no id, no status.
type EventDraft struct {
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Start       Timestamp `json:"start_time"`
	End         Timestamp `json:"end_time"`
	Location    *string   `json:"location,omitempty"`
	Importance  int       `json:"importance"`
}

// Validate checks the fields the backend requires.
func (d EventDraft) Validate() error {
	switch {
	case strings.TrimSpace(d.Title) == "":
		return errors.New("title is required")
	case d.Start.IsZero() || d.End.IsZero():
		return errors.New("start and end are required")
	case !d.End.After(d.Start.Time):
		return errors.New("end must be after start")
	case d.Importance < 0 || d.Importance > 10:
		return fmt.Errorf("importance %d out of range 0-10", d.Importance)
	}
	return nil
}

// EventPatch carries the fields to change in an update. Nil fields are left alone.
type EventPatch struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Start       *Timestamp   `json:"start_time,omitempty"`
	End         *Timestamp   `json:"end_time,omitempty"`
	Location    *string      `json:"location,omitempty"`
	Importance  *int         `json:"importance,omitempty"`
	Status      *EventStatus `json:"status,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p EventPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Start == nil && p.End == nil &&
		p.Location == nil && p.Importance == nil && p.Status == nil
}

// DeleteConfirmation is the backend's answer to an event deletion.
type DeleteConfirmation struct {
	Message string `json:"message"`
}

// ConflictCheck is the answer of the remote conflict check.
type ConflictCheck struct {
	Conflicts    []Event `json:"conflicts"`
	HasConflicts bool    `json:"has_conflicts"`
}

// ============================================================================
// Chat
// ============================================================================

// Role identifies who produced a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) valid() bool { return r == RoleUser || r == RoleAssistant }

// ChatTurn is one message of the conversation. Turns are immutable once
// appended to a ConversationStore.
type ChatTurn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn with a fresh id and the current time.
func NewTurn(role Role, text string) ChatTurn {
	return ChatTurn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// UIAction is an instruction for the UI carried by an assistant reply.
// The variants are UpdateCalendarAction, RemoveEventAction and
// ShowConflictAction.
type UIAction interface {
	uiAction()
}

// UpdateCalendarAction reports that the assistant created or changed an event.
type UpdateCalendarAction struct {
	Event *Event
}

// RemoveEventAction reports that the assistant deleted an event.
type RemoveEventAction struct {
	EventID int64
}

// ShowConflictAction asks the UI to resolve a scheduling conflict.
type ShowConflictAction struct {
	ConflictingEvents []Event
	ProposedEvent     EventDraft
}

func (*UpdateCalendarAction) uiAction() {}
func (*RemoveEventAction) uiAction()    {}
func (*ShowConflictAction) uiAction()   {}

// ChatReply is the assistant's answer to a chat turn.
type ChatReply struct {
	Text   string
	Action UIAction
}

// FallbackReplyText is used whenever the assistant could not be reached.
const FallbackReplyText = "I'm sorry, I encountered an issue processing your request. Could you try again or rephrase your message?"

// FallbackReply is the locally fabricated reply for failed chat turns.
func FallbackReply() *ChatReply {
	return &ChatReply{Text: FallbackReplyText}
}

type messageRequest struct {
	Message        string `json:"message"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

type messageResponse struct {
	Text     string          `json:"text"`
	UIAction json.RawMessage `json:"ui_action,omitempty"`
}

type wireUIAction struct {
	Type              string          `json:"type"`
	Event             *Event          `json:"event,omitempty"`
	EventID           json.RawMessage `json:"event_id,omitempty"`
	ConflictingEvents []Event         `json:"conflicting_events,omitempty"`
	ProposedEvent     *EventDraft     `json:"proposed_event,omitempty"`
}

const (
	actionUpdateCalendar = "update_calendar"
	actionRemoveEvent    = "remove_event"
	actionShowConflict   = "show_conflict"
)

// decodeUIAction maps the tagged wire form onto a UIAction. An absent
// action decodes to nil.
func decodeUIAction(raw json.RawMessage) (UIAction, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var w wireUIAction
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode ui_action: %w", err)
	}
	switch w.Type {
	case actionUpdateCalendar:
		return &UpdateCalendarAction{Event: w.Event}, nil
	case actionRemoveEvent:
		id, err := parseIdentifier(w.EventID)
		if err != nil && w.Event != nil {
			id, err = ResolveEventID(*w.Event)
		}
		if err != nil {
			return nil, fmt.Errorf("remove_event: %w", err)
		}
		return &RemoveEventAction{EventID: id}, nil
	case actionShowConflict:
		a := &ShowConflictAction{ConflictingEvents: w.ConflictingEvents}
		if w.ProposedEvent != nil {
			a.ProposedEvent = *w.ProposedEvent
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown ui_action type %q", w.Type)
	}
}
