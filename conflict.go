package aura

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ============================================================================
// Detection
// ============================================================================

// DetectConflicts returns the active events in known that overlap draft,
// most important first and then by start time. Events that merely touch
// the draft (one ends when the other starts) do not conflict. excludeID of
// 0 excludes nothing.
func DetectConflicts(draft EventDraft, known []Event, excludeID int64) []Event {
	var out []Event
	for _, ev := range known {
		if !ev.IsActive() {
			continue
		}
		if excludeID != 0 && ev.ID == excludeID {
			continue
		}
		if ev.Start.Before(draft.End.Time) && ev.End.After(draft.Start.Time) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Start.Before(out[j].Start.Time)
	})
	return out
}

// ============================================================================
// Identifier extraction
// ============================================================================

// identifierStrategy extracts an event id from one named field.
type identifierStrategy struct {
	field string
}

func (s identifierStrategy) extract(fields map[string]json.RawMessage) (int64, error) {
	raw, ok := fields[s.field]
	if !ok {
		return 0, fmt.Errorf("%s: missing", s.field)
	}
	id, err := parseIdentifier(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", s.field, err)
	}
	return id, nil
}

// eventIDStrategies are tried in order; the first success wins.
var eventIDStrategies = []identifierStrategy{
	{field: "event_id"},
	{field: "id"},
}

// parseIdentifier accepts a JSON integer or a string holding one.
func parseIdentifier(raw json.RawMessage) (int64, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, errors.New("missing")
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		text = strings.TrimSpace(s)
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", text)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%d is not a valid id", id)
	}
	return id, nil
}

func (e Event) identifierFields() map[string]json.RawMessage {
	if e.identifiers != nil {
		return e.identifiers
	}
	if e.ID != 0 {
		return map[string]json.RawMessage{"event_id": json.RawMessage(strconv.FormatInt(e.ID, 10))}
	}
	return nil
}

// ResolveEventID returns the backend id of ev, trying the "event_id" field
// and then the "id" field. It wraps ErrInvalidEventID when both fail.
func ResolveEventID(ev Event) (int64, error) {
	fields := ev.identifierFields()
	errs := make([]error, 0, len(eventIDStrategies))
	for _, s := range eventIDStrategies {
		id, err := s.extract(fields)
		if err == nil {
			return id, nil
		}
		errs = append(errs, err)
	}
	return 0, fmt.Errorf("%w: %w", ErrInvalidEventID, errors.Join(errs...))
}

// ============================================================================
// Resolution
// ============================================================================

// ConflictCase is a proposed event that overlaps existing ones. The
// conflicting events are a snapshot taken when the conflict was reported.
type ConflictCase struct {
	ProposedEvent     EventDraft
	ConflictingEvents []Event
	IsOpen            bool
}

// Resolution names the action that closed a conflict.
type Resolution string

const (
	ResolutionCancel   Resolution = "cancel"
	ResolutionKeepBoth Resolution = "keep_both"
	ResolutionReplace  Resolution = "replace"
)

// EventMutator is the part of the transport a replacement needs.
type EventMutator interface {
	CreateEvent(ctx context.Context, draft EventDraft) (*Event, error)
	DeleteEvent(ctx context.Context, id int64) (*DeleteConfirmation, error)
}

// TurnAppender records assistant turns describing the outcome.
type TurnAppender interface {
	Append(ctx context.Context, turn ChatTurn) error
}

// ConflictResolver holds at most one open ConflictCase. Conflicts reported
// while one is open (or being resolved) wait in a FIFO queue and open in
// turn. Resolving does not re-check the backend: the snapshot may be stale
// by the time the user acts.
type ConflictResolver struct {
	events   EventMutator
	turns    TurnAppender
	notifier *Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	open      *ConflictCase
	resolving bool
	queue     []ConflictCase
}

func NewConflictResolver(events EventMutator, turns TurnAppender, notifier *Notifier, logger *slog.Logger) *ConflictResolver {
	if logger == nil {
		logger = discardLogger()
	}
	return &ConflictResolver{events: events, turns: turns, notifier: notifier, logger: logger}
}

// Open presents c, or queues it behind the open case. It reports whether
// c became the open case.
func (r *ConflictResolver) Open(c ConflictCase) bool {
	c.ConflictingEvents = append([]Event(nil), c.ConflictingEvents...)
	c.IsOpen = false

	r.mu.Lock()
	if r.open != nil || r.resolving {
		r.queue = append(r.queue, c)
		pending := len(r.queue)
		r.mu.Unlock()
		r.logger.Info("conflict queued", "title", c.ProposedEvent.Title, "pending", pending)
		return false
	}
	c.IsOpen = true
	r.open = &c
	r.mu.Unlock()

	r.announce(c)
	return true
}

func (r *ConflictResolver) announce(c ConflictCase) {
	r.logger.Info("conflict opened", "title", c.ProposedEvent.Title, "conflicts", len(c.ConflictingEvents))
	r.notifier.Emit(NotifyConflictOpened,
		fmt.Sprintf("%q overlaps %d existing event(s)", c.ProposedEvent.Title, len(c.ConflictingEvents)), c)
}

// Current returns a copy of the open case.
func (r *ConflictResolver) Current() (ConflictCase, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open == nil {
		return ConflictCase{}, false
	}
	c := *r.open
	c.ConflictingEvents = append([]Event(nil), c.ConflictingEvents...)
	return c, true
}

// IsOpen reports whether a conflict awaits resolution.
func (r *ConflictResolver) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open != nil
}

// Pending returns the number of queued conflicts behind the open one.
func (r *ConflictResolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// take closes the open case before any side effect runs.
func (r *ConflictResolver) take() (ConflictCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open == nil {
		return ConflictCase{}, ErrNoOpenConflict
	}
	c := *r.open
	c.IsOpen = false
	r.open = nil
	r.resolving = true
	return c, nil
}

// finish promotes the next queued case, if any.
func (r *ConflictResolver) finish(c ConflictCase, how Resolution, err error) {
	r.notifier.Emit(NotifyConflictResolved, string(how), err)

	r.mu.Lock()
	r.resolving = false
	var next *ConflictCase
	if len(r.queue) > 0 {
		n := r.queue[0]
		r.queue = r.queue[1:]
		n.IsOpen = true
		r.open = &n
		next = &n
	}
	r.mu.Unlock()

	r.logger.Info("conflict resolved", "title", c.ProposedEvent.Title, "resolution", how, "error", err)
	if next != nil {
		r.announce(*next)
	}
}

func (r *ConflictResolver) say(ctx context.Context, text string) error {
	if err := r.turns.Append(ctx, NewTurn(RoleAssistant, text)); err != nil {
		r.logger.Error("failed to record conflict outcome", "error", err)
		return err
	}
	return nil
}

// Cancel drops the proposed event without touching the backend.
func (r *ConflictResolver) Cancel(ctx context.Context) error {
	c, err := r.take()
	if err != nil {
		return err
	}
	err = r.say(ctx, fmt.Sprintf("Okay, I've cancelled that. %q was not added to your calendar.", c.ProposedEvent.Title))
	r.finish(c, ResolutionCancel, err)
	return err
}

// KeepBoth leaves the calendar alone and asks for another time.
func (r *ConflictResolver) KeepBoth(ctx context.Context) error {
	c, err := r.take()
	if err != nil {
		return err
	}
	err = r.say(ctx, fmt.Sprintf("No problem, your existing events stay as they are. What other time would work for %q?", c.ProposedEvent.Title))
	r.finish(c, ResolutionKeepBoth, err)
	return err
}

// ReplaceAt replaces the i-th conflicting event of the open case.
func (r *ConflictResolver) ReplaceAt(ctx context.Context, i int) error {
	c, ok := r.Current()
	if !ok {
		return ErrNoOpenConflict
	}
	if i < 0 || i >= len(c.ConflictingEvents) {
		return fmt.Errorf("conflict index %d out of range (%d events)", i, len(c.ConflictingEvents))
	}
	return r.Replace(ctx, c.ConflictingEvents[i])
}

// Replace deletes target and creates the proposed event in its place. A
// failure of either call is reported in the conversation and returned; the
// backend is left as the failure left it.
func (r *ConflictResolver) Replace(ctx context.Context, target Event) error {
	c, err := r.take()
	if err != nil {
		return err
	}

	id, err := r.targetID(c, target)
	if err != nil {
		r.logger.Warn("replace rejected", "title", target.Title, "error", err)
		r.notifier.Emit(NotifyValidationError, fmt.Sprintf("Cannot replace %q: %v", target.Title, err), err)
		r.finish(c, ResolutionReplace, err)
		return err
	}

	proposed := c.ProposedEvent
	if _, err := r.events.DeleteEvent(ctx, id); err != nil {
		err = fmt.Errorf("delete event %d: %w", id, err)
		r.say(ctx, fmt.Sprintf("I couldn't remove %q, so %q was not scheduled. Your calendar was not changed. (%v)",
			target.Title, proposed.Title, err))
		r.finish(c, ResolutionReplace, err)
		return err
	}

	created, err := r.events.CreateEvent(ctx, proposed)
	if err != nil {
		err = fmt.Errorf("create event %q: %w", proposed.Title, err)
		r.say(ctx, fmt.Sprintf("I removed %q but couldn't add %q. You may need to add it again. (%v)",
			target.Title, proposed.Title, err))
		r.notifier.Emit(NotifyEventRemoved, fmt.Sprintf("Removed %q", target.Title), id)
		r.finish(c, ResolutionReplace, err)
		return err
	}

	title, start := created.Title, created.Start
	if title == "" {
		title = proposed.Title
	}
	if start.IsZero() {
		start = proposed.Start
	}
	err = r.say(ctx, fmt.Sprintf("Done! I replaced %q with %q on %s.",
		target.Title, title, start.Local().Format("Mon, Jan 2 at 15:04")))
	r.notifier.Emit(NotifyCalendarUpdated, fmt.Sprintf("Replaced %q with %q", target.Title, title), created)
	r.finish(c, ResolutionReplace, nil)
	return err
}

// targetID resolves target's id and checks it belongs to c.
func (r *ConflictResolver) targetID(c ConflictCase, target Event) (int64, error) {
	id, err := ResolveEventID(target)
	if err != nil {
		return 0, err
	}
	for _, ev := range c.ConflictingEvents {
		if other, err := ResolveEventID(ev); err == nil && other == id {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: event %d", ErrNotConflicting, id)
}
