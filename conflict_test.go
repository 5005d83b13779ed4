package aura

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

var noon = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func testEvent(id int64, title string, start time.Time, d time.Duration, importance int) Event {
	return Event{
		ID: id, Title: title, Start: At(start), End: At(start.Add(d)),
		Importance: importance, Status: EventActive,
	}
}

func lunchDraft() EventDraft {
	return EventDraft{Title: "Lunch", Start: At(noon), End: At(noon.Add(time.Hour)), Importance: 5}
}

// fakeMutator records calls in order and fails on demand.
type fakeMutator struct {
	mu        sync.Mutex
	calls     []string
	deleteErr error
	createErr error
	nextID    int64
}

func (f *fakeMutator) DeleteEvent(_ context.Context, id int64) (*DeleteConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("delete(%d)", id))
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &DeleteConfirmation{Message: "deleted"}, nil
}

func (f *fakeMutator) CreateEvent(_ context.Context, d EventDraft) (*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("create(%s)", d.Title))
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	return &Event{
		ID: 100 + f.nextID, Title: d.Title, Start: d.Start, End: d.End,
		Importance: d.Importance, Status: EventActive,
	}, nil
}

func (f *fakeMutator) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestResolver(t *testing.T) (*ConflictResolver, *fakeMutator, *ConversationStore, *[]Notification) {
	t.Helper()
	events := &fakeMutator{}
	store := NewConversationStore(NewMemoryBlobStore(), "", nil)
	store.Load(context.Background())

	notifier := NewNotifier()
	var notes []Notification
	notifier.OnAny(func(n Notification) { notes = append(notes, n) })
	return NewConflictResolver(events, store, notifier, nil), events, store, &notes
}

func kinds(notes []Notification) []NotificationKind {
	out := make([]NotificationKind, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Kind)
	}
	return out
}

func lastTurn(store *ConversationStore) ChatTurn {
	turns := store.Turns()
	return turns[len(turns)-1]
}

// ============================================================================
// DetectConflicts
// ============================================================================

func TestDetectConflicts(t *testing.T) {
	known := []Event{
		testEvent(1, "Before", noon.Add(-time.Hour), time.Hour, 9),
		testEvent(2, "Team Sync", noon, time.Hour, 6),
		testEvent(3, "Overlap tail", noon.Add(30*time.Minute), time.Hour, 6),
		testEvent(4, "After", noon.Add(time.Hour), time.Hour, 9),
		testEvent(5, "Long", noon.Add(-2*time.Hour), 4*time.Hour, 8),
	}
	cancelled := testEvent(6, "Cancelled", noon, time.Hour, 10)
	cancelled.Status = EventCancelled
	known = append(known, cancelled)

	// Before and After only touch the draft.
	got := DetectConflicts(lunchDraft(), known, 0)
	titles := make([]string, 0, len(got))
	for _, ev := range got {
		titles = append(titles, ev.Title)
	}
	assert.Equal(t, []string{"Long", "Team Sync", "Overlap tail"}, titles)

	got = DetectConflicts(lunchDraft(), known, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "Team Sync", got[0].Title)

	assert.Empty(t, DetectConflicts(lunchDraft(), nil, 0))
}

// ============================================================================
// Identifier strategies
// ============================================================================

func TestResolveEventID(t *testing.T) {
	decode := func(t *testing.T, raw string) Event {
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(raw), &ev))
		return ev
	}

	cases := []struct {
		name string
		raw  string
		want int64
	}{
		{"event_id int", `{"event_id": 7}`, 7},
		{"event_id string", `{"event_id": " 7 "}`, 7},
		{"id fallback", `{"id": 8}`, 8},
		{"event_id wins", `{"event_id": 7, "id": 8}`, 7},
		{"bad event_id falls back", `{"event_id": "seven", "id": "8"}`, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := ResolveEventID(decode(t, tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, id)
		})
	}

	t.Run("all strategies fail", func(t *testing.T) {
		_, err := ResolveEventID(decode(t, `{"event_id": "seven", "id": -1}`))
		assert.ErrorIs(t, err, ErrInvalidEventID)
	})

	t.Run("constructed event", func(t *testing.T) {
		id, err := ResolveEventID(Event{ID: 11})
		require.NoError(t, err)
		assert.Equal(t, int64(11), id)
	})
}

// ============================================================================
// Resolver
// ============================================================================

func TestResolverCancel(t *testing.T) {
	r, events, store, notes := newTestResolver(t)
	require.True(t, r.Open(ConflictCase{
		ProposedEvent:     lunchDraft(),
		ConflictingEvents: []Event{testEvent(7, "Team Sync", noon, time.Hour, 6)},
	}))
	assert.True(t, r.IsOpen())

	require.NoError(t, r.Cancel(context.Background()))
	assert.False(t, r.IsOpen())
	assert.Empty(t, events.recorded())
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, RoleAssistant, lastTurn(store).Role)
	assert.Contains(t, lastTurn(store).Text, "cancelled")
	assert.Equal(t, []NotificationKind{NotifyConflictOpened, NotifyConflictResolved}, kinds(*notes))
}

func TestResolverKeepBoth(t *testing.T) {
	r, events, store, _ := newTestResolver(t)
	r.Open(ConflictCase{ProposedEvent: lunchDraft(), ConflictingEvents: []Event{testEvent(7, "Team Sync", noon, time.Hour, 6)}})

	require.NoError(t, r.KeepBoth(context.Background()))
	assert.False(t, r.IsOpen())
	assert.Empty(t, events.recorded())
	assert.Contains(t, lastTurn(store).Text, "What other time")
}

func TestResolverWithoutOpenCase(t *testing.T) {
	r, _, _, _ := newTestResolver(t)
	assert.ErrorIs(t, r.Cancel(context.Background()), ErrNoOpenConflict)
	assert.ErrorIs(t, r.KeepBoth(context.Background()), ErrNoOpenConflict)
	assert.ErrorIs(t, r.Replace(context.Background(), Event{ID: 7}), ErrNoOpenConflict)
	assert.ErrorIs(t, r.ReplaceAt(context.Background(), 0), ErrNoOpenConflict)
}

func TestResolverReplaceDeletesThenCreates(t *testing.T) {
	r, events, store, notes := newTestResolver(t)
	teamSync := testEvent(7, "Team Sync", noon, time.Hour, 6)
	r.Open(ConflictCase{ProposedEvent: lunchDraft(), ConflictingEvents: []Event{teamSync}})

	require.NoError(t, r.Replace(context.Background(), teamSync))
	assert.Equal(t, []string{"delete(7)", "create(Lunch)"}, events.recorded())
	assert.False(t, r.IsOpen())

	text := lastTurn(store).Text
	assert.Contains(t, text, `"Team Sync"`)
	assert.Contains(t, text, `"Lunch"`)
	assert.Contains(t, text, "Done!")
	assert.Equal(t,
		[]NotificationKind{NotifyConflictOpened, NotifyCalendarUpdated, NotifyConflictResolved},
		kinds(*notes))
}

func TestResolverReplaceAt(t *testing.T) {
	r, events, _, _ := newTestResolver(t)
	r.Open(ConflictCase{ProposedEvent: lunchDraft(), ConflictingEvents: []Event{
		testEvent(7, "Team Sync", noon, time.Hour, 6),
		testEvent(8, "1:1", noon, 30*time.Minute, 4),
	}})

	err := r.ReplaceAt(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, r.IsOpen())

	require.NoError(t, r.ReplaceAt(context.Background(), 1))
	assert.Equal(t, []string{"delete(8)", "create(Lunch)"}, events.recorded())
}

func TestResolverReplaceDeleteFails(t *testing.T) {
	r, events, store, _ := newTestResolver(t)
	events.deleteErr = errors.New("status 500")
	teamSync := testEvent(7, "Team Sync", noon, time.Hour, 6)
	r.Open(ConflictCase{ProposedEvent: lunchDraft(), ConflictingEvents: []Event{teamSync}})

	err := r.Replace(context.Background(), teamSync)
	require.Error(t, err)
	assert.Equal(t, []string{"delete(7)"}, events.recorded())
	assert.False(t, r.IsOpen())
	assert.NotContains(t, lastTurn(store).Text, "Done!")
	assert.Contains(t, lastTurn(store).Text, "couldn't remove")
}

func TestResolverReplaceCreateFails(t *testing.T) {
	r, events, store, _ := newTestResolver(t)
	events.createErr = errors.New("status 422")
	teamSync := testEvent(7, "Team Sync", noon, time.Hour, 6)
	r.Open(ConflictCase{ProposedEvent: lunchDraft(), ConflictingEvents: []Event{teamSync}})

	err := r.Replace(context.Background(), teamSync)
	require.Error(t, err)
	assert.Equal(t, []string{"delete(7)", "create(Lunch)"}, events.recorded())
	assert.False(t, r.IsOpen())
	assert.Contains(t, lastTurn(store).Text, "couldn't add")
}

func TestResolverReplaceRejectsBadTargets(t *testing.T) {
	t.Run("invalid id", func(t *testing.T) {
		r, events, store, notes := newTestResolver(t)
		var bad Event
		require.NoError(t, json.Unmarshal([]byte(`{"event_id":"abc","title":"Team Sync"}`), &bad))
		r.Open(ConflictCase{ProposedEvent: lunchDraft(), ConflictingEvents: []Event{bad}})

		err := r.Replace(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidEventID)
		assert.Empty(t, events.recorded())
		assert.False(t, r.IsOpen())
		assert.Equal(t, 1, store.Len())
		assert.Contains(t, kinds(*notes), NotifyValidationError)
	})

	t.Run("not in case", func(t *testing.T) {
		r, events, _, _ := newTestResolver(t)
		r.Open(ConflictCase{ProposedEvent: lunchDraft(), ConflictingEvents: []Event{testEvent(7, "Team Sync", noon, time.Hour, 6)}})

		err := r.Replace(context.Background(), testEvent(99, "Elsewhere", noon, time.Hour, 1))
		assert.ErrorIs(t, err, ErrNotConflicting)
		assert.Empty(t, events.recorded())
	})
}

func TestResolverQueuesSecondConflict(t *testing.T) {
	r, _, _, notes := newTestResolver(t)
	first := ConflictCase{ProposedEvent: lunchDraft(), ConflictingEvents: []Event{testEvent(7, "Team Sync", noon, time.Hour, 6)}}
	secondDraft := lunchDraft()
	secondDraft.Title = "Coffee"
	second := ConflictCase{ProposedEvent: secondDraft, ConflictingEvents: []Event{testEvent(8, "Review", noon, time.Hour, 6)}}

	require.True(t, r.Open(first))
	require.False(t, r.Open(second))
	assert.Equal(t, 1, r.Pending())

	current, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "Lunch", current.ProposedEvent.Title)
	assert.True(t, current.IsOpen)

	require.NoError(t, r.Cancel(context.Background()))

	current, ok = r.Current()
	require.True(t, ok)
	assert.Equal(t, "Coffee", current.ProposedEvent.Title)
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t,
		[]NotificationKind{NotifyConflictOpened, NotifyConflictResolved, NotifyConflictOpened},
		kinds(*notes))

	require.NoError(t, r.Cancel(context.Background()))
	assert.False(t, r.IsOpen())
}

func TestResolverCurrentIsASnapshot(t *testing.T) {
	r, _, _, _ := newTestResolver(t)
	conflicting := []Event{testEvent(7, "Team Sync", noon, time.Hour, 6)}
	r.Open(ConflictCase{ProposedEvent: lunchDraft(), ConflictingEvents: conflicting})
	conflicting[0].Title = "changed"

	current, _ := r.Current()
	assert.Equal(t, "Team Sync", current.ConflictingEvents[0].Title)
}
