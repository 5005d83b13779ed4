//go:build integration

package aura_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	aura "github.com/aura-calendar/aura-go"
)

// helpers ---------------------------------------------------------------

func testBaseURL(t *testing.T) string {
	t.Helper()
	base := os.Getenv("AURA_BASE_URL_TEST")
	if base == "" {
		t.Skip("AURA_BASE_URL_TEST is not set")
	}
	return base
}

func newClient(t *testing.T) *aura.Client {
	t.Helper()
	return aura.NewClient(aura.WithBaseURL(testBaseURL(t)), aura.WithUserID("go_integration"))
}

func uniqueTitle(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// slot returns a one-hour window far enough in the future to be empty.
func slot(offsetDays int) (time.Time, time.Time) {
	start := time.Now().AddDate(1, 0, offsetDays).Truncate(time.Hour)
	return start, start.Add(time.Hour)
}

// =======================================================================
// Group 1: Health
// =======================================================================

func TestIntegration_Health(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !client.CheckHealth(ctx) {
		t.Fatal("backend reported unhealthy")
	}

	monitor := aura.NewConnectionMonitor(client, nil)
	status, probed := monitor.Probe(ctx)
	if !probed || status.State != aura.StateConnected {
		t.Fatalf("expected a connected probe, got %+v (probed=%v)", status, probed)
	}
}

// =======================================================================
// Group 2: Events
// =======================================================================

func TestIntegration_Events_Lifecycle(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start, end := slot(3)
	title := uniqueTitle("go_lifecycle")

	created, err := client.CreateEvent(ctx, aura.EventDraft{
		Title: title, Start: aura.At(start), End: aura.At(end), Importance: 5,
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	t.Logf("created event %d", created.ID)
	defer client.DeleteEvent(context.Background(), created.ID)

	events, err := client.ListEvents(ctx, start.Add(-time.Hour), end.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.ID == created.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("created event %d not listed", created.ID)
	}

	check, err := client.CheckConflicts(ctx, start.Add(30*time.Minute), end.Add(30*time.Minute), 0)
	if err != nil {
		t.Fatalf("CheckConflicts: %v", err)
	}
	if !check.HasConflicts {
		t.Error("expected overlap with the created event")
	}

	renamed := title + "_renamed"
	updated, err := client.UpdateEvent(ctx, created.ID, aura.EventPatch{Title: &renamed})
	if err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	if updated.Title != renamed {
		t.Errorf("expected title %q, got %q", renamed, updated.Title)
	}

	conf, err := client.DeleteEvent(ctx, created.ID)
	if err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	t.Logf("delete: %s", conf.Message)
}

// =======================================================================
// Group 3: Conversation
// =======================================================================

func TestIntegration_Chat_Session(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	blobs, err := aura.OpenSQLiteBlobStore(filepath.Join(t.TempDir(), "aura.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer blobs.Close()

	store := aura.NewConversationStore(blobs, aura.DefaultConversationKey, nil)
	session := aura.NewSession(aura.SessionConfig{
		ConversationID: uniqueTitle("conv"),
		Sender:         client,
		Store:          store,
		Resolver:       aura.NewConflictResolver(client, store, nil, nil),
	})
	session.Start(ctx)

	if err := session.Submit(ctx, "What do I have scheduled next week?"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	turns := session.Turns()
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	t.Logf("assistant: %s", turns[2].Text)
}
