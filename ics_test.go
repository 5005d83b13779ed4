package aura

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportICS(t *testing.T) {
	desc := "Weekly planning"
	loc := "Room 4"
	teamSync := testEvent(7, "Team Sync", noon, time.Hour, 8)
	teamSync.Description = &desc
	teamSync.Location = &loc
	cancelled := testEvent(9, "Old", noon.Add(24*time.Hour), time.Hour, 0)
	cancelled.Status = EventCancelled

	var buf bytes.Buffer
	require.NoError(t, exportICS(&buf, []Event{teamSync, cancelled}, noon))
	out := buf.String()

	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "METHOD:PUBLISH")
	assert.Contains(t, out, "UID:aura-7@aura-calendar")
	assert.Contains(t, out, "SUMMARY:Team Sync")
	assert.Contains(t, out, "DTSTART:20261017T120000Z")
	assert.Contains(t, out, "DTEND:20261017T130000Z")
	assert.Contains(t, out, "LOCATION:Room 4")
	assert.Contains(t, out, "PRIORITY:2")
	assert.Contains(t, out, "STATUS:CANCELLED")
	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"))
}

func TestImportICS(t *testing.T) {
	raw := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:a@test",
		"DTSTAMP:20261001T000000Z",
		"DTSTART:20261017T120000Z",
		"DTEND:20261017T130000Z",
		"SUMMARY:Lunch",
		"LOCATION:Cafe",
		"PRIORITY:1",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:b@test",
		"DTSTAMP:20261001T000000Z",
		"DTSTART:20261018T090000Z",
		"SUMMARY:No end",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:c@test",
		"DTSTAMP:20261001T000000Z",
		"SUMMARY:No start",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:d@test",
		"DTSTAMP:20261001T000000Z",
		"DTSTART:20261019T090000Z",
		"DTEND:20261019T100000Z",
		"SUMMARY:Dropped",
		"STATUS:CANCELLED",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n") + "\r\n"

	drafts, err := ImportICS(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	lunch := drafts[0]
	assert.Equal(t, "Lunch", lunch.Title)
	assert.True(t, lunch.Start.Equal(noon))
	assert.True(t, lunch.End.Equal(noon.Add(time.Hour)))
	require.NotNil(t, lunch.Location)
	assert.Equal(t, "Cafe", *lunch.Location)
	assert.Equal(t, 9, lunch.Importance)

	noEnd := drafts[1]
	assert.Equal(t, time.Hour, noEnd.End.Sub(noEnd.Start.Time))
	assert.Equal(t, DefaultImportance, noEnd.Importance)
}

func TestICSRoundTrip(t *testing.T) {
	events := []Event{
		testEvent(1, "Standup", noon.Add(-3*time.Hour), 15*time.Minute, 5),
		testEvent(2, "Team Sync", noon, time.Hour, 8),
	}
	var buf bytes.Buffer
	require.NoError(t, ExportICS(&buf, events))

	drafts, err := ImportICS(&buf)
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	for i, d := range drafts {
		assert.Equal(t, events[i].Title, d.Title)
		assert.True(t, events[i].Start.Equal(d.Start.Time))
		assert.True(t, events[i].End.Equal(d.End.Time))
		assert.Equal(t, events[i].Importance, d.Importance)
	}
}

func TestImportanceToPriority(t *testing.T) {
	assert.Equal(t, 0, importanceToPriority(0))
	assert.Equal(t, 9, importanceToPriority(1))
	assert.Equal(t, 5, importanceToPriority(5))
	assert.Equal(t, 1, importanceToPriority(10))
	assert.Equal(t, DefaultImportance, priorityToImportance(0))
	assert.Equal(t, 9, priorityToImportance(1))
}
