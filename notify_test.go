package aura

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifier(t *testing.T) {
	n := NewNotifier()
	var specific, all []string
	n.On(NotifyCalendarUpdated, func(note Notification) { specific = append(specific, note.Message) })
	n.OnAny(func(note Notification) { all = append(all, string(note.Kind)) })
	n.On(NotifyCalendarUpdated, func(Notification) { panic("handler bug") })

	n.Emit(NotifyCalendarUpdated, "Lunch added", nil)
	n.Emit(NotifyEventRemoved, "Gym removed", int64(5))

	assert.Equal(t, []string{"Lunch added"}, specific)
	assert.Equal(t, []string{"calendar.updated", "calendar.event_removed"}, all)

	n.RemoveAll()
	n.Emit(NotifyCalendarUpdated, "ignored", nil)
	assert.Len(t, specific, 1)
}

func TestNilNotifierDrops(t *testing.T) {
	var n *Notifier
	assert.NotPanics(t, func() { n.Emit(NotifyTransportError, "x", nil) })
}
