package aura

import (
	"sync"
	"time"
)

// NotificationKind names a transient UI notification.
type NotificationKind string

const (
	NotifyTransportError    NotificationKind = "transport.error"
	NotifyValidationError   NotificationKind = "validation.error"
	NotifyCalendarUpdated   NotificationKind = "calendar.updated"
	NotifyEventRemoved      NotificationKind = "calendar.event_removed"
	NotifyConflictOpened    NotificationKind = "conflict.opened"
	NotifyConflictResolved  NotificationKind = "conflict.resolved"
	NotifyConnectionChanged NotificationKind = "connection.changed"
)

// Notification is a transient message for the UI (a toast or banner).
type Notification struct {
	Kind    NotificationKind
	Message string
	Payload any
	At      time.Time
}

// NotificationHandler receives notifications synchronously on the
// emitting goroutine.
type NotificationHandler func(Notification)

// Notifier fans notifications out to registered handlers. A nil *Notifier
// drops everything.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[NotificationKind][]NotificationHandler
	any       []NotificationHandler
}

func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[NotificationKind][]NotificationHandler)}
}

// On registers h for one kind.
func (n *Notifier) On(kind NotificationKind, h NotificationHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners[kind] = append(n.listeners[kind], h)
}

// OnAny registers h for every kind.
func (n *Notifier) OnAny(h NotificationHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.any = append(n.any, h)
}

// Emit delivers a notification. Panics in handlers are swallowed.
func (n *Notifier) Emit(kind NotificationKind, message string, payload any) {
	if n == nil {
		return
	}
	n.mu.RLock()
	handlers := append(append([]NotificationHandler{}, n.listeners[kind]...), n.any...)
	n.mu.RUnlock()

	note := Notification{Kind: kind, Message: message, Payload: payload, At: time.Now()}
	for _, h := range handlers {
		func() {
			defer func() { recover() }()
			h(note)
		}()
	}
}

// RemoveAll drops every handler.
func (n *Notifier) RemoveAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = make(map[NotificationKind][]NotificationHandler)
	n.any = nil
}
