package aura

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// MessageSender relays one chat turn. Implementations return a usable reply
// even when they also return an error.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID, text string) (*ChatReply, error)
}

// ConnectionStatusReader exposes the last known connection status.
type ConnectionStatusReader interface {
	Status() ConnectionStatus
}

// SessionConfig wires a Session. Store and Sender are required.
type SessionConfig struct {
	ConversationID string
	Sender         MessageSender
	Store          *ConversationStore
	// Resolver receives show_conflict actions. Without one they are logged
	// and dropped.
	Resolver *ConflictResolver
	// Connection gates submission. Without one submission is never blocked
	// on liveness.
	Connection ConnectionStatusReader
	Notifier   *Notifier
	Logger     *slog.Logger
}

// Session is the chat submission pipeline. At most one turn is in flight.
type Session struct {
	conversationID string
	sender         MessageSender
	store          *ConversationStore
	resolver       *ConflictResolver
	connection     ConnectionStatusReader
	notifier       *Notifier
	logger         *slog.Logger

	mu   sync.Mutex
	busy bool
}

func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		conversationID: cfg.ConversationID,
		sender:         cfg.Sender,
		store:          cfg.Store,
		resolver:       cfg.Resolver,
		connection:     cfg.Connection,
		notifier:       cfg.Notifier,
		logger:         cfg.Logger,
	}
	if s.conversationID == "" {
		s.conversationID = "default"
	}
	if s.logger == nil {
		s.logger = discardLogger()
	}
	return s
}

// Start loads the persisted conversation and returns it.
func (s *Session) Start(ctx context.Context) []ChatTurn {
	turns := s.store.Load(ctx)
	s.logger.Debug("conversation loaded", "conversation_id", s.conversationID, "turns", len(turns))
	return turns
}

// ConversationID returns the id sent with every turn.
func (s *Session) ConversationID() string { return s.conversationID }

// Resolver returns the conflict resolver, or nil.
func (s *Session) Resolver() *ConflictResolver { return s.resolver }

// Turns returns a copy of the conversation.
func (s *Session) Turns() []ChatTurn { return s.store.Turns() }

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// CanSubmit reports whether Submit would accept a non-blank message now.
func (s *Session) CanSubmit() bool {
	return !s.Busy() && !s.disconnected()
}

func (s *Session) disconnected() bool {
	return s.connection != nil && s.connection.Status().State == StateDisconnected
}

// Submit sends text as a user turn. Blank text is ignored. Exactly one
// assistant turn follows every turn that reached the sender, the fallback
// apology when the backend failed. Once the user turn is recorded, cancelling
// ctx no longer interrupts the send or the writes that follow it.
func (s *Session) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.disconnected() {
		return ErrDisconnected
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	turnCtx := context.WithoutCancel(ctx)
	if err := s.store.Append(turnCtx, NewTurn(RoleUser, text)); err != nil {
		return fmt.Errorf("record user turn: %w", err)
	}

	reply, sendErr := s.sender.SendMessage(turnCtx, s.conversationID, text)
	if reply == nil {
		reply = FallbackReply()
	}
	if sendErr != nil {
		s.logger.Warn("assistant unavailable", "conversation_id", s.conversationID, "error", sendErr)
		reply = FallbackReply()
	}

	if err := s.store.Append(turnCtx, NewTurn(RoleAssistant, reply.Text)); err != nil {
		return fmt.Errorf("record assistant turn: %w", err)
	}

	if sendErr == nil && reply.Action != nil {
		s.dispatch(reply.Action)
	}
	return nil
}

func (s *Session) dispatch(action UIAction) {
	switch a := action.(type) {
	case *UpdateCalendarAction:
		msg := "Calendar updated"
		if a.Event != nil && a.Event.Title != "" {
			msg = fmt.Sprintf("Calendar updated: %s", a.Event.Title)
		}
		s.notifier.Emit(NotifyCalendarUpdated, msg, a.Event)
	case *RemoveEventAction:
		s.notifier.Emit(NotifyEventRemoved, fmt.Sprintf("Event %d removed", a.EventID), a.EventID)
	case *ShowConflictAction:
		if s.resolver == nil {
			s.logger.Warn("conflict reported but no resolver is attached", "title", a.ProposedEvent.Title)
			return
		}
		s.resolver.Open(ConflictCase{
			ProposedEvent:     a.ProposedEvent,
			ConflictingEvents: a.ConflictingEvents,
		})
	default:
		s.logger.Warn("unhandled ui action", "type", fmt.Sprintf("%T", action))
	}
}

// Clear resets the conversation to the greeting. It fails with ErrBusy
// while a turn is in flight.
func (s *Session) Clear(ctx context.Context) ([]ChatTurn, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return s.store.Turns(), ErrBusy
	}
	s.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()
	return s.store.Clear(ctx)
}
