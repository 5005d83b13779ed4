package aura

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WelcomeText greets the user in a fresh or unreadable conversation.
const WelcomeText = "Hi! I'm Aura, your calendar assistant. Ask me to schedule, move or cancel events."

// DefaultConversationKey is the blob key of the conversation log.
const DefaultConversationKey = "aura.conversation"

// WelcomeTurn returns a new greeting turn.
func WelcomeTurn() ChatTurn {
	return NewTurn(RoleAssistant, WelcomeText)
}

// ============================================================================
// Blob stores
// ============================================================================

// BlobStore persists opaque values under string keys. Get returns
// ErrNotFound for keys that were never written.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// MemoryBlobStore is a goroutine-safe in-memory BlobStore.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryBlobStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), value...)
	return nil
}

// FileBlobStore keeps one file per key in a directory. Writes go through a
// temp file and a rename, so readers see either the old or the new value.
type FileBlobStore struct {
	dir string
}

func NewFileBlobStore(dir string) *FileBlobStore {
	return &FileBlobStore{dir: dir}
}

// Path returns the file that holds key.
func (s *FileBlobStore) Path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(s.dir, safe+".json")
}

func (s *FileBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *FileBlobStore) Put(_ context.Context, key string, value []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".aura-blob-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.Path(key))
}

// ============================================================================
// Conversation store
// ============================================================================

// ConversationStore owns the chat log. Every change rewrites the whole log
// to the blob store before it becomes visible in memory.
type ConversationStore struct {
	blobs  BlobStore
	key    string
	logger *slog.Logger

	mu    sync.Mutex
	turns []ChatTurn
}

// NewConversationStore creates a store over blobs. The log starts empty
// until Load is called.
func NewConversationStore(blobs BlobStore, key string, logger *slog.Logger) *ConversationStore {
	if key == "" {
		key = DefaultConversationKey
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &ConversationStore{blobs: blobs, key: key, logger: logger}
}

// Load reads the durable log. A missing or malformed log yields a single
// welcome turn; Load never fails.
func (s *ConversationStore) Load(ctx context.Context) []ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, err := s.read(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("conversation log unreadable, starting fresh", "key", s.key, "error", err)
		}
		turns = []ChatTurn{WelcomeTurn()}
	}
	s.turns = turns
	return cloneTurns(s.turns)
}

func (s *ConversationStore) read(ctx context.Context) ([]ChatTurn, error) {
	data, err := s.blobs.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	var turns []ChatTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode conversation log: %w", err)
	}
	if len(turns) == 0 {
		return nil, errors.New("conversation log is empty")
	}
	for i, t := range turns {
		if !t.Role.valid() {
			return nil, fmt.Errorf("turn %d has unknown role %q", i, t.Role)
		}
	}
	return turns, nil
}

// Append adds turn to the end of the log. If the durable write fails the
// in-memory log is left unchanged and the error is returned.
func (s *ConversationStore) Append(ctx context.Context, turn ChatTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append(cloneTurns(s.turns), turn)
	if err := s.write(ctx, next); err != nil {
		return err
	}
	s.turns = next
	return nil
}

// Clear resets the log to a single welcome turn and persists it.
func (s *ConversationStore) Clear(ctx context.Context) ([]ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := []ChatTurn{WelcomeTurn()}
	if err := s.write(ctx, fresh); err != nil {
		return cloneTurns(s.turns), err
	}
	s.turns = fresh
	return cloneTurns(s.turns), nil
}

func (s *ConversationStore) write(ctx context.Context, turns []ChatTurn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode conversation log: %w", err)
	}
	if err := s.blobs.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("persist conversation log: %w", err)
	}
	return nil
}

// Turns returns a copy of the log in insertion order.
func (s *ConversationStore) Turns() []ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTurns(s.turns)
}

// Len returns the number of turns in the log.
func (s *ConversationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

func cloneTurns(turns []ChatTurn) []ChatTurn {
	return append(make([]ChatTurn, 0, len(turns)+1), turns...)
}
