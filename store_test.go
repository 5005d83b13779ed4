package aura

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingBlobStore fails every Put once armed.
type failingBlobStore struct {
	*MemoryBlobStore
	failPut bool
}

func (s *failingBlobStore) Put(ctx context.Context, key string, value []byte) error {
	if s.failPut {
		return errors.New("disk full")
	}
	return s.MemoryBlobStore.Put(ctx, key, value)
}

func assertSameTurns(t *testing.T, want, got []ChatTurn) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID, "turn %d id", i)
		assert.Equal(t, want[i].Role, got[i].Role, "turn %d role", i)
		assert.Equal(t, want[i].Text, got[i].Text, "turn %d text", i)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp), "turn %d timestamp", i)
	}
}

func blobStores(t *testing.T) map[string]BlobStore {
	sqlite, err := OpenSQLiteBlobStore(filepath.Join(t.TempDir(), "aura.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]BlobStore{
		"memory": NewMemoryBlobStore(),
		"file":   NewFileBlobStore(filepath.Join(t.TempDir(), "data")),
		"sqlite": sqlite,
	}
}

// ============================================================================
// Blob stores
// ============================================================================

func TestBlobStores(t *testing.T) {
	ctx := context.Background()
	for name, store := range blobStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Put(ctx, "k", []byte("one")))
			require.NoError(t, store.Put(ctx, "k", []byte("two")))

			got, err := store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "two", string(got))
		})
	}
}

func TestFileBlobStorePermissionsAndKeys(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store := NewFileBlobStore(dir)
	require.NoError(t, store.Put(context.Background(), "../escape/key", []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".._escape_key.json", entries[0].Name())

	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

// ============================================================================
// Conversation store
// ============================================================================

func TestConversationStoreFreshLoad(t *testing.T) {
	store := NewConversationStore(NewMemoryBlobStore(), "", nil)
	turns := store.Load(context.Background())
	require.Len(t, turns, 1)
	assert.Equal(t, RoleAssistant, turns[0].Role)
	assert.Equal(t, WelcomeText, turns[0].Text)
}

func TestConversationStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, blobs := range blobStores(t) {
		t.Run(name, func(t *testing.T) {
			store := NewConversationStore(blobs, DefaultConversationKey, nil)
			store.Load(ctx)

			require.NoError(t, store.Append(ctx, NewTurn(RoleUser, "Schedule lunch at noon tomorrow")))
			require.NoError(t, store.Append(ctx, NewTurn(RoleAssistant, "Lunch is booked.")))
			require.NoError(t, store.Append(ctx, NewTurn(RoleUser, "Thanks")))
			want := store.Turns()
			require.Len(t, want, 4)

			reopened := NewConversationStore(blobs, DefaultConversationKey, nil)
			assertSameTurns(t, want, reopened.Load(ctx))
		})
	}
}

func TestConversationStoreMalformedLog(t *testing.T) {
	ctx := context.Background()
	cases := map[string]string{
		"not json":     "{{{",
		"empty list":   "[]",
		"unknown role": `[{"id":"1","role":"system","text":"x","timestamp":"2026-10-16T12:00:00Z"}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			blobs := NewMemoryBlobStore()
			require.NoError(t, blobs.Put(ctx, DefaultConversationKey, []byte(raw)))

			turns := NewConversationStore(blobs, "", nil).Load(ctx)
			require.Len(t, turns, 1)
			assert.Equal(t, WelcomeText, turns[0].Text)
		})
	}
}

func TestConversationStoreClear(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobStore()
	store := NewConversationStore(blobs, "", nil)
	store.Load(ctx)
	require.NoError(t, store.Append(ctx, NewTurn(RoleUser, "hello")))

	turns, err := store.Clear(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, RoleAssistant, turns[0].Role)
	assert.Equal(t, WelcomeText, turns[0].Text)

	assertSameTurns(t, turns, NewConversationStore(blobs, "", nil).Load(ctx))
}

func TestConversationStoreFailedWriteIsNotVisible(t *testing.T) {
	ctx := context.Background()
	blobs := &failingBlobStore{MemoryBlobStore: NewMemoryBlobStore()}
	store := NewConversationStore(blobs, "", nil)
	store.Load(ctx)
	require.NoError(t, store.Append(ctx, NewTurn(RoleUser, "kept")))

	blobs.failPut = true
	err := store.Append(ctx, NewTurn(RoleUser, "lost"))
	require.Error(t, err)
	assert.Equal(t, 2, store.Len())

	_, err = store.Clear(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestConversationStoreTurnsIsACopy(t *testing.T) {
	store := NewConversationStore(NewMemoryBlobStore(), "", nil)
	store.Load(context.Background())

	turns := store.Turns()
	turns[0].Text = "mutated"
	assert.Equal(t, WelcomeText, store.Turns()[0].Text)
}
