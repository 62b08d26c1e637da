package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/api/schemas"
)

func sampleSession() schemas.Session {
	start := "https://example.com/"
	at := time.UnixMilli(1700000000000)
	return schemas.Session{
		ID:       "session-1",
		StartURL: &start,
		Active:   true,
		Actions: []schemas.Action{
			schemas.NewNavigate(start, at),
			schemas.NewClick("css=#go", at.Add(time.Second)),
			schemas.NewType("css=input.name", "Ada", at.Add(2*time.Second)),
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store, err := NewFileStore(path, zap.NewNop())
	require.NoError(t, err)

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Actions, "a missing slot loads as an empty session")
	assert.False(t, empty.Active)

	want := sampleSession()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	first, err := NewFileStore(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, sampleSession()))

	second, err := NewFileStore(path, zap.NewNop())
	require.NoError(t, err)
	got, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Actions, 3)
}

func TestFileStoreClear(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "session.json"), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, sampleSession()))
	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx), "clearing twice is fine")

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Actions)
}

func TestFileStoreCorruptSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0o600))

	store, err := NewFileStore(path, zap.NewNop())
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	assert.Error(t, err)
}

func TestFileStoreCancelledContext(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "session.json"), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Save(ctx, sampleSession()), context.Canceled)
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	_, err := NewFileStore("", zap.NewNop())
	assert.Error(t, err)
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := sampleSession()
	require.NoError(t, store.Save(ctx, sess))
	*sess.Actions[2].Value = "mutated"
	sess.Actions[0].URL = "https://changed.test/"

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Actions[2].TextValue())
	assert.Equal(t, "https://example.com/", got.Actions[0].URL)
	assert.Equal(t, 1, store.Saves())

	require.NoError(t, store.Clear(ctx))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Actions)
}
