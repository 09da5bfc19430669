package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fumapis/config"
	"fumapis/models"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileStore(path, 0)

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNoSession)

	s := &models.Session{Token: "tok", Username: "ana", Name: "Ana", IssuedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, store.Save(ctx, s))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Token, got.Token)
	assert.Equal(t, s.Username, got.Username)
	assert.True(t, s.IssuedAt.Equal(got.IssuedAt))

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	// Clearing twice is fine.
	assert.NoError(t, store.Clear(ctx))
}

func TestFileStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"), time.Hour)

	issued := time.Date(2024, 10, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, &models.Session{Token: "tok", IssuedAt: issued}))

	store.now = func() time.Time { return issued.Add(30 * time.Minute) }
	_, err := store.Load(ctx)
	require.NoError(t, err)

	store.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestFileStoreRejectsEmptySession(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"), 0)
	assert.Error(t, store.Save(context.Background(), &models.Session{}))
	assert.Error(t, store.Save(context.Background(), nil))
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path, 0).Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
}

func TestOpen(t *testing.T) {
	cfg := &config.Config{SessionBackend: "file", SessionPath: filepath.Join(t.TempDir(), "s.json")}
	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	cfg.SessionBackend = "etcd"
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)
}
