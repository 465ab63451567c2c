package autosave

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/portfolio-cms/internal/config"
)

func TestBackupKey(t *testing.T) {
	assert.Equal(t, "autosave_p1", BackupKey("p1"))
	assert.Equal(t, "autosave_default", BackupKey(""))
}

func TestFileBackupStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileBackupStore(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = store.Load(ctx, "autosave_p1")
	assert.ErrorIs(t, err, ErrNoBackup)

	require.NoError(t, store.Save(ctx, "autosave_p1", []byte("one")))
	require.NoError(t, store.Save(ctx, "autosave_p1", []byte("two")))

	data, err := store.Load(ctx, "autosave_p1")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	require.NoError(t, store.Delete(ctx, "autosave_p1"))
	require.NoError(t, store.Delete(ctx, "autosave_p1"))

	_, err = store.Load(ctx, "autosave_p1")
	assert.ErrorIs(t, err, ErrNoBackup)
}

func TestFileBackupStore_Quota(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileBackupStore(dir, 10)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "a", []byte("123456")))

	// Replacing a slot does not count its old content
	require.NoError(t, store.Save(ctx, "a", []byte("1234567890")))

	err = store.Save(ctx, "b", []byte("1"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	data, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1234567890", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileBackupStore_EscapesKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileBackupStore(dir, 0)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), "autosave_../x", []byte("y")))

	_, err = os.Stat(filepath.Join(dir, "autosave_..%2Fx.json"))
	assert.NoError(t, err)
}

func TestNewBackupStore_File(t *testing.T) {
	store, err := NewBackupStore(config.BackupConfig{Type: "file", Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileBackupStore{}, store)
}

func TestNewRedisBackupStore_Unreachable(t *testing.T) {
	_, err := NewRedisBackupStore(config.RedisConfig{URL: "redis://127.0.0.1:1/0"}, nil)
	assert.Error(t, err)
}
