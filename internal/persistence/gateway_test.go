package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "playground/internal/errors"
)

func TestReadSnapshotMissingFileIsNotFound(t *testing.T) {
	t.Parallel()

	gw := NewFileGateway()
	_, err := gw.ReadSnapshot(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestWriteSnapshotCreatesParentsAndReplacesContents(t *testing.T) {
	t.Parallel()

	gw := NewFileGateway()
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	ctx := context.Background()

	require.NoError(t, gw.WriteSnapshot(ctx, path, []byte(`{"v":1}`)))
	require.NoError(t, gw.WriteSnapshot(ctx, path, []byte(`{"v":2}`)))

	data, err := gw.ReadSnapshot(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCopyFileCopiesBytesAndRefusesToOverwrite(t *testing.T) {
	t.Parallel()

	gw := NewFileGateway()
	dir := t.TempDir()
	src := filepath.Join(dir, "config.json")
	dst := filepath.Join(dir, "backups", "config.json.bak")
	ctx := context.Background()

	require.NoError(t, os.WriteFile(src, []byte("original"), 0o600))
	require.NoError(t, gw.CopyFile(ctx, src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	err = gw.CopyFile(ctx, src, dst)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindIO, apperrors.KindOf(err))
}

func TestCopyFileMissingSourceIsIOError(t *testing.T) {
	t.Parallel()

	gw := NewFileGateway()
	dir := t.TempDir()
	err := gw.CopyFile(context.Background(), filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindIO, apperrors.KindOf(err))
}

func TestGatewayHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gw := NewFileGateway()
	err := gw.WriteSnapshot(ctx, filepath.Join(t.TempDir(), "x.json"), []byte("{}"))
	assert.ErrorIs(t, err, context.Canceled)
}
