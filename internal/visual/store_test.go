package visual

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func encodedImage() string {
	return base64.StdEncoding.EncodeToString([]byte("fake png bytes"))
}

func startedStore(t *testing.T, dir string) *ScreenshotStore {
	t.Helper()

	store := NewScreenshotStore(newTestLogger(), dir)
	require.NoError(t, store.Start(context.Background()))

	return store
}

func TestPutStoresDecodedImage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := startedStore(t, dir)

	ref, err := store.Put(context.Background(), encodedImage(), "test-1")
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	path, err := store.Path(ref)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake png bytes"), raw)

	// Manifest lands next to the images.
	_, err = os.Stat(filepath.Join(dir, manifestFilename))
	require.NoError(t, err)
}

func TestPutRejectsBadPayload(t *testing.T) {
	t.Parallel()

	store := startedStore(t, t.TempDir())

	_, err := store.Put(context.Background(), "not base64!!!", "test-1")
	require.Error(t, err)
	assert.Zero(t, store.Len())
}

func TestPathUnknownRef(t *testing.T) {
	t.Parallel()

	store := startedStore(t, t.TempDir())

	_, err := store.Path("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotStored)
}

func TestManifestSurvivesRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := startedStore(t, dir)

	ref, err := store.Put(context.Background(), encodedImage(), "test-1")
	require.NoError(t, err)
	require.NoError(t, store.Stop())

	reopened := startedStore(t, dir)
	assert.Equal(t, 1, reopened.Len())

	path, err := reopened.Path(ref)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestEvictStaleHonorsRetentionWindow(t *testing.T) {
	t.Parallel()

	store := startedStore(t, t.TempDir())

	oldRef, err := store.Put(context.Background(), encodedImage(), "test-old")
	require.NoError(t, err)
	freshRef, err := store.Put(context.Background(), encodedImage(), "test-fresh")
	require.NoError(t, err)

	// Backdate one entry past the retention window.
	store.mu.Lock()
	store.manifest.Entries[oldRef].StoredAt = time.Now().Add(-25 * time.Hour)
	store.mu.Unlock()

	evicted, err := store.EvictStale(DefaultRetention)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, store.Len())

	_, err = store.Path(oldRef)
	assert.ErrorIs(t, err, ErrNotStored)

	path, err := store.Path(freshRef)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestEvictStaleNothingToDo(t *testing.T) {
	t.Parallel()

	store := startedStore(t, t.TempDir())

	_, err := store.Put(context.Background(), encodedImage(), "test-1")
	require.NoError(t, err)

	evicted, err := store.EvictStale(DefaultRetention)
	require.NoError(t, err)
	assert.Zero(t, evicted)
	assert.Equal(t, 1, store.Len())
}
