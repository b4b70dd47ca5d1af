package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStateMissingFileIsFreshInstall(t *testing.T) {
	st, err := LoadState(filepath.Join(t.TempDir(), "sync-state.json"))

	require.NoError(t, err)
	assert.Equal(t, State{}, st)
}

func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync-state.json")
	want := State{
		DeletedCursor: "2026-08-25T04:00:00Z",
		LastSyncAt:    time.Date(2026, 8, 25, 4, 1, 30, 0, time.UTC),
		Cycles:        12,
	}

	require.NoError(t, SaveState(path, want))

	got, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, want.DeletedCursor, got.DeletedCursor)
	assert.Equal(t, want.Cycles, got.Cycles)
	assert.True(t, want.LastSyncAt.Equal(got.LastSyncAt))
}

func TestLoadStateCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync-state.json")
	require.NoError(t, os.WriteFile(path, []byte("{{not json"), 0o644))

	st, err := LoadState(path)

	require.Error(t, err)
	assert.Equal(t, State{}, st)
}

func TestSaveStateCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "sync-state.json")

	require.NoError(t, SaveState(path, State{Cycles: 1}))

	st, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Cycles)
}

func TestSaveStateLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync-state.json")

	require.NoError(t, SaveState(path, State{Cycles: 3}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sync-state.json", entries[0].Name())
}
