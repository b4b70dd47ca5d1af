package ingest

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// State is the durable cursor the pipeline carries between cycles.
// It lives in a small JSON file next to the data dir; losing it is
// harmless (cleanup re-covers old ground, deletes are idempotent), so
// corruption is reported but never blocks a cycle.
type State struct {
	// DeletedCursor is the RFC3339 instant tombstone cleanup has covered.
	// The next cycle asks the backend for deletions after it; empty asks
	// for everything.
	DeletedCursor string `json:"deleted_cursor,omitempty"`

	LastSyncAt time.Time `json:"last_sync_at"`
	Cycles     int64     `json:"cycles"`
}

// LoadState reads the cursor file. A missing file is a fresh install
// and returns the zero state with no error.
func LoadState(path string) (State, error) {
	var st State

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, rcerrors.Wrap(rcerrors.ErrCodeSyncFailed, err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, rcerrors.Wrap(rcerrors.ErrCodeSyncFailed, err)
	}
	return st, nil
}

// SaveState writes the cursor file atomically (temp file + rename), the
// same way the vector collection persists its graph.
func SaveState(path string, st State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rcerrors.Wrap(rcerrors.ErrCodeSyncFailed, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return rcerrors.Wrap(rcerrors.ErrCodeSyncFailed, err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return rcerrors.Wrap(rcerrors.ErrCodeSyncFailed, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return rcerrors.Wrap(rcerrors.ErrCodeSyncFailed, err)
	}
	return nil
}
