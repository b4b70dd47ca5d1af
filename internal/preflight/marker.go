package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile marks a data directory whose doctor checks have passed.
// Startup skips the checks while the marker exists.
const MarkerFile = ".doctor-passed"

// NeedsCheck reports whether the checks should run for this data dir.
func NeedsCheck(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, MarkerFile))
	return os.IsNotExist(err)
}

// MarkPassed records that the checks passed.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := []byte(time.Now().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), content, 0o644)
}

// ClearMarker forces a re-check on the next run.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the checks passed, zero when unknown.
func MarkerAge(dataDir string) time.Duration {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return 0
	}
	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return 0
	}
	return time.Since(t)
}
