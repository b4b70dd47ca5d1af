package knowledge

import (
	"os"

	"github.com/hunianlab/rumahcari/internal/config"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// Backend names accepted in configuration.
const (
	BackendFTS5  = "fts5"
	BackendBleve = "bleve"
)

// New opens the knowledge index selected by configuration. basePath is
// the index location without extension; the backend appends its own
// (.db for FTS5, .bleve for Bleve). An empty basePath is in-memory.
func New(basePath string, cfg config.KnowledgeConfig) (Index, error) {
	switch cfg.Backend {
	case BackendFTS5, "":
		path := basePath
		if path != "" {
			path += ".db"
		}
		return NewSQLiteIndex(path)

	case BackendBleve:
		path := basePath
		if path != "" {
			path += ".bleve"
		}
		return NewBleveIndex(path)

	default:
		return nil, rcerrors.Newf(rcerrors.ErrCodeConfigInvalid,
			"unknown knowledge backend %q (valid: fts5, bleve)", cfg.Backend)
	}
}

// DetectBackend reports which backend an existing index at basePath
// uses, or "" when none exists. Doctor uses it to flag a configured
// backend that disagrees with the files on disk.
func DetectBackend(basePath string) string {
	if info, err := os.Stat(basePath + ".db"); err == nil && !info.IsDir() {
		return BackendFTS5
	}
	if info, err := os.Stat(basePath + ".bleve"); err == nil && info.IsDir() {
		return BackendBleve
	}
	return ""
}
