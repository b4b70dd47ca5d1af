package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hunianlab/rumahcari/internal/config"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// Sink receives metric records. Implementations must be safe for
// concurrent use. Record never blocks the caller on failures: a sink
// that cannot write logs and drops.
type Sink interface {
	Record(kind Kind, record any)
	Close() error
}

// NopSink discards every record. Call sites stay unconditional when
// metrics are disabled.
type NopSink struct{}

func (NopSink) Record(Kind, any) {}
func (NopSink) Close() error     { return nil }

// NewSink returns a JSONL sink rooted at dir, or a no-op sink when
// metrics are disabled in the configuration.
func NewSink(dir string, cfg config.MetricsConfig, logger *slog.Logger) (Sink, error) {
	if !cfg.Enabled {
		return NopSink{}, nil
	}
	return NewJSONLSink(dir, logger)
}

// JSONLSink appends records to per-kind daily files. One mutex covers
// all kinds; writers across goroutines serialize through it.
type JSONLSink struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	files  map[Kind]*kindFile
	closed bool
}

// kindFile is an open append handle plus the date it was opened for.
type kindFile struct {
	date string
	f    *os.File
}

// NewJSONLSink creates the metrics directory if needed and returns a
// sink writing to it.
func NewJSONLSink(dir string, logger *slog.Logger) (*JSONLSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeFilePermission,
			fmt.Sprintf("cannot create metrics directory %s", dir), err)
	}
	return &JSONLSink{
		dir:    dir,
		logger: logger,
		files:  make(map[Kind]*kindFile),
	}, nil
}

// Record appends one JSON line to the kind's file for today. Encoding
// or write failures are logged and dropped so telemetry never fails a
// search or a chat turn.
func (s *JSONLSink) Record(kind Kind, record any) {
	line, err := json.Marshal(record)
	if err != nil {
		s.logger.Warn("metrics record not serializable",
			"kind", string(kind), "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	f, err := s.fileFor(kind)
	if err != nil {
		s.logger.Warn("metrics file unavailable",
			"kind", string(kind), "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.Warn("metrics append failed",
			"kind", string(kind), "error", err)
	}
}

// fileFor returns today's append handle for kind, rolling over to a new
// file when the date changes. Caller holds s.mu.
func (s *JSONLSink) fileFor(kind Kind) (*os.File, error) {
	today := time.Now().Format("2006-01-02")

	if kf := s.files[kind]; kf != nil {
		if kf.date == today {
			return kf.f, nil
		}
		_ = kf.f.Close()
		delete(s.files, kind)
	}

	name := fmt.Sprintf("%s_%s.jsonl", kind, today)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s.files[kind] = &kindFile{date: today, f: f}
	return f, nil
}

// Close flushes and closes all open files. Records after Close are
// dropped silently.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for _, kf := range s.files {
		if err := kf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = nil
	return firstErr
}
