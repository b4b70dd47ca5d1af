package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hunianlab/rumahcari/internal/backend"
	"github.com/hunianlab/rumahcari/internal/config"
	"github.com/hunianlab/rumahcari/internal/embed"
	"github.com/hunianlab/rumahcari/internal/ingest"
	"github.com/hunianlab/rumahcari/internal/store"
	"github.com/hunianlab/rumahcari/internal/telemetry"
)

// Stack is the wired sync path. Backend and Embedder are exposed for
// the reset-ingest verb and preflight checks.
type Stack struct {
	Backend    *backend.Client
	Embedder   *embed.CachedEmbedder
	Store      *store.Store
	Collection *store.Collection
	Pipeline   *ingest.Pipeline
	Scheduler  *ingest.Scheduler
	Sink       telemetry.Sink

	logger *slog.Logger
}

// Option adjusts how the stack is opened.
type Option func(*options)

type options struct {
	sink     telemetry.Sink
	progress func(stage string, done, total int)
}

// WithSink substitutes the metrics sink.
func WithSink(sink telemetry.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithProgress receives per-stage updates for display during a cycle.
func WithProgress(fn func(stage string, done, total int)) Option {
	return func(o *options) { o.progress = fn }
}

// Open wires the sync stack. The index-dir lock is taken per cycle, not
// here, so opening the stack never blocks on another process.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Stack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ingestion: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Stack{logger: logger}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	var err error
	if s.Backend, err = backend.New(cfg.Backend); err != nil {
		return nil, fmt.Errorf("ingestion: backend client: %w", err)
	}
	if s.Embedder, err = embed.New(ctx, cfg.Embedding); err != nil {
		return nil, fmt.Errorf("ingestion: embedder: %w", err)
	}

	s.Store = store.NewStore(cfg.IndexDir())
	if s.Collection, err = s.Store.Collection(s.Embedder.ModelID()); err != nil {
		return nil, fmt.Errorf("ingestion: vector collection: %w", err)
	}

	s.Sink = o.sink
	if s.Sink == nil {
		if s.Sink, err = telemetry.NewSink(cfg.MetricsDir(), cfg.Metrics, logger); err != nil {
			return nil, fmt.Errorf("ingestion: metrics sink: %w", err)
		}
	}

	s.Pipeline, err = ingest.NewPipeline(ingest.PipelineDependencies{
		Backend:  s.Backend,
		Embedder: s.Embedder,
		Index:    s.Collection,
		Lock:     ingest.NewCycleLock(cfg.IndexDir()),
		Sink:     s.Sink,
		Logger:   logger,
		Progress: o.progress,
	}, ingest.PipelineConfig{
		BatchLimit:     cfg.Sync.BatchLimit,
		EmbedBatchSize: cfg.Embedding.BatchSize,
		StatePath:      cfg.SyncStatePath(),
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: pipeline: %w", err)
	}

	interval := time.Duration(cfg.Sync.IntervalMinutes) * time.Minute
	s.Scheduler = ingest.NewScheduler(s.Pipeline, interval, logger)

	ok = true
	return s, nil
}

// Close stops the scheduler (when started) and tears the stack down in
// reverse dependency order.
func (s *Stack) Close() {
	if s == nil {
		return
	}
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Sink != nil {
		if err := s.Sink.Close(); err != nil {
			s.logger.Warn("closing metrics sink", "error", err)
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			s.logger.Warn("closing vector store", "error", err)
		}
	}
	if s.Embedder != nil {
		if err := s.Embedder.Close(); err != nil {
			s.logger.Warn("closing embedder", "error", err)
		}
	}
	if s.Backend != nil {
		if err := s.Backend.Close(); err != nil {
			s.logger.Warn("closing backend client", "error", err)
		}
	}
}
