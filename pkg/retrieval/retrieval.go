package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hunianlab/rumahcari/internal/ab"
	"github.com/hunianlab/rumahcari/internal/backend"
	"github.com/hunianlab/rumahcari/internal/config"
	"github.com/hunianlab/rumahcari/internal/embed"
	"github.com/hunianlab/rumahcari/internal/geo"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/search"
	"github.com/hunianlab/rumahcari/internal/store"
	"github.com/hunianlab/rumahcari/internal/telemetry"
)

// Stack is the wired retrieval path plus the collaborators callers may
// need directly: the backend client for detail fetches, the geocoder
// for the geocode tool, the router for override control.
type Stack struct {
	Backend    *backend.Client
	Store      *store.Store
	Collection *store.Collection
	Embedder   *embed.CachedEmbedder
	Geocoder   *geo.Service
	Router     *ab.Router
	Sink       telemetry.Sink
	Collector  *telemetry.Collector
	Retriever  *search.Retriever

	logger *slog.Logger
}

// Option adjusts how the stack is opened.
type Option func(*options)

type options struct {
	sink       telemetry.Sink
	aggregates bool
	watch      bool
}

// WithSink substitutes the metrics sink, for tests or for commands that
// must stay silent. Nil keeps the configured sink.
func WithSink(sink telemetry.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithAggregates opens the telemetry collector and its SQLite aggregate
// store. Long-running processes want it; one-shot commands do not.
func WithAggregates() Option {
	return func(o *options) { o.aggregates = true }
}

// WithExperimentWatch hot-reloads the experiments file on change.
func WithExperimentWatch() Option {
	return func(o *options) { o.watch = true }
}

// Open wires the retrieval stack. Components come up in dependency
// order; on any failure everything already opened is closed again.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Stack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("retrieval: config is required")
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
		return nil, fmt.Errorf("retrieval: backend client: %w", err)
	}
	if s.Embedder, err = embed.New(ctx, cfg.Embedding); err != nil {
		return nil, fmt.Errorf("retrieval: embedder: %w", err)
	}

	s.Store = store.NewStore(cfg.IndexDir())
	if s.Collection, err = s.Store.Collection(s.Embedder.ModelID()); err != nil {
		return nil, fmt.Errorf("retrieval: vector collection: %w", err)
	}

	s.Geocoder = geo.New(cfg.Geocoding)

	defaultMethod, err := property.ParseMethod(cfg.Retrieval.DefaultMethod)
	if err != nil {
		return nil, fmt.Errorf("retrieval: default method: %w", err)
	}
	if s.Router, err = ab.NewRouter(ab.RouterConfig{
		DefaultMethod:   defaultMethod,
		ExperimentsPath: cfg.ExperimentsPath(),
	}, logger); err != nil {
		return nil, fmt.Errorf("retrieval: experiment router: %w", err)
	}
	if o.watch && cfg.AB.Watch {
		if err := s.Router.Watch(); err != nil {
			logger.Warn("experiment watch unavailable", "error", err)
		}
	}

	s.Sink = o.sink
	if s.Sink == nil {
		if s.Sink, err = telemetry.NewSink(cfg.MetricsDir(), cfg.Metrics, logger); err != nil {
			return nil, fmt.Errorf("retrieval: metrics sink: %w", err)
		}
	}

	retrieverOpts := []search.Option{
		search.WithGeocoder(s.Geocoder),
		search.WithRouter(s.Router),
		search.WithSink(s.Sink),
		search.WithLogger(logger),
	}
	if o.aggregates {
		aggStore, err := telemetry.OpenStore(cfg.MetricsDBPath())
		if err != nil {
			return nil, fmt.Errorf("retrieval: telemetry store: %w", err)
		}
		s.Collector = telemetry.NewCollector(aggStore, logger)
		retrieverOpts = append(retrieverOpts, search.WithCollector(s.Collector))
	}

	s.Retriever, err = search.NewRetriever(s.Backend, s.Collection, s.Embedder, search.RetrieverConfig{
		SemanticWeight:    cfg.Retrieval.SemanticWeight,
		DefaultRadiusKM:   cfg.Retrieval.DefaultRadiusKM,
		MaxRadiusKM:       cfg.Retrieval.MaxRadiusKM,
		DetailConcurrency: cfg.Retrieval.DetailConcurrency,
	}, retrieverOpts...)
	if err != nil {
		return nil, fmt.Errorf("retrieval: retriever: %w", err)
	}

	ok = true
	return s, nil
}

// Close tears the stack down in reverse dependency order. Errors are
// logged, not returned; teardown continues past a failing component.
func (s *Stack) Close() {
	if s == nil {
		return
	}
	if s.Collector != nil {
		if err := s.Collector.Close(); err != nil {
			s.logger.Warn("closing telemetry collector", "error", err)
		}
	}
	if s.Sink != nil {
		if err := s.Sink.Close(); err != nil {
			s.logger.Warn("closing metrics sink", "error", err)
		}
	}
	if s.Router != nil {
		if err := s.Router.Close(); err != nil {
			s.logger.Warn("closing experiment router", "error", err)
		}
	}
	if s.Geocoder != nil {
		if err := s.Geocoder.Close(); err != nil {
			s.logger.Warn("closing geocoder", "error", err)
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
