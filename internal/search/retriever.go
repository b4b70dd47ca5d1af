package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hunianlab/rumahcari/internal/backend"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/store"
	"github.com/hunianlab/rumahcari/internal/telemetry"
)

// Retriever answers criteria searches. One instance serves the agent
// tool, the HTTP API, and the evaluator concurrently.
type Retriever struct {
	backend  Backend
	vector   VectorIndex
	embedder QueryEmbedder
	geocoder Geocoder
	router   MethodRouter

	sink      telemetry.Sink
	collector *telemetry.Collector

	cfg    RetrieverConfig
	logger *slog.Logger
}

// Option configures optional retriever collaborators.
type Option func(*Retriever)

// WithGeocoder enables the proximity fallback. Without one, keyword
// searches that find nothing stay empty.
func WithGeocoder(g Geocoder) Option {
	return func(r *Retriever) { r.geocoder = g }
}

// WithRouter delegates method selection to the experiment router.
func WithRouter(router MethodRouter) Option {
	return func(r *Retriever) { r.router = router }
}

// WithSink directs per-search records to a metrics sink.
func WithSink(sink telemetry.Sink) Option {
	return func(r *Retriever) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithCollector folds each search into the in-memory aggregates behind
// the stats command.
func WithCollector(c *telemetry.Collector) Option {
	return func(r *Retriever) { r.collector = c }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRetriever wires a retriever. The backend is required. A nil vector
// index or embedder narrows service to structured search: hybrid runs
// on the backend leg alone and vector-only requests fail.
func NewRetriever(bk Backend, vector VectorIndex, embedder QueryEmbedder, cfg RetrieverConfig, opts ...Option) (*Retriever, error) {
	if bk == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "property backend is required", nil)
	}

	r := &Retriever{
		backend:  bk,
		vector:   vector,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
		sink:     telemetry.NopSink{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve runs one search: pick the method, execute it, fall back to a
// geocoded circle when the location keyword found nothing, and record
// the call. The criteria are not mutated.
func (r *Retriever) Retrieve(ctx context.Context, criteria *property.SearchCriteria, opts RetrieveOptions) (*RetrievalResult, error) {
	start := time.Now()

	if criteria == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeInvalidCriteria, "search criteria are required", nil)
	}
	c := *criteria
	if len(c.Amenities) > 0 {
		c.Amenities = append([]string(nil), c.Amenities...)
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	method := r.resolveMethod(opts)

	rec := telemetry.SearchRecord{
		Timestamp: start.UTC(),
		UserID:    opts.UserID,
		ThreadID:  opts.ThreadID,
		Method:    method.String(),
		Query:     c.Query,
	}
	record := func(res *RetrievalResult, err error) {
		rec.TotalMS = time.Since(start).Milliseconds()
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.ResultCount = len(res.Properties)
		}
		r.sink.Record(telemetry.KindSearch, rec)
		if r.collector != nil {
			r.collector.Observe(rec)
		}
	}

	res, err := r.attempt(ctx, &c, method, &rec)
	if err != nil {
		record(nil, err)
		return nil, err
	}

	label := method.String()
	if r.geocoder != nil && c.LocationKeyword != "" && !keywordSatisfied(res.Properties, c.LocationKeyword) {
		if geoRes, ok := r.proximityFallback(ctx, c, method, &rec); ok {
			res = geoRes
			label += "+GEO"
		}
	}

	res.MethodUsed = label
	res.TookMS = time.Since(start).Milliseconds()
	rec.Method = label
	record(res, nil)
	return res, nil
}

// resolveMethod picks the retrieval method: per-request override, then
// the experiment router, then the configured hybrid default.
func (r *Retriever) resolveMethod(opts RetrieveOptions) property.SearchMethod {
	if !opts.Method.IsZero() {
		return opts.Method
	}
	if r.router != nil {
		if m := r.router.MethodFor(opts.UserID); !m.IsZero() {
			return m
		}
	}
	return property.Hybrid(r.cfg.SemanticWeight)
}

// attempt executes one pass of the chosen method. The proximity fallback
// reruns it with geo criteria; leg timings in rec then reflect the rerun,
// which is the search the caller was answered with.
func (r *Retriever) attempt(ctx context.Context, c *property.SearchCriteria, method property.SearchMethod, rec *telemetry.SearchRecord) (*RetrievalResult, error) {
	switch method.Kind {
	case property.MethodStructured:
		return r.structuredOnly(ctx, c, rec)
	case property.MethodVector:
		return r.vectorOnly(ctx, c, rec)
	default:
		return r.hybrid(ctx, c, r.blendWeight(method), rec)
	}
}

func (r *Retriever) blendWeight(method property.SearchMethod) float64 {
	if method.Weight > 0 && method.Weight <= 1 {
		return method.Weight
	}
	return r.cfg.SemanticWeight
}

// structuredOnly pages the backend and returns its ordering untouched.
func (r *Retriever) structuredOnly(ctx context.Context, c *property.SearchCriteria, rec *telemetry.SearchRecord) (*RetrievalResult, error) {
	legStart := time.Now()
	page, err := r.backend.SearchPage(ctx, c, c.Page, c.Limit)
	rec.StructuredMS = time.Since(legStart).Milliseconds()
	if err != nil {
		return nil, err
	}
	rec.StructuredCount = len(page.Properties)

	total := page.Meta.Total
	if total < len(page.Properties) {
		total = len(page.Properties)
	}
	return &RetrievalResult{
		Properties: page.Properties,
		Total:      total,
	}, nil
}

// vectorOnly ranks purely by semantic similarity, then swaps the index
// skeletons for authoritative backend detail.
func (r *Retriever) vectorOnly(ctx context.Context, c *property.SearchCriteria, rec *telemetry.SearchRecord) (*RetrievalResult, error) {
	if c.Query == "" {
		return nil, rcerrors.New(rcerrors.ErrCodeQueryEmpty, "vector_only search needs a non-empty query", nil)
	}
	if r.vector == nil || r.embedder == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "vector index is not configured", nil)
	}

	legStart := time.Now()
	vec, cached, err := r.embedder.EmbedCached(ctx, c.Query)
	if err != nil {
		rec.VectorMS = time.Since(legStart).Milliseconds()
		return nil, err
	}
	rec.EmbeddingCacheHit = cached

	hits, err := r.vector.Search(ctx, vec, c.Limit, store.CriteriaFilter(c))
	rec.VectorMS = time.Since(legStart).Milliseconds()
	if err != nil {
		return nil, err
	}
	rec.VectorCount = len(hits)

	props := r.fetchDetails(ctx, hits)
	rec.RerankChanges = len(props)

	scores := make(map[string]float64, len(hits))
	for _, hit := range hits {
		scores[hit.Slug] = clamp01(hit.Score)
	}
	kept := make(map[string]float64, len(props))
	for i := range props {
		kept[props[i].Slug] = scores[props[i].Slug]
	}

	return &RetrievalResult{
		Properties:     props,
		Total:          len(props),
		RerankApplied:  len(hits) > 0,
		SemanticScores: kept,
	}, nil
}

// hybrid runs the backend and vector legs concurrently, then blends the
// two orderings. The legs are independent: one failing degrades the
// search to the survivor instead of failing it.
func (r *Retriever) hybrid(ctx context.Context, c *property.SearchCriteria, weight float64, rec *telemetry.SearchRecord) (*RetrievalResult, error) {
	var (
		backendPage *backend.SearchResult
		backendErr  error
		vectorHits  []store.SearchResult
		vectorErr   error
	)

	runVector := c.Query != "" && r.vector != nil && r.embedder != nil
	if runVector && r.vector.Count() == 0 {
		// Embedding the query cannot help an empty index.
		runVector = false
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		legStart := time.Now()
		perPage := c.Limit
		if perPage < structuredFloor {
			perPage = structuredFloor
		}
		backendPage, backendErr = r.backend.SearchPage(gctx, c, 1, perPage)
		rec.StructuredMS = time.Since(legStart).Milliseconds()
		// Leg errors are captured, not returned: returning one would
		// cancel the sibling through the group context.
		return nil
	})

	if runVector {
		g.Go(func() error {
			legStart := time.Now()
			defer func() { rec.VectorMS = time.Since(legStart).Milliseconds() }()

			vec, cached, err := r.embedder.EmbedCached(gctx, c.Query)
			if err != nil {
				vectorErr = err
				return nil
			}
			rec.EmbeddingCacheHit = cached

			vectorHits, vectorErr = r.vector.Search(gctx, vec, vectorCandidateFactor*c.Limit, store.CriteriaFilter(c))
			return nil
		})
	}

	_ = g.Wait()

	if backendErr != nil && (!runVector || vectorErr != nil) {
		if vectorErr != nil {
			return nil, errors.Join(backendErr, vectorErr)
		}
		return nil, backendErr
	}

	if backendErr != nil {
		r.logger.Warn("hybrid structured leg failed; continuing on vector results",
			slog.String("error", backendErr.Error()))
		rec.Degraded = "structured"
	}
	if runVector && vectorErr != nil {
		r.logger.Warn("hybrid vector leg failed; returning backend ordering",
			slog.String("error", vectorErr.Error()))
		rec.Degraded = "vector"
		vectorHits = nil
	}

	var backendProps []property.Property
	if backendErr == nil {
		backendProps = backendPage.Properties
		rec.StructuredCount = len(backendProps)
	}
	rec.VectorCount = len(vectorHits)

	cands := mergeCandidates(backendProps, vectorHits)
	scoreCandidates(cands, weight)
	candidateCount := len(cands)
	if len(cands) > c.Limit {
		cands = cands[:c.Limit]
	}

	kept := r.resolveDetails(ctx, cands)

	props := make([]property.Property, 0, len(kept))
	scores := make(map[string]float64, len(kept))
	changes := 0
	for i, cand := range kept {
		props = append(props, *cand.prop)
		if cand.observed {
			scores[cand.slug] = cand.semantic
		}
		if !cand.fromBackend || cand.backendRank != i {
			changes++
		}
	}
	rec.RerankChanges = changes

	total := len(props)
	if backendErr == nil {
		total = backendPage.Meta.Total
		if total < candidateCount {
			total = candidateCount
		}
	}

	return &RetrievalResult{
		Properties:     props,
		Total:          total,
		RerankApplied:  runVector && vectorErr == nil && len(vectorHits) > 0,
		SemanticScores: scores,
	}, nil
}

// resolveDetails fills in backend detail for candidates that only the
// vector index knows. Candidates whose fetch fails are dropped.
func (r *Retriever) resolveDetails(ctx context.Context, cands []*candidate) []*candidate {
	missing := make([]store.SearchResult, 0, len(cands))
	for _, cand := range cands {
		if cand.prop == nil {
			missing = append(missing, store.SearchResult{Slug: cand.slug, Score: cand.semantic})
		}
	}
	if len(missing) == 0 {
		return cands
	}

	fetched := r.fetchDetails(ctx, missing)
	bySlug := make(map[string]*property.Property, len(fetched))
	for i := range fetched {
		bySlug[fetched[i].Slug] = &fetched[i]
	}

	kept := cands[:0]
	for _, cand := range cands {
		if cand.prop == nil {
			p, ok := bySlug[cand.slug]
			if !ok {
				continue
			}
			cand.prop = p
		}
		kept = append(kept, cand)
	}
	return kept
}

// fetchDetails resolves vector hits to full records with bounded
// concurrency, preserving input order. Failed fetches are logged and
// dropped; a hit the backend no longer serves is stale, not fatal.
func (r *Retriever) fetchDetails(ctx context.Context, hits []store.SearchResult) []property.Property {
	if len(hits) == 0 {
		return nil
	}

	fetched := make([]*property.Property, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.DetailConcurrency)
	for i, hit := range hits {
		g.Go(func() error {
			var kind property.SourceKind
			if r.vector != nil {
				if meta, ok := r.vector.Meta(hit.Slug); ok {
					kind = meta.SourceKind
				}
			}
			p, err := r.backend.GetBySlug(gctx, kind, hit.Slug)
			if err != nil {
				r.logger.Warn("dropping hit without backend detail",
					slog.String("slug", hit.Slug),
					slog.String("error", err.Error()))
				return nil
			}
			fetched[i] = p
			return nil
		})
	}
	_ = g.Wait()

	out := make([]property.Property, 0, len(hits))
	for _, p := range fetched {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// proximityFallback geocodes the location keyword and reruns the method
// with a distance circle instead. The rerun result replaces the keyword
// result even when it is also empty; a geocode miss or rerun failure
// keeps the original.
func (r *Retriever) proximityFallback(ctx context.Context, c property.SearchCriteria, method property.SearchMethod, rec *telemetry.SearchRecord) (*RetrievalResult, bool) {
	pt, found, cachedHit, err := r.geocoder.GeocodeCached(ctx, c.LocationKeyword)
	if err != nil {
		r.logger.Warn("proximity fallback skipped: geocoding failed",
			slog.String("keyword", c.LocationKeyword),
			slog.String("error", err.Error()))
		return nil, false
	}
	if !found {
		r.logger.Debug("proximity fallback skipped: keyword not geocodable",
			slog.String("keyword", c.LocationKeyword))
		return nil, false
	}
	rec.GeocodeCacheHit = cachedHit

	tight := c.WithGeoCircle(pt.Lat, pt.Lng, r.cfg.DefaultRadiusKM)
	res, err := r.attempt(ctx, &tight, method, rec)
	if err != nil {
		r.logger.Warn("proximity rerun failed; keeping keyword result",
			slog.String("keyword", c.LocationKeyword),
			slog.String("error", err.Error()))
		return nil, false
	}

	if len(res.Properties) == 0 {
		wide := c.WithGeoCircle(pt.Lat, pt.Lng, r.cfg.MaxRadiusKM)
		if wres, werr := r.attempt(ctx, &wide, method, rec); werr == nil {
			res = wres
		}
	}

	r.logger.Info("proximity fallback applied",
		slog.String("keyword", c.LocationKeyword),
		slog.Float64("lat", pt.Lat),
		slog.Float64("lng", pt.Lng),
		slog.Int("results", len(res.Properties)))
	return res, true
}

// keywordSatisfied reports whether any returned property's location text
// contains the keyword. When none does, the textual match failed and the
// proximity fallback takes over.
func keywordSatisfied(props []property.Property, keyword string) bool {
	needle := strings.ToLower(keyword)
	for i := range props {
		if strings.Contains(strings.ToLower(props[i].LocationText()), needle) {
			return true
		}
	}
	return false
}
