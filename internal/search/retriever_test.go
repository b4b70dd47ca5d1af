package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunianlab/rumahcari/internal/backend"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/geo"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/store"
	"github.com/hunianlab/rumahcari/internal/telemetry"
)

// searchCall snapshots one SearchPage invocation.
type searchCall struct {
	criteria property.SearchCriteria
	page     int
	perPage  int
}

type fakeBackend struct {
	mu          sync.Mutex
	search      func(c *property.SearchCriteria, page, perPage int) (*backend.SearchResult, error)
	details     map[string]property.Property
	failDetail  map[string]bool
	searchCalls []searchCall
	detailKinds map[string]property.SourceKind
}

func (f *fakeBackend) SearchPage(_ context.Context, c *property.SearchCriteria, page, perPage int) (*backend.SearchResult, error) {
	f.mu.Lock()
	var snapshot property.SearchCriteria
	if c != nil {
		snapshot = *c
	}
	f.searchCalls = append(f.searchCalls, searchCall{criteria: snapshot, page: page, perPage: perPage})
	fn := f.search
	f.mu.Unlock()

	if fn == nil {
		return &backend.SearchResult{}, nil
	}
	return fn(c, page, perPage)
}

func (f *fakeBackend) GetBySlug(_ context.Context, kind property.SourceKind, slug string) (*property.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detailKinds == nil {
		f.detailKinds = make(map[string]property.SourceKind)
	}
	f.detailKinds[slug] = kind
	if f.failDetail[slug] {
		return nil, rcerrors.New(rcerrors.ErrCodeUpstreamUnavailable, "backend detail unavailable", nil)
	}
	p, ok := f.details[slug]
	if !ok {
		return nil, rcerrors.New(rcerrors.ErrCodeInvalidInput, "detail not found", backend.ErrNotFound)
	}
	cp := p
	return &cp, nil
}

func (f *fakeBackend) calls() []searchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]searchCall(nil), f.searchCalls...)
}

func (f *fakeBackend) kindFor(slug string) property.SourceKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailKinds[slug]
}

type vectorCall struct {
	k int
}

type fakeVector struct {
	mu          sync.Mutex
	hits        []store.SearchResult
	err         error
	count       int
	metas       map[string]store.EntryMeta
	applyFilter bool
	calls       []vectorCall
}

func (f *fakeVector) Search(_ context.Context, _ []float32, k int, filter store.SearchFilter) ([]store.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, vectorCall{k: k})
	if f.err != nil {
		return nil, f.err
	}
	out := make([]store.SearchResult, 0, len(f.hits))
	for _, hit := range f.hits {
		if filter != nil && f.applyFilter {
			meta := f.metas[hit.Slug]
			if !filter(hit.Slug, &meta) {
				continue
			}
		}
		out = append(out, hit)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (f *fakeVector) Meta(slug string) (store.EntryMeta, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.metas[slug]
	return m, ok
}

func (f *fakeVector) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count != 0 {
		return f.count
	}
	return len(f.hits)
}

func (f *fakeVector) searchCalls() []vectorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vectorCall(nil), f.calls...)
}

type fakeEmbedder struct {
	mu     sync.Mutex
	vec    []float32
	cached bool
	err    error
	fn     func(ctx context.Context, text string) ([]float32, bool, error)
	texts  []string
}

func (f *fakeEmbedder) EmbedCached(ctx context.Context, text string) ([]float32, bool, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if f.err != nil {
		return nil, false, f.err
	}
	vec := f.vec
	if vec == nil {
		vec = []float32{0.1, 0.2, 0.3}
	}
	return vec, f.cached, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

type fakeGeocoder struct {
	mu     sync.Mutex
	points map[string]geo.Point
	cached bool
	err    error
	places []string
}

func (f *fakeGeocoder) GeocodeCached(_ context.Context, place string) (geo.Point, bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.places = append(f.places, place)
	if f.err != nil {
		return geo.Point{}, false, false, f.err
	}
	pt, ok := f.points[place]
	return pt, ok, f.cached, nil
}

func (f *fakeGeocoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.places)
}

type fixedRouter struct {
	method   property.SearchMethod
	lastUser string
}

func (r *fixedRouter) MethodFor(userID string) property.SearchMethod {
	r.lastUser = userID
	return r.method
}

type captureSink struct {
	mu      sync.Mutex
	records []telemetry.SearchRecord
}

func (s *captureSink) Record(_ telemetry.Kind, record any) {
	rec, ok := record.(telemetry.SearchRecord)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) all() []telemetry.SearchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.SearchRecord(nil), s.records...)
}

func listing(slug, area string) property.Property {
	return property.Property{
		SourceKind:   property.SourceListing,
		Slug:         slug,
		PropertyType: property.TypeHouse,
		ListingType:  property.ListingSale,
		Status:       property.StatusActive,
		Price:        property.Single(900_000_000),
		Bedrooms:     property.Single(3),
		City:         "Medan",
		Area:         area,
		Title:        "Rumah " + slug,
	}
}

func pageOf(total int, rows ...property.Property) *backend.SearchResult {
	return &backend.SearchResult{
		Properties: rows,
		Meta:       backend.PageMeta{Total: total, CurrentPage: 1, PerPage: len(rows)},
	}
}

func resultSlugs(res *RetrievalResult) []string {
	out := make([]string, 0, len(res.Properties))
	for i := range res.Properties {
		out = append(out, res.Properties[i].Slug)
	}
	return out
}

func f64(v float64) *float64 { return &v }

// newTestRetriever wires a retriever around fakes, with a capture sink
// always attached. Nil fakes stay nil interfaces.
func newTestRetriever(t *testing.T, fb *fakeBackend, fv *fakeVector, fe *fakeEmbedder, opts ...Option) (*Retriever, *captureSink) {
	t.Helper()

	sink := &captureSink{}
	opts = append(opts, WithSink(sink))

	var vec VectorIndex
	if fv != nil {
		vec = fv
	}
	var emb QueryEmbedder
	if fe != nil {
		emb = fe
	}

	r, err := NewRetriever(fb, vec, emb, RetrieverConfig{}, opts...)
	require.NoError(t, err)
	return r, sink
}

func TestNewRetrieverRequiresBackend(t *testing.T) {
	_, err := NewRetriever(nil, nil, nil, RetrieverConfig{})
	require.Error(t, err)
	assert.Equal(t, rcerrors.ErrCodeConfigInvalid, rcerrors.GetCode(err))
}

func TestStructuredOnlyReturnsBackendOrder(t *testing.T) {
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return pageOf(40,
				listing("athena", "Medan Johor"),
				listing("citra", "Medan Johor"),
				listing("bima", "Medan Johor")), nil
		},
	}
	r, sink := newTestRetriever(t, fb, nil, nil)

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{}, RetrieveOptions{
		Method: property.StructuredOnly(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"athena", "citra", "bima"}, resultSlugs(res))
	assert.Equal(t, 40, res.Total)
	assert.False(t, res.RerankApplied)
	assert.Equal(t, "STRUCTURED_ONLY", res.MethodUsed)
	assert.Empty(t, res.SemanticScores)

	calls := fb.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].page)
	assert.Equal(t, property.DefaultLimit, calls[0].perPage)

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "STRUCTURED_ONLY", recs[0].Method)
	assert.Equal(t, 3, recs[0].ResultCount)
	assert.Equal(t, 3, recs[0].StructuredCount)
	assert.Zero(t, recs[0].RerankChanges)
}

func TestStructuredOnlyUsesRequestedPage(t *testing.T) {
	fb := &fakeBackend{}
	r, _ := newTestRetriever(t, fb, nil, nil)

	_, err := r.Retrieve(context.Background(), &property.SearchCriteria{Page: 3, Limit: 5}, RetrieveOptions{
		Method: property.StructuredOnly(),
	})
	require.NoError(t, err)

	calls := fb.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 3, calls[0].page)
	assert.Equal(t, 5, calls[0].perPage)
}

func TestStructuredOnlyPropagatesUpstreamError(t *testing.T) {
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return nil, rcerrors.Newf(rcerrors.ErrCodeUpstreamUnavailable, "property backend returned 503")
		},
	}
	r, sink := newTestRetriever(t, fb, nil, nil)

	_, err := r.Retrieve(context.Background(), &property.SearchCriteria{}, RetrieveOptions{
		Method: property.StructuredOnly(),
	})
	require.Error(t, err)
	assert.True(t, rcerrors.IsKind(err, rcerrors.KindUpstreamUnavailable))

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].Error)
	assert.Zero(t, recs[0].ResultCount)
}

func TestRetrieveRejectsInvalidCriteria(t *testing.T) {
	r, sink := newTestRetriever(t, &fakeBackend{}, nil, nil)

	_, err := r.Retrieve(context.Background(), &property.SearchCriteria{Limit: 500}, RetrieveOptions{})
	require.Error(t, err)
	assert.Equal(t, rcerrors.ErrCodeInvalidCriteria, rcerrors.GetCode(err))

	// Rejected requests never ran a method, so nothing is recorded.
	assert.Empty(t, sink.all())
}

func TestRetrieveRequiresCriteria(t *testing.T) {
	r, _ := newTestRetriever(t, &fakeBackend{}, nil, nil)

	_, err := r.Retrieve(context.Background(), nil, RetrieveOptions{})
	require.Error(t, err)
	assert.Equal(t, rcerrors.ErrCodeInvalidCriteria, rcerrors.GetCode(err))
}

func TestVectorOnlyRequiresQuery(t *testing.T) {
	r, _ := newTestRetriever(t, &fakeBackend{}, &fakeVector{}, &fakeEmbedder{})

	_, err := r.Retrieve(context.Background(), &property.SearchCriteria{}, RetrieveOptions{
		Method: property.VectorOnly(),
	})
	require.Error(t, err)
	assert.Equal(t, rcerrors.ErrCodeQueryEmpty, rcerrors.GetCode(err))
}

func TestVectorOnlyWithoutIndexFails(t *testing.T) {
	r, _ := newTestRetriever(t, &fakeBackend{}, nil, nil)

	_, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah"}, RetrieveOptions{
		Method: property.VectorOnly(),
	})
	require.Error(t, err)
	assert.Equal(t, rcerrors.ErrCodeConfigInvalid, rcerrors.GetCode(err))
}

func TestVectorOnlyRanksBySimilarity(t *testing.T) {
	fv := &fakeVector{
		hits: []store.SearchResult{{Slug: "v1", Score: 0.92}, {Slug: "v2", Score: 0.81}},
		metas: map[string]store.EntryMeta{
			"v1": {SourceKind: property.SourceListing},
			"v2": {SourceKind: property.SourceProject},
		},
	}
	fe := &fakeEmbedder{cached: true}
	fb := &fakeBackend{details: map[string]property.Property{
		"v1": listing("v1", "Medan Johor"),
		"v2": listing("v2", "Medan Sunggal"),
	}}
	r, sink := newTestRetriever(t, fb, fv, fe)

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah dekat kampus"}, RetrieveOptions{
		Method: property.VectorOnly(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"v1", "v2"}, resultSlugs(res))
	assert.True(t, res.RerankApplied)
	assert.Equal(t, "VECTOR_ONLY", res.MethodUsed)
	assert.Equal(t, 2, res.Total)
	assert.InDelta(t, 0.92, res.SemanticScores["v1"], 1e-9)
	assert.InDelta(t, 0.81, res.SemanticScores["v2"], 1e-9)

	// Index metadata supplies the kind hint so GetBySlug hits the right
	// collection on the first try.
	assert.Equal(t, property.SourceListing, fb.kindFor("v1"))
	assert.Equal(t, property.SourceProject, fb.kindFor("v2"))

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].EmbeddingCacheHit)
	assert.Equal(t, 2, recs[0].VectorCount)
	assert.Equal(t, 2, recs[0].RerankChanges)
}

func TestVectorOnlyDropsFailedDetailFetch(t *testing.T) {
	fv := &fakeVector{
		hits: []store.SearchResult{{Slug: "v1", Score: 0.9}, {Slug: "v2", Score: 0.8}},
	}
	fb := &fakeBackend{
		details:    map[string]property.Property{"v1": listing("v1", "Medan Johor")},
		failDetail: map[string]bool{"v2": true},
	}
	r, _ := newTestRetriever(t, fb, fv, &fakeEmbedder{})

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah"}, RetrieveOptions{
		Method: property.VectorOnly(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"v1"}, resultSlugs(res))
	assert.Equal(t, 1, res.Total)
	assert.True(t, res.RerankApplied)
	assert.NotContains(t, res.SemanticScores, "v2")
}

func TestVectorOnlyAppliesCriteriaFilter(t *testing.T) {
	fv := &fakeVector{
		applyFilter: true,
		hits:        []store.SearchResult{{Slug: "pricey", Score: 0.95}, {Slug: "cheap", Score: 0.9}},
		metas: map[string]store.EntryMeta{
			"pricey": {Price: property.Single(2_500_000_000)},
			"cheap":  {Price: property.Single(800_000_000)},
		},
	}
	fb := &fakeBackend{details: map[string]property.Property{"cheap": listing("cheap", "Medan Johor")}}
	r, _ := newTestRetriever(t, fb, fv, &fakeEmbedder{})

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{
		Query:    "rumah murah",
		PriceMax: f64(1_000_000_000),
	}, RetrieveOptions{Method: property.VectorOnly()})
	require.NoError(t, err)

	assert.Equal(t, []string{"cheap"}, resultSlugs(res))
}

func TestVectorOnlyEmptyIndexReturnsEmpty(t *testing.T) {
	r, _ := newTestRetriever(t, &fakeBackend{}, &fakeVector{}, &fakeEmbedder{})

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah"}, RetrieveOptions{
		Method: property.VectorOnly(),
	})
	require.NoError(t, err)

	assert.Empty(t, res.Properties)
	assert.Zero(t, res.Total)
	assert.False(t, res.RerankApplied)
}

func TestHybridBlendsLegs(t *testing.T) {
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return pageOf(37,
				listing("a", "Medan Johor"),
				listing("b", "Medan Johor"),
				listing("c", "Medan Johor")), nil
		},
		details: map[string]property.Property{"d": listing("d", "Medan Johor")},
	}
	fv := &fakeVector{hits: []store.SearchResult{{Slug: "c", Score: 1.0}, {Slug: "d", Score: 0.55}}}
	fe := &fakeEmbedder{}
	r, sink := newTestRetriever(t, fb, fv, fe)

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah minimalis"}, RetrieveOptions{})
	require.NoError(t, err)

	// Median of observed scores {1.0, 0.55} fills in 0.775 for a and b;
	// c's own score lifts it past b, d has no backend position.
	assert.Equal(t, "HYBRID(w=0.60)", res.MethodUsed)
	assert.Equal(t, []string{"a", "c", "b", "d"}, resultSlugs(res))
	assert.True(t, res.RerankApplied)
	assert.Equal(t, 37, res.Total)
	assert.InDelta(t, 1.0, res.SemanticScores["c"], 1e-9)
	assert.InDelta(t, 0.55, res.SemanticScores["d"], 1e-9)
	assert.NotContains(t, res.SemanticScores, "a")

	calls := fb.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].page)
	assert.Equal(t, structuredFloor, calls[0].perPage)

	vcalls := fv.searchCalls()
	require.Len(t, vcalls, 1)
	assert.Equal(t, vectorCandidateFactor*property.DefaultLimit, vcalls[0].k)

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, 3, recs[0].StructuredCount)
	assert.Equal(t, 2, recs[0].VectorCount)
	assert.Equal(t, 3, recs[0].RerankChanges)
	assert.Empty(t, recs[0].Degraded)
}

func TestHybridEmptyQueryRunsBackendOnly(t *testing.T) {
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return pageOf(3, listing("a", "Medan"), listing("b", "Medan"), listing("c", "Medan")), nil
		},
	}
	fv := &fakeVector{hits: []store.SearchResult{{Slug: "x", Score: 0.9}}}
	fe := &fakeEmbedder{}
	r, sink := newTestRetriever(t, fb, fv, fe)

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{}, RetrieveOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, resultSlugs(res))
	assert.False(t, res.RerankApplied)
	assert.Zero(t, fe.callCount())

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Zero(t, recs[0].VectorCount)
	assert.Empty(t, recs[0].Degraded)
}

func TestHybridSkipsVectorLegOnEmptyIndex(t *testing.T) {
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return pageOf(1, listing("a", "Medan")), nil
		},
	}
	fe := &fakeEmbedder{}
	r, _ := newTestRetriever(t, fb, &fakeVector{}, fe)

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah"}, RetrieveOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, resultSlugs(res))
	assert.False(t, res.RerankApplied)
	assert.Zero(t, fe.callCount())
}

func TestHybridDegradesWhenVectorLegFails(t *testing.T) {
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return pageOf(3, listing("a", "Medan"), listing("b", "Medan"), listing("c", "Medan")), nil
		},
	}
	fv := &fakeVector{
		count: 5,
		err:   rcerrors.New(rcerrors.ErrCodeVectorIO, "graph file unreadable", nil),
	}
	r, sink := newTestRetriever(t, fb, fv, &fakeEmbedder{})

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah"}, RetrieveOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, resultSlugs(res))
	assert.False(t, res.RerankApplied)
	assert.Equal(t, "HYBRID(w=0.60)", res.MethodUsed)

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "vector", recs[0].Degraded)
	assert.Empty(t, recs[0].Error)
	assert.Zero(t, recs[0].RerankChanges)
}

func TestHybridDegradesWhenBackendLegFails(t *testing.T) {
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return nil, rcerrors.Newf(rcerrors.ErrCodeUpstreamUnavailable, "property backend returned 502")
		},
		details: map[string]property.Property{
			"v1": listing("v1", "Medan Johor"),
			"v2": listing("v2", "Medan Johor"),
		},
	}
	fv := &fakeVector{hits: []store.SearchResult{{Slug: "v1", Score: 0.9}, {Slug: "v2", Score: 0.7}}}
	r, sink := newTestRetriever(t, fb, fv, &fakeEmbedder{})

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah"}, RetrieveOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"v1", "v2"}, resultSlugs(res))
	assert.True(t, res.RerankApplied)
	assert.Equal(t, 2, res.Total)

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "structured", recs[0].Degraded)
	assert.Equal(t, 2, recs[0].RerankChanges)
}

func TestHybridFailsWhenBothLegsFail(t *testing.T) {
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return nil, rcerrors.Newf(rcerrors.ErrCodeUpstreamUnavailable, "property backend returned 503")
		},
	}
	fv := &fakeVector{
		count: 3,
		err:   rcerrors.New(rcerrors.ErrCodeVectorIO, "graph file unreadable", nil),
	}
	r, sink := newTestRetriever(t, fb, fv, &fakeEmbedder{})

	_, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah"}, RetrieveOptions{})
	require.Error(t, err)
	assert.True(t, rcerrors.IsKind(err, rcerrors.KindUpstreamUnavailable))

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].Error)
}

func TestHybridCollapsesDuplicateSlugs(t *testing.T) {
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return pageOf(2, listing("a", "Medan"), listing("b", "Medan")), nil
		},
	}
	fv := &fakeVector{hits: []store.SearchResult{{Slug: "a", Score: 0.9}}}
	r, sink := newTestRetriever(t, fb, fv, &fakeEmbedder{})

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah"}, RetrieveOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, resultSlugs(res))
	assert.True(t, res.RerankApplied)
	assert.InDelta(t, 0.9, res.SemanticScores["a"], 1e-9)
	assert.NotContains(t, res.SemanticScores, "b")

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Zero(t, recs[0].RerankChanges)
}

func TestHybridTruncatesToLimit(t *testing.T) {
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return pageOf(3, listing("a", "Medan"), listing("b", "Medan"), listing("c", "Medan")), nil
		},
	}
	r, _ := newTestRetriever(t, fb, nil, nil)

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Limit: 2}, RetrieveOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, resultSlugs(res))
	assert.Equal(t, 3, res.Total)

	calls := fb.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, structuredFloor, calls[0].perPage)
}

func TestHybridDropsVectorHitsWithoutDetail(t *testing.T) {
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return pageOf(2, listing("a", "Medan"), listing("b", "Medan")), nil
		},
		failDetail: map[string]bool{"x": true},
	}
	fv := &fakeVector{hits: []store.SearchResult{{Slug: "x", Score: 0.9}, {Slug: "b", Score: 0.3}}}
	r, _ := newTestRetriever(t, fb, fv, &fakeEmbedder{})

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah"}, RetrieveOptions{})
	require.NoError(t, err)

	// x would have ranked between a and b but its detail fetch failed.
	assert.Equal(t, []string{"a", "b"}, resultSlugs(res))
	assert.True(t, res.RerankApplied)
}

func TestHybridLegsRunConcurrently(t *testing.T) {
	backendStarted := make(chan struct{})
	vectorStarted := make(chan struct{})

	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			close(backendStarted)
			select {
			case <-vectorStarted:
			case <-time.After(2 * time.Second):
				return nil, errors.New("vector leg never started")
			}
			return pageOf(1, listing("a", "Medan")), nil
		},
		details: map[string]property.Property{"b": listing("b", "Medan")},
	}
	fe := &fakeEmbedder{
		fn: func(context.Context, string) ([]float32, bool, error) {
			close(vectorStarted)
			select {
			case <-backendStarted:
			case <-time.After(2 * time.Second):
				return nil, false, errors.New("backend leg never started")
			}
			return []float32{0.1}, false, nil
		},
	}
	fv := &fakeVector{hits: []store.SearchResult{{Slug: "b", Score: 0.8}}}
	r, sink := newTestRetriever(t, fb, fv, fe)

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah"}, RetrieveOptions{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, resultSlugs(res))
	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Degraded)
}

func TestProximityFallbackGeocodesKeyword(t *testing.T) {
	medanJohor := geo.Point{Lat: 3.5358, Lng: 98.6702}
	fb := &fakeBackend{
		search: func(c *property.SearchCriteria, _, _ int) (*backend.SearchResult, error) {
			if c != nil && c.HasGeoCircle() {
				return pageOf(1, listing("g1", "Medan Johor")), nil
			}
			return pageOf(0), nil
		},
	}
	fg := &fakeGeocoder{points: map[string]geo.Point{"sekitar Medan Johor": medanJohor}, cached: true}
	r, sink := newTestRetriever(t, fb, nil, nil, WithGeocoder(fg))

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{LocationKeyword: "sekitar Medan Johor"}, RetrieveOptions{
		Method: property.StructuredOnly(),
	})
	require.NoError(t, err)

	assert.Equal(t, "STRUCTURED_ONLY+GEO", res.MethodUsed)
	assert.Equal(t, []string{"g1"}, resultSlugs(res))

	calls := fb.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "sekitar Medan Johor", calls[0].criteria.LocationKeyword)

	rerun := calls[1].criteria
	assert.Empty(t, rerun.LocationKeyword)
	require.True(t, rerun.HasGeoCircle())
	assert.InDelta(t, medanJohor.Lat, *rerun.Latitude, 1e-9)
	assert.InDelta(t, medanJohor.Lng, *rerun.Longitude, 1e-9)
	assert.InDelta(t, DefaultRadiusKM, *rerun.RadiusKM, 1e-9)

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "STRUCTURED_ONLY+GEO", recs[0].Method)
	assert.True(t, recs[0].GeocodeCacheHit)
}

func TestProximityFallbackWidensOnce(t *testing.T) {
	fb := &fakeBackend{
		search: func(c *property.SearchCriteria, _, _ int) (*backend.SearchResult, error) {
			if c != nil && c.HasGeoCircle() && *c.RadiusKM >= WidenedRadiusKM {
				return pageOf(1, listing("g1", "Medan Johor")), nil
			}
			return pageOf(0), nil
		},
	}
	fg := &fakeGeocoder{points: map[string]geo.Point{"dekat USU": {Lat: 3.5652, Lng: 98.6566}}}
	r, _ := newTestRetriever(t, fb, nil, nil, WithGeocoder(fg))

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{LocationKeyword: "dekat USU"}, RetrieveOptions{
		Method: property.StructuredOnly(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"g1"}, resultSlugs(res))
	assert.Equal(t, "STRUCTURED_ONLY+GEO", res.MethodUsed)

	calls := fb.calls()
	require.Len(t, calls, 3)
	assert.False(t, calls[0].criteria.HasGeoCircle())
	assert.InDelta(t, DefaultRadiusKM, *calls[1].criteria.RadiusKM, 1e-9)
	assert.InDelta(t, WidenedRadiusKM, *calls[2].criteria.RadiusKM, 1e-9)
}

func TestProximityFallbackTriggersOnKeywordMismatch(t *testing.T) {
	fb := &fakeBackend{
		search: func(c *property.SearchCriteria, _, _ int) (*backend.SearchResult, error) {
			if c != nil && c.HasGeoCircle() {
				return pageOf(1, listing("near", "Medan Selayang")), nil
			}
			// The backend matched the keyword against fields we cannot
			// see; the row's own location text disagrees.
			return pageOf(1, listing("far", "Belawan")), nil
		},
	}
	fg := &fakeGeocoder{points: map[string]geo.Point{"dekat USU": {Lat: 3.5652, Lng: 98.6566}}}
	r, _ := newTestRetriever(t, fb, nil, nil, WithGeocoder(fg))

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{LocationKeyword: "dekat USU"}, RetrieveOptions{
		Method: property.StructuredOnly(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"near"}, resultSlugs(res))
	assert.Equal(t, "STRUCTURED_ONLY+GEO", res.MethodUsed)
}

func TestProximityFallbackSkipsWhenKeywordMatched(t *testing.T) {
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return pageOf(1, listing("ok", "Medan Johor")), nil
		},
	}
	fg := &fakeGeocoder{points: map[string]geo.Point{"medan johor": {Lat: 3.5358, Lng: 98.6702}}}
	r, _ := newTestRetriever(t, fb, nil, nil, WithGeocoder(fg))

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{LocationKeyword: "medan johor"}, RetrieveOptions{
		Method: property.StructuredOnly(),
	})
	require.NoError(t, err)

	assert.Equal(t, "STRUCTURED_ONLY", res.MethodUsed)
	assert.Zero(t, fg.callCount())
	require.Len(t, fb.calls(), 1)
}

func TestProximityFallbackSkipsOnGeocodeMiss(t *testing.T) {
	fb := &fakeBackend{}
	fg := &fakeGeocoder{}
	r, _ := newTestRetriever(t, fb, nil, nil, WithGeocoder(fg))

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{LocationKeyword: "jalan tidak ada"}, RetrieveOptions{
		Method: property.StructuredOnly(),
	})
	require.NoError(t, err)

	assert.Empty(t, res.Properties)
	assert.Equal(t, "STRUCTURED_ONLY", res.MethodUsed)
	assert.Equal(t, 1, fg.callCount())
	require.Len(t, fb.calls(), 1)
}

func TestProximityFallbackSkipsOnGeocodeError(t *testing.T) {
	fb := &fakeBackend{}
	fg := &fakeGeocoder{err: rcerrors.New(rcerrors.ErrCodeGeocodeFailed, "all providers failed", nil)}
	r, _ := newTestRetriever(t, fb, nil, nil, WithGeocoder(fg))

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{LocationKeyword: "dekat USU"}, RetrieveOptions{
		Method: property.StructuredOnly(),
	})
	require.NoError(t, err)

	assert.Empty(t, res.Properties)
	assert.Equal(t, "STRUCTURED_ONLY", res.MethodUsed)
}

func TestProximityFallbackEmptyRerunReplacesOriginal(t *testing.T) {
	fb := &fakeBackend{
		search: func(c *property.SearchCriteria, _, _ int) (*backend.SearchResult, error) {
			if c != nil && c.HasGeoCircle() {
				return pageOf(0), nil
			}
			return pageOf(1, listing("far", "Belawan")), nil
		},
	}
	fg := &fakeGeocoder{points: map[string]geo.Point{"dekat USU": {Lat: 3.5652, Lng: 98.6566}}}
	r, _ := newTestRetriever(t, fb, nil, nil, WithGeocoder(fg))

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{LocationKeyword: "dekat USU"}, RetrieveOptions{
		Method: property.StructuredOnly(),
	})
	require.NoError(t, err)

	// The keyword rows never matched the asked-for location, so the
	// empty circle result wins over them.
	assert.Empty(t, res.Properties)
	assert.Equal(t, "STRUCTURED_ONLY+GEO", res.MethodUsed)
	require.Len(t, fb.calls(), 3)
}

func TestRetrieveUsesRouterAssignment(t *testing.T) {
	router := &fixedRouter{method: property.VectorOnly()}
	fv := &fakeVector{hits: []store.SearchResult{{Slug: "v1", Score: 0.9}}}
	fb := &fakeBackend{details: map[string]property.Property{"v1": listing("v1", "Medan")}}
	fe := &fakeEmbedder{}
	r, _ := newTestRetriever(t, fb, fv, fe, WithRouter(router))

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah"}, RetrieveOptions{UserID: "andi"})
	require.NoError(t, err)

	assert.Equal(t, "VECTOR_ONLY", res.MethodUsed)
	assert.Equal(t, "andi", router.lastUser)
	assert.Equal(t, 1, fe.callCount())
}

func TestRetrieveOverrideBeatsRouter(t *testing.T) {
	router := &fixedRouter{method: property.VectorOnly()}
	fb := &fakeBackend{
		search: func(*property.SearchCriteria, int, int) (*backend.SearchResult, error) {
			return pageOf(1, listing("a", "Medan")), nil
		},
	}
	fe := &fakeEmbedder{}
	r, _ := newTestRetriever(t, fb, &fakeVector{}, fe, WithRouter(router))

	res, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "rumah"}, RetrieveOptions{
		Method: property.StructuredOnly(),
	})
	require.NoError(t, err)

	assert.Equal(t, "STRUCTURED_ONLY", res.MethodUsed)
	assert.Zero(t, fe.callCount())
}

func TestRetrieveObservesCollector(t *testing.T) {
	collector := telemetry.NewCollectorWithConfig(nil, telemetry.CollectorConfig{}, nil)
	t.Cleanup(func() { _ = collector.Close() })

	fb := &fakeBackend{}
	r, _ := newTestRetriever(t, fb, nil, nil, WithCollector(collector))

	for range 2 {
		_, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "gudang murah"}, RetrieveOptions{
			Method: property.StructuredOnly(),
		})
		require.NoError(t, err)
	}

	snap := collector.Snapshot()
	assert.Equal(t, int64(2), snap.TotalSearches)
	assert.Equal(t, int64(2), snap.MethodCounts["STRUCTURED_ONLY"])
	assert.Contains(t, snap.ZeroResultQueries, "gudang murah")
}

func TestRetrieveDoesNotMutateCriteria(t *testing.T) {
	fb := &fakeBackend{}
	r, _ := newTestRetriever(t, fb, nil, nil)

	criteria := &property.SearchCriteria{
		Query:     "  rumah  ",
		Amenities: []string{" kolam renang ", ""},
	}
	_, err := r.Retrieve(context.Background(), criteria, RetrieveOptions{Method: property.StructuredOnly()})
	require.NoError(t, err)

	assert.Equal(t, "  rumah  ", criteria.Query)
	assert.Zero(t, criteria.Page)
	assert.Zero(t, criteria.Limit)
	assert.Equal(t, []string{" kolam renang ", ""}, criteria.Amenities)

	// The executed call saw the normalized copy.
	calls := fb.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "rumah", calls[0].criteria.Query)
	assert.Equal(t, 1, calls[0].criteria.Page)
}

func TestRetrieveRecordsIdentity(t *testing.T) {
	fb := &fakeBackend{}
	r, sink := newTestRetriever(t, fb, nil, nil)

	_, err := r.Retrieve(context.Background(), &property.SearchCriteria{Query: "ruko"}, RetrieveOptions{
		UserID:   "andi",
		ThreadID: "t-7",
		Method:   property.StructuredOnly(),
	})
	require.NoError(t, err)

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "andi", recs[0].UserID)
	assert.Equal(t, "t-7", recs[0].ThreadID)
	assert.Equal(t, "ruko", recs[0].Query)
	assert.False(t, recs[0].Timestamp.IsZero())
}
