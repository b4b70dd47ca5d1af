package integration

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunianlab/rumahcari/internal/backend"
	"github.com/hunianlab/rumahcari/internal/embed"
	"github.com/hunianlab/rumahcari/internal/eval"
	"github.com/hunianlab/rumahcari/internal/geo"
	"github.com/hunianlab/rumahcari/internal/ingest"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/search"
	"github.com/hunianlab/rumahcari/internal/store"
)

// Integration tests wire the real retriever, HNSW collection, static
// embedder, geocoding dictionary, and evaluator together over an
// in-memory Property Backend.

// memBackend serves a fixed property slice with the same filter
// semantics as the real backend.
type memBackend struct {
	props []property.Property
}

func (b *memBackend) SearchPage(_ context.Context, c *property.SearchCriteria, page, perPage int) (*backend.SearchResult, error) {
	var matched []property.Property
	for i := range b.props {
		if c.Matches(&b.props[i]) {
			matched = append(matched, b.props[i])
		}
	}

	total := len(matched)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return &backend.SearchResult{
		Properties: matched[start:end],
		Meta: backend.PageMeta{
			Total:       total,
			CurrentPage: page,
			PerPage:     perPage,
			HasMore:     end < total,
		},
	}, nil
}

func (b *memBackend) GetBySlug(_ context.Context, _ property.SourceKind, slug string) (*property.Property, error) {
	for i := range b.props {
		if b.props[i].Slug == slug {
			cp := b.props[i]
			return &cp, nil
		}
	}
	return nil, backend.ErrNotFound
}

func fptr(v float64) *float64 { return &v }

func coords(lat, lng float64) (*float64, *float64) {
	return &lat, &lng
}

// fixtureProperties returns a small Medan corpus. The Padang Bulan house
// sits ~400m from USU but carries no "USU" in its text, which is what
// the proximity-fallback scenario needs.
func fixtureProperties() []property.Property {
	johorLat, johorLng := coords(3.5358, 98.6832)
	kecilLat, kecilLng := coords(3.5380, 98.6810)
	rukoLat, rukoLng := coords(3.6194, 98.6430)
	bulanLat, bulanLng := coords(3.5690, 98.6550)
	marelanLat, marelanLng := coords(3.6920, 98.6520)

	return []property.Property{
		{
			SourceKind: property.SourceListing, ID: 1, Slug: "rumah-johor-taman",
			PropertyType: property.TypeHouse, ListingType: property.ListingSale,
			Status: property.StatusActive,
			Price:  property.Single(900_000_000), Bedrooms: property.Single(3),
			Bathrooms: property.Single(2), Floors: property.Single(1),
			City: "Medan", District: "Medan Johor",
			Latitude: johorLat, Longitude: johorLng,
			Title:       "Dijual Rumah 3 Kamar di Medan Johor",
			Description: "Rumah dengan taman luas, carport, dan dapur bersih.",
			Features:    []string{"taman", "carport"},
		},
		{
			SourceKind: property.SourceListing, ID: 2, Slug: "rumah-johor-kecil",
			PropertyType: property.TypeHouse, ListingType: property.ListingSale,
			Status: property.StatusActive,
			Price:  property.Single(600_000_000), Bedrooms: property.Single(2),
			Bathrooms: property.Single(1), Floors: property.Single(1),
			City: "Medan", District: "Medan Johor",
			Latitude: kecilLat, Longitude: kecilLng,
			Title:       "Dijual Rumah Minimalis di Medan Johor",
			Description: "Rumah minimalis siap huni dekat jalan besar.",
		},
		{
			SourceKind: property.SourceListing, ID: 3, Slug: "ruko-helvetia",
			PropertyType: property.TypeShophouse, ListingType: property.ListingSale,
			Status: property.StatusActive,
			Price:  property.Single(1_500_000_000), Floors: property.Single(3),
			City: "Medan", District: "Medan Helvetia",
			Latitude: rukoLat, Longitude: rukoLng,
			Title:       "Dijual Ruko 3 Lantai di Medan Helvetia",
			Description: "Ruko strategis untuk usaha, row jalan lebar.",
		},
		{
			SourceKind: property.SourceListing, ID: 4, Slug: "rumah-padang-bulan",
			PropertyType: property.TypeHouse, ListingType: property.ListingSale,
			Status: property.StatusActive,
			Price:  property.Single(850_000_000), Bedrooms: property.Single(3),
			Bathrooms: property.Single(2), Floors: property.Single(2),
			City: "Medan", District: "Padang Bulan",
			Latitude: bulanLat, Longitude: bulanLng,
			Title:       "Dijual Rumah Kost di Padang Bulan",
			Description: "Cocok untuk kost mahasiswa, lingkungan ramai.",
		},
		{
			SourceKind: property.SourceListing, ID: 5, Slug: "rumah-marelan",
			PropertyType: property.TypeHouse, ListingType: property.ListingSale,
			Status: property.StatusActive,
			Price:  property.Single(700_000_000), Bedrooms: property.Single(4),
			Bathrooms: property.Single(2), Floors: property.Single(2),
			City: "Medan", District: "Medan Marelan",
			Latitude: marelanLat, Longitude: marelanLng,
			Title:       "Dijual Rumah Luas di Medan Marelan",
			Description: "Rumah besar dengan halaman, cocok keluarga.",
		},
	}
}

// buildCollection indexes the fixtures into a real HNSW collection using
// the deterministic static embedder.
func buildCollection(t *testing.T, em embed.Embedder, props []property.Property) *store.Collection {
	t.Helper()

	col, err := store.NewCollection(store.CollectionConfig{
		Path:       filepath.Join(t.TempDir(), "test.hnsw"),
		ModelID:    em.ModelID(),
		Dimensions: em.Dimensions(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = col.Close() })

	ctx := context.Background()
	entries := make([]store.IndexEntry, 0, len(props))
	for i := range props {
		vec, err := em.Embed(ctx, ingest.BuildDocument(&props[i]))
		require.NoError(t, err)
		entries = append(entries, store.EntryFromProperty(&props[i], vec))
	}
	results, err := col.Upsert(ctx, entries)
	require.NoError(t, err)
	require.Zero(t, store.FailedCount(results))

	return col
}

type retrievalFixture struct {
	backend   *memBackend
	embedder  *embed.StaticEmbedder
	cached    *embed.CachedEmbedder
	retriever *search.Retriever
}

func newRetrievalFixture(t *testing.T, opts ...search.Option) *retrievalFixture {
	t.Helper()

	bk := &memBackend{props: fixtureProperties()}
	static := embed.NewStaticEmbedder()
	cached := embed.NewCachedEmbedder(static, 0, 0)
	col := buildCollection(t, static, bk.props)

	r, err := search.NewRetriever(bk, col, cached, search.RetrieverConfig{}, opts...)
	require.NoError(t, err)

	return &retrievalFixture{backend: bk, embedder: static, cached: cached, retriever: r}
}

func TestStructuredFilterSearch(t *testing.T) {
	fix := newRetrievalFixture(t)

	houseType := property.TypeHouse
	saleType := property.ListingSale
	criteria := &property.SearchCriteria{
		PropertyType: &houseType,
		ListingType:  &saleType,
		PriceMax:     fptr(1_000_000_000),
		BedroomsMin:  fptr(3),
		Limit:        10,
	}

	res, err := fix.retriever.Retrieve(context.Background(), criteria, search.RetrieveOptions{
		UserID: "tester",
		Method: property.StructuredOnly(),
	})
	require.NoError(t, err)

	assert.Equal(t, "STRUCTURED_ONLY", res.MethodUsed)
	require.NotEmpty(t, res.Properties)
	for _, p := range res.Properties {
		assert.Equal(t, property.TypeHouse, p.PropertyType)
		assert.Equal(t, property.ListingSale, p.ListingType)
		assert.LessOrEqual(t, p.Price.Min, 1_000_000_000.0)
		assert.GreaterOrEqual(t, p.Bedrooms.Max, 3.0)
	}
	assert.Equal(t, len(res.Properties), res.Total)
}

func TestHybridSemanticRanking(t *testing.T) {
	fix := newRetrievalFixture(t)

	houseType := property.TypeHouse
	saleType := property.ListingSale
	criteria := &property.SearchCriteria{
		Query:        "rumah taman luas",
		PropertyType: &houseType,
		ListingType:  &saleType,
		Limit:        4,
	}

	res, err := fix.retriever.Retrieve(context.Background(), criteria, search.RetrieveOptions{UserID: "tester"})
	require.NoError(t, err)

	assert.True(t, res.RerankApplied)
	assert.True(t, strings.HasPrefix(res.MethodUsed, "HYBRID"))

	rank := make(map[string]int, len(res.Properties))
	for i, p := range res.Properties {
		rank[p.Slug] = i
	}
	require.Contains(t, rank, "rumah-johor-taman")
	if other, ok := rank["rumah-johor-kecil"]; ok {
		assert.Less(t, rank["rumah-johor-taman"], other,
			"the garden listing should outrank the minimalist one on a garden query")
	}
	assert.Greater(t, res.SemanticScores["rumah-johor-taman"], 0.0)
}

func TestGeocodeProximityFallback(t *testing.T) {
	// No providers configured: only the landmark dictionary answers.
	geocoder := geo.NewService(geo.ServiceConfig{DefaultCity: "Medan"})
	fix := newRetrievalFixture(t, search.WithGeocoder(geocoder))

	houseType := property.TypeHouse
	criteria := &property.SearchCriteria{
		PropertyType:    &houseType,
		LocationKeyword: "USU",
		Limit:           10,
	}

	res, err := fix.retriever.Retrieve(context.Background(), criteria, search.RetrieveOptions{
		UserID: "tester",
		Method: property.StructuredOnly(),
	})
	require.NoError(t, err)

	// No listing text mentions USU, so the keyword leg comes back empty
	// and the dictionary point (3.5656, 98.6565) takes over.
	assert.Equal(t, "STRUCTURED_ONLY+GEO", res.MethodUsed)
	require.Len(t, res.Properties, 1)
	assert.Equal(t, "rumah-padang-bulan", res.Properties[0].Slug)

	p := res.Properties[0]
	dist := property.HaversineKM(3.5656, 98.6565, *p.Latitude, *p.Longitude)
	assert.LessOrEqual(t, dist, search.DefaultRadiusKM)
}

func TestEvaluatorConfusionMatrix(t *testing.T) {
	fix := newRetrievalFixture(t)

	gold := &eval.GoldSet{
		Questions: []eval.GoldQuestion{
			{
				ID:             "q1",
				Question:       "Cari rumah dijual dengan 3 kamar di bawah 1 miliar",
				ExpectedResult: eval.ExpectHasData,
				Constraints: eval.Constraints{
					PropertyType: string(property.TypeHouse),
					ListingType:  string(property.ListingSale),
					Price:        &eval.PriceConstraint{Max: fptr(1_000_000_000)},
					Bedrooms:     &eval.CountConstraint{Min: fptr(3)},
				},
			},
			{
				ID:             "q2",
				Question:       "Cari rumah dijual di bawah 5 juta",
				ExpectedResult: eval.ExpectNoData,
				Constraints: eval.Constraints{
					PropertyType: string(property.TypeHouse),
					ListingType:  string(property.ListingSale),
					Price:        &eval.PriceConstraint{Max: fptr(5_000_000)},
				},
			},
		},
	}
	require.NoError(t, gold.Validate())

	runner, err := eval.NewRunner(gold, fix.retriever, nil, eval.RunnerConfig{
		Method: property.StructuredOnly(),
	}, nil)
	require.NoError(t, err)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Metrics.TruePositive)
	assert.Equal(t, 1, report.Metrics.TrueNegative)
	assert.Equal(t, 0, report.Metrics.FalsePositive)
	assert.Equal(t, 0, report.Metrics.FalseNegative)
	assert.Equal(t, 1.0, report.Metrics.Accuracy)
	assert.Zero(t, report.PendingManual)
}
