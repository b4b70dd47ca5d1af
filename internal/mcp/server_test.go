package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunianlab/rumahcari/internal/backend"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/geo"
	"github.com/hunianlab/rumahcari/internal/knowledge"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/search"
)

type fakeSearcher struct {
	lastCriteria *property.SearchCriteria
	result       *search.RetrievalResult
	err          error
}

func (f *fakeSearcher) Retrieve(_ context.Context, criteria *property.SearchCriteria, _ search.RetrieveOptions) (*search.RetrievalResult, error) {
	f.lastCriteria = criteria
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeFetcher struct {
	property *property.Property
	err      error
}

func (f *fakeFetcher) GetBySlug(_ context.Context, _ property.SourceKind, _ string) (*property.Property, error) {
	return f.property, f.err
}

type fakeKnowledge struct {
	results []knowledge.Result
}

func (f *fakeKnowledge) Upsert(context.Context, []knowledge.Snippet) error { return nil }
func (f *fakeKnowledge) Search(_ context.Context, _, _ string, _ int) ([]knowledge.Result, error) {
	return f.results, nil
}
func (f *fakeKnowledge) Delete(context.Context, []string) error { return nil }
func (f *fakeKnowledge) Count() (int, error)                    { return len(f.results), nil }
func (f *fakeKnowledge) Close() error                           { return nil }

type fakeGeocoder struct {
	point geo.Point
	found bool
}

func (f *fakeGeocoder) Geocode(context.Context, string) (geo.Point, bool, error) {
	return f.point, f.found, nil
}

func sampleProperty() *property.Property {
	return &property.Property{
		SourceKind:   property.SourceListing,
		Slug:         "rumah-taman-asri",
		Title:        "Rumah taman asri di Medan Johor",
		PropertyType: property.TypeHouse,
		ListingType:  property.ListingSale,
		Price:        property.Single(1_500_000_000),
		Bedrooms:     property.Single(3),
		Area:         "Taman Setia Budi",
		City:         "Medan",
	}
}

func newTestServer(t *testing.T, searcher *fakeSearcher) *Server {
	t.Helper()
	s, err := NewServer(searcher, &fakeFetcher{property: sampleProperty()},
		&fakeKnowledge{}, &fakeGeocoder{found: true, point: geo.Point{Lat: 3.5656, Lng: 98.6565}})
	require.NoError(t, err)
	return s
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	_, err := NewServer(nil, &fakeFetcher{}, &fakeKnowledge{}, &fakeGeocoder{})
	assert.Error(t, err)

	_, err = NewServer(&fakeSearcher{}, nil, &fakeKnowledge{}, &fakeGeocoder{})
	assert.Error(t, err)

	_, err = NewServer(&fakeSearcher{}, &fakeFetcher{}, nil, &fakeGeocoder{})
	assert.Error(t, err)

	_, err = NewServer(&fakeSearcher{}, &fakeFetcher{}, &fakeKnowledge{}, nil)
	assert.Error(t, err)
}

func TestSearchPropertiesHandler(t *testing.T) {
	searcher := &fakeSearcher{result: &search.RetrievalResult{
		Properties: []property.Property{*sampleProperty()},
		Total:      7,
		MethodUsed: "hybrid",
		TookMS:     42,
	}}
	s := newTestServer(t, searcher)

	_, out, err := s.searchPropertiesHandler(context.Background(), nil, SearchPropertiesInput{
		PropertyType: "rumah",
		PriceMax:     2_000_000_000,
	})
	require.NoError(t, err)

	assert.Empty(t, out.Clarification)
	assert.Equal(t, 7, out.Total)
	assert.Equal(t, "hybrid", out.MethodUsed)
	require.Len(t, out.Properties, 1)
	assert.Equal(t, "rumah-taman-asri", out.Properties[0].Slug)
	assert.Equal(t, "house", out.Properties[0].Type)
	assert.Equal(t, "1500000000", out.Properties[0].PriceIDR)

	// The Indonesian synonym reached the criteria parser.
	require.NotNil(t, searcher.lastCriteria)
	require.NotNil(t, searcher.lastCriteria.PropertyType)
	assert.Equal(t, property.TypeHouse, *searcher.lastCriteria.PropertyType)
}

func TestSearchPropertiesMapsEngineError(t *testing.T) {
	searcher := &fakeSearcher{err: rcerrors.New(rcerrors.ErrCodeUpstreamUnavailable, "backend down", nil)}
	s := newTestServer(t, searcher)

	_, _, err := s.searchPropertiesHandler(context.Background(), nil, SearchPropertiesInput{
		PropertyType: "house",
	})
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeBackendUnavailable, mcpErr.Code)
}

func TestGetPropertyHandler(t *testing.T) {
	s := newTestServer(t, &fakeSearcher{})

	_, out, err := s.getPropertyHandler(context.Background(), nil, GetPropertyInput{
		Slug: "rumah-taman-asri",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Property)
	assert.Equal(t, "rumah-taman-asri", out.Property.Slug)
}

func TestGetPropertyHandlerRejectsBadSlug(t *testing.T) {
	s := newTestServer(t, &fakeSearcher{})

	_, _, err := s.getPropertyHandler(context.Background(), nil, GetPropertyInput{Slug: "Not A Slug"})
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestGetPropertyHandlerNotFound(t *testing.T) {
	s, err := NewServer(&fakeSearcher{}, &fakeFetcher{err: backend.ErrNotFound},
		&fakeKnowledge{}, &fakeGeocoder{})
	require.NoError(t, err)

	_, _, err = s.getPropertyHandler(context.Background(), nil, GetPropertyInput{Slug: "sudah-terjual"})
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "sudah-terjual")
}

func TestGetKnowledgeHandler(t *testing.T) {
	know := &fakeKnowledge{results: []knowledge.Result{
		{Snippet: knowledge.Snippet{Title: "SHM vs HGB", Category: "legal", Content: "..."}, Score: 0.9},
	}}
	s, err := NewServer(&fakeSearcher{}, &fakeFetcher{}, know, &fakeGeocoder{})
	require.NoError(t, err)

	_, out, err := s.getKnowledgeHandler(context.Background(), nil, GetKnowledgeInput{Query: "shm"})
	require.NoError(t, err)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "SHM vs HGB", out.Entries[0].Title)
	assert.Equal(t, "legal", out.Entries[0].Category)

	_, _, err = s.getKnowledgeHandler(context.Background(), nil, GetKnowledgeInput{Query: "  "})
	assert.Error(t, err)
}

func TestGeocodeHandler(t *testing.T) {
	s := newTestServer(t, &fakeSearcher{})

	_, out, err := s.geocodeHandler(context.Background(), nil, GeocodeInput{Place: "USU"})
	require.NoError(t, err)
	assert.True(t, out.Found)
	assert.InDelta(t, 3.5656, out.Lat, 1e-6)
	assert.InDelta(t, 98.6565, out.Lng, 1e-6)

	_, _, err = s.geocodeHandler(context.Background(), nil, GeocodeInput{Place: ""})
	assert.Error(t, err)
}

func TestGeocodeHandlerNotFound(t *testing.T) {
	s, err := NewServer(&fakeSearcher{}, &fakeFetcher{}, &fakeKnowledge{}, &fakeGeocoder{found: false})
	require.NoError(t, err)

	_, out, err := s.geocodeHandler(context.Background(), nil, GeocodeInput{Place: "Atlantis"})
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.Zero(t, out.Lat)
}
