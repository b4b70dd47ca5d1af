// Package store persists property embeddings in HNSW collections, one
// collection per embedding model. A collection is a coder/hnsw graph file
// plus a gob sidecar holding slug mappings and the filterable metadata
// mirror; both are written atomically (temp file + rename).
package store

import (
	"fmt"

	"github.com/hunianlab/rumahcari/internal/property"
)

// IndexEntry is one property as the vector store sees it: slug identity,
// embedding, and the metadata mirror used for conjunctive filtering without
// a backend round trip.
type IndexEntry struct {
	Slug   string
	Vector []float32
	Meta   EntryMeta
}

// EntryFromProperty builds an index entry from a listing and its embedding.
func EntryFromProperty(p *property.Property, vector []float32) IndexEntry {
	return IndexEntry{
		Slug:   p.Slug,
		Vector: vector,
		Meta:   MetaFromProperty(p),
	}
}

// EntryMeta mirrors the filterable fields of a property record verbatim,
// so Search can apply structured criteria locally. Free text beyond the
// title stays with the Property Backend.
type EntryMeta struct {
	SourceKind   property.SourceKind
	PropertyType property.PropertyType
	ListingType  property.ListingType
	Status       property.Status

	Price        property.Interval
	Bedrooms     property.Interval
	Bathrooms    property.Interval
	Floors       property.Interval
	LandArea     property.Interval
	BuildingArea property.Interval

	City        string
	District    string
	Area        string
	Address     string
	ComplexName string
	Facing      string
	Latitude    *float64
	Longitude   *float64

	Title     string
	Amenities []string
	InComplex bool
}

// MetaFromProperty copies the filter fields of a listing. The copy is deep
// enough that later mutation of the property does not leak into the index.
func MetaFromProperty(p *property.Property) EntryMeta {
	m := EntryMeta{
		SourceKind:   p.SourceKind,
		PropertyType: p.PropertyType,
		ListingType:  p.ListingType,
		Status:       p.Status,
		Price:        p.Price,
		Bedrooms:     p.Bedrooms,
		Bathrooms:    p.Bathrooms,
		Floors:       p.Floors,
		LandArea:     p.LandArea,
		BuildingArea: p.BuildingArea,
		City:         p.City,
		District:     p.District,
		Area:         p.Area,
		Address:      p.Address,
		ComplexName:  p.ComplexName,
		Facing:       p.Facing,
		Title:        p.Title,
		InComplex:    p.InComplex,
	}
	if p.Latitude != nil {
		lat := *p.Latitude
		m.Latitude = &lat
	}
	if p.Longitude != nil {
		lng := *p.Longitude
		m.Longitude = &lng
	}
	if len(p.Amenities) > 0 {
		m.Amenities = append([]string(nil), p.Amenities...)
	}
	return m
}

// AsProperty reconstructs a listing skeleton from the stored metadata.
// Only the filter fields round-trip; descriptions and raw payloads are
// fetched from the backend when needed.
func (m *EntryMeta) AsProperty(slug string) *property.Property {
	p := &property.Property{
		Slug:         slug,
		SourceKind:   m.SourceKind,
		PropertyType: m.PropertyType,
		ListingType:  m.ListingType,
		Status:       m.Status,
		Price:        m.Price,
		Bedrooms:     m.Bedrooms,
		Bathrooms:    m.Bathrooms,
		Floors:       m.Floors,
		LandArea:     m.LandArea,
		BuildingArea: m.BuildingArea,
		City:         m.City,
		District:     m.District,
		Area:         m.Area,
		Address:      m.Address,
		ComplexName:  m.ComplexName,
		Facing:       m.Facing,
		Title:        m.Title,
		InComplex:    m.InComplex,
	}
	if m.Latitude != nil {
		lat := *m.Latitude
		p.Latitude = &lat
	}
	if m.Longitude != nil {
		lng := *m.Longitude
		p.Longitude = &lng
	}
	if len(m.Amenities) > 0 {
		p.Amenities = append([]string(nil), m.Amenities...)
	}
	return p
}

// SearchFilter decides whether a stored entry may appear in results.
// A nil filter admits everything.
type SearchFilter func(slug string, meta *EntryMeta) bool

// CriteriaFilter adapts structured search criteria into a SearchFilter by
// reconstructing the property skeleton and reusing the criteria matcher.
// The semantic Query field is ignored; only structured constraints apply.
func CriteriaFilter(c *property.SearchCriteria) SearchFilter {
	if c == nil {
		return nil
	}
	return func(slug string, meta *EntryMeta) bool {
		return c.Matches(meta.AsProperty(slug))
	}
}

// SearchResult is one vector hit: the property slug and a similarity score
// normalized to [0,1], higher is better.
type SearchResult struct {
	Slug  string  `json:"slug"`
	Score float64 `json:"score"`
}

// UpsertResult reports the outcome for a single entry of a batch upsert.
type UpsertResult struct {
	Slug string
	Err  error
}

// FailedCount returns how many entries of a batch were rejected.
func FailedCount(results []UpsertResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// DistanceMetric selects how vector distance is computed.
type DistanceMetric string

const (
	MetricCosine DistanceMetric = "cosine"
	MetricL2     DistanceMetric = "l2"
)

// Default HNSW parameters, following coder/hnsw recommendations.
const (
	DefaultM        = 16
	DefaultEfSearch = 20
	defaultLevelML  = 0.25
)

// CollectionConfig controls one HNSW collection.
type CollectionConfig struct {
	// Path of the graph file. The gob sidecar lives at Path+".meta".
	Path string

	// ModelID identifies the embedding model whose vectors this collection
	// holds. Collections never mix models.
	ModelID string

	// Dimensions pins the vector width. Zero adopts the width of the first
	// upserted vector; every later vector must agree.
	Dimensions int

	// Metric selects the distance function. Defaults to cosine.
	Metric DistanceMetric

	// HNSW graph parameters. Zero values use the defaults above.
	M        int
	EfSearch int
}

func (c CollectionConfig) withDefaults() CollectionConfig {
	if c.Metric == "" {
		c.Metric = MetricCosine
	}
	if c.M <= 0 {
		c.M = DefaultM
	}
	if c.EfSearch <= 0 {
		c.EfSearch = DefaultEfSearch
	}
	return c
}

// CollectionStats describes the live state of one collection.
type CollectionStats struct {
	Count      int    `json:"count"`
	Dimensions int    `json:"dimensions"`
	ModelID    string `json:"model_id"`

	// GraphNodes includes tombstones left by lazy deletion;
	// Orphans = GraphNodes - Count.
	GraphNodes int `json:"graph_nodes"`
	Orphans    int `json:"orphans"`
}

func (s CollectionStats) String() string {
	return fmt.Sprintf("collection %s: %d entries, dim=%d, graph=%d (orphans=%d)",
		s.ModelID, s.Count, s.Dimensions, s.GraphNodes, s.Orphans)
}
