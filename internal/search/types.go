// Package search implements the hybrid retriever: one entry point that
// answers a normalized criteria set by querying the Property Backend and
// the vector index, blending the two orderings, and falling back to a
// geocoded proximity circle when a location keyword finds nothing.
package search

import (
	"context"

	"github.com/hunianlab/rumahcari/internal/backend"
	"github.com/hunianlab/rumahcari/internal/geo"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/store"
)

// Retrieval defaults. The radii govern the proximity fallback: the first
// rerun draws a tight circle around the geocoded point, the second and
// last widens it once before giving up.
const (
	// DefaultRadiusKM is the proximity-fallback circle on the first rerun.
	DefaultRadiusKM = 2.0

	// WidenedRadiusKM is the one-time widened circle when the first
	// rerun comes back empty.
	WidenedRadiusKM = 5.0

	// DefaultDetailConcurrency bounds parallel GetBySlug calls when
	// vector hits need authoritative detail.
	DefaultDetailConcurrency = 8

	// structuredFloor is the minimum page-1 size of the hybrid backend
	// leg. Small limits still over-fetch so the blend has positions to
	// work with.
	structuredFloor = 25

	// vectorCandidateFactor over-fetches the vector leg relative to the
	// caller's limit; blending needs more candidates than it returns.
	vectorCandidateFactor = 3
)

// Backend is the slice of the Property Backend client the retriever
// needs: structured page queries and per-slug detail.
type Backend interface {
	SearchPage(ctx context.Context, criteria *property.SearchCriteria, page, perPage int) (*backend.SearchResult, error)
	GetBySlug(ctx context.Context, kind property.SourceKind, slug string) (*property.Property, error)
}

// VectorIndex is the slice of the HNSW collection the retriever needs.
// Meta supplies the source-kind hint that saves GetBySlug a second
// round trip.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, k int, filter store.SearchFilter) ([]store.SearchResult, error)
	Meta(slug string) (store.EntryMeta, bool)
	Count() int
}

// QueryEmbedder embeds the free-text query. The bool reports whether the
// embedding cache answered, which the metrics sink records per search.
type QueryEmbedder interface {
	EmbedCached(ctx context.Context, text string) ([]float32, bool, error)
}

// Geocoder resolves a location keyword for the proximity fallback. The
// second bool reports a dictionary-or-cache hit.
type Geocoder interface {
	GeocodeCached(ctx context.Context, place string) (geo.Point, bool, bool, error)
}

// MethodRouter assigns the retrieval method for a user. Satisfied by
// the experiment router; a nil router means every search runs the
// default method.
type MethodRouter interface {
	MethodFor(userID string) property.SearchMethod
}

// RetrieverConfig tunes the retriever. Zero values adopt the defaults
// above.
type RetrieverConfig struct {
	// SemanticWeight is the hybrid blend weight when neither the request
	// nor the experiment cell names one.
	SemanticWeight float64

	// DefaultRadiusKM and MaxRadiusKM are the proximity-fallback radii.
	DefaultRadiusKM float64
	MaxRadiusKM     float64

	// DetailConcurrency bounds parallel detail fetches.
	DetailConcurrency int
}

func (c RetrieverConfig) withDefaults() RetrieverConfig {
	if c.SemanticWeight <= 0 || c.SemanticWeight > 1 {
		c.SemanticWeight = property.DefaultSemanticWeight
	}
	if c.DefaultRadiusKM <= 0 {
		c.DefaultRadiusKM = DefaultRadiusKM
	}
	if c.MaxRadiusKM <= 0 {
		c.MaxRadiusKM = WidenedRadiusKM
	}
	if c.DetailConcurrency <= 0 {
		c.DetailConcurrency = DefaultDetailConcurrency
	}
	return c
}

// RetrieveOptions carries per-request context that is not part of the
// criteria: identity for experiment assignment and telemetry, and the
// optional method override.
type RetrieveOptions struct {
	// UserID drives experiment assignment and telemetry attribution.
	// Empty means anonymous.
	UserID string

	// ThreadID ties the search to a conversation in the metrics stream.
	ThreadID string

	// Method forces a retrieval method, bypassing the router. The zero
	// value defers to the router.
	Method property.SearchMethod
}

// RetrievalResult is one answered search.
type RetrievalResult struct {
	Properties []property.Property `json:"properties"`

	// Total estimates how many records match beyond the returned page.
	// Sourced from the backend's pagination envelope when the structured
	// leg ran; otherwise the returned count.
	Total int `json:"total"`

	// MethodUsed is the executed method label, decorated with "+GEO"
	// when the proximity fallback produced the result.
	MethodUsed string `json:"method_used"`

	// RerankApplied reports whether semantic scoring influenced the
	// ordering: the vector leg succeeded and contributed at least one
	// scored candidate.
	RerankApplied bool `json:"rerank_applied"`

	// SemanticScores maps returned slugs to their observed vector
	// similarity in [0,1]. Rows ranked with the neutral fill-in score
	// are absent.
	SemanticScores map[string]float64 `json:"semantic_scores,omitempty"`

	TookMS int64 `json:"took_ms"`
}
