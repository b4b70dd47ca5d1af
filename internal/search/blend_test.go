package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/store"
)

func backendRows(slugs ...string) []property.Property {
	rows := make([]property.Property, 0, len(slugs))
	for _, s := range slugs {
		rows = append(rows, property.Property{Slug: s, Title: "Rumah " + s})
	}
	return rows
}

func slugsOf(cands []*candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.slug)
	}
	return out
}

func TestMergeCandidatesUnionsBySlug(t *testing.T) {
	cands := mergeCandidates(
		backendRows("a", "b", "c"),
		[]store.SearchResult{{Slug: "b", Score: 0.9}, {Slug: "d", Score: 0.7}},
	)
	require.Len(t, cands, 4)

	byID := make(map[string]*candidate, len(cands))
	for _, c := range cands {
		byID[c.slug] = c
	}

	assert.InDelta(t, 1.0, byID["a"].apiPos, 1e-9)
	assert.InDelta(t, 1-1.0/3, byID["b"].apiPos, 1e-9)
	assert.InDelta(t, 1-2.0/3, byID["c"].apiPos, 1e-9)

	// b sits in both legs: backend position plus observed similarity.
	assert.True(t, byID["b"].observed)
	assert.InDelta(t, 0.9, byID["b"].semantic, 1e-9)
	assert.NotNil(t, byID["b"].prop)

	d := byID["d"]
	assert.False(t, d.fromBackend)
	assert.Zero(t, d.apiPos)
	assert.Nil(t, d.prop)
	assert.InDelta(t, 0.7, d.semantic, 1e-9)
}

func TestMergeCandidatesDropsInLegDuplicates(t *testing.T) {
	cands := mergeCandidates(
		backendRows("a", "a", "b"),
		[]store.SearchResult{{Slug: "c", Score: 0.4}, {Slug: "c", Score: 0.8}},
	)
	require.Len(t, cands, 3)

	byID := make(map[string]*candidate, len(cands))
	for _, c := range cands {
		byID[c.slug] = c
	}

	// The first backend occurrence keeps the better position.
	assert.Equal(t, 0, byID["a"].backendRank)
	assert.InDelta(t, 1.0, byID["a"].apiPos, 1e-9)

	// The stronger vector score survives.
	assert.InDelta(t, 0.8, byID["c"].semantic, 1e-9)
}

func TestMergeCandidatesClampsScores(t *testing.T) {
	cands := mergeCandidates(nil, []store.SearchResult{
		{Slug: "a", Score: 1.7},
		{Slug: "b", Score: -0.3},
	})
	require.Len(t, cands, 2)
	assert.InDelta(t, 1.0, cands[0].semantic, 1e-9)
	assert.InDelta(t, 0.0, cands[1].semantic, 1e-9)
}

func TestScoreCandidatesBlend(t *testing.T) {
	cands := mergeCandidates(
		backendRows("a", "b", "c"),
		[]store.SearchResult{{Slug: "c", Score: 1.0}, {Slug: "d", Score: 0.55}},
	)
	scoreCandidates(cands, 0.6)

	// Median of observed scores {1.0, 0.55} is 0.775; a and b rank with
	// it, c's own score lifts it past b, d has no backend position.
	assert.Equal(t, []string{"a", "c", "b", "d"}, slugsOf(cands))

	byID := make(map[string]*candidate, len(cands))
	for _, c := range cands {
		byID[c.slug] = c
	}
	assert.InDelta(t, 0.6*0.775+0.4*1.0, byID["a"].combined, 1e-9)
	assert.InDelta(t, 0.6*0.775+0.4*(1-1.0/3), byID["b"].combined, 1e-9)
	assert.InDelta(t, 0.6*1.0+0.4*(1-2.0/3), byID["c"].combined, 1e-9)
	assert.InDelta(t, 0.6*0.55, byID["d"].combined, 1e-9)
}

func TestScoreCandidatesNeutralWithoutObserved(t *testing.T) {
	cands := mergeCandidates(backendRows("a", "b"), nil)
	scoreCandidates(cands, 0.6)

	// Every row carries the 0.5 fill-in, so the backend order holds.
	assert.Equal(t, []string{"a", "b"}, slugsOf(cands))
	assert.InDelta(t, 0.6*0.5+0.4*1.0, cands[0].combined, 1e-9)
	assert.InDelta(t, 0.6*0.5+0.4*0.5, cands[1].combined, 1e-9)
}

func TestScoreCandidatesTieBreaksBySlug(t *testing.T) {
	cands := mergeCandidates(nil, []store.SearchResult{
		{Slug: "zz", Score: 0.8},
		{Slug: "aa", Score: 0.8},
	})
	scoreCandidates(cands, 0.6)
	assert.Equal(t, []string{"aa", "zz"}, slugsOf(cands))
}

func TestMedian(t *testing.T) {
	assert.InDelta(t, 0.5, median([]float64{0.9, 0.1, 0.5}), 1e-9)
	assert.InDelta(t, 0.5, median([]float64{0.2, 0.8, 0.4, 0.6}), 1e-9)
	assert.InDelta(t, 0.3, median([]float64{0.3}), 1e-9)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-2))
	assert.Equal(t, 0.42, clamp01(0.42))
	assert.Equal(t, 1.0, clamp01(1.0001))
}
