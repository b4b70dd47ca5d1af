package search

import (
	"sort"

	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/store"
)

// neutralSemantic stands in for backend-only candidates when the vector
// leg observed no scores to take a median of.
const neutralSemantic = 0.5

// candidate is one slug in the hybrid merge.
type candidate struct {
	slug string

	// prop carries the backend row when the structured leg returned it;
	// nil for vector-only members until resolveDetails fills it in.
	prop *property.Property

	// semantic is the similarity in [0,1]. observed distinguishes a
	// vector-leg score from the neutral fill-in.
	semantic float64
	observed bool

	// apiPos is 1 - rank/|backend page| for backend rows, 0 otherwise.
	apiPos      float64
	fromBackend bool
	backendRank int

	combined float64
}

// mergeCandidates unions the two legs keyed by slug. A slug in both
// lists becomes one candidate carrying its backend position and its
// observed similarity. Duplicates inside a leg keep the stronger entry:
// the earlier backend rank, the higher vector score.
func mergeCandidates(backendProps []property.Property, vectorHits []store.SearchResult) []*candidate {
	cands := make([]*candidate, 0, len(backendProps)+len(vectorHits))
	bySlug := make(map[string]*candidate, len(backendProps)+len(vectorHits))

	n := len(backendProps)
	for i := range backendProps {
		p := &backendProps[i]
		if _, ok := bySlug[p.Slug]; ok {
			continue
		}
		cand := &candidate{
			slug:        p.Slug,
			prop:        p,
			apiPos:      1 - float64(i)/float64(n),
			fromBackend: true,
			backendRank: i,
		}
		bySlug[p.Slug] = cand
		cands = append(cands, cand)
	}

	for _, hit := range vectorHits {
		score := clamp01(hit.Score)
		if cand, ok := bySlug[hit.Slug]; ok {
			if !cand.observed || score > cand.semantic {
				cand.semantic = score
				cand.observed = true
			}
			continue
		}
		cand := &candidate{slug: hit.Slug, semantic: score, observed: true}
		bySlug[hit.Slug] = cand
		cands = append(cands, cand)
	}

	return cands
}

// scoreCandidates blends position and similarity into the combined score
// and sorts best-first. Ties break on slug so equal scores order the
// same on every run. With the semantic weight below 1 the blend keeps
// the backend ordering intact whenever no vector scores arrived, which
// is what a degraded hybrid search relies on.
func scoreCandidates(cands []*candidate, weight float64) {
	observed := make([]float64, 0, len(cands))
	for _, cand := range cands {
		if cand.observed {
			observed = append(observed, cand.semantic)
		}
	}
	neutral := neutralSemantic
	if len(observed) > 0 {
		neutral = median(observed)
	}

	for _, cand := range cands {
		if !cand.observed {
			cand.semantic = neutral
		}
		cand.combined = weight*cand.semantic + (1-weight)*cand.apiPos
	}
	sortCandidates(cands)
}

func sortCandidates(cands []*candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].combined != cands[j].combined {
			return cands[i].combined > cands[j].combined
		}
		return cands[i].slug < cands[j].slug
	})
}

// median of a non-empty sample; the even case averages the middle pair.
func median(values []float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
