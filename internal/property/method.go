package property

import (
	"fmt"
	"strconv"
	"strings"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// MethodKind names a retrieval strategy.
type MethodKind string

const (
	// MethodStructured queries the listing backend with structured
	// filters only.
	MethodStructured MethodKind = "STRUCTURED_ONLY"

	// MethodVector ranks purely by embedding similarity.
	MethodVector MethodKind = "VECTOR_ONLY"

	// MethodHybrid blends both legs by weight.
	MethodHybrid MethodKind = "HYBRID"
)

// DefaultSemanticWeight is w in combined = w*semantic + (1-w)*position.
const DefaultSemanticWeight = 0.6

// SearchMethod selects the retrieval strategy for one search. Weight is
// the semantic share for hybrid; zero means "use the configured
// default". Other kinds ignore it.
type SearchMethod struct {
	Kind   MethodKind `json:"kind"`
	Weight float64    `json:"weight,omitempty"`
}

// StructuredOnly returns the backend-filters-only method.
func StructuredOnly() SearchMethod {
	return SearchMethod{Kind: MethodStructured}
}

// VectorOnly returns the similarity-only method.
func VectorOnly() SearchMethod {
	return SearchMethod{Kind: MethodVector}
}

// Hybrid returns the blended method. weight <= 0 defers to the
// configured default.
func Hybrid(weight float64) SearchMethod {
	if weight <= 0 {
		weight = DefaultSemanticWeight
	}
	return SearchMethod{Kind: MethodHybrid, Weight: weight}
}

// IsZero reports an unset method.
func (m SearchMethod) IsZero() bool {
	return m.Kind == ""
}

// String renders the label recorded in metrics and responses, e.g.
// "HYBRID(w=0.60)" or "STRUCTURED_ONLY".
func (m SearchMethod) String() string {
	if m.Kind == MethodHybrid {
		w := m.Weight
		if w <= 0 {
			w = DefaultSemanticWeight
		}
		return fmt.Sprintf("HYBRID(w=%.2f)", w)
	}
	return string(m.Kind)
}

// ParseMethod accepts the method spellings that appear in requests,
// experiment cells, and recorded labels:
//
//	hybrid, HYBRID(w=0.60), HYBRID_60_40
//	api_only, structured_only
//	vector_only
//
// A trailing "+GEO" decorator (proximity fallback marker) is ignored.
func ParseMethod(raw string) (SearchMethod, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimSuffix(s, "+GEO")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")

	switch s {
	case "HYBRID":
		return SearchMethod{Kind: MethodHybrid}, nil
	case "API_ONLY", "STRUCTURED_ONLY", "STRUCTURED":
		return StructuredOnly(), nil
	case "VECTOR_ONLY", "VECTOR":
		return VectorOnly(), nil
	}

	// HYBRID(w=0.60) — the round-trip of String().
	if inner, ok := strings.CutPrefix(s, "HYBRID(W="); ok {
		inner = strings.TrimSuffix(inner, ")")
		w, err := strconv.ParseFloat(inner, 64)
		if err != nil || w <= 0 || w > 1 {
			return SearchMethod{}, rcerrors.Newf(rcerrors.ErrCodeInvalidInput,
				"invalid hybrid weight in method %q", raw)
		}
		return SearchMethod{Kind: MethodHybrid, Weight: w}, nil
	}

	// HYBRID_60_40 — experiment cell spelling, semantic share first.
	if rest, ok := strings.CutPrefix(s, "HYBRID_"); ok {
		parts := strings.Split(rest, "_")
		pct, err := strconv.Atoi(parts[0])
		if err != nil || pct <= 0 || pct > 100 {
			return SearchMethod{}, rcerrors.Newf(rcerrors.ErrCodeInvalidInput,
				"invalid hybrid split in method %q", raw)
		}
		return SearchMethod{Kind: MethodHybrid, Weight: float64(pct) / 100}, nil
	}

	return SearchMethod{}, rcerrors.Newf(rcerrors.ErrCodeInvalidInput,
		"unknown search method %q (want hybrid, api_only, or vector_only)", raw)
}
