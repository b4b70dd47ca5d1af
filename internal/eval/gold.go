// Package eval is the offline constraint evaluator: it replays a gold
// set of questions against a retrieval strategy and scores the returned
// properties against each question's constraints, producing
// per-constraint accuracy, constraint pass ratios, and a query-level
// confusion matrix. It never touches the LLM; the unit under test is
// retrieval, not conversation.
package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/search"
)

// Defaults applied when the gold file omits them.
const (
	DefaultThresholdT     = 0.6
	DefaultPriceTolerance = 0.1
	DefaultQuestionLimit  = 10
)

// ExpectedResult says whether a question should find anything.
type ExpectedResult string

const (
	ExpectHasData ExpectedResult = "has_data"
	ExpectNoData  ExpectedResult = "no_data"
)

// EvaluationMode selects automatic constraint checking or deferred
// human judgment.
type EvaluationMode string

const (
	ModeAuto   EvaluationMode = "auto"
	ModeManual EvaluationMode = "manual"
)

// GoldSet is the whole evaluation corpus, stored as one JSON document.
type GoldSet struct {
	// ThresholdT is the mean-CPR cutoff for query success. Zero adopts
	// DefaultThresholdT.
	ThresholdT float64 `json:"threshold_t"`

	// PriceTolerance widens price windows on both sides. Zero adopts
	// DefaultPriceTolerance.
	PriceTolerance float64 `json:"price_tolerance"`

	Questions []GoldQuestion `json:"questions"`
}

// GoldQuestion is one evaluation case.
type GoldQuestion struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Category string `json:"category,omitempty"`

	ExpectedResult ExpectedResult `json:"expected_result"`
	Constraints    Constraints    `json:"constraints"`
	Notes          string         `json:"notes,omitempty"`

	// EvaluationMode defaults to auto. Manual questions skip constraint
	// checking and wait for human overrides.
	EvaluationMode EvaluationMode `json:"evaluation_mode,omitempty"`
}

// Constraints are the checkable expectations on every returned
// property. Absent members are not checked (na).
type Constraints struct {
	PropertyType string              `json:"property_type,omitempty"`
	ListingType  string              `json:"listing_type,omitempty"`
	Price        *PriceConstraint    `json:"price,omitempty"`
	Bedrooms     *CountConstraint    `json:"bedrooms,omitempty"`
	Floors       *CountConstraint    `json:"floors,omitempty"`
	Location     *LocationConstraint `json:"location,omitempty"`
}

// Empty reports whether the question checks nothing per property.
func (c *Constraints) Empty() bool {
	return c.PropertyType == "" && c.ListingType == "" &&
		c.Price == nil && c.Bedrooms == nil && c.Floors == nil && c.Location == nil
}

// PriceConstraint bounds the price in IDR. Target is exclusive with
// Min/Max. Tolerance zero adopts the gold-set default.
type PriceConstraint struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Target    *float64 `json:"target,omitempty"`
	Tolerance float64  `json:"tolerance,omitempty"`
}

// CountConstraint bounds bedrooms or floors. Exact wins over Min/Max.
type CountConstraint struct {
	Exact *float64 `json:"exact,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// LocationConstraint passes on keyword containment first, falling back
// to a great-circle radius check when coordinates are given.
type LocationConstraint struct {
	Keywords []string `json:"keywords,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
	RadiusKM float64  `json:"radius_km,omitempty"`
}

func invalidGold(format string, args ...any) error {
	return rcerrors.New(rcerrors.ErrCodeInvalidGoldSet, fmt.Sprintf(format, args...), nil)
}

// LoadGoldSet reads and validates a gold file.
func LoadGoldSet(path string) (*GoldSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeFileNotFound,
			fmt.Sprintf("gold set %s is not readable", path), err)
	}

	var gold GoldSet
	if err := json.Unmarshal(data, &gold); err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeInvalidGoldSet,
			fmt.Sprintf("gold set %s is not valid JSON", path), err)
	}
	if err := gold.Validate(); err != nil {
		return nil, err
	}
	return &gold, nil
}

// Validate checks structural integrity and fills defaults in place.
func (g *GoldSet) Validate() error {
	if g.ThresholdT == 0 {
		g.ThresholdT = DefaultThresholdT
	}
	if g.ThresholdT < 0 || g.ThresholdT > 1 {
		return invalidGold("threshold_t %v outside (0, 1]", g.ThresholdT)
	}
	if g.PriceTolerance == 0 {
		g.PriceTolerance = DefaultPriceTolerance
	}
	if g.PriceTolerance < 0 || g.PriceTolerance >= 1 {
		return invalidGold("price_tolerance %v outside [0, 1)", g.PriceTolerance)
	}
	if len(g.Questions) == 0 {
		return invalidGold("gold set has no questions")
	}

	seen := make(map[string]bool, len(g.Questions))
	for i := range g.Questions {
		q := &g.Questions[i]
		if err := q.validate(); err != nil {
			return err
		}
		if seen[q.ID] {
			return invalidGold("duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
	}
	return nil
}

func (q *GoldQuestion) validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return invalidGold("question without id (%q)", q.Question)
	}
	if strings.TrimSpace(q.Question) == "" {
		return invalidGold("question %s has no text", q.ID)
	}
	switch q.ExpectedResult {
	case ExpectHasData, ExpectNoData:
	default:
		return invalidGold("question %s: expected_result %q is not has_data or no_data", q.ID, q.ExpectedResult)
	}
	switch q.EvaluationMode {
	case "":
		q.EvaluationMode = ModeAuto
	case ModeAuto, ModeManual:
	default:
		return invalidGold("question %s: evaluation_mode %q is not auto or manual", q.ID, q.EvaluationMode)
	}

	c := &q.Constraints
	if c.PropertyType != "" {
		if _, ok := property.NormalizePropertyType(c.PropertyType); !ok {
			return invalidGold("question %s: unknown property_type %q", q.ID, c.PropertyType)
		}
	}
	if c.ListingType != "" {
		if _, ok := property.NormalizeListingType(c.ListingType); !ok {
			return invalidGold("question %s: unknown listing_type %q", q.ID, c.ListingType)
		}
	}
	if p := c.Price; p != nil {
		if p.Target != nil && (p.Min != nil || p.Max != nil) {
			return invalidGold("question %s: price target and min/max are exclusive", q.ID)
		}
		if p.Target == nil && p.Min == nil && p.Max == nil {
			return invalidGold("question %s: price constraint has no bounds", q.ID)
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			return invalidGold("question %s: price min exceeds max", q.ID)
		}
		if p.Tolerance < 0 || p.Tolerance >= 1 {
			return invalidGold("question %s: price tolerance %v outside [0, 1)", q.ID, p.Tolerance)
		}
	}
	for _, v := range []struct {
		name string
		c    *CountConstraint
	}{{"bedrooms", c.Bedrooms}, {"floors", c.Floors}} {
		if v.c == nil {
			continue
		}
		if v.c.Exact == nil && v.c.Min == nil && v.c.Max == nil {
			return invalidGold("question %s: %s constraint has no bounds", q.ID, v.name)
		}
		if v.c.Min != nil && v.c.Max != nil && *v.c.Min > *v.c.Max {
			return invalidGold("question %s: %s min exceeds max", q.ID, v.name)
		}
	}
	if l := c.Location; l != nil {
		hasGeo := l.Lat != nil && l.Lng != nil
		if (l.Lat == nil) != (l.Lng == nil) {
			return invalidGold("question %s: location needs both lat and lng", q.ID)
		}
		if len(l.Keywords) == 0 && !hasGeo {
			return invalidGold("question %s: location constraint has neither keywords nor coordinates", q.ID)
		}
		if l.RadiusKM < 0 {
			return invalidGold("question %s: radius_km is negative", q.ID)
		}
	}
	return nil
}

// priceTolerance resolves the effective tolerance for a question's
// price constraint.
func (g *GoldSet) priceTolerance(p *PriceConstraint) float64 {
	if p != nil && p.Tolerance > 0 {
		return p.Tolerance
	}
	return g.PriceTolerance
}

// Criteria translates the question into retrieval criteria. The
// question text rides along as the semantic query; structured methods
// ignore it. Target prices expand to their tolerance window, explicit
// min/max stay as written so the checkers judge the tolerance.
func (g *GoldSet) Criteria(q *GoldQuestion, limit int) *property.SearchCriteria {
	crit := &property.SearchCriteria{
		Query: q.Question,
		Limit: limit,
	}
	c := &q.Constraints

	if c.PropertyType != "" {
		if pt, ok := property.NormalizePropertyType(c.PropertyType); ok {
			crit.PropertyType = &pt
		}
	}
	if c.ListingType != "" {
		if lt, ok := property.NormalizeListingType(c.ListingType); ok {
			crit.ListingType = &lt
		}
	}

	if p := c.Price; p != nil {
		if p.Target != nil {
			tol := g.priceTolerance(p)
			lo := *p.Target * (1 - tol)
			hi := *p.Target * (1 + tol)
			crit.PriceMin = &lo
			crit.PriceMax = &hi
		} else {
			crit.PriceMin = p.Min
			crit.PriceMax = p.Max
		}
	}

	if b := c.Bedrooms; b != nil {
		if b.Exact != nil {
			crit.BedroomsMin = b.Exact
			crit.BedroomsMax = b.Exact
		} else {
			crit.BedroomsMin = b.Min
			crit.BedroomsMax = b.Max
		}
	}
	if f := c.Floors; f != nil {
		if f.Exact != nil {
			crit.FloorsMin = f.Exact
			crit.FloorsMax = f.Exact
		} else {
			crit.FloorsMin = f.Min
			crit.FloorsMax = f.Max
		}
	}

	if l := c.Location; l != nil {
		if len(l.Keywords) > 0 {
			crit.LocationKeyword = l.Keywords[0]
		}
		if l.Lat != nil && l.Lng != nil {
			crit.Latitude = l.Lat
			crit.Longitude = l.Lng
			radius := l.RadiusKM
			if radius == 0 {
				radius = search.DefaultRadiusKM
			}
			crit.RadiusKM = &radius
		}
	}

	return crit
}
