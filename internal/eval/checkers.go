package eval

import (
	"fmt"
	"math"
	"strings"

	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/search"
)

// CheckResult is the outcome of one constraint check on one property.
type CheckResult string

const (
	CheckPass CheckResult = "pass"
	CheckFail CheckResult = "fail"

	// CheckNA: the question does not specify this constraint. Excluded
	// from every denominator.
	CheckNA CheckResult = "na"

	// CheckMissing: the constraint is specified but the property lacks
	// the attribute. Scores as fail unless the question expects
	// no_data.
	CheckMissing CheckResult = "missing"
)

// ConstraintKind names one checkable constraint.
type ConstraintKind string

const (
	ConstraintPropertyType ConstraintKind = "property_type"
	ConstraintListingType  ConstraintKind = "listing_type"
	ConstraintPrice        ConstraintKind = "price"
	ConstraintBedrooms     ConstraintKind = "bedrooms"
	ConstraintFloors       ConstraintKind = "floors"
	ConstraintLocation     ConstraintKind = "location"
)

// constraintKinds is the check order, fixed so reports are stable.
var constraintKinds = []ConstraintKind{
	ConstraintPropertyType,
	ConstraintListingType,
	ConstraintPrice,
	ConstraintBedrooms,
	ConstraintFloors,
	ConstraintLocation,
}

// Check is one constraint checked against one returned property.
type Check struct {
	Kind   ConstraintKind `json:"kind"`
	Result CheckResult    `json:"result"`
	Detail string         `json:"detail,omitempty"`
}

// checkProperty runs every constraint of the question against one
// returned property.
func (g *GoldSet) checkProperty(q *GoldQuestion, p *property.Property) []Check {
	checks := make([]Check, 0, len(constraintKinds))
	for _, kind := range constraintKinds {
		checks = append(checks, g.checkOne(kind, q, p))
	}
	return checks
}

func (g *GoldSet) checkOne(kind ConstraintKind, q *GoldQuestion, p *property.Property) Check {
	c := &q.Constraints
	switch kind {
	case ConstraintPropertyType:
		return checkPropertyType(c.PropertyType, p)
	case ConstraintListingType:
		return checkListingType(c.ListingType, p)
	case ConstraintPrice:
		return g.checkPrice(c.Price, p)
	case ConstraintBedrooms:
		return checkCount(ConstraintBedrooms, c.Bedrooms, p.Bedrooms)
	case ConstraintFloors:
		return checkCount(ConstraintFloors, c.Floors, p.Floors)
	case ConstraintLocation:
		return checkLocation(c.Location, p)
	}
	return Check{Kind: kind, Result: CheckNA}
}

func checkPropertyType(want string, p *property.Property) Check {
	check := Check{Kind: ConstraintPropertyType}
	if want == "" {
		check.Result = CheckNA
		return check
	}
	target, _ := property.NormalizePropertyType(want)
	if p.PropertyType == "" {
		check.Result = CheckMissing
		return check
	}
	if p.PropertyType == target {
		check.Result = CheckPass
	} else {
		check.Result = CheckFail
		check.Detail = fmt.Sprintf("want %s, got %s", target, p.PropertyType)
	}
	return check
}

func checkListingType(want string, p *property.Property) Check {
	check := Check{Kind: ConstraintListingType}
	if want == "" {
		check.Result = CheckNA
		return check
	}
	target, _ := property.NormalizeListingType(want)
	if p.ListingType == "" {
		check.Result = CheckMissing
		return check
	}
	if p.ListingType == target {
		check.Result = CheckPass
	} else {
		check.Result = CheckFail
		check.Detail = fmt.Sprintf("want %s, got %s", target, p.ListingType)
	}
	return check
}

// checkPrice widens the gold window by the tolerance on both sides and
// passes when the property's price interval overlaps it. Target prices
// use target·(1±tol).
func (g *GoldSet) checkPrice(c *PriceConstraint, p *property.Property) Check {
	check := Check{Kind: ConstraintPrice}
	if c == nil {
		check.Result = CheckNA
		return check
	}
	if p.Price.IsZero() {
		check.Result = CheckMissing
		return check
	}

	tol := g.priceTolerance(c)
	lo := math.Inf(-1)
	hi := math.Inf(1)
	switch {
	case c.Target != nil:
		lo = *c.Target * (1 - tol)
		hi = *c.Target * (1 + tol)
	default:
		if c.Min != nil {
			lo = *c.Min * (1 - tol)
		}
		if c.Max != nil {
			hi = *c.Max * (1 + tol)
		}
	}

	if p.Price.Overlaps(lo, hi) {
		check.Result = CheckPass
	} else {
		check.Result = CheckFail
		check.Detail = fmt.Sprintf("price %s outside [%.0f, %.0f]", p.Price.String(), lo, hi)
	}
	return check
}

// checkCount passes on exact containment when exact is given, interval
// overlap with [min, max] otherwise. Project records carry ranges, so
// both comparisons are interval-aware.
func checkCount(kind ConstraintKind, c *CountConstraint, have property.Interval) Check {
	check := Check{Kind: kind}
	if c == nil {
		check.Result = CheckNA
		return check
	}
	if have.IsZero() {
		check.Result = CheckMissing
		return check
	}

	if c.Exact != nil {
		if have.Contains(*c.Exact) {
			check.Result = CheckPass
		} else {
			check.Result = CheckFail
			check.Detail = fmt.Sprintf("want exactly %s, got %s", property.Single(*c.Exact).String(), have.String())
		}
		return check
	}

	lo := math.Inf(-1)
	hi := math.Inf(1)
	if c.Min != nil {
		lo = *c.Min
	}
	if c.Max != nil {
		hi = *c.Max
	}
	if have.Overlaps(lo, hi) {
		check.Result = CheckPass
	} else {
		check.Result = CheckFail
		check.Detail = fmt.Sprintf("%s outside [%s, %s]", have.String(), trimBound(lo), trimBound(hi))
	}
	return check
}

func trimBound(v float64) string {
	if math.IsInf(v, -1) {
		return "-inf"
	}
	if math.IsInf(v, 1) {
		return "+inf"
	}
	return property.Single(v).String()
}

// checkLocation tries keyword containment over the property's title,
// location text, and address first; only when no keyword matches does
// it fall back to the great-circle distance against the constraint's
// coordinates.
func checkLocation(c *LocationConstraint, p *property.Property) Check {
	check := Check{Kind: ConstraintLocation}
	if c == nil {
		check.Result = CheckNA
		return check
	}

	if len(c.Keywords) > 0 {
		haystack := strings.ToLower(p.Title + " " + p.LocationText() + " " + p.Address)
		for _, kw := range c.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(haystack, kw) {
				check.Result = CheckPass
				check.Detail = fmt.Sprintf("keyword %q", kw)
				return check
			}
		}
	}

	if c.Lat != nil && c.Lng != nil {
		if !p.HasCoordinates() {
			// No keyword hit and nothing to measure against.
			check.Result = CheckMissing
			return check
		}
		radius := c.RadiusKM
		if radius == 0 {
			radius = search.DefaultRadiusKM
		}
		dist := property.HaversineKM(*c.Lat, *c.Lng, *p.Latitude, *p.Longitude)
		if dist <= radius {
			check.Result = CheckPass
			check.Detail = fmt.Sprintf("%.2f km away", dist)
		} else {
			check.Result = CheckFail
			check.Detail = fmt.Sprintf("%.2f km away, radius %.1f km", dist, radius)
		}
		return check
	}

	check.Result = CheckFail
	check.Detail = "no keyword matched"
	return check
}

// effective folds missing into the scoring rule: missing scores as
// fail unless the question expects no_data, where it drops out of the
// denominators instead.
func effective(result CheckResult, expected ExpectedResult) CheckResult {
	if result != CheckMissing {
		return result
	}
	if expected == ExpectNoData {
		return CheckNA
	}
	return CheckFail
}
