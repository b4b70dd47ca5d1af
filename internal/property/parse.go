package property

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// ParsedCriteria is the outcome of mapping extractor output onto the
// criteria schema. Exactly one branch is populated: Criteria when the
// input was usable, Clarify when the agent should ask a follow-up
// question instead of searching.
type ParsedCriteria struct {
	Criteria *SearchCriteria
	Clarify  string
}

// NeedsClarification reports whether the parse failed closed.
func (pc ParsedCriteria) NeedsClarification() bool {
	return pc.Clarify != ""
}

// criteriaKeys is the closed schema. The extractor is an untrusted
// parser: any key outside this set fails the parse rather than being
// silently dropped, because a dropped filter widens the search.
var criteriaKeys = map[string]struct{}{
	"query":             {},
	"property_type":     {},
	"listing_type":      {},
	"source_kind":       {},
	"price_min":         {},
	"price_max":         {},
	"bedrooms_min":      {},
	"bedrooms_max":      {},
	"bathrooms_min":     {},
	"bathrooms_max":     {},
	"floors_min":        {},
	"floors_max":        {},
	"min_land_area":     {},
	"min_building_area": {},
	"location_keyword":  {},
	"latitude":          {},
	"longitude":         {},
	"radius_km":         {},
	"in_complex":        {},
	"facing":            {},
	"amenities":         {},
	"page":              {},
	"limit":             {},
}

// ParseCriteriaJSON validates raw extractor JSON against the criteria
// schema. Unknown keys, uncoercible values, and cross-field violations
// all produce a Clarify outcome; only JSON syntax errors are returned as
// errors, since they mean the extraction itself should be retried.
func ParseCriteriaJSON(raw []byte) (ParsedCriteria, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return ParsedCriteria{}, rcerrors.Wrap(rcerrors.ErrCodeInvalidCriteria,
			fmt.Errorf("criteria is not a JSON object: %w", err))
	}
	return CriteriaFromMap(m)
}

// CriteriaFromMap maps already-decoded JSON onto SearchCriteria. The gold
// set loader reuses this after peeling off its own constraint blocks.
// Numbers may arrive as json.Number, float64, or digit strings.
func CriteriaFromMap(m map[string]any) (ParsedCriteria, error) {
	c := &SearchCriteria{}

	for key, val := range m {
		if _, ok := criteriaKeys[key]; !ok {
			return clarifyf("unrecognized filter %q", key), nil
		}
		if val == nil {
			continue
		}

		switch key {
		case "query", "location_keyword", "facing":
			s, ok := coerceString(val)
			if !ok {
				return clarifyf("%s must be text", key), nil
			}
			switch key {
			case "query":
				c.Query = s
			case "location_keyword":
				c.LocationKeyword = s
			case "facing":
				c.Facing = s
			}

		case "property_type":
			s, ok := coerceString(val)
			if !ok {
				return clarifyf("property_type must be text"), nil
			}
			pt, ok := NormalizePropertyType(s)
			if !ok {
				return clarifyf("unknown property type %q", s), nil
			}
			c.PropertyType = &pt

		case "listing_type":
			s, ok := coerceString(val)
			if !ok {
				return clarifyf("listing_type must be text"), nil
			}
			lt, ok := NormalizeListingType(s)
			if !ok {
				return clarifyf("unknown listing type %q", s), nil
			}
			c.ListingType = &lt

		case "source_kind":
			s, ok := coerceString(val)
			if !ok {
				return clarifyf("source_kind must be text"), nil
			}
			sk := SourceKind(strings.ToLower(strings.TrimSpace(s)))
			if !sk.Valid() {
				return clarifyf("unknown source kind %q", s), nil
			}
			c.SourceKind = &sk

		case "in_complex":
			b, ok := coerceBool(val)
			if !ok {
				return clarifyf("in_complex must be true or false"), nil
			}
			c.InComplex = &b

		case "amenities":
			list, ok := coerceStringSlice(val)
			if !ok {
				return clarifyf("amenities must be a list of text values"), nil
			}
			c.Amenities = list

		case "page", "limit":
			f, ok := coerceFloat(val)
			if !ok || f != float64(int(f)) {
				return clarifyf("%s must be a whole number", key), nil
			}
			if key == "page" {
				c.Page = int(f)
			} else {
				c.Limit = int(f)
			}

		default:
			// Remaining keys are all numeric bounds.
			f, ok := coerceFloat(val)
			if !ok {
				return clarifyf("%s must be a number", key), nil
			}
			setNumericBound(c, key, f)
		}
	}

	c.Normalize()
	if err := c.Validate(); err != nil {
		// Fail closed: a filter that fails validation becomes a
		// follow-up question, not a broadened search.
		return ParsedCriteria{Clarify: rcerrors.Wrap(rcerrors.ErrCodeInvalidCriteria, err).Message}, nil
	}

	return ParsedCriteria{Criteria: c}, nil
}

func setNumericBound(c *SearchCriteria, key string, f float64) {
	v := f
	switch key {
	case "price_min":
		c.PriceMin = &v
	case "price_max":
		c.PriceMax = &v
	case "bedrooms_min":
		c.BedroomsMin = &v
	case "bedrooms_max":
		c.BedroomsMax = &v
	case "bathrooms_min":
		c.BathroomsMin = &v
	case "bathrooms_max":
		c.BathroomsMax = &v
	case "floors_min":
		c.FloorsMin = &v
	case "floors_max":
		c.FloorsMax = &v
	case "min_land_area":
		c.MinLandArea = &v
	case "min_building_area":
		c.MinBuildingArea = &v
	case "latitude":
		c.Latitude = &v
	case "longitude":
		c.Longitude = &v
	case "radius_km":
		c.RadiusKM = &v
	}
}

func clarifyf(format string, args ...any) ParsedCriteria {
	return ParsedCriteria{Clarify: fmt.Sprintf(format, args...)}
}

func coerceString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// coerceFloat accepts JSON numbers and digit strings. Extractors often
// quote large rupiah amounts or insert thousands separators.
func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		s := strings.NewReplacer(",", "", "_", "", " ", "").Replace(strings.TrimSpace(n))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "ya":
			return true, true
		case "false", "no", "tidak":
			return false, true
		}
	}
	return false, false
}

func coerceStringSlice(v any) ([]string, bool) {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	case []string:
		return list, true
	case string:
		// A single amenity sometimes arrives unquoted by the list.
		if s := strings.TrimSpace(list); s != "" {
			return []string{s}, true
		}
		return nil, true
	default:
		return nil, false
	}
}
