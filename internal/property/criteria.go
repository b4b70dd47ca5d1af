package property

import (
	"math"
	"strings"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// Pagination bounds for criteria. Limits above MaxLimit are rejected, not
// clamped: an oversized limit usually means the extractor misread the user.
const (
	DefaultLimit = 10
	MaxLimit     = 50
)

// SearchCriteria is the normalized, non-ambiguous filter consumed by the
// retriever, the metadata filter builder, and the evaluator. Every field is
// optional; unset means unconstrained. Pointer fields distinguish "unset"
// from a legitimate zero (radius_km=0 is an exact coordinate match).
type SearchCriteria struct {
	// Query is the free-text seed for semantic re-ranking. May be empty.
	Query string `json:"query,omitempty"`

	PropertyType *PropertyType `json:"property_type,omitempty"`
	ListingType  *ListingType  `json:"listing_type,omitempty"`
	SourceKind   *SourceKind   `json:"source_kind,omitempty"`

	// Inclusive bounds. Price is IDR; bedrooms, bathrooms and floors are
	// counts compared against the record's interval by overlap.
	PriceMin     *float64 `json:"price_min,omitempty"`
	PriceMax     *float64 `json:"price_max,omitempty"`
	BedroomsMin  *float64 `json:"bedrooms_min,omitempty"`
	BedroomsMax  *float64 `json:"bedrooms_max,omitempty"`
	BathroomsMin *float64 `json:"bathrooms_min,omitempty"`
	BathroomsMax *float64 `json:"bathrooms_max,omitempty"`
	FloorsMin    *float64 `json:"floors_min,omitempty"`
	FloorsMax    *float64 `json:"floors_max,omitempty"`

	// Inclusive square-meter lower bounds.
	MinLandArea     *float64 `json:"min_land_area,omitempty"`
	MinBuildingArea *float64 `json:"min_building_area,omitempty"`

	// LocationKeyword is a textual area hint ("Medan Johor", "dekat USU").
	// The proximity fallback replaces it with an explicit geo circle when
	// the keyword alone finds nothing.
	LocationKeyword string   `json:"location_keyword,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	RadiusKM        *float64 `json:"radius_km,omitempty"`

	InComplex *bool    `json:"in_complex,omitempty"`
	Facing    string   `json:"facing,omitempty"`
	Amenities []string `json:"amenities,omitempty"`

	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// Normalize trims text fields and fills pagination defaults.
// Call before Validate.
func (c *SearchCriteria) Normalize() {
	c.Query = strings.TrimSpace(c.Query)
	c.LocationKeyword = strings.TrimSpace(c.LocationKeyword)
	c.Facing = strings.TrimSpace(c.Facing)

	cleaned := c.Amenities[:0]
	for _, a := range c.Amenities {
		if a = strings.TrimSpace(a); a != "" {
			cleaned = append(cleaned, a)
		}
	}
	c.Amenities = cleaned

	if c.Page == 0 {
		c.Page = 1
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
}

// Validate checks bounds and cross-field constraints. Violations surface
// as bad_request errors so the agent can ask a follow-up instead of
// running a broken search.
func (c *SearchCriteria) Validate() error {
	if c.Page < 1 {
		return rcerrors.Newf(rcerrors.ErrCodeInvalidCriteria, "page must be at least 1, got %d", c.Page)
	}
	if c.Limit < 1 || c.Limit > MaxLimit {
		return rcerrors.Newf(rcerrors.ErrCodeInvalidCriteria, "limit must be between 1 and %d, got %d", MaxLimit, c.Limit)
	}

	if c.PropertyType != nil && !c.PropertyType.Valid() {
		return rcerrors.Newf(rcerrors.ErrCodeInvalidCriteria, "unknown property_type %q", string(*c.PropertyType))
	}
	if c.ListingType != nil && !c.ListingType.Valid() {
		return rcerrors.Newf(rcerrors.ErrCodeInvalidCriteria, "unknown listing_type %q", string(*c.ListingType))
	}
	if c.SourceKind != nil && !c.SourceKind.Valid() {
		return rcerrors.Newf(rcerrors.ErrCodeInvalidCriteria, "unknown source_kind %q", string(*c.SourceKind))
	}

	type bound struct {
		name     string
		min, max *float64
	}
	for _, b := range []bound{
		{"price", c.PriceMin, c.PriceMax},
		{"bedrooms", c.BedroomsMin, c.BedroomsMax},
		{"bathrooms", c.BathroomsMin, c.BathroomsMax},
		{"floors", c.FloorsMin, c.FloorsMax},
	} {
		if b.min != nil && *b.min < 0 {
			return rcerrors.Newf(rcerrors.ErrCodeInvalidCriteria, "%s_min must not be negative", b.name)
		}
		if b.max != nil && *b.max < 0 {
			return rcerrors.Newf(rcerrors.ErrCodeInvalidCriteria, "%s_max must not be negative", b.name)
		}
		if b.min != nil && b.max != nil && *b.min > *b.max {
			return rcerrors.Newf(rcerrors.ErrCodeInvalidCriteria, "%s_min exceeds %s_max", b.name, b.name)
		}
	}
	if c.MinLandArea != nil && *c.MinLandArea < 0 {
		return rcerrors.New(rcerrors.ErrCodeInvalidCriteria, "min_land_area must not be negative", nil)
	}
	if c.MinBuildingArea != nil && *c.MinBuildingArea < 0 {
		return rcerrors.New(rcerrors.ErrCodeInvalidCriteria, "min_building_area must not be negative", nil)
	}

	// The geo circle is all-or-nothing: a partial triplet is a sign the
	// extractor hallucinated coordinates.
	geoSet := 0
	for _, f := range []*float64{c.Latitude, c.Longitude, c.RadiusKM} {
		if f != nil {
			geoSet++
		}
	}
	if geoSet != 0 && geoSet != 3 {
		return rcerrors.New(rcerrors.ErrCodeInvalidCriteria,
			"latitude, longitude and radius_km must be provided together", nil)
	}
	if geoSet == 3 {
		if math.Abs(*c.Latitude) > 90 {
			return rcerrors.Newf(rcerrors.ErrCodeInvalidCriteria, "latitude %g out of range", *c.Latitude)
		}
		if math.Abs(*c.Longitude) > 180 {
			return rcerrors.Newf(rcerrors.ErrCodeInvalidCriteria, "longitude %g out of range", *c.Longitude)
		}
		if *c.RadiusKM < 0 {
			return rcerrors.New(rcerrors.ErrCodeInvalidCriteria, "radius_km must not be negative", nil)
		}
	}

	return nil
}

// HasGeoCircle reports whether the full (lat, lng, radius) triplet is set.
func (c *SearchCriteria) HasGeoCircle() bool {
	return c.Latitude != nil && c.Longitude != nil && c.RadiusKM != nil
}

// HasStructuredFilters reports whether any backend-translatable filter is
// set. Query, pagination and the location keyword do not count: a bare
// semantic query still pages the unfiltered backend in hybrid mode.
func (c *SearchCriteria) HasStructuredFilters() bool {
	return c.PropertyType != nil || c.ListingType != nil || c.SourceKind != nil ||
		c.PriceMin != nil || c.PriceMax != nil ||
		c.BedroomsMin != nil || c.BedroomsMax != nil ||
		c.BathroomsMin != nil || c.BathroomsMax != nil ||
		c.FloorsMin != nil || c.FloorsMax != nil ||
		c.MinLandArea != nil || c.MinBuildingArea != nil ||
		c.HasGeoCircle() || c.InComplex != nil ||
		c.Facing != "" || len(c.Amenities) > 0
}

// WithGeoCircle returns a copy with the location keyword replaced by an
// explicit geo circle. The proximity fallback uses this after geocoding
// the keyword.
func (c SearchCriteria) WithGeoCircle(lat, lng, radiusKM float64) SearchCriteria {
	c.LocationKeyword = ""
	c.Latitude = &lat
	c.Longitude = &lng
	c.RadiusKM = &radiusKM
	return c
}

// Matches reports whether a property satisfies every set filter. All
// checks are conjunctive. Numeric checks compare the record's interval
// against the criteria bounds by overlap, so project ranges match when
// any unit in the range qualifies.
func (c *SearchCriteria) Matches(p *Property) bool {
	if p == nil {
		return false
	}
	if c.PropertyType != nil && p.PropertyType != *c.PropertyType {
		return false
	}
	if c.ListingType != nil && p.ListingType != *c.ListingType {
		return false
	}
	if c.SourceKind != nil && p.SourceKind != *c.SourceKind {
		return false
	}

	if !boundsOverlap(p.Price, c.PriceMin, c.PriceMax) {
		return false
	}
	if !boundsOverlap(p.Bedrooms, c.BedroomsMin, c.BedroomsMax) {
		return false
	}
	if !boundsOverlap(p.Bathrooms, c.BathroomsMin, c.BathroomsMax) {
		return false
	}
	if !boundsOverlap(p.Floors, c.FloorsMin, c.FloorsMax) {
		return false
	}
	if c.MinLandArea != nil && p.LandArea.Max < *c.MinLandArea {
		return false
	}
	if c.MinBuildingArea != nil && p.BuildingArea.Max < *c.MinBuildingArea {
		return false
	}

	if !c.matchesLocation(p) {
		return false
	}

	if c.InComplex != nil && p.InComplex != *c.InComplex {
		return false
	}
	if c.Facing != "" && !strings.EqualFold(c.Facing, p.Facing) {
		return false
	}
	for _, want := range c.Amenities {
		if !containsFold(p.Amenities, want) {
			return false
		}
	}

	return true
}

func (c *SearchCriteria) matchesLocation(p *Property) bool {
	if c.LocationKeyword != "" {
		hay := strings.ToLower(p.Title + " " + p.LocationText())
		if !strings.Contains(hay, strings.ToLower(c.LocationKeyword)) {
			return false
		}
	}
	if c.HasGeoCircle() {
		if !p.HasCoordinates() {
			return false
		}
		if *c.RadiusKM == 0 {
			return *p.Latitude == *c.Latitude && *p.Longitude == *c.Longitude
		}
		return HaversineKM(*c.Latitude, *c.Longitude, *p.Latitude, *p.Longitude) <= *c.RadiusKM
	}
	return true
}

// boundsOverlap checks interval overlap against optional bounds. Unset
// bounds are unconstrained. A record with an unset attribute ([0,0]) fails
// any positive lower bound, which is the intent: land has no bedrooms.
func boundsOverlap(iv Interval, min, max *float64) bool {
	if min == nil && max == nil {
		return true
	}
	lo := math.Inf(-1)
	hi := math.Inf(1)
	if min != nil {
		lo = *min
	}
	if max != nil {
		hi = *max
	}
	return iv.Overlaps(lo, hi)
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(needle)) {
			return true
		}
	}
	return false
}
