package mcp

import (
	"fmt"

	"github.com/hunianlab/rumahcari/internal/property"
)

// SearchPropertiesInput mirrors the structured criteria the retrieval
// engine accepts. Field tags match the criteria parser, so the input
// round-trips through the same validation the chat agent uses.
type SearchPropertiesInput struct {
	Query           string   `json:"query,omitempty" jsonschema:"free-text wishes in Indonesian or English, e.g. 'rumah asri dekat sekolah'"`
	PropertyType    string   `json:"property_type,omitempty" jsonschema:"house|shophouse|land|apartment|warehouse|office|villa; Indonesian synonyms accepted"`
	ListingType     string   `json:"listing_type,omitempty" jsonschema:"sale or rent; dijual/disewa accepted"`
	SourceKind      string   `json:"source_kind,omitempty" jsonschema:"listing or project"`
	PriceMin        float64  `json:"price_min,omitempty" jsonschema:"minimum price in IDR"`
	PriceMax        float64  `json:"price_max,omitempty" jsonschema:"maximum price in IDR"`
	BedroomsMin     int      `json:"bedrooms_min,omitempty"`
	BedroomsMax     int      `json:"bedrooms_max,omitempty"`
	BathroomsMin    int      `json:"bathrooms_min,omitempty"`
	BathroomsMax    int      `json:"bathrooms_max,omitempty"`
	FloorsMin       int      `json:"floors_min,omitempty"`
	FloorsMax       int      `json:"floors_max,omitempty"`
	MinLandArea     float64  `json:"min_land_area,omitempty" jsonschema:"minimum land area in square meters"`
	MinBuildingArea float64  `json:"min_building_area,omitempty" jsonschema:"minimum building area in square meters"`
	LocationKeyword string   `json:"location_keyword,omitempty" jsonschema:"district, area, or complex name to match textually"`
	Latitude        float64  `json:"latitude,omitempty" jsonschema:"center latitude for radius search; requires longitude"`
	Longitude       float64  `json:"longitude,omitempty" jsonschema:"center longitude for radius search; requires latitude"`
	RadiusKM        float64  `json:"radius_km,omitempty" jsonschema:"radius in km around latitude/longitude, default 2"`
	InComplex       bool     `json:"in_complex,omitempty" jsonschema:"only properties inside a housing complex"`
	Facing          string   `json:"facing,omitempty" jsonschema:"cardinal facing, e.g. 'timur'"`
	Amenities       []string `json:"amenities,omitempty" jsonschema:"required amenities, e.g. ['kolam renang']"`
	Page            int      `json:"page,omitempty" jsonschema:"1-based result page"`
	Limit           int      `json:"limit,omitempty" jsonschema:"results per page, max 50"`
}

// SearchPropertiesOutput is the search tool's result.
type SearchPropertiesOutput struct {
	// Clarification is set when the criteria were too ambiguous to
	// execute; the client should refine and retry.
	Clarification string `json:"clarification,omitempty"`

	Properties []PropertyView `json:"properties"`
	Total      int            `json:"total" jsonschema:"backend match estimate beyond the returned page"`
	MethodUsed string         `json:"method_used,omitempty"`
	TookMS     int64          `json:"took_ms"`
}

// PropertyView is the compact result row: enough to compare listings,
// with the slug for a get_property follow-up.
type PropertyView struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Kind        string `json:"source_kind"`
	Type        string `json:"property_type"`
	Listing     string `json:"listing_type"`
	PriceIDR    string `json:"price_idr,omitempty"`
	Bedrooms    string `json:"bedrooms,omitempty"`
	Bathrooms   string `json:"bathrooms,omitempty"`
	LandM2      string `json:"land_area_m2,omitempty"`
	BuildingM2  string `json:"building_area_m2,omitempty"`
	Location    string `json:"location,omitempty"`
	Certificate string `json:"certificate,omitempty"`
}

// GetPropertyInput identifies one record.
type GetPropertyInput struct {
	Slug       string `json:"slug" jsonschema:"property slug from a search_properties result"`
	SourceKind string `json:"source_kind,omitempty" jsonschema:"listing or project; omit to try both"`
}

// GetPropertyOutput carries the full record.
type GetPropertyOutput struct {
	Property *property.Property `json:"property"`
}

// GetKnowledgeInput is a domain-knowledge lookup.
type GetKnowledgeInput struct {
	Query    string `json:"query" jsonschema:"what to look up, e.g. 'perbedaan SHM dan HGB'"`
	Category string `json:"category,omitempty" jsonschema:"optional category filter: legal, financing, tax, ..."`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum entries, default 5"`
}

// KnowledgeEntry is one matched snippet.
type KnowledgeEntry struct {
	Title    string  `json:"title"`
	Category string  `json:"category,omitempty"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// GetKnowledgeOutput lists matched snippets.
type GetKnowledgeOutput struct {
	Entries []KnowledgeEntry `json:"entries"`
}

// GeocodeInput names a place.
type GeocodeInput struct {
	Place string `json:"place" jsonschema:"place or landmark name, e.g. 'USU' or 'Ringroad'"`
}

// GeocodeOutput is the resolved point.
type GeocodeOutput struct {
	Place string  `json:"place"`
	Found bool    `json:"found"`
	Lat   float64 `json:"lat,omitempty"`
	Lng   float64 `json:"lng,omitempty"`
}

// viewOf projects a property onto the compact result row.
func viewOf(p *property.Property) PropertyView {
	v := PropertyView{
		Slug:        p.Slug,
		Title:       p.Title,
		Kind:        string(p.SourceKind),
		Type:        string(p.PropertyType),
		Listing:     string(p.ListingType),
		Location:    p.LocationText(),
		Certificate: p.CertificateType,
	}
	if !p.Price.IsZero() {
		v.PriceIDR = formatInterval(p.Price)
	}
	if p.Bedrooms.Max > 0 {
		v.Bedrooms = formatInterval(p.Bedrooms)
	}
	if p.Bathrooms.Max > 0 {
		v.Bathrooms = formatInterval(p.Bathrooms)
	}
	if p.LandArea.Max > 0 {
		v.LandM2 = formatInterval(p.LandArea)
	}
	if p.BuildingArea.Max > 0 {
		v.BuildingM2 = formatInterval(p.BuildingArea)
	}
	return v
}

func formatInterval(iv property.Interval) string {
	if iv.Min == iv.Max {
		return trimFloat(iv.Min)
	}
	return trimFloat(iv.Min) + "-" + trimFloat(iv.Max)
}

func trimFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
