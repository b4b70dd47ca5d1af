// Package property defines the canonical property record and the
// normalized search criteria shared by the retriever, the sync pipeline,
// and the evaluator.
//
// Every numeric attribute is a closed interval [Min, Max]. Listings carry
// degenerate intervals (Min == Max); projects carry the range of units
// available. Filtering compares intervals by overlap, which removes all
// listing-vs-project branching downstream.
package property

import (
	"fmt"
	"math"
	"strings"
)

// SourceKind identifies which upstream collection a record belongs to.
type SourceKind string

const (
	SourceListing SourceKind = "listing"
	SourceProject SourceKind = "project"
)

// PropertyType classifies a property.
type PropertyType string

const (
	TypeHouse     PropertyType = "house"
	TypeShophouse PropertyType = "shophouse"
	TypeLand      PropertyType = "land"
	TypeApartment PropertyType = "apartment"
	TypeWarehouse PropertyType = "warehouse"
	TypeOffice    PropertyType = "office"
	TypeVilla     PropertyType = "villa"
)

// ListingType is the transaction type.
type ListingType string

const (
	ListingSale ListingType = "sale"
	ListingRent ListingType = "rent"
)

// Status is the lifecycle state reported by the Property Backend.
type Status string

const (
	StatusActive   Status = "active"
	StatusSold     Status = "sold"
	StatusRented   Status = "rented"
	StatusInactive Status = "inactive"
)

// propertyTypeSynonyms maps Indonesian and English variants to canonical
// types. Resolution happens at the adapter boundary; deeper layers only
// ever see canonical values.
var propertyTypeSynonyms = map[string]PropertyType{
	"house":     TypeHouse,
	"rumah":     TypeHouse,
	"shophouse": TypeShophouse,
	"ruko":      TypeShophouse,
	"land":      TypeLand,
	"tanah":     TypeLand,
	"kavling":   TypeLand,
	"apartment": TypeApartment,
	"apartemen": TypeApartment,
	"warehouse": TypeWarehouse,
	"gudang":    TypeWarehouse,
	"office":    TypeOffice,
	"kantor":    TypeOffice,
	"villa":     TypeVilla,
	"vila":      TypeVilla,
}

var listingTypeSynonyms = map[string]ListingType{
	"sale":      ListingSale,
	"jual":      ListingSale,
	"dijual":    ListingSale,
	"rent":      ListingRent,
	"sewa":      ListingRent,
	"disewa":    ListingRent,
	"disewakan": ListingRent,
	"kontrakan": ListingRent,
}

// NormalizePropertyType resolves a raw value (either language, any case)
// to a canonical PropertyType. Returns false for unrecognized input.
func NormalizePropertyType(raw string) (PropertyType, bool) {
	pt, ok := propertyTypeSynonyms[strings.ToLower(strings.TrimSpace(raw))]
	return pt, ok
}

// NormalizeListingType resolves a raw value to a canonical ListingType.
func NormalizeListingType(raw string) (ListingType, bool) {
	lt, ok := listingTypeSynonyms[strings.ToLower(strings.TrimSpace(raw))]
	return lt, ok
}

// Valid reports whether the value is one of the canonical property types.
func (t PropertyType) Valid() bool {
	switch t {
	case TypeHouse, TypeShophouse, TypeLand, TypeApartment, TypeWarehouse, TypeOffice, TypeVilla:
		return true
	}
	return false
}

// Valid reports whether the value is a canonical listing type.
func (t ListingType) Valid() bool {
	return t == ListingSale || t == ListingRent
}

// Valid reports whether the value is a canonical source kind.
func (k SourceKind) Valid() bool {
	return k == SourceListing || k == SourceProject
}

// Interval is a closed numeric range [Min, Max].
type Interval struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Single returns the degenerate interval [v, v].
func Single(v float64) Interval {
	return Interval{Min: v, Max: v}
}

// Range returns the interval [lo, hi], swapping when given out of order.
func Range(lo, hi float64) Interval {
	if hi < lo {
		lo, hi = hi, lo
	}
	return Interval{Min: lo, Max: hi}
}

// IsZero reports whether the interval was never set.
func (iv Interval) IsZero() bool {
	return iv.Min == 0 && iv.Max == 0
}

// Contains reports whether v lies inside the interval.
func (iv Interval) Contains(v float64) bool {
	return v >= iv.Min && v <= iv.Max
}

// Overlaps reports whether [lo, hi] intersects the interval.
// Either bound may be ±Inf for a half-open criterion.
func (iv Interval) Overlaps(lo, hi float64) bool {
	return iv.Max >= lo && iv.Min <= hi
}

// String renders "3" for degenerate intervals and "3-5" otherwise.
func (iv Interval) String() string {
	if iv.Min == iv.Max {
		return trimFloat(iv.Min)
	}
	return trimFloat(iv.Min) + "-" + trimFloat(iv.Max)
}

func trimFloat(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%g", v)
}

// Property is an immutable snapshot of one listing or project.
// Ground truth stays in the Property Backend; Slug is the cross-system key.
type Property struct {
	SourceKind SourceKind `json:"source_kind"`
	ID         int64      `json:"id"`
	Slug       string     `json:"slug"`

	PropertyType PropertyType `json:"property_type"`
	ListingType  ListingType  `json:"listing_type"`
	Status       Status       `json:"status"`

	// Numerics. Price bounds are integer IDR; areas are square meters.
	Price        Interval `json:"price"`
	Bedrooms     Interval `json:"bedrooms"`
	Bathrooms    Interval `json:"bathrooms"`
	Floors       Interval `json:"floors"`
	LandArea     Interval `json:"land_area"`
	BuildingArea Interval `json:"building_area"`

	City        string   `json:"city,omitempty"`
	District    string   `json:"district,omitempty"`
	Area        string   `json:"area,omitempty"`
	Address     string   `json:"address,omitempty"`
	ComplexName string   `json:"complex_name,omitempty"`
	Facing      string   `json:"facing,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`

	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	AdditionalInfo  string   `json:"additional_info,omitempty"`
	Features        []string `json:"features,omitempty"`
	Amenities       []string `json:"amenities,omitempty"`
	CertificateType string   `json:"certificate_type,omitempty"`
	Developer       string   `json:"developer,omitempty"`

	InComplex bool `json:"in_complex,omitempty"`
}

// HasCoordinates reports whether the record carries a usable (lat, lng).
func (p *Property) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// LocationText joins the location fields into one searchable string.
// Empty components are skipped; order is most-specific first.
func (p *Property) LocationText() string {
	parts := make([]string, 0, 5)
	for _, s := range []string{p.ComplexName, p.Area, p.District, p.City, p.Address} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// HaversineKM returns the great-circle distance between two points
// in kilometers.
func HaversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKM = 6371.0

	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
