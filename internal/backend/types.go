// Package backend is the HTTP client for the Property Backend, the
// system of record for listings and projects. It owns the ingress
// boundary: raw wire records are normalized into canonical
// property.Property values here (Indonesian type synonyms, scalar vs
// range numerics), so nothing deeper ever sees backend field quirks.
package backend

import (
	"bytes"
	"encoding/json"
	"strings"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/property"
)

// numeric decodes a backend numeric that is either a scalar (listing
// records) or a {"min":..,"max":..} object (project records). Absent
// and null both leave the value unset.
type numeric struct {
	Min float64
	Max float64
	Set bool
}

func (n *numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	if data[0] == '{' {
		var obj struct {
			Min *float64 `json:"min"`
			Max *float64 `json:"max"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		switch {
		case obj.Min != nil && obj.Max != nil:
			n.Min, n.Max = *obj.Min, *obj.Max
		case obj.Min != nil:
			n.Min, n.Max = *obj.Min, *obj.Min
		case obj.Max != nil:
			n.Min, n.Max = *obj.Max, *obj.Max
		default:
			return nil
		}
		n.Set = true
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Min, n.Max, n.Set = v, v, true
	return nil
}

func (n numeric) interval() property.Interval {
	if !n.Set {
		return property.Interval{}
	}
	return property.Range(n.Min, n.Max)
}

// RawRecord is one property as the backend sends it: /properties rows,
// detail responses, and pending-ingest rows all share this shape.
type RawRecord struct {
	Source string `json:"source"`
	ID     int64  `json:"id"`
	Slug   string `json:"slug"`

	PropertyType string `json:"property_type"`
	ListingType  string `json:"listing_type"`
	Status       string `json:"status"`

	Price        numeric `json:"price"`
	Bedrooms     numeric `json:"bedrooms"`
	Bathrooms    numeric `json:"bathrooms"`
	Floors       numeric `json:"floors"`
	LandArea     numeric `json:"land_area"`
	BuildingArea numeric `json:"building_area"`

	City        string   `json:"city"`
	District    string   `json:"district"`
	Area        string   `json:"area"`
	Address     string   `json:"address"`
	ComplexName string   `json:"complex_name"`
	Facing      string   `json:"facing"`
	Latitude    *float64 `json:"lat"`
	Longitude   *float64 `json:"lng"`

	Title           string   `json:"title"`
	Description     string   `json:"description"`
	AdditionalInfo  string   `json:"additional_info"`
	Features        []string `json:"features"`
	Amenities       []string `json:"amenities"`
	CertificateType string   `json:"certificate_type"`
	Developer       string   `json:"developer"`

	InComplex  bool `json:"in_complex"`
	NeedIngest bool `json:"need_ingest"`
}

// Normalize converts the wire record to the canonical model. Synonyms
// resolve here ("rumah" → house, "disewakan" → rent); records the
// backend should never send (unknown type, missing slug) are rejected
// so one bad row can be skipped and logged instead of poisoning a
// batch.
func (r *RawRecord) Normalize() (*property.Property, error) {
	if strings.TrimSpace(r.Slug) == "" {
		return nil, rcerrors.Newf(rcerrors.ErrCodeInvalidInput, "backend record %d has no slug", r.ID)
	}

	kind := property.SourceKind(strings.ToLower(strings.TrimSpace(r.Source)))
	if !kind.Valid() {
		return nil, rcerrors.Newf(rcerrors.ErrCodeInvalidInput, "record %s: unknown source %q", r.Slug, r.Source)
	}

	pt, ok := property.NormalizePropertyType(r.PropertyType)
	if !ok {
		return nil, rcerrors.Newf(rcerrors.ErrCodeInvalidInput, "record %s: unknown property_type %q", r.Slug, r.PropertyType)
	}
	lt, ok := property.NormalizeListingType(r.ListingType)
	if !ok {
		return nil, rcerrors.Newf(rcerrors.ErrCodeInvalidInput, "record %s: unknown listing_type %q", r.Slug, r.ListingType)
	}

	status := property.Status(strings.ToLower(strings.TrimSpace(r.Status)))
	if status == "" {
		status = property.StatusActive
	}
	switch status {
	case property.StatusActive, property.StatusSold, property.StatusRented, property.StatusInactive:
	default:
		return nil, rcerrors.Newf(rcerrors.ErrCodeInvalidInput, "record %s: unknown status %q", r.Slug, r.Status)
	}

	return &property.Property{
		SourceKind: kind,
		ID:         r.ID,
		Slug:       r.Slug,

		PropertyType: pt,
		ListingType:  lt,
		Status:       status,

		Price:        r.Price.interval(),
		Bedrooms:     r.Bedrooms.interval(),
		Bathrooms:    r.Bathrooms.interval(),
		Floors:       r.Floors.interval(),
		LandArea:     r.LandArea.interval(),
		BuildingArea: r.BuildingArea.interval(),

		City:        r.City,
		District:    r.District,
		Area:        r.Area,
		Address:     r.Address,
		ComplexName: r.ComplexName,
		Facing:      r.Facing,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,

		Title:           r.Title,
		Description:     r.Description,
		AdditionalInfo:  r.AdditionalInfo,
		Features:        r.Features,
		Amenities:       r.Amenities,
		CertificateType: r.CertificateType,
		Developer:       r.Developer,

		InComplex: r.InComplex,
	}, nil
}

// IngestID identifies one record in a mark-ingested acknowledgement.
type IngestID struct {
	Source property.SourceKind `json:"source"`
	ID     int64               `json:"id"`
}

// PageMeta is the backend's pagination envelope.
type PageMeta struct {
	Total       int  `json:"total"`
	CurrentPage int  `json:"current_page"`
	PerPage     int  `json:"per_page"`
	HasMore     bool `json:"has_more"`
}

// SearchResult is one page of normalized structured-search results.
// Rows that fail normalization are dropped and counted in Skipped.
type SearchResult struct {
	Properties []property.Property
	Meta       PageMeta
	Skipped    int
}

// Wire envelopes.
type searchResponse struct {
	Data []RawRecord `json:"data"`
	Meta PageMeta    `json:"meta"`
}

type detailResponse struct {
	Data RawRecord `json:"data"`
}

type pendingResponse struct {
	Data []RawRecord `json:"data"`
}

type markIngestedRequest struct {
	IDs []IngestID `json:"ids"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type deletedResponse struct {
	Data []string `json:"data"`
}
