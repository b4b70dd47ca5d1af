package backend

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/hunianlab/rumahcari/internal/property"
)

// queryParams translates normalized criteria into the /properties
// query string. Only structured filters travel to the backend; the
// free-text query stays local (it drives the vector leg, not the
// backend), and pagination is supplied by the caller because the
// hybrid leg pages differently than a plain structured search.
func queryParams(c *property.SearchCriteria, page, perPage int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	if c == nil {
		return q
	}

	if c.PropertyType != nil {
		q.Set("property_type", string(*c.PropertyType))
	}
	if c.ListingType != nil {
		q.Set("listing_type", string(*c.ListingType))
	}
	if c.SourceKind != nil {
		q.Set("source", string(*c.SourceKind))
	}

	setFloat(q, "price_min", c.PriceMin)
	setFloat(q, "price_max", c.PriceMax)
	setFloat(q, "bedrooms_min", c.BedroomsMin)
	setFloat(q, "bedrooms_max", c.BedroomsMax)
	setFloat(q, "bathrooms_min", c.BathroomsMin)
	setFloat(q, "bathrooms_max", c.BathroomsMax)
	setFloat(q, "floors_min", c.FloorsMin)
	setFloat(q, "floors_max", c.FloorsMax)
	setFloat(q, "min_land_area", c.MinLandArea)
	setFloat(q, "min_building_area", c.MinBuildingArea)

	if c.LocationKeyword != "" {
		q.Set("location", c.LocationKeyword)
	}
	if c.HasGeoCircle() {
		setFloat(q, "lat", c.Latitude)
		setFloat(q, "lng", c.Longitude)
		setFloat(q, "radius", c.RadiusKM)
	}

	if c.InComplex != nil {
		q.Set("in_complex", strconv.FormatBool(*c.InComplex))
	}
	if c.Facing != "" {
		q.Set("facing", c.Facing)
	}
	if len(c.Amenities) > 0 {
		q.Set("amenities", strings.Join(c.Amenities, ","))
	}

	return q
}

// setFloat formats without exponent notation; IDR prices overflow the
// default %g rendering into 1.5e+09, which the backend rejects.
func setFloat(q url.Values, key string, v *float64) {
	if v == nil {
		return
	}
	q.Set(key, strconv.FormatFloat(*v, 'f', -1, 64))
}
