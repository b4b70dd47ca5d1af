package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// httpProvider is one forward-geocoding endpoint speaking the
// Nominatim search shape: GET {base}/search?q=...&format=json&limit=1
// returning a JSON array of results with string-encoded coordinates.
// The paid primary (LocationIQ and friends) adds a key parameter; the
// open fallback instead requires a User-Agent identifying the caller.
type httpProvider struct {
	name      string
	baseURL   string
	apiKey    string
	userAgent string
	client    *http.Client
}

// geocodeResult is one entry of the provider response. Coordinates
// come back as strings on this wire.
type geocodeResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// resolve performs one lookup. found=false with a nil error means the
// provider answered and knows no such place.
func (p *httpProvider) resolve(ctx context.Context, place string) (Point, bool, error) {
	q := url.Values{}
	q.Set("q", place)
	q.Set("format", "json")
	q.Set("limit", "1")
	if p.apiKey != "" {
		q.Set("key", p.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(p.baseURL, "/")+"/search?"+q.Encode(), nil)
	if err != nil {
		return Point{}, false, rcerrors.Wrap(rcerrors.ErrCodeGeocodeFailed, err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Point{}, false, rcerrors.Newf(rcerrors.ErrCodeUpstreamTimeout,
				"geocoder %s timed out", p.name)
		}
		return Point{}, false, rcerrors.New(rcerrors.ErrCodeGeocodeFailed,
			fmt.Sprintf("geocoder %s unreachable", p.name), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return Point{}, false, rcerrors.Newf(rcerrors.ErrCodeRateLimited,
				"geocoder %s rate limited", p.name)
		case resp.StatusCode >= 500:
			return Point{}, false, rcerrors.Newf(rcerrors.ErrCodeUpstreamUnavailable,
				"geocoder %s returned %d", p.name, resp.StatusCode)
		default:
			return Point{}, false, rcerrors.Newf(rcerrors.ErrCodeGeocodeFailed,
				"geocoder %s rejected request with %d: %s", p.name, resp.StatusCode,
				strings.TrimSpace(string(snippet)))
		}
	}

	var results []geocodeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Point{}, false, rcerrors.New(rcerrors.ErrCodeGeocodeFailed,
			fmt.Sprintf("geocoder %s returned malformed response", p.name), err)
	}
	if len(results) == 0 {
		return Point{}, false, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Point{}, false, rcerrors.Newf(rcerrors.ErrCodeGeocodeFailed,
			"geocoder %s returned bad latitude %q", p.name, results[0].Lat)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Point{}, false, rcerrors.Newf(rcerrors.ErrCodeGeocodeFailed,
			"geocoder %s returned bad longitude %q", p.name, results[0].Lon)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Point{}, false, rcerrors.Newf(rcerrors.ErrCodeGeocodeFailed,
			"geocoder %s returned out-of-range point (%f, %f)", p.name, lat, lng)
	}

	return Point{Lat: lat, Lng: lng}, true, nil
}
