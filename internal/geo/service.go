package geo

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hunianlab/rumahcari/internal/config"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// Defaults applied when ServiceConfig leaves a field zero.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultCacheTTL  = 24 * time.Hour
	DefaultCacheSize = 500
)

// ServiceConfig configures the geocoding chain directly. Most callers
// go through New with the application config instead.
type ServiceConfig struct {
	// PrimaryBaseURL selects the key-based provider; empty skips it.
	PrimaryBaseURL string
	PrimaryAPIKey  string

	// FallbackBaseURL selects the open provider; empty skips it.
	// The open provider rejects anonymous clients, so UserAgent must
	// identify this deployment.
	FallbackBaseURL string
	UserAgent       string

	// DefaultCity is appended to bare place names ("USU" queries as
	// "USU, Medan") so providers resolve the local landmark rather
	// than a same-named place elsewhere.
	DefaultCity string

	// Timeout is the wall-clock budget for one Geocode call across
	// all providers.
	Timeout time.Duration

	CacheTTL time.Duration
	CacheMax int

	Logger *slog.Logger
}

// Service resolves place names through the landmark dictionary, a TTL
// cache, and the provider chain, in that order. Safe for concurrent
// use.
type Service struct {
	providers   []*httpProvider
	cache       *expirable.LRU[string, Point]
	defaultCity string
	timeout     time.Duration
	logger      *slog.Logger
	transport   *http.Transport
}

// New builds the service from the application config.
func New(cfg config.GeocodingConfig) *Service {
	return NewService(ServiceConfig{
		PrimaryBaseURL:  cfg.PrimaryBaseURL,
		PrimaryAPIKey:   cfg.PrimaryAPIKey,
		FallbackBaseURL: cfg.FallbackBaseURL,
		UserAgent:       cfg.UserAgent,
		DefaultCity:     cfg.DefaultCity,
		Timeout:         time.Duration(cfg.TimeoutS) * time.Second,
		CacheTTL:        time.Duration(cfg.CacheTTLS) * time.Second,
		CacheMax:        cfg.CacheMax,
	})
}

// NewService builds the service from an explicit config.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheMax <= 0 {
		cfg.CacheMax = DefaultCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}
	client := &http.Client{Transport: transport}

	var providers []*httpProvider
	if cfg.PrimaryBaseURL != "" {
		providers = append(providers, &httpProvider{
			name:      "primary",
			baseURL:   cfg.PrimaryBaseURL,
			apiKey:    cfg.PrimaryAPIKey,
			userAgent: cfg.UserAgent,
			client:    client,
		})
	}
	if cfg.FallbackBaseURL != "" {
		providers = append(providers, &httpProvider{
			name:      "fallback",
			baseURL:   cfg.FallbackBaseURL,
			userAgent: cfg.UserAgent,
			client:    client,
		})
	}

	return &Service{
		providers:   providers,
		cache:       expirable.NewLRU[string, Point](cfg.CacheMax, nil, cfg.CacheTTL),
		defaultCity: cfg.DefaultCity,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
		transport:   transport,
	}
}

// Geocode resolves a place name. found=false with a nil error means
// nothing knows the place; an error means every consulted provider
// failed. Dictionary and cache hits never touch the network.
func (s *Service) Geocode(ctx context.Context, place string) (Point, bool, error) {
	pt, found, _, err := s.GeocodeCached(ctx, place)
	return pt, found, err
}

// GeocodeCached is Geocode plus the local-hit bit the metrics sink
// records: true when the dictionary or runtime cache answered without
// consulting a provider.
func (s *Service) GeocodeCached(ctx context.Context, place string) (Point, bool, bool, error) {
	if strings.TrimSpace(place) == "" {
		return Point{}, false, false, rcerrors.New(rcerrors.ErrCodeQueryEmpty, "place is empty", nil)
	}

	if pt, ok := lookupLandmark(place); ok {
		return pt, true, true, nil
	}

	key := normalizeKey(place)
	if pt, ok := s.cache.Get(key); ok {
		return pt, true, true, nil
	}

	if len(s.providers) == 0 {
		return Point{}, false, false, nil
	}

	// One budget across the whole chain: a slow primary eats into the
	// fallback's share rather than doubling the caller's wait.
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.disambiguate(place)
	var lastErr error
	answered := false
	for _, p := range s.providers {
		pt, found, err := p.resolve(ctx, query)
		if err != nil {
			lastErr = err
			s.logger.Warn("geocode provider failed",
				slog.String("provider", p.name),
				slog.String("place", place),
				slog.String("error", err.Error()))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		answered = true
		if found {
			s.cache.Add(key, pt)
			return pt, true, false, nil
		}
	}

	if answered {
		return Point{}, false, false, nil
	}
	return Point{}, false, false, rcerrors.Wrap(rcerrors.ErrCodeGeocodeFailed, lastErr)
}

// disambiguate appends the default city to queries that don't already
// mention it.
func (s *Service) disambiguate(place string) string {
	if s.defaultCity == "" {
		return place
	}
	if strings.Contains(normalizeKey(place), normalizeKey(s.defaultCity)) {
		return place
	}
	return place + ", " + s.defaultCity
}

// CacheLen reports the number of live runtime cache entries.
func (s *Service) CacheLen() int {
	return s.cache.Len()
}

// Close releases pooled provider connections.
func (s *Service) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}
