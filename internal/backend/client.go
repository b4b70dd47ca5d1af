package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hunianlab/rumahcari/internal/config"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/property"
)

// Sentinel causes carried inside typed errors so callers can branch
// with errors.Is without string matching.
var (
	// ErrNotFound: the backend answered 404 for a detail fetch.
	ErrNotFound = errors.New("property not found")

	// ErrCleanupUnsupported: the backend has no deleted-since endpoint;
	// the sync pipeline skips tombstone cleanup.
	ErrCleanupUnsupported = errors.New("backend does not support deleted-since")
)

// DefaultTimeout bounds one backend round trip when the config leaves
// it unset.
const DefaultTimeout = 20 * time.Second

// ClientConfig configures the backend client directly.
type ClientConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	PageSize int

	// Retry overrides the per-call retry policy. Zero value uses
	// DefaultRetryConfig.
	Retry rcerrors.RetryConfig

	// Breaker overrides the shared circuit breaker, letting tests trip
	// it deterministically.
	Breaker *rcerrors.CircuitBreaker
}

// Client talks to the Property Backend. One instance is shared by the
// retriever, the sync pipeline, and the agent tools; it is safe for
// concurrent use.
type Client struct {
	client    *http.Client
	transport *http.Transport
	cfg       ClientConfig
	breaker   *rcerrors.CircuitBreaker
}

// New builds the client from the application config.
func New(cfg config.BackendConfig) (*Client, error) {
	return NewClient(ClientConfig{
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Timeout:  time.Duration(cfg.TimeoutS) * time.Second,
		PageSize: cfg.PageSize,
	})
}

// NewClient builds the client from an explicit config.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "backend base_url is empty", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = rcerrors.DefaultRetryConfig()
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = rcerrors.NewCircuitBreaker("property-backend")
	}

	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     60 * time.Second,
	}

	return &Client{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
		breaker:   breaker,
	}, nil
}

// PageSize returns the configured per_page for structured paging.
func (c *Client) PageSize() int {
	return c.cfg.PageSize
}

// SearchProperties runs a structured filter query against /properties.
// Page and per-page come from the criteria; rows the adapter rejects
// are dropped and counted, never fatal.
func (c *Client) SearchProperties(ctx context.Context, criteria *property.SearchCriteria) (*SearchResult, error) {
	page, perPage := 1, c.cfg.PageSize
	if criteria != nil {
		if criteria.Page > 0 {
			page = criteria.Page
		}
		if criteria.Limit > 0 {
			perPage = criteria.Limit
		}
	}
	return c.SearchPage(ctx, criteria, page, perPage)
}

// SearchPage runs a structured query with explicit pagination. The
// hybrid retriever uses this to over-fetch page 1 regardless of the
// caller's limit.
func (c *Client) SearchPage(ctx context.Context, criteria *property.SearchCriteria, page, perPage int) (*SearchResult, error) {
	resp, err := call[searchResponse](ctx, c, http.MethodGet, "/properties", queryParams(criteria, page, perPage), nil)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{
		Properties: make([]property.Property, 0, len(resp.Data)),
		Meta:       resp.Meta,
	}
	for i := range resp.Data {
		p, err := resp.Data[i].Normalize()
		if err != nil {
			result.Skipped++
			continue
		}
		result.Properties = append(result.Properties, *p)
	}
	return result, nil
}

// GetBySlug fetches authoritative detail. With an empty kind both
// collections are tried, listings first; the caller usually knows the
// kind from index metadata and skips the second round trip.
func (c *Client) GetBySlug(ctx context.Context, kind property.SourceKind, slug string) (*property.Property, error) {
	if strings.TrimSpace(slug) == "" {
		return nil, rcerrors.New(rcerrors.ErrCodeInvalidInput, "slug is empty", nil)
	}

	kinds := []property.SourceKind{kind}
	if kind == "" {
		kinds = []property.SourceKind{property.SourceListing, property.SourceProject}
	}

	var lastErr error
	for _, k := range kinds {
		var path string
		switch k {
		case property.SourceListing:
			path = "/listings/" + url.PathEscape(slug)
		case property.SourceProject:
			path = "/projects/" + url.PathEscape(slug)
		default:
			return nil, rcerrors.Newf(rcerrors.ErrCodeInvalidInput, "unknown source_kind %q", string(k))
		}

		resp, err := call[detailResponse](ctx, c, http.MethodGet, path, nil, nil)
		if err != nil {
			lastErr = err
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}

		if resp.Data.Source == "" {
			resp.Data.Source = string(k)
		}
		return resp.Data.Normalize()
	}
	return nil, lastErr
}

// PendingIngest returns up to limit records flagged need_ingest=true.
// Rows that fail normalization are returned raw so the sync pipeline
// can log and acknowledge them individually.
func (c *Client) PendingIngest(ctx context.Context, limit int) ([]RawRecord, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	resp, err := call[pendingResponse](ctx, c, http.MethodGet, "/sync/pending-ingest", q, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// MarkIngested acknowledges successfully indexed records so the
// backend clears their need_ingest flag. Empty input is a no-op.
func (c *Client) MarkIngested(ctx context.Context, ids []IngestID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := call[successResponse](ctx, c, http.MethodPost, "/sync/mark-ingested", nil, markIngestedRequest{IDs: ids})
	return err
}

// ResetIngest republishes every record for a full reindex.
func (c *Client) ResetIngest(ctx context.Context) error {
	resp, err := call[successResponse](ctx, c, http.MethodPost, "/sync/reset-ingest", nil, nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return rcerrors.New(rcerrors.ErrCodeSyncFailed, "backend refused reset-ingest", nil)
	}
	return nil
}

// DeletedSince lists slugs deleted after the cursor (an RFC3339
// timestamp issued by a previous cycle). Backends without the endpoint
// yield ErrCleanupUnsupported.
func (c *Client) DeletedSince(ctx context.Context, cursor string) ([]string, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	resp, err := call[deletedResponse](ctx, c, http.MethodGet, "/sync/deleted-since", q, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, rcerrors.New(rcerrors.ErrCodeUpstreamUnavailable,
				"deleted-since endpoint missing", ErrCleanupUnsupported)
		}
		return nil, err
	}
	return resp.Data, nil
}

// Available probes the backend with a minimal query. Used by doctor
// and preflight, never on the request path.
func (c *Client) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.SearchPage(probeCtx, nil, 1, 1)
	return err == nil
}

// BreakerState exposes the circuit state for the doctor report.
func (c *Client) BreakerState() rcerrors.State {
	return c.breaker.State()
}

// Close releases pooled connections.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// call is one backend invocation: retry with backoff around the
// circuit breaker around a single HTTP round trip. The breaker counts
// only transport-level failures; a 4xx means the backend is healthy
// and the request was wrong, which must not starve later calls.
func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (T, error) {
	return rcerrors.RetryWithResult(ctx, c.cfg.Retry, func() (T, error) {
		var zero T
		if !c.breaker.Allow() {
			return zero, rcerrors.New(rcerrors.ErrCodeUpstreamUnavailable,
				"property backend circuit open", rcerrors.ErrCircuitOpen)
		}

		result, err := doOnce[T](ctx, c, method, path, query, body)
		if err != nil {
			if rcerrors.IsKind(err, rcerrors.KindUpstreamUnavailable) || rcerrors.IsKind(err, rcerrors.KindUpstreamTimeout) {
				c.breaker.RecordFailure()
			}
			return zero, err
		}

		c.breaker.RecordSuccess()
		return result, nil
	})
}

// doOnce performs a single HTTP round trip and decodes the response.
func doOnce[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (T, error) {
	var zero T

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return zero, rcerrors.Wrap(rcerrors.ErrCodeInternal, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, reader)
	if err != nil {
		return zero, rcerrors.Wrap(rcerrors.ErrCodeInternal, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return zero, rcerrors.New(rcerrors.ErrCodeUpstreamTimeout,
				fmt.Sprintf("property backend timed out after %s", c.cfg.Timeout), err)
		}
		return zero, rcerrors.New(rcerrors.ErrCodeUpstreamUnavailable, "property backend unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return zero, statusError(resp, method, path)
	}

	var result T
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return zero, rcerrors.New(rcerrors.ErrCodeUpstreamUnavailable, "malformed backend response", err)
	}
	return result, nil
}

func statusError(resp *http.Response, method, path string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return rcerrors.New(rcerrors.ErrCodeInvalidInput,
			fmt.Sprintf("%s %s: not found", method, path), ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return rcerrors.Newf(rcerrors.ErrCodeRateLimited, "property backend rate limited: %s", msg)
	case resp.StatusCode >= 500:
		return rcerrors.Newf(rcerrors.ErrCodeUpstreamUnavailable,
			"property backend returned %d: %s", resp.StatusCode, msg)
	default:
		return rcerrors.Newf(rcerrors.ErrCodeInvalidInput,
			"property backend rejected %s %s with %d: %s", method, path, resp.StatusCode, msg)
	}
}
