package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// OpenAIConfig configures the OpenAI-compatible embedding client. Any
// endpoint implementing POST {base_url}/embeddings works: OpenAI itself,
// Ollama's v1 shim, vLLM, LM Studio.
type OpenAIConfig struct {
	// BaseURL including the version prefix, e.g. "http://localhost:11434/v1".
	BaseURL string

	// APIKey is sent as a Bearer token when non-empty.
	APIKey string

	// Model is the embedding model identifier.
	Model string

	// Dimensions pins the expected vector width. Zero auto-detects from
	// the first response.
	Dimensions int

	// BatchSize is the maximum inputs per request.
	BatchSize int

	// Timeout bounds one round trip, applied per request so a caller
	// deadline shorter than this still wins.
	Timeout time.Duration

	// Retry overrides the provider retry policy. Zero value uses
	// DefaultRetryConfig.
	Retry rcerrors.RetryConfig
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BatchSize < MinBatchSize {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry = rcerrors.DefaultRetryConfig()
	}
	return c
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client    *http.Client
	transport *http.Transport
	cfg       OpenAIConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates the HTTP embedding client. No network call
// happens here; dimension detection waits for the first embedding so
// construction works offline (preflight probes reachability separately).
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "embedding base_url is empty", nil)
	}
	if cfg.Model == "" {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "embedding model_id is empty", nil)
	}

	// Short idle timeout: the sync worker is bursty, and stale pooled
	// connections to a restarted provider fail the first cycle after.
	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     30 * time.Second,
	}

	return &OpenAIEmbedder{
		// No Client.Timeout: per-request contexts carry the deadline so
		// caller deadlines compose with the provider budget.
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
		dims:      cfg.Dimensions,
	}, nil
}

// embeddingRequest is the OpenAI-compatible wire request.
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse is the OpenAI-compatible wire response.
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts. The provider is
// called in BatchSize chunks; results come back in input order. Empty
// texts are rejected rather than embedded as zero vectors, because a
// zero vector silently matches nothing and hides the bug upstream.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, rcerrors.New(rcerrors.ErrCodeEmbeddingFailed, "embedder is closed", nil)
	}

	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, rcerrors.Newf(rcerrors.ErrCodeQueryEmpty, "text %d is empty", i)
		}
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := rcerrors.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
			return e.doEmbed(ctx, texts[start:end])
		})
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}

	return results, nil
}

// doEmbed performs one provider request for a single chunk.
func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(embeddingRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.ErrCodeEmbeddingFailed, err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.ErrCodeEmbeddingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, rcerrors.New(rcerrors.ErrCodeUpstreamTimeout,
				fmt.Sprintf("embedding provider timed out after %s", e.cfg.Timeout), err)
		}
		return nil, rcerrors.New(rcerrors.ErrCodeEmbeddingFailed, "embedding provider unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, e.statusError(resp)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeEmbeddingFailed, "malformed embedding response", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, rcerrors.Newf(rcerrors.ErrCodeEmbeddingFailed,
			"provider returned %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}

	// Providers may reorder; the index field is authoritative.
	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, rcerrors.Newf(rcerrors.ErrCodeEmbeddingFailed, "embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, rcerrors.Newf(rcerrors.ErrCodeEmbeddingFailed, "provider returned empty vector at index %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, rcerrors.Newf(rcerrors.ErrCodeEmbeddingFailed, "provider returned no vector for input %d", i)
		}
	}

	if err := e.pinDimensions(len(vecs[0])); err != nil {
		return nil, err
	}
	for i, v := range vecs {
		if len(v) != e.Dimensions() {
			return nil, rcerrors.Newf(rcerrors.ErrCodeDimensionMismatch,
				"vector %d has %d dimensions, expected %d", i, len(v), e.Dimensions())
		}
	}

	return vecs, nil
}

// statusError maps a non-200 response to a typed error. 429 is retryable
// rate limiting, 5xx is retryable unavailability, anything else fails
// immediately.
func (e *OpenAIEmbedder) statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return rcerrors.Newf(rcerrors.ErrCodeRateLimited, "embedding provider rate limited: %s", msg)
	case resp.StatusCode >= 500:
		return rcerrors.Newf(rcerrors.ErrCodeUpstreamUnavailable,
			"embedding provider returned %d: %s", resp.StatusCode, msg)
	default:
		return rcerrors.Newf(rcerrors.ErrCodeEmbeddingFailed,
			"embedding request rejected with %d: %s", resp.StatusCode, msg)
	}
}

// pinDimensions records the vector width on first contact and rejects
// any later width change: mixed widths in one collection are fatal
// downstream, so they are caught at the source.
func (e *OpenAIEmbedder) pinDimensions(got int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dims == 0 {
		e.dims = got
		return nil
	}
	if got != e.dims {
		return rcerrors.Newf(rcerrors.ErrCodeDimensionMismatch,
			"model %s returned %d dimensions, expected %d; re-index if the model changed",
			e.cfg.Model, got, e.dims)
	}
	return nil
}

// Dimensions returns the pinned vector width, or 0 before first contact.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelID returns the configured model identifier.
func (e *OpenAIEmbedder) ModelID() string {
	return e.cfg.Model
}

// Available probes GET {base_url}/models with a short deadline.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.cfg.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close shuts down pooled connections. Safe to call twice.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
