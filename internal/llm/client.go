package llm

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

	"github.com/hunianlab/rumahcari/internal/config"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// DefaultTimeout bounds one completion call, streaming included.
const DefaultTimeout = 60 * time.Second

// Config configures the chat-completion client.
type Config struct {
	// BaseURL including the version prefix, e.g. "http://localhost:11434/v1".
	BaseURL string

	// APIKey is sent as a Bearer token when non-empty.
	APIKey string

	// Model is the default model identifier; Request.Model overrides it.
	Model string

	// Temperature is the default sampling temperature.
	Temperature float64

	// MaxTokens is the default completion budget.
	MaxTokens int

	// Timeout bounds one call end to end. For streaming calls it covers
	// the whole stream, not just the first byte. Applied per request so
	// a shorter caller deadline still wins.
	Timeout time.Duration

	// Retry overrides the provider retry policy. Zero value uses
	// DefaultRetryConfig. Streaming calls retry connection setup only;
	// once tokens flow a failure surfaces immediately.
	Retry rcerrors.RetryConfig
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry = rcerrors.DefaultRetryConfig()
	}
	return c
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	client    *http.Client
	transport *http.Transport
	cfg       Config

	mu     sync.RWMutex
	closed bool
}

// New builds the client from application config.
func New(cfg config.LLMConfig) (*Client, error) {
	return NewClient(Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     time.Duration(cfg.TimeoutS) * time.Second,
	})
}

// NewClient creates the HTTP chat client. No network call happens here;
// construction works offline.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "llm base_url is empty", nil)
	}
	if cfg.Model == "" {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "llm model is empty", nil)
	}

	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		// No Client.Timeout: per-request contexts carry the deadline so
		// caller deadlines compose with the provider budget.
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
	}, nil
}

// Model returns the configured default model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete performs one non-streaming completion call.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	return rcerrors.RetryWithResult(ctx, c.cfg.Retry, func() (*Completion, error) {
		return c.doComplete(ctx, req)
	})
}

func (c *Client) checkRequest(req Request) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return rcerrors.New(rcerrors.ErrCodeLLMFailed, "llm client is closed", nil)
	}
	if len(req.Messages) == 0 {
		return rcerrors.New(rcerrors.ErrCodeInvalidInput, "completion request has no messages", nil)
	}
	return nil
}

// wireRequest applies client defaults to one request.
func (c *Client) wireRequest(req Request, stream bool) chatRequest {
	wire := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if wire.Model == "" {
		wire.Model = c.cfg.Model
	}
	if wire.Temperature == nil {
		t := c.cfg.Temperature
		wire.Temperature = &t
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = c.cfg.MaxTokens
	}
	return wire
}

func (c *Client) doComplete(ctx context.Context, req Request) (*Completion, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.post(reqCtx, ctx, c.wireRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeLLMFailed, "malformed completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, rcerrors.New(rcerrors.ErrCodeLLMFailed, "provider returned no choices", nil)
	}

	choice := parsed.Choices[0]
	return &Completion{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Model:        parsed.Model,
		Usage:        parsed.Usage,
	}, nil
}

// post sends one wire request and validates the status. reqCtx carries
// the per-request deadline; callerCtx distinguishes a provider timeout
// from caller cancellation when mapping errors.
func (c *Client) post(reqCtx, callerCtx context.Context, wire chatRequest) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.ErrCodeLLMFailed, err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.ErrCodeLLMFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded && callerCtx.Err() == nil {
			return nil, rcerrors.New(rcerrors.ErrCodeUpstreamTimeout,
				fmt.Sprintf("llm provider timed out after %s", c.cfg.Timeout), err)
		}
		return nil, rcerrors.New(rcerrors.ErrCodeLLMFailed, "llm provider unreachable", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, c.statusError(resp)
	}
	return resp, nil
}

// statusError maps a non-200 response to a typed error. 429 is retryable
// rate limiting, 5xx is retryable unavailability, anything else fails
// immediately.
func (c *Client) statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return rcerrors.Newf(rcerrors.ErrCodeRateLimited, "llm provider rate limited: %s", msg)
	case resp.StatusCode >= 500:
		return rcerrors.Newf(rcerrors.ErrCodeUpstreamUnavailable,
			"llm provider returned %d: %s", resp.StatusCode, msg)
	default:
		return rcerrors.Newf(rcerrors.ErrCodeLLMFailed,
			"completion request rejected with %d: %s", resp.StatusCode, msg)
	}
}

// Available probes GET {base_url}/models with a short deadline.
func (c *Client) Available(ctx context.Context) bool {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close shuts down pooled connections. Safe to call twice.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}
