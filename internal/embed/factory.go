package embed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hunianlab/rumahcari/internal/config"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// Provider names accepted in config.
const (
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// New builds the configured embedder and wraps it in the TTL+LRU cache.
//
// Provider selection:
//   - "openai": the configured endpoint, no fallback — an explicit choice
//     that cannot be satisfied is an error, not a silent degrade.
//   - "static": the deterministic offline embedder.
//   - empty: auto-detect. The endpoint is probed once; if unreachable the
//     static embedder takes over with a warning, so a laptop without a
//     local model server still gets a working (if weaker) search.
func New(ctx context.Context, cfg config.EmbeddingConfig) (*CachedEmbedder, error) {
	inner, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(cfg.CacheTTLS) * time.Second
	return NewCachedEmbedder(inner, cfg.CacheMax, ttl), nil
}

func newProvider(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI:
		return newOpenAI(cfg)

	case ProviderStatic:
		return NewStaticEmbedder(), nil

	case "":
		openai, err := newOpenAI(cfg)
		if err == nil && openai.Available(ctx) {
			return openai, nil
		}
		if openai != nil {
			_ = openai.Close()
		}
		slog.Warn("embedding endpoint unreachable, using static embedder",
			slog.String("base_url", cfg.BaseURL),
			slog.String("model_id", cfg.ModelID))
		return NewStaticEmbedder(), nil

	default:
		return nil, rcerrors.Newf(rcerrors.ErrCodeConfigInvalid,
			"unknown embedding provider %q (want openai, static, or empty)", cfg.Provider)
	}
}

func newOpenAI(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	return NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.ModelID,
		Dimensions: cfg.Dimensions,
		BatchSize:  cfg.BatchSize,
		Timeout:    time.Duration(cfg.TimeoutS) * time.Second,
	})
}
