package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEmbedder wraps an Embedder with a process-local TTL+LRU cache.
// Within the TTL an identical (text, model) pair returns the exact stored
// vector, which is what makes repeated criteria embedding cheap and
// evaluation runs reproducible. Hits are observable per call so the
// metrics sink can record the cache bit.
type CachedEmbedder struct {
	inner Embedder
	cache *expirable.LRU[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with a cache of maxEntries entries that
// expire after ttl. Non-positive arguments fall back to the defaults.
func NewCachedEmbedder(inner Embedder, maxEntries int, ttl time.Duration) *CachedEmbedder {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedEmbedder{
		inner: inner,
		cache: expirable.NewLRU[string, []float32](maxEntries, nil, ttl),
	}
}

// cacheKey hashes text together with the model id so two models never
// share an entry. The NUL separator keeps ("ab", "c") distinct from
// ("a", "bc").
func (c *CachedEmbedder) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelID()))
	return hex.EncodeToString(hash[:])
}

// Embed returns the cached vector when present, otherwise computes and
// stores it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, _, err := c.EmbedCached(ctx, text)
	return vec, err
}

// EmbedCached is Embed plus the cache-hit bit the metrics sink records.
func (c *CachedEmbedder) EmbedCached(ctx context.Context, text string) ([]float32, bool, error) {
	key := c.cacheKey(text)

	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return vec, true, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, false, err
	}

	c.misses.Add(1)
	c.cache.Add(key, vec)
	return vec, false, nil
}

// EmbedBatch checks the cache per text and forwards only the misses to
// the provider in one batch, preserving input order in the result.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			c.hits.Add(1)
			results[i] = vec
			continue
		}
		uncachedIndices = append(uncachedIndices, i)
		uncachedTexts = append(uncachedTexts, text)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range uncachedIndices {
		c.misses.Add(1)
		results[idx] = fresh[j]
		c.cache.Add(c.cacheKey(texts[idx]), fresh[j])
	}

	return results, nil
}

// Stats returns lifetime hit and miss counts.
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of live cache entries.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// Purge drops every cached vector. Used after a reindex with a changed
// document template.
func (c *CachedEmbedder) Purge() {
	c.cache.Purge()
}

// Dimensions passes through to the inner embedder.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelID passes through to the inner embedder.
func (c *CachedEmbedder) ModelID() string {
	return c.inner.ModelID()
}

// Available passes through to the inner embedder.
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

// Inner exposes the wrapped embedder for provider-specific features.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}
