package embed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps the static embedder and counts provider calls.
type countingEmbedder struct {
	*StaticEmbedder
	calls atomic.Int64
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedderHitBit(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 16, time.Minute)
	ctx := context.Background()

	first, hit, err := cached.EmbedCached(ctx, "rumah taman luas")
	require.NoError(t, err)
	assert.False(t, hit, "first call is a miss")

	second, hit, err := cached.EmbedCached(ctx, "rumah taman luas")
	require.NoError(t, err)
	assert.True(t, hit, "second call within TTL is a hit")

	// Cache correctness: bit-identical vector within TTL.
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, inner.calls.Load(), "provider called once")

	hits, misses := cached.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)
}

func TestCachedEmbedderKeyIncludesModel(t *testing.T) {
	a := NewCachedEmbedder(NewStaticEmbedder(), 16, time.Minute)
	b := NewCachedEmbedder(NewStaticEmbedder(), 16, time.Minute)

	keyA := a.cacheKey("rumah")
	keyB := b.cacheKey("rumah")

	// Same model id, same text: keys agree across instances.
	assert.Equal(t, keyA, keyB)
	// The NUL separator keeps text/model boundaries unambiguous.
	assert.NotEqual(t, a.cacheKey("rumah"), a.cacheKey("ruma"))
}

func TestCachedEmbedderTTLExpiry(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 16, 20*time.Millisecond)
	ctx := context.Background()

	_, _, err := cached.EmbedCached(ctx, "apartemen medan")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, hit, err := cached.EmbedCached(ctx, "apartemen medan")
	require.NoError(t, err)
	assert.False(t, hit, "entry past TTL must be recomputed")
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestCachedEmbedderEviction(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 2, time.Minute)
	ctx := context.Background()

	for _, text := range []string{"satu", "dua", "tiga"} {
		_, _, err := cached.EmbedCached(ctx, text)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, cached.Len(), "LRU bound holds")

	// "satu" was evicted; re-embedding it is a miss.
	_, hit, err := cached.EmbedCached(ctx, "satu")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCachedEmbedderBatchMixedHits(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 16, time.Minute)
	ctx := context.Background()

	warm, _, err := cached.EmbedCached(ctx, "rumah murah")
	require.NoError(t, err)
	callsAfterWarm := inner.calls.Load()

	batch, err := cached.EmbedBatch(ctx, []string{"rumah murah", "villa berastagi"})
	require.NoError(t, err)
	require.Len(t, batch, 2)

	assert.Equal(t, warm, batch[0], "cached entry reused in batch")
	assert.EqualValues(t, callsAfterWarm+1, inner.calls.Load(), "only the miss reaches the provider")
}

func TestCachedEmbedderErrorNotCached(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 16, time.Minute)
	ctx := context.Background()

	_, _, err := cached.EmbedCached(ctx, "")
	require.Error(t, err)

	hits, misses := cached.Stats()
	assert.Zero(t, hits)
	assert.Zero(t, misses, "failed calls are neither hits nor misses")
	assert.Zero(t, cached.Len())
}

func TestCachedEmbedderPurge(t *testing.T) {
	cached := NewCachedEmbedder(NewStaticEmbedder(), 16, time.Minute)
	ctx := context.Background()

	_, _, err := cached.EmbedCached(ctx, "rumah")
	require.NoError(t, err)
	require.Equal(t, 1, cached.Len())

	cached.Purge()

	assert.Zero(t, cached.Len())
	_, hit, err := cached.EmbedCached(ctx, "rumah")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCachedEmbedderPassthrough(t *testing.T) {
	inner := NewStaticEmbedder()
	cached := NewCachedEmbedder(inner, 0, 0) // defaults kick in

	assert.Equal(t, inner.Dimensions(), cached.Dimensions())
	assert.Equal(t, inner.ModelID(), cached.ModelID())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, Embedder(inner), cached.Inner())

	require.NoError(t, cached.Close())
	assert.False(t, cached.Available(context.Background()))
}
