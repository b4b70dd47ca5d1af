package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store that accumulates like the SQLite
// implementation (upsert adds) and can be told to fail.
type memStore struct {
	mu        sync.Mutex
	fail      bool
	methods   map[string]int64
	terms     map[string]int64
	latencies map[LatencyBucket]int64
	zero      []string
}

func newMemStore() *memStore {
	return &memStore{
		methods:   make(map[string]int64),
		terms:     make(map[string]int64),
		latencies: make(map[LatencyBucket]int64),
	}
}

func (s *memStore) SaveMethodCounts(_ string, counts map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	for k, v := range counts {
		s.methods[k] += v
	}
	return nil
}

func (s *memStore) UpsertTermCounts(terms map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	for k, v := range terms {
		s.terms[k] += v
	}
	return nil
}

func (s *memStore) AddZeroResultQuery(query string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	s.zero = append(s.zero, query)
	return nil
}

func (s *memStore) SaveLatencyCounts(_ string, counts map[LatencyBucket]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	for k, v := range counts {
		s.latencies[k] += v
	}
	return nil
}

func (s *memStore) Close() error { return nil }

func searchRec(method, query string, results int, totalMS int64) SearchRecord {
	return SearchRecord{
		Timestamp:   time.Now(),
		Method:      method,
		Query:       query,
		ResultCount: results,
		TotalMS:     totalMS,
	}
}

func TestCollector_Observe_CountsMethods(t *testing.T) {
	c := NewCollector(nil, nil)
	defer c.Close()

	c.Observe(searchRec("HYBRID(w=0.60)", "rumah murah", 5, 20))
	c.Observe(searchRec("HYBRID(w=0.60)", "ruko medan", 3, 35))
	c.Observe(searchRec("STRUCTURED_ONLY", "rumah 3 kamar", 8, 9))

	snap := c.Snapshot()
	assert.Equal(t, int64(3), snap.TotalSearches)
	assert.Equal(t, int64(2), snap.MethodCounts["HYBRID(w=0.60)"])
	assert.Equal(t, int64(1), snap.MethodCounts["STRUCTURED_ONLY"])
}

func TestCollector_Observe_TracksTopTerms(t *testing.T) {
	c := NewCollector(nil, nil)
	defer c.Close()

	c.Observe(searchRec("HYBRID(w=0.60)", "rumah dekat kampus", 4, 10))
	c.Observe(searchRec("HYBRID(w=0.60)", "rumah murah", 2, 10))
	c.Observe(searchRec("VECTOR_ONLY", "rumah taman luas", 1, 10))

	snap := c.Snapshot()
	require.NotEmpty(t, snap.TopTerms)
	assert.Equal(t, "rumah", snap.TopTerms[0].Term)
	assert.Equal(t, int64(3), snap.TopTerms[0].Count)
}

func TestCollector_Observe_CapturesZeroResults(t *testing.T) {
	c := NewCollector(nil, nil)
	defer c.Close()

	c.Observe(searchRec("HYBRID(w=0.60)", "istana di medan", 0, 15))
	c.Observe(searchRec("HYBRID(w=0.60)", "rumah murah", 4, 15))

	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, []string{"istana di medan"}, snap.ZeroResultQueries)
	assert.InDelta(t, 50.0, snap.ZeroResultPercentage(), 0.01)
}

func TestCollector_Observe_ErroredSearchNotZeroResult(t *testing.T) {
	c := NewCollector(nil, nil)
	defer c.Close()

	rec := searchRec("VECTOR_ONLY", "rumah murah", 0, 15)
	rec.Error = "upstream_unavailable"
	c.Observe(rec)

	snap := c.Snapshot()
	assert.Equal(t, int64(0), snap.ZeroResultCount)
	assert.Empty(t, snap.ZeroResultQueries)
}

func TestCollector_Observe_BucketsLatency(t *testing.T) {
	c := NewCollector(nil, nil)
	defer c.Close()

	c.Observe(searchRec("STRUCTURED_ONLY", "a b c", 1, 5))
	c.Observe(searchRec("STRUCTURED_ONLY", "a b c", 1, 30))
	c.Observe(searchRec("STRUCTURED_ONLY", "a b c", 1, 30))
	c.Observe(searchRec("STRUCTURED_ONLY", "a b c", 1, 700))

	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(2), snap.LatencyDistribution[BucketP50])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP1000])
}

func TestCollector_Observe_CacheHitsAndRerank(t *testing.T) {
	c := NewCollector(nil, nil)
	defer c.Close()

	hit := searchRec("HYBRID(w=0.60)", "rumah taman", 5, 20)
	hit.EmbeddingCacheHit = true
	hit.RerankChanges = 3
	c.Observe(hit)
	c.Observe(searchRec("HYBRID(w=0.60)", "ruko kantor", 5, 20))

	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.EmbeddingCacheHits)
	assert.Equal(t, int64(3), snap.RerankChanges)
	assert.InDelta(t, 0.5, snap.EmbeddingCacheHitRate(), 0.01)
}

func TestCollector_ZeroResultRing_MaintainsCapacity(t *testing.T) {
	cfg := DefaultCollectorConfig()
	cfg.ZeroResultsCapacity = 3
	cfg.FlushInterval = 0
	c := NewCollectorWithConfig(nil, cfg, nil)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Observe(searchRec("VECTOR_ONLY", fmt.Sprintf("query %d", i), 0, 10))
	}

	snap := c.Snapshot()
	assert.Equal(t, int64(5), snap.ZeroResultCount)
	assert.Equal(t, []string{"query 2", "query 3", "query 4"}, snap.ZeroResultQueries)
}

func TestCollector_Flush_WritesDeltasOnce(t *testing.T) {
	store := newMemStore()
	cfg := DefaultCollectorConfig()
	cfg.FlushInterval = 0 // flush manually
	c := NewCollectorWithConfig(store, cfg, nil)
	defer c.Close()

	c.Observe(searchRec("HYBRID(w=0.60)", "rumah murah", 5, 20))
	c.Observe(searchRec("HYBRID(w=0.60)", "kosong sekali", 0, 20))

	require.NoError(t, c.Flush())
	assert.Equal(t, int64(2), store.methods["HYBRID(w=0.60)"])
	assert.Equal(t, int64(1), store.terms["rumah"])
	assert.Equal(t, []string{"kosong sekali"}, store.zero)

	// A second flush with nothing new must not re-add counts.
	require.NoError(t, c.Flush())
	assert.Equal(t, int64(2), store.methods["HYBRID(w=0.60)"])
	assert.Equal(t, int64(1), store.terms["rumah"])
	assert.Len(t, store.zero, 1)

	// New observations only contribute their delta.
	c.Observe(searchRec("HYBRID(w=0.60)", "rumah kecil", 2, 20))
	require.NoError(t, c.Flush())
	assert.Equal(t, int64(3), store.methods["HYBRID(w=0.60)"])
	assert.Equal(t, int64(2), store.terms["rumah"])
}

func TestCollector_Flush_FailureKeepsDeltas(t *testing.T) {
	store := newMemStore()
	cfg := DefaultCollectorConfig()
	cfg.FlushInterval = 0
	c := NewCollectorWithConfig(store, cfg, nil)
	defer c.Close()

	c.Observe(searchRec("STRUCTURED_ONLY", "rumah murah", 0, 20))

	store.fail = true
	require.Error(t, c.Flush())

	store.fail = false
	require.NoError(t, c.Flush())
	assert.Equal(t, int64(1), store.methods["STRUCTURED_ONLY"])
	assert.Equal(t, int64(1), store.terms["rumah"])
	assert.Equal(t, []string{"rumah murah"}, store.zero)
}

func TestCollector_Close_FlushesAndStops(t *testing.T) {
	store := newMemStore()
	c := NewCollector(store, nil)

	c.Observe(searchRec("VECTOR_ONLY", "rumah taman", 3, 20))

	require.NoError(t, c.Close())
	assert.Equal(t, int64(1), store.methods["VECTOR_ONLY"])

	// Observe after close is dropped; a second close is a no-op.
	c.Observe(searchRec("VECTOR_ONLY", "late", 3, 20))
	require.NoError(t, c.Close())
	assert.Equal(t, int64(1), store.methods["VECTOR_ONLY"])
}

func TestCollector_Concurrent_ThreadSafe(t *testing.T) {
	c := NewCollector(nil, nil)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Observe(searchRec("HYBRID(w=0.60)", fmt.Sprintf("rumah %d", n), j%3, int64(j)))
				_ = c.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(500), snap.TotalSearches)
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{49 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{250 * time.Millisecond, BucketP500},
		{500 * time.Millisecond, BucketP1000},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.latency), "latency %s", tt.latency)
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"rumah", "dekat", "usu"}, ExtractTerms("Rumah dekat USU"))
	assert.Equal(t, []string{"ruko"}, ExtractTerms("di ruko"), "short words dropped")
	assert.Nil(t, ExtractTerms("a b"))
	assert.Nil(t, ExtractTerms("   "))
}
