package telemetry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a histogram bucket for total search latency.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// TermCount is a query term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ExtractTerms splits a query into lowercase terms of length >= 3 for
// frequency tracking.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// ring is a fixed-capacity FIFO that evicts the oldest value. Not
// goroutine-safe; the Collector guards it with its own mutex.
type ring[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &ring[T]{items: make([]T, capacity), capacity: capacity}
}

func (r *ring[T]) add(v T) {
	r.items[r.head] = v
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// all returns the buffered values, oldest first.
func (r *ring[T]) all() []T {
	out := make([]T, 0, r.size)
	if r.size < r.capacity {
		return append(out, r.items[:r.size]...)
	}
	out = append(out, r.items[r.head:]...)
	return append(out, r.items[:r.head]...)
}

// Store persists daily aggregates. Counts accumulate with upserts, so
// the Collector hands over deltas since the previous flush.
type Store interface {
	SaveMethodCounts(date string, counts map[string]int64) error
	UpsertTermCounts(terms map[string]int64) error
	AddZeroResultQuery(query string, timestamp time.Time) error
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	Close() error
}

// CollectorConfig tunes the in-memory aggregator.
type CollectorConfig struct {
	TopTermsCapacity    int           // max terms tracked (default 100)
	ZeroResultsCapacity int           // max zero-result queries kept (default 100)
	FlushInterval       time.Duration // store flush cadence (default 60s, 0 disables)
}

// DefaultCollectorConfig returns the standing defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		FlushInterval:       60 * time.Second,
	}
}

// zeroQuery is a zero-result query awaiting store flush.
type zeroQuery struct {
	query string
	at    time.Time
}

// Collector aggregates search telemetry in memory: method mix, top
// terms, zero-result queries, and a latency histogram. With a Store it
// flushes deltas on a ticker so daily aggregates survive restarts.
// Safe for concurrent use.
type Collector struct {
	mu sync.RWMutex

	// Lifetime aggregates, reported by Snapshot.
	methods        map[string]int64
	topTerms       *lru.Cache[string, int64]
	zeroResults    *ring[string]
	latencies      map[LatencyBucket]int64
	total          int64
	zeroCount      int64
	embedCacheHits int64
	rerankChanges  int64
	start          time.Time

	// Deltas since the last successful flush.
	methodsDelta map[string]int64
	termsDelta   map[string]int64
	latencyDelta map[LatencyBucket]int64
	pendingZero  []zeroQuery

	store  Store
	cfg    CollectorConfig
	logger *slog.Logger

	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewCollector creates a collector with default configuration. A nil
// store keeps aggregates in memory only.
func NewCollector(store Store, logger *slog.Logger) *Collector {
	return NewCollectorWithConfig(store, DefaultCollectorConfig(), logger)
}

// NewCollectorWithConfig creates a collector with explicit tuning.
func NewCollectorWithConfig(store Store, cfg CollectorConfig, logger *slog.Logger) *Collector {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)

	c := &Collector{
		methods:      make(map[string]int64),
		topTerms:     topTerms,
		zeroResults:  newRing[string](cfg.ZeroResultsCapacity),
		latencies:    make(map[LatencyBucket]int64),
		start:        time.Now(),
		methodsDelta: make(map[string]int64),
		termsDelta:   make(map[string]int64),
		latencyDelta: make(map[LatencyBucket]int64),
		store:        store,
		cfg:          cfg,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		c.flushTicker = time.NewTicker(cfg.FlushInterval)
		go c.flushLoop()
	}

	return c
}

func (c *Collector) flushLoop() {
	for {
		select {
		case <-c.flushTicker.C:
			if err := c.Flush(); err != nil {
				c.logger.Warn("metrics flush failed", "error", err)
			}
		case <-c.stopCh:
			return
		}
	}
}

// Observe folds one search record into the aggregates. Non-blocking
// apart from the collector mutex.
func (c *Collector) Observe(rec SearchRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.methods[rec.Method]++
	c.methodsDelta[rec.Method]++
	c.total++

	for _, term := range ExtractTerms(rec.Query) {
		count, _ := c.topTerms.Get(term)
		c.topTerms.Add(term, count+1)
		c.termsDelta[term]++
	}

	// Errored searches return nothing; only clean empty result sets
	// count as zero-result queries.
	if rec.ResultCount == 0 && rec.Error == "" && rec.Query != "" {
		c.zeroResults.add(rec.Query)
		c.zeroCount++

		at := rec.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		c.pendingZero = append(c.pendingZero, zeroQuery{query: rec.Query, at: at})
		if over := len(c.pendingZero) - c.cfg.ZeroResultsCapacity; over > 0 {
			c.pendingZero = c.pendingZero[over:]
		}
	}

	bucket := LatencyToBucket(time.Duration(rec.TotalMS) * time.Millisecond)
	c.latencies[bucket]++
	c.latencyDelta[bucket]++

	if rec.EmbeddingCacheHit {
		c.embedCacheHits++
	}
	c.rerankChanges += int64(rec.RerankChanges)
}

// Snapshot is an immutable view of the lifetime aggregates.
type Snapshot struct {
	MethodCounts        map[string]int64        `json:"method_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalSearches       int64                   `json:"total_searches"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	EmbeddingCacheHits  int64                   `json:"embedding_cache_hits"`
	RerankChanges       int64                   `json:"rerank_changes"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of searches that came back empty.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalSearches == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalSearches) * 100
}

// EmbeddingCacheHitRate returns the share of searches served from the
// embedding cache.
func (s *Snapshot) EmbeddingCacheHitRate() float64 {
	if s.TotalSearches == 0 {
		return 0
	}
	return float64(s.EmbeddingCacheHits) / float64(s.TotalSearches)
}

// Snapshot copies the current aggregates for reporting.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	methods := make(map[string]int64, len(c.methods))
	for k, v := range c.methods {
		methods[k] = v
	}

	terms := make([]TermCount, 0, c.topTerms.Len())
	for _, key := range c.topTerms.Keys() {
		if count, ok := c.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	latencies := make(map[LatencyBucket]int64, len(c.latencies))
	for k, v := range c.latencies {
		latencies[k] = v
	}

	return &Snapshot{
		MethodCounts:        methods,
		TopTerms:            terms,
		ZeroResultQueries:   c.zeroResults.all(),
		LatencyDistribution: latencies,
		TotalSearches:       c.total,
		ZeroResultCount:     c.zeroCount,
		EmbeddingCacheHits:  c.embedCacheHits,
		RerankChanges:       c.rerankChanges,
		Since:               c.start,
	}
}

// Flush writes the deltas accumulated since the previous flush to the
// store. Each section clears only after its write succeeds, so a failed
// flush retries on the next tick without losing counts.
func (c *Collector) Flush() error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	methods := c.methodsDelta
	terms := c.termsDelta
	latencies := c.latencyDelta
	pending := c.pendingZero
	c.methodsDelta = make(map[string]int64)
	c.termsDelta = make(map[string]int64)
	c.latencyDelta = make(map[LatencyBucket]int64)
	c.pendingZero = nil
	c.mu.Unlock()

	today := time.Now().Format("2006-01-02")

	restore := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for k, v := range methods {
			c.methodsDelta[k] += v
		}
		for k, v := range terms {
			c.termsDelta[k] += v
		}
		for k, v := range latencies {
			c.latencyDelta[k] += v
		}
		c.pendingZero = append(pending, c.pendingZero...)
	}

	if len(methods) > 0 {
		if err := c.store.SaveMethodCounts(today, methods); err != nil {
			restore()
			return err
		}
		methods = nil
	}
	if len(terms) > 0 {
		if err := c.store.UpsertTermCounts(terms); err != nil {
			restore()
			return err
		}
		terms = nil
	}
	if len(latencies) > 0 {
		if err := c.store.SaveLatencyCounts(today, latencies); err != nil {
			restore()
			return err
		}
		latencies = nil
	}
	for i, zq := range pending {
		if err := c.store.AddZeroResultQuery(zq.query, zq.at); err != nil {
			pending = pending[i:]
			restore()
			return err
		}
	}

	return nil
}

// Close stops the flush loop and performs a final flush.
func (c *Collector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.flushTicker != nil {
		c.flushTicker.Stop()
		close(c.stopCh)
	}

	return c.Flush()
}
