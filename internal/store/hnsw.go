package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/coder/hnsw"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// Collection holds the vectors of one embedding model in a coder/hnsw
// graph. Slugs map to internal uint64 keys; deletes are lazy (mappings
// dropped, node left as tombstone) because removing the last graph node
// corrupts coder/hnsw state.
type Collection struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	cfg   CollectionConfig

	idMap   map[string]uint64 // slug -> graph key
	keyMap  map[uint64]string // graph key -> slug
	metas   map[string]*EntryMeta
	nextKey uint64

	closed bool
}

// collectionSidecar is the gob-encoded companion of the graph file. It
// carries everything the graph export cannot: slug mappings, filter
// metadata, and the pinned configuration.
type collectionSidecar struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  CollectionConfig
	Metas   map[string]*EntryMeta
}

// NewCollection creates an empty collection. Nothing is read from disk;
// use Load to restore a previously saved collection.
func NewCollection(cfg CollectionConfig) (*Collection, error) {
	cfg = cfg.withDefaults()
	if cfg.ModelID == "" {
		return nil, rcerrors.New(rcerrors.ErrCodeInvalidInput, "collection model_id is empty", nil)
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case MetricL2:
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = defaultLevelML

	return &Collection{
		graph:  graph,
		cfg:    cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		metas:  make(map[string]*EntryMeta),
	}, nil
}

// ModelID returns the embedding model this collection is pinned to.
func (c *Collection) ModelID() string {
	return c.cfg.ModelID
}

// Dimensions returns the pinned vector width, or 0 while the collection
// is empty and the width is still open.
func (c *Collection) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Dimensions
}

// Upsert inserts or replaces entries keyed by slug. The returned slice is
// aligned with the input; each element reports the outcome of one entry,
// so a batch with a bad vector still lands the good ones. The first
// successful vector pins the collection width when it was not configured.
func (c *Collection) Upsert(ctx context.Context, entries []IndexEntry) ([]UpsertResult, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, rcerrors.New(rcerrors.ErrCodeVectorIO, "collection is closed", nil)
	}

	results := make([]UpsertResult, len(entries))
	for i, e := range entries {
		results[i].Slug = e.Slug

		if e.Slug == "" {
			results[i].Err = rcerrors.New(rcerrors.ErrCodeInvalidInput, "entry slug is empty", nil)
			continue
		}
		if len(e.Vector) == 0 {
			results[i].Err = rcerrors.Newf(rcerrors.ErrCodeInvalidInput, "entry %q has no vector", e.Slug)
			continue
		}
		if c.cfg.Dimensions == 0 {
			c.cfg.Dimensions = len(e.Vector)
		}
		if len(e.Vector) != c.cfg.Dimensions {
			results[i].Err = rcerrors.Newf(rcerrors.ErrCodeDimensionMismatch,
				"entry %q has %d dimensions, collection %s expects %d; re-index with a matching model",
				e.Slug, len(e.Vector), c.cfg.ModelID, c.cfg.Dimensions)
			continue
		}

		// Replacing a slug orphans its old graph node instead of deleting
		// it; the stale node is unreachable through keyMap.
		if oldKey, exists := c.idMap[e.Slug]; exists {
			delete(c.keyMap, oldKey)
		}

		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		if c.cfg.Metric == MetricCosine {
			normalizeInPlace(vec)
		}

		key := c.nextKey
		c.nextKey++
		c.graph.Add(hnsw.MakeNode(key, vec))

		c.idMap[e.Slug] = key
		c.keyMap[key] = e.Slug
		c.metas[e.Slug] = cloneMeta(e.Meta)
	}

	return results, nil
}

// Search returns up to k slugs ranked by similarity, highest first. With a
// filter it over-fetches and widens until k survivors are found or the
// whole graph has been considered, so a selective filter still fills the
// page when enough matching entries exist.
func (c *Collection) Search(ctx context.Context, query []float32, k int, filter SearchFilter) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, rcerrors.Newf(rcerrors.ErrCodeInvalidInput, "search k must be positive, got %d", k)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, rcerrors.New(rcerrors.ErrCodeVectorIO, "collection is closed", nil)
	}
	if len(c.idMap) == 0 {
		return []SearchResult{}, nil
	}
	if len(query) != c.cfg.Dimensions {
		return nil, rcerrors.Newf(rcerrors.ErrCodeDimensionMismatch,
			"query has %d dimensions, collection %s expects %d",
			len(query), c.cfg.ModelID, c.cfg.Dimensions)
	}

	q := make([]float32, len(query))
	copy(q, query)
	if c.cfg.Metric == MetricCosine {
		normalizeInPlace(q)
	}

	total := c.graph.Len()
	orphans := total - len(c.idMap)

	// Tombstones surface in graph results, so always fetch past them.
	// Filtered searches additionally over-fetch because the filter can
	// reject most neighbors.
	fetch := k + orphans
	if filter != nil {
		fetch = k*filterOverfetch + orphans
	}

	for {
		if fetch > total {
			fetch = total
		}

		nodes := c.graph.Search(q, fetch)
		results := make([]SearchResult, 0, k)
		for _, node := range nodes {
			slug, live := c.keyMap[node.Key]
			if !live {
				continue
			}
			if filter != nil && !filter(slug, c.metas[slug]) {
				continue
			}
			dist := c.graph.Distance(q, node.Value)
			results = append(results, SearchResult{
				Slug:  slug,
				Score: distanceToScore(dist, c.cfg.Metric),
			})
			if len(results) == k {
				return results, nil
			}
		}

		if fetch >= total {
			return results, nil
		}
		fetch *= 2
	}
}

// filterOverfetch is the initial multiplier applied to k when a filter is
// present. Search doubles from there when too few survivors come back.
const filterOverfetch = 4

// Delete removes slugs from the collection. Unknown slugs are ignored;
// deleting is always allowed to succeed so sync retries stay idempotent.
func (c *Collection) Delete(ctx context.Context, slugs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return rcerrors.New(rcerrors.ErrCodeVectorIO, "collection is closed", nil)
	}

	for _, slug := range slugs {
		if key, exists := c.idMap[slug]; exists {
			delete(c.keyMap, key)
			delete(c.idMap, slug)
			delete(c.metas, slug)
		}
	}
	return nil
}

// Contains reports whether a slug is live in the collection.
func (c *Collection) Contains(slug string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	_, ok := c.idMap[slug]
	return ok
}

// Meta returns a copy of the stored metadata for a slug.
func (c *Collection) Meta(slug string) (EntryMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return EntryMeta{}, false
	}
	m, ok := c.metas[slug]
	if !ok {
		return EntryMeta{}, false
	}
	return *cloneMeta(*m), true
}

// Slugs returns every live slug. Used by sync to reconcile against the
// backend's deleted set.
func (c *Collection) Slugs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	slugs := make([]string, 0, len(c.idMap))
	for slug := range c.idMap {
		slugs = append(slugs, slug)
	}
	return slugs
}

// Count returns the number of live entries.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0
	}
	return len(c.idMap)
}

// Stats reports live counts plus tombstone overhead.
func (c *Collection) Stats() CollectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return CollectionStats{ModelID: c.cfg.ModelID}
	}
	graphNodes := c.graph.Len()
	return CollectionStats{
		Count:      len(c.idMap),
		Dimensions: c.cfg.Dimensions,
		ModelID:    c.cfg.ModelID,
		GraphNodes: graphNodes,
		Orphans:    graphNodes - len(c.idMap),
	}
}

// Save writes the graph and sidecar to the configured path. Both writes go
// through a temp file and rename, so a crash mid-save leaves the previous
// files intact.
func (c *Collection) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return rcerrors.New(rcerrors.ErrCodeVectorIO, "collection is closed", nil)
	}
	if c.cfg.Path == "" {
		return rcerrors.New(rcerrors.ErrCodeVectorIO, "collection has no path configured", nil)
	}

	if err := os.MkdirAll(filepath.Dir(c.cfg.Path), 0o755); err != nil {
		return storageErr("create collection directory", err)
	}

	tmpPath := c.cfg.Path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return storageErr("create graph file", err)
	}
	if err := c.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return storageErr("export graph", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return storageErr("close graph file", err)
	}
	if err := os.Rename(tmpPath, c.cfg.Path); err != nil {
		os.Remove(tmpPath)
		return storageErr("rename graph file", err)
	}

	if err := c.saveSidecar(c.cfg.Path + ".meta"); err != nil {
		return err
	}
	return nil
}

func (c *Collection) saveSidecar(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return storageErr("create sidecar file", err)
	}

	side := collectionSidecar{
		IDMap:   c.idMap,
		NextKey: c.nextKey,
		Config:  c.cfg,
		Metas:   c.metas,
	}
	side.Config.Path = "" // paths are runtime-local, never persisted

	if err := gob.NewEncoder(file).Encode(side); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp sidecar during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return storageErr("encode sidecar", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return storageErr("close sidecar file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return storageErr("rename sidecar file", err)
	}
	return nil
}

// Load restores the collection from the configured path. The sidecar is
// read first because the graph import is only meaningful with the slug
// mappings in place.
func (c *Collection) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return rcerrors.New(rcerrors.ErrCodeVectorIO, "collection is closed", nil)
	}
	if c.cfg.Path == "" {
		return rcerrors.New(rcerrors.ErrCodeVectorIO, "collection has no path configured", nil)
	}

	if err := c.loadSidecar(c.cfg.Path + ".meta"); err != nil {
		return err
	}

	file, err := os.Open(c.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return rcerrors.Wrap(rcerrors.ErrCodeFileNotFound, err)
		}
		return storageErr("open graph file", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := c.graph.Import(bufio.NewReader(file)); err != nil {
		return rcerrors.Wrap(rcerrors.ErrCodeCorruptIndex,
			fmt.Errorf("import graph %s: %w", c.cfg.Path, err))
	}
	return nil
}

func (c *Collection) loadSidecar(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rcerrors.Wrap(rcerrors.ErrCodeFileNotFound, err)
		}
		return storageErr("open sidecar file", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close sidecar file", slog.String("error", err.Error()))
		}
	}()

	var side collectionSidecar
	if err := gob.NewDecoder(file).Decode(&side); err != nil {
		return rcerrors.Wrap(rcerrors.ErrCodeCorruptIndex,
			fmt.Errorf("decode sidecar %s: %w", path, err))
	}

	if side.Config.ModelID != "" && side.Config.ModelID != c.cfg.ModelID {
		return rcerrors.Newf(rcerrors.ErrCodeCorruptIndex,
			"sidecar %s belongs to model %s, expected %s", path, side.Config.ModelID, c.cfg.ModelID)
	}
	if c.cfg.Dimensions > 0 && side.Config.Dimensions > 0 && side.Config.Dimensions != c.cfg.Dimensions {
		return rcerrors.Newf(rcerrors.ErrCodeDimensionMismatch,
			"saved collection %s has %d dimensions, configured %d; re-index with a matching model",
			c.cfg.ModelID, side.Config.Dimensions, c.cfg.Dimensions)
	}

	// The sidecar config wins: it records how the stored vectors were
	// normalized and indexed. Only the runtime path survives, and the
	// configured width when the saved collection never pinned one.
	graphPath, cfgDims := c.cfg.Path, c.cfg.Dimensions
	c.cfg = side.Config.withDefaults()
	c.cfg.Path = graphPath
	if c.cfg.Dimensions == 0 {
		c.cfg.Dimensions = cfgDims
	}

	c.idMap = side.IDMap
	c.nextKey = side.NextKey
	c.metas = side.Metas
	if c.metas == nil {
		c.metas = make(map[string]*EntryMeta)
	}
	c.keyMap = make(map[uint64]string, len(c.idMap))
	for slug, key := range c.idMap {
		c.keyMap[key] = slug
	}
	return nil
}

// Close marks the collection unusable. It does not save; callers persist
// explicitly so a bad shutdown never overwrites a good index.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.graph = nil
	return nil
}

// CollectionInfo is what can be learned from a sidecar without loading the
// graph. Used for preflight checks and the stats command.
type CollectionInfo struct {
	ModelID    string
	Dimensions int
	Count      int
}

// ReadCollectionInfo reads the sidecar of a saved collection. A missing
// sidecar returns zero info and no error: that is a fresh start.
func ReadCollectionInfo(graphPath string) (CollectionInfo, error) {
	file, err := os.Open(graphPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return CollectionInfo{}, nil
		}
		return CollectionInfo{}, storageErr("open sidecar file", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close sidecar file", slog.String("error", err.Error()))
		}
	}()

	var side collectionSidecar
	if err := gob.NewDecoder(file).Decode(&side); err != nil {
		return CollectionInfo{}, rcerrors.Wrap(rcerrors.ErrCodeCorruptIndex,
			fmt.Errorf("decode sidecar %s.meta: %w", graphPath, err))
	}
	return CollectionInfo{
		ModelID:    side.Config.ModelID,
		Dimensions: side.Config.Dimensions,
		Count:      len(side.IDMap),
	}, nil
}

func cloneMeta(m EntryMeta) *EntryMeta {
	out := m
	if m.Latitude != nil {
		lat := *m.Latitude
		out.Latitude = &lat
	}
	if m.Longitude != nil {
		lng := *m.Longitude
		out.Longitude = &lng
	}
	if len(m.Amenities) > 0 {
		out.Amenities = append([]string(nil), m.Amenities...)
	}
	return &out
}

// storageErr classifies a filesystem failure: ENOSPC gets its own code so
// operators see "disk full" instead of a generic storage error.
func storageErr(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return rcerrors.New(rcerrors.ErrCodeDiskFull, op+": disk full", err)
	}
	if os.IsPermission(err) {
		return rcerrors.Wrap(rcerrors.ErrCodeFilePermission, fmt.Errorf("%s: %w", op, err))
	}
	return rcerrors.Wrap(rcerrors.ErrCodeVectorIO, fmt.Errorf("%s: %w", op, err))
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a distance to a similarity in [0,1], higher is
// closer. Cosine distance spans [0,2]; L2 spans [0,inf).
func distanceToScore(distance float32, metric DistanceMetric) float64 {
	var score float64
	switch metric {
	case MetricL2:
		score = 1.0 / (1.0 + float64(distance))
	default:
		score = 1.0 - float64(distance)/2.0
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
