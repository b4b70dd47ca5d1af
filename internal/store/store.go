package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// graphFileName is the graph file inside each collection directory. The
// sidecar sits next to it as vectors.hnsw.meta.
const graphFileName = "vectors.hnsw"

// Store manages one collection per embedding model under a root directory:
//
//	<root>/<sanitized model_id>/vectors.hnsw
//	<root>/<sanitized model_id>/vectors.hnsw.meta
//
// Collections open lazily and are cached; switching embedding models never
// touches another model's vectors.
type Store struct {
	mu          sync.Mutex
	root        string
	collections map[string]*Collection
	defaults    CollectionConfig
	closed      bool
}

// StoreOption adjusts how collections are opened.
type StoreOption func(*Store)

// WithCollectionDefaults sets graph parameters applied to every collection
// this store opens. Path and ModelID are per-collection and ignored here.
func WithCollectionDefaults(cfg CollectionConfig) StoreOption {
	return func(s *Store) {
		s.defaults = cfg
	}
}

// NewStore creates a manager rooted at dir. The directory is created on
// first save, not here, so read-only preflight checks can construct one.
func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{
		root:        dir,
		collections: make(map[string]*Collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection returns the collection for a model, loading it from disk when
// a saved one exists and creating an empty one otherwise.
func (s *Store) Collection(modelID string) (*Collection, error) {
	if modelID == "" {
		return nil, rcerrors.New(rcerrors.ErrCodeInvalidInput, "model_id is empty", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, rcerrors.New(rcerrors.ErrCodeVectorIO, "store is closed", nil)
	}
	if coll, ok := s.collections[modelID]; ok {
		return coll, nil
	}

	cfg := s.defaults
	cfg.ModelID = modelID
	cfg.Path = s.graphPath(modelID)

	coll, err := NewCollection(cfg)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfg.Path); err == nil {
		if err := coll.Load(); err != nil {
			return nil, fmt.Errorf("load collection for %s: %w", modelID, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, storageErr("stat collection", err)
	}

	s.collections[modelID] = coll
	return coll, nil
}

// Upsert routes entries to the model's collection. Convenience for callers
// that hold a store rather than a collection.
func (s *Store) Upsert(ctx context.Context, modelID string, entries []IndexEntry) ([]UpsertResult, error) {
	coll, err := s.Collection(modelID)
	if err != nil {
		return nil, err
	}
	return coll.Upsert(ctx, entries)
}

// Search queries the model's collection.
func (s *Store) Search(ctx context.Context, modelID string, query []float32, k int, filter SearchFilter) ([]SearchResult, error) {
	coll, err := s.Collection(modelID)
	if err != nil {
		return nil, err
	}
	return coll.Search(ctx, query, k, filter)
}

// Save persists every open collection.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rcerrors.New(rcerrors.ErrCodeVectorIO, "store is closed", nil)
	}

	var firstErr error
	for modelID, coll := range s.collections {
		if err := coll.Save(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("save collection %s: %w", modelID, err)
		}
	}
	return firstErr
}

// Stats reports every open collection plus saved ones not yet opened.
func (s *Store) Stats() ([]CollectionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, rcerrors.New(rcerrors.ErrCodeVectorIO, "store is closed", nil)
	}

	seen := make(map[string]bool, len(s.collections))
	stats := make([]CollectionStats, 0, len(s.collections))
	for modelID, coll := range s.collections {
		stats = append(stats, coll.Stats())
		seen[modelID] = true
	}

	saved, err := s.savedCollections()
	if err != nil {
		return nil, err
	}
	for _, info := range saved {
		if seen[info.ModelID] {
			continue
		}
		stats = append(stats, CollectionStats{
			Count:      info.Count,
			Dimensions: info.Dimensions,
			ModelID:    info.ModelID,
			GraphNodes: info.Count,
		})
	}
	return stats, nil
}

// savedCollections scans the root for collection directories with a
// readable sidecar. Unreadable entries are skipped rather than failing the
// whole listing.
func (s *Store) savedCollections() ([]CollectionInfo, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, storageErr("read index directory", err)
	}

	infos := make([]CollectionInfo, 0, len(dirs))
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		info, err := ReadCollectionInfo(filepath.Join(s.root, d.Name(), graphFileName))
		if err != nil || info.ModelID == "" {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Close closes every open collection. Call Save first when the state
// should survive.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for modelID, coll := range s.collections {
		if err := coll.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close collection %s: %w", modelID, err)
		}
	}
	s.collections = nil
	return firstErr
}

func (s *Store) graphPath(modelID string) string {
	return filepath.Join(s.root, sanitizeModelID(modelID), graphFileName)
}

// sanitizeModelID turns a model identifier into a directory name. Model
// tags like "nomic-embed-text:v1.5" carry characters that are unsafe or
// ambiguous in paths. Collisions are caught at load time by the sidecar's
// model check.
func sanitizeModelID(modelID string) string {
	var b strings.Builder
	b.Grow(len(modelID))
	for _, r := range modelID {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "default"
	}
	return out
}
