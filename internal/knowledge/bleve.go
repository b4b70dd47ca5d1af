package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

const (
	knowledgeTokenizerName = "knowledge_tokenizer"
	knowledgeAnalyzerName  = "knowledge_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(knowledgeTokenizerName, knowledgeTokenizerConstructor)
}

// BleveIndex implements Index on Bleve v2. BoltDB holds an exclusive
// file lock, so this backend is single-process; FTS5 is the default.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ Index = (*BleveIndex)(nil)

// bleveSnippet is the indexed document shape. Tags are comma-joined;
// the analyzer splits them back into match terms.
type bleveSnippet struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
	Tags     string `json:"tags"`
}

// validateBleveIntegrity checks a Bleve index directory before opening.
// Returns nil when absent (it will be created).
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

func isBleveCorruption(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveIndex opens or creates a Bleve knowledge index. An empty path
// creates an in-memory index for testing. A corrupted index is cleared
// and recreated with a warning; snippets reload from source.
func NewBleveIndex(path string) (*BleveIndex, error) {
	indexMapping, err := createSnippetMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}

		if validErr := validateBleveIntegrity(path); validErr != nil {
			slog.Warn("knowledge index corrupted, clearing",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("knowledge index corrupted at %s and cannot remove: %w (original error: %v)",
					path, removeErr, validErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isBleveCorruption(err) {
			slog.Warn("knowledge index open failed, clearing",
				slog.String("path", path),
				slog.String("error", err.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("knowledge index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create/open knowledge index: %w", err)
	}

	return &BleveIndex{index: idx, path: path}, nil
}

// createSnippetMapping builds the index mapping: title/content/tags use
// the knowledge analyzer, category is an exact keyword for filtering.
func createSnippetMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	// The tokenizer lowercases and drops stop words itself, so no
	// token filters are chained.
	err := indexMapping.AddCustomAnalyzer(knowledgeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": knowledgeTokenizerName,
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}

	text := bleve.NewTextFieldMapping()
	text.Analyzer = knowledgeAnalyzerName
	text.Store = true

	cat := bleve.NewTextFieldMapping()
	cat.Analyzer = keyword.Name
	cat.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("tags", text)
	doc.AddFieldMappingsAt("category", cat)

	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = knowledgeAnalyzerName

	return indexMapping, nil
}

// Upsert adds or replaces snippets by ID in one batch.
func (b *BleveIndex) Upsert(ctx context.Context, snippets []Snippet) error {
	if len(snippets) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return rcerrors.New(rcerrors.ErrCodeSearchFailed, "knowledge index is closed", nil)
	}

	batch := b.index.NewBatch()
	for i := range snippets {
		sn := snippets[i]
		sn.DeriveID()
		if err := sn.Validate(); err != nil {
			return err
		}
		doc := bleveSnippet{
			Title:    sn.Title,
			Content:  sn.Content,
			Category: sn.Category,
			Tags:     strings.Join(sn.Tags, ","),
		}
		if err := batch.Index(sn.ID, doc); err != nil {
			return fmt.Errorf("index snippet %s: %w", sn.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}

	return nil
}

// Search runs a BM25-ranked match over title (boosted), content, and
// tags, optionally restricted to one category.
func (b *BleveIndex) Search(ctx context.Context, queryStr, category string, limit int) ([]Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, rcerrors.New(rcerrors.ErrCodeSearchFailed, "knowledge index is closed", nil)
	}

	limit = clampLimit(limit)
	if len(tokenize(queryStr)) == 0 {
		return []Result{}, nil
	}

	titleQ := bleve.NewMatchQuery(queryStr)
	titleQ.SetField("title")
	titleQ.SetBoost(2.0)
	contentQ := bleve.NewMatchQuery(queryStr)
	contentQ.SetField("content")
	tagsQ := bleve.NewMatchQuery(queryStr)
	tagsQ.SetField("tags")

	var q query.Query = bleve.NewDisjunctionQuery(titleQ, contentQ, tagsQ)
	if category != "" {
		catQ := bleve.NewTermQuery(category)
		catQ.SetField("category")
		q = bleve.NewConjunctionQuery(q, catQ)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"title", "content", "category", "tags"}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.ErrCodeSearchFailed, err)
	}

	results := make([]Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		r := Result{Score: hit.Score}
		r.Snippet.ID = hit.ID
		r.Snippet.Title = fieldString(hit.Fields, "title")
		r.Snippet.Content = fieldString(hit.Fields, "content")
		r.Snippet.Category = fieldString(hit.Fields, "category")
		if tags := fieldString(hit.Fields, "tags"); tags != "" {
			r.Snippet.Tags = strings.Split(tags, ",")
		}
		results = append(results, r)
	}

	return results, nil
}

// Delete removes snippets by ID.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return rcerrors.New(rcerrors.ErrCodeSearchFailed, "knowledge index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("delete snippets: %w", err)
	}

	return nil
}

// Count returns the number of indexed snippets.
func (b *BleveIndex) Count() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, rcerrors.New(rcerrors.ErrCodeSearchFailed, "knowledge index is closed", nil)
	}

	n, err := b.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("count snippets: %w", err)
	}
	return int(n), nil
}

// Close closes the index. Idempotent.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// fieldString reads one stored field, tolerating bleve's interface
// soup: absent fields and non-strings come back empty.
func fieldString(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

// knowledgeTokenizerConstructor registers the shared tokenizer with
// Bleve so index-time and query-time analysis match the FTS5 backend.
func knowledgeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveKnowledgeTokenizer{}, nil
}

type bleveKnowledgeTokenizer struct{}

// Tokenize implements analysis.Tokenizer over the package tokenizer.
func (t *bleveKnowledgeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	lower := strings.ToLower(text)
	for _, token := range tokens {
		start := strings.Index(lower[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}

	return result
}
