// Package knowledge indexes sales and property know-how snippets for
// the get_knowledge tool. Retrieval is BM25 full text with an optional
// category filter, behind two interchangeable backends: SQLite FTS5
// (default, concurrent access via WAL) and Bleve (legacy).
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

var errEmptySnippet = rcerrors.New(rcerrors.ErrCodeInvalidInput, "snippet has no title or content", nil)

// Search limits. The agent stuffs results into the LLM context, so the
// ceiling is deliberately low.
const (
	DefaultLimit = 5
	MaxLimit     = 20
)

// Snippet is one knowledge entry: a short piece of sales or property
// advice with an optional category and tags.
type Snippet struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// DeriveID fills a missing ID from the snippet text, so snippet files
// may omit IDs and still upsert idempotently.
func (s *Snippet) DeriveID() {
	if s.ID != "" {
		return
	}
	sum := sha256.Sum256([]byte(s.Title + "\x00" + s.Content))
	s.ID = hex.EncodeToString(sum[:])[:16]
}

// Validate rejects snippets that cannot be indexed.
func (s *Snippet) Validate() error {
	if strings.TrimSpace(s.Title) == "" && strings.TrimSpace(s.Content) == "" {
		return errEmptySnippet
	}
	return nil
}

// Result is one search hit. Score is the backend's BM25 score, higher
// is better; scores are comparable within one result set only.
type Result struct {
	Snippet Snippet `json:"snippet"`
	Score   float64 `json:"score"`
}

// Index is the knowledge store contract shared by both backends.
type Index interface {
	// Upsert adds or replaces snippets by ID.
	Upsert(ctx context.Context, snippets []Snippet) error

	// Search returns the best-matching snippets for a natural-language
	// query. Empty category matches every category. An empty or
	// stop-word-only query returns no results, not an error.
	Search(ctx context.Context, query, category string, limit int) ([]Result, error)

	// Delete removes snippets by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of indexed snippets.
	Count() (int, error)

	// Close releases the backing store. Idempotent.
	Close() error
}
