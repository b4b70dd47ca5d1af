package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// StaticEmbedder generates deterministic hash-based embeddings with no
// network or model download. Semantic quality is reduced but stable:
// identical text always produces an identical vector, which makes it the
// provider of choice for tests and offline evaluation runs.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// stopWords are high-frequency Indonesian and English words that carry no
// signal in listing text. Filtering them keeps the hash buckets for words
// like "taman" or "garasi" from being drowned out.
var stopWords = map[string]bool{
	// Indonesian
	"yang": true, "dan": true, "di": true, "ke": true, "dari": true,
	"untuk": true, "dengan": true, "ini": true, "itu": true, "ada": true,
	"atau": true, "pada": true, "juga": true, "sudah": true, "akan": true,
	"bisa": true, "dalam": true, "per": true, "serta": true, "hanya": true,
	// English
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"in": true, "on": true, "at": true, "of": true, "for": true,
	"with": true, "to": true, "is": true, "are": true, "this": true,
}

// Token and n-gram blend weights.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// tokenRegex matches alphanumeric runs; everything else separates tokens.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder creates a deterministic embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates the embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, rcerrors.New(rcerrors.ErrCodeEmbeddingFailed, "embedder is closed", nil)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, rcerrors.New(rcerrors.ErrCodeQueryEmpty, "text is empty", nil)
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

// generateVector blends hashed word tokens with hashed character
// trigrams. Tokens carry most of the weight; trigrams give partial
// matches between inflected forms ("taman" vs "pertamanan") some overlap.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range tokenize(text) {
		vector[hashToIndex(token, StaticDimensions)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, StaticDimensions)] += ngramWeight
	}

	return vector
}

// tokenize lowercases, splits on non-alphanumerics, and drops stop words.
func tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		lower := strings.ToLower(word)
		if lower == "" || stopWords[lower] {
			continue
		}
		tokens = append(tokens, lower)
	}
	return tokens
}

// normalizeForNgrams strips everything but letters and digits.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-character sliding windows.
func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

// hashToIndex maps a string to a vector index with FNV-64.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// Dimensions returns the fixed static width.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelID identifies the static embedder. The width is part of the id so
// a switch to a real model never reuses the static collection.
func (e *StaticEmbedder) ModelID() string {
	return "static-256"
}

// Available reports readiness; the static embedder is always ready until
// closed.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
