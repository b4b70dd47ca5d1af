// Package telemetry records retrieval and conversation metrics. Raw
// events append to local JSON-lines files, one file per kind per day;
// aggregates flush to a small SQLite store that feeds the stats command.
// All data stays on the machine - no external reporting.
package telemetry

import "time"

// Kind names a metric stream. Each kind appends to its own daily file,
// metrics/{kind}_{YYYY-MM-DD}.jsonl.
type Kind string

const (
	KindSearch Kind = "search"
	KindChat   Kind = "chat"
	KindSync   Kind = "sync"
	KindEval   Kind = "eval"
)

// SearchRecord captures one retrieval call end to end.
type SearchRecord struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`

	// Method is the executed method label, including the +GEO decorator
	// when the proximity fallback fired, e.g. "HYBRID(w=0.60)+GEO".
	Method string `json:"method"`
	Query  string `json:"query,omitempty"`

	// Per-leg and total latencies. A leg that did not run reports 0.
	StructuredMS int64 `json:"structured_ms"`
	VectorMS     int64 `json:"vector_ms"`
	TotalMS      int64 `json:"total_ms"`

	StructuredCount int `json:"structured_count"`
	VectorCount     int `json:"vector_count"`
	ResultCount     int `json:"result_count"`

	EmbeddingCacheHit bool `json:"embedding_cache_hit"`
	GeocodeCacheHit   bool `json:"geocode_cache_hit"`

	// RerankChanges counts properties whose position moved between the
	// backend ordering and the blended ordering.
	RerankChanges int `json:"rerank_changes"`

	// Degraded names the leg that failed when the search continued on
	// the surviving one, e.g. "vector" after a hybrid vector-leg error.
	Degraded string `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ChatRecord captures one conversational turn.
type ChatRecord struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`

	Method       string   `json:"method,omitempty"`
	ToolHops     int      `json:"tool_hops"`
	Tools        []string `json:"tools,omitempty"`
	FirstTokenMS int64    `json:"first_token_ms,omitempty"`
	TurnMS       int64    `json:"turn_ms"`

	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`

	Error string `json:"error,omitempty"`
}

// SyncRecord captures one ingestion cycle.
type SyncRecord struct {
	Timestamp time.Time `json:"timestamp"`

	// Trigger is "schedule" or "manual".
	Trigger string `json:"trigger"`

	Pending  int `json:"pending"`
	Embedded int `json:"embedded"`
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
	Failed   int `json:"failed"`

	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// EvalRecord captures one evaluation run summary. The full per-question
// report is written separately by the evaluator.
type EvalRecord struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`

	Questions     int     `json:"questions"`
	TruePositive  int     `json:"tp"`
	FalsePositive int     `json:"fp"`
	TrueNegative  int     `json:"tn"`
	FalseNegative int     `json:"fn"`
	Precision     float64 `json:"precision"`
	Recall        float64 `json:"recall"`
	F1            float64 `json:"f1"`
	Accuracy      float64 `json:"accuracy"`
	ThresholdT    float64 `json:"threshold_t"`

	DurationMS int64 `json:"duration_ms"`
}
