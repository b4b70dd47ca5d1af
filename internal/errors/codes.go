// Package errors provides structured error handling for rumahcari.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (files, indexes, conversation DB)
//   - 3XX: Upstream errors (Property Backend, providers)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//
// Every code also maps to a Kind, the wire-level taxonomy tag surfaced in
// API error envelopes and metrics.
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates file, index, and database errors.
	CategoryStorage Category = "STORAGE"
	// CategoryUpstream indicates errors from external services.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Kind is the logical failure taxonomy used across module boundaries.
// These tags appear in API error envelopes and in metrics records; they
// are stable identifiers, not type names.
type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindVectorIO            Kind = "vector_io"
	KindEmbeddingFailed     Kind = "embedding_failed"
	KindGeocodeFailed       Kind = "geocode_failed"
	KindMemoryInvariant     Kind = "memory_invariant"
	KindToolHopExhausted    Kind = "tool_hop_exhausted"
	KindRateLimited         Kind = "provider_rate_limited"
	KindInternal            Kind = "internal"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// Storage errors (200-299)
	ErrCodeFileNotFound    = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission  = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull        = "ERR_203_DISK_FULL"
	ErrCodeVectorIO        = "ERR_204_VECTOR_IO"
	ErrCodeCorruptIndex    = "ERR_205_CORRUPT_INDEX"
	ErrCodeMemoryInvariant = "ERR_206_MEMORY_INVARIANT"
	ErrCodeMemoryStore     = "ERR_207_MEMORY_STORE"

	// Upstream errors (300-399)
	ErrCodeUpstreamTimeout     = "ERR_301_UPSTREAM_TIMEOUT"
	ErrCodeUpstreamUnavailable = "ERR_302_UPSTREAM_UNAVAILABLE"
	ErrCodeRateLimited         = "ERR_303_RATE_LIMITED"
	ErrCodeEmbeddingFailed     = "ERR_304_EMBEDDING_FAILED"
	ErrCodeGeocodeFailed       = "ERR_305_GEOCODE_FAILED"
	ErrCodeLLMFailed           = "ERR_306_LLM_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidCriteria   = "ERR_403_INVALID_CRITERIA"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidGoldSet    = "ERR_405_INVALID_GOLD_SET"

	// Internal errors (500-599)
	ErrCodeInternal          = "ERR_501_INTERNAL"
	ErrCodeSearchFailed      = "ERR_502_SEARCH_FAILED"
	ErrCodeToolHopsExhausted = "ERR_503_TOOL_HOPS_EXHAUSTED"
	ErrCodeSyncFailed        = "ERR_504_SYNC_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// kindFromCode maps an error code to its taxonomy kind.
func kindFromCode(code string) Kind {
	switch code {
	case ErrCodeDiskFull, ErrCodeVectorIO, ErrCodeCorruptIndex, ErrCodeDimensionMismatch:
		return KindVectorIO
	case ErrCodeMemoryInvariant:
		return KindMemoryInvariant
	case ErrCodeUpstreamTimeout:
		return KindUpstreamTimeout
	case ErrCodeUpstreamUnavailable, ErrCodeLLMFailed:
		return KindUpstreamUnavailable
	case ErrCodeRateLimited:
		return KindRateLimited
	case ErrCodeEmbeddingFailed:
		return KindEmbeddingFailed
	case ErrCodeGeocodeFailed:
		return KindGeocodeFailed
	case ErrCodeToolHopsExhausted:
		return KindToolHopExhausted
	}

	switch categoryFromCode(code) {
	case CategoryValidation:
		return KindBadRequest
	case CategoryUpstream:
		return KindUpstreamUnavailable
	default:
		return KindInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors abort the process per the failure model.
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull, ErrCodeDimensionMismatch:
		return SeverityFatal
	}

	// Retryable upstream errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeUpstreamTimeout, ErrCodeUpstreamUnavailable, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}
