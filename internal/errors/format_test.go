package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		assert.Equal(t, "", FormatForCLI(nil))
	})

	t.Run("app error with suggestion", func(t *testing.T) {
		err := New(ErrCodeConfigNotFound, "config file not found", nil).
			WithSuggestion("run 'rumahcari init' to create one")

		out := FormatForCLI(err)

		assert.Contains(t, out, "Error: config file not found")
		assert.Contains(t, out, "Hint: run 'rumahcari init'")
		assert.Contains(t, out, "Code: ERR_101_CONFIG_NOT_FOUND")
	})

	t.Run("plain error is classified as internal", func(t *testing.T) {
		out := FormatForCLI(errors.New("something broke"))

		assert.Contains(t, out, "Error: something broke")
		assert.Contains(t, out, "Code: ERR_501_INTERNAL")
	})
}

func TestToEnvelope(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		assert.Equal(t, Envelope{}, ToEnvelope(nil))
	})

	t.Run("app error exposes kind and message only", func(t *testing.T) {
		err := New(ErrCodeGeocodeFailed, "no coordinates for area", errors.New("socket: connection refused"))

		env := ToEnvelope(err)

		assert.Equal(t, KindGeocodeFailed, env.Kind)
		assert.Equal(t, "no coordinates for area", env.Message)

		// Internals never cross the wire
		raw, jerr := json.Marshal(env)
		require.NoError(t, jerr)
		assert.NotContains(t, string(raw), "connection refused")
		assert.JSONEq(t, `{"kind":"geocode_failed","message":"no coordinates for area"}`, string(raw))
	})

	t.Run("plain error is masked as internal", func(t *testing.T) {
		env := ToEnvelope(errors.New("pq: relation dropped"))

		assert.Equal(t, KindInternal, env.Kind)
		assert.Equal(t, "internal error", env.Message)
	})
}

func TestFormatJSON(t *testing.T) {
	// Given: an annotated error with a cause
	err := New(ErrCodeUpstreamTimeout, "backend call timed out", errors.New("context deadline exceeded")).
		WithDetail("endpoint", "/api/v1/pending_ingest")

	// When: rendering to JSON
	raw, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	// Then: all classification fields are present
	assert.Equal(t, "ERR_301_UPSTREAM_TIMEOUT", decoded["code"])
	assert.Equal(t, "upstream_timeout", decoded["kind"])
	assert.Equal(t, "UPSTREAM", decoded["category"])
	assert.Equal(t, true, decoded["retryable"])
	assert.Equal(t, "context deadline exceeded", decoded["cause"])

	details, ok := decoded["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/api/v1/pending_ingest", details["endpoint"])
}

func TestFormatForLog(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		assert.Nil(t, FormatForLog(nil))
	})

	t.Run("plain error", func(t *testing.T) {
		attrs := FormatForLog(errors.New("boom"))
		assert.Equal(t, map[string]any{"error": "boom"}, attrs)
	})

	t.Run("app error flattens details", func(t *testing.T) {
		err := New(ErrCodeEmbeddingFailed, "provider returned 500", nil).
			WithDetail("model", "nomic-embed-text").
			WithSuggestion("check the provider endpoint")

		attrs := FormatForLog(err)

		assert.Equal(t, "ERR_304_EMBEDDING_FAILED", attrs["error_code"])
		assert.Equal(t, "embedding_failed", attrs["kind"])
		assert.Equal(t, "provider returned 500", attrs["message"])
		assert.Equal(t, "nomic-embed-text", attrs["detail_model"])
		assert.Equal(t, "check the provider endpoint", attrs["suggestion"])
	})
}
