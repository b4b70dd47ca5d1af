package ingestion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunianlab/rumahcari/internal/config"
)

// fakeSyncBackend serves one pending listing on the first fetch and
// nothing afterwards, mimicking a backend that marks records ingested.
func fakeSyncBackend(t *testing.T) *httptest.Server {
	t.Helper()
	served := false
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/pending-ingest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if served {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		served = true
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{
			map[string]any{
				"source":        "listing",
				"id":            1,
				"slug":          "rumah-taman-asri",
				"title":         "Rumah taman asri di Medan Johor",
				"property_type": "house",
				"listing_type":  "sale",
				"status":        "active",
				"price":         1_500_000_000,
				"city":          "Medan",
				"district":      "Medan Johor",
			},
		}})
	})
	mux.HandleFunc("/sync/mark-ingested", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	cfg.Backend.BaseURL = backendURL
	cfg.Embedding.Provider = "static"
	cfg.Metrics.Enabled = false
	return cfg
}

func TestOpenAndRunCycle(t *testing.T) {
	srv := fakeSyncBackend(t)
	cfg := testConfig(t, srv.URL)

	var stages []string
	stack, err := Open(context.Background(), cfg, nil,
		WithProgress(func(stage string, done, total int) {
			stages = append(stages, stage)
		}))
	require.NoError(t, err)
	defer stack.Close()

	res, err := stack.Pipeline.RunCycle(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Upserted)
	assert.Zero(t, res.Failed)
	assert.NotEmpty(t, stages)

	assert.Equal(t, 1, stack.Collection.Count())
	assert.True(t, stack.Collection.Contains("rumah-taman-asri"))

	// Fully synced backend: the next cycle writes and marks nothing.
	res, err = stack.Pipeline.RunCycle(context.Background(), "test")
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Zero(t, res.Upserted)
}

func TestOpenRequiresConfig(t *testing.T) {
	_, err := Open(context.Background(), nil, nil)
	require.Error(t, err)
}
