package preflight

import (
	"context"
	"fmt"

	"github.com/hunianlab/rumahcari/internal/backend"
	"github.com/hunianlab/rumahcari/internal/embed"
	"github.com/hunianlab/rumahcari/internal/geo"
	"github.com/hunianlab/rumahcari/internal/llm"
)

// CheckBackend verifies the property backend answers its health probe.
// Required: without the backend there is nothing to search or sync.
func (c *Checker) CheckBackend(ctx context.Context) CheckResult {
	result := CheckResult{Name: "backend", Required: true}

	client, err := backend.New(c.cfg.Backend)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	if !client.Available(ctx) {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("unreachable at %s", c.cfg.Backend.BaseURL)
		return result
	}
	result.Status = StatusPass
	result.Message = "OK"
	result.Details = c.cfg.Backend.BaseURL
	return result
}

// CheckEmbedder verifies the embedding provider. Advisory: retrieval
// falls back to structured-only when vectors are unavailable.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{Name: "embedder"}

	e, err := embed.New(ctx, c.cfg.Embedding)
	if err != nil {
		result.Status = StatusWarn
		result.Message = err.Error()
		return result
	}
	if !e.Available(ctx) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s unavailable; vector retrieval disabled", e.ModelID())
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%d dims)", e.ModelID(), e.Dimensions())
	return result
}

// CheckLLM verifies the chat model endpoint. Advisory: search and sync
// work without it, only the conversational agent needs it.
func (c *Checker) CheckLLM(ctx context.Context) CheckResult {
	result := CheckResult{Name: "llm"}

	client, err := llm.New(c.cfg.LLM)
	if err != nil {
		result.Status = StatusWarn
		result.Message = err.Error()
		return result
	}
	if !client.Available(ctx) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("model %s unreachable; chat disabled", c.cfg.LLM.Model)
		return result
	}
	result.Status = StatusPass
	result.Message = c.cfg.LLM.Model
	return result
}

// CheckGeocoder resolves a known landmark. The preseeded dictionary
// answers locally, so this validates wiring rather than the network.
func (c *Checker) CheckGeocoder(ctx context.Context) CheckResult {
	result := CheckResult{Name: "geocoder"}

	svc := geo.New(c.cfg.Geocoding)
	pt, found, err := svc.Geocode(ctx, "USU")
	if err != nil || !found {
		result.Status = StatusWarn
		result.Message = "landmark lookup failed; proximity fallback disabled"
		if err != nil {
			result.Details = err.Error()
		}
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("OK (USU → %.4f, %.4f)", pt.Lat, pt.Lng)
	return result
}
