package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hunianlab/rumahcari/internal/agent"
	"github.com/hunianlab/rumahcari/internal/config"
	"github.com/hunianlab/rumahcari/internal/knowledge"
	"github.com/hunianlab/rumahcari/internal/llm"
	"github.com/hunianlab/rumahcari/internal/memory"
	"github.com/hunianlab/rumahcari/pkg/retrieval"
)

// engine is the full conversational stack: retrieval plus knowledge,
// conversation memory, the LLM client, and the agent loop on top.
// serve and chat share it.
type engine struct {
	Stack     *retrieval.Stack
	Knowledge knowledge.Index
	Memory    *memory.Store
	Manager   *memory.Manager
	LLM       *llm.Client
	Agent     *agent.Agent

	logger *slog.Logger
}

// openEngine wires the engine. On any failure everything already
// opened is closed again.
func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...retrieval.Option) (*engine, error) {
	e := &engine{logger: logger}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	var err error
	if e.Stack, err = retrieval.Open(ctx, cfg, logger, opts...); err != nil {
		return nil, err
	}

	if e.Knowledge, err = knowledge.New(cfg.KnowledgePath(), cfg.Knowledge); err != nil {
		return nil, fmt.Errorf("open knowledge index: %w", err)
	}

	if e.Memory, err = memory.Open(cfg.MemoryDBPath(), logger); err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	if e.LLM, err = llm.New(cfg.LLM); err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	e.Manager = memory.NewManager(e.Memory, e.LLM, memory.ManagerConfig{
		Window:             cfg.Memory.Window,
		SummarizeThreshold: cfg.Memory.SummarizeThreshold,
		Compact:            cfg.Memory.Compact,
		SummaryModel:       cfg.LLM.SummaryModel,
	}, logger)

	registry, err := agent.NewRegistry(
		e.Stack.Retriever, e.Stack.Backend, e.Knowledge, e.Stack.Geocoder,
		agent.RegistryConfig{
			ToolDeadline: time.Duration(cfg.Agent.ToolDeadlineMS) * time.Millisecond,
		}, logger)
	if err != nil {
		return nil, err
	}

	e.Agent, err = agent.NewAgent(agent.Dependencies{
		LLM:    e.LLM,
		Memory: e.Manager,
		Tools:  registry,
		Sink:   e.Stack.Sink,
		Logger: logger,
	}, agent.ConfigFrom(cfg.Agent))
	if err != nil {
		return nil, err
	}

	ok = true
	return e, nil
}

// Close tears the engine down in reverse dependency order.
func (e *engine) Close() {
	if e == nil {
		return
	}
	if e.LLM != nil {
		if err := e.LLM.Close(); err != nil {
			e.logger.Warn("closing llm client", "error", err)
		}
	}
	if e.Memory != nil {
		if err := e.Memory.Close(); err != nil {
			e.logger.Warn("closing conversation store", "error", err)
		}
	}
	if e.Knowledge != nil {
		if err := e.Knowledge.Close(); err != nil {
			e.logger.Warn("closing knowledge index", "error", err)
		}
	}
	e.Stack.Close()
}
