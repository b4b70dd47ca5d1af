// Package agent runs the conversational loop: plan with the LLM,
// execute the requested tools, feed results back, and respond once the
// model stops asking for tools. The loop is bounded; a model that
// never stops gets a fixed closing reply instead of an error.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hunianlab/rumahcari/internal/config"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/llm"
	"github.com/hunianlab/rumahcari/internal/memory"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/telemetry"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultMaxToolHops  = 6
	DefaultTurnDeadline = 60 * time.Second
)

// LLMClient is the completion surface the loop drives. *llm.Client
// satisfies it.
type LLMClient interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Completion, error)
	Stream(ctx context.Context, req llm.Request, onToken func(token string) error) (*llm.Completion, error)
}

// ConversationMemory is the slice of the memory manager the loop
// needs. *memory.Manager satisfies it.
type ConversationMemory interface {
	Context(ctx context.Context, threadID, userID string) ([]llm.Message, error)
	AppendTurn(ctx context.Context, threadID, userID string, msgs []memory.Message) error
}

// Config tunes the loop. Zero values adopt the defaults.
type Config struct {
	// MaxToolHops is how many plan/execute rounds a turn may run. The
	// round after the last one must respond; if it asks for tools
	// anyway, those calls are discarded and the turn closes with
	// hopExhaustedMessage.
	MaxToolHops int

	// TurnDeadline bounds the whole turn, tools included.
	TurnDeadline time.Duration

	// SystemPrompt overrides the built-in prompt when non-empty.
	SystemPrompt string
}

// ConfigFrom converts the application config section.
func ConfigFrom(app config.AgentConfig) Config {
	return Config{
		MaxToolHops:  app.MaxToolHops,
		TurnDeadline: time.Duration(app.TurnDeadlineMS) * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxToolHops <= 0 {
		c.MaxToolHops = DefaultMaxToolHops
	}
	if c.TurnDeadline <= 0 {
		c.TurnDeadline = DefaultTurnDeadline
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	return c
}

// Dependencies are the agent's injected collaborators.
type Dependencies struct {
	LLM    LLMClient
	Memory ConversationMemory
	Tools  *Registry
	Sink   telemetry.Sink
	Logger *slog.Logger
}

// Agent owns one conversational loop over shared collaborators. Safe
// for concurrent turns; per-thread write ordering is the memory
// store's job.
type Agent struct {
	llm    LLMClient
	memory ConversationMemory
	tools  *Registry
	sink   telemetry.Sink
	logger *slog.Logger
	cfg    Config
}

// NewAgent wires the loop.
func NewAgent(deps Dependencies, cfg Config) (*Agent, error) {
	if deps.LLM == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "agent requires an LLM client", nil)
	}
	if deps.Memory == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "agent requires conversation memory", nil)
	}
	if deps.Tools == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "agent requires a tool registry", nil)
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.NopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Agent{
		llm:    deps.LLM,
		memory: deps.Memory,
		tools:  deps.Tools,
		sink:   deps.Sink,
		logger: deps.Logger,
		cfg:    cfg.withDefaults(),
	}, nil
}

// ChatRequest is one user turn.
type ChatRequest struct {
	Message  string
	ThreadID string // empty starts a new conversation
	UserID   string // empty is anonymous

	// Method overrides the retrieval method for this turn's searches.
	// Zero keeps the configured routing.
	Method property.SearchMethod
}

// ChatResult is a completed turn.
type ChatResult struct {
	Text     string
	ThreadID string
	ToolHops int

	// Search is the metadata of the turn's most recent property
	// search; nil when none ran.
	Search *SearchSummary
}

// turnState accumulates accounting across the loop for the telemetry
// record.
type turnState struct {
	tools            []string
	method           string
	search           *SearchSummary
	promptTokens     int
	completionTokens int
	firstTokenMS     int64
}

// Chat runs one turn to completion and returns the final response.
func (a *Agent) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	return a.runTurn(ctx, req, nil)
}

// ChatStream runs one turn, emitting events as it progresses. The
// channel closes after the final done event. Cancelling ctx ends the
// stream; undelivered events are dropped.
func (a *Agent) ChatStream(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ch := make(chan Event)
	go func() {
		defer close(ch)
		em := &emitter{ctx: ctx, ch: ch}
		if _, err := a.runTurn(ctx, req, em); err != nil {
			em.send(Event{Kind: EventError, Content: err.Error()})
		}
		em.send(Event{Kind: EventDone})
	}()
	return ch, nil
}

func validateRequest(req ChatRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return rcerrors.New(rcerrors.ErrCodeInvalidInput, "chat message is empty", nil)
	}
	return nil
}

func (a *Agent) runTurn(ctx context.Context, req ChatRequest, em *emitter) (*ChatResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	start := time.Now()
	res := &ChatResult{ThreadID: threadID}
	turn := &turnState{}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.TurnDeadline)
	defer cancel()

	err := a.run(ctx, req, threadID, start, res, turn, em)

	rec := telemetry.ChatRecord{
		Timestamp:        start.UTC(),
		UserID:           req.UserID,
		ThreadID:         threadID,
		Method:           turn.method,
		ToolHops:         res.ToolHops,
		Tools:            turn.tools,
		FirstTokenMS:     turn.firstTokenMS,
		TurnMS:           time.Since(start).Milliseconds(),
		PromptTokens:     turn.promptTokens,
		CompletionTokens: turn.completionTokens,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	a.sink.Record(telemetry.KindChat, rec)

	if err != nil {
		a.logger.Error("chat turn failed",
			slog.String("thread_id", threadID),
			slog.Any("error", err))
		return nil, err
	}

	res.Search = turn.search
	a.logger.Info("chat turn complete",
		slog.String("thread_id", threadID),
		slog.Int("tool_hops", res.ToolHops),
		slog.Duration("took", time.Since(start)))
	return res, nil
}

// run is the plan/execute/respond state machine. It mutates res and
// turn; the caller records telemetry either way.
func (a *Agent) run(ctx context.Context, req ChatRequest, threadID string, start time.Time, res *ChatResult, turn *turnState, em *emitter) error {
	history, err := a.memory.Context(ctx, threadID, req.UserID)
	if err != nil {
		return err
	}

	userMsg := llm.UserMessage(req.Message)
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.SystemMessage(a.cfg.SystemPrompt))
	messages = append(messages, history...)
	messages = append(messages, userMsg)

	em.send(Event{Kind: EventUserInput, Content: req.Message})

	// turnMsgs is what AppendTurn persists when the turn completes.
	// Assistant tool requests and their results always land together,
	// so a replayed window never shows a request without its answer.
	turnMsgs := []memory.Message{memory.FromLLM(userMsg)}

	tc := TurnContext{UserID: req.UserID, ThreadID: threadID, Method: req.Method}
	decls := a.tools.Declarations()

	hops := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		comp, tokens, err := a.complete(ctx, llm.Request{Messages: messages, Tools: decls}, em)
		if err != nil {
			return err
		}
		turn.promptTokens += comp.Usage.PromptTokens
		turn.completionTokens += comp.Usage.CompletionTokens

		if !comp.HasToolCalls() {
			turn.firstTokenMS = time.Since(start).Milliseconds()
			for _, tok := range tokens {
				em.send(Event{Kind: EventResponseToken, Content: tok})
			}
			res.Text = comp.Content
			turnMsgs = append(turnMsgs, memory.FromLLM(comp.Message()))
			break
		}

		if hops >= a.cfg.MaxToolHops {
			// The budget is spent and the model asked for more tools
			// anyway. Drop that completion entirely (persisting it
			// would leave tool calls without results) and close the
			// turn with the canned reply.
			a.logger.Warn("tool hop budget exhausted",
				slog.String("thread_id", threadID),
				slog.Int("max_tool_hops", a.cfg.MaxToolHops))
			turn.firstTokenMS = time.Since(start).Milliseconds()
			em.send(Event{Kind: EventResponseToken, Content: hopExhaustedMessage})
			res.Text = hopExhaustedMessage
			turnMsgs = append(turnMsgs, memory.FromLLM(llm.AssistantMessage(hopExhaustedMessage)))
			break
		}
		hops++
		res.ToolHops = hops

		// Content alongside tool calls is the model thinking out loud.
		for _, tok := range tokens {
			em.send(Event{Kind: EventReasoningToken, Content: tok})
		}

		assistant := comp.Message()
		messages = append(messages, assistant)
		turnMsgs = append(turnMsgs, memory.FromLLM(assistant))

		round, err := a.executeRound(ctx, comp.ToolCalls, tc, turn, em)
		if err != nil {
			return err
		}
		messages = append(messages, round.wire...)
		turnMsgs = append(turnMsgs, round.stored...)
	}

	// The answer exists; a client that disconnected right after the
	// last token must not lose the memory write.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.memory.AppendTurn(persistCtx, threadID, req.UserID, turnMsgs); err != nil {
		a.logger.Error("turn not persisted",
			slog.String("thread_id", threadID),
			slog.Any("error", err))
	}
	return nil
}

// complete runs one planning call. Streaming buffers tokens instead of
// emitting them: a token's event kind depends on how the completion
// ends (a completion that requests tools was reasoning, not response),
// which is only known afterwards.
func (a *Agent) complete(ctx context.Context, req llm.Request, em *emitter) (*llm.Completion, []string, error) {
	if !em.live() {
		comp, err := a.llm.Complete(ctx, req)
		return comp, nil, err
	}

	var tokens []string
	comp, err := a.llm.Stream(ctx, req, func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return comp, tokens, nil
}

// toolRound is the paired output of one execution round: the wire
// messages fed back to the model and their stored twins.
type toolRound struct {
	wire   []llm.Message
	stored []memory.Message
}

// executeRound announces the calls in order, runs them in parallel,
// then reports results in the same order. Tool failures are already
// folded into result content by the registry; only context errors
// abort the round.
func (a *Agent) executeRound(ctx context.Context, calls []llm.ToolCall, tc TurnContext, turn *turnState, em *emitter) (toolRound, error) {
	for _, call := range calls {
		turn.tools = append(turn.tools, call.Function.Name)
		em.send(Event{
			Kind: EventToolCall,
			ID:   call.ID,
			Name: call.Function.Name,
			Args: json.RawMessage(call.Function.Arguments),
		})
	}

	outcomes := make([]Outcome, len(calls))
	g := new(errgroup.Group)
	g.SetLimit(maxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = a.tools.Execute(ctx, call, tc)
			return nil
		})
	}
	_ = g.Wait() // executors never fail; failures travel in content

	// A dead turn context means the results have no consumer.
	if err := ctx.Err(); err != nil {
		return toolRound{}, err
	}

	var round toolRound
	for i, call := range calls {
		out := outcomes[i]
		if out.Search != nil {
			turn.search = out.Search
			turn.method = out.Search.Method
		}
		em.send(Event{Kind: EventToolResult, ID: call.ID, Content: out.Content})

		wire := llm.ToolMessage(call.ID, out.Content)
		round.wire = append(round.wire, wire)

		stored := memory.FromLLM(wire)
		stored.ToolName = call.Function.Name
		round.stored = append(round.stored, stored)
	}
	return round, nil
}
