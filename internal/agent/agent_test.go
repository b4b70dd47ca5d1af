package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunianlab/rumahcari/internal/config"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/geo"
	"github.com/hunianlab/rumahcari/internal/llm"
	"github.com/hunianlab/rumahcari/internal/memory"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/internal/telemetry"
)

// scriptedLLM replays a fixed sequence of completions and records
// every planning request it saw.
type scriptedLLM struct {
	mu       sync.Mutex
	steps    []llmStep
	requests []llm.Request
	streams  int
}

type llmStep struct {
	comp *llm.Completion
	err  error
}

func (s *scriptedLLM) next(req llm.Request) llmStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return llmStep{err: rcerrors.New(rcerrors.ErrCodeLLMFailed, "scripted llm is out of steps", nil)}
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	step := s.next(req)
	if step.err != nil {
		return nil, step.err
	}
	return step.comp, nil
}

func (s *scriptedLLM) Stream(ctx context.Context, req llm.Request, onToken func(string) error) (*llm.Completion, error) {
	s.mu.Lock()
	s.streams++
	s.mu.Unlock()

	step := s.next(req)
	if step.err != nil {
		return nil, step.err
	}
	for _, tok := range splitTokens(step.comp.Content) {
		if err := onToken(tok); err != nil {
			return nil, err
		}
	}
	return step.comp, nil
}

func (s *scriptedLLM) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedLLM) request(i int) llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func (s *scriptedLLM) streamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

// splitTokens chunks content the way a provider streams it: word by
// word, separators attached.
func splitTokens(content string) []string {
	if content == "" {
		return nil
	}
	return strings.SplitAfter(content, " ")
}

type fakeConversations struct {
	mu        sync.Mutex
	history   []llm.Message
	ctxErr    error
	appendErr error

	appended [][]memory.Message
	threads  []string
	users    []string
}

func (f *fakeConversations) Context(ctx context.Context, threadID, userID string) ([]llm.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctxErr != nil {
		return nil, f.ctxErr
	}
	return f.history, nil
}

func (f *fakeConversations) AppendTurn(ctx context.Context, threadID, userID string, msgs []memory.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads = append(f.threads, threadID)
	f.users = append(f.users, userID)
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, msgs)
	return nil
}

func (f *fakeConversations) turns() [][]memory.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appended
}

// chatSink captures chat telemetry records.
type chatSink struct {
	mu      sync.Mutex
	records []telemetry.ChatRecord
}

func (s *chatSink) Record(kind telemetry.Kind, record any) {
	if kind != telemetry.KindChat {
		return
	}
	rec, ok := record.(telemetry.ChatRecord)
	if !ok {
		return
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
}

func (s *chatSink) Close() error { return nil }

func (s *chatSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *chatSink) last() telemetry.ChatRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[len(s.records)-1]
}

type agentFixture struct {
	llm      *scriptedLLM
	memory   *fakeConversations
	searcher *fakeSearcher
	fetcher  *fakeFetcher
	know     *fakeKnowledge
	geocoder *fakeGeocoder
	sink     *chatSink
	agent    *Agent
}

func newTestAgent(t *testing.T, steps []llmStep, cfg Config) *agentFixture {
	t.Helper()
	fx := &agentFixture{
		llm:      &scriptedLLM{steps: steps},
		memory:   &fakeConversations{},
		searcher: &fakeSearcher{result: sampleRetrieval()},
		fetcher:  &fakeFetcher{props: map[string]*property.Property{}},
		know:     &fakeKnowledge{},
		geocoder: &fakeGeocoder{point: geo.Point{Lat: 3.5656, Lng: 98.6565}, found: true},
		sink:     &chatSink{},
	}
	reg, err := NewRegistry(fx.searcher, fx.fetcher, fx.know, fx.geocoder, RegistryConfig{}, nil)
	require.NoError(t, err)

	ag, err := NewAgent(Dependencies{
		LLM:    fx.llm,
		Memory: fx.memory,
		Tools:  reg,
		Sink:   fx.sink,
	}, cfg)
	require.NoError(t, err)
	fx.agent = ag
	return fx
}

func textCompletion(content string) *llm.Completion {
	return &llm.Completion{
		Content:      content,
		FinishReason: llm.FinishStop,
		Usage:        llm.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150},
	}
}

func toolCallCompletion(id, name, args string) *llm.Completion {
	return &llm.Completion{
		ToolCalls:    []llm.ToolCall{toolCall(id, name, args)},
		FinishReason: llm.FinishToolCalls,
		Usage:        llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}
}

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("event stream did not close in time")
		}
	}
}

func TestNewAgentRequiresCollaborators(t *testing.T) {
	reg := newTestRegistry(t, nil, nil, nil, nil, RegistryConfig{})
	mem := &fakeConversations{}
	client := &scriptedLLM{}

	tests := []struct {
		name string
		deps Dependencies
	}{
		{"llm", Dependencies{Memory: mem, Tools: reg}},
		{"memory", Dependencies{LLM: client, Tools: reg}},
		{"tools", Dependencies{LLM: client, Memory: mem}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAgent(tt.deps, Config{})
			require.Error(t, err)
			assert.Equal(t, rcerrors.ErrCodeConfigInvalid, rcerrors.GetCode(err))
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultMaxToolHops, cfg.MaxToolHops)
	assert.Equal(t, DefaultTurnDeadline, cfg.TurnDeadline)
	assert.NotEmpty(t, cfg.SystemPrompt)

	app := config.AgentConfig{MaxToolHops: 4, TurnDeadlineMS: 30_000, ToolDeadlineMS: 10_000}
	got := ConfigFrom(app)
	assert.Equal(t, 4, got.MaxToolHops)
	assert.Equal(t, 30*time.Second, got.TurnDeadline)
}

func TestChatAnswersWithoutTools(t *testing.T) {
	fx := newTestAgent(t, []llmStep{
		{comp: textCompletion("Halo! Ada yang bisa saya bantu?")},
	}, Config{})

	res, err := fx.agent.Chat(context.Background(), ChatRequest{Message: "halo", UserID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, "Halo! Ada yang bisa saya bantu?", res.Text)
	assert.NotEmpty(t, res.ThreadID, "a fresh turn gets a generated thread id")
	assert.Zero(t, res.ToolHops)
	assert.Nil(t, res.Search)

	require.Equal(t, 1, fx.llm.requestCount())
	req := fx.llm.request(0)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "halo", req.Messages[1].Content)
	assert.Len(t, req.Tools, 4, "every planning request declares the full tool set")

	turns := fx.memory.turns()
	require.Len(t, turns, 1)
	require.Len(t, turns[0], 2)
	assert.Equal(t, llm.RoleUser, turns[0][0].Role)
	assert.Equal(t, llm.RoleAssistant, turns[0][1].Role)

	rec := fx.sink.last()
	assert.Equal(t, res.ThreadID, rec.ThreadID)
	assert.Zero(t, rec.ToolHops)
	assert.Empty(t, rec.Error)
}

func TestChatRunsSearchToolAndAnswers(t *testing.T) {
	fx := newTestAgent(t, []llmStep{
		{comp: toolCallCompletion("call_1", ToolSearchProperties, `{"property_type":"rumah","price_max":2000000000}`)},
		{comp: textCompletion("Saya menemukan Rumah cantik Taman Setiabudi seharga 1,5 miliar.")},
	}, Config{})

	res, err := fx.agent.Chat(context.Background(),
		ChatRequest{Message: "cari rumah di Medan maksimal 2M", UserID: "u-7"})
	require.NoError(t, err)

	assert.Equal(t, "Saya menemukan Rumah cantik Taman Setiabudi seharga 1,5 miliar.", res.Text)
	assert.Equal(t, 1, res.ToolHops)
	require.NotNil(t, res.Search)
	assert.Equal(t, "HYBRID(w=0.60)", res.Search.Method)
	assert.Equal(t, 37, res.Search.TotalFound)
	assert.Equal(t, 1, res.Search.Returned)
	assert.True(t, res.Search.HasMore)

	// The second planning request sees the tool request and its result
	// as an adjacent pair.
	require.Equal(t, 2, fx.llm.requestCount())
	msgs := fx.llm.request(1).Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, llm.RoleTool, msgs[3].Role)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
	assert.Contains(t, msgs[3].Content, "rumah-taman-setiabudi-41")

	// Persisted turn: user, tool request, tool result, final answer.
	turns := fx.memory.turns()
	require.Len(t, turns, 1)
	require.Len(t, turns[0], 4)
	assert.Equal(t, llm.RoleUser, turns[0][0].Role)
	assert.Equal(t, llm.RoleAssistant, turns[0][1].Role)
	require.Len(t, turns[0][1].ToolCalls, 1)
	assert.Equal(t, llm.RoleTool, turns[0][2].Role)
	assert.Equal(t, "call_1", turns[0][2].ToolCallID)
	assert.Equal(t, ToolSearchProperties, turns[0][2].ToolName)
	assert.Equal(t, llm.RoleAssistant, turns[0][3].Role)

	rec := fx.sink.last()
	assert.Equal(t, 1, rec.ToolHops)
	assert.Equal(t, []string{ToolSearchProperties}, rec.Tools)
	assert.Equal(t, "HYBRID(w=0.60)", rec.Method)
	assert.Equal(t, 220, rec.PromptTokens)
	assert.Equal(t, 50, rec.CompletionTokens)
	assert.Empty(t, rec.Error)
}

func TestChatParallelRoundKeepsResultOrder(t *testing.T) {
	planning := &llm.Completion{
		ToolCalls: []llm.ToolCall{
			toolCall("call_1", ToolSearchProperties, `{"property_type":"rumah"}`),
			toolCall("call_2", ToolGeocode, `{"place":"USU"}`),
		},
		FinishReason: llm.FinishToolCalls,
		Usage:        llm.Usage{PromptTokens: 100, CompletionTokens: 25},
	}
	fx := newTestAgent(t, []llmStep{{comp: planning}, {comp: textCompletion("Selesai.")}}, Config{})
	// The search outlives the geocode; results must still come back in
	// call order.
	fx.searcher.delay = 50 * time.Millisecond

	res, err := fx.agent.Chat(context.Background(),
		ChatRequest{Message: "rumah dekat USU"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ToolHops, "one round is one hop regardless of call count")

	msgs := fx.llm.request(1).Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
	assert.Contains(t, msgs[3].Content, "Found 37")
	assert.Equal(t, "call_2", msgs[4].ToolCallID)
	assert.Contains(t, msgs[4].Content, `"lat":3.5656`)

	assert.Equal(t, []string{ToolSearchProperties, ToolGeocode}, fx.sink.last().Tools)
}

func TestChatHopBudgetCompletesAtCeiling(t *testing.T) {
	fx := newTestAgent(t, []llmStep{
		{comp: toolCallCompletion("call_1", ToolSearchProperties, `{"property_type":"rumah"}`)},
		{comp: toolCallCompletion("call_2", ToolSearchProperties, `{"property_type":"ruko"}`)},
		{comp: textCompletion("Ini hasil dua pencarian terbaik.")},
	}, Config{MaxToolHops: 2})

	res, err := fx.agent.Chat(context.Background(), ChatRequest{Message: "bandingkan rumah dan ruko"})
	require.NoError(t, err)

	assert.Equal(t, "Ini hasil dua pencarian terbaik.", res.Text)
	assert.Equal(t, 2, res.ToolHops, "hitting the ceiling exactly still completes normally")
	assert.Equal(t, 3, fx.llm.requestCount())
	assert.Equal(t, 2, fx.searcher.calls())
	assert.Empty(t, fx.sink.last().Error)
}

func TestChatHopBudgetForcesFixedReply(t *testing.T) {
	fx := newTestAgent(t, []llmStep{
		{comp: toolCallCompletion("call_1", ToolSearchProperties, `{"property_type":"rumah"}`)},
		{comp: toolCallCompletion("call_2", ToolSearchProperties, `{"property_type":"ruko"}`)},
		{comp: toolCallCompletion("call_3", ToolSearchProperties, `{"property_type":"villa"}`)},
	}, Config{MaxToolHops: 2})

	res, err := fx.agent.Chat(context.Background(), ChatRequest{Message: "terus cari sampai ketemu"})
	require.NoError(t, err, "hop exhaustion is a normal response, not a failure")

	assert.Equal(t, hopExhaustedMessage, res.Text)
	assert.Equal(t, 2, res.ToolHops)
	assert.Equal(t, 3, fx.llm.requestCount())
	assert.Equal(t, 2, fx.searcher.calls(), "the over-budget round must not execute")

	// The discarded third request never reaches the log: the last
	// stored message is the canned reply, with no dangling tool calls.
	turns := fx.memory.turns()
	require.Len(t, turns, 1)
	msgs := turns[0]
	require.Len(t, msgs, 6)
	last := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleAssistant, last.Role)
	assert.Equal(t, hopExhaustedMessage, last.Content)
	assert.Empty(t, last.ToolCalls)

	assert.Empty(t, fx.sink.last().Error)
}

func TestChatToolFailureStaysInsideTurn(t *testing.T) {
	fx := newTestAgent(t, []llmStep{
		{comp: toolCallCompletion("call_1", ToolSearchProperties, `{"property_type":"rumah"}`)},
		{comp: textCompletion("Maaf, pencarian sedang gangguan. Coba lagi sebentar lagi.")},
	}, Config{})
	fx.searcher.err = rcerrors.New(rcerrors.ErrCodeUpstreamUnavailable, "property backend is down", nil)

	res, err := fx.agent.Chat(context.Background(), ChatRequest{Message: "cari rumah"})
	require.NoError(t, err, "a failing tool is reported to the model, not to the caller")

	msgs := fx.llm.request(1).Messages
	toolMsg := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, "Search failed")
	assert.Contains(t, toolMsg.Content, "property backend is down")

	assert.Equal(t, "Maaf, pencarian sedang gangguan. Coba lagi sebentar lagi.", res.Text)
	assert.Empty(t, fx.sink.last().Error)
}

func TestChatClarificationSkipsRetrieval(t *testing.T) {
	fx := newTestAgent(t, []llmStep{
		{comp: toolCallCompletion("call_1", ToolSearchProperties, `{"price":"murah"}`)},
		{comp: textCompletion("Berapa kisaran harga yang Anda maksud dengan murah?")},
	}, Config{})

	res, err := fx.agent.Chat(context.Background(), ChatRequest{Message: "cari yang murah"})
	require.NoError(t, err)

	assert.Zero(t, fx.searcher.calls(), "ambiguous criteria never reach the retriever")
	msgs := fx.llm.request(1).Messages
	assert.Contains(t, msgs[len(msgs)-1].Content, "Search not executed")
	assert.Nil(t, res.Search)
}

func TestChatForwardsMethodOverride(t *testing.T) {
	fx := newTestAgent(t, []llmStep{
		{comp: toolCallCompletion("call_1", ToolSearchProperties, `{"property_type":"rumah"}`)},
		{comp: textCompletion("Oke, pakai pencarian vektor.")},
	}, Config{})

	res, err := fx.agent.Chat(context.Background(), ChatRequest{
		Message: "cari rumah asri",
		UserID:  "u-7",
		Method:  property.VectorOnly(),
	})
	require.NoError(t, err)

	opts := fx.searcher.lastOpts()
	assert.Equal(t, property.VectorOnly(), opts.Method)
	assert.Equal(t, "u-7", opts.UserID)
	assert.Equal(t, res.ThreadID, opts.ThreadID)
}

func TestChatUsesThreadHistory(t *testing.T) {
	fx := newTestAgent(t, []llmStep{{comp: textCompletion("Yang kedua ruko di Ringroad.")}}, Config{})
	fx.memory.history = []llm.Message{
		llm.UserMessage("cari ruko"),
		llm.AssistantMessage("Ditemukan 3 ruko."),
	}

	res, err := fx.agent.Chat(context.Background(),
		ChatRequest{Message: "yang kedua yang mana?", ThreadID: "thread-9"})
	require.NoError(t, err)
	assert.Equal(t, "thread-9", res.ThreadID)

	msgs := fx.llm.request(0).Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "cari ruko", msgs[1].Content)
	assert.Equal(t, "Ditemukan 3 ruko.", msgs[2].Content)
	assert.Equal(t, "yang kedua yang mana?", msgs[3].Content)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	fx := newTestAgent(t, nil, Config{})

	_, err := fx.agent.Chat(context.Background(), ChatRequest{Message: "   "})
	require.Error(t, err)
	assert.Equal(t, rcerrors.ErrCodeInvalidInput, rcerrors.GetCode(err))
	assert.Zero(t, fx.llm.requestCount())
	assert.Zero(t, fx.sink.count(), "rejected input is not a turn")
}

func TestChatLLMFailureIsRecorded(t *testing.T) {
	fx := newTestAgent(t, []llmStep{
		{err: rcerrors.New(rcerrors.ErrCodeLLMFailed, "provider exploded", nil)},
	}, Config{})

	_, err := fx.agent.Chat(context.Background(), ChatRequest{Message: "halo"})
	require.Error(t, err)
	assert.True(t, rcerrors.IsKind(err, rcerrors.KindUpstreamUnavailable))

	assert.Empty(t, fx.memory.turns(), "failed turns leave no memory")
	rec := fx.sink.last()
	assert.Contains(t, rec.Error, "provider exploded")
}

func TestChatMemoryReadFailureFailsTurn(t *testing.T) {
	fx := newTestAgent(t, []llmStep{{comp: textCompletion("tidak sampai sini")}}, Config{})
	fx.memory.ctxErr = rcerrors.New(rcerrors.ErrCodeMemoryStore, "conversation db is corrupt", nil)

	_, err := fx.agent.Chat(context.Background(), ChatRequest{Message: "halo", ThreadID: "thread-1"})
	require.Error(t, err)
	assert.Zero(t, fx.llm.requestCount(), "no planning without context")
	assert.Contains(t, fx.sink.last().Error, "conversation db is corrupt")
}

func TestChatPersistFailureStillAnswers(t *testing.T) {
	fx := newTestAgent(t, []llmStep{{comp: textCompletion("Jawaban tetap sampai.")}}, Config{})
	fx.memory.appendErr = rcerrors.New(rcerrors.ErrCodeMemoryStore, "disk gone", nil)

	res, err := fx.agent.Chat(context.Background(), ChatRequest{Message: "halo"})
	require.NoError(t, err, "the computed answer is worth more than the log write")
	assert.Equal(t, "Jawaban tetap sampai.", res.Text)
	assert.Empty(t, fx.sink.last().Error)
}

func TestChatTurnDeadlineAbortsMidTool(t *testing.T) {
	fx := newTestAgent(t, []llmStep{
		{comp: toolCallCompletion("call_1", ToolSearchProperties, `{"property_type":"rumah"}`)},
	}, Config{TurnDeadline: 40 * time.Millisecond})
	fx.searcher.delay = 400 * time.Millisecond

	_, err := fx.agent.Chat(context.Background(), ChatRequest{Message: "cari rumah"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, fx.memory.turns(), "an aborted turn persists nothing")
	assert.NotEmpty(t, fx.sink.last().Error)
}

func TestChatStreamEmitsOrderedEvents(t *testing.T) {
	planning := &llm.Completion{
		Content:      "Sebentar, saya cari dulu.",
		ToolCalls:    []llm.ToolCall{toolCall("call_1", ToolSearchProperties, `{"property_type":"rumah"}`)},
		FinishReason: llm.FinishToolCalls,
		Usage:        llm.Usage{PromptTokens: 90, CompletionTokens: 15},
	}
	fx := newTestAgent(t, []llmStep{{comp: planning}, {comp: textCompletion("Ini dia.")}}, Config{})

	ch, err := fx.agent.ChatStream(context.Background(), ChatRequest{Message: "cari rumah"})
	require.NoError(t, err)
	events := collectEvents(t, ch)

	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []EventKind{
		EventUserInput,
		EventReasoningToken, EventReasoningToken, EventReasoningToken, EventReasoningToken,
		EventToolCall,
		EventToolResult,
		EventResponseToken, EventResponseToken,
		EventDone,
	}, kinds)

	var reasoning, response strings.Builder
	for _, ev := range events {
		switch ev.Kind {
		case EventReasoningToken:
			reasoning.WriteString(ev.Content)
		case EventResponseToken:
			response.WriteString(ev.Content)
		}
	}
	assert.Equal(t, "Sebentar, saya cari dulu.", reasoning.String())
	assert.Equal(t, "Ini dia.", response.String())

	callEv := events[5]
	assert.Equal(t, ToolSearchProperties, callEv.Name)
	assert.Equal(t, "call_1", callEv.ID)
	assert.JSONEq(t, `{"property_type":"rumah"}`, string(callEv.Args))

	resultEv := events[6]
	assert.Equal(t, "call_1", resultEv.ID)
	assert.Contains(t, resultEv.Content, "rumah-taman-setiabudi-41")

	assert.Equal(t, 2, fx.llm.streamCount(), "streamed turns plan through the streaming surface")
}

func TestChatStreamEmitsErrorThenDone(t *testing.T) {
	fx := newTestAgent(t, []llmStep{
		{err: rcerrors.New(rcerrors.ErrCodeLLMFailed, "provider exploded", nil)},
	}, Config{})

	ch, err := fx.agent.ChatStream(context.Background(), ChatRequest{Message: "halo"})
	require.NoError(t, err)
	events := collectEvents(t, ch)

	require.Len(t, events, 3)
	assert.Equal(t, EventUserInput, events[0].Kind)
	assert.Equal(t, EventError, events[1].Kind)
	assert.Contains(t, events[1].Content, "provider exploded")
	assert.Equal(t, EventDone, events[2].Kind)
}

func TestChatStreamRejectsEmptyMessage(t *testing.T) {
	fx := newTestAgent(t, nil, Config{})

	ch, err := fx.agent.ChatStream(context.Background(), ChatRequest{Message: " "})
	require.Error(t, err)
	assert.Nil(t, ch)
	assert.Equal(t, rcerrors.ErrCodeInvalidInput, rcerrors.GetCode(err))
}

func TestChatStreamStopsWhenConsumerGone(t *testing.T) {
	fx := newTestAgent(t, []llmStep{{comp: textCompletion("Halo.")}}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := fx.agent.ChatStream(ctx, ChatRequest{Message: "halo"})
	require.NoError(t, err)
	events := collectEvents(t, ch)

	assert.Empty(t, events, "a dead consumer receives nothing")
	assert.Empty(t, fx.memory.turns())
}
