package agent

import (
	"context"
	"encoding/json"
)

// EventKind names one event in a streamed chat turn.
type EventKind string

// Stream event kinds, in the order a turn emits them: the echoed user
// input, interleaved reasoning and tool events while the loop runs,
// the response tokens, then exactly one done. A failed turn emits
// error before done.
const (
	EventUserInput      EventKind = "user_input"
	EventReasoningToken EventKind = "reasoning_token"
	EventToolCall       EventKind = "tool_call"
	EventToolResult     EventKind = "tool_result"
	EventResponseToken  EventKind = "response_token"
	EventDone           EventKind = "done"
	EventError          EventKind = "error"
)

// Event is one streamed chat event. Kind decides which fields are set:
// tool_call carries ID, Name and Args; tool_result carries ID and
// Content; the token and error kinds carry Content alone.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Content string          `json:"content,omitempty"`
	Name    string          `json:"name,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	ID      string          `json:"id,omitempty"`
}

// emitter delivers events to the stream consumer, dropping them once
// the consumer's context ends. A nil emitter discards everything,
// which is how the non-streaming path runs the same loop.
type emitter struct {
	ctx context.Context
	ch  chan<- Event
}

func (e *emitter) live() bool {
	return e != nil && e.ch != nil
}

func (e *emitter) send(ev Event) {
	if !e.live() {
		return
	}
	select {
	case e.ch <- ev:
	case <-e.ctx.Done():
	}
}
