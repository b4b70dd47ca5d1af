// Package memory persists per-thread conversation logs and assembles
// the context window for chat turns: an optional running summary
// followed by the most recent messages, with orphaned tool replies
// repaired out. Long conversations fold their older tail into the
// summary through the LLM.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/llm"
)

const (
	// DefaultWindow is how many recent messages a turn sees verbatim.
	DefaultWindow = 20

	// DefaultSummarizeThreshold is how many unsummarized messages a
	// conversation accumulates before the older tail folds into the
	// summary.
	DefaultSummarizeThreshold = 50

	// summaryContentLimit caps per-message content handed to the
	// summarizer. Tool results can carry whole listing payloads.
	summaryContentLimit = 1500
)

const summarySystemPrompt = `You condense property-search conversations. Write a compact summary that preserves:
- the user's search criteria (budget, location, property type, bedrooms, certificate, and similar constraints)
- properties discussed, by name or address, and the user's reaction to each
- decisions made and preferences stated
- questions that remain unanswered

Merge the previous summary with the new messages into one summary. Reply in the language the conversation uses. Reply with the summary only.`

// Summarizer is the LLM surface the manager needs. *llm.Client
// satisfies it.
type Summarizer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// ManagerConfig tunes context assembly and summarization.
type ManagerConfig struct {
	// Window is the number of recent messages returned verbatim.
	Window int

	// SummarizeThreshold triggers summarization once exceeded by the
	// unsummarized message count.
	SummarizeThreshold int

	// Compact deletes messages once the summary covers them.
	Compact bool

	// SummaryModel overrides the client's default model for summary
	// calls. Empty keeps the default.
	SummaryModel string
}

// Manager layers context assembly and auto-summarization over a Store.
type Manager struct {
	store  *Store
	llm    Summarizer
	cfg    ManagerConfig
	logger *slog.Logger
}

// NewManager wires a manager. summarizer may be nil, which disables
// auto-summarization but leaves append and context assembly working.
func NewManager(store *Store, summarizer Summarizer, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SummarizeThreshold <= 0 {
		cfg.SummarizeThreshold = DefaultSummarizeThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, llm: summarizer, cfg: cfg, logger: logger}
}

// Store exposes the underlying store for listing and deletion commands.
func (m *Manager) Store() *Store {
	return m.store
}

// Context assembles the prompt history for the next turn: the running
// summary as a system message when present, then the last Window
// messages in order. Returns nil for an unknown thread.
func (m *Manager) Context(ctx context.Context, threadID, userID string) ([]llm.Message, error) {
	if userID == "" {
		m.logger.Warn("anonymous conversation access", "thread_id", threadID)
	}

	conv, err := m.store.Conversation(ctx, threadID, userID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}

	msgs, err := m.store.LastMessages(ctx, threadID, userID, m.cfg.Window)
	if err != nil {
		return nil, err
	}

	kept, dropped := repairSequence(msgs)
	if dropped > 0 {
		m.logger.Warn("dropped tool messages without a matching tool call",
			"thread_id", threadID, "dropped", dropped)
	}

	out := make([]llm.Message, 0, len(kept)+1)
	if conv.Summary != "" {
		out = append(out, llm.SystemMessage("Summary of the conversation so far:\n"+conv.Summary))
	}
	for _, msg := range kept {
		out = append(out, msg.ToLLM())
	}
	return out, nil
}

// AppendTurn commits the turn's messages and then, if the conversation
// has grown past the threshold, folds its older tail into the summary.
// Summarization failure is logged, not returned: the turn is already
// durable.
func (m *Manager) AppendTurn(ctx context.Context, threadID, userID string, msgs []Message) error {
	if userID == "" {
		m.logger.Warn("anonymous conversation write", "thread_id", threadID)
	}

	if err := m.store.Append(ctx, threadID, userID, msgs); err != nil {
		return err
	}

	if m.llm == nil {
		return nil
	}
	if err := m.maybeSummarize(ctx, threadID, userID); err != nil {
		m.logger.Warn("conversation summarization failed",
			"thread_id", threadID, "error", err)
	}
	return nil
}

// maybeSummarize folds messages older than the window into the summary
// once more than SummarizeThreshold unsummarized messages exist. The
// window itself is never summarized, so recent turns always appear
// verbatim.
func (m *Manager) maybeSummarize(ctx context.Context, threadID, userID string) error {
	conv, err := m.store.Conversation(ctx, threadID, userID)
	if err != nil {
		return err
	}
	if conv == nil {
		return nil
	}

	// Sequences are dense above summary_through, so the difference is
	// the unsummarized count.
	unsummarized := conv.MaxSequence - conv.SummaryThrough
	if unsummarized <= int64(m.cfg.SummarizeThreshold) {
		return nil
	}

	through := conv.MaxSequence - int64(m.cfg.Window)
	if through <= conv.SummaryThrough {
		return nil
	}

	tail, err := m.store.MessagesBetween(ctx, threadID, userID, conv.SummaryThrough, through)
	if err != nil {
		return err
	}
	if len(tail) == 0 {
		return nil
	}

	summary, err := m.summarize(ctx, conv.Summary, tail)
	if err != nil {
		return err
	}

	if err := m.store.ReplaceSummary(ctx, threadID, userID, summary, through, m.cfg.Compact); err != nil {
		return err
	}
	m.logger.Info("conversation summarized",
		"thread_id", threadID, "through", through, "folded", len(tail), "compact", m.cfg.Compact)
	return nil
}

// Summarize folds everything older than the window into the summary
// regardless of the threshold. The compact command uses it to shrink
// long-lived threads on demand.
func (m *Manager) Summarize(ctx context.Context, threadID, userID string, compact bool) (string, error) {
	if m.llm == nil {
		return "", rcerrors.New(rcerrors.ErrCodeConfigInvalid,
			"summarization requires an LLM provider", nil)
	}

	conv, err := m.store.Conversation(ctx, threadID, userID)
	if err != nil {
		return "", err
	}
	if conv == nil {
		return "", rcerrors.Newf(rcerrors.ErrCodeInvalidInput, "unknown thread %q", threadID)
	}

	through := conv.MaxSequence - int64(m.cfg.Window)
	if through <= conv.SummaryThrough {
		return conv.Summary, nil
	}

	tail, err := m.store.MessagesBetween(ctx, threadID, userID, conv.SummaryThrough, through)
	if err != nil {
		return "", err
	}
	if len(tail) == 0 {
		return conv.Summary, nil
	}

	summary, err := m.summarize(ctx, conv.Summary, tail)
	if err != nil {
		return "", err
	}
	if err := m.store.ReplaceSummary(ctx, threadID, userID, summary, through, compact); err != nil {
		return "", err
	}
	return summary, nil
}

func (m *Manager) summarize(ctx context.Context, existing string, tail []Message) (string, error) {
	var b strings.Builder
	if existing != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(existing)
		b.WriteString("\n\n")
	}
	b.WriteString("New messages to fold in:\n")
	for _, msg := range tail {
		b.WriteString(renderForSummary(msg))
		b.WriteByte('\n')
	}

	req := llm.Request{
		Model: m.cfg.SummaryModel,
		Messages: []llm.Message{
			llm.SystemMessage(summarySystemPrompt),
			llm.UserMessage(b.String()),
		},
	}
	comp, err := m.llm.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(comp.Content)
	if summary == "" {
		return "", rcerrors.New(rcerrors.ErrCodeLLMFailed, "summarizer returned empty content", nil)
	}
	return summary, nil
}

// renderForSummary flattens one message into a line of summarizer
// input.
func renderForSummary(msg Message) string {
	content := truncate(strings.TrimSpace(msg.Content), summaryContentLimit)
	switch {
	case msg.Role == llm.RoleTool:
		name := msg.ToolName
		if name == "" {
			name = "tool"
		}
		return fmt.Sprintf("tool(%s): %s", name, content)
	case msg.Role == llm.RoleAssistant && content == "" && len(msg.ToolCalls) > 0:
		names := make([]string, 0, len(msg.ToolCalls))
		for _, call := range msg.ToolCalls {
			names = append(names, call.Function.Name)
		}
		return fmt.Sprintf("assistant: [called %s]", strings.Join(names, ", "))
	default:
		return fmt.Sprintf("%s: %s", msg.Role, content)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// repairSequence drops tool messages whose tool_call_id has no matching
// call on a retained assistant message. This covers windows that slice
// mid-turn, where leading tool replies lost their parent.
func repairSequence(msgs []Message) (kept []Message, dropped int) {
	known := make(map[string]bool)
	for _, msg := range msgs {
		if msg.Role == llm.RoleAssistant {
			for _, call := range msg.ToolCalls {
				known[call.ID] = true
			}
		}
	}

	kept = make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == llm.RoleTool && !known[msg.ToolCallID] {
			dropped++
			continue
		}
		kept = append(kept, msg)
	}
	return kept, dropped
}
