// Package llm provides an OpenAI-compatible chat-completion client with
// function calling and token streaming. Any endpoint implementing
// POST {base_url}/chat/completions works: OpenAI itself, Ollama's v1
// shim, vLLM, LM Studio.
package llm

import "encoding/json"

// Message roles on the chat-completions wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons reported by the provider.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// Message is one chat message. The same shape serves requests and
// responses: an assistant message may carry ToolCalls, and a tool
// message answers one of them via ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message with plain content.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolMessage builds the reply to one tool call. Content is the
// serialized tool result.
func ToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: content}
}

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool declares one callable function to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a function the model may call. Parameters is a
// JSON Schema object.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// NewTool builds a function tool declaration.
func NewTool(name, description string, parameters json.RawMessage) Tool {
	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// Request is one completion call. Zero-valued fields fall back to the
// client's configured defaults.
type Request struct {
	// Model overrides the configured default, e.g. for summarization.
	Model string

	Messages []Message

	// Tools the model may call this turn. Empty disables tool calling.
	Tools []Tool

	// Temperature overrides the configured default when non-nil.
	Temperature *float64

	// MaxTokens overrides the configured default when positive.
	MaxTokens int
}

// Usage is the provider-reported token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the assembled result of one completion call, streamed
// or not.
type Completion struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Model        string
	Usage        Usage
}

// Message converts the completion into the assistant message to append
// to the conversation history.
func (c *Completion) Message() Message {
	return Message{
		Role:      RoleAssistant,
		Content:   c.Content,
		ToolCalls: c.ToolCalls,
	}
}

// HasToolCalls reports whether the model requested tool execution.
func (c *Completion) HasToolCalls() bool {
	return len(c.ToolCalls) > 0
}

// chatRequest is the chat-completions wire request.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// chatResponse is the non-streaming wire response.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}
