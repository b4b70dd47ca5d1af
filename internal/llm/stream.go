package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

const (
	streamDataPrefix = "data: "
	streamDone       = "[DONE]"

	// maxStreamLine caps one SSE data line. Tool-call argument fragments
	// are small, but a provider may flush a whole completion in one line.
	maxStreamLine = 1024 * 1024
)

// chatStreamChunk is one streamed wire event.
type chatStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta        streamDelta `json:"delta"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// streamDelta is the incremental message fragment in one chunk.
type streamDelta struct {
	Content   string          `json:"content"`
	ToolCalls []toolCallDelta `json:"tool_calls"`
}

// toolCallDelta is a tool-call fragment. The first fragment for an index
// carries id, type and the function name; later fragments extend the
// arguments string.
type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// toolCallAssembler merges tool-call fragments by index.
type toolCallAssembler struct {
	calls []ToolCall
}

func (a *toolCallAssembler) apply(d toolCallDelta) {
	for len(a.calls) <= d.Index {
		a.calls = append(a.calls, ToolCall{})
	}
	tc := &a.calls[d.Index]
	if d.ID != "" {
		tc.ID = d.ID
	}
	if d.Type != "" {
		tc.Type = d.Type
	}
	if d.Function.Name != "" {
		tc.Function.Name = d.Function.Name
	}
	tc.Function.Arguments += d.Function.Arguments
}

// Stream performs one streaming completion call. Content tokens are
// delivered through onToken as they arrive; tool calls are assembled
// from their fragments and returned on the final Completion. A non-nil
// error from onToken aborts the stream and is returned unchanged.
//
// Connection setup retries per the configured policy; once the stream
// is open a failure surfaces immediately, because replaying a partially
// delivered stream would duplicate tokens downstream.
func (c *Client) Stream(ctx context.Context, req Request, onToken func(token string) error) (*Completion, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	wire := c.wireRequest(req, true)
	resp, err := rcerrors.RetryWithResult(ctx, c.cfg.Retry, func() (*http.Response, error) {
		return c.post(reqCtx, ctx, wire)
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return c.readStream(reqCtx, ctx, resp, onToken)
}

func (c *Client) readStream(reqCtx, callerCtx context.Context, resp *http.Response, onToken func(string) error) (*Completion, error) {
	var (
		content      strings.Builder
		tools        toolCallAssembler
		finishReason string
		model        string
		usage        Usage
		done         bool
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, streamDataPrefix) {
			continue
		}
		payload := strings.TrimPrefix(line, streamDataPrefix)
		if payload == streamDone {
			done = true
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, rcerrors.New(rcerrors.ErrCodeLLMFailed, "malformed stream chunk", err)
		}
		if chunk.Error != nil {
			return nil, rcerrors.Newf(rcerrors.ErrCodeLLMFailed, "llm stream error: %s", chunk.Error.Message)
		}
		if chunk.Model != "" && model == "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		for _, d := range choice.Delta.ToolCalls {
			tools.apply(d)
		}
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if onToken != nil {
				if err := onToken(choice.Delta.Content); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if reqCtx.Err() == context.DeadlineExceeded && callerCtx.Err() == nil {
			return nil, rcerrors.New(rcerrors.ErrCodeUpstreamTimeout,
				fmt.Sprintf("llm stream timed out after %s", c.cfg.Timeout), err)
		}
		return nil, rcerrors.New(rcerrors.ErrCodeLLMFailed, "llm stream interrupted", err)
	}
	if !done && finishReason == "" {
		return nil, rcerrors.New(rcerrors.ErrCodeLLMFailed, "llm stream ended without completion", nil)
	}

	return &Completion{
		Content:      content.String(),
		ToolCalls:    tools.calls,
		FinishReason: finishReason,
		Model:        model,
		Usage:        usage,
	}, nil
}
