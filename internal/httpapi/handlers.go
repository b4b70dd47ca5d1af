package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hunianlab/rumahcari/internal/agent"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/property"
	"github.com/hunianlab/rumahcari/pkg/version"
)

// chatPayload is the wire shape of POST /chat and POST /chat/stream.
type chatPayload struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	// Method overrides retrieval for this turn: hybrid, api_only, or
	// vector_only. Empty keeps the configured routing.
	Method string `json:"method,omitempty"`
}

type chatMetadata struct {
	MethodUsed string `json:"method_used"`
	TotalFound int    `json:"total_found"`
	Returned   int    `json:"returned"`
	HasMore    bool   `json:"has_more"`
}

type chatResponse struct {
	Response  string        `json:"response"`
	SessionID string        `json:"session_id"`
	Metadata  *chatMetadata `json:"metadata,omitempty"`
}

func parseChatRequest(w http.ResponseWriter, r *http.Request) (agent.ChatRequest, error) {
	var req agent.ChatRequest

	body := http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	var in chatPayload
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		return req, rcerrors.BadRequest("request body is not valid JSON: " + err.Error())
	}
	if strings.TrimSpace(in.Message) == "" {
		return req, rcerrors.BadRequest("message is required")
	}

	req = agent.ChatRequest{
		Message:  in.Message,
		ThreadID: in.SessionID,
		UserID:   in.UserID,
	}
	if in.Method != "" {
		m, err := property.ParseMethod(in.Method)
		if err != nil {
			return req, rcerrors.BadRequest(fmt.Sprintf(
				"unknown method %q: use hybrid, api_only, or vector_only", in.Method))
		}
		req.Method = m
	}
	return req, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := parseChatRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.chatter.Chat(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := chatResponse{
		Response:  res.Text,
		SessionID: res.ThreadID,
	}
	if res.Search != nil {
		out.Metadata = &chatMetadata{
			MethodUsed: res.Search.Method,
			TotalFound: res.Search.TotalFound,
			Returned:   res.Search.Returned,
			HasMore:    res.Search.HasMore,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleChatStream runs one turn over SSE. Every agent event becomes
// one SSE event named by its kind; a failing turn ends with error then
// done, exactly like the in-process stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, rcerrors.New(rcerrors.ErrCodeInternal,
			"streaming is not supported by this connection", nil))
		return
	}

	req, err := parseChatRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	events, err := s.chatter.ChatStream(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			// Client went away; the agent drops undelivered events.
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev agent.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Version:     version.Short(),
		Environment: s.cfg.Environment,
	})
}

type methodInfo struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type methodsResponse struct {
	Default string       `json:"default"`
	Methods []methodInfo `json:"methods"`
}

func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, methodsResponse{
		Default: s.cfg.DefaultMethod,
		Methods: []methodInfo{
			{
				Name:        "hybrid",
				Label:       property.Hybrid(0).String(),
				Description: "Structured backend filters blended with semantic re-ranking. Best default for vague or mixed queries.",
			},
			{
				Name:        "api_only",
				Label:       property.StructuredOnly().String(),
				Description: "Structured backend filters only, in backend order. Fastest; no semantic understanding.",
			},
			{
				Name:        "vector_only",
				Label:       property.VectorOnly().String(),
				Description: "Pure embedding similarity over the vector index. Requires a non-empty query.",
			},
		},
	})
}
