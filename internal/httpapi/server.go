// Package httpapi is the public HTTP surface: chat, chat streaming
// over SSE, health, and retrieval-method discovery. Handlers translate
// between the wire and the agent; no retrieval logic lives here.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hunianlab/rumahcari/internal/agent"
	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// Chatter is the conversational surface the API fronts. *agent.Agent
// satisfies it.
type Chatter interface {
	Chat(ctx context.Context, req agent.ChatRequest) (*agent.ChatResult, error)
	ChatStream(ctx context.Context, req agent.ChatRequest) (<-chan agent.Event, error)
}

const (
	// DefaultShutdownTimeout bounds the drain of in-flight requests.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultHeartbeat keeps idle SSE connections alive through
	// proxies that cut silent streams.
	DefaultHeartbeat = 15 * time.Second

	// maxChatBodyBytes caps one chat request body.
	maxChatBodyBytes = 1 << 20
)

// Config tunes the server.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8080".
	Addr string

	// Environment is reported by /health.
	Environment string

	// DefaultMethod is the routing default reported by /methods.
	DefaultMethod string

	// PidFile, when set, is written on start and removed on stop. A
	// live PID there refuses the start.
	PidFile string

	// Pprof mounts /debug/pprof on the same listener.
	Pprof bool

	ShutdownTimeout time.Duration
	Heartbeat       time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.DefaultMethod == "" {
		c.DefaultMethod = "hybrid"
	}
	return c
}

// Server owns the router and the HTTP listener lifecycle.
type Server struct {
	chatter Chatter
	logger  *slog.Logger
	cfg     Config

	http *http.Server
	pid  *PIDFile
}

// NewServer wires the routes. The chatter is required.
func NewServer(chatter Chatter, cfg Config, logger *slog.Logger) (*Server, error) {
	if chatter == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeConfigInvalid, "http server requires a chat agent", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		chatter: chatter,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.cfg.PidFile != "" {
		s.pid = NewPIDFile(s.cfg.PidFile)
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/methods", s.handleMethods)
	r.Post("/chat", s.handleChat)
	r.Post("/chat/stream", s.handleChatStream)

	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// Handler exposes the router, mainly for tests driving the API with
// httptest.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe runs the server until ctx is canceled, then drains
// in-flight requests within the shutdown timeout. The PID file, when
// configured, brackets the whole lifetime.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.pid != nil {
		if s.pid.IsRunning() {
			pid, _ := s.pid.Read()
			return rcerrors.Newf(rcerrors.ErrCodeConfigInvalid,
				"server already running with pid %d (pidfile %s)", pid, s.pid.Path())
		}
		if err := s.pid.Write(); err != nil {
			return rcerrors.New(rcerrors.ErrCodeFilePermission, "cannot write pid file", err)
		}
		defer func() {
			if err := s.pid.Remove(); err != nil {
				s.logger.Warn("pid file removal failed", slog.Any("error", err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	s.logger.Info("http server listening",
		slog.String("addr", s.cfg.Addr),
		slog.Bool("pprof", s.cfg.Pprof))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return rcerrors.Wrap(rcerrors.ErrCodeInternal, err)
	case <-ctx.Done():
	}

	s.logger.Info("http server draining", slog.Duration("timeout", s.cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.http.Close()
		return rcerrors.Wrap(rcerrors.ErrCodeInternal, err)
	}
	<-errCh
	return nil
}

// requestLogger logs one line per request with the wrapped status.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Duration("took", time.Since(start)))
	})
}

// statusFor maps the error taxonomy to HTTP statuses. Anything not
// explicitly caller-facing is a 5xx.
func statusFor(kind rcerrors.Kind) int {
	switch kind {
	case rcerrors.KindBadRequest:
		return http.StatusBadRequest
	case rcerrors.KindRateLimited:
		return http.StatusTooManyRequests
	case rcerrors.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case rcerrors.KindUpstreamUnavailable, rcerrors.KindEmbeddingFailed, rcerrors.KindGeocodeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is what crosses the boundary: the structured message
// for AppErrors, a generic line otherwise. Causes and stacks stay in
// the logs.
func publicMessage(err error) string {
	var ae *rcerrors.AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := rcerrors.KindOf(err)
	status := statusFor(kind)

	logger := s.logger.With(
		slog.String("path", r.URL.Path),
		slog.String("kind", string(kind)),
		slog.Int("status", status))
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.Any("error", err))
	} else {
		logger.Warn("request rejected", slog.Any("error", err))
	}

	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Kind:    string(kind),
		Message: publicMessage(err),
	}})
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing left to do but note it.
		slog.Default().Warn("response encode failed", slog.Any("error", err))
	}
}
