// Package httpapi is the HTTP surface fronting the conversation agent: it
// frames process_message's outbound event stream as server-sent events and
// exposes the ambient health/metrics/root endpoints.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatd-agent/chatd/internal/agent"
	"github.com/chatd-agent/chatd/internal/observability"
)

// AgentFactory builds a fresh ConversationAgent per request. Using a
// factory rather than a shared agent keeps every request's tool
// dispatcher/preparer configuration independent even though the
// underlying llm.Client and ToolRegistry are process-wide, safe-for-concurrent-use
// singletons.
type AgentFactory func() *agent.ConversationAgent

// Server wires the conversation agent into an HTTP mux. It holds no
// request-scoped state: every field is a process-wide, concurrency-safe
// collaborator.
type Server struct {
	newAgent    AgentFactory
	toolInfo    map[string]ToolInfo
	logger      *observability.Logger
	metrics     *observability.Metrics
	httpServer  *http.Server
	httpListener net.Listener
}

// ToolInfo is the static metadata about a registered tool the SSE layer
// needs to render tool_start's {id, name, description, user_notification}
// shape, which the OutboundEvent.ToolUse payload alone does not carry.
type ToolInfo struct {
	Description string
}

// Config bundles the collaborators a Server needs.
type Config struct {
	NewAgent AgentFactory
	Registry *agent.ToolRegistry
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// New builds a Server. Logger and Metrics default to sane standalone
// instances when omitted, so the server is usable in tests without a full
// process bootstrap.
func New(cfg Config) *Server {
	toolInfo := make(map[string]ToolInfo)
	if cfg.Registry != nil {
		for _, t := range cfg.Registry.AsLLMTools() {
			toolInfo[t.Name()] = ToolInfo{Description: t.Description()}
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.MustNewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}

	// Metrics is left nil when the caller doesn't supply one (e.g. tests
	// constructing many Servers in one process): observability.NewMetrics
	// registers with Prometheus's global default registry, so calling it
	// more than once per process would panic on duplicate registration.
	// withMetrics already guards every call site against a nil Metrics.
	return &Server{
		newAgent: cfg.NewAgent,
		toolInfo: toolInfo,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// Mux builds the HTTP router: POST /openai/chat (SSE), GET /, GET /health,
// GET /metrics.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/openai/chat", s.withMetrics("/openai/chat", s.handleChat))
	mux.HandleFunc("/", s.withMetrics("/", s.handleRoot))
	mux.HandleFunc("/health", s.withMetrics("/health", s.handleHealth))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// withMetrics assigns each request a correlation ID (echoed back as
// X-Request-Id and attached to the request's context for downstream
// logging), records its HTTP metrics, and logs its outcome.
func (s *Server) withMetrics(path string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := uuid.NewString()
		ctx := observability.AddRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-Id", requestID)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)

		duration := time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, path, fmt.Sprintf("%d", sw.status), duration.Seconds())
		}
		s.logger.WithContext(ctx).Info(ctx, "http request", "method", r.Method, "path", path, "status", sw.status, "duration_ms", duration.Milliseconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"message": "Hello! Welcome to the LLM Backend Service API."})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

// Serve starts listening on addr and blocks until ctx is canceled or the
// server fails to start, shutting down gracefully with a bounded timeout
// on cancellation.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = srv
	s.httpListener = listener

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.logger.Info(ctx, "starting http server", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "http server shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
