package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestMetrics builds a Metrics backed by an isolated registry so tests
// don't collide with each other (or a real NewMetrics() call) on
// Prometheus's process-wide default registry.
func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: fac.NewHistogramVec(
			prometheus.HistogramOpts{Name: "llm_request_duration_seconds", Buckets: prometheus.DefBuckets},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: fac.NewCounterVec(
			prometheus.CounterOpts{Name: "llm_requests_total"},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: fac.NewCounterVec(
			prometheus.CounterOpts{Name: "llm_tokens_total"},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: fac.NewCounterVec(
			prometheus.CounterOpts{Name: "tool_executions_total"},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: fac.NewHistogramVec(
			prometheus.HistogramOpts{Name: "tool_execution_duration_seconds", Buckets: prometheus.DefBuckets},
			[]string{"tool_name"},
		),
		ErrorCounter: fac.NewCounterVec(
			prometheus.CounterOpts{Name: "errors_total"},
			[]string{"component", "error_type"},
		),
		HTTPRequestDuration: fac.NewHistogramVec(
			prometheus.HistogramOpts{Name: "http_request_duration_seconds", Buckets: prometheus.DefBuckets},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestCounter: fac.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total"},
			[]string{"method", "path", "status_code"},
		),
	}, reg
}

func TestRecordLLMRequest_Success(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordLLMRequest("openai", "gpt-4o", "success", 0.25, 100, 50)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("openai", "gpt-4o", "success")); got != 1 {
		t.Errorf("LLMRequestCounter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("openai", "gpt-4o", "prompt")); got != 100 {
		t.Errorf("LLMTokensUsed(prompt) = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("openai", "gpt-4o", "completion")); got != 50 {
		t.Errorf("LLMTokensUsed(completion) = %v, want 50", got)
	}
}

func TestRecordLLMRequest_ZeroTokensNotRecorded(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordLLMRequest("anthropic", "claude-3-5-sonnet", "error", 0.1, 0, 0)

	if got := testutil.CollectAndCount(m.LLMTokensUsed); got != 0 {
		t.Errorf("expected no token series recorded, got %d", got)
	}
	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-3-5-sonnet", "error")); got != 1 {
		t.Errorf("LLMRequestCounter = %v, want 1", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordToolExecution("web_search", "success", 0.5)
	m.RecordToolExecution("web_search", "error", 1.2)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("web_search", "success")); got != 1 {
		t.Errorf("success counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("web_search", "error")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
}

func TestRecordError(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordError("agent", "missing_status")
	m.RecordError("agent", "missing_status")
	m.RecordError("tool", "execution_failed")

	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("agent", "missing_status")); got != 2 {
		t.Errorf("ErrorCounter(agent,missing_status) = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("tool", "execution_failed")); got != 1 {
		t.Errorf("ErrorCounter(tool,execution_failed) = %v, want 1", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordHTTPRequest("POST", "/openai/chat", "200", 0.05)

	if got := testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("POST", "/openai/chat", "200")); got != 1 {
		t.Errorf("HTTPRequestCounter = %v, want 1", got)
	}
}
