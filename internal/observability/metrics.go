package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the manager's Prometheus surface. Every field is registered
// against the default registry at construction time so a transport adapter
// can mount promhttp.Handler() on /metrics without touching this package
// (see the teacher's internal/gateway/http_server.go for that pattern).
type Metrics struct {
	// CycleCounter counts completed cycles by outcome
	// (completed|reschedule_immediately|awaiting_review|failed).
	CycleCounter *prometheus.CounterVec

	// CycleDuration measures wallclock spent in RunCycle, end to end.
	// Buckets: 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s, 300s
	CycleDuration *prometheus.HistogramVec

	// LLMRequestDuration measures provider streaming-completion latency.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider requests by outcome.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by tool name and outcome.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution latency.
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// GuardianViolations counts Guardian findings by severity
	// (low|medium|high|critical) and kind.
	GuardianViolations *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	ErrorCounter *prometheus.CounterVec

	// RunAttempts counts cycle attempts by status (success|retry|failed),
	// one per pass through RunCycle's transient-retry loop.
	RunAttempts *prometheus.CounterVec

	// ScheduleQueueDepth tracks how many scheduleItems are currently
	// buffered in the manager's bounded work queue.
	ScheduleQueueDepth prometheus.Gauge
}

// NewMetrics registers and returns the manager's metrics against the
// default Prometheus registry. A second call in the same process panics on
// the duplicate registration; DefaultMetrics returns one shared instance,
// and cycle.New uses it when Deps.Metrics is nil.
func NewMetrics() *Metrics {
	return &Metrics{
		CycleCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_cycles_total",
				Help: "Total number of agent cycles by outcome",
			},
			[]string{"outcome"},
		),

		CycleDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hivemind_cycle_duration_seconds",
				Help:    "Wallclock duration of a RunCycle call",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hivemind_llm_request_duration_seconds",
				Help:    "Duration of LLM provider streaming completions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_llm_requests_total",
				Help: "Total number of LLM provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hivemind_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		GuardianViolations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_guardian_violations_total",
				Help: "Total number of Guardian constitutional violations by severity and kind",
			},
			[]string{"severity", "kind"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_run_attempts_total",
				Help: "Total number of cycle attempts by status",
			},
			[]string{"status"},
		),

		ScheduleQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hivemind_schedule_queue_depth",
				Help: "Current number of agent ids buffered in the manager's schedule queue",
			},
		),
	}
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics returns a process-wide Metrics instance, constructing it on
// first call. Prometheus panics if the same metric name is registered
// twice against the default registry, so callers that may be constructed
// more than once per process (cycle.New in tests, for instance) should go
// through this rather than calling NewMetrics directly.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// RecordCycle records a completed RunCycle call: one outcome count and one
// duration observation, both under the outcome label so a dashboard can
// break the duration histogram down by how the cycle ended.
func (m *Metrics) RecordCycle(outcome string, durationSeconds float64) {
	m.CycleCounter.WithLabelValues(outcome).Inc()
	m.CycleDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for a provider streaming completion.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordToolExecution records metrics for a single tool dispatch.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordGuardianViolation records a Guardian finding, regardless of whether
// it was Low/Medium (redacted in place) or High/Critical (paused for
// review) — callers that need to distinguish those cases also look at the
// severity label.
func (m *Metrics) RecordGuardianViolation(severity, kind string) {
	m.GuardianViolations.WithLabelValues(severity, kind).Inc()
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordRunAttempt records a single pass through RunCycle's transient-retry
// loop.
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}

// SetQueueDepth reports the current length of the manager's schedule queue.
func (m *Metrics) SetQueueDepth(depth int) {
	m.ScheduleQueueDepth.Set(float64(depth))
}
