package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// metrics is constructed once per test binary: NewMetrics registers against
// the default Prometheus registry, and a second registration of the same
// metric name panics.
var metrics = NewMetrics()

func TestRecordCycle(t *testing.T) {
	metrics.RecordCycle("completed", 1.5)
	metrics.RecordCycle("completed", 2.5)
	metrics.RecordCycle("failed", 0.2)

	if got := testutil.ToFloat64(metrics.CycleCounter.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed cycle count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.CycleCounter.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed cycle count = %v, want 1", got)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", 0.8)
	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "error", 0.1)

	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4", "success")); got != 1 {
		t.Errorf("success request count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4", "error")); got != 1 {
		t.Errorf("error request count = %v, want 1", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	metrics.RecordToolExecution("send_message", "success", 0.05)
	metrics.RecordToolExecution("send_message", "error", 0.02)

	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("send_message", "success")); got != 1 {
		t.Errorf("success tool count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("send_message", "error")); got != 1 {
		t.Errorf("error tool count = %v, want 1", got)
	}
}

func TestRecordGuardianViolation(t *testing.T) {
	metrics.RecordGuardianViolation("high", "scope_creep")
	metrics.RecordGuardianViolation("high", "scope_creep")
	metrics.RecordGuardianViolation("low", "tone")

	if got := testutil.ToFloat64(metrics.GuardianViolations.WithLabelValues("high", "scope_creep")); got != 2 {
		t.Errorf("high/scope_creep count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.GuardianViolations.WithLabelValues("low", "tone")); got != 1 {
		t.Errorf("low/tone count = %v, want 1", got)
	}
}

func TestRecordError(t *testing.T) {
	metrics.RecordError("cycle", "guardian_review_failed")

	if got := testutil.ToFloat64(metrics.ErrorCounter.WithLabelValues("cycle", "guardian_review_failed")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
}

func TestRecordRunAttempt(t *testing.T) {
	metrics.RecordRunAttempt("retry")
	metrics.RecordRunAttempt("retry")
	metrics.RecordRunAttempt("success")

	if got := testutil.ToFloat64(metrics.RunAttempts.WithLabelValues("retry")); got != 2 {
		t.Errorf("retry attempt count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.RunAttempts.WithLabelValues("success")); got != 1 {
		t.Errorf("success attempt count = %v, want 1", got)
	}
}

func TestSetQueueDepth(t *testing.T) {
	metrics.SetQueueDepth(7)

	if got := testutil.ToFloat64(metrics.ScheduleQueueDepth); got != 7 {
		t.Errorf("queue depth = %v, want 7", got)
	}
}
