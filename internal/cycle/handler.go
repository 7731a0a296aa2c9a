// Package cycle implements the CycleHandler (spec component C7): the
// central execution engine that assembles a prompt, drives one Agent
// streaming completion, dispatches every event it yields to the right
// collaborator (ToolExecutor, WorkflowManager, StateMachine, Guardian,
// EventBus, ResponseCollector), and decides what happens to the agent next.
// Grounded on the teacher's internal/agent/loop.go AgenticLoop: a bounded
// iteration driving a provider stream to completion, reacting to each event
// kind in turn rather than unwinding the whole response before acting.
package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hivemindctl/hivemind/internal/agent"
	agentcontext "github.com/hivemindctl/hivemind/internal/agent/context"
	"github.com/hivemindctl/hivemind/internal/agent/providers"
	"github.com/hivemindctl/hivemind/internal/audit"
	"github.com/hivemindctl/hivemind/internal/backoff"
	"github.com/hivemindctl/hivemind/internal/collector"
	"github.com/hivemindctl/hivemind/internal/eventbus"
	"github.com/hivemindctl/hivemind/internal/guardian"
	"github.com/hivemindctl/hivemind/internal/heartbeat"
	modelfallback "github.com/hivemindctl/hivemind/internal/models"
	"github.com/hivemindctl/hivemind/internal/observability"
	"github.com/hivemindctl/hivemind/internal/statemachine"
	"github.com/hivemindctl/hivemind/internal/toolkit"
	"github.com/hivemindctl/hivemind/internal/workflow"
	"github.com/hivemindctl/hivemind/pkg/models"
)

// DefaultCycleDeadline bounds the wallclock of a single cycle (spec section
// 4.7: "a cycle that runs longer than a configured wallclock is treated as
// a heartbeat breach and the agent is force-errored").
const DefaultCycleDeadline = 5 * time.Minute

// DefaultMaxTransientRetries caps how many attempts a cycle makes, the
// first one included, while its provider failures are transient (spec
// section 4.7.3).
const DefaultMaxTransientRetries = 3

// CorrelationIDMetadataKey is the incoming message metadata key a caller
// (the manager's handleUserMessage) uses to pre-register a correlation id
// with the Collector before scheduling the cycle that will resolve it, so
// the Future it hands back to the caller is the same one this cycle
// completes. When absent, attempt mints and begins its own.
const CorrelationIDMetadataKey = "correlation_id"

// Outcome is what RunCycle decided should happen to the agent next. The
// manager (C10) uses this to decide whether to reschedule, leave the agent
// idle, or hold it for human review.
type Outcome string

const (
	// OutcomeCompleted: the cycle produced a compliant final response and
	// the collector (if any) was resolved. The agent returns to idle.
	OutcomeCompleted Outcome = "completed"

	// OutcomeRescheduleImmediately: a tool call, workflow trigger, or state
	// transition occurred that warrants another cycle right away (e.g. a
	// tool result the agent should react to) without waiting for new input.
	OutcomeRescheduleImmediately Outcome = "reschedule_immediately"

	// OutcomeAwaitingReview: Guardian flagged a High/Critical violation; the
	// agent is paused and the collector is left unresolved for a human.
	OutcomeAwaitingReview Outcome = "awaiting_review"

	// OutcomeFailed: the cycle could not complete (permanent provider
	// error, retries exhausted, malformed stream). The agent has been moved
	// to its Error state where possible.
	OutcomeFailed Outcome = "failed"
)

// ProviderResolver looks up the LLMProvider backing an agent's configured
// provider name. Defined here, implemented by whatever registry the
// manager wires up, so cycle does not need to know how providers are
// constructed or configured.
type ProviderResolver interface {
	Resolve(name string) (agent.LLMProvider, bool)
}

// Deps bundles every collaborator a cycle dispatches to.
type Deps struct {
	Bus       *eventbus.Bus
	Collector *collector.Collector
	Machine   *statemachine.Machine
	Executor  *toolkit.Executor
	Workflow  *workflow.Manager
	Guardian  *guardian.Guardian
	Health    *heartbeat.Monitor
	Packer    *agentcontext.Packer
	Providers ProviderResolver
	Prompts   PromptTable

	// Audit is the durable event log a cycle writes to alongside Bus. A nil
	// Audit is replaced in New with a disabled logger, so dispatch sites
	// never need a nil check.
	Audit *audit.Logger

	// Tracer wraps RunCycle and dispatchToolRequest in OTel spans. A nil
	// Tracer is replaced in New with a no-op tracer (see
	// observability.NewTracer with an empty Endpoint).
	Tracer *observability.Tracer

	// Metrics records cycle/tool/Guardian counters and histograms. A nil
	// Metrics is replaced in New with observability.DefaultMetrics, the
	// process-wide instance, since constructing a fresh one would panic on
	// Prometheus's duplicate-registration check.
	Metrics *observability.Metrics

	// SummarizationConfig configures when/how much history Summarize
	// compresses.
	SummarizationConfig agentcontext.SummarizationConfig
}

// Config tunes cycle-level behavior independent of which collaborators are
// wired in.
type Config struct {
	CycleDeadline       time.Duration        `yaml:"cycle_deadline"`
	MaxTransientRetries int                  `yaml:"max_transient_retries"`
	RetryPolicy         backoff.BackoffPolicy `yaml:"retry_policy"`
}

// DefaultConfig returns the spec's default cycle tuning.
func DefaultConfig() Config {
	return Config{
		CycleDeadline:       DefaultCycleDeadline,
		MaxTransientRetries: DefaultMaxTransientRetries,
		RetryPolicy:         backoff.DefaultPolicy(),
	}
}

// Handler is the CycleHandler. The zero value is not usable; construct with
// New.
type Handler struct {
	deps Deps
	cfg  Config
}

// New creates a Handler, filling in defaults for any zero-value Config or
// Deps fields that have sensible built-ins.
func New(deps Deps, cfg Config) *Handler {
	if cfg.CycleDeadline <= 0 {
		cfg.CycleDeadline = DefaultCycleDeadline
	}
	if cfg.MaxTransientRetries <= 0 {
		cfg.MaxTransientRetries = DefaultMaxTransientRetries
	}
	if cfg.RetryPolicy == (backoff.BackoffPolicy{}) {
		cfg.RetryPolicy = backoff.DefaultPolicy()
	}
	if deps.Prompts == nil {
		deps.Prompts = DefaultPromptTable()
	}
	if deps.SummarizationConfig == (agentcontext.SummarizationConfig{}) {
		deps.SummarizationConfig = agentcontext.DefaultSummarizationConfig()
	}
	if deps.Audit == nil {
		deps.Audit, _ = audit.NewLogger(audit.Config{Enabled: false})
	}
	if deps.Tracer == nil {
		deps.Tracer, _ = observability.NewTracer(observability.TraceConfig{ServiceName: "hivemind"})
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.DefaultMetrics()
	}
	return &Handler{deps: deps, cfg: cfg}
}

// attemptResult carries enough information out of a single streaming
// attempt for RunCycle to decide whether a transient failure is safe to
// retry (no side effects yet) or must be treated as permanent for this
// cycle (a tool already ran, a workflow action already fired).
type attemptResult struct {
	outcome     Outcome
	sideEffects bool
	err         error
	health      heartbeat.Verdict
}

// RunCycle appends incoming to ag's history (once, before any attempt),
// assembles a prompt, drives one (or, on transient failure, several)
// streaming completions, and dispatches every event the Agent yields to the
// right collaborator. incoming is the new message triggering this cycle;
// nil for a PM's periodic management tick (spec section 4.7 step 1:
// "dynamically injected context").
//
// The caller must guarantee ag is the live table entry for its agent id and
// that no other goroutine mutates it concurrently (per-agent exclusivity is
// the manager's job, not this function's).
func (h *Handler) RunCycle(ctx context.Context, ag *models.Agent, incoming *models.Message) (Outcome, error) {
	ctx, span := h.deps.Tracer.Start(ctx, "cycle", observability.SpanOptions{
		Attributes: []attribute.KeyValue{
			attribute.String("agent.id", ag.ID),
			attribute.String("agent.role", string(ag.Role)),
		},
	})
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, h.cfg.CycleDeadline)
	defer cancel()

	provider, ok := h.deps.Providers.Resolve(ag.Provider)
	if !ok {
		err := fmt.Errorf("cycle: unknown provider %q for agent %s", ag.Provider, ag.ID)
		h.deps.Tracer.RecordError(span, err)
		h.recordCycle(OutcomeFailed, time.Now())
		return OutcomeFailed, err
	}

	if incoming != nil {
		ag.AppendHistory(*incoming)
	}

	started := time.Now()

	// candidates is the primary model plus ag.FallbackModels, in order. A
	// retryable error that modelfallback.IsFailoverError also classifies as
	// provider/model-specific advances to the next candidate instead of
	// retrying the same model.
	candidates := modelfallback.BuildFallbackCandidates(&modelfallback.FallbackConfig{
		PrimaryProvider: ag.Provider,
		PrimaryModel:    ag.Model,
		Fallbacks:       ag.FallbackModels,
	})
	if len(candidates) == 0 {
		candidates = []modelfallback.ModelCandidate{{Provider: ag.Provider, Model: ag.Model}}
	}
	candidateIdx := 0

	var lastErr error
	for attempt := 1; attempt <= h.cfg.MaxTransientRetries; attempt++ {
		candidate := candidates[candidateIdx]
		activeProvider := provider
		if candidate.Provider != ag.Provider {
			if p, ok := h.deps.Providers.Resolve(candidate.Provider); ok {
				activeProvider = p
			} else {
				candidate = candidates[0]
				candidateIdx = 0
			}
		}

		res := h.attempt(ctx, ag, incoming, activeProvider, candidate.Model, started)
		if res.err == nil {
			h.deps.Metrics.RecordRunAttempt("success")
			h.reactToHealth(ag, res.health)
			h.recordCycle(res.outcome, started)
			return res.outcome, nil
		}
		lastErr = res.err
		if res.sideEffects || !providers.IsRetryable(res.err) || attempt == h.cfg.MaxTransientRetries {
			h.deps.Metrics.RecordRunAttempt("failed")
			break
		}
		h.deps.Metrics.RecordRunAttempt("retry")

		failoverErr := modelfallback.CoerceToFailoverError(res.err, candidate.Provider, candidate.Model)
		if modelfallback.IsFailoverError(failoverErr) && candidateIdx+1 < len(candidates) {
			candidateIdx++
			next := candidates[candidateIdx]
			h.deps.Bus.Emit(errorEvent(ag.ID, fmt.Sprintf("attempt %d failed on %s, switching to fallback model %s/%s: %v", attempt, candidate.Model, next.Provider, next.Model, res.err)))
			continue
		}

		h.deps.Bus.Emit(errorEvent(ag.ID, fmt.Sprintf("transient error on attempt %d, retrying: %v", attempt, res.err)))
		if sleepErr := backoff.SleepWithBackoff(ctx, h.cfg.RetryPolicy, attempt); sleepErr != nil {
			lastErr = sleepErr
			break
		}
	}

	h.deps.Tracer.RecordError(span, lastErr)
	h.failCycle(ag, lastErr)
	h.recordCycle(OutcomeFailed, started)
	return OutcomeFailed, lastErr
}

// recordCycle reports the cycle counter/duration pair for outcome, measured
// from started to now.
func (h *Handler) recordCycle(outcome Outcome, started time.Time) {
	h.deps.Metrics.RecordCycle(string(outcome), time.Since(started).Seconds())
}

// attempt drives exactly one streaming completion to its terminal event.
// incoming has already been appended to ag's history by RunCycle, so it is
// packed as part of history rather than passed to assemblePrompt again.
func (h *Handler) attempt(ctx context.Context, ag *models.Agent, incoming *models.Message, provider agent.LLMProvider, model string, started time.Time) attemptResult {
	req, err := h.assemblePrompt(ctx, ag, nil, provider, model)
	if err != nil {
		return attemptResult{outcome: OutcomeFailed, err: fmt.Errorf("cycle: assembling prompt: %w", err)}
	}

	correlationID, preRegistered := correlationIDFor(incoming)
	if !preRegistered {
		h.deps.Collector.Begin(correlationID, collector.DefaultTimeout)
	}

	eng := agent.New(provider)
	events := eng.ProcessMessage(ctx, req)
	llmStarted := time.Now()

	var (
		sideEffects bool
		toolKey     string
		finalText   string
	)

	for ev := range events {
		switch ev.Kind {
		case agent.EventResponseChunk:
			h.deps.Bus.Emit(responseChunkEvent(ag.ID, correlationID, ev.Text))
			h.deps.Collector.AddChunk(correlationID, ev.Text)

		case agent.EventAgentThought:
			h.deps.Bus.Emit(agentThinkingEvent(ag.ID, ev.Thought))

		case agent.EventToolRequest:
			sideEffects = true
			toolKey = toolCallKey(ev.ToolCall)
			h.dispatchToolRequest(ctx, ag, ev.ToolCall)

		case agent.EventWorkflowTrigger:
			sideEffects = true
			if err := h.deps.Workflow.HandleTrigger(ctx, ag.ID, ev.Workflow); err != nil {
				h.deps.Bus.Emit(errorEvent(ag.ID, fmt.Sprintf("workflow trigger <%s> failed: %v", ev.Workflow.Tag, err)))
			}

		case agent.EventStateChangeRequest:
			sideEffects = true
			h.dispatchStateChange(ag, ev.RequestedState)

		case agent.EventMalformed:
			ag.Metrics.Errors++
			h.deps.Bus.Emit(errorEvent(ag.ID, "malformed output: "+ev.Span))
			ag.AppendHistory(models.Message{
				Role:      models.RoleSystem,
				Content:   "Your last response contained malformed output and was discarded: " + ev.Span,
				CreatedAt: time.Now(),
			})

		case agent.EventStreamError:
			h.deps.Metrics.RecordLLMRequest(provider.Name(), req.Model, "error", time.Since(llmStarted).Seconds())
			h.deps.Collector.Fail(correlationID, ev.Err)
			return attemptResult{outcome: OutcomeFailed, sideEffects: sideEffects, err: ev.Err}

		case agent.EventFinalResponse:
			finalText = ev.FinalResponse
		}
	}

	h.deps.Metrics.RecordLLMRequest(provider.Name(), req.Model, "success", time.Since(llmStarted).Seconds())

	verdict := h.deps.Health.Observe(ag.ID, heartbeat.CycleObservation{
		ResponseText: finalText,
		ToolCallKey:  toolKey,
		Wallclock:    time.Since(started),
	})

	result := h.finishAttempt(ctx, ag, correlationID, finalText, sideEffects)
	result.health = verdict
	return result
}

// finishAttempt runs the terminal-response Guardian review and resolves the
// collector, appending the assistant's final text to history first.
func (h *Handler) finishAttempt(ctx context.Context, ag *models.Agent, correlationID, finalText string, sideEffects bool) attemptResult {
	if finalText == "" {
		// No terminal text this attempt (e.g. a pure tool-call turn); the
		// manager reschedules immediately so the agent can react to the
		// tool result without waiting for new external input.
		ag.Metrics.Cycles++
		h.deps.Collector.Cancel(correlationID)
		if sideEffects {
			return attemptResult{outcome: OutcomeRescheduleImmediately, sideEffects: sideEffects}
		}
		return attemptResult{outcome: OutcomeCompleted, sideEffects: sideEffects}
	}

	verdict, err := h.deps.Guardian.Review(ctx, ag.ID, ag.Role, finalText)
	if err != nil {
		h.deps.Collector.Fail(correlationID, err)
		return attemptResult{outcome: OutcomeFailed, sideEffects: sideEffects, err: fmt.Errorf("cycle: guardian review: %w", err)}
	}

	ag.Metrics.Cycles++

	if verdict.Compliant {
		text := finalText
		if verdict.Violation != nil {
			text = verdict.RemediatedText
			h.deps.Metrics.RecordGuardianViolation(string(verdict.Violation.Severity), string(verdict.Violation.Kind))
			h.deps.Bus.Emit(constitutionalCheckEvent(ag.ID, verdict.Violation))
		}
		ag.AppendHistory(models.Message{Role: models.RoleAssistant, Content: text, CreatedAt: time.Now()})
		h.deps.Collector.Complete(correlationID, text)
		h.deps.Bus.Emit(responseCompleteEvent(ag.ID, correlationID, text))
		h.deps.Audit.LogAgentAction(ctx, ag.ID, "cycle_complete", string(ag.Role)+" produced a compliant response", nil, ag.ID)
		if sideEffects {
			return attemptResult{outcome: OutcomeRescheduleImmediately, sideEffects: sideEffects}
		}
		return attemptResult{outcome: OutcomeCompleted, sideEffects: sideEffects}
	}

	// High/Critical: pause for review. The collector is deliberately left
	// unresolved (it will time out) rather than completed or failed, since
	// neither caller-facing outcome is accurate — a human has to decide.
	h.deps.Metrics.RecordGuardianViolation(string(verdict.Violation.Severity), string(verdict.Violation.Kind))
	h.deps.Bus.Emit(constitutionalViolationEvent(ag.ID, verdict.Violation))
	h.deps.Audit.LogError(ctx, audit.EventAgentError, "constitutional_violation", verdict.Violation.Description, map[string]any{
		"kind":     string(verdict.Violation.Kind),
		"severity": string(verdict.Violation.Severity),
	}, ag.ID)
	if statemachine.CanTransition(ag.Role, ag.State, statemachine.AdminAwaitingReview) {
		from := ag.State
		if err := h.deps.Machine.Apply(ag, statemachine.AdminAwaitingReview); err == nil {
			h.deps.Bus.Emit(stateChangeEvent(ag.ID, from, ag.State))
		}
	}
	return attemptResult{outcome: OutcomeAwaitingReview, sideEffects: sideEffects}
}

// dispatchToolRequest runs the tool, appends the assistant's call and the
// tool's result to history, and performs the task-assignment side channel
// spec section 4.8 drives through SendMessage rather than a workflow
// trigger: when a PM in ActivateWorkers sends a message carrying a taskId,
// the task is marked Assigned.
func (h *Handler) dispatchToolRequest(ctx context.Context, ag *models.Agent, call *models.ToolCall) {
	ctx, span := h.deps.Tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	h.deps.Bus.Emit(toolExecutionStartEvent(ag.ID, *call))
	started := time.Now()
	h.deps.Audit.LogToolInvocation(ctx, call.Name, call.ID, call.Input, ag.ID)

	ag.AppendHistory(models.Message{
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{*call},
		CreatedAt: time.Now(),
	})

	actx := toolkit.AgentContext{AgentID: ag.ID, Role: ag.Role}
	resultMsg := h.deps.Executor.Execute(ctx, actx, *call)
	resultMsg.CreatedAt = time.Now()
	ag.AppendHistory(resultMsg)

	isError := len(resultMsg.ToolResults) > 0 && resultMsg.ToolResults[0].IsError
	status := "success"
	if isError {
		status = "error"
		h.deps.Tracer.RecordError(span, fmt.Errorf("tool %s failed", call.Name))
	}
	h.deps.Metrics.RecordToolExecution(call.Name, status, time.Since(started).Seconds())
	h.deps.Bus.Emit(toolExecutionCompleteEvent(ag.ID, *call, isError))
	h.deps.Audit.LogToolCompletion(ctx, call.Name, call.ID, !isError, resultMsg.Content, time.Since(started), ag.ID)

	if !isError && call.Name == toolkit.SendMessageToolName && ag.Role == models.RolePM && ag.State == statemachine.PMActivateWorkers {
		h.maybeMarkTaskAssigned(ctx, ag.ID, call.Input)
	}
}

func (h *Handler) maybeMarkTaskAssigned(ctx context.Context, pmID string, input json.RawMessage) {
	var params struct {
		TargetAgentID string `json:"targetAgentId"`
		TaskID        string `json:"taskId"`
	}
	if err := json.Unmarshal(input, &params); err != nil || params.TaskID == "" {
		return
	}
	if err := h.deps.Workflow.MarkTaskAssigned(pmID, params.TaskID, params.TargetAgentID); err != nil {
		h.deps.Bus.Emit(errorEvent(pmID, "task assignment tracking failed: "+err.Error()))
		return
	}
	h.deps.Audit.LogAgentHandoff(ctx, pmID, params.TargetAgentID, "task assignment: "+params.TaskID, "", 0, pmID)
}

func (h *Handler) dispatchStateChange(ag *models.Agent, requested string) {
	from := ag.State
	if err := h.deps.Machine.Apply(ag, requested); err != nil {
		ag.AppendHistory(models.Message{
			Role:      models.RoleSystem,
			Content:   statemachine.RejectionMessage(ag.Role, from, requested),
			CreatedAt: time.Now(),
		})
		return
	}
	h.deps.Bus.Emit(stateChangeEvent(ag.ID, from, ag.State))
}

// reactToHealth applies the heartbeat monitor's verdict for a completed
// attempt: a corrective nudge on the Nth breach, or a forced Error on the
// Mth per spec section 4.7.2.
func (h *Handler) reactToHealth(ag *models.Agent, verdict heartbeat.Verdict) {
	switch verdict.Action {
	case heartbeat.ActionForceError:
		h.failCycle(ag, fmt.Errorf("cycle: health monitor forced error (%s)", verdict.Reason))
	case heartbeat.ActionCorrect:
		ag.AppendHistory(models.Message{Role: models.RoleSystem, Content: heartbeat.CorrectiveMessage, CreatedAt: time.Now()})
	}
}

// failCycle records a permanent failure and, where the state machine
// allows it, forces the agent to its role's Error state.
func (h *Handler) failCycle(ag *models.Agent, err error) {
	ag.Metrics.Errors++
	if err != nil {
		h.deps.Bus.Emit(errorEvent(ag.ID, err.Error()))
		h.deps.Audit.LogError(context.Background(), audit.EventAgentError, "cycle_failed", err.Error(), nil, ag.ID)
	}
	errState := errorStateFor(ag.Role)
	if errState == "" || ag.State == errState {
		return
	}
	from := ag.State
	if applyErr := h.deps.Machine.Apply(ag, errState); applyErr == nil {
		h.deps.Bus.Emit(stateChangeEvent(ag.ID, from, ag.State))
	}
}

func errorStateFor(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return statemachine.AdminError
	case models.RolePM:
		return statemachine.PMError
	case models.RoleWorker:
		return statemachine.WorkerError
	default:
		return ""
	}
}

// correlationIDFor returns the correlation id this attempt should use and
// whether the Collector already has an entry for it (true when incoming
// carries CorrelationIDMetadataKey, false when one must be minted fresh).
func correlationIDFor(incoming *models.Message) (string, bool) {
	if incoming != nil {
		if cid, ok := incoming.Metadata[CorrelationIDMetadataKey].(string); ok && cid != "" {
			return cid, true
		}
	}
	return uuid.NewString(), false
}

func toolCallKey(call *models.ToolCall) string {
	if call == nil {
		return ""
	}
	return call.Name + ":" + string(call.Input)
}
