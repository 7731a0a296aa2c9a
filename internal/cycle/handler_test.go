package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hivemindctl/hivemind/internal/agent"
	agentcontext "github.com/hivemindctl/hivemind/internal/agent/context"
	"github.com/hivemindctl/hivemind/internal/backoff"
	"github.com/hivemindctl/hivemind/internal/collector"
	"github.com/hivemindctl/hivemind/internal/eventbus"
	"github.com/hivemindctl/hivemind/internal/guardian"
	"github.com/hivemindctl/hivemind/internal/heartbeat"
	"github.com/hivemindctl/hivemind/internal/statemachine"
	"github.com/hivemindctl/hivemind/internal/toolkit"
	"github.com/hivemindctl/hivemind/internal/workflow"
	"github.com/hivemindctl/hivemind/pkg/models"
)

// fakeFacade is a minimal workflow.ManagerFacade for wiring a real
// workflow.Manager into cycle tests without needing the full agent manager.
type fakeFacade struct {
	agents map[string]*models.Agent
}

func newFakeFacade() *fakeFacade { return &fakeFacade{agents: make(map[string]*models.Agent)} }

func (f *fakeFacade) GetAgent(id string) (models.Agent, bool) {
	a, ok := f.agents[id]
	if !ok {
		return models.Agent{}, false
	}
	return *a, true
}

func (f *fakeFacade) CreateAgent(role models.Role, parentID string, initialMessage *models.Message) (models.Agent, error) {
	a := &models.Agent{ID: uuid.NewString(), Role: role, ParentID: parentID, State: statemachine.InitialState(role)}
	if initialMessage != nil {
		a.History = append(a.History, *initialMessage)
	}
	f.agents[a.ID] = a
	return *a, nil
}

func (f *fakeFacade) AppendMessage(id string, msg models.Message) error {
	if a, ok := f.agents[id]; ok {
		a.History = append(a.History, msg)
	}
	return nil
}

func (f *fakeFacade) ApplyTransition(id, to string) error {
	if a, ok := f.agents[id]; ok {
		a.State = to
	}
	return nil
}

func (f *fakeFacade) Schedule(id string)          {}
func (f *fakeFacade) Emit(models.AgentEvent)      {}

// chunkedProvider replays a scripted sequence of completions, one per call
// to Complete, so tests can script multi-attempt retry behavior.
type chunkedProvider struct {
	calls   int
	batches [][]*agent.CompletionChunk
	errs    []error
}

func (p *chunkedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	idx := p.calls
	p.calls++
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	var batch []*agent.CompletionChunk
	if idx < len(p.batches) {
		batch = p.batches[idx]
	}
	ch := make(chan *agent.CompletionChunk, len(batch))
	for _, c := range batch {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *chunkedProvider) Name() string            { return "stub" }
func (p *chunkedProvider) Models() []agent.Model   { return nil }
func (p *chunkedProvider) SupportsTools() bool     { return true }

type stubResolver struct{ provider agent.LLMProvider }

func (r stubResolver) Resolve(name string) (agent.LLMProvider, bool) { return r.provider, true }

type echoTool struct{}

func (echoTool) Name() string                   { return "Echo" }
func (echoTool) Description() string            { return "echoes input" }
func (echoTool) Schema() json.RawMessage        { return nil }
func (echoTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "ok"}, nil
}

func newTestHandler(t *testing.T, provider agent.LLMProvider, cfg Config) (*Handler, *eventbus.Bus, *collector.Collector) {
	t.Helper()
	registry := toolkit.NewRegistry()
	registry.Register(echoTool{})

	bus := eventbus.New(eventbus.Config{})
	col := collector.New()
	deps := Deps{
		Bus:       bus,
		Collector: col,
		Machine:   statemachine.New(),
		Executor:  toolkit.NewExecutor(registry),
		Workflow:  workflow.New(newFakeFacade()),
		Guardian:  guardian.New(nil),
		Health:    heartbeat.New(heartbeat.Config{ForceErrorAfter: 100, CorrectiveAfter: 100}),
		Packer:    agentcontext.NewPacker(agentcontext.DefaultPackOptions()),
		Providers: stubResolver{provider: provider},
	}
	return New(deps, cfg), bus, col
}

func newAdmin() *models.Agent {
	return &models.Agent{ID: uuid.NewString(), Role: models.RoleAdmin, State: statemachine.AdminConversation, Provider: "stub", Model: "stub-model"}
}

func fastConfig() Config {
	return Config{CycleDeadline: 5 * time.Second, MaxTransientRetries: 2, RetryPolicy: backoff.BackoffPolicy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0}}
}

func TestRunCycle_PlainTextResponseCompletes(t *testing.T) {
	provider := &chunkedProvider{batches: [][]*agent.CompletionChunk{
		{{Text: "hello there"}, {Done: true}},
	}}
	h, bus, col := newTestHandler(t, provider, fastConfig())
	ag := newAdmin()

	outcome, err := h.RunCycle(context.Background(), ag, &models.Message{Role: models.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want %v", outcome, OutcomeCompleted)
	}
	if len(ag.History) != 2 || ag.History[0].Content != "hi" || ag.History[1].Content != "hello there" {
		t.Fatalf("expected incoming + assistant message appended, got %+v", ag.History)
	}

	var sawComplete bool
	for _, ev := range bus.History(0) {
		if ev.Type == models.EventResponseComplete {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Fatalf("expected a ResponseComplete event on the bus")
	}
	_ = col
}

func TestRunCycle_ToolCallDispatchesAndReschedules(t *testing.T) {
	provider := &chunkedProvider{batches: [][]*agent.CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "c1", Name: "Echo", Input: json.RawMessage(`{}`)}}, {Done: true}},
	}}
	h, _, _ := newTestHandler(t, provider, fastConfig())
	ag := newAdmin()

	outcome, err := h.RunCycle(context.Background(), ag, &models.Message{Role: models.RoleUser, Content: "run echo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeRescheduleImmediately {
		t.Fatalf("outcome = %v, want %v", outcome, OutcomeRescheduleImmediately)
	}
	if len(ag.History) != 3 {
		t.Fatalf("expected incoming + assistant tool-call + tool-result messages, got %+v", ag.History)
	}
	if ag.History[2].Role != models.RoleTool || ag.History[2].ToolResults[0].IsError {
		t.Fatalf("expected a successful tool-role result, got %+v", ag.History[2])
	}
}

func TestRunCycle_StateChangeRequestAppliesTransition(t *testing.T) {
	provider := &chunkedProvider{batches: [][]*agent.CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "c1", Name: "transition", Input: json.RawMessage(`{"to":"Planning"}`)}}, {Done: true}},
	}}
	h, bus, _ := newTestHandler(t, provider, fastConfig())
	ag := newAdmin()

	outcome, err := h.RunCycle(context.Background(), ag, &models.Message{Role: models.RoleUser, Content: "plan it"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeRescheduleImmediately {
		t.Fatalf("outcome = %v, want %v", outcome, OutcomeRescheduleImmediately)
	}
	if ag.State != statemachine.AdminPlanning {
		t.Fatalf("agent state = %q, want %q", ag.State, statemachine.AdminPlanning)
	}
	var sawStateChange bool
	for _, ev := range bus.History(0) {
		if ev.Type == models.EventStateChange {
			sawStateChange = true
		}
	}
	if !sawStateChange {
		t.Fatalf("expected a StateChange event on the bus")
	}
}

func TestRunCycle_IllegalStateChangeIsRejectedWithoutMutatingState(t *testing.T) {
	provider := &chunkedProvider{batches: [][]*agent.CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "c1", Name: "transition", Input: json.RawMessage(`{"to":"Manage"}`)}}, {Done: true}},
	}}
	h, _, _ := newTestHandler(t, provider, fastConfig())
	ag := newAdmin()

	_, err := h.RunCycle(context.Background(), ag, &models.Message{Role: models.RoleUser, Content: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ag.State != statemachine.AdminConversation {
		t.Fatalf("agent state should be unchanged after illegal transition, got %q", ag.State)
	}
	if len(ag.History) != 2 || ag.History[1].Role != models.RoleSystem {
		t.Fatalf("expected incoming + a rejection system message, got %+v", ag.History)
	}
}

func TestRunCycle_ForbiddenAssertionPausesForReview(t *testing.T) {
	provider := &chunkedProvider{batches: [][]*agent.CompletionChunk{
		{{Text: "I am the central authority for this network."}, {Done: true}},
	}}
	h, bus, _ := newTestHandler(t, provider, fastConfig())
	ag := newAdmin()

	outcome, err := h.RunCycle(context.Background(), ag, &models.Message{Role: models.RoleUser, Content: "who are you"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeAwaitingReview {
		t.Fatalf("outcome = %v, want %v", outcome, OutcomeAwaitingReview)
	}
	if ag.State != statemachine.AdminAwaitingReview {
		t.Fatalf("agent state = %q, want %q", ag.State, statemachine.AdminAwaitingReview)
	}
	if len(ag.History) != 1 || ag.History[0].Role != models.RoleUser {
		t.Fatalf("expected only the incoming message in history; non-compliant response must not be appended, got %+v", ag.History)
	}
	var sawViolation bool
	for _, ev := range bus.History(0) {
		if ev.Type == models.EventConstitutionalViolation {
			sawViolation = true
		}
	}
	if !sawViolation {
		t.Fatalf("expected a ConstitutionalViolation event on the bus")
	}
}

func TestRunCycle_TransientErrorRetriesThenSucceeds(t *testing.T) {
	provider := &chunkedProvider{
		errs:    []error{errors.New("rate limit exceeded, please retry")},
		batches: [][]*agent.CompletionChunk{nil, {{Text: "recovered"}, {Done: true}}},
	}
	h, _, _ := newTestHandler(t, provider, fastConfig())
	ag := newAdmin()

	outcome, err := h.RunCycle(context.Background(), ag, &models.Message{Role: models.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want %v", outcome, OutcomeCompleted)
	}
	if provider.calls != 2 {
		t.Fatalf("expected exactly 2 provider calls (1 failure + 1 retry), got %d", provider.calls)
	}
}

func TestRunCycle_PermanentErrorFailsAndMovesToErrorState(t *testing.T) {
	provider := &chunkedProvider{errs: []error{errors.New("invalid api key")}}
	h, _, _ := newTestHandler(t, provider, fastConfig())
	ag := newAdmin()

	outcome, err := h.RunCycle(context.Background(), ag, &models.Message{Role: models.RoleUser, Content: "hi"})
	if err == nil {
		t.Fatalf("expected an error for a permanent (non-retryable) provider failure")
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want %v", outcome, OutcomeFailed)
	}
	if ag.State != statemachine.AdminError {
		t.Fatalf("agent state = %q, want %q", ag.State, statemachine.AdminError)
	}
	if provider.calls != 1 {
		t.Fatalf("expected exactly 1 provider call for a non-retryable error, got %d", provider.calls)
	}
}

func TestRunCycle_UnknownProviderFailsImmediately(t *testing.T) {
	h, _, _ := newTestHandler(t, &chunkedProvider{}, fastConfig())
	// Force an unresolved provider by swapping in a resolver that reports
	// not-found regardless of name.
	h.deps.Providers = unknownResolver{}
	ag := newAdmin()

	_, err := h.RunCycle(context.Background(), ag, &models.Message{Role: models.RoleUser, Content: "hi"})
	if err == nil {
		t.Fatalf("expected an error for an unresolvable provider")
	}
}

type unknownResolver struct{}

func (unknownResolver) Resolve(name string) (agent.LLMProvider, bool) { return nil, false }
