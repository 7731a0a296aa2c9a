// Package manager implements the AgentManager (spec component C10): the
// root orchestrator owning the agent table, the bounded schedule queue, and
// the wiring of every other component (EventBus, ResponseCollector,
// StateMachine, ToolRegistry/ToolExecutor, WorkflowManager, Guardian,
// CycleHandler). Grounded on the teacher's internal/heartbeat.Runner for
// its ticker-driven background loop and internal/multiagent.Orchestrator
// for agent-table bookkeeping under a single mutex.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivemindctl/hivemind/internal/agent"
	agentcontext "github.com/hivemindctl/hivemind/internal/agent/context"
	"github.com/hivemindctl/hivemind/internal/audit"
	"github.com/hivemindctl/hivemind/internal/collector"
	"github.com/hivemindctl/hivemind/internal/cycle"
	"github.com/hivemindctl/hivemind/internal/eventbus"
	"github.com/hivemindctl/hivemind/internal/guardian"
	"github.com/hivemindctl/hivemind/internal/heartbeat"
	"github.com/hivemindctl/hivemind/internal/observability"
	"github.com/hivemindctl/hivemind/internal/persistence"
	"github.com/hivemindctl/hivemind/internal/statemachine"
	"github.com/hivemindctl/hivemind/internal/toolkit"
	"github.com/hivemindctl/hivemind/internal/workflow"
	"github.com/hivemindctl/hivemind/pkg/models"
)

// DefaultPMTickInterval is how often a PM in Manage state is woken to
// re-evaluate task progress, per spec section 4.10 and the Open Question
// resolution recorded in DESIGN.md (60s, distinct from the liveness
// heartbeat's own cadence).
const DefaultPMTickInterval = 60 * time.Second

// DefaultQueueSize bounds the schedule queue (spec section 4.10: "a bounded
// work queue of agent ids").
const DefaultQueueSize = 256

// DefaultSnapshotInterval is how often the manager saves a full session
// snapshot to its Store.
const DefaultSnapshotInterval = 5 * time.Minute

// DefaultSessionID is the session id the manager saves its snapshot under
// when the embedding binary does not assign one (spec.md has no notion of
// multiple concurrent sessions sharing one manager).
const DefaultSessionID = "default"

// Config tunes the manager and everything it constructs. The zero value is
// not usable; build one with DefaultConfig and override fields as needed.
type Config struct {
	// WorkerPoolSize is the number of cooperative workers consuming the
	// schedule queue (spec section 5, default = number of CPU cores).
	WorkerPoolSize int

	// QueueSize bounds the schedule queue.
	QueueSize int

	// PMTickInterval is how often PMs in Manage state are woken.
	PMTickInterval time.Duration

	// ShutdownDrainTimeout bounds how long graceful Shutdown waits for the
	// workers to finish their in-flight cycles before giving up.
	ShutdownDrainTimeout time.Duration

	EventBus      eventbus.Config
	Cycle         cycle.Config
	Heartbeat     heartbeat.Config
	Pack          agentcontext.PackOptions
	Summarization agentcontext.SummarizationConfig
	Audit         audit.Config

	// Tracing configures the OTel tracer wrapped around every cycle and tool
	// dispatch. A zero value (Endpoint == "") falls back to the no-op global
	// provider, so this is safe to leave unset in binaries that never
	// configure an OTLP collector.
	Tracing observability.TraceConfig

	// DefaultModel/DefaultProvider seed every agent the manager creates
	// (Admin on first message, PM/Worker via WorkflowManager); a role that
	// needs a different model can be repointed by registering per-role
	// providers and updating the agent record after creation.
	DefaultModel    string
	DefaultProvider string

	// Store is the opaque persistence capability (spec section 6.3). A nil
	// Store is replaced in New with a persistence.MemoryStore, the spec's
	// volatile mode, so the manager always has something to write events
	// and session snapshots to.
	Store persistence.Store

	// SnapshotInterval is how often Start's background loop saves a full
	// session snapshot, independent of the per-event SaveEvent/SaveMessage
	// calls the bus subscription drives continuously.
	SnapshotInterval time.Duration
}

// DefaultConfig returns the spec's default tuning (spec section 6: "worker
// pool size, event ring size, default cycle deadline, default response
// timeout, token-summarization threshold, PM tick interval").
func DefaultConfig() Config {
	return Config{
		WorkerPoolSize:       runtime.NumCPU(),
		QueueSize:            DefaultQueueSize,
		PMTickInterval:       DefaultPMTickInterval,
		ShutdownDrainTimeout: 30 * time.Second,
		EventBus:             eventbus.Config{},
		Cycle:                cycle.DefaultConfig(),
		Heartbeat:            heartbeat.DefaultConfig(),
		Pack:                 agentcontext.DefaultPackOptions(),
		Summarization:        agentcontext.DefaultSummarizationConfig(),
		Audit:                audit.DefaultConfig(),
		SnapshotInterval:     DefaultSnapshotInterval,
		Tracing:              observability.TraceConfig{ServiceName: "hivemind"},
	}
}

// agentEntry is the manager's per-agent bookkeeping: the live agent record
// plus the mutex-guarded status flag enforcing "at most one in-flight
// cycle" (spec section 5).
type agentEntry struct {
	agent *models.Agent
}

// scheduleItem is what the queue actually carries: an agent id plus the
// message (if any) that triggered this cycle. incoming is nil for an
// internally-triggered cycle (a tool-result reschedule, a PM tick);
// RunCycle passes it straight through to correlationIDFor so an
// externally-awaited Future (see HandleUserMessage) resolves against the
// cycle that was actually scheduled for it.
type scheduleItem struct {
	agentID  string
	incoming *models.Message
}

// Manager is the AgentManager. The zero value is not usable; construct
// with New.
type Manager struct {
	cfg Config

	bus       *eventbus.Bus
	collector *collector.Collector
	machine   *statemachine.Machine
	registry  *toolkit.Registry
	executor  *toolkit.Executor
	guardian  *guardian.Guardian
	health    *heartbeat.Monitor
	auditLog  *audit.Logger
	providers *ProviderRegistry
	workflow  *workflow.Manager
	cycle     *cycle.Handler
	store     persistence.Store

	tracer         *observability.Tracer
	tracerShutdown func(context.Context) error
	metrics        *observability.Metrics

	mu      sync.Mutex
	agents  map[string]*agentEntry
	adminID string

	queue chan scheduleItem

	shutdownOnce sync.Once
	stopping     chan struct{}
	wg           sync.WaitGroup

	tickerStop chan struct{}
	tickerDone chan struct{}

	persistStop chan struct{}
	persistDone chan struct{}
}

// New constructs a Manager and every collaborator it wires together:
// EventBus, ResponseCollector, StateMachine, ToolRegistry/ToolExecutor,
// Guardian, health monitor, audit logger, provider registry,
// WorkflowManager, and CycleHandler. The manager itself is passed as the
// facade to WorkflowManager and as the provider resolver to CycleHandler,
// since both are defined as narrow interfaces precisely to let Manager
// satisfy them without an import cycle.
func New(cfg Config, nuance guardian.NuanceChecker) (*Manager, error) {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PMTickInterval <= 0 {
		cfg.PMTickInterval = DefaultPMTickInterval
	}
	if cfg.ShutdownDrainTimeout <= 0 {
		cfg.ShutdownDrainTimeout = 30 * time.Second
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}
	if cfg.Store == nil {
		cfg.Store = persistence.NewMemoryStore()
	}

	auditLog, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("manager: constructing audit logger: %w", err)
	}

	tracer, tracerShutdown := observability.NewTracer(cfg.Tracing)

	m := &Manager{
		cfg:            cfg,
		bus:            eventbus.New(cfg.EventBus),
		collector:      collector.New(),
		machine:        statemachine.New(),
		registry:       toolkit.NewRegistry(),
		guardian:       guardian.New(nuance),
		health:         heartbeat.New(cfg.Heartbeat),
		auditLog:       auditLog,
		providers:      NewProviderRegistry(),
		store:          cfg.Store,
		tracer:         tracer,
		tracerShutdown: tracerShutdown,
		metrics:        observability.DefaultMetrics(),
		agents:         make(map[string]*agentEntry),
		queue:          make(chan scheduleItem, cfg.QueueSize),
		stopping:       make(chan struct{}),
		tickerStop:     make(chan struct{}),
		tickerDone:     make(chan struct{}),
		persistStop:    make(chan struct{}),
		persistDone:    make(chan struct{}),
	}

	m.registry.Register(toolkit.NewSendMessageTool(m))
	m.executor = toolkit.NewExecutor(m.registry)
	m.workflow = workflow.New(m)
	m.cycle = cycle.New(cycle.Deps{
		Bus:                 m.bus,
		Collector:           m.collector,
		Machine:             m.machine,
		Executor:            m.executor,
		Workflow:            m.workflow,
		Guardian:            m.guardian,
		Health:              m.health,
		Packer:              agentcontext.NewPacker(cfg.Pack),
		Providers:           m.providers,
		Audit:               auditLog,
		Tracer:              m.tracer,
		Metrics:             m.metrics,
		SummarizationConfig: cfg.Summarization,
	}, cfg.Cycle)

	return m, nil
}

// RegisterProvider adds an LLMProvider under name, selectable by an agent's
// Provider field. Must be called before any agent using that name is
// scheduled.
func (m *Manager) RegisterProvider(name string, provider agent.LLMProvider) {
	m.providers.Register(name, provider)
}

// RegisterTool adds a Tool to the ToolRegistry. Must be called before
// Start.
func (m *Manager) RegisterTool(tool agent.Tool) {
	m.registry.Register(tool)
}

// Bus exposes the EventBus for transport adapters (spec section 6.4:
// "subscribeAll which a transport adapter consumes").
func (m *Manager) Bus() *eventbus.Bus { return m.bus }

// HandleUserMessage is the manager's external ingress (spec section 4.10):
// lazily creates the singleton Admin agent on first call, registers a
// correlation id with the ResponseCollector before scheduling so the
// returned Future is guaranteed to observe the cycle that resolves it (see
// DESIGN.md's "Correlation id handoff" note), schedules the Admin with the
// message attached, and returns the Future. The message itself is appended
// to the Admin's history by RunCycle, not here.
func (m *Manager) HandleUserMessage(ctx context.Context, text string) (*collector.Future, error) {
	select {
	case <-m.stopping:
		return nil, fmt.Errorf("manager: shutting down, not accepting new messages")
	default:
	}

	adminID, err := m.ensureAdmin()
	if err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	future := m.collector.Begin(correlationID, collector.DefaultTimeout)

	msg := &models.Message{
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
		Metadata:  map[string]any{cycle.CorrelationIDMetadataKey: correlationID},
	}

	m.auditLog.LogAgentAction(ctx, adminID, "user_message", "received a user message", nil, adminID)
	m.scheduleCycle(adminID, msg)
	return future, nil
}

// ensureAdmin creates the singleton Admin agent on first call.
func (m *Manager) ensureAdmin() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adminID != "" {
		return m.adminID, nil
	}
	ag := &models.Agent{
		ID:        uuid.NewString(),
		Role:      models.RoleAdmin,
		State:     statemachine.InitialState(models.RoleAdmin),
		Status:    models.StatusIdle,
		Model:     m.cfg.DefaultModel,
		Provider:  m.cfg.DefaultProvider,
		CreatedAt: time.Now(),
	}
	m.agents[ag.ID] = &agentEntry{agent: ag}
	m.adminID = ag.ID
	return ag.ID, nil
}

// scheduleCycle enqueues agentID, carrying incoming (nil for an
// internally-triggered cycle), unless the agent is already Queued or
// Processing (spec section 4.10/5: "idempotent while Queued" — a second
// schedule call is simply dropped, its incoming message discarded, since
// the in-flight/queued cycle will pick up whatever is already in history
// once it runs). On a full queue the agent is reverted to Idle and an
// Error event is emitted rather than blocking the caller.
func (m *Manager) scheduleCycle(agentID string, incoming *models.Message) {
	m.mu.Lock()
	entry, ok := m.agents[agentID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if entry.agent.Status == models.StatusQueued || entry.agent.Status == models.StatusProcessing {
		m.mu.Unlock()
		return
	}
	entry.agent.Status = models.StatusQueued
	m.mu.Unlock()

	select {
	case m.queue <- scheduleItem{agentID: agentID, incoming: incoming}:
		m.metrics.SetQueueDepth(len(m.queue))
	default:
		m.mu.Lock()
		entry.agent.Status = models.StatusIdle
		m.mu.Unlock()
		m.bus.Emit(queueFullEvent(agentID))
	}
}

// Start launches the worker pool, the PM tick loop, and the persistence
// subscription. Call once.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.cfg.WorkerPoolSize; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
	go m.tick(ctx)
	go m.persistLoop(ctx)
}

// worker drains the schedule queue, running one cycle per dequeued agent
// id at a time (spec section 5: "each worker executes one agent cycle at a
// time").
func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopping:
			return
		case <-ctx.Done():
			return
		case item := <-m.queue:
			m.metrics.SetQueueDepth(len(m.queue))
			m.runOne(ctx, item)
		}
	}
}

// runOne drives exactly one cycle for item.agentID, then decides whether
// to reschedule based on the Outcome CycleHandler returns.
func (m *Manager) runOne(ctx context.Context, item scheduleItem) {
	m.mu.Lock()
	entry, ok := m.agents[item.agentID]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.agent.Status = models.StatusProcessing
	ag := entry.agent
	m.mu.Unlock()

	outcome, err := m.cycle.RunCycle(ctx, ag, item.incoming)

	// Every Outcome returns the agent to Idle; OutcomeAwaitingReview leaves
	// it idle rather than introducing a distinct status, since the paused
	// state already lives in ag.State (see DESIGN.md's note on this).
	m.mu.Lock()
	ag.Status = models.StatusIdle
	m.mu.Unlock()

	if err != nil {
		m.bus.Emit(cycleErrorEvent(item.agentID, err.Error()))
	}

	if outcome == cycle.OutcomeRescheduleImmediately {
		m.scheduleCycle(item.agentID, nil)
	}
}

// tick wakes any PM in PMManage state on an interval, per spec section
// 4.10. Grounded on the teacher's internal/heartbeat.Runner: a
// ticker-driven loop selecting on a dedicated stop channel and ctx.Done,
// closing a done channel on exit so Shutdown can wait for it.
func (m *Manager) tick(ctx context.Context) {
	defer close(m.tickerDone)
	ticker := time.NewTicker(m.cfg.PMTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.tickerStop:
			return
		case <-ticker.C:
			m.wakePMs()
		}
	}
}

func (m *Manager) wakePMs() {
	m.mu.Lock()
	var pmIDs []string
	for id, entry := range m.agents {
		if entry.agent.Role == models.RolePM && entry.agent.State == statemachine.PMManage {
			pmIDs = append(pmIDs, id)
		}
	}
	m.mu.Unlock()

	for _, id := range pmIDs {
		m.scheduleCycle(id, nil)
	}
}

// persistLoop subscribes to every event on the bus and durably records it
// (spec section 12's audit-trail rationale extended to the opaque
// persistence capability of spec section 6.3), plus saves a full session
// snapshot on SnapshotInterval. Grounded on the same ticker-plus-stop-
// channel shape as tick, since both are best-effort background loops the
// manager's own cycle-serving path never blocks on.
func (m *Manager) persistLoop(ctx context.Context) {
	defer close(m.persistDone)
	sub := m.bus.SubscribeAll()
	defer sub.Close()

	ticker := time.NewTicker(m.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.persistStop:
			return
		case ev := <-sub.Events():
			m.persistEvent(ctx, ev)
		case <-ticker.C:
			m.saveSnapshot(ctx)
		}
	}
}

func (m *Manager) persistEvent(ctx context.Context, ev models.AgentEvent) {
	if err := m.store.SaveEvent(ctx, ev); err != nil {
		return
	}
	if ev.Type != models.EventResponseComplete {
		return
	}
	var data struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return
	}
	m.store.SaveMessage(ctx, ev.AgentID, models.Message{
		Role:      models.RoleAssistant,
		Content:   data.Text,
		CreatedAt: ev.Timestamp,
	})
}

// saveSnapshot writes every agent's current record to the Store under
// DefaultSessionID.
func (m *Manager) saveSnapshot(ctx context.Context) {
	m.mu.Lock()
	agents := make(map[string]models.Agent, len(m.agents))
	for id, entry := range m.agents {
		agents[id] = *entry.agent
	}
	m.mu.Unlock()

	m.store.SaveSession(ctx, DefaultSessionID, &persistence.Snapshot{
		Agents:    agents,
		UpdatedAt: time.Now(),
	})
}

// Shutdown stops accepting new user messages, cancels the tick and
// persistence loops, signals the workers to stop, and waits for in-flight
// workers to finish or the drain timeout to elapse, then saves a final
// snapshot and closes the audit logger and Store (spec section 5:
// "Graceful shutdown"). The queue is not drained: a worker exits once it
// sees the stop signal, and schedule items still in the queue are not run.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		close(m.stopping)
		close(m.tickerStop)
		close(m.persistStop)
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	timeout := time.NewTimer(m.cfg.ShutdownDrainTimeout)
	defer timeout.Stop()

	select {
	case <-done:
	case <-timeout.C:
	case <-ctx.Done():
	}

	<-m.tickerDone
	<-m.persistDone
	m.saveSnapshot(context.Background())

	if m.tracerShutdown != nil {
		_ = m.tracerShutdown(ctx)
	}

	if err := m.auditLog.Close(); err != nil {
		return err
	}
	return m.store.Close()
}
