package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/hivemindctl/hivemind/pkg/models"
)

// maxEventsRetained and maxMessagesPerAgent bound MemoryStore's growth for
// long-running volatile-mode processes, mirroring the teacher's
// maxMessagesPerSession trim in internal/sessions/memory.go.
const (
	maxEventsRetained   = 10000
	maxMessagesPerAgent = 1000
)

// MemoryStore is a volatile, in-process Store: every write is lost on
// restart. This is the spec's default "the core functions without it in a
// volatile mode" — a caller that never configures a SQLStore gets one of
// these instead of a nil Store, so every collaborator can depend on the
// Store interface unconditionally.
type MemoryStore struct {
	mu       sync.RWMutex
	events   []models.AgentEvent
	messages map[string][]models.Message
	sessions map[string]*Snapshot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]models.Message),
		sessions: make(map[string]*Snapshot),
	}
}

func (m *MemoryStore) SaveEvent(ctx context.Context, event models.AgentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if len(m.events) > maxEventsRetained {
		m.events = m.events[len(m.events)-maxEventsRetained:]
	}
	return nil
}

func (m *MemoryStore) SaveMessage(ctx context.Context, agentID string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := append(m.messages[agentID], msg)
	if len(msgs) > maxMessagesPerAgent {
		msgs = msgs[len(msgs)-maxMessagesPerAgent:]
	}
	m.messages[agentID] = msgs
	return nil
}

func (m *MemoryStore) LoadSession(ctx context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSnapshot(snap), nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, id string, snapshot *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := cloneSnapshot(snapshot)
	clone.ID = id
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = time.Now()
	}
	m.sessions[id] = clone
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneSnapshot(snap *Snapshot) *Snapshot {
	if snap == nil {
		return &Snapshot{Agents: make(map[string]models.Agent)}
	}
	agents := make(map[string]models.Agent, len(snap.Agents))
	for id, ag := range snap.Agents {
		agents[id] = ag
	}
	return &Snapshot{ID: snap.ID, Agents: agents, UpdatedAt: snap.UpdatedAt}
}
