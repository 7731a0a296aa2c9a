// Package persistence implements the opaque persistence capability spec
// section 6.3 describes: saveEvent, saveMessage, loadSession, saveSession.
// The core functions without it (a MemoryStore, or a nil Store) in the
// volatile mode the spec explicitly allows; a Store is only ever consulted
// for observability and session restore, never on the hot cycle path
// itself. Grounded on the teacher's internal/sessions package, repurposed
// to the narrower event/message/snapshot schema this spec needs.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/hivemindctl/hivemind/pkg/models"
)

// ErrSessionNotFound is returned by LoadSession when id has never been
// saved.
var ErrSessionNotFound = errors.New("persistence: session not found")

// Snapshot is the durable shape of one session: every agent the manager
// currently owns, keyed by id, as of UpdatedAt. SaveSession replaces the
// prior snapshot for id wholesale; there is no incremental session diff.
type Snapshot struct {
	ID        string                  `json:"id"`
	Agents    map[string]models.Agent `json:"agents"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Store is the persistence capability the core treats as opaque. A nil
// Store is never passed to a component directly; callers that want the
// volatile mode construct a MemoryStore (or simply skip wiring a Store at
// all and let the caller decide whether to call these methods).
type Store interface {
	// SaveEvent durably records event, independent of the EventBus's own
	// bounded ring buffer (spec section 12's audit trail rationale).
	SaveEvent(ctx context.Context, event models.AgentEvent) error

	// SaveMessage durably records a single history entry for agentID, in
	// the order it was appended.
	SaveMessage(ctx context.Context, agentID string, msg models.Message) error

	// LoadSession returns the last snapshot saved for id, or
	// ErrSessionNotFound if none exists.
	LoadSession(ctx context.Context, id string) (*Snapshot, error)

	// SaveSession replaces the snapshot for id.
	SaveSession(ctx context.Context, id string, snapshot *Snapshot) error

	// Close releases any underlying resources (connections, files).
	Close() error
}
