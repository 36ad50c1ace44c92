// Package sessions provides the conversation store: append-only event logs
// keyed by session id, consumed by memory-enabled agents at prompt build time.
package sessions

import (
	"context"
	"fmt"

	"github.com/agentgate/agentgate/pkg/models"
)

// Store is the session store interface. Events within a session are totally
// ordered; concurrent appends to the same session serialize, never interleave
// within a batch.
type Store interface {
	// Create starts a new session bound to an agent id and returns it.
	Create(ctx context.Context, agentID string) (*models.Session, error)

	// Get returns the session with its full ordered event log.
	Get(ctx context.Context, sessionID string) (*models.Session, error)

	// AppendEvents atomically appends a batch of events to the session log.
	AppendEvents(ctx context.Context, sessionID string, events []models.Event) error

	// Close releases resources held by the store.
	Close() error
}

// ErrNotFound is returned for lookups of unknown session ids.
type ErrNotFound struct {
	SessionID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}
