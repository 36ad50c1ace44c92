// Package registry provides the agent spec store: a keyed table of immutable
// (id, version) records with latest-by-creation-time resolution and soft
// deletion. Backed by SQLite in production and an in-memory map in tests.
package registry

import (
	"context"
	"fmt"

	"github.com/agentgate/agentgate/pkg/models"
)

// Store is the agent registry interface. All handler and engine code depends
// on this interface so the in-memory and SQLite implementations are
// interchangeable.
type Store interface {
	// Register validates and persists a raw spec document. The duplicate
	// check and insert are atomic: concurrent registrations of the same
	// (id, version) resolve to exactly one winner, the loser gets
	// *ErrVersionExists. Returns the registered (id, version).
	Register(ctx context.Context, raw map[string]any) (id, version string, err error)

	// Get returns the pinned version, or the latest non-archived version by
	// created_at when version is empty. Archived specs remain retrievable
	// by explicit version pin.
	Get(ctx context.Context, id, version string) (*models.AgentSpec, error)

	// List returns filtered spec records. With LatestOnly, at most one entry
	// per id: the one with the maximum created_at among the filtered rows.
	List(ctx context.Context, filter ListFilter) ([]models.AgentSummary, error)

	// Archive soft-deletes an id (or a single pinned version).
	Archive(ctx context.Context, id, version string) error

	// Unarchive reverses Archive.
	Unarchive(ctx context.Context, id, version string) error

	// Count returns the total number of registered specs, archived included.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Query           string // case-insensitive substring over id, name, description
	Primitive       string
	SupportsMemory  *bool
	LatestOnly      bool
	IncludeArchived bool
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when the requested id (or id@version) is absent.
type ErrNotFound struct {
	ID      string
	Version string
}

func (e *ErrNotFound) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("agent not found: %s@%s", e.ID, e.Version)
	}
	return fmt.Sprintf("agent not found: %s", e.ID)
}

// ErrVersionExists is returned when registering an already-present
// (id, version) pair. The existing record is never overwritten.
type ErrVersionExists struct {
	ID      string
	Version string
}

func (e *ErrVersionExists) Error() string {
	return fmt.Sprintf("agent version already exists: %s@%s", e.ID, e.Version)
}

// ErrSpecInvalid is returned when a spec fails shape, size, or schema
// validation. Details, when present, is a structured error list suitable for
// the response envelope.
type ErrSpecInvalid struct {
	Message string
	Details any
}

func (e *ErrSpecInvalid) Error() string { return e.Message }
