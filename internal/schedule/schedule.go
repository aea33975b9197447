// Package schedule implements the durable delay store: a min-ordered set of
// pending wake entries keyed by agent id and scored by absolute wake time.
//
// The store guarantees at most one pending entry per agent — scheduling an
// already-scheduled agent overwrites its wake time (last write wins), which
// lets the planner re-run every cycle without creating duplicate wakes.
package schedule

import (
	"context"
	"time"
)

// Entry is one pending wake.
type Entry struct {
	AgentID string
	WakeAt  time.Time
}

// Store is the delay store contract. The only mutation primitives are
// overwrite-by-agent-id and batch removal by exact key set; no component
// mutates another component's entries in place.
type Store interface {
	// Schedule writes all entries in one round trip, overwriting any
	// pending entry for the same agent.
	Schedule(ctx context.Context, entries []Entry) error

	// Due returns up to limit entries with wake time <= now, ordered by
	// wake time ascending. Entries stay in the store until removed.
	Due(ctx context.Context, now time.Time, limit int) ([]Entry, error)

	// Remove deletes exactly the given agent ids. Removal is keyed by the
	// fetched set, never a range delete, so entries written concurrently by
	// the planner survive.
	Remove(ctx context.Context, agentIDs []string) error

	// Len reports the number of pending entries.
	Len(ctx context.Context) (int, error)
}
