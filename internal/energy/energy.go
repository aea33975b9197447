// Package energy implements the cost governor: a per-agent energy ledger
// that gates manual triggers.
//
// The check-then-decrement is one logical operation and every
// implementation must make it atomic — two concurrent triggers racing the
// same balance must never drive it negative. The Redis implementation uses
// a single Lua script; the in-memory one holds a mutex across the sequence.
package energy

import "context"

// DefaultSeed is the balance lazily granted on first read. A dev-friendly
// default, not a billing model.
const DefaultSeed = 100

// Ledger is the cost governor contract.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// AuthorizeAndCharge deducts cost from the agent's balance if the
	// pre-deduction balance covers it. Returns ok=false with the balance
	// unchanged when it does not — callers surface that as a billing
	// failure, not a fatal error. An absent or zero balance is seeded
	// before the check, so denial only happens on a positive balance
	// smaller than the cost.
	AuthorizeAndCharge(ctx context.Context, agentID string, cost int) (ok bool, remaining int, err error)

	// Refund returns cost to the agent's balance, unwinding an authorized
	// charge whose side effect failed.
	Refund(ctx context.Context, agentID string, cost int) error

	// Balance reads the current balance, seeding it if absent.
	Balance(ctx context.Context, agentID string) (int, error)

	// Close releases resources.
	Close() error
}
