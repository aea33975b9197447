package energy

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process Ledger for tests and single-instance dev
// runs. The mutex spans the whole check-then-decrement sequence.
type MemoryLedger struct {
	seed int

	mu       sync.Mutex
	balances map[string]int
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(seed int) *MemoryLedger {
	if seed <= 0 {
		seed = DefaultSeed
	}
	return &MemoryLedger{
		seed:     seed,
		balances: make(map[string]int),
	}
}

// AuthorizeAndCharge implements Ledger.
func (l *MemoryLedger) AuthorizeAndCharge(_ context.Context, agentID string, cost int) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.seedLocked(agentID)
	if bal < cost {
		return false, bal, nil
	}
	bal -= cost
	l.balances[agentID] = bal
	return true, bal, nil
}

// Refund implements Ledger.
func (l *MemoryLedger) Refund(_ context.Context, agentID string, cost int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[agentID] = l.seedLocked(agentID) + cost
	return nil
}

// Balance implements Ledger.
func (l *MemoryLedger) Balance(_ context.Context, agentID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seedLocked(agentID), nil
}

func (l *MemoryLedger) seedLocked(agentID string) int {
	bal, ok := l.balances[agentID]
	if !ok || bal == 0 {
		bal = l.seed
		l.balances[agentID] = bal
	}
	return bal
}

// Close is a no-op.
func (l *MemoryLedger) Close() error { return nil }
