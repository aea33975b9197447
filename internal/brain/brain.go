// Package brain is the client side of the decision oracle: an external
// inference service that judges one candidate for one agent.
//
// A single Oracle interface covers every backend; implementations differ
// only in endpoint and payload shape and are selected by configuration,
// never by branching inside the pipeline. Oracle output is model text, so
// parsing is defensive (see extract.go) and fails closed: an unparseable
// response is "no decision", not a panic or a retry loop.
package brain

import (
	"context"
	"errors"

	"github.com/yrevash/qoneqt-agent/internal/model"
)

// ErrUnavailable signals the oracle could not be reached or answered with a
// transport-level failure. The wake is still consumed; no trace is written.
var ErrUnavailable = errors.New("brain: oracle unavailable")

// ErrNoDecision signals the oracle answered but produced no parseable,
// valid decision after every repair heuristic. Treated like ErrUnavailable
// by the pipeline.
var ErrNoDecision = errors.New("brain: no decision")

// Oracle evaluates a candidate on behalf of an agent.
type Oracle interface {
	// Decide returns the oracle's structured judgment. Implementations
	// must bound the call with a timeout: this is the longest blocking
	// call in the system and it holds a worker's only concurrency slot.
	Decide(ctx context.Context, agent model.Agent, candidate model.RankedCandidate) (model.Decision, error)
}

// Audit statuses.
const (
	AuditPassed  = "PASSED"
	AuditFlagged = "FLAGGED"
)

// AuditVerdict is the oracle's judgment on an already-persisted trace.
type AuditVerdict struct {
	Status         string `json:"status"`
	AuditReasoning string `json:"audit_reasoning"`
}

// Auditor re-reviews persisted traces. Both oracle backends implement it.
type Auditor interface {
	Audit(ctx context.Context, agentBio string, trace model.AgentTrace) (AuditVerdict, error)
}
