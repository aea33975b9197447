// Package auditor runs the periodic compliance loop: recent decision traces
// are re-reviewed by the oracle, and faulty reasoning is flagged in the logs
// for a human to follow up. The auditor is read-only — it never mutates
// traces or agents.
package auditor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yrevash/qoneqt-agent/internal/brain"
	"github.com/yrevash/qoneqt-agent/internal/model"
	"github.com/yrevash/qoneqt-agent/internal/storage"
)

// TraceSource is the slice of the storage layer the auditor reads.
type TraceSource interface {
	RecentTraces(ctx context.Context, limit int) ([]model.AgentTrace, error)
	GetAgent(ctx context.Context, id uuid.UUID) (model.Agent, error)
}

// Auditor periodically re-reviews the newest traces.
type Auditor struct {
	source    TraceSource
	oracle    brain.Auditor
	logger    *slog.Logger
	interval  time.Duration
	batchSize int

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// New creates an auditor. An interval of zero disables the loop entirely;
// Start becomes a no-op.
func New(source TraceSource, oracle brain.Auditor, interval time.Duration, batchSize int, logger *slog.Logger) *Auditor {
	return &Auditor{
		source:    source,
		oracle:    oracle,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		done:      make(chan struct{}),
	}
}

// Start begins the audit loop.
func (a *Auditor) Start(ctx context.Context) {
	if a.interval <= 0 {
		a.logger.Info("auditor: disabled")
		a.once.Do(func() { close(a.done) })
		return
	}
	if !a.started.CompareAndSwap(false, true) {
		a.logger.Warn("auditor: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	a.cancelLoop = cancel
	go a.loop(loopCtx)
}

// Drain stops the loop and blocks until it exits or ctx expires.
func (a *Auditor) Drain(ctx context.Context) {
	if a.cancelLoop != nil {
		a.cancelLoop()
	}
	select {
	case <-a.done:
	case <-ctx.Done():
		a.logger.Warn("auditor: drain timed out")
	}
}

func (a *Auditor) loop(ctx context.Context) {
	defer a.once.Do(func() { close(a.done) })

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

// runOnce audits one batch of recent traces. Per-trace failures are logged
// and skipped; one bad trace must not abort the cycle.
func (a *Auditor) runOnce(ctx context.Context) {
	traces, err := a.source.RecentTraces(ctx, a.batchSize)
	if err != nil {
		a.logger.Error("auditor: fetch recent traces", "error", err)
		return
	}
	if len(traces) == 0 {
		return
	}

	flagged := 0
	for _, trace := range traces {
		bio := "Unknown"
		agent, err := a.source.GetAgent(ctx, trace.AgentID)
		if err == nil {
			bio = agent.Bio
		} else if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Error("auditor: load agent", "error", err, "trace_id", trace.ID)
			continue
		}

		verdict, err := a.oracle.Audit(ctx, bio, trace)
		if err != nil {
			a.logger.Error("auditor: audit call failed", "error", err, "trace_id", trace.ID)
			continue
		}

		if verdict.Status == brain.AuditFlagged {
			flagged++
			a.logger.Warn("auditor: flagged interaction",
				"trace_id", trace.ID,
				"agent_id", trace.AgentID,
				"decision", trace.Decision,
				"audit_reasoning", verdict.AuditReasoning,
			)
		} else {
			a.logger.Info("auditor: passed", "trace_id", trace.ID)
		}
	}

	a.logger.Info("auditor: cycle complete", "audited", len(traces), "flagged", flagged)
}
