package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yrevash/qoneqt-agent/internal/broker"
	"github.com/yrevash/qoneqt-agent/internal/model"
	"github.com/yrevash/qoneqt-agent/internal/schedule"
	"github.com/yrevash/qoneqt-agent/internal/storage"
)

// TierResolver re-resolves an agent's tier at dispatch time. The delay store
// holds only agent ids, so an upgrade between planning and dispatch still
// routes the wake to the right lane.
type TierResolver interface {
	GetAgentTier(ctx context.Context, id uuid.UUID) (model.Tier, error)
}

// Dispatcher drains due entries from the delay store every tick and publishes
// them as wake messages onto the priority lanes. Removal is keyed by the
// exact fetched set, so entries the planner writes mid-tick survive.
type Dispatcher struct {
	store     schedule.Store
	tiers     TierResolver
	publisher broker.Publisher
	lanes     broker.Lanes
	logger     *slog.Logger
	interval   time.Duration
	errBackoff time.Duration
	batchSize  int

	now func() time.Time

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// NewDispatcher creates a dispatcher. interval is normally one second.
func NewDispatcher(store schedule.Store, tiers TierResolver, publisher broker.Publisher,
	lanes broker.Lanes, interval time.Duration, batchSize int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		tiers:      tiers,
		publisher:  publisher,
		lanes:      lanes,
		logger:     logger,
		interval:   interval,
		errBackoff: 5 * time.Second,
		batchSize:  batchSize,
		now:        time.Now,
		done:       make(chan struct{}),
	}
}

// Start begins the dispatch loop.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		d.logger.Warn("dispatcher: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancelLoop = cancel
	go d.loop(loopCtx)
}

// Drain stops the loop and blocks until it exits or ctx expires. Entries not
// yet published stay in the delay store and are picked up after restart.
func (d *Dispatcher) Drain(ctx context.Context) {
	if d.cancelLoop != nil {
		d.cancelLoop()
	}
	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("dispatcher: drain timed out")
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.runOnce(ctx); err != nil {
				d.backoff(ctx)
			}
		}
	}
}

// backoff pauses the loop after a failed tick so a down delay store is not
// hammered at the normal cadence.
func (d *Dispatcher) backoff(ctx context.Context) {
	t := time.NewTimer(d.errBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// runOnce drains one batch of due entries. A non-nil return means the tick
// as a whole failed and the loop should back off before the next one.
//
// Per-entry outcomes:
//   - malformed agent id, or agent no longer in the profile store: the entry
//     is removed without publishing — it can never become dispatchable.
//   - transient tier-lookup or publish failure: the entry is kept for the
//     next tick.
func (d *Dispatcher) runOnce(ctx context.Context) error {
	now := d.now()
	due, err := d.store.Due(ctx, now, d.batchSize)
	if err != nil {
		d.logger.Error("dispatcher: fetch due entries", "error", err)
		return err
	}
	if len(due) == 0 {
		return nil
	}

	var remove []string
	published := 0

	for _, entry := range due {
		id, err := uuid.Parse(entry.AgentID)
		if err != nil {
			d.logger.Warn("dispatcher: malformed agent id in delay store", "agent_id", entry.AgentID)
			remove = append(remove, entry.AgentID)
			continue
		}

		tier, err := d.tiers.GetAgentTier(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				d.logger.Warn("dispatcher: agent deleted since planning", "agent_id", entry.AgentID)
				remove = append(remove, entry.AgentID)
				continue
			}
			d.logger.Error("dispatcher: resolve tier", "error", err, "agent_id", entry.AgentID)
			continue
		}

		msg := model.NewWakeMessage(id, tier, model.WakeSourceScheduled, now)
		if err := d.publisher.Publish(ctx, d.lanes.ForTier(tier), msg); err != nil {
			d.logger.Error("dispatcher: publish wake", "error", err, "agent_id", entry.AgentID)
			continue
		}
		published++
		remove = append(remove, entry.AgentID)
	}

	if len(remove) > 0 {
		if err := d.store.Remove(ctx, remove); err != nil {
			// At-least-once: the entries will be re-fetched and re-published
			// next tick; consumers must tolerate the duplicates.
			d.logger.Error("dispatcher: remove dispatched entries", "error", err, "count", len(remove))
		}
	}

	if published > 0 {
		d.logger.Info("dispatcher: batch dispatched", "due", len(due), "published", published)
	}
	return nil
}
