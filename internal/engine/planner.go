// Package engine contains the three background loops that drive the agent
// lifecycle: the Planner (hourly probabilistic scheduling), the Dispatcher
// (second-granularity due-entry publishing), and the Worker (wake-message
// consumption through the decision pipeline).
//
// Each loop owns its cadence and tolerates backend failures by logging and
// retrying on the next cycle; none of them crash the process.
package engine

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yrevash/qoneqt-agent/internal/model"
	"github.com/yrevash/qoneqt-agent/internal/schedule"
)

// maxJitterSeconds spreads wakes inside the planning window so thousands of
// agents with the same active hour do not stampede the oracle at once.
const maxJitterSeconds = 3500

// freeTierWindowHours gates free agents to 6-hour planning boundaries.
const freeTierWindowHours = 6

// serendipityChance lets a free agent slip through an off-boundary cycle
// occasionally, so free-tier activity is not perfectly predictable.
const serendipityChance = 0.10

// AgentLister is the slice of the profile store the planner needs.
type AgentLister interface {
	ListActiveAgents(ctx context.Context) ([]model.PlanCandidate, error)
}

// Planner runs the hourly scheduling pass: one Bernoulli draw per eligible
// agent against its activity schedule, winners written to the delay store
// with random jitter. Re-running within the same hour is safe because the
// delay store overwrites per agent.
type Planner struct {
	agents       AgentLister
	store        schedule.Store
	logger       *slog.Logger
	interval     time.Duration
	retryBackoff time.Duration

	// Injectable for deterministic tests.
	now  func() time.Time
	rand func() float64

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// NewPlanner creates a planner. interval is normally one hour.
func NewPlanner(agents AgentLister, store schedule.Store, interval time.Duration, logger *slog.Logger) *Planner {
	return &Planner{
		agents:       agents,
		store:        store,
		logger:       logger,
		interval:     interval,
		retryBackoff: time.Minute,
		now:          time.Now,
		rand:         rand.Float64,
		done:         make(chan struct{}),
	}
}

// Start begins the planning loop. An immediate first pass runs before the
// ticker cadence takes over, so a fresh deployment schedules wakes without
// waiting a full interval.
func (p *Planner) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		p.logger.Warn("planner: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancelLoop = cancel
	go p.loop(loopCtx)
}

// Drain stops the loop and blocks until it exits or ctx expires.
func (p *Planner) Drain(ctx context.Context) {
	if p.cancelLoop != nil {
		p.cancelLoop()
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn("planner: drain timed out")
	}
}

func (p *Planner) loop(ctx context.Context) {
	defer p.once.Do(func() { close(p.done) })

	p.runPass(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runPass(ctx)
		}
	}
}

// runPass drives one planning cycle to completion, retrying after a short
// backoff while a backend is unavailable. A transient outage at the hour
// boundary must not cost agents the whole planning window.
func (p *Planner) runPass(ctx context.Context) {
	for {
		if err := p.runOnce(ctx); err == nil {
			return
		}
		t := time.NewTimer(p.retryBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// runOnce executes one planning pass.
func (p *Planner) runOnce(ctx context.Context) error {
	now := p.now().UTC()
	hour := now.Hour()

	candidates, err := p.agents.ListActiveAgents(ctx)
	if err != nil {
		p.logger.Error("planner: list active agents", "error", err)
		return err
	}

	var entries []schedule.Entry
	skippedSleep, skippedTier := 0, 0

	for _, c := range candidates {
		prob := c.ActivitySchedule.Probability(hour)
		if prob == 0 {
			// Explicit deep sleep for this hour: no draw, no fallback.
			skippedSleep++
			continue
		}

		if !p.tierEligible(c.Tier, hour) {
			skippedTier++
			continue
		}

		if p.rand() >= prob {
			continue
		}

		jitter := time.Duration(p.rand() * maxJitterSeconds * float64(time.Second))
		entries = append(entries, schedule.Entry{
			AgentID: c.ID.String(),
			WakeAt:  now.Add(jitter),
		})
	}

	if len(entries) > 0 {
		if err := p.store.Schedule(ctx, entries); err != nil {
			p.logger.Error("planner: schedule wakes", "error", err, "count", len(entries))
			return err
		}
	}

	p.logger.Info("planner: cycle complete",
		"hour", hour,
		"agents", len(candidates),
		"scheduled", len(entries),
		"deep_sleep", skippedSleep,
		"tier_gated", skippedTier,
	)
	return nil
}

// tierEligible applies the tier gate for this planning hour. Pro agents are
// always eligible. Free agents are eligible on 6-hour boundaries, plus a
// small serendipity chance on every other hour.
func (p *Planner) tierEligible(tier model.Tier, hour int) bool {
	if tier == model.TierPro {
		return true
	}
	if hour%freeTierWindowHours == 0 {
		return true
	}
	return p.rand() < serendipityChance
}
