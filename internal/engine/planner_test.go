package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yrevash/qoneqt-agent/internal/model"
	"github.com/yrevash/qoneqt-agent/internal/schedule"
)

type fakeLister struct {
	candidates []model.PlanCandidate
	err        error
}

func (f *fakeLister) ListActiveAgents(context.Context) ([]model.PlanCandidate, error) {
	return f.candidates, f.err
}

func flatSchedule(p float64) model.ActivitySchedule {
	s := make(model.ActivitySchedule, model.ScheduleHours)
	for i := range s {
		s[i] = p
	}
	return s
}

func newTestPlanner(lister *fakeLister, store schedule.Store, at time.Time, randVal float64) *Planner {
	p := NewPlanner(lister, store, time.Hour, slog.New(slog.DiscardHandler))
	p.now = func() time.Time { return at }
	p.rand = func() float64 { return randVal }
	return p
}

func TestPlannerSchedulesWinningAgents(t *testing.T) {
	ctx := context.Background()
	store := schedule.NewMemoryStore()
	agent := model.PlanCandidate{ID: uuid.New(), Tier: model.TierPro, ActivitySchedule: flatSchedule(0.9)}
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	// rand 0.0 always loses to prob 0.9 and yields zero jitter.
	p := newTestPlanner(&fakeLister{candidates: []model.PlanCandidate{agent}}, store, now, 0.0)
	p.runOnce(ctx)

	due, err := store.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, agent.ID.String(), due[0].AgentID)
	assert.Equal(t, now, due[0].WakeAt)
}

func TestPlannerSkipsLosingDraws(t *testing.T) {
	ctx := context.Background()
	store := schedule.NewMemoryStore()
	agent := model.PlanCandidate{ID: uuid.New(), Tier: model.TierPro, ActivitySchedule: flatSchedule(0.3)}

	// rand 0.5 >= prob 0.3: the agent stays asleep.
	p := newTestPlanner(&fakeLister{candidates: []model.PlanCandidate{agent}}, store,
		time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC), 0.5)
	p.runOnce(ctx)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPlannerDeepSleepSkipsDraw(t *testing.T) {
	ctx := context.Background()
	store := schedule.NewMemoryStore()
	sched := flatSchedule(0.9)
	sched[3] = 0 // explicit deep sleep at 03:00
	agent := model.PlanCandidate{ID: uuid.New(), Tier: model.TierPro, ActivitySchedule: sched}

	// Even a guaranteed-win draw must not fire during deep sleep.
	p := newTestPlanner(&fakeLister{candidates: []model.PlanCandidate{agent}}, store,
		time.Date(2026, 8, 30, 3, 15, 0, 0, time.UTC), 0.0)
	p.runOnce(ctx)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPlannerMalformedScheduleUsesDefault(t *testing.T) {
	ctx := context.Background()
	store := schedule.NewMemoryStore()
	agent := model.PlanCandidate{ID: uuid.New(), Tier: model.TierPro, ActivitySchedule: model.ActivitySchedule{0.5}}

	// Truncated schedule falls back to the 0.1 default, which a 0.05 draw wins.
	p := newTestPlanner(&fakeLister{candidates: []model.PlanCandidate{agent}}, store,
		time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC), 0.05)
	p.runOnce(ctx)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPlannerFreeTierGate(t *testing.T) {
	ctx := context.Background()
	free := model.PlanCandidate{ID: uuid.New(), Tier: model.TierFree, ActivitySchedule: flatSchedule(0.9)}
	pro := model.PlanCandidate{ID: uuid.New(), Tier: model.TierPro, ActivitySchedule: flatSchedule(0.9)}
	lister := &fakeLister{candidates: []model.PlanCandidate{free, pro}}

	t.Run("off-boundary hour without serendipity gates free only", func(t *testing.T) {
		store := schedule.NewMemoryStore()
		// 14:00 is not a 6-hour boundary; rand 0.5 fails the 10% serendipity
		// draw but wins the 0.9 activity draw.
		p := newTestPlanner(lister, store, time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC), 0.5)
		p.runOnce(ctx)

		due, err := store.Due(ctx, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, pro.ID.String(), due[0].AgentID)
	})

	t.Run("boundary hour admits free tier", func(t *testing.T) {
		store := schedule.NewMemoryStore()
		p := newTestPlanner(lister, store, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), 0.5)
		p.runOnce(ctx)

		n, err := store.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("serendipity admits free tier off-boundary", func(t *testing.T) {
		store := schedule.NewMemoryStore()
		// rand 0.05 passes the 10% serendipity gate and the activity draw.
		p := newTestPlanner(lister, store, time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC), 0.05)
		p.runOnce(ctx)

		n, err := store.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestPlannerJitterStaysInWindow(t *testing.T) {
	ctx := context.Background()
	store := schedule.NewMemoryStore()
	agent := model.PlanCandidate{ID: uuid.New(), Tier: model.TierPro, ActivitySchedule: flatSchedule(1.0)}
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	// rand just under 1.0: wins the prob-1.0 draw and produces near-maximal jitter.
	p := newTestPlanner(&fakeLister{candidates: []model.PlanCandidate{agent}}, store, now, 0.999999)
	p.runOnce(ctx)

	due, err := store.Due(ctx, now.Add(maxJitterSeconds*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.False(t, due[0].WakeAt.Before(now))
	assert.True(t, due[0].WakeAt.Before(now.Add(maxJitterSeconds*time.Second)))
}

func TestPlannerRerunOverwrites(t *testing.T) {
	ctx := context.Background()
	store := schedule.NewMemoryStore()
	agent := model.PlanCandidate{ID: uuid.New(), Tier: model.TierPro, ActivitySchedule: flatSchedule(1.0)}
	lister := &fakeLister{candidates: []model.PlanCandidate{agent}}
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	p := newTestPlanner(lister, store, now, 0.0)
	p.runOnce(ctx)
	p.runOnce(ctx)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "re-planning must overwrite, not duplicate")
}

func TestPlannerToleratesListError(t *testing.T) {
	store := schedule.NewMemoryStore()
	p := newTestPlanner(&fakeLister{err: assert.AnError}, store,
		time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC), 0.0)
	err := p.runOnce(context.Background())
	assert.Error(t, err, "failed cycle must be reported so the loop retries")

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

type flakyLister struct {
	failures   int
	calls      int
	candidates []model.PlanCandidate
}

func (f *flakyLister) ListActiveAgents(context.Context) ([]model.PlanCandidate, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, assert.AnError
	}
	return f.candidates, nil
}

func TestPlannerRetriesFailedCycle(t *testing.T) {
	// A profile-store blip at the hour boundary must not skip the window:
	// the pass backs off and retries until it completes.
	ctx := context.Background()
	store := schedule.NewMemoryStore()
	agent := model.PlanCandidate{ID: uuid.New(), Tier: model.TierPro, ActivitySchedule: flatSchedule(0.9)}
	lister := &flakyLister{failures: 2, candidates: []model.PlanCandidate{agent}}

	p := NewPlanner(lister, store, time.Hour, slog.New(slog.DiscardHandler))
	p.now = func() time.Time { return time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC) }
	p.rand = func() float64 { return 0.0 }
	p.retryBackoff = time.Millisecond

	p.runPass(ctx)

	assert.Equal(t, 3, lister.calls)
	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
