package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yrevash/qoneqt-agent/internal/broker"
	"github.com/yrevash/qoneqt-agent/internal/model"
	"github.com/yrevash/qoneqt-agent/internal/schedule"
	"github.com/yrevash/qoneqt-agent/internal/storage"
)

var testLanes = broker.Lanes{High: "queue.high_priority", Low: "queue.low_priority"}

type fakeTiers struct {
	tiers map[uuid.UUID]model.Tier
	err   error
}

func (f *fakeTiers) GetAgentTier(_ context.Context, id uuid.UUID) (model.Tier, error) {
	if f.err != nil {
		return "", f.err
	}
	tier, ok := f.tiers[id]
	if !ok {
		return "", storage.ErrNotFound
	}
	return tier, nil
}

func newTestDispatcher(store schedule.Store, tiers TierResolver, pub broker.Publisher, at time.Time) *Dispatcher {
	d := NewDispatcher(store, tiers, pub, testLanes, time.Second, 50, slog.New(slog.DiscardHandler))
	d.now = func() time.Time { return at }
	return d
}

func TestDispatcherRoutesByCurrentTier(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	proID, freeID := uuid.New(), uuid.New()

	store := schedule.NewMemoryStore()
	require.NoError(t, store.Schedule(ctx, []schedule.Entry{
		{AgentID: proID.String(), WakeAt: now.Add(-time.Minute)},
		{AgentID: freeID.String(), WakeAt: now.Add(-time.Second)},
	}))

	b := broker.NewMemoryBroker(testLanes)
	d := newTestDispatcher(store, &fakeTiers{tiers: map[uuid.UUID]model.Tier{
		proID:  model.TierPro,
		freeID: model.TierFree,
	}}, b, now)
	d.runOnce(ctx)

	high := b.Published(testLanes.High)
	require.Len(t, high, 1)
	assert.Equal(t, proID.String(), high[0].AgentID)
	assert.Equal(t, model.WakeSourceScheduled, high[0].Source)
	assert.Equal(t, model.WakeActionWakeUp, high[0].Action)

	low := b.Published(testLanes.Low)
	require.Len(t, low, 1)
	assert.Equal(t, freeID.String(), low[0].AgentID)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "dispatched entries must be removed")
}

func TestDispatcherLeavesFutureEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	id := uuid.New()

	store := schedule.NewMemoryStore()
	require.NoError(t, store.Schedule(ctx, []schedule.Entry{
		{AgentID: id.String(), WakeAt: now.Add(time.Hour)},
	}))

	b := broker.NewMemoryBroker(testLanes)
	d := newTestDispatcher(store, &fakeTiers{tiers: map[uuid.UUID]model.Tier{id: model.TierPro}}, b, now)
	d.runOnce(ctx)

	assert.Empty(t, b.Published(testLanes.High))
	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatcherDropsDeletedAgents(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	gone := uuid.New()

	store := schedule.NewMemoryStore()
	require.NoError(t, store.Schedule(ctx, []schedule.Entry{
		{AgentID: gone.String(), WakeAt: now.Add(-time.Minute)},
		{AgentID: "not-a-uuid", WakeAt: now.Add(-time.Minute)},
	}))

	b := broker.NewMemoryBroker(testLanes)
	d := newTestDispatcher(store, &fakeTiers{tiers: map[uuid.UUID]model.Tier{}}, b, now)
	d.runOnce(ctx)

	assert.Empty(t, b.Published(testLanes.High))
	assert.Empty(t, b.Published(testLanes.Low))

	// Undispatchable entries must not clog the store forever.
	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatcherKeepsEntriesOnTransientError(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	id := uuid.New()

	store := schedule.NewMemoryStore()
	require.NoError(t, store.Schedule(ctx, []schedule.Entry{
		{AgentID: id.String(), WakeAt: now.Add(-time.Minute)},
	}))

	b := broker.NewMemoryBroker(testLanes)
	d := newTestDispatcher(store, &fakeTiers{err: assert.AnError}, b, now)
	d.runOnce(ctx)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "entry must survive for the next tick")
}

type failingDueStore struct {
	schedule.Store
	calls atomic.Int32
}

func (f *failingDueStore) Due(context.Context, time.Time, int) ([]schedule.Entry, error) {
	f.calls.Add(1)
	return nil, assert.AnError
}

func TestDispatcherBacksOffAfterFailedTick(t *testing.T) {
	// With a 1ms tick, 50ms of wall time allows dozens of fetches; the
	// error backoff must pin the loop after the first failure.
	store := &failingDueStore{}
	b := broker.NewMemoryBroker(testLanes)
	d := NewDispatcher(store, &fakeTiers{}, b, testLanes, time.Millisecond, 50, slog.New(slog.DiscardHandler))
	d.errBackoff = 250 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	d.Drain(drainCtx)
	drainCancel()

	calls := int(store.calls.Load())
	assert.GreaterOrEqual(t, calls, 1)
	assert.LessOrEqual(t, calls, 2)
}

func TestDispatcherHonorsBatchLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	store := schedule.NewMemoryStore()
	tiers := map[uuid.UUID]model.Tier{}
	var entries []schedule.Entry
	for i := 0; i < 120; i++ {
		id := uuid.New()
		tiers[id] = model.TierFree
		entries = append(entries, schedule.Entry{AgentID: id.String(), WakeAt: now.Add(-time.Minute)})
	}
	require.NoError(t, store.Schedule(ctx, entries))

	b := broker.NewMemoryBroker(testLanes)
	d := newTestDispatcher(store, &fakeTiers{tiers: tiers}, b, now)
	d.runOnce(ctx)

	assert.Len(t, b.Published(testLanes.Low), 50)
	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 70, n)
}
