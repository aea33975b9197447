package recsys

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yrevash/qoneqt-agent/internal/embedding"
	"github.com/yrevash/qoneqt-agent/internal/model"
	"github.com/yrevash/qoneqt-agent/internal/storage"
)

type fakeStore struct {
	initiator model.Agent
	missing   bool
	hits      []storage.AgentDistance
	lastQuery storage.SimilarQuery
}

func (f *fakeStore) GetAgent(_ context.Context, id uuid.UUID) (model.Agent, error) {
	if f.missing {
		return model.Agent{}, storage.ErrNotFound
	}
	return f.initiator, nil
}

func (f *fakeStore) SimilarAgents(_ context.Context, q storage.SimilarQuery) ([]storage.AgentDistance, error) {
	f.lastQuery = q
	return f.hits, nil
}

type fakeCounter struct {
	counts map[string]int
	calls  int
}

func (f *fakeCounter) Counts(_ context.Context, ids []string) ([]int, error) {
	f.calls++
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = f.counts[id]
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func candidate(name string, distance float64) storage.AgentDistance {
	return storage.AgentDistance{
		Agent: model.Agent{
			ID:        uuid.New(),
			FullName:  name,
			UpdatedAt: time.Now().UTC(),
		},
		Distance: distance,
	}
}

func TestLocationCascadeSmartDefault(t *testing.T) {
	store := &fakeStore{
		initiator: model.Agent{ID: uuid.New(), Location: "Bangalore, India"},
	}
	svc := New(store, embedding.NewNoopProvider(4), &fakeCounter{}, testLogger())

	_, err := svc.GetRecommendations(context.Background(), store.initiator.ID, "query", Filters{}, 3, true)
	require.NoError(t, err)
	assert.Equal(t, "Bangalore, India", store.lastQuery.Location,
		"no explicit filter + smart location must fall back to initiator location")
}

func TestLocationCascadeExplicitWins(t *testing.T) {
	store := &fakeStore{
		initiator: model.Agent{ID: uuid.New(), Location: "Bangalore, India"},
	}
	svc := New(store, embedding.NewNoopProvider(4), &fakeCounter{}, testLogger())

	_, err := svc.GetRecommendations(context.Background(), store.initiator.ID, "query",
		Filters{Location: "USA"}, 3, true)
	require.NoError(t, err)
	assert.Equal(t, "USA", store.lastQuery.Location, "explicit filter beats the initiator's profile")
}

func TestLocationCascadeGlobalFallback(t *testing.T) {
	store := &fakeStore{initiator: model.Agent{ID: uuid.New()}}
	svc := New(store, embedding.NewNoopProvider(4), &fakeCounter{}, testLogger())

	_, err := svc.GetRecommendations(context.Background(), store.initiator.ID, "query", Filters{}, 3, true)
	require.NoError(t, err)
	assert.Empty(t, store.lastQuery.Location, "no location anywhere means a global search")
}

func TestSmartLocationDisabled(t *testing.T) {
	store := &fakeStore{
		initiator: model.Agent{ID: uuid.New(), Location: "Bangalore, India"},
	}
	svc := New(store, embedding.NewNoopProvider(4), &fakeCounter{}, testLogger())

	_, err := svc.GetRecommendations(context.Background(), store.initiator.ID, "query", Filters{}, 3, false)
	require.NoError(t, err)
	assert.Empty(t, store.lastQuery.Location)
}

func TestOverFetchPoolSize(t *testing.T) {
	store := &fakeStore{initiator: model.Agent{ID: uuid.New()}}
	svc := New(store, embedding.NewNoopProvider(4), &fakeCounter{}, testLogger())

	_, err := svc.GetRecommendations(context.Background(), store.initiator.ID, "query", Filters{}, 5, true)
	require.NoError(t, err)
	assert.Equal(t, 15, store.lastQuery.Limit, "retrieval pool is 3x the requested limit")
}

func TestEmptyPoolIsNotAnError(t *testing.T) {
	store := &fakeStore{initiator: model.Agent{ID: uuid.New()}}
	svc := New(store, embedding.NewNoopProvider(4), &fakeCounter{}, testLogger())

	got, err := svc.GetRecommendations(context.Background(), store.initiator.ID, "query", Filters{}, 3, true)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMissingInitiatorIsNotAnError(t *testing.T) {
	store := &fakeStore{missing: true}
	svc := New(store, embedding.NewNoopProvider(4), &fakeCounter{}, testLogger())

	got, err := svc.GetRecommendations(context.Background(), uuid.New(), "query", Filters{}, 3, true)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRerankingUsesCompositeScore(t *testing.T) {
	// "near" wins on vector distance alone, but "famous" has saturated
	// social proof and a slightly worse distance; the composite score must
	// put famous first.
	near := candidate("near", 0.10)
	famous := candidate("famous", 0.20)
	store := &fakeStore{
		initiator: model.Agent{ID: uuid.New()},
		hits:      []storage.AgentDistance{near, famous},
	}
	counter := &fakeCounter{counts: map[string]int{
		near.Agent.ID.String():   0,
		famous.Agent.ID.String(): 50000,
	}}
	svc := New(store, embedding.NewNoopProvider(4), counter, testLogger())

	got, err := svc.GetRecommendations(context.Background(), store.initiator.ID, "query", Filters{}, 2, true)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "famous", got[0].FullName)
	assert.Equal(t, "near", got[1].FullName)
	assert.Equal(t, 1, counter.calls, "follower counts are fetched in one batch")
	assert.Equal(t, 50000, got[0].Debug.FollowerCount)
	assert.InDelta(t, 0.20, got[0].Debug.VectorDistance, 1e-9)
}

func TestTruncatesToLimit(t *testing.T) {
	store := &fakeStore{
		initiator: model.Agent{ID: uuid.New()},
		hits: []storage.AgentDistance{
			candidate("a", 0.1), candidate("b", 0.2), candidate("c", 0.3),
			candidate("d", 0.4), candidate("e", 0.5),
		},
	}
	svc := New(store, embedding.NewNoopProvider(4), &fakeCounter{}, testLogger())

	got, err := svc.GetRecommendations(context.Background(), store.initiator.ID, "query", Filters{}, 2, true)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.GreaterOrEqual(t, got[0].MatchScore, got[1].MatchScore)
}
