// Package recsys implements the candidate retriever: the matchmaking funnel
// that turns a wake event into a ranked list of peers.
//
// Flow: resolve the location filter (explicit > initiator profile > global),
// embed the query text, over-fetch nearest candidates from the profile
// store, enrich with one batched follower-count lookup, score with the
// ranking model, and truncate to the requested limit.
package recsys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/yrevash/qoneqt-agent/internal/embedding"
	"github.com/yrevash/qoneqt-agent/internal/model"
	"github.com/yrevash/qoneqt-agent/internal/ranking"
	"github.com/yrevash/qoneqt-agent/internal/storage"
)

// overFetchFactor sizes the retrieval pool relative to the requested limit
// so re-ranking by the composite score has slack to reorder.
const overFetchFactor = 3

// ProfileStore is the slice of the storage layer the retriever needs.
type ProfileStore interface {
	GetAgent(ctx context.Context, id uuid.UUID) (model.Agent, error)
	SimilarAgents(ctx context.Context, q storage.SimilarQuery) ([]storage.AgentDistance, error)
}

// FollowerCounter returns follower counts for a batch of agent ids in input
// order. One round trip for the whole pool, never N sequential lookups.
type FollowerCounter interface {
	Counts(ctx context.Context, agentIDs []string) ([]int, error)
}

// Filters are the caller's explicit retrieval predicates.
type Filters struct {
	Location string
	Role     string
}

// Service is the candidate retriever.
type Service struct {
	store    ProfileStore
	embedder embedding.Provider
	counter  FollowerCounter
	logger   *slog.Logger
}

// New creates a retriever.
func New(store ProfileStore, embedder embedding.Provider, counter FollowerCounter, logger *slog.Logger) *Service {
	return &Service{store: store, embedder: embedder, counter: counter, logger: logger}
}

// GetRecommendations returns up to limit candidates for the initiator,
// ordered by descending match score.
//
// The location cascade is a hard contract: an explicit filter wins; absent
// that, the initiator's own location applies when smartLocation is set;
// absent both, the search is global. A missing initiator or an empty
// candidate pool yields an empty result, not an error.
func (s *Service) GetRecommendations(
	ctx context.Context,
	initiatorID uuid.UUID,
	queryText string,
	filters Filters,
	limit int,
	smartLocation bool,
) ([]model.RankedCandidate, error) {
	initiator, err := s.store.GetAgent(ctx, initiatorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("recsys: initiator not found", "initiator_id", initiatorID)
			return nil, nil
		}
		return nil, fmt.Errorf("recsys: load initiator: %w", err)
	}

	location := ""
	switch {
	case filters.Location != "":
		location = filters.Location
		s.logger.Debug("recsys: explicit location filter", "location", location)
	case smartLocation && initiator.Location != "":
		location = initiator.Location
		s.logger.Debug("recsys: defaulting to initiator location", "location", location)
	default:
		s.logger.Debug("recsys: no location context, searching globally")
	}

	vector, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("recsys: embed query: %w", err)
	}

	hits, err := s.store.SimilarAgents(ctx, storage.SimilarQuery{
		InitiatorID: initiatorID,
		Vector:      vector,
		Location:    location,
		Role:        filters.Role,
		Limit:       limit * overFetchFactor,
	})
	if err != nil {
		return nil, fmt.Errorf("recsys: similarity search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.Agent.ID.String()
	}
	counts, err := s.counter.Counts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("recsys: follower counts: %w", err)
	}
	if len(counts) != len(hits) {
		return nil, fmt.Errorf("recsys: follower counts: got %d for %d candidates", len(counts), len(hits))
	}

	scored := make([]model.RankedCandidate, len(hits))
	for i, hit := range hits {
		// The true per-candidate distance from the store, never the pool index.
		score := ranking.Score(hit.Distance, hit.Agent.UpdatedAt, counts[i])
		scored[i] = model.RankedCandidate{
			UserID:     hit.Agent.ID.String(),
			FullName:   hit.Agent.FullName,
			Bio:        hit.Agent.Bio,
			Location:   hit.Agent.Location,
			Role:       hit.Agent.Role,
			Skills:     hit.Agent.Skills,
			MatchScore: score,
			Debug: model.CandidateDebug{
				VectorDistance: hit.Distance,
				FollowerCount:  counts[i],
				Recency:        hit.Agent.UpdatedAt,
			},
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].MatchScore > scored[j].MatchScore
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}
