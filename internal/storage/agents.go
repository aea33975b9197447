package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/yrevash/qoneqt-agent/internal/model"
)

// GetAgent returns a full agent profile by id.
func (db *DB) GetAgent(ctx context.Context, id uuid.UUID) (model.Agent, error) {
	var (
		a        model.Agent
		tier     string
		schedule []float64
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, email, COALESCE(full_name, ''), COALESCE(bio, ''), COALESCE(role, ''),
		        COALESCE(location, ''), COALESCE(skills, '{}'), tier, is_active,
		        activity_schedule, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.Email, &a.FullName, &a.Bio, &a.Role,
		&a.Location, &a.Skills, &tier, &a.IsActive,
		&schedule, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, ErrNotFound
		}
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	a.Tier = model.ParseTier(tier)
	a.ActivitySchedule = model.ActivitySchedule(schedule)
	return a, nil
}

// GetAgentTier resolves just the tier for a due agent. The delay store holds
// no tier info, so the dispatcher re-resolves it at publish time.
func (db *DB) GetAgentTier(ctx context.Context, id uuid.UUID) (model.Tier, error) {
	var tier string
	err := db.pool.QueryRow(ctx, `SELECT tier FROM users WHERE id = $1`, id).Scan(&tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage: get agent tier: %w", err)
	}
	return model.ParseTier(tier), nil
}

// UpdateAgentTier persists a tier change.
func (db *DB) UpdateAgentTier(ctx context.Context, id uuid.UUID, tier model.Tier) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET tier = $2, updated_at = now() WHERE id = $1`,
		id, string(tier),
	)
	if err != nil {
		return fmt.Errorf("storage: update agent tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveAgents returns the planner's working set: id, tier, and activity
// schedule for every active agent. Full profiles are deliberately not
// loaded; a planning cycle over a large user base must stay cheap.
func (db *DB) ListActiveAgents(ctx context.Context) ([]model.PlanCandidate, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, tier, activity_schedule FROM users WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("storage: list active agents: %w", err)
	}
	defer rows.Close()

	var out []model.PlanCandidate
	for rows.Next() {
		var (
			c        model.PlanCandidate
			tier     string
			schedule []float64
		)
		if err := rows.Scan(&c.ID, &tier, &schedule); err != nil {
			return nil, fmt.Errorf("storage: scan active agent: %w", err)
		}
		c.Tier = model.ParseTier(tier)
		c.ActivitySchedule = model.ActivitySchedule(schedule)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SimilarQuery describes one nearest-neighbour retrieval.
type SimilarQuery struct {
	InitiatorID uuid.UUID
	Vector      pgvector.Vector
	Location    string // ILIKE substring predicate; empty = global
	Role        string // ILIKE substring predicate; empty = any
	Limit       int
}

// AgentDistance pairs a candidate profile with its true cosine distance to
// the query vector, as computed by the database.
type AgentDistance struct {
	Agent    model.Agent
	Distance float64
}

// SimilarAgents returns the nearest active candidates by cosine distance,
// excluding the initiator, ordered by ascending distance. The distance is
// returned per row so ranking never has to approximate it from result order.
func (db *DB) SimilarAgents(ctx context.Context, q SimilarQuery) ([]AgentDistance, error) {
	var sb strings.Builder
	sb.WriteString(
		`SELECT id, COALESCE(full_name, ''), COALESCE(bio, ''), COALESCE(role, ''),
		        COALESCE(location, ''), COALESCE(skills, '{}'), updated_at,
		        interest_vector <=> $1 AS distance
		 FROM users
		 WHERE id <> $2 AND is_active AND interest_vector IS NOT NULL`)
	args := []any{q.Vector, q.InitiatorID}

	if q.Location != "" {
		args = append(args, "%"+q.Location+"%")
		sb.WriteString(" AND location ILIKE $" + strconv.Itoa(len(args)))
	}
	if q.Role != "" {
		args = append(args, "%"+q.Role+"%")
		sb.WriteString(" AND role ILIKE $" + strconv.Itoa(len(args)))
	}

	args = append(args, q.Limit)
	sb.WriteString(" ORDER BY distance LIMIT $" + strconv.Itoa(len(args)))

	rows, err := db.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: similar agents: %w", err)
	}
	defer rows.Close()

	var out []AgentDistance
	for rows.Next() {
		var (
			hit       AgentDistance
			updatedAt time.Time
		)
		if err := rows.Scan(&hit.Agent.ID, &hit.Agent.FullName, &hit.Agent.Bio,
			&hit.Agent.Role, &hit.Agent.Location, &hit.Agent.Skills,
			&updatedAt, &hit.Distance); err != nil {
			return nil, fmt.Errorf("storage: scan similar agent: %w", err)
		}
		hit.Agent.UpdatedAt = updatedAt
		out = append(out, hit)
	}
	return out, rows.Err()
}
