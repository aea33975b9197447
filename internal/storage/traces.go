package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yrevash/qoneqt-agent/internal/model"
)

// InsertTrace appends one audit record. Traces are append-only; there is no
// update path by design.
func (db *DB) InsertTrace(ctx context.Context, trace model.AgentTrace) (model.AgentTrace, error) {
	if trace.ID == uuid.Nil {
		trace.ID = uuid.New()
	}
	if trace.CreatedAt.IsZero() {
		trace.CreatedAt = time.Now().UTC()
	}
	if trace.ReasoningLog == nil {
		trace.ReasoningLog = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO agent_traces (id, agent_id, interaction_type, decision, reasoning_log, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		trace.ID, trace.AgentID, trace.InteractionType,
		string(trace.Decision), trace.ReasoningLog, trace.CreatedAt,
	)
	if err != nil {
		return model.AgentTrace{}, fmt.Errorf("storage: insert trace: %w", err)
	}
	return trace, nil
}

// RecentTraces returns the most recent traces across all agents, newest first.
func (db *DB) RecentTraces(ctx context.Context, limit int) ([]model.AgentTrace, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, agent_id, interaction_type, decision, reasoning_log, created_at
		 FROM agent_traces ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent traces: %w", err)
	}
	defer rows.Close()
	return scanTraces(rows)
}

// TracesByAgent returns one agent's traces, newest first.
func (db *DB) TracesByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]model.AgentTrace, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, agent_id, interaction_type, decision, reasoning_log, created_at
		 FROM agent_traces WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`,
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: traces by agent: %w", err)
	}
	defer rows.Close()
	return scanTraces(rows)
}

type traceRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTraces(rows traceRows) ([]model.AgentTrace, error) {
	var out []model.AgentTrace
	for rows.Next() {
		var (
			t        model.AgentTrace
			decision string
		)
		if err := rows.Scan(&t.ID, &t.AgentID, &t.InteractionType,
			&decision, &t.ReasoningLog, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan trace: %w", err)
		}
		t.Decision = model.Outcome(decision)
		out = append(out, t)
	}
	return out, rows.Err()
}
