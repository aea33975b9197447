package model

import (
	"time"

	"github.com/google/uuid"
)

// Interaction types recorded on traces.
const (
	InteractionConnectionScreen = "connection_screen"
)

// AgentTrace is the append-only audit record of one completed pipeline run.
// Created once per successful decision; never mutated afterward.
type AgentTrace struct {
	ID              uuid.UUID      `json:"id"`
	AgentID         uuid.UUID      `json:"agent_id"`
	InteractionType string         `json:"interaction_type"`
	Decision        Outcome        `json:"decision"`
	ReasoningLog    map[string]any `json:"reasoning_log"`
	CreatedAt       time.Time      `json:"created_at"`
}
