package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Wake sources recorded in the message so traces can distinguish planner
// wakes from user-initiated triggers.
const (
	WakeSourceScheduled = "scheduled_activity"
	WakeSourceManual    = "manual_trigger"
)

// WakeActionWakeUp is the only action currently dispatched.
const WakeActionWakeUp = "WAKE_UP"

// WakeMessage is the broker payload for one agent wake event.
// Immutable once published. Delivery is at-least-once: the broker redelivers
// on a missing acknowledgment, so consumers must tolerate duplicates.
type WakeMessage struct {
	AgentID   string  `json:"agent_id"`
	Action    string  `json:"action"`
	Timestamp float64 `json:"timestamp"` // unix seconds at publish time
	Tier      Tier    `json:"tier"`
	Source    string  `json:"source"`
}

// NewWakeMessage builds a wake message for publication.
func NewWakeMessage(agentID uuid.UUID, tier Tier, source string, now time.Time) WakeMessage {
	return WakeMessage{
		AgentID:   agentID.String(),
		Action:    WakeActionWakeUp,
		Timestamp: float64(now.UnixMilli()) / 1000.0,
		Tier:      tier,
		Source:    source,
	}
}

// Validate checks the fields a consumer depends on. It runs at the
// broker-consumption boundary; a failing message is acknowledged and
// dropped rather than redelivered forever.
func (m WakeMessage) Validate() error {
	if _, err := uuid.Parse(m.AgentID); err != nil {
		return fmt.Errorf("wake message: invalid agent_id %q: %w", m.AgentID, err)
	}
	if m.Action != WakeActionWakeUp {
		return fmt.Errorf("wake message: unknown action %q", m.Action)
	}
	return nil
}

// AgentUUID returns the parsed agent id. Call only after Validate.
func (m WakeMessage) AgentUUID() uuid.UUID {
	id, _ := uuid.Parse(m.AgentID)
	return id
}
