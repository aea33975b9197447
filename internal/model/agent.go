package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Tier is an agent's subscription tier. It drives scheduling eligibility
// (pro agents are planned every hour, free agents mostly on 6-hour
// boundaries) and priority-lane routing at dispatch time.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// ParseTier normalizes a stored tier string. Unknown values map to free,
// never to an error — a profile row with a garbage tier must still wake.
func ParseTier(s string) Tier {
	if s == string(TierPro) {
		return TierPro
	}
	return TierFree
}

// DefaultHourlyProbability is the wake probability used for every hour when
// an agent has no usable activity schedule.
const DefaultHourlyProbability = 0.1

// ScheduleHours is the required length of an activity schedule: one
// probability per UTC hour of day.
const ScheduleHours = 24

// ActivitySchedule holds one wake probability in [0,1] per UTC hour.
type ActivitySchedule []float64

// Probability returns the wake probability for the given UTC hour.
//
// A missing or malformed schedule (length != 24, or an out-of-range slot)
// falls back to DefaultHourlyProbability. A stored 0.0 is returned as-is:
// it means explicit deep sleep for that hour and the planner skips the
// agent entirely rather than applying the fallback.
func (s ActivitySchedule) Probability(hour int) float64 {
	if hour < 0 || hour >= ScheduleHours {
		return DefaultHourlyProbability
	}
	if len(s) != ScheduleHours {
		return DefaultHourlyProbability
	}
	p := s[hour]
	if p < 0 || p > 1 {
		return DefaultHourlyProbability
	}
	return p
}

// Agent is a profile-store account operated autonomously by the engine.
// The profile store owns the record; the core reads it for planning and
// candidate retrieval and updates only the tier.
type Agent struct {
	ID               uuid.UUID        `json:"id"`
	Email            string           `json:"email"`
	FullName         string           `json:"full_name"`
	Bio              string           `json:"bio"`
	Role             string           `json:"role"`
	Location         string           `json:"location"`
	Skills           []string         `json:"skills"`
	Tier             Tier             `json:"tier"`
	IsActive         bool             `json:"is_active"`
	InterestVector   *pgvector.Vector `json:"-"`
	ActivitySchedule ActivitySchedule `json:"activity_schedule,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// PlanCandidate is the planner's working subset of an agent row. Fetching
// full profiles (bio, 768-dim vector) for every active agent each cycle
// would be wasteful; the planner only needs these three fields.
type PlanCandidate struct {
	ID               uuid.UUID
	Tier             Tier
	ActivitySchedule ActivitySchedule
}
