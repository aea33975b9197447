package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestScoreIdenticalVector(t *testing.T) {
	// Distance 0 means similarity 1.0, contributing the full 0.5.
	// Active now means recency 1.0, contributing 0.2. Social saturates at
	// ~10k followers, contributing the full 0.3.
	got := ScoreAt(0, now, 20000, now)
	assert.InDelta(t, 1.0, got, 1e-4)
}

func TestScoreOppositeVector(t *testing.T) {
	// Distance 2 means similarity 0: only social and recency remain.
	got := ScoreAt(2.0, now, 0, now)
	assert.InDelta(t, 0.2, got, 1e-4)
}

func TestScoreWorkedExample(t *testing.T) {
	// similarity = 0.85, social = log10(1000)/4 = 0.75, recency = 1.0
	// final = 0.85*0.5 + 0.75*0.3 + 1.0*0.2 = 0.85
	got := ScoreAt(0.15, now, 999, now)
	assert.InDelta(t, 0.85, got, 1e-4)
}

func TestScoreUnknownActivityIsNeutral(t *testing.T) {
	// Zero time = unknown last activity = neutral 0.5 recency.
	got := ScoreAt(0, time.Time{}, 20000, now)
	assert.InDelta(t, 0.5+0.3+0.2*0.5, got, 1e-4)
}

func TestScoreRecencyDecay(t *testing.T) {
	thirtyDaysAgo := now.AddDate(0, 0, -30)
	// 30 days inactive halves recency: 1/(1+30/30) = 0.5.
	got := ScoreAt(2.0, thirtyDaysAgo, 0, now)
	assert.InDelta(t, 0.2*0.5, got, 1e-4)
}

func TestScoreFutureActivityClamped(t *testing.T) {
	// Clock skew can put last_active_at in the future; treat as "just now".
	got := ScoreAt(2.0, now.Add(time.Hour), 0, now)
	assert.InDelta(t, 0.2, got, 1e-4)
}

func TestScoreDistanceClamped(t *testing.T) {
	assert.InDelta(t, ScoreAt(2.5, now, 0, now), ScoreAt(2.0, now, 0, now), 1e-9)
	assert.InDelta(t, ScoreAt(-0.5, now, 0, now), ScoreAt(0.0, now, 0, now), 1e-9)
}

func TestScoreRounding(t *testing.T) {
	got := ScoreAt(0.123456, now, 42, now)
	assert.InDelta(t, got, float64(int(got*10000+0.5))/10000, 1e-9, "rounded to 4 decimals")
	assert.GreaterOrEqual(t, got, 0.0)
	assert.LessOrEqual(t, got, 1.0)
}
