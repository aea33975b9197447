// Package ranking implements the candidate scoring model.
//
//	score = 0.50*similarity + 0.30*social + 0.20*recency
//
// Pure arithmetic, no I/O, no hidden state: every input comes from the
// caller so the model is testable against literal values.
package ranking

import (
	"math"
	"time"
)

// Weights of the composite score.
const (
	weightSimilarity = 0.50
	weightSocial     = 0.30
	weightRecency    = 0.20
)

// socialSaturationLog caps social proof at log10(followers+1) == 4,
// i.e. roughly ten thousand followers.
const socialSaturationLog = 4.0

// recencyHalfLifeDays controls the slow recency decay: 30 days inactive
// halves the recency contribution.
const recencyHalfLifeDays = 30.0

// Score combines semantic similarity, social proof, and recency into one
// value in [0,1], rounded to 4 decimal places.
//
// cosineDistance is the pgvector cosine distance in [0,2]; a zero-valued
// lastActiveAt means activity is unknown and contributes a neutral 0.5.
func Score(cosineDistance float64, lastActiveAt time.Time, followerCount int) float64 {
	return ScoreAt(cosineDistance, lastActiveAt, followerCount, time.Now().UTC())
}

// ScoreAt is Score with an explicit reference time for deterministic tests.
func ScoreAt(cosineDistance float64, lastActiveAt time.Time, followerCount int, now time.Time) float64 {
	similarity := clamp01(1.0 - cosineDistance)

	recency := 0.5
	if !lastActiveAt.IsZero() {
		days := now.Sub(lastActiveAt).Hours() / 24.0
		if days < 0 {
			days = 0
		}
		recency = 1.0 / (1.0 + days/recencyHalfLifeDays)
	}

	social := math.Log10(float64(followerCount)+1) / socialSaturationLog
	if social > 1.0 {
		social = 1.0
	}

	final := weightSimilarity*similarity + weightSocial*social + weightRecency*recency
	return math.Round(final*10000) / 10000
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
