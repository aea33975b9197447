package model

import "time"

// CandidateDebug carries the raw ranking inputs alongside a candidate so
// the scoring model can be tuned from real retrievals.
type CandidateDebug struct {
	VectorDistance float64   `json:"vector_dist"`
	FollowerCount  int       `json:"fans"`
	Recency        time.Time `json:"recency"`
}

// RankedCandidate is one scored result from the candidate retriever.
// Ephemeral: recomputed per retrieval, never persisted.
type RankedCandidate struct {
	UserID     string         `json:"user_id"`
	FullName   string         `json:"full_name"`
	Bio        string         `json:"bio"`
	Location   string         `json:"location"`
	Role       string         `json:"role"`
	Skills     []string       `json:"skills"`
	MatchScore float64        `json:"match_score"`
	Debug      CandidateDebug `json:"_debug"`
}
