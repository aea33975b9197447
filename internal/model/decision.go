package model

import "fmt"

// Outcome is the oracle's verdict on a candidate.
type Outcome string

const (
	OutcomeAccept Outcome = "ACCEPT"
	OutcomeReject Outcome = "REJECT"
	OutcomeHold   Outcome = "HOLD"
)

// Decision is the structured judgment returned by the decision oracle for
// one (agent, candidate) pair.
type Decision struct {
	Decision        Outcome `json:"decision"`
	ConfidenceScore float64 `json:"confidence_score"`
	Reasoning       string  `json:"reasoning"`
	// GeneratedMessage carries the icebreaker on ACCEPT; nil otherwise.
	GeneratedMessage *string `json:"generated_message,omitempty"`
}

// Validate enforces the oracle's output contract. Oracle output is model
// text; anything that survives JSON extraction still gets range-checked
// here before it reaches a trace.
func (d Decision) Validate() error {
	switch d.Decision {
	case OutcomeAccept, OutcomeReject, OutcomeHold:
	default:
		return fmt.Errorf("decision: unknown outcome %q", d.Decision)
	}
	if d.ConfidenceScore < 0 || d.ConfidenceScore > 1 {
		return fmt.Errorf("decision: confidence_score %v out of [0,1]", d.ConfidenceScore)
	}
	if d.Reasoning == "" {
		return fmt.Errorf("decision: empty reasoning")
	}
	return nil
}
