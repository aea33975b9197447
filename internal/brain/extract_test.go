package brain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yrevash/qoneqt-agent/internal/model"
)

func TestExtractDecisionDirect(t *testing.T) {
	raw := `{"decision":"ACCEPT","confidence_score":0.9,"reasoning":"strong overlap","generated_message":"Hi!"}`
	d, err := extractDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAccept, d.Decision)
	require.NotNil(t, d.GeneratedMessage)
	assert.Equal(t, "Hi!", *d.GeneratedMessage)
}

func TestExtractDecisionFencedBlock(t *testing.T) {
	raw := "Sure! Here is my evaluation:\n```json\n{\"decision\":\"REJECT\",\"confidence_score\":0.8,\"reasoning\":\"irrelevant skills\"}\n```\nLet me know if you need anything else."
	d, err := extractDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeReject, d.Decision)
}

func TestExtractDecisionBraceSpan(t *testing.T) {
	raw := `The candidate looks good. {"decision":"HOLD","confidence_score":0.55,"reasoning":"need more signal"} Hope that helps.`
	d, err := extractDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeHold, d.Decision)
}

func TestExtractDecisionFencedWithTrailingComma(t *testing.T) {
	// The hard case: markdown fence AND a trailing comma before the brace.
	raw := "```json\n{\"decision\":\"ACCEPT\",\"confidence_score\":0.91,\"reasoning\":\"shared domain\",}\n```"
	d, err := extractDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAccept, d.Decision)
	assert.InDelta(t, 0.91, d.ConfidenceScore, 1e-9)
}

func TestExtractDecisionTrailingCommaInArray(t *testing.T) {
	raw := `{"decision":"REJECT","confidence_score":0.7,"reasoning":"spam pattern",  }`
	_, err := extractDecision(raw)
	require.NoError(t, err)
}

func TestExtractDecisionFailsClosed(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot evaluate this candidate.",
		`{"decision":"MAYBE","confidence_score":0.5,"reasoning":"x"}`,
		`{"decision":"ACCEPT","confidence_score":7,"reasoning":"x"}`,
		"{\"decision\": \"ACCEPT\"", // truncated output
	} {
		_, err := extractDecision(raw)
		require.Error(t, err, "input %q", raw)
		assert.True(t, errors.Is(err, ErrNoDecision), "input %q must fail closed as ErrNoDecision", raw)
	}
}

func TestExtractVerdict(t *testing.T) {
	v, err := extractVerdict("```\n{\"status\":\"FLAGGED\",\"audit_reasoning\":\"confidence contradicts reasoning\",}\n```")
	require.NoError(t, err)
	assert.Equal(t, AuditFlagged, v.Status)

	_, err = extractVerdict(`{"status":"UNSURE","audit_reasoning":"?"}`)
	assert.ErrorIs(t, err, ErrNoDecision)
}
