package brain

import (
	"fmt"
	"strings"

	"github.com/yrevash/qoneqt-agent/internal/model"
)

// chatMessage is one turn in a chat-completion request. Both backends use
// the same role/content shape.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const screenerSystemPrompt = `You are an autonomous AI Agent in the Qoneqt Professional Network.
Your goal is to evaluate a potential connection (Candidate) for your user (Me) based on our professional goals.

You must reply with ONLY a valid JSON object. Do not add markdown blocks or conversational filler.

Your Output Schema is:
{
    "decision": "ACCEPT" | "REJECT" | "HOLD",
    "confidence_score": 0.95,
    "reasoning": "Short explanation...",
    "generated_message": "Hello [Name], I saw..." (Only if ACCEPT)
}

My Profile:
%s

My Rules:
1. STRICTNESS: %d/10.
2. If the candidate is irrelevant to my skills, REJECT.
3. If the candidate looks like a bot or spammer, REJECT.
4. If ACCEPT, write a personalized message mentioning a specific skill of theirs.`

// defaultStrictness is the screener's default judgment threshold.
const defaultStrictness = 7

// buildScreenerPrompt constructs the chat messages for one evaluation.
func buildScreenerPrompt(agent model.Agent, candidate model.RankedCandidate) []chatMessage {
	agentContext := fmt.Sprintf("Name: %s\nBio: %s\nLocation: %s\nSkills: %s",
		agent.FullName, agent.Bio, agent.Location, strings.Join(agent.Skills, ", "))

	candidateContext := fmt.Sprintf(
		"Candidate Name: %s\nBio: %s\nLocation: %s\nMatch Score: %.4f\nSkills: %s",
		candidate.FullName, candidate.Bio, candidate.Location,
		candidate.MatchScore, strings.Join(candidate.Skills, ", "))

	return []chatMessage{
		{
			Role:    "system",
			Content: fmt.Sprintf(screenerSystemPrompt, agentContext, defaultStrictness),
		},
		{
			Role:    "user",
			Content: "Evaluate this candidate:\n\n" + candidateContext,
		},
	}
}

const auditorSystemPrompt = `You are a compliance auditor for the Qoneqt Agent Network.
You review decisions autonomous agents made about other users and flag faulty or unsafe reasoning.

Reply with ONLY a valid JSON object:
{
    "status": "PASSED" | "FLAGGED",
    "audit_reasoning": "Short explanation..."
}`

// buildAuditorPrompt constructs the chat messages for re-reviewing one
// persisted trace.
func buildAuditorPrompt(agentBio string, trace model.AgentTrace) []chatMessage {
	summary := fmt.Sprintf("Agent bio: %s\nDecision: %s\nReasoning log: %v",
		agentBio, trace.Decision, trace.ReasoningLog)
	return []chatMessage{
		{Role: "system", Content: auditorSystemPrompt},
		{Role: "user", Content: "Audit this interaction:\n\n" + summary},
	}
}
