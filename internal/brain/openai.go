package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yrevash/qoneqt-agent/internal/model"
)

// OpenAIOracle runs decisions against any OpenAI-compatible chat
// completions endpoint (OpenAI itself, vLLM, llama.cpp server).
type OpenAIOracle struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIOracle creates an oracle client. baseURL defaults to the OpenAI
// API; point it at a vLLM deployment for self-hosted inference.
func NewOpenAIOracle(baseURL, apiKey, modelName string, timeout time.Duration, logger *slog.Logger) *OpenAIOracle {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIOracle{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      modelName,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type openAIChatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (o *OpenAIOracle) chat(ctx context.Context, messages []chatMessage) (string, error) {
	payload := openAIChatRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   500,
	}
	payload.ResponseFormat.Type = "json_object"

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("brain: marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("brain: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var result openAIChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", ErrUnavailable, err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("%w: %s: %s", ErrUnavailable, result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK || len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: status %d with %d choices", ErrUnavailable, resp.StatusCode, len(result.Choices))
	}
	return result.Choices[0].Message.Content, nil
}

// Decide implements Oracle.
func (o *OpenAIOracle) Decide(ctx context.Context, agent model.Agent, candidate model.RankedCandidate) (model.Decision, error) {
	content, err := o.chat(ctx, buildScreenerPrompt(agent, candidate))
	if err != nil {
		return model.Decision{}, err
	}

	decision, err := extractDecision(content)
	if err != nil {
		o.logger.Warn("brain: unparseable oracle output",
			"agent_id", agent.ID, "output_prefix", prefix(content, 200))
		return model.Decision{}, err
	}
	return decision, nil
}

// Audit implements Auditor.
func (o *OpenAIOracle) Audit(ctx context.Context, agentBio string, trace model.AgentTrace) (AuditVerdict, error) {
	content, err := o.chat(ctx, buildAuditorPrompt(agentBio, trace))
	if err != nil {
		return AuditVerdict{}, err
	}
	return extractVerdict(content)
}
