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

// OllamaOracle runs decisions against a local Ollama server's chat API in
// JSON mode.
type OllamaOracle struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaOracle creates an oracle client. The timeout bounds the whole
// inference call; it must be generous (large models are slow) but finite.
func NewOllamaOracle(baseURL, modelName string, timeout time.Duration, logger *slog.Logger) *OllamaOracle {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaOracle{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      modelName,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func (o *OllamaOracle) chat(ctx context.Context, messages []chatMessage) (string, error) {
	reqBody, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
		Format:   "json",
		Options: map[string]any{
			"temperature": 0.7,
			"num_predict": 500,
		},
	})
	if err != nil {
		return "", fmt.Errorf("brain: marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("brain: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var result ollamaChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", ErrUnavailable, err)
	}
	return result.Message.Content, nil
}

// Decide implements Oracle.
func (o *OllamaOracle) Decide(ctx context.Context, agent model.Agent, candidate model.RankedCandidate) (model.Decision, error) {
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
func (o *OllamaOracle) Audit(ctx context.Context, agentBio string, trace model.AgentTrace) (AuditVerdict, error) {
	content, err := o.chat(ctx, buildAuditorPrompt(agentBio, trace))
	if err != nil {
		return AuditVerdict{}, err
	}
	return extractVerdict(content)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
