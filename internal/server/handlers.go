package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/yrevash/qoneqt-agent/internal/broker"
	"github.com/yrevash/qoneqt-agent/internal/energy"
	"github.com/yrevash/qoneqt-agent/internal/model"
	"github.com/yrevash/qoneqt-agent/internal/recsys"
	"github.com/yrevash/qoneqt-agent/internal/schedule"
	"github.com/yrevash/qoneqt-agent/internal/storage"
)

// Store is the slice of the storage layer the HTTP API needs.
type Store interface {
	GetAgent(ctx context.Context, id uuid.UUID) (model.Agent, error)
	UpdateAgentTier(ctx context.Context, id uuid.UUID, tier model.Tier) error
	RecentTraces(ctx context.Context, limit int) ([]model.AgentTrace, error)
	TracesByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]model.AgentTrace, error)
	Ping(ctx context.Context) error
}

// Recommender is the candidate retriever slice the feed endpoint needs.
type Recommender interface {
	GetRecommendations(ctx context.Context, initiatorID uuid.UUID, queryText string,
		filters recsys.Filters, limit int, smartLocation bool) ([]model.RankedCandidate, error)
}

// defaultFeedQuery mirrors the autonomous wake goal; the feed endpoint uses
// it when the caller supplies no query text.
const defaultFeedQuery = "Find me relevant connections"

// defaultTraceLimit bounds trace listings when no limit is given.
const defaultTraceLimit = 10

// maxListLimit caps caller-supplied limits on listing endpoints.
const maxListLimit = 100

// HandlersDeps holds all dependencies for creating Handlers.
type HandlersDeps struct {
	Store     Store
	Recs      Recommender
	Ledger    energy.Ledger
	Publisher broker.Publisher
	Lanes     broker.Lanes
	Delay     schedule.Store
	Logger    *slog.Logger

	TriggerCost    int
	RecommendLimit int
	Version        string
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	store     Store
	recs      Recommender
	ledger    energy.Ledger
	publisher broker.Publisher
	lanes     broker.Lanes
	delay     schedule.Store
	logger    *slog.Logger

	triggerCost    int
	recommendLimit int
	version        string
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		store:          deps.Store,
		recs:           deps.Recs,
		ledger:         deps.Ledger,
		publisher:      deps.Publisher,
		lanes:          deps.Lanes,
		delay:          deps.Delay,
		logger:         deps.Logger,
		triggerCost:    deps.TriggerCost,
		recommendLimit: deps.RecommendLimit,
		version:        deps.Version,
	}
}

// HandleTrigger handles POST /v1/agents/{agent_id}/trigger.
//
// A manual trigger charges the agent's energy ledger before anything is
// published: the charge and the balance check are one atomic operation, and
// a denied charge leaves the balance untouched and returns 402. A charge
// whose publish then fails is refunded. Authorized triggers always ride the
// high-priority lane regardless of tier — a human is waiting on the other
// end.
func (h *Handlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(r.PathValue("agent_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid agent id")
		return
	}

	agent, err := h.store.GetAgent(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "agent not found")
			return
		}
		h.logger.Error("trigger: load agent", "error", err, "agent_id", agentID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load agent")
		return
	}

	ok, remaining, err := h.ledger.AuthorizeAndCharge(r.Context(), agentID.String(), h.triggerCost)
	if err != nil {
		h.logger.Error("trigger: charge energy", "error", err, "agent_id", agentID)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "energy ledger unavailable")
		return
	}
	if !ok {
		writeError(w, r, http.StatusPaymentRequired, model.ErrCodePaymentRequired, "insufficient energy")
		return
	}

	msg := model.NewWakeMessage(agentID, agent.Tier, model.WakeSourceManual, time.Now())
	if err := h.publisher.Publish(r.Context(), h.lanes.High, msg); err != nil {
		h.logger.Error("trigger: publish wake", "error", err, "agent_id", agentID)
		// The agent paid for a wake that never left; give the charge back.
		if rerr := h.ledger.Refund(r.Context(), agentID.String(), h.triggerCost); rerr != nil {
			h.logger.Error("trigger: refund after failed publish", "error", rerr, "agent_id", agentID)
		}
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "failed to dispatch wake")
		return
	}

	writeJSON(w, r, http.StatusAccepted, model.TriggerResponse{
		Status:          "dispatched",
		TraceID:         uuid.NewString(),
		Queue:           h.lanes.High,
		EnergyRemaining: remaining,
	})
}

// HandleFeed handles GET /v1/agents/{agent_id}/feed.
//
// Query parameters: query (retrieval goal), location and role (explicit
// filters), limit. An explicit location wins over the agent's own; the
// agent's own location applies otherwise (smart location stays on for the
// feed, matching autonomous wakes).
func (h *Handlers) HandleFeed(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(r.PathValue("agent_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid agent id")
		return
	}

	if _, err := h.store.GetAgent(r.Context(), agentID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "agent not found")
			return
		}
		h.logger.Error("feed: load agent", "error", err, "agent_id", agentID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load agent")
		return
	}

	query := r.URL.Query().Get("query")
	if query == "" {
		query = defaultFeedQuery
	}
	limit := parseLimit(r.URL.Query().Get("limit"), h.recommendLimit)

	candidates, err := h.recs.GetRecommendations(r.Context(), agentID, query, recsys.Filters{
		Location: r.URL.Query().Get("location"),
		Role:     r.URL.Query().Get("role"),
	}, limit, true)
	if err != nil {
		h.logger.Error("feed: retrieve candidates", "error", err, "agent_id", agentID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "recommendation failed")
		return
	}
	if candidates == nil {
		candidates = []model.RankedCandidate{}
	}

	writeJSON(w, r, http.StatusOK, candidates)
}

// HandleUpdateTier handles PUT /v1/agents/{agent_id}/tier.
func (h *Handlers) HandleUpdateTier(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(r.PathValue("agent_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid agent id")
		return
	}

	var req struct {
		Tier string `json:"tier"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Tier != string(model.TierFree) && req.Tier != string(model.TierPro) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "tier must be \"free\" or \"pro\"")
		return
	}

	tier := model.Tier(req.Tier)
	if err := h.store.UpdateAgentTier(r.Context(), agentID, tier); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "agent not found")
			return
		}
		h.logger.Error("tier: update", "error", err, "agent_id", agentID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to update tier")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"agent_id": agentID.String(),
		"tier":     tier,
	})
}

// HandleEnergy handles GET /v1/agents/{agent_id}/energy.
func (h *Handlers) HandleEnergy(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(r.PathValue("agent_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid agent id")
		return
	}

	balance, err := h.ledger.Balance(r.Context(), agentID.String())
	if err != nil {
		h.logger.Error("energy: read balance", "error", err, "agent_id", agentID)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "energy ledger unavailable")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"agent_id": agentID.String(),
		"energy":   balance,
	})
}

// HandleAgentTraces handles GET /v1/agents/{agent_id}/traces.
func (h *Handlers) HandleAgentTraces(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(r.PathValue("agent_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid agent id")
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"), defaultTraceLimit)
	traces, err := h.store.TracesByAgent(r.Context(), agentID, limit)
	if err != nil {
		h.logger.Error("traces: by agent", "error", err, "agent_id", agentID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load traces")
		return
	}
	if traces == nil {
		traces = []model.AgentTrace{}
	}

	writeJSON(w, r, http.StatusOK, traces)
}

// HandleRecentTraces handles GET /v1/traces/recent.
func (h *Handlers) HandleRecentTraces(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), defaultTraceLimit)
	traces, err := h.store.RecentTraces(r.Context(), limit)
	if err != nil {
		h.logger.Error("traces: recent", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load traces")
		return
	}
	if traces == nil {
		traces = []model.AgentTrace{}
	}

	writeJSON(w, r, http.StatusOK, traces)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	pending := 0
	if h.delay != nil {
		if n, err := h.delay.Len(r.Context()); err == nil {
			pending = n
		}
	}

	resp := model.HealthResponse{
		Status:       status,
		Version:      h.version,
		Postgres:     pgStatus,
		PendingWakes: pending,
	}
	// Health skips the envelope: probes want a flat body.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
