package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yrevash/qoneqt-agent/internal/brain"
	"github.com/yrevash/qoneqt-agent/internal/broker"
	"github.com/yrevash/qoneqt-agent/internal/model"
	"github.com/yrevash/qoneqt-agent/internal/recsys"
	"github.com/yrevash/qoneqt-agent/internal/storage"
)

// defaultWakeQuery is the retrieval goal used for autonomous wakes, where no
// user supplied a query.
const defaultWakeQuery = "Find me relevant connections"

// AgentGetter loads a full agent profile for a waking agent.
type AgentGetter interface {
	GetAgent(ctx context.Context, id uuid.UUID) (model.Agent, error)
}

// Recommender is the candidate retriever slice the worker needs.
type Recommender interface {
	GetRecommendations(ctx context.Context, initiatorID uuid.UUID, queryText string,
		filters recsys.Filters, limit int, smartLocation bool) ([]model.RankedCandidate, error)
}

// TraceWriter persists completed decisions.
type TraceWriter interface {
	InsertTrace(ctx context.Context, trace model.AgentTrace) (model.AgentTrace, error)
}

// Worker consumes wake messages and runs each through the pipeline:
// load profile, retrieve candidates, ask the oracle about the top match,
// persist the trace.
//
// Every delivery is acknowledged exactly once, whatever the outcome. A wake
// is a suggestion, not an obligation: when the oracle is down or the agent
// has no matches, the message is consumed without a trace and the agent
// simply waits for its next wake. Redelivering wakes until the oracle
// recovers would only build a stale backlog.
type Worker struct {
	consumer broker.Consumer
	agents   AgentGetter
	recs     Recommender
	oracle   brain.Oracle
	traces   TraceWriter
	limit    int
	logger   *slog.Logger
}

// NewWorker creates a worker. limit is the number of candidates retrieved
// per wake; only the top-ranked one goes to the oracle.
func NewWorker(consumer broker.Consumer, agents AgentGetter, recs Recommender,
	oracle brain.Oracle, traces TraceWriter, limit int, logger *slog.Logger) *Worker {
	return &Worker{
		consumer: consumer,
		agents:   agents,
		recs:     recs,
		oracle:   oracle,
		traces:   traces,
		limit:    limit,
		logger:   logger,
	}
}

// Run consumes deliveries until ctx is cancelled or the consumer channel
// closes. Blocking; callers run it in a goroutine per worker slot.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-w.consumer.Deliveries():
			if !ok {
				return
			}
			w.handle(ctx, delivery)
		}
	}
}

func (w *Worker) handle(ctx context.Context, delivery broker.Delivery) {
	// A panic in one wake must not take down the worker slot.
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker: panic handling wake", "panic", r)
			w.ack(delivery)
		}
	}()

	var msg model.WakeMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		w.logger.Warn("worker: malformed wake payload", "error", err)
		w.ack(delivery)
		return
	}
	if err := msg.Validate(); err != nil {
		w.logger.Warn("worker: invalid wake message", "error", err)
		w.ack(delivery)
		return
	}

	w.logger.Info("worker: agent waking up",
		"agent_id", msg.AgentID, "tier", msg.Tier, "source", msg.Source)

	agent, err := w.agents.GetAgent(ctx, msg.AgentUUID())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			w.logger.Warn("worker: agent not found, dropping wake", "agent_id", msg.AgentID)
		} else {
			w.logger.Error("worker: load agent", "error", err, "agent_id", msg.AgentID)
		}
		w.ack(delivery)
		return
	}

	candidates, err := w.recs.GetRecommendations(
		ctx, agent.ID, defaultWakeQuery, recsys.Filters{}, w.limit, true)
	if err != nil {
		w.logger.Error("worker: retrieve candidates", "error", err, "agent_id", msg.AgentID)
		w.ack(delivery)
		return
	}
	if len(candidates) == 0 {
		w.logger.Info("worker: no matches, back to sleep", "agent_id", msg.AgentID)
		w.ack(delivery)
		return
	}

	top := candidates[0]
	w.logger.Info("worker: evaluating top match",
		"agent_id", msg.AgentID,
		"candidate_id", top.UserID,
		"match_score", top.MatchScore,
		"pool", len(candidates),
	)

	decision, err := w.oracle.Decide(ctx, agent, top)
	if err != nil {
		// Oracle down or unparseable output: consume the wake without a
		// trace rather than redeliver into the same failure.
		w.logger.Error("worker: oracle decision failed", "error", err, "agent_id", msg.AgentID)
		w.ack(delivery)
		return
	}

	trace := model.AgentTrace{
		AgentID:         agent.ID,
		InteractionType: model.InteractionConnectionScreen,
		Decision:        decision.Decision,
		ReasoningLog:    buildReasoningLog(msg, top, decision),
	}
	if _, err := w.traces.InsertTrace(ctx, trace); err != nil {
		w.logger.Error("worker: persist trace", "error", err, "agent_id", msg.AgentID)
		w.ack(delivery)
		return
	}

	w.logger.Info("worker: decision recorded",
		"agent_id", msg.AgentID,
		"candidate_id", top.UserID,
		"decision", decision.Decision,
		"confidence", decision.ConfidenceScore,
	)
	w.ack(delivery)
}

// buildReasoningLog snapshots the pipeline inputs and outputs for the audit
// record, so the auditor can re-review the decision without re-running
// retrieval.
func buildReasoningLog(msg model.WakeMessage, top model.RankedCandidate, decision model.Decision) map[string]any {
	log := map[string]any{
		"source":           msg.Source,
		"candidate_id":     top.UserID,
		"candidate_name":   top.FullName,
		"match_score":      top.MatchScore,
		"confidence_score": decision.ConfidenceScore,
		"reasoning":        decision.Reasoning,
	}
	if decision.GeneratedMessage != nil {
		log["generated_message"] = *decision.GeneratedMessage
	}
	return log
}

func (w *Worker) ack(delivery broker.Delivery) {
	if err := delivery.Ack(); err != nil {
		w.logger.Error("worker: ack failed", "error", err)
	}
}

// RunWorkers runs each worker in its own goroutine and blocks until all
// exit. Each worker owns its own prefetch-1 consumer channel, so total
// in-flight wakes scale with the worker count.
func RunWorkers(ctx context.Context, workers []*Worker) {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()
}
