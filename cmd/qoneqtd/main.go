package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/yrevash/qoneqt-agent/internal/auditor"
	"github.com/yrevash/qoneqt-agent/internal/brain"
	"github.com/yrevash/qoneqt-agent/internal/broker"
	"github.com/yrevash/qoneqt-agent/internal/config"
	"github.com/yrevash/qoneqt-agent/internal/embedding"
	"github.com/yrevash/qoneqt-agent/internal/energy"
	"github.com/yrevash/qoneqt-agent/internal/engine"
	"github.com/yrevash/qoneqt-agent/internal/recsys"
	"github.com/yrevash/qoneqt-agent/internal/schedule"
	"github.com/yrevash/qoneqt-agent/internal/server"
	"github.com/yrevash/qoneqt-agent/internal/storage"
	"github.com/yrevash/qoneqt-agent/internal/telemetry"
	"github.com/yrevash/qoneqt-agent/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("QONEQT_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("qoneqtd starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to Postgres and apply embedded migrations. RunMigrations tracks
	// applied files in schema_migrations and skips duplicates, so errors here
	// indicate real failures.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Connect to Redis: delay store, energy ledger, and follower counts share
	// one client.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: parse url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}

	delayStore := schedule.NewRedisStore(redisClient)
	ledger := energy.NewRedisLedger(redisClient, cfg.EnergySeed)
	followers := recsys.NewRedisFollowerCounter(redisClient)

	// Connect to RabbitMQ and declare the durable priority lanes.
	lanes := broker.Lanes{High: cfg.HighLane, Low: cfg.LowLane}
	amqpBroker, err := broker.NewAMQPBroker(cfg.AMQPURL, lanes, logger)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	defer func() { _ = amqpBroker.Close() }()

	// Inference clients.
	embedder := newEmbeddingProvider(cfg, logger)
	oracle := newOracle(cfg, logger)

	// Candidate retriever.
	recommender := recsys.New(db, embedder, followers, logger)

	// Background loops.
	planner := engine.NewPlanner(db, delayStore, cfg.PlannerInterval, logger)
	planner.Start(ctx)

	dispatcher := engine.NewDispatcher(delayStore, db, amqpBroker, lanes,
		cfg.TickerInterval, cfg.TickerBatchSize, logger)
	dispatcher.Start(ctx)

	// One consumer per worker slot: prefetch 1 is per channel, so this is
	// what makes QONEQT_WORKER_COUNT the actual in-flight bound.
	workers := make([]*engine.Worker, cfg.WorkerCount)
	for i := range workers {
		consumer, err := amqpBroker.NewConsumer()
		if err != nil {
			return fmt.Errorf("broker: consumer: %w", err)
		}
		defer func() { _ = consumer.Close() }()
		workers[i] = engine.NewWorker(consumer, db, recommender, oracle, db, cfg.RecommendLimit, logger)
	}
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	workersDone := make(chan struct{})
	go func() {
		engine.RunWorkers(workerCtx, workers)
		close(workersDone)
	}()

	aud := auditor.New(db, oracle, cfg.AuditorInterval, cfg.AuditorBatchSize, logger)
	aud.Start(ctx)

	// HTTP server.
	srv := server.New(server.ServerConfig{
		Handlers: server.HandlersDeps{
			Store:          db,
			Recs:           recommender,
			Ledger:         ledger,
			Publisher:      amqpBroker,
			Lanes:          lanes,
			Delay:          delayStore,
			Logger:         logger,
			TriggerCost:    cfg.TriggerCost,
			RecommendLimit: cfg.RecommendLimit,
			Version:        version,
		},
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Each phase gets its own timeout so early completion
	// doesn't steal budget from later phases. Order: (1) stop accepting HTTP
	// requests, (2) stop the planner and dispatcher so nothing new is
	// published, (3) let in-flight worker pipelines finish, (4) close the
	// consumer. Unacked deliveries are redelivered after restart.
	slog.Info("qoneqtd shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	loopCtx, loopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	planner.Drain(loopCtx)
	dispatcher.Drain(loopCtx)
	aud.Drain(loopCtx)
	loopCancel()

	workerCancel()
	select {
	case <-workersDone:
	case <-time.After(cfg.OracleTimeout):
		slog.Warn("workers did not finish before timeout")
	}

	slog.Info("qoneqtd stopped")
	return nil
}

// newEmbeddingProvider creates an embedding provider based on configuration.
// Ollama is the default: embeddings stay on-premises with no external API
// costs. The noop provider keeps the rest of the pipeline alive in dev
// environments without an inference server.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when QONEQT_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (similarity search degraded)")
		return embedding.NewNoopProvider(dims)

	default:
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.EmbeddingModel, dims)
	}
}

// oracleClient is satisfied by both oracle backends.
type oracleClient interface {
	brain.Oracle
	brain.Auditor
}

// newOracle creates the decision oracle based on configuration.
func newOracle(cfg config.Config, logger *slog.Logger) oracleClient {
	if cfg.OracleProvider == "openai" {
		logger.Info("oracle: openai-compatible", "model", cfg.OracleModel, "timeout", cfg.OracleTimeout)
		return brain.NewOpenAIOracle("", cfg.OpenAIAPIKey, cfg.OracleModel, cfg.OracleTimeout, logger)
	}
	logger.Info("oracle: ollama", "url", cfg.OllamaURL, "model", cfg.OracleModel, "timeout", cfg.OracleTimeout)
	return brain.NewOllamaOracle(cfg.OllamaURL, cfg.OracleModel, cfg.OracleTimeout, logger)
}
