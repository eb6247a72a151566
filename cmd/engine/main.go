package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quantmesh/signal-engine/internal/adapters/config"
	"github.com/quantmesh/signal-engine/internal/adapters/database"
	"github.com/quantmesh/signal-engine/internal/adapters/history"
	"github.com/quantmesh/signal-engine/internal/adapters/market"
	redisAdapter "github.com/quantmesh/signal-engine/internal/adapters/redis"
	"github.com/quantmesh/signal-engine/internal/adapters/weights"
	"github.com/quantmesh/signal-engine/internal/agents"
	"github.com/quantmesh/signal-engine/internal/consensus"
	"github.com/quantmesh/signal-engine/internal/engine"
	"github.com/quantmesh/signal-engine/internal/fusion"
	"github.com/quantmesh/signal-engine/internal/health"
	"github.com/quantmesh/signal-engine/internal/refinement"
	"github.com/quantmesh/signal-engine/internal/scoring"
	"github.com/quantmesh/signal-engine/pkg/cache"
	"github.com/quantmesh/signal-engine/pkg/logger"
	"github.com/quantmesh/signal-engine/pkg/worker"
)

func main() {
	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	// Run application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Signal engine starting...",
		zap.Strings("assets", cfg.Engine.Assets),
		zap.String("timeframe", cfg.Engine.Timeframe),
		zap.String("consensus", string(cfg.Consensus.Mode())),
	)

	// Initialize Postgres (agent weight table)
	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Initialize ClickHouse (market records + history)
	chDB, err := initClickHouse(cfg)
	if err != nil {
		return err
	}
	defer chDB.Close()

	// Initialize Redis (score cache + cycle lock) or local fallbacks
	scoreCache, cycleLock, closeRedis, err := initRedis(cfg)
	if err != nil {
		return err
	}
	defer closeRedis()

	// Build the scoring and fusion stack shared by agent construction
	scorerOpts := scoring.Options{
		TrendThreshold: cfg.Sources.TrendThreshold,
		AvgPeriods:     cfg.Sources.AvgPeriods,
		MaxLag:         cfg.Sources.MaxLag,
		CacheTTL:       cfg.Engine.ScoreCacheTTL,
	}
	fusionModel := fusion.NewModel(cfg.Sources.TrendThreshold)

	council := buildAgents(cfg, scoreCache, scorerOpts, fusionModel)
	runner := agents.NewRunner(council, cfg.Engine.AgentLatencyBudget)

	agentIDs := make([]string, len(council))
	for i, a := range council {
		agentIDs[i] = a.ID()
	}

	// Repositories
	weightRepo := weights.NewRepository(db.DB())
	marketRepo := market.NewRepository(chDB.DB(), cfg.Engine.SnapshotDepth)
	historyRepo := history.NewRepository(chDB.DB())

	// History batch writers
	opts := engine.Options{Sink: engine.LogSink{}}
	if cfg.Engine.HistoryWriteEnabled {
		signalWriter := history.NewSignalBatchWriter(historyRepo, 500, 10*time.Second)
		defer signalWriter.Close()
		consensusWriter := history.NewConsensusBatchWriter(historyRepo, 100, 10*time.Second)
		defer consensusWriter.Close()

		opts.SignalRec = signalWriter
		opts.ConsensusRec = consensusWriter
	}

	// Refinement coordinator over the same agents
	if cfg.Refinement.Enabled {
		evaluators := make([]refinement.Evaluator, len(council))
		for i, a := range council {
			evaluators[i] = a
		}
		opts.Refiner = refinement.NewCoordinator(evaluators, nil, refinement.Config{
			MaxRounds:   cfg.Refinement.MaxRounds,
			Epsilon:     cfg.Refinement.Epsilon,
			RoundBudget: cfg.Refinement.RoundBudget,
		})
	}

	cycle := engine.NewCycle(
		cfg.Engine.Assets,
		cfg.Engine.Timeframe,
		cycleLock,
		weightRepo,
		marketRepo,
		runner,
		consensus.NewEngine(cfg.Consensus.Mode()),
		opts,
	)

	// Accuracy runs between cycles on its own slower interval
	tracker := agents.NewAccuracyTracker(historyRepo, weightRepo, cfg.Engine.AccuracyLookback)

	workers := worker.NewGroup(ctx)
	workers.Add(cycle, cfg.Engine.CycleInterval)
	workers.Add(engine.NewAccuracyWorker(tracker, agentIDs), cfg.Engine.AccuracyInterval)
	if cfg.Engine.HistoryWriteEnabled {
		// Resolves stored signals against later prices so the
		// accuracy tracker has outcomes to read
		resolver := history.NewResolver(historyRepo, marketRepo, cfg.Engine.Timeframe, cfg.Engine.OutcomeHorizon)
		workers.Add(resolver, cfg.Engine.OutcomeInterval)
	}
	if mem, ok := scoreCache.(*cache.Memory); ok {
		workers.Add(worker.Func{
			WorkerName: "cache_purge",
			Fn: func(context.Context) error {
				mem.Purge()
				return nil
			},
		}, cfg.Engine.ScoreCacheTTL)
	}
	workers.Start()

	healthServer := startHealthServer(cfg, db, chDB, runner)
	healthServer.SetReady(true)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := healthServer.Stop(stopCtx); err != nil {
			logger.Warn("failed to stop health server", zap.Error(err))
		}
	}()

	logger.Info("signal engine running",
		zap.Int("agents", len(council)),
		zap.Duration("cycle_interval", cfg.Engine.CycleInterval),
	)

	// Keep service running
	<-ctx.Done()
	logger.Info("shutting down gracefully...")

	workers.Stop(30 * time.Second)

	return nil
}

// startHealthServer starts the K8s probe endpoint in the background
func startHealthServer(cfg *config.Config, db, chDB *database.DB, runner *agents.Runner) *health.Server {
	checks := []health.Check{
		{Name: "database", Probe: db.Health},
		{Name: "clickhouse", Probe: chDB.Health},
	}

	healthServer := health.NewServer(cfg.Health.Port, checks, func() int {
		return len(runner.Agents())
	})

	go func() {
		if err := healthServer.Start(); err != nil {
			logger.Error("health server error", zap.Error(err))
		}
	}()

	return healthServer
}

// initDatabase initializes the Postgres connection with sqlx
func initDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Run migrations
	migrationsPath := "./migrations"
	if err := database.RunMigrations(db.Conn(), migrationsPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// initClickHouse initializes the market/history connection
func initClickHouse(cfg *config.Config) (*database.DB, error) {
	ch, err := database.NewClickHouse(cfg.ClickHouse.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := ch.Health(); err != nil {
		ch.Close()
		return nil, fmt.Errorf("ClickHouse ping failed: %w", err)
	}

	logger.Info("ClickHouse connection established",
		zap.String("host", cfg.ClickHouse.Host),
		zap.String("database", cfg.ClickHouse.Database),
	)

	return ch, nil
}

// initRedis wires the score cache and cycle lock, falling back to
// in-process implementations when Redis is disabled
func initRedis(cfg *config.Config) (cache.Cache, engine.Lock, func(), error) {
	if !cfg.Redis.Enabled {
		logger.Info("redis disabled, using in-memory cache and no-op lock")
		return cache.NewMemory(), redisAdapter.NoopLock{}, func() {}, nil
	}

	client, err := redisAdapter.New(&cfg.Redis)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	return client.ScoreCache(), client.NewCycleLock(cfg.Engine.CycleLockTTL), closeFn, nil
}

// buildAgents creates the agent council. Each agent shares the fusion
// math but weighs sources differently, so votes are not echoes of one
// model.
func buildAgents(
	cfg *config.Config,
	scoreCache cache.Cache,
	opts scoring.Options,
	model *fusion.Model,
) []agents.Agent {
	adapters := []scoring.Adapter{
		scoring.SocialAdapter{},
		scoring.NewsAdapter{},
		scoring.MomentumAdapter{Period: cfg.Sources.RSIPeriod},
	}
	scorer := scoring.NewScorer(adapters, scoreCache, opts)

	allSources := []string{scoring.SourceMarket, "social", "news", "momentum"}

	balanced := agents.NewFusionAgent("balanced", scorer, model, allSources, cfg.Sources.Weights())
	momentum := agents.NewFusionAgent("momentum-heavy", scorer, model,
		[]string{scoring.SourceMarket, "momentum"},
		map[string]float64{"market": 0.5, "momentum": 0.5},
	)
	sentiment := agents.NewFusionAgent("sentiment-heavy", scorer, model,
		[]string{"social", "news"},
		map[string]float64{"social": 0.6, "news": 0.4},
	)

	return []agents.Agent{balanced, momentum, sentiment}
}
