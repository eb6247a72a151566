// Package engine drives one full aggregation cycle: collect agent
// signals over fresh market snapshots, combine them into a consensus
// and refine it until it stabilizes.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantmesh/signal-engine/internal/agents"
	"github.com/quantmesh/signal-engine/internal/consensus"
	"github.com/quantmesh/signal-engine/internal/refinement"
	"github.com/quantmesh/signal-engine/pkg/logger"
	"github.com/quantmesh/signal-engine/pkg/models"
)

// MarketProvider supplies newest-first snapshots for the configured
// assets
type MarketProvider interface {
	Snapshots(ctx context.Context, assets []string, timeframe string) ([]*models.MarketSnapshot, error)
}

// WeightSource loads the external agent weight table once per cycle
type WeightSource interface {
	LoadWeights(ctx context.Context) (models.AgentWeights, error)
	LoadAccuracies(ctx context.Context) (map[string]float64, error)
}

// Lock guards the cycle against concurrent engine instances
type Lock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// SignalRecorder receives every collected signal for history
type SignalRecorder interface {
	AddSignal(cycleID string, sig models.Signal)
}

// ConsensusRecorder receives the final consensus for history
type ConsensusRecorder interface {
	AddResult(cycleID string, res models.ConsensusResult)
}

// Sink delivers the refined consensus to downstream consumers
type Sink interface {
	Publish(ctx context.Context, cycleID string, result *models.RefinementResult) error
}

// Cycle is the per-tick orchestrator, run by pkg/worker
type Cycle struct {
	assets    []string
	timeframe string

	lock    Lock
	weights WeightSource
	market  MarketProvider
	runner  *agents.Runner
	engine  *consensus.Engine
	refiner *refinement.Coordinator

	signalRec    SignalRecorder
	consensusRec ConsensusRecorder
	sink         Sink
}

// Options carries the optional collaborators of a cycle
type Options struct {
	Refiner      *refinement.Coordinator
	SignalRec    SignalRecorder
	ConsensusRec ConsensusRecorder
	Sink         Sink
}

// NewCycle wires the cycle orchestrator. A nil lock disables cross
// instance exclusion; nil recorders and sink disable those outputs.
func NewCycle(
	assets []string,
	timeframe string,
	lock Lock,
	weights WeightSource,
	market MarketProvider,
	runner *agents.Runner,
	eng *consensus.Engine,
	opts Options,
) *Cycle {
	return &Cycle{
		assets:       assets,
		timeframe:    timeframe,
		lock:         lock,
		weights:      weights,
		market:       market,
		runner:       runner,
		engine:       eng,
		refiner:      opts.Refiner,
		signalRec:    opts.SignalRec,
		consensusRec: opts.ConsensusRec,
		sink:         opts.Sink,
	}
}

// Name returns worker name
func (c *Cycle) Name() string {
	return "engine_cycle"
}

// Run executes one aggregation cycle
func (c *Cycle) Run(ctx context.Context) error {
	if c.lock != nil {
		acquired, err := c.lock.TryAcquire(ctx)
		if err != nil {
			return fmt.Errorf("cycle lock: %w", err)
		}
		if !acquired {
			logger.Info("cycle held by another instance, skipping")
			return nil
		}
		defer func() {
			if err := c.lock.Release(context.Background()); err != nil {
				logger.Warn("failed to release cycle lock", zap.Error(err))
			}
		}()
	}

	cycleID := uuid.New().String()

	weights, err := c.weights.LoadWeights(ctx)
	if err != nil {
		return fmt.Errorf("loading agent weights: %w", err)
	}
	if err := c.applyAccuracies(ctx); err != nil {
		return err
	}

	snapshots, err := c.market.Snapshots(ctx, c.assets, c.timeframe)
	if err != nil {
		return fmt.Errorf("loading market snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		logger.Warn("no market snapshots available, skipping cycle",
			zap.String("cycle", cycleID),
		)
		return nil
	}

	signals := c.runner.Collect(ctx, snapshots)
	if len(signals) == 0 {
		logger.Warn("no agent produced a signal, skipping cycle",
			zap.String("cycle", cycleID),
		)
		return nil
	}

	if c.signalRec != nil {
		for _, sig := range signals {
			c.signalRec.AddSignal(cycleID, sig)
		}
	}

	results, err := c.engine.Combine(signals, weights)
	if err != nil {
		return fmt.Errorf("combining signals: %w", err)
	}

	final := &models.RefinementResult{
		FinalConsensus: results,
		RoundsExecuted: 0,
		HasConverged:   true,
	}
	if c.refiner != nil {
		final = c.refiner.Refine(ctx, results)
	}

	if c.consensusRec != nil {
		for _, res := range final.FinalConsensus {
			c.consensusRec.AddResult(cycleID, res)
		}
	}

	if c.sink != nil {
		if err := c.sink.Publish(ctx, cycleID, final); err != nil {
			return fmt.Errorf("publishing consensus: %w", err)
		}
	}

	logger.Info("cycle completed",
		zap.String("cycle", cycleID),
		zap.Int("signals", len(signals)),
		zap.Int("decisions", len(final.FinalConsensus)),
		zap.Int("rounds", final.RoundsExecuted),
		zap.Bool("converged", final.HasConverged),
	)

	return nil
}

// applyAccuracies pushes the latest accuracy table into the agents
// that track one
func (c *Cycle) applyAccuracies(ctx context.Context) error {
	accuracies, err := c.weights.LoadAccuracies(ctx)
	if err != nil {
		return fmt.Errorf("loading agent accuracies: %w", err)
	}

	type accuracySetter interface {
		SetAccuracy(accuracy float64)
	}

	for _, agent := range c.runner.Agents() {
		acc, ok := accuracies[agent.ID()]
		if !ok {
			continue
		}
		if setter, ok := agent.(accuracySetter); ok {
			setter.SetAccuracy(acc)
		}
	}
	return nil
}
