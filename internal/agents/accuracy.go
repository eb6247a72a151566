package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quantmesh/signal-engine/pkg/logger"
)

// OutcomeSource reports how an agent's past signals resolved
type OutcomeSource interface {
	AgentOutcomes(ctx context.Context, agentID string, limit int) (correct int, total int, err error)
}

// WeightStore persists recomputed accuracies and weights. The weight
// table itself stays read-only during a cycle; writers run strictly
// between cycles.
type WeightStore interface {
	UpdateAgentAccuracy(ctx context.Context, agentID string, accuracy, weight float64) error
}

// AccuracyTracker recomputes per-agent accuracy from historical
// outcomes and refreshes the weight table between cycles.
type AccuracyTracker struct {
	outcomes OutcomeSource
	store    WeightStore
	lookback int
}

// NewAccuracyTracker creates a tracker over the given history window
func NewAccuracyTracker(outcomes OutcomeSource, store WeightStore, lookback int) *AccuracyTracker {
	if lookback <= 0 {
		lookback = 100
	}
	return &AccuracyTracker{outcomes: outcomes, store: store, lookback: lookback}
}

// Recompute refreshes accuracy and weight for every agent. Laplace
// smoothing keeps young agents near 0.5 instead of swinging them to
// the extremes on a handful of outcomes.
func (t *AccuracyTracker) Recompute(ctx context.Context, agentIDs []string) error {
	for _, agentID := range agentIDs {
		correct, total, err := t.outcomes.AgentOutcomes(ctx, agentID, t.lookback)
		if err != nil {
			return fmt.Errorf("outcomes for agent %s: %w", agentID, err)
		}

		accuracy := (float64(correct) + 1) / (float64(total) + 2)

		// weight tracks accuracy linearly; a coin-flip agent keeps
		// weight 1, a perfect agent reaches 2
		weight := 2 * accuracy
		if weight <= 0 {
			weight = 0.1
		}

		if err := t.store.UpdateAgentAccuracy(ctx, agentID, accuracy, weight); err != nil {
			return fmt.Errorf("updating weight for agent %s: %w", agentID, err)
		}

		logger.Info("agent accuracy recomputed",
			zap.String("agent", agentID),
			zap.Int("correct", correct),
			zap.Int("total", total),
			zap.Float64("accuracy", accuracy),
			zap.Float64("weight", weight),
		)
	}
	return nil
}
