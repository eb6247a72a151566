package engine

import (
	"context"

	"github.com/quantmesh/signal-engine/internal/agents"
)

// AccuracyWorker recomputes agent accuracies between cycles. Runs on
// its own, slower interval so the weight table never changes while a
// cycle reads it mid-flight.
type AccuracyWorker struct {
	tracker  *agents.AccuracyTracker
	agentIDs []string
}

// NewAccuracyWorker creates the between-cycle accuracy refresher
func NewAccuracyWorker(tracker *agents.AccuracyTracker, agentIDs []string) *AccuracyWorker {
	return &AccuracyWorker{tracker: tracker, agentIDs: agentIDs}
}

// Name returns worker name
func (w *AccuracyWorker) Name() string {
	return "accuracy_refresh"
}

// Run executes one accuracy recomputation pass
func (w *AccuracyWorker) Run(ctx context.Context) error {
	return w.tracker.Recompute(ctx, w.agentIDs)
}
