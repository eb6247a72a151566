package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/quantmesh/signal-engine/pkg/logger"
	"github.com/quantmesh/signal-engine/pkg/models"
)

// LogSink publishes the refined consensus to the log. Stands in for a
// downstream execution or alerting consumer.
type LogSink struct{}

// Publish logs each per-asset decision
func (LogSink) Publish(_ context.Context, cycleID string, result *models.RefinementResult) error {
	for _, res := range models.TopPerAsset(result.FinalConsensus) {
		logger.Info("consensus decision",
			zap.String("cycle", cycleID),
			zap.String("asset", res.Asset),
			zap.String("direction", string(res.Direction)),
			zap.String("algorithm", string(res.Algorithm)),
			zap.Float64("confidence", res.ConsensusConfidence),
		)
	}
	return nil
}
