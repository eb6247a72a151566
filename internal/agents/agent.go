// Package agents defines the agent boundary and the concurrent
// fan-out that collects per-agent signals for a processing cycle.
package agents

import (
	"context"

	"github.com/quantmesh/signal-engine/pkg/models"
)

// Agent is one independent signal producer. Process turns the cycle's
// market snapshots into signals; EvaluateConsensus lets the agent
// revise a consensus during refinement. Agents own only their own
// intermediate state and never share mutable state with each other.
type Agent interface {
	ID() string
	Process(ctx context.Context, snapshots []*models.MarketSnapshot) ([]models.Signal, error)
	EvaluateConsensus(ctx context.Context, current []models.ConsensusResult) ([]models.ConsensusResult, error)
}
