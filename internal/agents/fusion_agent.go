package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quantmesh/signal-engine/internal/fusion"
	"github.com/quantmesh/signal-engine/internal/scoring"
	"github.com/quantmesh/signal-engine/pkg/logger"
	"github.com/quantmesh/signal-engine/pkg/models"
)

// FusionAgent is the reference agent: it scores its configured
// sources per asset, fuses them with its own source weights and emits
// one signal per asset. Each agent instance carries its own scorer,
// weights and per-asset history, so concurrent agents share nothing
// mutable.
type FusionAgent struct {
	id             string
	scorer         *scoring.Scorer
	model          *fusion.Model
	sources        []string
	sourceWeights  map[string]float64
	accuracy       *float64 // historical accuracy, set when bayesian consensus is on
	lastDirections map[string]models.Direction
	now            func() time.Time
}

// NewFusionAgent creates a fusion-backed agent
func NewFusionAgent(id string, scorer *scoring.Scorer, model *fusion.Model, sources []string, sourceWeights map[string]float64) *FusionAgent {
	return &FusionAgent{
		id:             id,
		scorer:         scorer,
		model:          model,
		sources:        sources,
		sourceWeights:  sourceWeights,
		lastDirections: make(map[string]models.Direction),
		now:            time.Now,
	}
}

// SetAccuracy attaches the agent's historical accuracy. Called
// between cycles only, never while a cycle is running.
func (a *FusionAgent) SetAccuracy(accuracy float64) {
	a.accuracy = &accuracy
}

// ID returns the agent identifier
func (a *FusionAgent) ID() string { return a.id }

// Process scores and fuses every snapshot into at most one signal per
// asset. A snapshot whose sources all lack data fuses to zero
// confidence and is dropped rather than voted on.
func (a *FusionAgent) Process(ctx context.Context, snapshots []*models.MarketSnapshot) ([]models.Signal, error) {
	signals := make([]models.Signal, 0, len(snapshots))

	for _, snapshot := range snapshots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sentiment, err := a.scorer.ScoreAll(ctx, snapshot, a.sources)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.id, err)
		}

		fused := a.model.Fuse(sentiment, a.sourceWeights)
		if fused.Confidence == 0 {
			logger.Debug("agent produced no usable signal",
				zap.String("agent", a.id),
				zap.String("asset", snapshot.Asset),
			)
			continue
		}

		direction := fused.Direction()
		a.lastDirections[snapshot.Asset] = direction

		signals = append(signals, models.Signal{
			Asset:           snapshot.Asset,
			Direction:       direction,
			Confidence:      fused.Confidence,
			Timeframe:       snapshot.Timeframe,
			Timestamp:       a.now().UnixMilli(),
			SourceOrAgentID: a.id,
			AgentAccuracy:   a.accuracy,
			Metadata: map[string]string{
				"fused_score": fmt.Sprintf("%.1f", fused.Score),
				"trend":       string(fused.Trend),
			},
		})
	}

	return signals, nil
}

// EvaluateConsensus revises a consensus during refinement. The agent
// compares each asset's consensus direction against its own last
// signal: agreement strengthens the confidence slightly, disagreement
// softens it, and assets it never signaled pass through untouched.
// The pull shrinks as confidence approaches certainty.
func (a *FusionAgent) EvaluateConsensus(_ context.Context, current []models.ConsensusResult) ([]models.ConsensusResult, error) {
	revised := make([]models.ConsensusResult, len(current))
	copy(revised, current)

	for i := range revised {
		own, ok := a.lastDirections[revised[i].Asset]
		if !ok {
			continue
		}

		adjustment := 0.05 * (1 - revised[i].ConsensusConfidence)
		if own == revised[i].Direction {
			revised[i].ConsensusConfidence += adjustment
		} else {
			revised[i].ConsensusConfidence -= adjustment
		}

		if revised[i].ConsensusConfidence < 0 {
			revised[i].ConsensusConfidence = 0
		}
		if revised[i].ConsensusConfidence > 1 {
			revised[i].ConsensusConfidence = 1
		}
	}
	return revised, nil
}
