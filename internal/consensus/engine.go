// Package consensus combines signals from independent agents into
// per-asset decisions. Both algorithms are pure functions of their
// inputs; nothing is retained across invocations.
package consensus

import (
	"errors"
	"fmt"

	"github.com/quantmesh/signal-engine/pkg/models"
)

// ErrMissingAccuracy means a signal reached the bayesian aggregator
// without an agent accuracy. Defaulting would mask miscalibrated
// inputs, so this is a configuration error.
var ErrMissingAccuracy = errors.New("signal is missing agent accuracy")

// Engine runs the configured consensus algorithm over a cycle's
// signals
type Engine struct {
	algorithm models.ConsensusAlgorithm
}

// NewEngine creates a consensus engine. Unknown algorithms fall back
// to weighted voting.
func NewEngine(algorithm models.ConsensusAlgorithm) *Engine {
	if algorithm != models.AlgorithmBayesian {
		algorithm = models.AlgorithmVoting
	}
	return &Engine{algorithm: algorithm}
}

// Algorithm returns the configured algorithm
func (e *Engine) Algorithm() models.ConsensusAlgorithm {
	return e.algorithm
}

// Combine aggregates the cycle's signals per asset. Weights are the
// cycle's read-only agent weight table; signals with out-of-range
// fields are rejected up front.
func (e *Engine) Combine(signals []models.Signal, weights models.AgentWeights) ([]models.ConsensusResult, error) {
	for i := range signals {
		if err := signals[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid signal from %s: %w", signals[i].SourceOrAgentID, err)
		}
	}

	if e.algorithm == models.AlgorithmBayesian {
		return BayesianAggregation(signals)
	}
	return WeightedVoting(signals, weights), nil
}
