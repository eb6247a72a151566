package consensus

import (
	"fmt"
	"sort"

	"github.com/quantmesh/signal-engine/pkg/models"
)

// BayesianAggregation folds each asset's signals into posterior
// up/down probabilities from a 0.5/0.5 prior.
//
// The sequential posterior update is order-dependent, so before
// updating, each asset's signals are sorted by timestamp ascending
// and then by source/agent ID. That makes the posterior a function of
// the signal SET rather than of goroutine completion order; the same
// signals always produce the same result.
//
// Every signal must carry an agent accuracy; a missing accuracy is a
// configuration error, never silently defaulted.
func BayesianAggregation(signals []models.Signal) ([]models.ConsensusResult, error) {
	byAsset := make(map[string][]models.Signal)
	assets := make([]string, 0)

	for _, signal := range signals {
		if signal.AgentAccuracy == nil {
			return nil, fmt.Errorf("%w: agent %s, asset %s",
				ErrMissingAccuracy, signal.SourceOrAgentID, signal.Asset)
		}
		if _, ok := byAsset[signal.Asset]; !ok {
			assets = append(assets, signal.Asset)
		}
		byAsset[signal.Asset] = append(byAsset[signal.Asset], signal)
	}
	sort.Strings(assets)

	results := make([]models.ConsensusResult, 0, len(assets))
	for _, asset := range assets {
		results = append(results, updateAsset(asset, byAsset[asset]))
	}
	return results, nil
}

func updateAsset(asset string, signals []models.Signal) models.ConsensusResult {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Timestamp != signals[j].Timestamp {
			return signals[i].Timestamp < signals[j].Timestamp
		}
		return signals[i].SourceOrAgentID < signals[j].SourceOrAgentID
	})

	posteriorUp := 0.5
	posteriorDown := 0.5

	for _, signal := range signals {
		adjusted := signal.Confidence * *signal.AgentAccuracy

		if signal.Direction == models.DirectionUp {
			posteriorUp = posteriorUpdate(adjusted, posteriorUp)
			posteriorDown = 1 - posteriorUp
		} else {
			posteriorDown = posteriorUpdate(adjusted, posteriorDown)
			posteriorUp = 1 - posteriorDown
		}
	}

	direction := models.DirectionDown
	confidence := posteriorDown
	if posteriorUp > posteriorDown {
		direction = models.DirectionUp
		confidence = posteriorUp
	}

	return models.ConsensusResult{
		Algorithm:           models.AlgorithmBayesian,
		Asset:               asset,
		Direction:           direction,
		PosteriorUp:         posteriorUp,
		PosteriorDown:       posteriorDown,
		ConsensusConfidence: confidence,
	}
}

// posteriorUpdate applies one Bayes step. A degenerate zero
// denominator (prior already certain against a certain signal) keeps
// the prior.
func posteriorUpdate(adjustedConfidence, prior float64) float64 {
	denominator := adjustedConfidence*prior + (1-adjustedConfidence)*(1-prior)
	if denominator == 0 {
		return prior
	}
	return (adjustedConfidence * prior) / denominator
}
