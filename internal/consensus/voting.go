package consensus

import (
	"sort"

	"github.com/quantmesh/signal-engine/pkg/models"
)

type votingGroup struct {
	asset     string
	direction models.Direction
	signals   []models.Signal
}

// WeightedVoting groups signals by (asset, direction) and scores each
// group by weight-adjusted confidence. Pure summation, so the result
// does not depend on signal arrival order. Competing up/down groups
// for one asset both survive; callers wanting a single decision take
// the max by consensus confidence (models.TopPerAsset).
func WeightedVoting(signals []models.Signal, weights models.AgentWeights) []models.ConsensusResult {
	groups := make(map[string]*votingGroup)
	order := make([]string, 0)

	for _, signal := range signals {
		key := signal.Asset + "|" + string(signal.Direction)
		group, ok := groups[key]
		if !ok {
			group = &votingGroup{asset: signal.Asset, direction: signal.Direction}
			groups[key] = group
			order = append(order, key)
		}
		group.signals = append(group.signals, signal)
	}

	results := make([]models.ConsensusResult, 0, len(groups))
	for _, key := range order {
		group := groups[key]

		weightedConfidence := 0.0
		totalWeight := 0.0
		for _, signal := range group.signals {
			w := weights.Get(signal.SourceOrAgentID)
			weightedConfidence += signal.Confidence * w
			totalWeight += w
		}

		consensusConfidence := 0.0
		if totalWeight > 0 {
			consensusConfidence = weightedConfidence / totalWeight
		}

		results = append(results, models.ConsensusResult{
			Algorithm:           models.AlgorithmVoting,
			Asset:               group.asset,
			Direction:           group.direction,
			WeightedConfidence:  weightedConfidence,
			Votes:               len(group.signals),
			ConsensusConfidence: consensusConfidence,
			ContributingSignals: group.signals,
		})
	}

	// confidence descending; asset then direction keeps ties
	// deterministic
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].ConsensusConfidence != results[j].ConsensusConfidence {
			return results[i].ConsensusConfidence > results[j].ConsensusConfidence
		}
		if results[i].Asset != results[j].Asset {
			return results[i].Asset < results[j].Asset
		}
		return results[i].Direction < results[j].Direction
	})

	return results
}
