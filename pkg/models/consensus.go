package models

// ConsensusAlgorithm selects how agent signals are combined
type ConsensusAlgorithm string

const (
	AlgorithmVoting   ConsensusAlgorithm = "voting"
	AlgorithmBayesian ConsensusAlgorithm = "bayesian"
)

// ConsensusResult is one per-asset consensus decision. Voting produces
// one result per (asset, direction) group with vote fields populated;
// bayesian produces one result per asset with posterior fields
// populated. Algorithm tells consumers which fields carry meaning.
type ConsensusResult struct {
	Algorithm ConsensusAlgorithm `json:"algorithm"`
	Asset     string             `json:"asset"`
	Direction Direction          `json:"direction"`

	// Voting fields
	WeightedConfidence  float64  `json:"weighted_confidence,omitempty"`
	Votes               int      `json:"votes,omitempty"`
	ContributingSignals []Signal `json:"contributing_signals,omitempty"`

	// Bayesian fields
	PosteriorUp   float64 `json:"posterior_up,omitempty"`
	PosteriorDown float64 `json:"posterior_down,omitempty"`

	// Present in both shapes
	ConsensusConfidence float64 `json:"consensus_confidence"` // 0-1
}

// RefinementResult is the terminal output of the multi-round
// refinement loop
type RefinementResult struct {
	FinalConsensus []ConsensusResult `json:"final_consensus"`
	RoundsExecuted int               `json:"rounds_executed"`
	HasConverged   bool              `json:"has_converged"`
}

// TopPerAsset reduces competing up/down groups to one decision per
// asset, keeping the max by consensus confidence. Input is expected
// sorted by confidence descending, as the voting engine emits it.
func TopPerAsset(results []ConsensusResult) []ConsensusResult {
	seen := make(map[string]bool, len(results))
	top := make([]ConsensusResult, 0, len(results))
	for _, r := range results {
		if seen[r.Asset] {
			continue
		}
		seen[r.Asset] = true
		top = append(top, r)
	}
	return top
}
