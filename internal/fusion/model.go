// Package fusion combines weighted source scores for one asset into a
// single fused score with a confidence estimate.
package fusion

import (
	"github.com/quantmesh/signal-engine/internal/stats"
	"github.com/quantmesh/signal-engine/pkg/models"
)

// Model fuses source scores using caller-supplied weights. Weights are
// renormalized over the sources actually present, so absent sources
// never dilute the result.
type Model struct {
	trendThreshold float64
}

// NewModel creates a fusion model with the given trend-vote threshold
func NewModel(trendThreshold float64) *Model {
	if trendThreshold <= 0 {
		trendThreshold = stats.DefaultTrendThreshold
	}
	return &Model{trendThreshold: trendThreshold}
}

// Neutral is the result for zero usable weight: dead center, no
// confidence, no breakdown
func Neutral() *models.FusionResult {
	return &models.FusionResult{
		Score:      50,
		Normalized: 0.5,
		Trend:      models.TrendStable,
		Breakdown:  map[string]models.SourceContribution{},
		Confidence: 0,
	}
}

// Fuse combines the present source scores. Never errors: a zero or
// negative total weight produces the neutral result.
func (m *Model) Fuse(sentiment map[string]models.SourceScore, weights map[string]float64) *models.FusionResult {
	totalWeight := 0.0
	for name := range sentiment {
		totalWeight += weights[name]
	}
	if totalWeight <= 0 {
		return Neutral()
	}

	breakdown := make(map[string]models.SourceContribution, len(sentiment))
	weightedScore := 0.0
	trendVotes := make([]float64, 0, len(sentiment))

	for name, score := range sentiment {
		normWeight := weights[name] / totalWeight
		contribution := score.RawScore * normWeight
		weightedScore += contribution
		trendVotes = append(trendVotes, score.Trend.Vote())

		breakdown[name] = models.SourceContribution{
			Score:        score.RawScore,
			Weight:       normWeight,
			Contribution: contribution,
			Trend:        score.Trend,
		}
	}

	overallTrend := m.voteTrend(trendVotes)
	agreement := m.agreementRatio(trendVotes, overallTrend)

	confidence := 0.5*(float64(len(sentiment))/3) + 0.5*agreement
	confidence = stats.Clamp(confidence, 0, 1)

	return &models.FusionResult{
		Score:      stats.Round1(weightedScore),
		Normalized: weightedScore / 100,
		Trend:      overallTrend,
		Breakdown:  breakdown,
		Confidence: stats.Round2(confidence),
	}
}

// voteTrend reduces per-source trend votes to an overall trend
func (m *Model) voteTrend(votes []float64) models.Trend {
	avg := stats.Mean(votes)
	switch {
	case avg > m.trendThreshold:
		return models.TrendRising
	case avg < -m.trendThreshold:
		return models.TrendFalling
	default:
		return models.TrendStable
	}
}

// agreementRatio is the fraction of sources whose vote matches the
// overall trend's sign; stable matches a zero vote
func (m *Model) agreementRatio(votes []float64, overall models.Trend) float64 {
	if len(votes) == 0 {
		return 0
	}

	matching := 0
	for _, vote := range votes {
		switch overall {
		case models.TrendRising:
			if vote > 0 {
				matching++
			}
		case models.TrendFalling:
			if vote < 0 {
				matching++
			}
		default:
			if vote == 0 {
				matching++
			}
		}
	}
	return float64(matching) / float64(len(votes))
}
