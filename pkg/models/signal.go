package models

import (
	"fmt"
	"time"
)

// Direction represents the directional call of a signal
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Trend represents rising/falling/stable classification
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// TrendVote maps a trend to its vote value (+1 rising, -1 falling, 0 stable)
func (t Trend) Vote() float64 {
	switch t {
	case TrendRising:
		return 1
	case TrendFalling:
		return -1
	default:
		return 0
	}
}

// Signal is a directional, confidence-scored claim about one asset
// produced by one source or agent. Immutable once created.
type Signal struct {
	Asset           string            `json:"asset"`
	Direction       Direction         `json:"direction"`
	Confidence      float64           `json:"confidence"` // 0.0 - 1.0
	Timeframe       string            `json:"timeframe"`
	Timestamp       int64             `json:"timestamp"` // epoch millis
	SourceOrAgentID string            `json:"source_or_agent_id"`
	AgentAccuracy   *float64          `json:"agent_accuracy,omitempty"` // required for bayesian consensus only
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Validate checks signal fields are within bounds
func (s *Signal) Validate() error {
	if s.Asset == "" {
		return fmt.Errorf("signal asset is required")
	}
	if s.Direction != DirectionUp && s.Direction != DirectionDown {
		return fmt.Errorf("invalid signal direction: %s", s.Direction)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal confidence must be between 0 and 1, got %.4f", s.Confidence)
	}
	if s.AgentAccuracy != nil && (*s.AgentAccuracy < 0 || *s.AgentAccuracy > 1) {
		return fmt.Errorf("agent accuracy must be between 0 and 1, got %.4f", *s.AgentAccuracy)
	}
	return nil
}

// Time returns the signal timestamp as time.Time
func (s *Signal) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// SourceScore is one data source's normalized view of an asset,
// produced fresh per analysis call
type SourceScore struct {
	Name       string  `json:"name"`
	RawScore   float64 `json:"raw_score"`  // 0-100
	Normalized float64 `json:"normalized"` // 0-1
	Trend      Trend   `json:"trend"`

	// PriceVolumeLag is the offset at which price and volume correlate
	// most strongly. Only the market source fills it; diagnostic, not
	// part of the fused score.
	PriceVolumeLag int `json:"price_volume_lag,omitempty"`
}

// SourceContribution is one source's share of a fused score
type SourceContribution struct {
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"` // normalized over present sources
	Contribution float64 `json:"contribution"`
	Trend        Trend   `json:"trend"`
}

// FusionResult combines multiple source scores for one asset
type FusionResult struct {
	Score      float64                       `json:"score"`      // 0-100, 1 decimal
	Normalized float64                       `json:"normalized"` // 0-1
	Trend      Trend                         `json:"trend"`
	Breakdown  map[string]SourceContribution `json:"breakdown"`
	Confidence float64                       `json:"confidence"` // 0-1, 2 decimals
}

// Direction maps the fused trend to a signal direction.
// Stable trends lean on the score: above neutral is up.
func (f *FusionResult) Direction() Direction {
	switch f.Trend {
	case TrendRising:
		return DirectionUp
	case TrendFalling:
		return DirectionDown
	}
	if f.Score >= 50 {
		return DirectionUp
	}
	return DirectionDown
}

// AgentWeights maps agent ID to a positive weight. The table is
// externally owned and read-only for the duration of a cycle.
type AgentWeights map[string]float64

// Get returns the weight for an agent, defaulting to 1 for unknown agents
func (w AgentWeights) Get(agentID string) float64 {
	if weight, ok := w[agentID]; ok {
		return weight
	}
	return 1
}
