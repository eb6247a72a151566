package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// NewDecimal creates decimal from float64
func NewDecimal(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value)
}

// ToFloat64 safely converts decimal to float64
func ToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// MarketRecord is one observation of an asset. Records handed to the
// scorer are always ordered newest-first; producers owning other
// orderings must reverse at the boundary.
type MarketRecord struct {
	Timestamp   time.Time       `json:"timestamp"`
	Price       decimal.Decimal `json:"price"`
	Volume      decimal.Decimal `json:"volume"`
	SocialScore float64         `json:"social_score"` // 0-100, from upstream collectors
	NewsScore   float64         `json:"news_score"`   // 0-100, from upstream collectors
}

// MarketSnapshot is the per-cycle view of one asset's recent history,
// newest-first
type MarketSnapshot struct {
	Asset     string         `json:"asset"`
	Timeframe string         `json:"timeframe"`
	Records   []MarketRecord `json:"records"`
}

// Validate checks the snapshot honors the newest-first ordering
// contract before it crosses into scoring
func (m *MarketSnapshot) Validate() error {
	if m.Asset == "" {
		return fmt.Errorf("snapshot asset is required")
	}
	for i := 1; i < len(m.Records); i++ {
		if m.Records[i].Timestamp.After(m.Records[i-1].Timestamp) {
			return fmt.Errorf("snapshot for %s is not newest-first at index %d", m.Asset, i)
		}
	}
	return nil
}

// Prices returns the price series as float64, newest-first
func (m *MarketSnapshot) Prices() []float64 {
	out := make([]float64, len(m.Records))
	for i, r := range m.Records {
		out[i] = ToFloat64(r.Price)
	}
	return out
}

// Volumes returns the volume series as float64, newest-first
func (m *MarketSnapshot) Volumes() []float64 {
	out := make([]float64, len(m.Records))
	for i, r := range m.Records {
		out[i] = ToFloat64(r.Volume)
	}
	return out
}

// SocialScores returns the social score series, newest-first
func (m *MarketSnapshot) SocialScores() []float64 {
	out := make([]float64, len(m.Records))
	for i, r := range m.Records {
		out[i] = r.SocialScore
	}
	return out
}

// NewsScores returns the news score series, newest-first
func (m *MarketSnapshot) NewsScores() []float64 {
	out := make([]float64, len(m.Records))
	for i, r := range m.Records {
		out[i] = r.NewsScore
	}
	return out
}
