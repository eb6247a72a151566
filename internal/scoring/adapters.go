package scoring

import (
	"context"
	"fmt"

	"github.com/cinar/indicator"

	"github.com/quantmesh/signal-engine/pkg/models"
)

// Adapter supplies one source's raw 0-100 score history for an asset,
// newest-first. Implementations wrap upstream collectors (social
// aggregators, news scorers) or derive scores locally.
type Adapter interface {
	Name() string
	Scores(ctx context.Context, snapshot *models.MarketSnapshot) ([]float64, error)
}

// SocialAdapter reads social scores already attached to the snapshot
// by the ingestion layer
type SocialAdapter struct{}

func (SocialAdapter) Name() string { return "social" }

func (SocialAdapter) Scores(_ context.Context, snapshot *models.MarketSnapshot) ([]float64, error) {
	return snapshot.SocialScores(), nil
}

// NewsAdapter reads news impact scores attached to the snapshot
type NewsAdapter struct{}

func (NewsAdapter) Name() string { return "news" }

func (NewsAdapter) Scores(_ context.Context, snapshot *models.MarketSnapshot) ([]float64, error) {
	return snapshot.NewsScores(), nil
}

// MomentumAdapter derives a 0-100 momentum score from RSI over the
// price series
type MomentumAdapter struct {
	Period int
}

func (MomentumAdapter) Name() string { return "momentum" }

func (a MomentumAdapter) Scores(_ context.Context, snapshot *models.MarketSnapshot) ([]float64, error) {
	period := a.Period
	if period <= 0 {
		period = 14
	}

	prices := snapshot.Prices()
	if len(prices) < period+1 {
		return nil, fmt.Errorf("%w: %s needs %d prices for RSI, has %d",
			ErrDataUnavailable, snapshot.Asset, period+1, len(prices))
	}

	// RSI expects chronological input
	closes := make([]float64, len(prices))
	for i, p := range prices {
		closes[len(prices)-1-i] = p
	}

	_, rsi := indicator.RsiPeriod(period, closes)
	if len(rsi) <= period {
		return nil, fmt.Errorf("%w: %s RSI warmup not satisfied", ErrDataUnavailable, snapshot.Asset)
	}
	rsi = rsi[period:] // drop warmup values

	// back to newest-first
	history := make([]float64, len(rsi))
	for i, v := range rsi {
		history[len(rsi)-1-i] = v
	}
	return history, nil
}
