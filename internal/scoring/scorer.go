// Package scoring converts per-asset time series into normalized
// source scores. Inputs are always newest-first; the ordering is
// validated at the boundary because mixed orderings are the classic
// source of silent trend inversions.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quantmesh/signal-engine/internal/stats"
	"github.com/quantmesh/signal-engine/pkg/cache"
	"github.com/quantmesh/signal-engine/pkg/logger"
	"github.com/quantmesh/signal-engine/pkg/models"
)

var (
	// ErrMissingAdapter means a requested source has no configured
	// adapter. Configuration defect: fail fast, never retried.
	ErrMissingAdapter = errors.New("source adapter not configured")

	// ErrDataUnavailable means an asset/source pair lacks enough
	// time-series data. Soft failure: skip the source, keep the batch.
	ErrDataUnavailable = errors.New("insufficient source data")
)

// SourceMarket is scored from price/volume behavior rather than an
// upstream raw score
const SourceMarket = "market"

// Options tune the statistical primitives behind every score
type Options struct {
	TrendThreshold float64
	AvgPeriods     int
	MaxLag         int
	CacheTTL       time.Duration
}

// DefaultOptions returns the standard thresholds
func DefaultOptions() Options {
	return Options{
		TrendThreshold: stats.DefaultTrendThreshold,
		AvgPeriods:     stats.DefaultAvgPeriods,
		MaxLag:         stats.DefaultMaxLag,
		CacheTTL:       5 * time.Minute,
	}
}

// Scorer produces a SourceScore per (asset, timeframe, source)
type Scorer struct {
	adapters map[string]Adapter
	cache    cache.Cache
	opts     Options
}

// NewScorer creates a scorer over the given source adapters. The
// market source is built in; cache may be nil to disable caching.
func NewScorer(adapters []Adapter, scoreCache cache.Cache, opts Options) *Scorer {
	byName := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Scorer{
		adapters: byName,
		cache:    scoreCache,
		opts:     opts,
	}
}

// Score computes one source's score for the snapshot's asset
func (s *Scorer) Score(ctx context.Context, snapshot *models.MarketSnapshot, source string) (*models.SourceScore, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	if cached := s.cachedScore(ctx, snapshot, source); cached != nil {
		return cached, nil
	}

	var (
		score *models.SourceScore
		err   error
	)
	if source == SourceMarket {
		score, err = s.scoreMarket(snapshot)
	} else {
		score, err = s.scoreFromAdapter(ctx, snapshot, source)
	}
	if err != nil {
		return nil, err
	}

	s.cacheScore(ctx, snapshot, score)
	return score, nil
}

// ScoreAll scores every requested source. Data-availability errors
// degrade to a warning and a skipped source so one thin feed never
// aborts the asset. A missing adapter is a configuration defect, not
// a data gap: it aborts the remaining sources for the asset instead
// of being skipped.
func (s *Scorer) ScoreAll(ctx context.Context, snapshot *models.MarketSnapshot, sources []string) (map[string]models.SourceScore, error) {
	scores := make(map[string]models.SourceScore, len(sources))

	for _, source := range sources {
		score, err := s.Score(ctx, snapshot, source)
		if err != nil {
			if errors.Is(err, ErrDataUnavailable) {
				logger.Warn("skipping source with insufficient data",
					zap.String("asset", snapshot.Asset),
					zap.String("source", source),
					zap.Error(err),
				)
				continue
			}
			return nil, fmt.Errorf("scoring %s for %s: %w", source, snapshot.Asset, err)
		}
		scores[source] = *score
	}

	return scores, nil
}

// scoreMarket scores price/volume behavior:
// 50 * trendFactor * (0.4*volatilityFactor + 0.6*correlationFactor),
// clamped to [0, 100].
func (s *Scorer) scoreMarket(snapshot *models.MarketSnapshot) (*models.SourceScore, error) {
	prices := snapshot.Prices()
	if len(prices) < 2 {
		return nil, fmt.Errorf("%w: %s market series has %d points", ErrDataUnavailable, snapshot.Asset, len(prices))
	}

	trend := stats.Trend(prices, s.opts.TrendThreshold, s.opts.AvgPeriods)

	trendFactor := 1.0
	switch trend {
	case models.TrendRising:
		trendFactor = 1.2
	case models.TrendFalling:
		trendFactor = 0.8
	}

	returns := stats.Returns(prices)
	volatility := stats.StdDev(returns, stats.Mean(returns))
	volatilityFactor := 1 - 10*volatility
	if volatilityFactor < 0 {
		volatilityFactor = 0
	}

	volumes := snapshot.Volumes()
	priceVolumeCorr := stats.Correlation(prices, volumes)
	correlationFactor := (priceVolumeCorr + 1) / 2

	score := stats.Clamp(50*trendFactor*(0.4*volatilityFactor+0.6*correlationFactor), 0, 100)

	return &models.SourceScore{
		Name:           SourceMarket,
		RawScore:       score,
		Normalized:     score / 100,
		Trend:          trend,
		PriceVolumeLag: stats.OptimalLag(prices, volumes, s.opts.MaxLag),
	}, nil
}

// scoreFromAdapter normalizes a raw 0-100 upstream score history and
// classifies its trend
func (s *Scorer) scoreFromAdapter(ctx context.Context, snapshot *models.MarketSnapshot, source string) (*models.SourceScore, error) {
	adapter, ok := s.adapters[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingAdapter, source)
	}

	history, err := adapter.Scores(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s has no %s history", ErrDataUnavailable, snapshot.Asset, source)
	}

	raw := stats.Clamp(history[0], 0, 100)

	return &models.SourceScore{
		Name:       source,
		RawScore:   raw,
		Normalized: raw / 100,
		Trend:      stats.Trend(history, s.opts.TrendThreshold, s.opts.AvgPeriods),
	}, nil
}

func (s *Scorer) cacheKey(snapshot *models.MarketSnapshot, source string) string {
	return fmt.Sprintf("score:%s:%s:%s", snapshot.Asset, snapshot.Timeframe, source)
}

func (s *Scorer) cachedScore(ctx context.Context, snapshot *models.MarketSnapshot, source string) *models.SourceScore {
	if s.cache == nil {
		return nil
	}

	raw, ok, err := s.cache.Get(ctx, s.cacheKey(snapshot, source))
	if err != nil {
		logger.Warn("score cache read failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	var score models.SourceScore
	if err := json.Unmarshal(raw, &score); err != nil {
		logger.Warn("discarding malformed cached score", zap.Error(err))
		return nil
	}
	return &score
}

func (s *Scorer) cacheScore(ctx context.Context, snapshot *models.MarketSnapshot, score *models.SourceScore) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(score)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(snapshot, score.Name), raw, s.opts.CacheTTL); err != nil {
		logger.Warn("score cache write failed", zap.Error(err))
	}
}
