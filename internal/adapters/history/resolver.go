package history

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quantmesh/signal-engine/pkg/logger"
	"github.com/quantmesh/signal-engine/pkg/models"
)

// SignalStore is the slice of the history repository the resolver
// needs. Satisfied by Repository.
type SignalStore interface {
	UnresolvedSignals(ctx context.Context, olderThan time.Time, limit int) ([]UnresolvedSignal, error)
	SaveOutcomes(ctx context.Context, outcomes []Outcome) error
}

// PriceSource reports the first stored price at or after a time.
// Satisfied by the market repository.
type PriceSource interface {
	PriceAt(ctx context.Context, asset, timeframe string, at time.Time) (float64, bool, error)
}

// Resolver judges past signals against later market prices and writes
// the outcomes the accuracy tracker reads. It runs between cycles as a
// worker on its own interval.
type Resolver struct {
	store     SignalStore
	prices    PriceSource
	timeframe string
	horizon   time.Duration
	batch     int
	now       func() time.Time
}

// NewResolver creates a resolver judging signals over the given
// horizon
func NewResolver(store SignalStore, prices PriceSource, timeframe string, horizon time.Duration) *Resolver {
	if horizon <= 0 {
		horizon = time.Hour
	}
	return &Resolver{
		store:     store,
		prices:    prices,
		timeframe: timeframe,
		horizon:   horizon,
		batch:     500,
		now:       time.Now,
	}
}

// Name implements worker.Worker
func (rv *Resolver) Name() string {
	return "outcome_resolution"
}

// Run resolves one batch of pending signals. Signals whose horizon has
// no market record yet stay pending and are retried on the next run.
func (rv *Resolver) Run(ctx context.Context) error {
	now := rv.now().UTC()

	pending, err := rv.store.UnresolvedSignals(ctx, now.Add(-rv.horizon), rv.batch)
	if err != nil {
		return fmt.Errorf("loading unresolved signals: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	outcomes := make([]Outcome, 0, len(pending))
	for _, sig := range pending {
		entry, ok, err := rv.prices.PriceAt(ctx, sig.Asset, rv.timeframe, sig.SignalTS)
		if err != nil {
			return fmt.Errorf("entry price for %s: %w", sig.Asset, err)
		}
		exit, exitOK, err := rv.prices.PriceAt(ctx, sig.Asset, rv.timeframe, sig.SignalTS.Add(rv.horizon))
		if err != nil {
			return fmt.Errorf("exit price for %s: %w", sig.Asset, err)
		}
		if !ok || !exitOK || entry == 0 {
			continue
		}

		change := (exit - entry) / entry
		outcomes = append(outcomes, Outcome{
			SignalID:   sig.ID,
			AgentID:    sig.AgentID,
			Asset:      sig.Asset,
			Correct:    directionCorrect(sig.Direction, change),
			ResolvedAt: now,
		})
	}

	if err := rv.store.SaveOutcomes(ctx, outcomes); err != nil {
		return fmt.Errorf("saving outcomes: %w", err)
	}

	logger.Info("resolved signal outcomes",
		zap.Int("pending", len(pending)),
		zap.Int("resolved", len(outcomes)),
	)

	return nil
}

// directionCorrect judges a directional call against the realized
// price change. A flat market confirms neither direction.
func directionCorrect(direction string, change float64) bool {
	switch models.Direction(direction) {
	case models.DirectionUp:
		return change > 0
	case models.DirectionDown:
		return change < 0
	default:
		return false
	}
}
