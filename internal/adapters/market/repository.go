package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/quantmesh/signal-engine/pkg/logger"
	"github.com/quantmesh/signal-engine/pkg/models"
)

// Repository reads upstream collector output from ClickHouse and
// shapes it into per-asset snapshots. The engine never writes here.
type Repository struct {
	ch    *sqlx.DB
	depth int
}

// NewRepository creates a market repository returning at most depth
// records per asset
func NewRepository(ch *sqlx.DB, depth int) *Repository {
	if depth <= 0 {
		depth = 50
	}
	return &Repository{ch: ch, depth: depth}
}

// Snapshot retrieves one asset's recent records, newest-first
func (r *Repository) Snapshot(ctx context.Context, asset, timeframe string) (*models.MarketSnapshot, error) {
	query := `
		SELECT timestamp, price, volume, social_score, news_score
		FROM market_records
		WHERE asset = ? AND timeframe = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.ch.QueryxContext(ctx, query, asset, timeframe, r.depth)
	if err != nil {
		return nil, fmt.Errorf("failed to query market records: %w", err)
	}
	defer rows.Close()

	snapshot := &models.MarketSnapshot{
		Asset:     asset,
		Timeframe: timeframe,
	}

	for rows.Next() {
		var record models.MarketRecord
		var price, volume float64

		err := rows.Scan(
			&record.Timestamp,
			&price,
			&volume,
			&record.SocialScore,
			&record.NewsScore,
		)
		if err != nil {
			continue
		}

		record.Price = models.NewDecimal(price)
		record.Volume = models.NewDecimal(volume)
		snapshot.Records = append(snapshot.Records, record)
	}

	return snapshot, nil
}

// PriceAt returns the first stored price at or after the given time.
// ok is false when the collector has no record past that point yet.
func (r *Repository) PriceAt(ctx context.Context, asset, timeframe string, at time.Time) (float64, bool, error) {
	query := `
		SELECT price
		FROM market_records
		WHERE asset = ? AND timeframe = ? AND timestamp >= ?
		ORDER BY timestamp ASC
		LIMIT 1
	`

	var price float64
	err := r.ch.GetContext(ctx, &price, query, asset, timeframe, at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to query price for %s: %w", asset, err)
	}
	return price, true, nil
}

// Snapshots retrieves snapshots for every configured asset. Assets
// with no stored records are dropped with a warning; scoring treats
// them as unavailable anyway.
func (r *Repository) Snapshots(ctx context.Context, assets []string, timeframe string) ([]*models.MarketSnapshot, error) {
	snapshots := make([]*models.MarketSnapshot, 0, len(assets))
	for _, asset := range assets {
		snap, err := r.Snapshot(ctx, asset, timeframe)
		if err != nil {
			return nil, err
		}
		if len(snap.Records) == 0 {
			logger.Warn("no market records for asset",
				zap.String("asset", asset),
				zap.String("timeframe", timeframe),
			)
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}
