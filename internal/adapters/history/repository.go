package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/quantmesh/signal-engine/pkg/logger"
	"github.com/quantmesh/signal-engine/pkg/models"
)

// Outcome records how a past signal resolved against the market
type Outcome struct {
	SignalID   string
	AgentID    string
	Asset      string
	Correct    bool
	ResolvedAt time.Time
}

// UnresolvedSignal is a stored signal that has no outcome row yet
type UnresolvedSignal struct {
	ID        string    `db:"id"`
	AgentID   string    `db:"agent_id"`
	Asset     string    `db:"asset"`
	Direction string    `db:"direction"`
	SignalTS  time.Time `db:"signal_ts"`
}

// Repository handles ClickHouse history operations
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new history repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// SaveSignals appends agent signals for one engine cycle
func (r *Repository) SaveSignals(ctx context.Context, cycleID string, signals []models.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	stmt, err := tx.Preparex(`
		INSERT INTO signal_history
		(id, cycle_id, agent_id, asset, direction, confidence, timeframe, signal_ts, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, sig := range signals {
		_, err = stmt.ExecContext(ctx,
			uuid.New().String(),
			cycleID,
			sig.SourceOrAgentID,
			sig.Asset,
			string(sig.Direction),
			sig.Confidence,
			sig.Timeframe,
			time.UnixMilli(sig.Timestamp).UTC(),
			now,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert signal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Debug("saved signals to ClickHouse",
		zap.String("cycle", cycleID),
		zap.Int("count", len(signals)),
	)

	return nil
}

// SaveConsensusResults appends consensus outputs for one engine cycle
func (r *Repository) SaveConsensusResults(ctx context.Context, cycleID string, results []models.ConsensusResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	stmt, err := tx.Preparex(`
		INSERT INTO consensus_history
		(id, cycle_id, algorithm, asset, direction, weighted_confidence, votes,
		 posterior_up, posterior_down, consensus_confidence, contributing_signals, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, res := range results {
		_, err = stmt.ExecContext(ctx,
			uuid.New().String(),
			cycleID,
			string(res.Algorithm),
			res.Asset,
			string(res.Direction),
			res.WeightedConfidence,
			uint32(res.Votes),
			res.PosteriorUp,
			res.PosteriorDown,
			res.ConsensusConfidence,
			uint32(len(res.ContributingSignals)),
			now,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert consensus result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Debug("saved consensus results to ClickHouse",
		zap.String("cycle", cycleID),
		zap.Int("count", len(results)),
	)

	return nil
}

// UnresolvedSignals returns signals old enough to judge that have no
// outcome row yet, oldest first
func (r *Repository) UnresolvedSignals(ctx context.Context, olderThan time.Time, limit int) ([]UnresolvedSignal, error) {
	query := `
		SELECT id, agent_id, asset, direction, signal_ts
		FROM signal_history
		WHERE signal_ts <= ?
		  AND id NOT IN (SELECT signal_id FROM signal_outcomes)
		ORDER BY signal_ts ASC
		LIMIT ?
	`

	var pending []UnresolvedSignal
	if err := r.db.SelectContext(ctx, &pending, query, olderThan, limit); err != nil {
		return nil, fmt.Errorf("failed to query unresolved signals: %w", err)
	}
	return pending, nil
}

// SaveOutcomes appends resolved signal outcomes
func (r *Repository) SaveOutcomes(ctx context.Context, outcomes []Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	stmt, err := tx.Preparex(`
		INSERT INTO signal_outcomes
		(signal_id, agent_id, asset, correct, resolved_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, o := range outcomes {
		correct := uint8(0)
		if o.Correct {
			correct = 1
		}
		_, err = stmt.ExecContext(ctx,
			o.SignalID,
			o.AgentID,
			o.Asset,
			correct,
			o.ResolvedAt,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert outcome: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Debug("saved signal outcomes to ClickHouse",
		zap.Int("count", len(outcomes)),
	)

	return nil
}

// AgentOutcomes returns correct and total resolved outcomes over the
// agent's most recent window. Implements agents.OutcomeSource.
func (r *Repository) AgentOutcomes(ctx context.Context, agentID string, limit int) (int, int, error) {
	query := `
		SELECT countIf(correct = 1) AS correct, count() AS total
		FROM (
			SELECT correct
			FROM signal_outcomes
			WHERE agent_id = ?
			ORDER BY resolved_at DESC
			LIMIT ?
		)
	`

	var row struct {
		Correct uint64 `db:"correct"`
		Total   uint64 `db:"total"`
	}
	if err := r.db.GetContext(ctx, &row, query, agentID, limit); err != nil {
		return 0, 0, fmt.Errorf("failed to query agent outcomes: %w", err)
	}
	return int(row.Correct), int(row.Total), nil
}
