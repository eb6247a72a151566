package weights

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quantmesh/signal-engine/pkg/models"
)

// AgentWeight is a row of the agent_weights table
type AgentWeight struct {
	AgentID   string    `db:"agent_id"`
	Weight    float64   `db:"weight"`
	Accuracy  float64   `db:"accuracy"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Repository handles database operations for agent weights. The table
// is read once at the start of a cycle and written only between cycles.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new weights repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// LoadWeights returns the current voting weight for every known agent
func (r *Repository) LoadWeights(ctx context.Context) (models.AgentWeights, error) {
	query := `
		SELECT agent_id, weight, accuracy, updated_at
		FROM agent_weights
	`

	var rows []AgentWeight
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load agent weights: %w", err)
	}

	weights := make(models.AgentWeights, len(rows))
	for _, row := range rows {
		weights[row.AgentID] = row.Weight
	}
	return weights, nil
}

// LoadAccuracies returns the last recomputed accuracy per agent
func (r *Repository) LoadAccuracies(ctx context.Context) (map[string]float64, error) {
	query := `
		SELECT agent_id, weight, accuracy, updated_at
		FROM agent_weights
	`

	var rows []AgentWeight
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load agent accuracies: %w", err)
	}

	accuracies := make(map[string]float64, len(rows))
	for _, row := range rows {
		accuracies[row.AgentID] = row.Accuracy
	}
	return accuracies, nil
}

// GetAgentWeight retrieves a single agent's row, or nil when the agent
// has never been scored
func (r *Repository) GetAgentWeight(ctx context.Context, agentID string) (*AgentWeight, error) {
	query := `
		SELECT agent_id, weight, accuracy, updated_at
		FROM agent_weights
		WHERE agent_id = $1
	`

	var row AgentWeight
	err := r.db.GetContext(ctx, &row, query, agentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent weight: %w", err)
	}
	return &row, nil
}

// UpdateAgentAccuracy upserts the agent's accuracy and derived weight.
// Implements agents.WeightStore.
func (r *Repository) UpdateAgentAccuracy(ctx context.Context, agentID string, accuracy, weight float64) error {
	query := `
		INSERT INTO agent_weights (agent_id, weight, accuracy, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (agent_id)
		DO UPDATE SET weight = $2, accuracy = $3, updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, agentID, weight, accuracy); err != nil {
		return fmt.Errorf("failed to update weight for agent %s: %w", agentID, err)
	}
	return nil
}
