// Package refinement runs bounded rounds of agent re-evaluation over
// a consensus until it stabilizes or the round budget runs out.
package refinement

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantmesh/signal-engine/pkg/logger"
	"github.com/quantmesh/signal-engine/pkg/models"
)

// Evaluator is an agent's view into the refinement loop: given the
// current consensus it returns a revised opinion
type Evaluator interface {
	ID() string
	EvaluateConsensus(ctx context.Context, current []models.ConsensusResult) ([]models.ConsensusResult, error)
}

// Opinion is one agent's revision collected during a round
type Opinion struct {
	AgentID string
	Results []models.ConsensusResult
}

// AggregateFunc merges collected opinions into the revised consensus.
// The coordinator supplies whatever opinions survived the round; the
// function owns the merge semantics.
type AggregateFunc func(current []models.ConsensusResult, opinions []Opinion) []models.ConsensusResult

// Config bounds the refinement loop
type Config struct {
	MaxRounds   int
	Epsilon     float64       // per-asset confidence delta below which a round changes nothing
	RoundBudget time.Duration // per-agent latency budget within a round
}

// DefaultConfig returns the standard refinement bounds
func DefaultConfig() Config {
	return Config{
		MaxRounds:   3,
		Epsilon:     0.01,
		RoundBudget: 10 * time.Second,
	}
}

// Coordinator is the Init → Round(k) → Done state machine
type Coordinator struct {
	evaluators []Evaluator
	aggregate  AggregateFunc
	cfg        Config
}

// NewCoordinator creates a refinement coordinator. A nil aggregate
// falls back to AverageOpinions.
func NewCoordinator(evaluators []Evaluator, aggregate AggregateFunc, cfg Config) *Coordinator {
	if aggregate == nil {
		aggregate = AverageOpinions
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultConfig().MaxRounds
	}
	if cfg.RoundBudget <= 0 {
		cfg.RoundBudget = DefaultConfig().RoundBudget
	}
	return &Coordinator{
		evaluators: evaluators,
		aggregate:  aggregate,
		cfg:        cfg,
	}
}

// Refine runs rounds until the consensus converges or the budget is
// exhausted. Exhausting the budget is a reported fact, not an error.
func (c *Coordinator) Refine(ctx context.Context, initial []models.ConsensusResult) *models.RefinementResult {
	current := initial
	rounds := 0
	converged := false

	for round := 1; round <= c.cfg.MaxRounds; round++ {
		if ctx.Err() != nil {
			break
		}
		rounds = round

		opinions := c.runRound(ctx, round, current)
		revised := c.aggregate(current, opinions)

		if c.hasConverged(current, revised) {
			current = revised
			converged = true
			break
		}
		current = revised
	}

	logger.Info("refinement finished",
		zap.Int("rounds", rounds),
		zap.Bool("converged", converged),
		zap.Int("assets", len(current)),
	)

	return &models.RefinementResult{
		FinalConsensus: current,
		RoundsExecuted: rounds,
		HasConverged:   converged,
	}
}

// runRound fans the current consensus out to every evaluator under
// the per-round latency budget. Failures and timeouts exclude an
// agent from this round only; nothing is retried mid-round.
func (c *Coordinator) runRound(ctx context.Context, round int, current []models.ConsensusResult) []Opinion {
	var wg sync.WaitGroup
	collected := make([]*Opinion, len(c.evaluators))

	for i, evaluator := range c.evaluators {
		wg.Add(1)
		go func(idx int, ev Evaluator) {
			defer wg.Done()

			evalCtx, cancel := context.WithTimeout(ctx, c.cfg.RoundBudget)
			defer cancel()

			results, err := ev.EvaluateConsensus(evalCtx, current)
			if err != nil {
				logger.Warn("agent excluded from refinement round",
					zap.String("agent", ev.ID()),
					zap.Int("round", round),
					zap.Error(err),
				)
				return
			}
			collected[idx] = &Opinion{AgentID: ev.ID(), Results: results}
		}(i, evaluator)
	}

	wg.Wait()

	opinions := make([]Opinion, 0, len(collected))
	for _, op := range collected {
		if op != nil {
			opinions = append(opinions, *op)
		}
	}
	return opinions
}

// hasConverged holds when both consensus sets cover the same assets
// with the same top direction and confidence deltas under epsilon
func (c *Coordinator) hasConverged(previous, revised []models.ConsensusResult) bool {
	prevTop := topByAsset(previous)
	nextTop := topByAsset(revised)

	if len(prevTop) != len(nextTop) {
		return false
	}

	for asset, before := range prevTop {
		after, ok := nextTop[asset]
		if !ok {
			return false
		}
		if before.Direction != after.Direction {
			return false
		}
		if math.Abs(before.ConsensusConfidence-after.ConsensusConfidence) >= c.cfg.Epsilon {
			return false
		}
	}
	return true
}

func topByAsset(results []models.ConsensusResult) map[string]models.ConsensusResult {
	top := make(map[string]models.ConsensusResult, len(results))
	for _, r := range results {
		if existing, ok := top[r.Asset]; ok && existing.ConsensusConfidence >= r.ConsensusConfidence {
			continue
		}
		top[r.Asset] = r
	}
	return top
}

// AverageOpinions is the default merge: for every (asset, direction)
// group it averages the confidences and posteriors the surviving
// opinions report. A round with no surviving opinions leaves the
// consensus unchanged.
func AverageOpinions(current []models.ConsensusResult, opinions []Opinion) []models.ConsensusResult {
	if len(opinions) == 0 {
		return current
	}

	type accumulator struct {
		result models.ConsensusResult
		count  int
	}

	merged := make(map[string]*accumulator)
	order := make([]string, 0)

	for _, opinion := range opinions {
		for _, r := range opinion.Results {
			key := r.Asset + "|" + string(r.Direction)
			acc, ok := merged[key]
			if !ok {
				acc = &accumulator{result: r}
				merged[key] = acc
				order = append(order, key)
				acc.count = 1
				continue
			}
			acc.result.ConsensusConfidence += r.ConsensusConfidence
			acc.result.WeightedConfidence += r.WeightedConfidence
			acc.result.PosteriorUp += r.PosteriorUp
			acc.result.PosteriorDown += r.PosteriorDown
			acc.count++
		}
	}

	revised := make([]models.ConsensusResult, 0, len(merged))
	for _, key := range order {
		acc := merged[key]
		n := float64(acc.count)
		r := acc.result
		r.ConsensusConfidence /= n
		r.WeightedConfidence /= n
		r.PosteriorUp /= n
		r.PosteriorDown /= n
		revised = append(revised, r)
	}

	sort.SliceStable(revised, func(i, j int) bool {
		if revised[i].ConsensusConfidence != revised[j].ConsensusConfidence {
			return revised[i].ConsensusConfidence > revised[j].ConsensusConfidence
		}
		if revised[i].Asset != revised[j].Asset {
			return revised[i].Asset < revised[j].Asset
		}
		return revised[i].Direction < revised[j].Direction
	})

	return revised
}
