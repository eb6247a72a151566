package agents

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantmesh/signal-engine/pkg/logger"
	"github.com/quantmesh/signal-engine/pkg/models"
)

// Runner fans signal generation out to all agents in parallel and
// joins at a barrier. Consensus never starts until every agent has
// completed, failed or timed out; a failed agent is excluded from the
// cycle, never retried within it.
type Runner struct {
	agents        []Agent
	latencyBudget time.Duration
}

// NewRunner creates a runner with a per-agent latency budget
func NewRunner(agents []Agent, latencyBudget time.Duration) *Runner {
	if latencyBudget <= 0 {
		latencyBudget = 30 * time.Second
	}
	return &Runner{agents: agents, latencyBudget: latencyBudget}
}

// Agents returns the participating agents
func (r *Runner) Agents() []Agent {
	return r.agents
}

// Collect gathers signals from all agents for one cycle. Partial
// results are acceptable: agents that error or exceed the budget are
// logged and skipped without blocking the rest.
func (r *Runner) Collect(ctx context.Context, snapshots []*models.MarketSnapshot) []models.Signal {
	var wg sync.WaitGroup
	perAgent := make([][]models.Signal, len(r.agents))

	for i, agent := range r.agents {
		wg.Add(1)
		go func(idx int, a Agent) {
			defer wg.Done()

			agentCtx, cancel := context.WithTimeout(ctx, r.latencyBudget)
			defer cancel()

			signals, err := a.Process(agentCtx, snapshots)
			if err != nil {
				logger.Warn("agent excluded from cycle",
					zap.String("agent", a.ID()),
					zap.Error(err),
				)
				return
			}
			perAgent[idx] = signals
		}(i, agent)
	}

	wg.Wait() // barrier: consensus only sees a complete round

	collected := make([]models.Signal, 0)
	for _, signals := range perAgent {
		collected = append(collected, signals...)
	}

	logger.Debug("cycle signals collected",
		zap.Int("agents", len(r.agents)),
		zap.Int("signals", len(collected)),
	)

	return collected
}
