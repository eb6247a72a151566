package refinement

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantmesh/signal-engine/pkg/models"
)

type stubEvaluator struct {
	id       string
	evaluate func(ctx context.Context, current []models.ConsensusResult) ([]models.ConsensusResult, error)
	calls    atomic.Int32
}

func (s *stubEvaluator) ID() string { return s.id }

func (s *stubEvaluator) EvaluateConsensus(ctx context.Context, current []models.ConsensusResult) ([]models.ConsensusResult, error) {
	s.calls.Add(1)
	return s.evaluate(ctx, current)
}

func echoEvaluator(id string) *stubEvaluator {
	return &stubEvaluator{
		id: id,
		evaluate: func(_ context.Context, current []models.ConsensusResult) ([]models.ConsensusResult, error) {
			return current, nil
		},
	}
}

func votingResult(asset string, direction models.Direction, confidence float64) models.ConsensusResult {
	return models.ConsensusResult{
		Algorithm:           models.AlgorithmVoting,
		Asset:               asset,
		Direction:           direction,
		ConsensusConfidence: confidence,
	}
}

func TestCoordinator_ConvergesWhenOpinionsEcho(t *testing.T) {
	evaluators := []Evaluator{echoEvaluator("a"), echoEvaluator("b")}
	coordinator := NewCoordinator(evaluators, nil, Config{MaxRounds: 3, Epsilon: 0.01, RoundBudget: time.Second})

	initial := []models.ConsensusResult{votingResult("BTC", models.DirectionUp, 0.8)}
	result := coordinator.Refine(context.Background(), initial)

	if !result.HasConverged {
		t.Error("Echoed opinions should converge immediately")
	}
	if result.RoundsExecuted != 1 {
		t.Errorf("Expected 1 round, got %d", result.RoundsExecuted)
	}
	if len(result.FinalConsensus) != 1 || result.FinalConsensus[0].Asset != "BTC" {
		t.Errorf("Final consensus lost the asset: %+v", result.FinalConsensus)
	}
}

func TestCoordinator_NeverExceedsMaxRounds(t *testing.T) {
	// an evaluator that keeps shifting confidence prevents convergence
	drift := 0.0
	restless := &stubEvaluator{
		id: "restless",
		evaluate: func(_ context.Context, current []models.ConsensusResult) ([]models.ConsensusResult, error) {
			drift += 0.1
			out := make([]models.ConsensusResult, len(current))
			copy(out, current)
			for i := range out {
				out[i].ConsensusConfidence = 0.5 + drift
			}
			return out, nil
		},
	}

	coordinator := NewCoordinator([]Evaluator{restless}, nil, Config{MaxRounds: 3, Epsilon: 0.01, RoundBudget: time.Second})
	result := coordinator.Refine(context.Background(), []models.ConsensusResult{votingResult("BTC", models.DirectionUp, 0.5)})

	if result.HasConverged {
		t.Error("Restless opinions should not converge")
	}
	if result.RoundsExecuted != 3 {
		t.Errorf("Expected exactly 3 rounds, got %d", result.RoundsExecuted)
	}
	if restless.calls.Load() != 3 {
		t.Errorf("Evaluator should run once per round, ran %d times", restless.calls.Load())
	}
}

func TestCoordinator_FailingAgentIsIsolated(t *testing.T) {
	failing := &stubEvaluator{
		id: "failing",
		evaluate: func(context.Context, []models.ConsensusResult) ([]models.ConsensusResult, error) {
			return nil, errors.New("model endpoint down")
		},
	}
	healthy := echoEvaluator("healthy")

	coordinator := NewCoordinator([]Evaluator{failing, healthy}, nil, DefaultConfig())
	initial := []models.ConsensusResult{votingResult("ETH", models.DirectionDown, 0.7)}

	result := coordinator.Refine(context.Background(), initial)

	if !result.HasConverged {
		t.Error("Round should proceed with the healthy agent and converge")
	}
	if result.FinalConsensus[0].ConsensusConfidence != 0.7 {
		t.Errorf("Healthy echo should preserve confidence, got %.2f", result.FinalConsensus[0].ConsensusConfidence)
	}
}

func TestCoordinator_SlowAgentIsExcluded(t *testing.T) {
	slow := &stubEvaluator{
		id: "slow",
		evaluate: func(ctx context.Context, current []models.ConsensusResult) ([]models.ConsensusResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return current, nil
			}
		},
	}
	fast := echoEvaluator("fast")

	coordinator := NewCoordinator([]Evaluator{slow, fast}, nil, Config{MaxRounds: 2, Epsilon: 0.01, RoundBudget: 50 * time.Millisecond})

	start := time.Now()
	result := coordinator.Refine(context.Background(), []models.ConsensusResult{votingResult("BTC", models.DirectionUp, 0.9)})

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Slow agent stalled the round: %s", elapsed)
	}
	if !result.HasConverged {
		t.Error("Fast agent alone should converge the round")
	}
}

func TestCoordinator_AllAgentsFailingKeepsConsensus(t *testing.T) {
	failing := &stubEvaluator{
		id: "failing",
		evaluate: func(context.Context, []models.ConsensusResult) ([]models.ConsensusResult, error) {
			return nil, errors.New("down")
		},
	}

	coordinator := NewCoordinator([]Evaluator{failing}, nil, Config{MaxRounds: 2, Epsilon: 0.01, RoundBudget: time.Second})
	initial := []models.ConsensusResult{votingResult("BTC", models.DirectionUp, 0.8)}

	result := coordinator.Refine(context.Background(), initial)

	// unchanged consensus converges trivially on the first round
	if !result.HasConverged {
		t.Error("Unchanged consensus should register as converged")
	}
	if result.FinalConsensus[0].ConsensusConfidence != 0.8 {
		t.Errorf("Consensus should be untouched, got %.2f", result.FinalConsensus[0].ConsensusConfidence)
	}
}

func TestCoordinator_DirectionFlipBlocksConvergence(t *testing.T) {
	flipped := false
	flipper := &stubEvaluator{
		id: "flipper",
		evaluate: func(_ context.Context, current []models.ConsensusResult) ([]models.ConsensusResult, error) {
			out := make([]models.ConsensusResult, len(current))
			copy(out, current)
			if !flipped {
				flipped = true
				for i := range out {
					out[i].Direction = models.DirectionDown
				}
			}
			return out, nil
		},
	}

	coordinator := NewCoordinator([]Evaluator{flipper}, nil, Config{MaxRounds: 3, Epsilon: 0.5, RoundBudget: time.Second})
	result := coordinator.Refine(context.Background(), []models.ConsensusResult{votingResult("BTC", models.DirectionUp, 0.8)})

	// round 1 flips direction (no convergence), round 2 echoes (converges)
	if result.RoundsExecuted != 2 {
		t.Errorf("Expected 2 rounds, got %d", result.RoundsExecuted)
	}
	if !result.HasConverged {
		t.Error("Second round should converge")
	}
	if result.FinalConsensus[0].Direction != models.DirectionDown {
		t.Errorf("Flip should persist, got %s", result.FinalConsensus[0].Direction)
	}
}

func TestAverageOpinions(t *testing.T) {
	current := []models.ConsensusResult{votingResult("BTC", models.DirectionUp, 0.6)}

	opinions := []Opinion{
		{AgentID: "a", Results: []models.ConsensusResult{votingResult("BTC", models.DirectionUp, 0.8)}},
		{AgentID: "b", Results: []models.ConsensusResult{votingResult("BTC", models.DirectionUp, 0.6)}},
	}

	revised := AverageOpinions(current, opinions)
	if len(revised) != 1 {
		t.Fatalf("Expected 1 merged result, got %d", len(revised))
	}
	if revised[0].ConsensusConfidence != 0.7 {
		t.Errorf("Expected averaged confidence 0.7, got %.2f", revised[0].ConsensusConfidence)
	}

	t.Run("no opinions keeps current", func(t *testing.T) {
		revised := AverageOpinions(current, nil)
		if len(revised) != 1 || revised[0].ConsensusConfidence != 0.6 {
			t.Error("Empty opinions should leave consensus unchanged")
		}
	})
}
