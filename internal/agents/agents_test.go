package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantmesh/signal-engine/internal/fusion"
	"github.com/quantmesh/signal-engine/internal/scoring"
	"github.com/quantmesh/signal-engine/pkg/models"
)

type stubAgent struct {
	id      string
	signals []models.Signal
	err     error
	delay   time.Duration
}

func (s *stubAgent) ID() string { return s.id }

func (s *stubAgent) Process(ctx context.Context, _ []*models.MarketSnapshot) ([]models.Signal, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.signals, s.err
}

func (s *stubAgent) EvaluateConsensus(_ context.Context, current []models.ConsensusResult) ([]models.ConsensusResult, error) {
	return current, nil
}

func upSignal(asset, agentID string) models.Signal {
	return models.Signal{
		Asset:           asset,
		Direction:       models.DirectionUp,
		Confidence:      0.7,
		Timeframe:       "1h",
		Timestamp:       time.Now().UnixMilli(),
		SourceOrAgentID: agentID,
	}
}

func TestRunner_CollectsAllAgents(t *testing.T) {
	runner := NewRunner([]Agent{
		&stubAgent{id: "a", signals: []models.Signal{upSignal("BTC", "a")}},
		&stubAgent{id: "b", signals: []models.Signal{upSignal("BTC", "b"), upSignal("ETH", "b")}},
	}, time.Second)

	signals := runner.Collect(context.Background(), nil)
	if len(signals) != 3 {
		t.Errorf("Expected 3 signals, got %d", len(signals))
	}
}

func TestRunner_FailedAgentDoesNotBlockOthers(t *testing.T) {
	runner := NewRunner([]Agent{
		&stubAgent{id: "broken", err: errors.New("feed offline")},
		&stubAgent{id: "ok", signals: []models.Signal{upSignal("BTC", "ok")}},
	}, time.Second)

	signals := runner.Collect(context.Background(), nil)
	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal from healthy agent, got %d", len(signals))
	}
	if signals[0].SourceOrAgentID != "ok" {
		t.Errorf("Unexpected signal source: %s", signals[0].SourceOrAgentID)
	}
}

func TestRunner_SlowAgentIsTimedOut(t *testing.T) {
	runner := NewRunner([]Agent{
		&stubAgent{id: "slow", delay: 5 * time.Second, signals: []models.Signal{upSignal("BTC", "slow")}},
		&stubAgent{id: "fast", signals: []models.Signal{upSignal("ETH", "fast")}},
	}, 50*time.Millisecond)

	start := time.Now()
	signals := runner.Collect(context.Background(), nil)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Barrier waited past the latency budget: %s", elapsed)
	}
	if len(signals) != 1 || signals[0].SourceOrAgentID != "fast" {
		t.Errorf("Expected only the fast agent's signal, got %+v", signals)
	}
}

func testSnapshot(asset string, prices []float64, social float64) *models.MarketSnapshot {
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	records := make([]models.MarketRecord, len(prices))
	for i, p := range prices {
		records[i] = models.MarketRecord{
			Timestamp:   base.Add(-time.Duration(i) * time.Hour),
			Price:       models.NewDecimal(p),
			Volume:      models.NewDecimal(1000 + p),
			SocialScore: social,
		}
	}
	return &models.MarketSnapshot{Asset: asset, Timeframe: "1h", Records: records}
}

func TestFusionAgent_EmitsSignalPerAsset(t *testing.T) {
	scorer := scoring.NewScorer([]scoring.Adapter{scoring.SocialAdapter{}}, nil, scoring.DefaultOptions())
	model := fusion.NewModel(0.05)

	agent := NewFusionAgent("momentum-maven", scorer, model,
		[]string{scoring.SourceMarket, "social"},
		map[string]float64{scoring.SourceMarket: 0.5, "social": 0.5},
	)

	snapshots := []*models.MarketSnapshot{
		testSnapshot("BTC", []float64{130, 124, 118, 112, 106, 100}, 85),
		testSnapshot("ETH", []float64{95, 96, 98, 100, 102, 104}, 20),
	}

	signals, err := agent.Process(context.Background(), snapshots)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("Expected 2 signals, got %d", len(signals))
	}

	for _, s := range signals {
		if err := s.Validate(); err != nil {
			t.Errorf("Agent emitted invalid signal: %v", err)
		}
		if s.SourceOrAgentID != "momentum-maven" {
			t.Errorf("Signal should carry the agent ID, got %s", s.SourceOrAgentID)
		}
	}

	if signals[0].Asset != "BTC" || signals[0].Direction != models.DirectionUp {
		t.Errorf("Rising BTC should signal up, got %s/%s", signals[0].Asset, signals[0].Direction)
	}
	if signals[1].Asset != "ETH" || signals[1].Direction != models.DirectionDown {
		t.Errorf("Falling ETH should signal down, got %s/%s", signals[1].Asset, signals[1].Direction)
	}
}

func TestFusionAgent_AccuracyAttachment(t *testing.T) {
	scorer := scoring.NewScorer(nil, nil, scoring.DefaultOptions())
	agent := NewFusionAgent("a", scorer, fusion.NewModel(0.05), []string{scoring.SourceMarket}, map[string]float64{scoring.SourceMarket: 1})

	agent.SetAccuracy(0.75)

	signals, err := agent.Process(context.Background(), []*models.MarketSnapshot{
		testSnapshot("BTC", []float64{130, 124, 118, 112, 106, 100}, 0),
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal, got %d", len(signals))
	}
	if signals[0].AgentAccuracy == nil || *signals[0].AgentAccuracy != 0.75 {
		t.Error("Signal should carry the agent's accuracy")
	}
}

func TestFusionAgent_EvaluateConsensus(t *testing.T) {
	scorer := scoring.NewScorer(nil, nil, scoring.DefaultOptions())
	agent := NewFusionAgent("a", scorer, fusion.NewModel(0.05), []string{scoring.SourceMarket}, map[string]float64{scoring.SourceMarket: 1})

	// give the agent an up view of BTC
	if _, err := agent.Process(context.Background(), []*models.MarketSnapshot{
		testSnapshot("BTC", []float64{130, 124, 118, 112, 106, 100}, 0),
	}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	current := []models.ConsensusResult{
		{Asset: "BTC", Direction: models.DirectionUp, ConsensusConfidence: 0.6},
		{Asset: "XRP", Direction: models.DirectionDown, ConsensusConfidence: 0.5},
	}

	revised, err := agent.EvaluateConsensus(context.Background(), current)
	if err != nil {
		t.Fatalf("EvaluateConsensus failed: %v", err)
	}

	if revised[0].ConsensusConfidence <= 0.6 {
		t.Errorf("Agreeing agent should strengthen confidence, got %.4f", revised[0].ConsensusConfidence)
	}
	if revised[1].ConsensusConfidence != 0.5 {
		t.Errorf("Asset without agent history should pass through, got %.4f", revised[1].ConsensusConfidence)
	}
}

type mapOutcomes map[string][2]int

func (m mapOutcomes) AgentOutcomes(_ context.Context, agentID string, _ int) (int, int, error) {
	o := m[agentID]
	return o[0], o[1], nil
}

type mapWeightStore map[string][2]float64

func (m mapWeightStore) UpdateAgentAccuracy(_ context.Context, agentID string, accuracy, weight float64) error {
	m[agentID] = [2]float64{accuracy, weight}
	return nil
}

func TestAccuracyTracker_Recompute(t *testing.T) {
	outcomes := mapOutcomes{
		"sharp":  {9, 10},
		"rookie": {0, 0},
	}
	store := mapWeightStore{}

	tracker := NewAccuracyTracker(outcomes, store, 100)
	if err := tracker.Recompute(context.Background(), []string{"sharp", "rookie"}); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	sharp := store["sharp"]
	if sharp[0] < 0.8 || sharp[0] > 0.9 {
		t.Errorf("Sharp agent accuracy should be near 0.83, got %.4f", sharp[0])
	}

	rookie := store["rookie"]
	if rookie[0] != 0.5 {
		t.Errorf("Agent with no history should smooth to 0.5, got %.4f", rookie[0])
	}
	if rookie[1] != 1.0 {
		t.Errorf("Coin-flip agent should keep weight 1, got %.4f", rookie[1])
	}
}
