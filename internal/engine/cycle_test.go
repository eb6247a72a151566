package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quantmesh/signal-engine/internal/agents"
	"github.com/quantmesh/signal-engine/internal/consensus"
	"github.com/quantmesh/signal-engine/internal/refinement"
	"github.com/quantmesh/signal-engine/pkg/models"
)

type stubAgent struct {
	id      string
	signals []models.Signal
	err     error
}

func (a *stubAgent) ID() string { return a.id }

func (a *stubAgent) Process(_ context.Context, _ []*models.MarketSnapshot) ([]models.Signal, error) {
	return a.signals, a.err
}

func (a *stubAgent) EvaluateConsensus(_ context.Context, current []models.ConsensusResult) ([]models.ConsensusResult, error) {
	return current, nil
}

type stubMarket struct {
	snapshots []*models.MarketSnapshot
	err       error
}

func (m *stubMarket) Snapshots(_ context.Context, _ []string, _ string) ([]*models.MarketSnapshot, error) {
	return m.snapshots, m.err
}

type stubWeights struct {
	weights    models.AgentWeights
	accuracies map[string]float64
}

func (s *stubWeights) LoadWeights(context.Context) (models.AgentWeights, error) {
	return s.weights, nil
}

func (s *stubWeights) LoadAccuracies(context.Context) (map[string]float64, error) {
	return s.accuracies, nil
}

type stubLock struct {
	acquired bool
	released bool
}

func (l *stubLock) TryAcquire(context.Context) (bool, error) { return l.acquired, nil }
func (l *stubLock) Release(context.Context) error            { l.released = true; return nil }

type memRecorder struct {
	mu      sync.Mutex
	signals []models.Signal
	results []models.ConsensusResult
	cycles  map[string]bool
}

func newMemRecorder() *memRecorder {
	return &memRecorder{cycles: make(map[string]bool)}
}

func (r *memRecorder) AddSignal(cycleID string, sig models.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	r.cycles[cycleID] = true
}

func (r *memRecorder) AddResult(cycleID string, res models.ConsensusResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	r.cycles[cycleID] = true
}

type memSink struct {
	published *models.RefinementResult
	cycleID   string
	err       error
}

func (s *memSink) Publish(_ context.Context, cycleID string, result *models.RefinementResult) error {
	s.cycleID = cycleID
	s.published = result
	return s.err
}

func testSnapshot(asset string) *models.MarketSnapshot {
	now := time.Now().UTC()
	return &models.MarketSnapshot{
		Asset:     asset,
		Timeframe: "1h",
		Records: []models.MarketRecord{
			{Timestamp: now, Price: models.NewDecimal(105), Volume: models.NewDecimal(10)},
			{Timestamp: now.Add(-time.Hour), Price: models.NewDecimal(100), Volume: models.NewDecimal(10)},
		},
	}
}

func upSignal(agentID, asset string, conf float64) models.Signal {
	return models.Signal{
		Asset:           asset,
		Direction:       models.DirectionUp,
		Confidence:      conf,
		Timeframe:       "1h",
		Timestamp:       time.Now().UnixMilli(),
		SourceOrAgentID: agentID,
	}
}

func TestCycleRunEndToEnd(t *testing.T) {
	agentA := &stubAgent{id: "agent-a", signals: []models.Signal{upSignal("agent-a", "BTC/USDT", 0.8)}}
	agentB := &stubAgent{id: "agent-b", signals: []models.Signal{upSignal("agent-b", "BTC/USDT", 0.6)}}

	runner := agents.NewRunner([]agents.Agent{agentA, agentB}, time.Second)
	lock := &stubLock{acquired: true}
	rec := newMemRecorder()
	sink := &memSink{}

	cycle := NewCycle(
		[]string{"BTC/USDT"}, "1h",
		lock,
		&stubWeights{weights: models.AgentWeights{"agent-a": 1, "agent-b": 1}},
		&stubMarket{snapshots: []*models.MarketSnapshot{testSnapshot("BTC/USDT")}},
		runner,
		consensus.NewEngine(models.AlgorithmVoting),
		Options{SignalRec: rec, ConsensusRec: rec, Sink: sink},
	)

	if err := cycle.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(rec.signals) != 2 {
		t.Errorf("recorded signals = %d, want 2", len(rec.signals))
	}
	if len(rec.results) != 1 {
		t.Fatalf("recorded results = %d, want 1", len(rec.results))
	}
	if rec.results[0].Direction != models.DirectionUp {
		t.Errorf("direction = %s, want up", rec.results[0].Direction)
	}
	if sink.published == nil {
		t.Fatal("expected published result")
	}
	if !sink.published.HasConverged {
		t.Error("consensus without refiner should report converged")
	}
	if sink.cycleID == "" {
		t.Error("expected non-empty cycle id")
	}
	if !lock.released {
		t.Error("cycle lock should be released after the run")
	}
}

func TestCycleSkipsWhenLockHeld(t *testing.T) {
	rec := newMemRecorder()
	sink := &memSink{}

	cycle := NewCycle(
		[]string{"BTC/USDT"}, "1h",
		&stubLock{acquired: false},
		&stubWeights{},
		&stubMarket{snapshots: []*models.MarketSnapshot{testSnapshot("BTC/USDT")}},
		agents.NewRunner([]agents.Agent{&stubAgent{id: "agent-a"}}, time.Second),
		consensus.NewEngine(models.AlgorithmVoting),
		Options{SignalRec: rec, ConsensusRec: rec, Sink: sink},
	)

	if err := cycle.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sink.published != nil {
		t.Error("held lock should skip the whole cycle")
	}
	if len(rec.signals) != 0 {
		t.Error("held lock should record nothing")
	}
}

func TestCycleSkipsWithoutSnapshots(t *testing.T) {
	sink := &memSink{}

	cycle := NewCycle(
		[]string{"BTC/USDT"}, "1h",
		nil,
		&stubWeights{},
		&stubMarket{},
		agents.NewRunner([]agents.Agent{&stubAgent{id: "agent-a"}}, time.Second),
		consensus.NewEngine(models.AlgorithmVoting),
		Options{Sink: sink},
	)

	if err := cycle.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sink.published != nil {
		t.Error("empty market should skip the cycle without publishing")
	}
}

func TestCycleMarketError(t *testing.T) {
	wantErr := errors.New("feed down")

	cycle := NewCycle(
		[]string{"BTC/USDT"}, "1h",
		nil,
		&stubWeights{},
		&stubMarket{err: wantErr},
		agents.NewRunner([]agents.Agent{&stubAgent{id: "agent-a"}}, time.Second),
		consensus.NewEngine(models.AlgorithmVoting),
		Options{},
	)

	if err := cycle.Run(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestCycleWithRefinement(t *testing.T) {
	agentA := &stubAgent{id: "agent-a", signals: []models.Signal{upSignal("agent-a", "BTC/USDT", 0.8)}}
	runner := agents.NewRunner([]agents.Agent{agentA}, time.Second)

	refiner := refinement.NewCoordinator(
		[]refinement.Evaluator{agentA},
		nil,
		refinement.Config{MaxRounds: 3, Epsilon: 0.01, RoundBudget: time.Second},
	)

	sink := &memSink{}
	cycle := NewCycle(
		[]string{"BTC/USDT"}, "1h",
		nil,
		&stubWeights{weights: models.AgentWeights{"agent-a": 1}},
		&stubMarket{snapshots: []*models.MarketSnapshot{testSnapshot("BTC/USDT")}},
		runner,
		consensus.NewEngine(models.AlgorithmVoting),
		Options{Refiner: refiner, Sink: sink},
	)

	if err := cycle.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sink.published == nil {
		t.Fatal("expected published result")
	}
	// echoing evaluator revises nothing, so round one converges
	if sink.published.RoundsExecuted != 1 {
		t.Errorf("rounds = %d, want 1", sink.published.RoundsExecuted)
	}
	if !sink.published.HasConverged {
		t.Error("expected convergence")
	}
}

type accuracyAgent struct {
	stubAgent
	accuracy float64
}

func (a *accuracyAgent) SetAccuracy(accuracy float64) { a.accuracy = accuracy }

func TestCycleAppliesAccuracies(t *testing.T) {
	agent := &accuracyAgent{stubAgent: stubAgent{
		id:      "agent-a",
		signals: []models.Signal{upSignal("agent-a", "BTC/USDT", 0.8)},
	}}

	cycle := NewCycle(
		[]string{"BTC/USDT"}, "1h",
		nil,
		&stubWeights{
			weights:    models.AgentWeights{"agent-a": 1.4},
			accuracies: map[string]float64{"agent-a": 0.7},
		},
		&stubMarket{snapshots: []*models.MarketSnapshot{testSnapshot("BTC/USDT")}},
		agents.NewRunner([]agents.Agent{agent}, time.Second),
		consensus.NewEngine(models.AlgorithmVoting),
		Options{},
	)

	if err := cycle.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if agent.accuracy != 0.7 {
		t.Errorf("accuracy = %v, want 0.7 pushed from the weight table", agent.accuracy)
	}
}
