package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantmesh/signal-engine/pkg/logger"
	"github.com/quantmesh/signal-engine/pkg/models"
)

// cycleRecord carries a record together with the cycle it belongs to
type cycleRecord struct {
	cycleID string
	payload interface{}
}

// BatchWriter buffers history records and writes them in batches
type BatchWriter struct {
	repo        *Repository
	buffer      []cycleRecord
	bufferMu    sync.Mutex
	maxBatch    int
	maxWait     time.Duration
	flushTicker *time.Ticker
	flushFunc   func(context.Context, *Repository, []cycleRecord) error
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewBatchWriter creates new batch writer
func NewBatchWriter(
	repo *Repository,
	maxBatch int,
	maxWait time.Duration,
	flushFunc func(context.Context, *Repository, []cycleRecord) error,
) *BatchWriter {
	ctx, cancel := context.WithCancel(context.Background())

	bw := &BatchWriter{
		repo:      repo,
		buffer:    make([]cycleRecord, 0, maxBatch),
		maxBatch:  maxBatch,
		maxWait:   maxWait,
		flushFunc: flushFunc,
		ctx:       ctx,
		cancel:    cancel,
	}

	bw.flushTicker = time.NewTicker(maxWait)

	bw.wg.Add(1)
	go bw.autoFlush()

	return bw
}

// Add adds record to buffer
func (bw *BatchWriter) Add(cycleID string, record interface{}) {
	bw.bufferMu.Lock()
	bw.buffer = append(bw.buffer, cycleRecord{cycleID: cycleID, payload: record})
	shouldFlush := len(bw.buffer) >= bw.maxBatch
	bw.bufferMu.Unlock()

	if shouldFlush {
		bw.flush(bw.ctx)
	}
}

// autoFlush flushes buffer periodically
func (bw *BatchWriter) autoFlush() {
	defer bw.wg.Done()

	for {
		select {
		case <-bw.flushTicker.C:
			bw.flush(bw.ctx)
		case <-bw.ctx.Done():
			// Final flush before exit. The writer context is already
			// cancelled here, so the flush runs on its own deadline.
			bw.flush(context.Background())
			return
		}
	}
}

// flush writes buffered records via repository
func (bw *BatchWriter) flush(parent context.Context) {
	bw.bufferMu.Lock()
	if len(bw.buffer) == 0 {
		bw.bufferMu.Unlock()
		return
	}

	toWrite := make([]cycleRecord, len(bw.buffer))
	copy(toWrite, bw.buffer)
	bw.buffer = bw.buffer[:0]
	bw.bufferMu.Unlock()

	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	if err := bw.flushFunc(ctx, bw.repo, toWrite); err != nil {
		logger.Error("failed to flush batch to ClickHouse",
			zap.Int("records", len(toWrite)),
			zap.Error(err),
		)
		return
	}

	logger.Debug("flushed batch to ClickHouse",
		zap.Int("records", len(toWrite)),
	)
}

// Close stops the writer and flushes remaining data
func (bw *BatchWriter) Close() error {
	bw.flushTicker.Stop()
	bw.cancel()
	bw.wg.Wait()
	return nil
}

// SignalBatchWriter specialized writer for agent signals
type SignalBatchWriter struct {
	*BatchWriter
}

// NewSignalBatchWriter creates batch writer for agent signals
func NewSignalBatchWriter(repo *Repository, maxBatch int, maxWait time.Duration) *SignalBatchWriter {
	flushFunc := func(ctx context.Context, r *Repository, records []cycleRecord) error {
		// Group signals by cycle so each insert keeps one cycle id
		grouped := make(map[string][]models.Signal)
		for _, record := range records {
			sig := record.payload.(models.Signal)
			grouped[record.cycleID] = append(grouped[record.cycleID], sig)
		}

		for cycleID, signals := range grouped {
			if err := r.SaveSignals(ctx, cycleID, signals); err != nil {
				return err
			}
		}
		return nil
	}

	bw := NewBatchWriter(repo, maxBatch, maxWait, flushFunc)

	return &SignalBatchWriter{BatchWriter: bw}
}

// AddSignal adds signal to buffer
func (sbw *SignalBatchWriter) AddSignal(cycleID string, sig models.Signal) {
	sbw.Add(cycleID, sig)
}

// ConsensusBatchWriter specialized writer for consensus results
type ConsensusBatchWriter struct {
	*BatchWriter
}

// NewConsensusBatchWriter creates batch writer for consensus results
func NewConsensusBatchWriter(repo *Repository, maxBatch int, maxWait time.Duration) *ConsensusBatchWriter {
	flushFunc := func(ctx context.Context, r *Repository, records []cycleRecord) error {
		grouped := make(map[string][]models.ConsensusResult)
		for _, record := range records {
			res := record.payload.(models.ConsensusResult)
			grouped[record.cycleID] = append(grouped[record.cycleID], res)
		}

		for cycleID, results := range grouped {
			if err := r.SaveConsensusResults(ctx, cycleID, results); err != nil {
				return err
			}
		}
		return nil
	}

	bw := NewBatchWriter(repo, maxBatch, maxWait, flushFunc)

	return &ConsensusBatchWriter{BatchWriter: bw}
}

// AddResult adds consensus result to buffer
func (cbw *ConsensusBatchWriter) AddResult(cycleID string, res models.ConsensusResult) {
	cbw.Add(cycleID, res)
}
