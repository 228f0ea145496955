// Package sync implements the sync worker of spec.md §4.3.3: it drains a
// dlt.Source's operation stream, assigns each operation its osn, and writes
// the batch through store.InsertRawOperations. Start/Stop mirror the
// SyncManager lifecycle used elsewhere in this codebase for background
// workers.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prism-node/prism/internal/dlt"
	"github.com/prism-node/prism/internal/metrics"
	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/store"
)

// Worker consumes one dlt.Source and persists every operation it observes as
// an unindexed raw operation row.
type Worker struct {
	source dlt.Source
	store  store.Repository
	logger *logrus.Logger
	stats  *metrics.Ingestion

	restartDelay time.Duration
	idleTimeout  time.Duration

	mu     sync.RWMutex
	active bool
	quit   chan struct{}
}

// SetMetrics attaches an ingestion metric set. Not safe to call once Start
// has been invoked.
func (w *Worker) SetMetrics(m *metrics.Ingestion) { w.stats = m }

// NewWorker wires a sync worker against source and repo.
func NewWorker(source dlt.Source, repo store.Repository, logger *logrus.Logger) *Worker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		source:       source,
		store:        repo,
		logger:       logger,
		restartDelay: dlt.SyncWorkerRestartDelay,
		idleTimeout:  dlt.ChainSyncIdleTimeout,
		quit:         make(chan struct{}),
	}
}

// Start launches the background ingestion loop. A second Start before Stop
// is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.active {
		w.mu.Unlock()
		return
	}
	w.active = true
	w.mu.Unlock()

	go w.loop(ctx)
	w.logger.Info("ingest/sync: worker started")
}

// Stop terminates the background loop.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	close(w.quit)
	w.active = false
	w.mu.Unlock()
	w.logger.Info("ingest/sync: worker stopped")
}

// loop restarts runOnce after restartDelay whenever the source disconnects,
// per spec.md §4.3.6.
func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		default:
		}
		if err := w.runOnce(ctx); err != nil {
			w.logger.Warnf("ingest/sync: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-time.After(w.restartDelay):
		}
	}
}

// runOnce drains the source's stream until it closes, ctx is canceled, or no
// event arrives within idleTimeout.
func (w *Worker) runOnce(ctx context.Context) error {
	stream, err := w.source.IntoStream(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	idle := time.NewTimer(w.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.quit:
			return nil
		case obj, ok := <-stream:
			if !ok {
				return nil
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(w.idleTimeout)
			if err := w.ingest(ctx, obj); err != nil {
				w.logger.Warnf("ingest/sync: insert batch for tx %s: %v", obj.Metadata.TxID, err)
			}
		case <-idle.C:
			return fmt.Errorf("no events for %s, reconnecting", w.idleTimeout)
		}
	}
}

func (w *Worker) ingest(ctx context.Context, obj dlt.PublishedPrismObject) error {
	batch := make([]store.RawOperationRecord, 0, len(obj.Operations))
	for osn, signed := range obj.Operations {
		opBytes, err := operation.Encode(signed.Operation)
		if err != nil {
			w.logger.Warnf("ingest/sync: encode operation %d of tx %s: %v", osn, obj.Metadata.TxID, err)
			continue
		}
		batch = append(batch, store.RawOperationRecord{
			BlockNo:        obj.Metadata.BlockNo,
			Absn:           obj.Metadata.Absn,
			Osn:            uint32(osn),
			TxID:           obj.Metadata.TxID,
			Slot:           obj.Metadata.Slot,
			BlockTime:      obj.Metadata.BlockTime,
			SignedWith:     signed.SignedWith,
			Signature:      signed.Signature,
			OperationBytes: opBytes,
		})
	}
	if len(batch) == 0 {
		return nil
	}
	if err := w.store.InsertRawOperations(ctx, batch); err != nil {
		return err
	}
	if w.stats != nil {
		w.stats.OperationsSynced.Add(float64(len(batch)))
	}
	return nil
}
