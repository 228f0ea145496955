// Package cursor implements the cursor-persistence worker of spec.md §4.3.4:
// it watches a dlt.CursorObserver and, after a debounce interval, writes the
// latest cursor through store.SetCursor.
package cursor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prism-node/prism/internal/dlt"
	"github.com/prism-node/prism/internal/metrics"
	"github.com/prism-node/prism/internal/store"
)

// Worker persists the latest cursor a CursorObserver reports, debounced so a
// burst of changes only triggers one write.
type Worker struct {
	observer *dlt.CursorObserver
	store    store.Repository
	logger   *logrus.Logger
	debounce time.Duration
	stats    *metrics.Ingestion

	mu     sync.RWMutex
	active bool
	quit   chan struct{}
}

// SetMetrics attaches an ingestion metric set. Not safe to call once Start
// has been invoked.
func (w *Worker) SetMetrics(m *metrics.Ingestion) { w.stats = m }

// NewWorker wires a cursor-persistence worker against observer and repo.
func NewWorker(observer *dlt.CursorObserver, repo store.Repository, logger *logrus.Logger) *Worker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		observer: observer,
		store:    repo,
		logger:   logger,
		debounce: dlt.CursorDebounceInterval,
		quit:     make(chan struct{}),
	}
}

// Start launches the background persistence loop. A second Start before Stop
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
	w.logger.Info("ingest/cursor: worker started")
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
	w.logger.Info("ingest/cursor: worker stopped")
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-w.observer.Changed():
		}

		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-time.After(w.debounce):
		}

		w.persist(ctx)
	}
}

func (w *Worker) persist(ctx context.Context) {
	cur := w.observer.Current()
	if cur == nil {
		return
	}
	if err := w.store.SetCursor(ctx, *cur); err != nil {
		w.logger.Warnf("ingest/cursor: set cursor: %v", err)
		return
	}
	if w.stats != nil {
		w.stats.CursorPersists.Inc()
	}
}
