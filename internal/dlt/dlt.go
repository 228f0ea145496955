// Package dlt defines the ledger-source contract (spec.md §4.3.1): the
// boundary between the Cardano chain and the sync worker. Concrete sources
// live in subpackages (n2n, dbsync, blockfrost, memory); this package only
// carries the shared types and the cursor-observer helper every source uses
// to publish its resume position.
package dlt

import (
	"context"
	"sync"
	"time"

	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/store"
)

// BlockMetadata is the ledger position of one observed PRISM-bearing
// transaction, carried alongside every PublishedPrismObject.
type BlockMetadata struct {
	BlockNo   uint64
	Absn      uint32
	TxID      string
	Slot      uint64
	BlockTime time.Time
}

// PublishedPrismObject is one confirmed, metadata-decoded PrismObject: the
// sequence of signed operations carried by a single PrismBlock, per
// spec.md §4.3.2.
type PublishedPrismObject struct {
	Metadata   BlockMetadata
	Operations []operation.SignedOperation
}

// Source is the ledger-source contract of spec.md §4.3.1. Confirmation
// depth and reconnection are the source's own responsibility; the only
// guarantees the core requires are that IntoStream emits in block order and
// that a restart does not lose already-emitted events.
type Source interface {
	// SyncCursor returns an observer the caller can cheaply re-read for the
	// latest cursor this source has emitted.
	SyncCursor() *CursorObserver
	// IntoStream begins emitting confirmed PRISM-bearing transactions on
	// the returned channel. The channel is closed when ctx is canceled.
	IntoStream(ctx context.Context) (<-chan PublishedPrismObject, error)
}

// CursorObserver publishes a source's current resume position. Reads never
// block; Changed returns a channel that is closed the next time Set is
// called, the usual Go idiom for "wait for the next change" without a
// dedicated broadcast goroutine.
type CursorObserver struct {
	mu      sync.Mutex
	current *store.DltCursor
	changed chan struct{}
}

// NewCursorObserver returns an observer with no cursor set yet.
func NewCursorObserver() *CursorObserver {
	return &CursorObserver{changed: make(chan struct{})}
}

// Current returns the most recently set cursor, or nil if none has been set.
func (o *CursorObserver) Current() *store.DltCursor {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	cp := *o.current
	return &cp
}

// Changed returns a channel that closes the next time Set is called.
func (o *CursorObserver) Changed() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.changed
}

// Set updates the observed cursor and wakes any goroutine waiting on
// Changed.
func (o *CursorObserver) Set(c store.DltCursor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := c
	o.current = &cp
	close(o.changed)
	o.changed = make(chan struct{})
}

// Reconnect tuning per spec.md §4.3.6 / §5.
const (
	// SyncWorkerRestartDelay is how long the sync worker waits before
	// retrying after its source disconnects.
	SyncWorkerRestartDelay = 10 * time.Second
	// ChainSyncIdleTimeout forces a reconnect if no event is observed for
	// this long.
	ChainSyncIdleTimeout = 20 * time.Minute
	// CursorDebounceInterval is the nominal wait between cursor changes and
	// persisting the latest value.
	CursorDebounceInterval = 60 * time.Second
	// PublishedObjectBufferSize is the bounded-channel capacity between a
	// source and the sync worker, per spec.md §5.
	PublishedObjectBufferSize = 1024
)

// MetadataLabel is the fixed Cardano transaction metadata label PRISM
// objects are carried under.
const MetadataLabel = 21325
