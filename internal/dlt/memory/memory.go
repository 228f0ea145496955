// Package memory is an in-memory dlt.Source used by tests and by the
// in-memory demo wiring in cmd/prismnode: objects are queued by the test
// and replayed verbatim, mirroring original_source's in-memory ledger
// fixture (lib/did-prism-ledger/src/in_memory).
package memory

import (
	"context"

	"github.com/prism-node/prism/internal/dlt"
	"github.com/prism-node/prism/internal/store"
)

// Source is a dlt.Source whose objects are supplied up front by the caller.
type Source struct {
	objects  []dlt.PublishedPrismObject
	observer *dlt.CursorObserver
}

// New constructs a Source that emits objects, in order, once IntoStream is
// called.
func New(objects []dlt.PublishedPrismObject) *Source {
	return &Source{objects: objects, observer: dlt.NewCursorObserver()}
}

// Push appends an object to be emitted by a future (or in-progress) stream.
// Used by tests that want to simulate events arriving after the stream has
// started, including duplicate delivery (spec.md §8 scenario 6).
func (s *Source) Push(obj dlt.PublishedPrismObject) {
	s.objects = append(s.objects, obj)
}

// SyncCursor returns the observer this source publishes its position to.
func (s *Source) SyncCursor() *dlt.CursorObserver { return s.observer }

// IntoStream emits every queued object in order, then closes the channel.
// It does not block waiting for further Push calls: callers that want to
// simulate a live feed should push everything before calling IntoStream.
func (s *Source) IntoStream(ctx context.Context) (<-chan dlt.PublishedPrismObject, error) {
	out := make(chan dlt.PublishedPrismObject, dlt.PublishedObjectBufferSize)
	go func() {
		defer close(out)
		for _, obj := range s.objects {
			select {
			case <-ctx.Done():
				return
			case out <- obj:
				s.observer.Set(store.DltCursor{Slot: int64(obj.Metadata.Slot)})
			}
		}
	}()
	return out, nil
}
