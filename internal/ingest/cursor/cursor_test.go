package cursor

import (
	"context"
	"testing"
	"time"

	"github.com/prism-node/prism/internal/dlt"
	memstore "github.com/prism-node/prism/internal/store/memory"
	"github.com/prism-node/prism/internal/store"
)

func TestWorkerPersistsAfterDebounce(t *testing.T) {
	observer := dlt.NewCursorObserver()
	repo := memstore.New(nil)
	w := NewWorker(observer, repo, nil)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	observer.Set(store.DltCursor{Slot: 42, SourceHint: "test"})

	deadline := time.After(time.Second)
	for {
		cur, err := repo.GetCursor(ctx)
		if err != nil {
			t.Fatalf("get cursor: %v", err)
		}
		if cur != nil && cur.Slot == 42 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("cursor was never persisted")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPersistSkipsWhenNoCursorSet(t *testing.T) {
	observer := dlt.NewCursorObserver()
	repo := memstore.New(nil)
	w := NewWorker(observer, repo, nil)

	w.persist(context.Background())

	cur, err := repo.GetCursor(context.Background())
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cur != nil {
		t.Fatalf("expected no cursor to be persisted, got %+v", cur)
	}
}
