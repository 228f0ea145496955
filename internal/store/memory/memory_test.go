package memory

import (
	"context"
	"testing"

	"github.com/prism-node/prism/internal/prismcrypto"
	"github.com/prism-node/prism/internal/store"
)

func rawRecord(blockNo uint64, absn, osn uint32, opBytes []byte) store.RawOperationRecord {
	return store.RawOperationRecord{
		BlockNo:        blockNo,
		Absn:           absn,
		Osn:            osn,
		TxID:           "tx1",
		OperationBytes: opBytes,
	}
}

func TestInsertRawOperationsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	rec := rawRecord(1, 0, 0, []byte("op-a"))
	if err := s.InsertRawOperations(ctx, []store.RawOperationRecord{rec}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertRawOperations(ctx, []store.RawOperationRecord{rec}); err != nil {
		t.Fatalf("insert again: %v", err)
	}

	got, err := s.GetRawOperationsUnindexed(ctx)
	if err != nil {
		t.Fatalf("unindexed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one row after duplicate insert, got %d", len(got))
	}
}

func TestInsertIndexedOperationsFlipsIsIndexed(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	rec := rawRecord(1, 0, 0, []byte("create"))
	if err := s.InsertRawOperations(ctx, []store.RawOperationRecord{rec}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	did := store.CanonicalDid("did:prism:abc")
	err := s.InsertIndexedOperations(ctx, []store.IndexedRecord{
		{BlockNo: 1, Absn: 0, Osn: 0, Kind: store.IndexedSsi, Did: did},
	})
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	unindexed, _ := s.GetRawOperationsUnindexed(ctx)
	if len(unindexed) != 0 {
		t.Fatalf("expected no unindexed rows left, got %d", len(unindexed))
	}

	byDid, err := s.GetRawOperationsByDid(ctx, did)
	if err != nil {
		t.Fatalf("by did: %v", err)
	}
	if len(byDid) != 1 {
		t.Fatalf("expected one row for did, got %d", len(byDid))
	}
}

func TestVdrLookupByInitHash(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	rec := rawRecord(1, 0, 0, []byte("storage-entry"))
	_ = s.InsertRawOperations(ctx, []store.RawOperationRecord{rec})

	initHash := prismcrypto.Sum256([]byte("entry"))
	did := store.CanonicalDid("did:prism:owner")
	err := s.InsertIndexedOperations(ctx, []store.IndexedRecord{
		{BlockNo: 1, Absn: 0, Osn: 0, Kind: store.IndexedVdr, Did: did, InitOperationHash: initHash},
	})
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	got, err := s.GetDidByVdrEntry(ctx, initHash)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != did {
		t.Fatalf("expected %q, got %q", did, got)
	}

	if _, err := s.GetDidByVdrEntry(ctx, prismcrypto.Sum256([]byte("nope"))); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown init hash, got %v", err)
	}
}

func TestGetRawOperationByOperationID(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	opBytes := []byte("an-operation")
	rec := rawRecord(1, 0, 0, opBytes)
	_ = s.InsertRawOperations(ctx, []store.RawOperationRecord{rec})

	got, err := s.GetRawOperationByOperationID(ctx, rec.OperationID())
	if err != nil {
		t.Fatalf("lookup by operation id: %v", err)
	}
	if got.Record.BlockNo != 1 {
		t.Fatalf("unexpected record returned: %+v", got.Record)
	}
}

func TestCursorOverwrite(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	if got, err := s.GetCursor(ctx); err != nil || got != nil {
		t.Fatalf("expected nil cursor before any write, got %+v, err %v", got, err)
	}

	if err := s.SetCursor(ctx, store.DltCursor{Slot: 100}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetCursor(ctx, store.DltCursor{Slot: 200}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.GetCursor(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Slot != 200 {
		t.Fatalf("expected the latest write to win, got slot %d", got.Slot)
	}
}

func TestGetAllDidsPagination(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	for i, d := range []string{"did:prism:a", "did:prism:b", "did:prism:c"} {
		rec := rawRecord(uint64(i+1), 0, 0, []byte(d))
		_ = s.InsertRawOperations(ctx, []store.RawOperationRecord{rec})
		_ = s.InsertIndexedOperations(ctx, []store.IndexedRecord{
			{BlockNo: uint64(i + 1), Kind: store.IndexedSsi, Did: store.CanonicalDid(d)},
		})
	}

	page, err := s.GetAllDids(ctx, 0, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
}
