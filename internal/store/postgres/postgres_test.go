package postgres

import (
	"context"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/prism-node/prism/internal/prismcrypto"
	"github.com/prism-node/prism/internal/store"
)

func TestOptionalBytesZeroDigest(t *testing.T) {
	if got := optionalBytes(prismcrypto.Digest{}); got != nil {
		t.Fatalf("expected nil for zero digest, got %x", got)
	}
	d := prismcrypto.Sum256([]byte("x"))
	if got := optionalBytes(d); got == nil {
		t.Fatal("expected non-nil bytes for a non-zero digest")
	}
}

// TestStoreAgainstRealDatabase exercises the full Repository contract
// against a live Postgres instance. It only runs when PRISM_TEST_DATABASE_URL
// is set, since no database is available in this environment by default.
func TestStoreAgainstRealDatabase(t *testing.T) {
	dsn := os.Getenv("PRISM_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PRISM_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := Connect(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	rec := store.RawOperationRecord{BlockNo: 1, Absn: 0, Osn: 0, TxID: "tx1", OperationBytes: []byte("payload")}
	if err := s.InsertRawOperations(ctx, []store.RawOperationRecord{rec, rec}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	unindexed, err := s.GetRawOperationsUnindexed(ctx)
	if err != nil {
		t.Fatalf("unindexed: %v", err)
	}
	if len(unindexed) != 1 {
		t.Fatalf("expected idempotent insert to yield one row, got %d", len(unindexed))
	}

	err = s.InsertIndexedOperations(ctx, []store.IndexedRecord{
		{BlockNo: 1, Absn: 0, Osn: 0, Kind: store.IndexedSsi, Did: "did:prism:abc"},
	})
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	byDid, err := s.GetRawOperationsByDid(ctx, "did:prism:abc")
	if err != nil {
		t.Fatalf("by did: %v", err)
	}
	if len(byDid) != 1 {
		t.Fatalf("expected one row for did, got %d", len(byDid))
	}
}
