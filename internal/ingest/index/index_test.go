package index

import (
	"context"
	"testing"

	"github.com/prism-node/prism/internal/did"
	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/prismcrypto"
	"github.com/prism-node/prism/internal/store"
	memstore "github.com/prism-node/prism/internal/store/memory"
)

func insertRaw(t *testing.T, repo store.Repository, blockNo uint64, osn uint32, op operation.Operation) prismcrypto.Digest {
	t.Helper()
	opBytes, err := operation.Encode(op)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	rec := store.RawOperationRecord{BlockNo: blockNo, Absn: 0, Osn: osn, TxID: "tx", OperationBytes: opBytes}
	if err := repo.InsertRawOperations(context.Background(), []store.RawOperationRecord{rec}); err != nil {
		t.Fatalf("insert raw: %v", err)
	}
	return rec.OperationID()
}

func TestRunOnceClassifiesSsiAndIgnored(t *testing.T) {
	repo := memstore.New(nil)
	ctx := context.Background()

	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{
		{ID: "master0", Usage: operation.UsageMaster, Curve: operation.CurveSecp256k1, KeyBytes: []byte{0x02, 1, 2, 3}},
	}}}
	createHash := insertRaw(t, repo, 1, 0, create)

	update := operation.UpdateDid{ID: createHash.Hex(), PreviousOperationHash: createHash}
	insertRaw(t, repo, 1, 1, update)

	versionUpdate := operation.ProtocolVersionUpdate{ProposerDID: createHash.Hex(), Version: 2}
	insertRaw(t, repo, 1, 2, versionUpdate)

	w := NewWorker(repo, 0, nil)
	n, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows classified, got %d", n)
	}

	canonical := store.CanonicalDid(did.Canonical(createHash).String())
	ops, err := repo.GetRawOperationsByDid(ctx, canonical)
	if err != nil {
		t.Fatalf("get by did: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 ssi rows for did, got %d", len(ops))
	}

	unindexed, err := repo.GetRawOperationsUnindexed(ctx)
	if err != nil {
		t.Fatalf("get unindexed: %v", err)
	}
	if len(unindexed) != 0 {
		t.Fatalf("expected nothing left unindexed, got %d", len(unindexed))
	}
}

func TestRunOnceFollowsStorageChainToInitHash(t *testing.T) {
	repo := memstore.New(nil)
	ctx := context.Background()

	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{
		{ID: "master0", Usage: operation.UsageMaster, Curve: operation.CurveSecp256k1, KeyBytes: []byte{0x02, 1, 2, 3}},
	}}}
	createHash := insertRaw(t, repo, 1, 0, create)

	entry := operation.CreateStorageEntry{ID: createHash.Hex(), Data: operation.StorageData{IsJSON: false, Bytes: []byte("v1")}}
	entryHash := insertRaw(t, repo, 1, 1, entry)

	update1 := operation.UpdateStorageEntry{PreviousOperationHash: entryHash, Data: operation.StorageData{IsJSON: false, Bytes: []byte("v2")}}
	update1Hash := insertRaw(t, repo, 1, 2, update1)

	update2 := operation.UpdateStorageEntry{PreviousOperationHash: update1Hash, Data: operation.StorageData{IsJSON: false, Bytes: []byte("v3")}}
	insertRaw(t, repo, 1, 3, update2)

	w := NewWorker(repo, 0, nil)
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	owner, err := repo.GetDidByVdrEntry(ctx, entryHash)
	if err != nil {
		t.Fatalf("get did by vdr entry: %v", err)
	}
	want := store.CanonicalDid(did.Canonical(createHash).String())
	if owner != want {
		t.Fatalf("expected owner %s, got %s", want, owner)
	}
}

func TestRunOnceNoopWhenNothingUnindexed(t *testing.T) {
	repo := memstore.New(nil)
	w := NewWorker(repo, 0, nil)
	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 rows, got %d", n)
	}
}
