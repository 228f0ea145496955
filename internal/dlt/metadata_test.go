package dlt

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/store"
)

func TestDecodePrismMetadataRoundtrip(t *testing.T) {
	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{
		{ID: "master0", Usage: operation.UsageMaster, Curve: operation.CurveSecp256k1, KeyBytes: []byte{0x02, 1, 2, 3}},
	}}}
	opBytes, err := operation.Encode(create)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	obj := wirePrismObject{Operations: []wireSignedOperation{
		{SignedWith: "master0", Signature: []byte("sig"), OpBytes: opBytes},
	}}
	encoded, err := rlp.EncodeToBytes(obj)
	if err != nil {
		t.Fatalf("encode wire object: %v", err)
	}

	// Split into two chunks to exercise concatenation.
	mid := len(encoded) / 2
	chunkA := "0x" + hex.EncodeToString(encoded[:mid])
	chunkB := "0x" + hex.EncodeToString(encoded[mid:])
	metadataJSON := []byte(`{"c":["` + chunkA + `","` + chunkB + `"]}`)

	ops, err := DecodePrismMetadata(metadataJSON)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected one operation, got %d", len(ops))
	}
	if _, ok := ops[0].Operation.(operation.CreateDid); !ok {
		t.Fatalf("expected CreateDid, got %T", ops[0].Operation)
	}
}

func TestDecodePrismMetadataRejectsMalformedEnvelope(t *testing.T) {
	if _, err := DecodePrismMetadata([]byte(`not json`)); err == nil {
		t.Fatal("expected an error for malformed metadata")
	}
}

func TestCursorObserverChangedFiresOnSet(t *testing.T) {
	o := NewCursorObserver()
	ch := o.Changed()

	select {
	case <-ch:
		t.Fatal("expected Changed channel to be open before any Set")
	default:
	}

	o.Set(store.DltCursor{Slot: 1})

	select {
	case <-ch:
	default:
		t.Fatal("expected Changed channel to close after Set")
	}
}
