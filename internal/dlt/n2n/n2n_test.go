package n2n

import (
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/prism-node/prism/internal/operation"
)

func TestDecodeWireBlock(t *testing.T) {
	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{
		{ID: "master0", Usage: operation.UsageMaster, Curve: operation.CurveSecp256k1, KeyBytes: []byte{0x02, 1, 2, 3}},
	}}}
	opBytes, err := operation.Encode(create)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	wso := wireSignedOperation{SignedWith: "master0", Signature: []byte("sig"), OpBytes: opBytes}
	wsoBytes, err := rlp.EncodeToBytes(wso)
	if err != nil {
		t.Fatalf("encode wire signed op: %v", err)
	}

	blk := wireBlock{BlockNo: 7, Absn: 1, TxID: "tx7", Slot: 42, BlockTimeUnix: 1700000000, Operations: [][]byte{wsoBytes}}

	obj, err := decodeWireBlock(blk)
	if err != nil {
		t.Fatalf("decode wire block: %v", err)
	}
	if obj.Metadata.BlockNo != 7 || obj.Metadata.Slot != 42 {
		t.Fatalf("unexpected metadata: %+v", obj.Metadata)
	}
	if len(obj.Operations) != 1 {
		t.Fatalf("expected one operation, got %d", len(obj.Operations))
	}
	if _, ok := obj.Operations[0].Operation.(operation.CreateDid); !ok {
		t.Fatalf("expected a decoded CreateDid, got %T", obj.Operations[0].Operation)
	}
}

func TestDecodeWireBlockRejectsMalformedOperation(t *testing.T) {
	wso := wireSignedOperation{SignedWith: "master0", Signature: []byte("sig"), OpBytes: []byte("not rlp")}
	wsoBytes, err := rlp.EncodeToBytes(wso)
	if err != nil {
		t.Fatalf("encode wire signed op: %v", err)
	}
	blk := wireBlock{BlockNo: 1, Operations: [][]byte{wsoBytes}}

	if _, err := decodeWireBlock(blk); err == nil {
		t.Fatal("expected an error for an undecodable operation")
	}
}
