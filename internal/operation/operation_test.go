package operation

import (
	"testing"

	"github.com/prism-node/prism/internal/prismcrypto"
)

func masterKeyBytes() []byte {
	scalar := make([]byte, 32)
	scalar[31] = 1
	priv := prismcrypto.PrivateKeyFromBytes(scalar)
	return priv.PubKey().SerializeCompressed()
}

func sampleCreateDid() CreateDid {
	return CreateDid{Data: DidData{
		PublicKeys: []PublicKey{
			{ID: "master0", Usage: UsageMaster, Curve: CurveSecp256k1, KeyBytes: masterKeyBytes()},
		},
		Services: nil,
		Context:  []string{"https://www.w3.org/ns/did/v1"},
	}}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	op := sampleCreateDid()
	b, err := Encode(op)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cd, ok := decoded.(CreateDid)
	if !ok {
		t.Fatalf("decoded wrong type: %T", decoded)
	}
	if len(cd.Data.PublicKeys) != 1 || cd.Data.PublicKeys[0].ID != "master0" {
		t.Fatalf("roundtrip mismatch: %+v", cd)
	}
}

func TestHashDeterministic(t *testing.T) {
	op := sampleCreateDid()
	h1, err := Hash(op)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := Hash(op)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %x != %x", h1, h2)
	}
}

func TestValidateCreateDidRequiresMasterKey(t *testing.T) {
	op := CreateDid{Data: DidData{
		PublicKeys: []PublicKey{
			{ID: "k1", Usage: UsageAuthentication, Curve: CurveSecp256k1, KeyBytes: masterKeyBytes()},
		},
	}}
	if err := Validate(op, DefaultParameters); err == nil {
		t.Fatal("expected validation error for missing master key")
	}
}

func TestValidateCreateDidRejectsDuplicateContext(t *testing.T) {
	op := sampleCreateDid()
	op.Data.Context = []string{"a", "a"}
	if err := Validate(op, DefaultParameters); err == nil {
		t.Fatal("expected validation error for duplicate context entry")
	}
}

func TestValidateUpdateDidRequiresPreviousHash(t *testing.T) {
	op := UpdateDid{Actions: []UpdateAction{{Kind: ActionRemoveKey, KeyID: "k1"}}}
	if err := Validate(op, DefaultParameters); err == nil {
		t.Fatal("expected validation error for zero previous_operation_hash")
	}
}

func TestValidateCreateDidRejectsOversizedID(t *testing.T) {
	op := sampleCreateDid()
	long := make([]byte, DefaultParameters.MaxIDSize+1)
	for i := range long {
		long[i] = 'a'
	}
	op.Data.PublicKeys[0].ID = string(long)
	if err := Validate(op, DefaultParameters); err == nil {
		t.Fatal("expected validation error for oversized id")
	}
}
