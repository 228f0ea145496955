package prismcrypto

import (
	"bytes"
	"testing"
)

func fixedPrivateKey() []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = 1
	}
	return b
}

func TestSignVerifyRoundtrip(t *testing.T) {
	priv := PrivateKeyFromBytes(fixedPrivateKey())
	pub := priv.PubKey()
	hash := Sum256([]byte("hello prism"))

	sig := Sign(priv, hash.Bytes())
	if err := Verify(pub, hash.Bytes(), sig); err != nil {
		t.Fatalf("verify canonical DER: %v", err)
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	priv := PrivateKeyFromBytes(fixedPrivateKey())
	pub := priv.PubKey()
	hash := Sum256([]byte("hello prism"))
	sig := Sign(priv, hash.Bytes())

	other := Sum256([]byte("goodbye prism"))
	if err := Verify(pub, other.Bytes(), sig); err == nil {
		t.Fatal("expected verification failure for tampered message")
	}
}

func TestVerifyRawReversedEncoding(t *testing.T) {
	priv := PrivateKeyFromBytes(fixedPrivateKey())
	pub := priv.PubKey()
	hash := Sum256([]byte("legacy signer payload"))

	sig := Sign(priv, hash.Bytes())
	r, s, err := parseDERRS(sig)
	if err != nil {
		t.Fatalf("parseDERRS: %v", err)
	}

	raw := make([]byte, 64)
	rb := r.Bytes()
	sb := s.Bytes()
	copy(raw[32-len(rb):32], rb)
	copy(raw[64-len(sb):64], sb)
	reversedSig := append(reversed(raw[:32]), reversed(raw[32:])...)

	if err := Verify(pub, hash.Bytes(), reversedSig); err != nil {
		t.Fatalf("verify raw reversed: %v", err)
	}
}

func TestDigestCID(t *testing.T) {
	d := Sum256([]byte("suffix"))
	c, err := d.CID()
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	if c.String() == "" {
		t.Fatal("empty CID string")
	}
}

func TestDigestFromHexRoundtrip(t *testing.T) {
	d := Sum256([]byte("roundtrip"))
	got, err := DigestFromHex(d.Hex())
	if err != nil {
		t.Fatalf("DigestFromHex: %v", err)
	}
	if !bytes.Equal(got.Bytes(), d.Bytes()) {
		t.Fatalf("roundtrip mismatch: got %x want %x", got, d)
	}
}

func TestDigestFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := DigestFromBytes([]byte{1, 2, 3}); err != ErrInvalidDigestLength {
		t.Fatalf("expected ErrInvalidDigestLength, got %v", err)
	}
}
