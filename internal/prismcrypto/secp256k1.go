package prismcrypto

import (
	"errors"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// ErrInvalidPublicKey is returned when a serialized public key does not parse
// as a valid point on the secp256k1 curve.
var ErrInvalidPublicKey = errors.New("prismcrypto: invalid secp256k1 public key")

// ErrInvalidSignature is returned by Verify when none of the accepted
// signature encodings validate against msg.
var ErrInvalidSignature = errors.New("prismcrypto: signature does not verify under any accepted encoding")

// secp256k1Order is the order of the secp256k1 group, n. It is well known and
// hardcoded here rather than pulled from curve internals, since the library
// does not expose a public accessor for it.
var secp256k1Order, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)

var secp256k1HalfOrder = new(big.Int).Rsh(secp256k1Order, 1)

// ParsePublicKey decodes a compressed or uncompressed secp256k1 public key.
func ParsePublicKey(data []byte) (*secp256k1.PublicKey, error) {
	pk, err := secp256k1.ParsePubKey(data)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return pk, nil
}

// PrivateKeyFromBytes builds a secp256k1 private key from a raw 32-byte
// scalar. Used by tests and by the submitter's signing helpers.
func PrivateKeyFromBytes(b []byte) *secp256k1.PrivateKey {
	return secp256k1.PrivKeyFromBytes(b)
}

// Sign produces a canonical low-S DER signature over hash.
func Sign(priv *secp256k1.PrivateKey, hash []byte) []byte {
	sig := ecdsa.Sign(priv, hash)
	return sig.Serialize()
}

// Verify checks sig against hash under pub, accepting three historical
// encodings in order:
//
//  1. verbatim DER (the canonical, expected form);
//  2. DER whose S component is high and must be low-S normalized before
//     verification (some legacy signers never canonicalized S);
//  3. a 64-byte raw r||s encoding with each 32-byte half in reversed byte
//     order, transcoded to DER (produced by a historical signer built on a
//     non-native JVM curve library).
//
// Any one succeeding makes the signature valid; Verify returns nil. If none
// verify, it returns ErrInvalidSignature.
func Verify(pub *secp256k1.PublicKey, hash, sig []byte) error {
	if verifyDER(pub, hash, sig) {
		return nil
	}
	if verifyDERLowSNormalized(pub, hash, sig) {
		return nil
	}
	if verifyRawReversed(pub, hash, sig) {
		return nil
	}
	return ErrInvalidSignature
}

func verifyDER(pub *secp256k1.PublicKey, hash, sig []byte) bool {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(hash, pub)
}

// verifyDERLowSNormalized re-derives r, s from the DER encoding by hand (the
// library's Signature type does not expose its components once parsed),
// low-S normalizes s, and rebuilds a Signature for verification.
func verifyDERLowSNormalized(pub *secp256k1.PublicKey, hash, sig []byte) bool {
	r, s, err := parseDERRS(sig)
	if err != nil {
		return false
	}
	if s.Cmp(secp256k1HalfOrder) <= 0 {
		// Already low-S; attempt (1) already covered this case.
		return false
	}
	normalized := new(big.Int).Sub(secp256k1Order, s)
	return verifyRS(pub, hash, r, normalized)
}

// verifyRawReversed handles a 64-byte r||s signature where each 32-byte half
// was serialized in reversed byte order.
func verifyRawReversed(pub *secp256k1.PublicKey, hash, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	rBytes := reversed(sig[:32])
	sBytes := reversed(sig[32:])
	r := new(big.Int).SetBytes(rBytes)
	s := new(big.Int).SetBytes(sBytes)
	return verifyRS(pub, hash, r, s)
}

func verifyRS(pub *secp256k1.PublicKey, hash []byte, r, s *big.Int) bool {
	var rScalar, sScalar secp256k1.ModNScalar
	if rScalar.SetByteSlice(r.Bytes()) {
		return false // overflowed mod n, not a valid component
	}
	if sScalar.SetByteSlice(s.Bytes()) {
		return false
	}
	sig := ecdsa.NewSignature(&rScalar, &sScalar)
	return sig.Verify(hash, pub)
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// parseDERRS hand-parses a BER/DER ECDSA signature (SEQUENCE of two
// INTEGERs) into its r and s components without relying on the library to
// give them back once parsed.
func parseDERRS(sig []byte) (r, s *big.Int, err error) {
	if len(sig) < 8 || sig[0] != 0x30 {
		return nil, nil, errors.New("prismcrypto: not a DER sequence")
	}
	seqLen := int(sig[1])
	if 2+seqLen > len(sig) {
		return nil, nil, errors.New("prismcrypto: truncated DER sequence")
	}
	body := sig[2 : 2+seqLen]

	rVal, rest, err := readDERInt(body)
	if err != nil {
		return nil, nil, err
	}
	sVal, _, err := readDERInt(rest)
	if err != nil {
		return nil, nil, err
	}
	return rVal, sVal, nil
}

func readDERInt(b []byte) (val *big.Int, rest []byte, err error) {
	if len(b) < 2 || b[0] != 0x02 {
		return nil, nil, errors.New("prismcrypto: expected DER INTEGER")
	}
	n := int(b[1])
	if 2+n > len(b) {
		return nil, nil, errors.New("prismcrypto: truncated DER INTEGER")
	}
	val = new(big.Int).SetBytes(b[2 : 2+n])
	return val, b[2+n:], nil
}
