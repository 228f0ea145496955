// Package prismcrypto provides the cryptographic primitives PRISM operations
// rely on: SHA-256 digests (used as operation hashes and DID suffixes) and
// secp256k1 signature verification with the legacy-signer fallback described
// in the protocol notes.
package prismcrypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	mh "github.com/multiformats/go-multihash"
)

// Size is the byte length of a Digest.
const Size = 32

// Digest is a 32-byte SHA-256 hash: an operation hash, a DID suffix, or a
// storage-entry init/prev hash.
type Digest [Size]byte

// ErrInvalidDigestLength is returned when decoding a digest from a byte slice
// whose length is not exactly Size.
var ErrInvalidDigestLength = errors.New("prismcrypto: digest must be 32 bytes")

// Sum256 computes the SHA-256 digest of data.
func Sum256(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// DigestFromBytes copies b into a Digest, failing if b is not 32 bytes long.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return d, ErrInvalidDigestLength
	}
	copy(d[:], b)
	return d, nil
}

// DigestFromHex decodes a lowercase-hex-encoded digest.
func DigestFromHex(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, err
	}
	return DigestFromBytes(b)
}

// DigestFromMultibase decodes a self-describing multibase-encoded digest,
// the form a CID's raw identifier section uses. It accepts any base
// multibase.Decode recognizes from the string's leading prefix byte.
func DigestFromMultibase(s string) (Digest, error) {
	_, b, err := multibase.Decode(s)
	if err != nil {
		return Digest{}, err
	}
	return DigestFromBytes(b)
}

// Bytes returns the digest's raw bytes.
func (d Digest) Bytes() []byte { return d[:] }

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

// String satisfies fmt.Stringer.
func (d Digest) String() string { return d.Hex() }

// Multibase encodes the digest's raw bytes using the given base, e.g. for
// an alternate identifier form of a /vdr entry hash.
func (d Digest) Multibase(base multibase.Encoding) (string, error) {
	return multibase.Encode(base, d.Bytes())
}

// IsZero reports whether the digest is the zero value.
func (d Digest) IsZero() bool { return d == Digest{} }

// CID returns the digest wrapped as a CIDv1 (raw codec, sha2-256 multihash),
// a standard, self-describing content-addressed form for operation and
// storage-entry hashes that leaves the 32-byte value the protocol signs over
// untouched. The storage repository and the /vdr HTTP surface do not use
// it: they work with the 32-byte value, in hex or multibase.
func (d Digest) CID() (cid.Cid, error) {
	digest, err := mh.Encode(d.Bytes(), mh.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, digest), nil
}
