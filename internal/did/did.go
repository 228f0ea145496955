// Package did implements PRISM DID URI syntax: parsing and formatting of
// canonical and long-form `did:prism:` identifiers.
package did

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/prismcrypto"
)

// Method is the DID method name this service resolves.
const Method = "prism"

// ErrUnsupportedMethod is returned when a DID string's method segment is not
// "prism".
var ErrUnsupportedMethod = errors.New("did: unsupported method")

// ErrMalformedDid is returned for a did:prism URI that isn't syntactically
// valid.
var ErrMalformedDid = errors.New("did: malformed did:prism URI")

// ErrSuffixMismatch is returned when a long-form DID's suffix does not equal
// the hash of its embedded create operation.
var ErrSuffixMismatch = errors.New("did: suffix does not match embedded create operation (DidSuffixEncodedStateUnmatched)")

// Did is a parsed did:prism identifier: either Canonical, carrying only a
// suffix, or LongForm, additionally embedding the bytes of the initial
// CreateDid operation so it can be resolved without consulting the ledger.
type Did struct {
	Suffix       prismcrypto.Digest
	LongFormData []byte // nil for Canonical
}

// IsLongForm reports whether the DID embeds create-operation bytes.
func (d Did) IsLongForm() bool { return len(d.LongFormData) > 0 }

// IntoCanonical drops any embedded operation, returning the Canonical form
// of the same DID.
func (d Did) IntoCanonical() Did {
	return Did{Suffix: d.Suffix}
}

// String formats the DID back into did:prism URI form.
func (d Did) String() string {
	canonical := fmt.Sprintf("did:%s:%s", Method, d.Suffix.Hex())
	if !d.IsLongForm() {
		return canonical
	}
	encoded := base64.RawURLEncoding.EncodeToString(d.LongFormData)
	return fmt.Sprintf("%s:%s", canonical, encoded)
}

// Parse decodes a did:prism URI into either its Canonical or LongForm
// representation, validating the long-form suffix-binding invariant (P1 /
// DidSuffixEncodedStateUnmatched) eagerly.
func Parse(uri string) (Did, error) {
	parts := strings.SplitN(uri, ":", 4)
	if len(parts) < 3 || parts[0] != "did" {
		return Did{}, ErrMalformedDid
	}
	if parts[1] != Method {
		return Did{}, ErrUnsupportedMethod
	}

	suffixHex := parts[2]
	suffix, err := prismcrypto.DigestFromHex(suffixHex)
	if err != nil {
		return Did{}, fmt.Errorf("%w: bad suffix: %v", ErrMalformedDid, err)
	}

	if len(parts) == 3 {
		return Did{Suffix: suffix}, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return Did{}, fmt.Errorf("%w: bad long-form encoding: %v", ErrMalformedDid, err)
	}

	if err := verifySuffixBinding(suffix, raw); err != nil {
		return Did{}, err
	}

	return Did{Suffix: suffix, LongFormData: raw}, nil
}

func verifySuffixBinding(suffix prismcrypto.Digest, createOperationBytes []byte) error {
	got := prismcrypto.Sum256(createOperationBytes)
	if got != suffix {
		return ErrSuffixMismatch
	}
	return nil
}

// DecodeEmbeddedCreate decodes a long-form DID's embedded CreateDid
// operation. It is an error to call this on a Canonical DID.
func (d Did) DecodeEmbeddedCreate() (operation.CreateDid, error) {
	if !d.IsLongForm() {
		return operation.CreateDid{}, errors.New("did: not a long-form DID")
	}
	op, err := operation.Decode(d.LongFormData)
	if err != nil {
		return operation.CreateDid{}, fmt.Errorf("did: decode embedded create operation: %w", err)
	}
	create, ok := op.(operation.CreateDid)
	if !ok {
		return operation.CreateDid{}, errors.New("did: embedded operation is not a CreateDid")
	}
	return create, nil
}

// Canonical builds a Canonical Did from a suffix.
func Canonical(suffix prismcrypto.Digest) Did {
	return Did{Suffix: suffix}
}

// LongForm builds a LongForm Did by hashing createOp to obtain the suffix and
// embedding its canonical bytes.
func LongForm(createOp operation.CreateDid) (Did, error) {
	b, err := operation.Encode(createOp)
	if err != nil {
		return Did{}, err
	}
	return Did{Suffix: prismcrypto.Sum256(b), LongFormData: b}, nil
}
