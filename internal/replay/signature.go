package replay

import (
	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/prismcrypto"
)

// verifyStateSignature implements §4.2.3 step 1 for any operation after the
// initial create: look up the signing key in the current working state,
// check it is live and carries the required usage, then verify the
// signature over the operation's canonical encoded bytes.
func verifyStateSignature(s *workingState, signed operation.SignedOperation, requiredUsage operation.KeyUsage) error {
	r, ok := s.publicKeys.get(signed.SignedWith)
	if !ok {
		return ErrSignedWithKeyNotFound
	}
	if r.isRevoked() {
		return ErrSignedWithRevokedKey
	}
	if r.Value.Usage != requiredUsage {
		return ErrSignedWithInvalidUsage
	}
	return verifyOperationSignature(r.Value, signed)
}

// verifyCreateSignature checks a CreateDid's own signature against a Master
// key embedded in that same create operation, since no prior working state
// exists yet to look the signer up in.
func verifyCreateSignature(create operation.CreateDid, signed operation.SignedOperation) error {
	var signer *operation.PublicKey
	for i := range create.Data.PublicKeys {
		if create.Data.PublicKeys[i].ID == signed.SignedWith {
			signer = &create.Data.PublicKeys[i]
			break
		}
	}
	if signer == nil {
		return ErrSignedWithKeyNotFound
	}
	if signer.Usage != operation.UsageMaster {
		return ErrSignedWithInvalidUsage
	}
	return verifyOperationSignature(*signer, signed)
}

func verifyOperationSignature(signer operation.PublicKey, signed operation.SignedOperation) error {
	if signer.Curve != operation.CurveSecp256k1 {
		return ErrSignedWithInvalidUsage
	}
	pub, err := prismcrypto.ParsePublicKey(signer.KeyBytes)
	if err != nil {
		return ErrInvalidSignature
	}
	encoded, err := operation.Encode(signed.Operation)
	if err != nil {
		return ErrInvalidSignature
	}
	hash := prismcrypto.Sum256(encoded)
	if err := prismcrypto.Verify(pub, hash.Bytes(), signed.Signature); err != nil {
		return ErrInvalidSignature
	}
	return nil
}
