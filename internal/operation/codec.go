package operation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/prism-node/prism/internal/prismcrypto"
)

// envelope is the canonical wire form of an Operation: a variant tag plus
// the RLP encoding of that variant's own struct. This stands in for the
// spec's externally-owned binary message schema — the protocol only
// requires that encoding be canonical and deterministic, which RLP
// guarantees.
type envelope struct {
	Variant byte
	Payload []byte
}

// Encode returns the canonical wire bytes for op. OperationHash and DID
// suffixes are SHA-256 of this encoding.
func Encode(op Operation) ([]byte, error) {
	var payload []byte
	var err error

	switch v := op.(type) {
	case CreateDid:
		payload, err = rlp.EncodeToBytes(v)
	case UpdateDid:
		payload, err = rlp.EncodeToBytes(v)
	case DeactivateDid:
		payload, err = rlp.EncodeToBytes(v)
	case ProtocolVersionUpdate:
		payload, err = rlp.EncodeToBytes(v)
	case CreateStorageEntry:
		payload, err = rlp.EncodeToBytes(v)
	case UpdateStorageEntry:
		payload, err = rlp.EncodeToBytes(v)
	case DeactivateStorageEntry:
		payload, err = rlp.EncodeToBytes(v)
	default:
		return nil, fmt.Errorf("operation: unknown variant %T", op)
	}
	if err != nil {
		return nil, fmt.Errorf("operation: encode payload: %w", err)
	}

	return rlp.EncodeToBytes(envelope{Variant: byte(op.Variant()), Payload: payload})
}

// Decode parses the canonical wire bytes produced by Encode back into a
// typed Operation.
func Decode(data []byte) (Operation, error) {
	var env envelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("operation: decode envelope: %w", err)
	}

	switch Variant(env.Variant) {
	case VariantCreateDid:
		var v CreateDid
		if err := rlp.DecodeBytes(env.Payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	case VariantUpdateDid:
		var v UpdateDid
		if err := rlp.DecodeBytes(env.Payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	case VariantDeactivateDid:
		var v DeactivateDid
		if err := rlp.DecodeBytes(env.Payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	case VariantProtocolVersionUpdate:
		var v ProtocolVersionUpdate
		if err := rlp.DecodeBytes(env.Payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	case VariantCreateStorageEntry:
		var v CreateStorageEntry
		if err := rlp.DecodeBytes(env.Payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	case VariantUpdateStorageEntry:
		var v UpdateStorageEntry
		if err := rlp.DecodeBytes(env.Payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	case VariantDeactivateStorageEntry:
		var v DeactivateStorageEntry
		if err := rlp.DecodeBytes(env.Payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("operation: unknown wire variant %d", env.Variant)
	}
}

// Hash computes the operation hash: SHA-256 of the operation's canonical
// encoding. For a CreateDid operation this is also the DID's suffix.
func Hash(op Operation) (prismcrypto.Digest, error) {
	b, err := Encode(op)
	if err != nil {
		return prismcrypto.Digest{}, err
	}
	return prismcrypto.Sum256(b), nil
}
