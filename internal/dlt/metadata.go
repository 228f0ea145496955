package dlt

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/prism-node/prism/internal/operation"
)

// cardanoMetadataEnvelope is the Cardano transaction metadata JSON shape
// under label MetadataLabel: a map with key "c" holding hex-prefixed byte
// chunks whose concatenation decodes to a wirePrismObject, per spec.md
// §4.3.2 / §6.
type cardanoMetadataEnvelope struct {
	C []string `json:"c"`
}

// wirePrismObject is the RLP envelope a PrismObject decodes to: a PrismBlock
// containing an ordered list of signed operations.
type wirePrismObject struct {
	Operations []wireSignedOperation
}

type wireSignedOperation struct {
	SignedWith string
	Signature  []byte
	OpBytes    []byte
}

// DecodePrismMetadata decodes Cardano transaction metadata under label
// MetadataLabel into the ordered list of signed operations it carries.
// Malformed metadata is the caller's responsibility to log and skip, per
// spec.md §4.3.2; this function only reports the error.
func DecodePrismMetadata(metadataJSON []byte) ([]operation.SignedOperation, error) {
	var env cardanoMetadataEnvelope
	if err := json.Unmarshal(metadataJSON, &env); err != nil {
		return nil, fmt.Errorf("dlt: decode metadata envelope: %w", err)
	}

	var concatenated []byte
	for _, chunk := range env.C {
		b, err := decodeHexChunk(chunk)
		if err != nil {
			return nil, fmt.Errorf("dlt: decode metadata chunk: %w", err)
		}
		concatenated = append(concatenated, b...)
	}

	var obj wirePrismObject
	if err := rlp.DecodeBytes(concatenated, &obj); err != nil {
		return nil, fmt.Errorf("dlt: decode prism object: %w", err)
	}

	ops := make([]operation.SignedOperation, 0, len(obj.Operations))
	for _, wso := range obj.Operations {
		op, err := operation.Decode(wso.OpBytes)
		if err != nil {
			return nil, fmt.Errorf("dlt: decode operation: %w", err)
		}
		ops = append(ops, operation.SignedOperation{SignedWith: wso.SignedWith, Signature: wso.Signature, Operation: op})
	}
	return ops, nil
}

func decodeHexChunk(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
