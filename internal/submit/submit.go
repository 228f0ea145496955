// Package submit implements the Submitter Sink of spec.md §4.5: it packages
// a batch of pre-signed operations into a PrismObject, hands the resulting
// Cardano transaction metadata to an external ledger client, and returns the
// transaction id plus the per-operation ids computed before submission.
package submit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prism-node/prism/internal/errs"
	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/prismcrypto"
)

// metadataChunkSize mirrors the conventional upper bound on a single
// Cardano transaction metadata string value; larger payloads are split
// across multiple hex chunks under the "c" key, the inverse of
// dlt.DecodePrismMetadata's concatenation.
const metadataChunkSize = 64

// LedgerClient is the external boundary a Sink hands its packaged
// transaction metadata to. Concrete implementations talk to whichever
// Cardano submission endpoint the deployment uses (a local node, a
// third-party submit API); none are grounded in the retrieved pack, so only
// this interface lives here.
type LedgerClient interface {
	SubmitTransaction(ctx context.Context, metadataJSON []byte) (txID string, err error)
}

// Result is what a successful Submit call returns: the ledger transaction
// id, the content-addressed id of every operation it carried (in the same
// order as the submitted batch), and a correlation id for tracing this
// submission across logs independent of the eventual transaction id.
type Result struct {
	TxID          string
	OperationIDs  []prismcrypto.Digest
	CorrelationID string
}

// Sink packages and submits signed operation batches.
type Sink struct {
	client LedgerClient
	logger *logrus.Logger
}

// NewSink wires a Sink against client.
func NewSink(client LedgerClient, logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sink{client: client, logger: logger}
}

type wirePrismObject struct {
	Operations []wireSignedOperation
}

type wireSignedOperation struct {
	SignedWith string
	Signature  []byte
	OpBytes    []byte
}

type cardanoMetadataEnvelope struct {
	C []string `json:"c"`
}

// Submit packages ops into a single PrismBlock, submits it through the
// ledger client, and returns the resulting transaction id and per-operation
// ids. An empty batch is rejected as a bad request before anything is
// encoded.
func (s *Sink) Submit(ctx context.Context, ops []operation.SignedOperation) (*Result, error) {
	if len(ops) == 0 {
		return nil, errs.Wrap(errs.BadRequest, fmt.Errorf("submit: empty operation batch"))
	}
	correlationID := uuid.New().String()

	opIDs := make([]prismcrypto.Digest, len(ops))
	wire := make([]wireSignedOperation, len(ops))
	for i, signed := range ops {
		opBytes, err := operation.Encode(signed.Operation)
		if err != nil {
			return nil, errs.Wrap(errs.BadRequest, fmt.Errorf("submit: encode operation %d: %w", i, err))
		}
		opIDs[i] = prismcrypto.Sum256(opBytes)
		wire[i] = wireSignedOperation{SignedWith: signed.SignedWith, Signature: signed.Signature, OpBytes: opBytes}
	}

	encoded, err := rlp.EncodeToBytes(wirePrismObject{Operations: wire})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, fmt.Errorf("submit: encode prism object: %w", err))
	}

	metadataJSON, err := json.Marshal(cardanoMetadataEnvelope{C: chunkHex(encoded)})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, fmt.Errorf("submit: marshal metadata envelope: %w", err))
	}

	txID, err := s.client.SubmitTransaction(ctx, metadataJSON)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, fmt.Errorf("submit: ledger client %s: %w", correlationID, err))
	}

	s.logger.WithField("correlation_id", correlationID).Infof("submit: published tx %s with %d operations", txID, len(ops))
	return &Result{TxID: txID, OperationIDs: opIDs, CorrelationID: correlationID}, nil
}

func chunkHex(data []byte) []string {
	if len(data) == 0 {
		return []string{"0x"}
	}
	chunks := make([]string, 0, (len(data)+metadataChunkSize-1)/metadataChunkSize)
	for i := 0; i < len(data); i += metadataChunkSize {
		end := i + metadataChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, "0x"+hex.EncodeToString(data[i:end]))
	}
	return chunks
}
