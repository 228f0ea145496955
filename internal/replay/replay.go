package replay

import (
	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/prismcrypto"
)

// OperationRecord pairs a signed operation with the ledger metadata it was
// observed under; resolve_published consumes a totally ordered slice of
// these.
type OperationRecord struct {
	Metadata Metadata
	Signed   operation.SignedOperation
}

// ReplayEvent is one entry of the debug trace resolve_published emits: the
// metadata and signed operation it processed, and the error (nil on
// success) that caused it to be skipped.
type ReplayEvent struct {
	Metadata Metadata
	Signed   operation.SignedOperation
	Err      error
}

// ResolveUnpublished applies a single create operation without signature
// verification and with is_published=false, returning the synthesized
// state. Used to resolve long-form DIDs that have never reached the ledger.
func ResolveUnpublished(did string, createOp operation.CreateDid) DidState {
	s := newWorkingState(did, operation.DefaultParameters)
	applyCreate(s, createOp, Metadata{})
	s.isPublished = false
	return finalize(s)
}

// ResolvePublished replays a totally ordered operation list. It returns nil
// if the first operation is not a valid, signature-checked CreateDid for a
// consistent DID; the debug trace records every operation processed and,
// for skipped ones, why.
func ResolvePublished(did string, records []OperationRecord) (*DidState, []ReplayEvent) {
	trace := make([]ReplayEvent, 0, len(records))
	if len(records) == 0 {
		return nil, trace
	}

	first := records[0]
	create, ok := first.Signed.Operation.(operation.CreateDid)
	if !ok {
		trace = append(trace, ReplayEvent{Metadata: first.Metadata, Signed: first.Signed, Err: ErrNotACreateDid})
		return nil, trace
	}
	if err := operation.Validate(create, operation.DefaultParameters); err != nil {
		trace = append(trace, ReplayEvent{Metadata: first.Metadata, Signed: first.Signed, Err: err})
		return nil, trace
	}
	if err := verifyCreateSignature(create, first.Signed); err != nil {
		trace = append(trace, ReplayEvent{Metadata: first.Metadata, Signed: first.Signed, Err: err})
		return nil, trace
	}
	createHash, err := operation.Hash(create)
	if err != nil {
		trace = append(trace, ReplayEvent{Metadata: first.Metadata, Signed: first.Signed, Err: err})
		return nil, trace
	}

	s := newWorkingState(did, operation.DefaultParameters)
	applyCreate(s, create, first.Metadata)
	s.prevOperationHash = createHash
	s.isPublished = true
	trace = append(trace, ReplayEvent{Metadata: first.Metadata, Signed: first.Signed})

	for _, rec := range records[1:] {
		err := applyOperation(s, rec)
		trace = append(trace, ReplayEvent{Metadata: rec.Metadata, Signed: rec.Signed, Err: err})
		// On failure s is left unchanged: every apply* function below either
		// commits its mutation in full or returns before touching s.
	}

	final := finalize(s)
	return &final, trace
}

// applyOperation runs the per-operation algorithm of spec.md §4.2.3 for any
// operation after the initial create: signature check, chain check,
// variant-specific mutation, cap re-check. Any failure leaves s unchanged
// and is reported to the caller for the debug trace.
func applyOperation(s *workingState, rec OperationRecord) error {
	op := rec.Signed.Operation

	requiredUsage, err := requiredSignerUsage(op)
	if err != nil {
		return err
	}
	if err := verifyStateSignature(s, rec.Signed, requiredUsage); err != nil {
		return err
	}

	// The generic DID-level chain check (§4.2.3 step 2) applies only to
	// UpdateDid/DeactivateDid; storage ops and ProtocolVersionUpdate carry no
	// previous_operation_hash comparable to state.prev_operation_hash
	// (storage ops chain against their own entry's prev_hash instead, see
	// applyUpdateStorageEntry/applyDeactivateStorageEntry).
	if prevHash, applicable := didLevelPreviousOperationHash(op); applicable && prevHash != s.prevOperationHash {
		return ErrUnmatchedPreviousHash
	}

	opHash, err := operation.Hash(op)
	if err != nil {
		return err
	}

	// UpdateDid stages its cap check itself against the clone, before
	// committing (see applyUpdate): a check after the mutation would
	// otherwise run against an already-committed s, too late to reject it.
	// DeactivateDid deliberately revokes every key, including the last master
	// key: that is what deactivation means, not a cap violation (§4.2.4
	// invariant 5). ProtocolVersionUpdate swaps s.params/s.processor directly
	// with nothing to stage; checking the new caps against counts grandfathered
	// under the old ones would reject the version update itself after it has
	// already taken effect, so it is likewise exempt. The storage variants
	// never change key/service counts, so their cap check runs here, before
	// the mutation, and a failing check leaves s untouched.
	switch op.(type) {
	case operation.CreateStorageEntry, operation.UpdateStorageEntry, operation.DeactivateStorageEntry:
		if err := s.processor.CheckCaps(s); err != nil {
			return err
		}
	}

	switch v := op.(type) {
	case operation.UpdateDid:
		if err := applyUpdate(s, v, rec.Metadata); err != nil {
			return err
		}
	case operation.DeactivateDid:
		applyDeactivate(s, rec.Metadata)
	case operation.ProtocolVersionUpdate:
		applyProtocolVersionUpdate(s, v)
	case operation.CreateStorageEntry:
		if err := applyCreateStorageEntry(s, v, opHash); err != nil {
			return err
		}
	case operation.UpdateStorageEntry:
		if err := applyUpdateStorageEntry(s, v, opHash); err != nil {
			return err
		}
	case operation.DeactivateStorageEntry:
		if err := applyDeactivateStorageEntry(s, v, rec.Metadata); err != nil {
			return err
		}
	default:
		return ErrUnknownOperationKind
	}

	s.prevOperationHash = opHash
	s.updatedAt = rec.Metadata
	return nil
}

func requiredSignerUsage(op operation.Operation) (operation.KeyUsage, error) {
	switch op.(type) {
	case operation.UpdateDid, operation.DeactivateDid, operation.ProtocolVersionUpdate:
		return operation.UsageMaster, nil
	case operation.CreateStorageEntry, operation.UpdateStorageEntry, operation.DeactivateStorageEntry:
		return operation.UsageVdr, nil
	default:
		return "", ErrUnknownOperationKind
	}
}

func didLevelPreviousOperationHash(op operation.Operation) (hash prismcrypto.Digest, applicable bool) {
	switch v := op.(type) {
	case operation.UpdateDid:
		return v.PreviousOperationHash, true
	case operation.DeactivateDid:
		return v.PreviousOperationHash, true
	default:
		return prismcrypto.Digest{}, false
	}
}
