// Package store defines the storage repository contract: the single shared
// mutable resource the sync worker, index worker, resolver, and submitter
// all depend on. Concrete backends live in internal/store/postgres (pgx,
// for production) and internal/store/memory (map-backed, for tests).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/prismcrypto"
)

// CanonicalDid is a fully formatted did:prism:<suffix-hex> URI, never a
// long-form DID.
type CanonicalDid string

// ErrNotFound is returned by single-row lookups that find nothing; it is
// not itself an internal error, callers translate it per spec.md §7.
var ErrNotFound = errors.New("store: not found")

// RawOperationRecord is one signed operation as observed on chain, before
// indexing. OperationBytes is the canonical encoding from operation.Encode;
// SignedWith/Signature are carried alongside rather than folded into a
// second wire envelope, since the sync worker already has them split apart
// off the ledger source.
type RawOperationRecord struct {
	BlockNo    uint64
	Absn       uint32 // index of this operation's transaction within its block
	Osn        uint32 // position of this operation within its PRISM object
	TxID       string
	Slot       uint64
	BlockTime  time.Time
	SignedWith string
	Signature  []byte

	OperationBytes []byte
	IsIndexed      bool
}

// OperationID is SHA-256 of the canonical operation encoding, per spec.md
// §4.5.
func (r RawOperationRecord) OperationID() prismcrypto.Digest {
	return prismcrypto.Sum256(r.OperationBytes)
}

// Decode parses OperationBytes and reassembles the SignedOperation the sync
// worker originally received.
func (r RawOperationRecord) Decode() (operation.SignedOperation, error) {
	op, err := operation.Decode(r.OperationBytes)
	if err != nil {
		return operation.SignedOperation{}, err
	}
	return operation.SignedOperation{SignedWith: r.SignedWith, Signature: r.Signature, Operation: op}, nil
}

// IndexedKind discriminates what an index-worker pass decided about one raw
// operation, per spec.md §4.3.5.
type IndexedKind byte

const (
	// IndexedSsi marks a DID-management operation (Create/Update/Deactivate).
	IndexedSsi IndexedKind = iota + 1
	// IndexedVdr marks a storage (VDR) operation.
	IndexedVdr
	// IndexedIgnored marks an operation the indexer has no further use for
	// (e.g. a ProtocolVersionUpdate, which is applied by replay but needs
	// no separate index row).
	IndexedIgnored
)

// IndexedRecord is one row the index worker writes per raw operation, per
// spec.md §4.3.5. Fields outside a record's Kind are left zero.
type IndexedRecord struct {
	BlockNo uint64
	Absn    uint32
	Osn     uint32

	Kind IndexedKind
	Did  CanonicalDid // Ssi, Vdr

	OperationHash     prismcrypto.Digest // Vdr
	InitOperationHash prismcrypto.Digest // Vdr: root of the prev-hash chain
	PrevOperationHash prismcrypto.Digest // Vdr
}

// LastIndexedBlock is the slot/block position of the most recently indexed
// raw operation, used to report indexer progress at GET /indexer/stats.
type LastIndexedBlock struct {
	Slot    uint64
	BlockNo uint64
}

// DltCursor is the ledger-source resume position, persisted as a single-row
// overwrite per spec.md §4.3.4.
type DltCursor struct {
	Slot       int64
	BlockHash  []byte
	Cbt        *time.Time
	SourceHint string
}

// Paginated wraps a page of results with enough bookkeeping for the caller
// to request the next page.
type Paginated[T any] struct {
	Items    []T
	Total    int
	Page     int
	PageSize int
}

// Repository is the storage repository trait of spec.md §6. All methods may
// block on I/O and therefore take a context for cancellation; the resolver
// relies on this to cooperatively cancel pending reads on client disconnect.
type Repository interface {
	GetLastIndexedBlock(ctx context.Context) (*LastIndexedBlock, error)
	GetAllDids(ctx context.Context, page, pageSize int) (Paginated[CanonicalDid], error)
	GetDidByVdrEntry(ctx context.Context, initHash prismcrypto.Digest) (CanonicalDid, error)

	GetRawOperationsUnindexed(ctx context.Context) ([]RawOperationRecord, error)
	GetRawOperationsByDid(ctx context.Context, did CanonicalDid) ([]RawOperationRecord, error)
	GetRawOperationsByTxID(ctx context.Context, txID string) ([]RawOperationWithDid, error)
	GetRawOperationByOperationID(ctx context.Context, opID prismcrypto.Digest) (*RawOperationWithDid, error)

	InsertRawOperations(ctx context.Context, batch []RawOperationRecord) error
	InsertIndexedOperations(ctx context.Context, batch []IndexedRecord) error

	GetCursor(ctx context.Context) (*DltCursor, error)
	SetCursor(ctx context.Context, cursor DltCursor) error
}

// RawOperationWithDid pairs a raw operation with the DID an index pass
// associated it with, the shape get_raw_operations_by_tx_id and
// get_raw_operation_by_operation_id return.
type RawOperationWithDid struct {
	Record RawOperationRecord
	Did    CanonicalDid
}

// UnindexedFetchCap is the maximum number of unindexed rows a single
// GetRawOperationsUnindexed call returns, per spec.md §6.
const UnindexedFetchCap = 200
