// Package replay implements the deterministic operation-replay state
// machine: given a DID's totally ordered operation history, it reconstructs
// the DID's current key/service/storage set, rejecting conflicting,
// unsigned, or out-of-order operations along the way.
package replay

import "time"

// Metadata is the ledger position and timing information carried alongside
// every operation replayed, used for chain-ordering, the debug trace, and
// the envelope's created_at/updated_at fields.
type Metadata struct {
	BlockNo   uint64
	Absn      uint32 // absolute sequence number of the transaction within the block
	Osn       uint32 // operation sequence number within the transaction
	BlockTime time.Time
	Slot      uint64
}

// Revocable wraps a working-state value with the metadata of when it was
// added and, once revoked, when that happened. A nil RevokedAt means the
// value is still live.
type Revocable[T any] struct {
	Value     T
	AddedAt   Metadata
	RevokedAt *Metadata
}

func (r Revocable[T]) isRevoked() bool { return r.RevokedAt != nil }

func (r *Revocable[T]) revoke(at Metadata) { r.RevokedAt = &at }
