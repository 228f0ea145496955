package replay

import (
	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/prismcrypto"
)

// storageEntry is the working-state value for a VDR entry: its current data
// plus the bookkeeping needed to locate it by the chain of previous-hash
// pointers and to recover its init hash for document/resolver purposes.
type storageEntry struct {
	initHash prismcrypto.Digest
	prevHash prismcrypto.Digest // hash of the operation that last touched this entry
	data     operation.StorageData
}

// orderedMap is a minimal insertion-ordered map: a slice of keys plus a
// lookup index, so replay mutation is O(1) while iteration for document
// projection stays deterministic.
type orderedMap[V any] struct {
	order []string
	byKey map[string]V
}

func newOrderedMap[V any]() *orderedMap[V] {
	return &orderedMap[V]{byKey: make(map[string]V)}
}

func (m *orderedMap[V]) get(k string) (V, bool) {
	v, ok := m.byKey[k]
	return v, ok
}

func (m *orderedMap[V]) set(k string, v V) {
	if _, exists := m.byKey[k]; !exists {
		m.order = append(m.order, k)
	}
	m.byKey[k] = v
}

func (m *orderedMap[V]) clone() *orderedMap[V] {
	out := &orderedMap[V]{
		order: append([]string(nil), m.order...),
		byKey: make(map[string]V, len(m.byKey)),
	}
	for k, v := range m.byKey {
		out.byKey[k] = v
	}
	return out
}

func (m *orderedMap[V]) each(fn func(key string, v V)) {
	for _, k := range m.order {
		fn(k, m.byKey[k])
	}
}

// workingState is the ephemeral record replay mutates operation by
// operation, per spec.md §4.2.2.
type workingState struct {
	did               string
	isPublished       bool
	context           []string
	prevOperationHash prismcrypto.Digest
	publicKeys        *orderedMap[Revocable[operation.PublicKey]]
	services          *orderedMap[Revocable[operation.Service]]
	storage           *orderedMap[Revocable[storageEntry]]
	createdAt         Metadata
	updatedAt         Metadata
	params            operation.Parameters
	processor         VersionProcessor
}

func newWorkingState(did string, params operation.Parameters) *workingState {
	return &workingState{
		did:        did,
		publicKeys: newOrderedMap[Revocable[operation.PublicKey]](),
		services:   newOrderedMap[Revocable[operation.Service]](),
		storage:    newOrderedMap[Revocable[storageEntry]](),
		params:     params,
		processor:  V1{},
	}
}

// clone performs the copy-on-write snapshot used to stage an UpdateDid's
// actions atomically: mutations against the clone are discarded if any
// action fails, and committed by replacing the caller's state otherwise.
func (s *workingState) clone() *workingState {
	return &workingState{
		did:               s.did,
		isPublished:       s.isPublished,
		context:           append([]string(nil), s.context...),
		prevOperationHash: s.prevOperationHash,
		publicKeys:        s.publicKeys.clone(),
		services:          s.services.clone(),
		storage:           s.storage.clone(),
		createdAt:         s.createdAt,
		updatedAt:         s.updatedAt,
		params:            s.params,
		processor:         s.processor,
	}
}

func (s *workingState) nonRevokedMasterKeyCount() int {
	n := 0
	s.publicKeys.each(func(_ string, r Revocable[operation.PublicKey]) {
		if !r.isRevoked() && r.Value.Usage == operation.UsageMaster {
			n++
		}
	})
	return n
}

func (s *workingState) nonRevokedKeyCount() int {
	n := 0
	s.publicKeys.each(func(_ string, r Revocable[operation.PublicKey]) {
		if !r.isRevoked() {
			n++
		}
	})
	return n
}

func (s *workingState) nonRevokedServiceCount() int {
	n := 0
	s.services.each(func(_ string, r Revocable[operation.Service]) {
		if !r.isRevoked() {
			n++
		}
	})
	return n
}

func (s *workingState) isDeactivated() bool {
	return s.nonRevokedKeyCount() == 0 && s.nonRevokedServiceCount() == 0 && len(s.publicKeys.order) > 0
}

// StorageEntry is the finalized, read-only projection of one VDR entry.
type StorageEntry struct {
	InitHash prismcrypto.Digest
	PrevHash prismcrypto.Digest
	Data     operation.StorageData
}

// DidState is the finalized, read-only projection of a replay: revoked
// entries are dropped and only the envelope fields spec.md describes are
// exposed.
type DidState struct {
	Did           string
	IsPublished   bool
	Context       []string
	PrevOpHash    prismcrypto.Digest
	PublicKeys    []operation.PublicKey
	Services      []operation.Service
	Storage       []StorageEntry
	CreatedAt     Metadata
	UpdatedAt     Metadata
	Params        operation.Parameters
	IsDeactivated bool
}

func finalize(s *workingState) DidState {
	out := DidState{
		Did:         s.did,
		IsPublished: s.isPublished,
		Context:     append([]string(nil), s.context...),
		PrevOpHash:  s.prevOperationHash,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
		Params:      s.params,
	}
	s.publicKeys.each(func(_ string, r Revocable[operation.PublicKey]) {
		if !r.isRevoked() {
			out.PublicKeys = append(out.PublicKeys, r.Value)
		}
	})
	s.services.each(func(_ string, r Revocable[operation.Service]) {
		if !r.isRevoked() {
			out.Services = append(out.Services, r.Value)
		}
	})
	s.storage.each(func(_ string, r Revocable[storageEntry]) {
		if !r.isRevoked() {
			out.Storage = append(out.Storage, StorageEntry{
				InitHash: r.Value.initHash,
				PrevHash: r.Value.prevHash,
				Data:     r.Value.data,
			})
		}
	})
	out.IsDeactivated = s.isDeactivated()
	return out
}
