// Package memory is a map-backed store.Repository used by tests and by the
// in-memory demo wiring in cmd/prismnode; it mirrors the concurrency shape of
// the postgres backend (a single mutex guarding all tables) without needing
// a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/prism-node/prism/internal/prismcrypto"
	"github.com/prism-node/prism/internal/store"
)

type rawKey struct {
	blockNo uint64
	absn    uint32
	osn     uint32
}

// Store is an in-process store.Repository. The zero value is not usable;
// construct with New.
type Store struct {
	mu sync.RWMutex

	logger *logrus.Logger

	rawOrder []rawKey
	raw      map[rawKey]store.RawOperationRecord

	// indexedDid maps a raw operation's key to the DID an index pass
	// associated it with, covering both Ssi and Vdr rows.
	indexedDid map[rawKey]store.CanonicalDid
	vdrByInit  map[prismcrypto.Digest]store.CanonicalDid

	byTxID  map[string][]rawKey
	byOpID  map[prismcrypto.Digest]rawKey
	byDid   map[store.CanonicalDid][]rawKey
	allDids []store.CanonicalDid

	cursor *store.DltCursor
}

// New constructs an empty Store.
func New(logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		logger:     logger,
		raw:        make(map[rawKey]store.RawOperationRecord),
		indexedDid: make(map[rawKey]store.CanonicalDid),
		vdrByInit:  make(map[prismcrypto.Digest]store.CanonicalDid),
		byTxID:     make(map[string][]rawKey),
		byOpID:     make(map[prismcrypto.Digest]rawKey),
		byDid:      make(map[store.CanonicalDid][]rawKey),
	}
}

func keyOf(r store.RawOperationRecord) rawKey {
	return rawKey{blockNo: r.BlockNo, absn: r.Absn, osn: r.Osn}
}

// InsertRawOperations is idempotent on (block_no, absn, osn): a record
// already present for a key is left untouched.
func (s *Store) InsertRawOperations(ctx context.Context, batch []store.RawOperationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range batch {
		k := keyOf(r)
		if _, exists := s.raw[k]; exists {
			continue
		}
		s.raw[k] = r
		s.rawOrder = append(s.rawOrder, k)
		if r.TxID != "" {
			s.byTxID[r.TxID] = append(s.byTxID[r.TxID], k)
		}
		s.byOpID[r.OperationID()] = k
	}
	s.logger.Debugf("store/memory: inserted %d raw operations", len(batch))
	return nil
}

// GetRawOperationsUnindexed returns unindexed rows in total order, capped at
// store.UnindexedFetchCap.
func (s *Store) GetRawOperationsUnindexed(ctx context.Context) ([]store.RawOperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.RawOperationRecord, 0, store.UnindexedFetchCap)
	for _, k := range s.rawOrder {
		r := s.raw[k]
		if r.IsIndexed {
			continue
		}
		out = append(out, r)
		if len(out) == store.UnindexedFetchCap {
			break
		}
	}
	return out, nil
}

// InsertIndexedOperations writes every row of batch and flips is_indexed for
// the raw operations they reference, under a single lock. A row whose raw
// operation is not present is skipped; the rest of batch is still applied.
func (s *Store) InsertIndexedOperations(ctx context.Context, batch []store.IndexedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range batch {
		k := rawKey{blockNo: rec.BlockNo, absn: rec.Absn, osn: rec.Osn}
		raw, ok := s.raw[k]
		if !ok {
			continue
		}
		raw.IsIndexed = true
		s.raw[k] = raw

		switch rec.Kind {
		case store.IndexedSsi:
			s.indexDid(k, rec.Did)
		case store.IndexedVdr:
			s.indexDid(k, rec.Did)
			s.vdrByInit[rec.InitOperationHash] = rec.Did
		case store.IndexedIgnored:
		}
	}
	s.logger.Debugf("store/memory: indexed %d operations", len(batch))
	return nil
}

func (s *Store) indexDid(k rawKey, did store.CanonicalDid) {
	if did == "" {
		return
	}
	if _, already := s.indexedDid[k]; !already {
		s.byDid[did] = append(s.byDid[did], k)
	}
	s.indexedDid[k] = did
	for _, d := range s.allDids {
		if d == did {
			return
		}
	}
	s.allDids = append(s.allDids, did)
}

// GetRawOperationsByDid returns every raw operation indexed against did, in
// total order.
func (s *Store) GetRawOperationsByDid(ctx context.Context, did store.CanonicalDid) ([]store.RawOperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := append([]rawKey(nil), s.byDid[did]...)
	sortKeys(keys)
	out := make([]store.RawOperationRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.raw[k])
	}
	return out, nil
}

// GetRawOperationsByTxID returns every raw operation carried by transaction
// txID, paired with the DID each was indexed against.
func (s *Store) GetRawOperationsByTxID(ctx context.Context, txID string) ([]store.RawOperationWithDid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := append([]rawKey(nil), s.byTxID[txID]...)
	sortKeys(keys)
	out := make([]store.RawOperationWithDid, 0, len(keys))
	for _, k := range keys {
		out = append(out, store.RawOperationWithDid{Record: s.raw[k], Did: s.indexedDid[k]})
	}
	return out, nil
}

// GetRawOperationByOperationID looks up a single raw operation by its
// content hash.
func (s *Store) GetRawOperationByOperationID(ctx context.Context, opID prismcrypto.Digest) (*store.RawOperationWithDid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.byOpID[opID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.RawOperationWithDid{Record: s.raw[k], Did: s.indexedDid[k]}, nil
}

// GetDidByVdrEntry returns the DID that owns the storage entry whose init
// operation hash is initHash.
func (s *Store) GetDidByVdrEntry(ctx context.Context, initHash prismcrypto.Digest) (store.CanonicalDid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	did, ok := s.vdrByInit[initHash]
	if !ok {
		return "", store.ErrNotFound
	}
	return did, nil
}

// GetAllDids returns a deterministically ordered page of every DID observed
// so far.
func (s *Store) GetAllDids(ctx context.Context, page, pageSize int) (store.Paginated[store.CanonicalDid], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := append([]store.CanonicalDid(nil), s.allDids...)
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	start := page * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return store.Paginated[store.CanonicalDid]{
		Items:    all[start:end],
		Total:    len(all),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// GetLastIndexedBlock returns the slot/block of the highest-ordered indexed
// raw operation, or nil if nothing has been indexed yet.
func (s *Store) GetLastIndexedBlock(ctx context.Context) (*store.LastIndexedBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *store.RawOperationRecord
	var bestKey rawKey
	for _, k := range s.rawOrder {
		r := s.raw[k]
		if !r.IsIndexed {
			continue
		}
		if best == nil || bestKey.blockNo < k.blockNo ||
			(bestKey.blockNo == k.blockNo && bestKey.absn < k.absn) {
			cp := r
			best = &cp
			bestKey = k
		}
	}
	if best == nil {
		return nil, nil
	}
	return &store.LastIndexedBlock{Slot: best.Slot, BlockNo: best.BlockNo}, nil
}

// GetCursor returns the last persisted cursor, or nil if none has been set.
func (s *Store) GetCursor(ctx context.Context) (*store.DltCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cursor == nil {
		return nil, nil
	}
	cp := *s.cursor
	return &cp, nil
}

// SetCursor overwrites the single persisted cursor row.
func (s *Store) SetCursor(ctx context.Context, cursor store.DltCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cursor
	s.cursor = &cp
	return nil
}

func sortKeys(keys []rawKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].blockNo != keys[j].blockNo {
			return keys[i].blockNo < keys[j].blockNo
		}
		if keys[i].absn != keys[j].absn {
			return keys[i].absn < keys[j].absn
		}
		return keys[i].osn < keys[j].osn
	})
}
