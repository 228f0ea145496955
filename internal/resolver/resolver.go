// Package resolver implements DID resolution (spec.md §4.4): parsing a
// did:prism URI, fetching its operations from the storage repository,
// replaying them, and projecting the result into a W3C-shaped resolution
// result. It is the only package that bridges internal/store and
// internal/replay for read access.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/prism-node/prism/internal/did"
	"github.com/prism-node/prism/internal/errs"
	"github.com/prism-node/prism/internal/prismcrypto"
	"github.com/prism-node/prism/internal/replay"
	"github.com/prism-node/prism/internal/store"
)

// ErrNotFound is returned when a canonical DID has no operations on chain.
var ErrNotFound = errs.Wrap(errs.NotFound, fmt.Errorf("resolver: DID not found"))

// DocumentMetadata is the didDocumentMetadata block of a W3C resolution
// result.
type DocumentMetadata struct {
	Deactivated bool
	Created     time.Time
	Updated     time.Time
	CanonicalID string
}

// ResolutionResult is what Resolve returns on success: the projected
// document (nil when Deactivated) plus its metadata.
type ResolutionResult struct {
	Document    *did.Document
	Metadata    DocumentMetadata
	IsPublished bool
}

// cacheKey pairs a canonical DID with the hash of the last applied
// operation, so a cache hit naturally invalidates itself once new
// operations land for that DID (the key simply stops matching).
type cacheKey struct {
	did    string
	lastOp prismcrypto.Digest
}

// Resolver wires a store.Repository into the replay state machine, caching
// recently resolved states.
type Resolver struct {
	store  store.Repository
	cache  *lru.Cache[cacheKey, replay.DidState]
	logger *logrus.Logger
}

// New constructs a Resolver backed by repo, with an LRU cache holding up to
// cacheSize recently resolved DID states.
func New(repo store.Repository, cacheSize int, logger *logrus.Logger) (*Resolver, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[cacheKey, replay.DidState](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("resolver: new cache: %w", err)
	}
	return &Resolver{store: repo, cache: cache, logger: logger}, nil
}

// Resolve implements spec.md §4.4's resolve(did_string).
func (r *Resolver) Resolve(ctx context.Context, didString string) (*ResolutionResult, error) {
	state, err := r.ResolveState(ctx, didString)
	if err != nil {
		return nil, err
	}
	return project(*state), nil
}

// ResolveState returns the raw replayed state behind a DID, for callers that
// need the full key/service set rather than the W3C-projected document (the
// legacy /dids/{did}/data adapter).
func (r *Resolver) ResolveState(ctx context.Context, didString string) (*replay.DidState, error) {
	parsed, err := did.Parse(didString)
	if err != nil {
		if errors.Is(err, did.ErrUnsupportedMethod) {
			return nil, errs.Wrap(errs.MethodNotSupported, fmt.Errorf("resolver: %w", err))
		}
		return nil, errs.Wrap(errs.BadRequest, fmt.Errorf("resolver: %w", err))
	}

	canonical := did.Canonical(parsed.Suffix).String()
	ops, err := r.store.GetRawOperationsByDid(ctx, store.CanonicalDid(canonical))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, fmt.Errorf("resolver: fetch operations: %w", err))
	}

	if len(ops) == 0 {
		if !parsed.IsLongForm() {
			return nil, ErrNotFound
		}
		create, err := parsed.DecodeEmbeddedCreate()
		if err != nil {
			return nil, errs.Wrap(errs.BadRequest, fmt.Errorf("resolver: decode embedded create: %w", err))
		}
		state := replay.ResolveUnpublished(canonical, create)
		return &state, nil
	}

	state, hit := r.resolveCached(canonical, ops)
	if !hit {
		r.logger.WithField("did", canonical).Debug("resolver: cache miss, replayed from store")
	}
	if state == nil {
		return nil, ErrNotFound
	}
	return state, nil
}

// resolveCached replays ops unless the cache already holds the result for
// this exact operation-set tail.
func (r *Resolver) resolveCached(canonical string, ops []store.RawOperationRecord) (*replay.DidState, bool) {
	last := ops[len(ops)-1]
	key := cacheKey{did: canonical, lastOp: last.OperationID()}

	if cached, ok := r.cache.Get(key); ok {
		return &cached, true
	}

	records := make([]replay.OperationRecord, 0, len(ops))
	for _, raw := range ops {
		signed, err := raw.Decode()
		if err != nil {
			r.logger.WithError(err).WithField("did", canonical).Warn("resolver: skipping undecodable raw operation")
			continue
		}
		records = append(records, replay.OperationRecord{
			Metadata: replay.Metadata{
				BlockNo:   raw.BlockNo,
				Absn:      raw.Absn,
				Osn:       raw.Osn,
				BlockTime: raw.BlockTime,
				Slot:      raw.Slot,
			},
			Signed: signed,
		})
	}

	state, _ := replay.ResolvePublished(canonical, records)
	if state == nil {
		return nil, false
	}
	r.cache.Add(key, *state)
	return state, false
}

// ResolveVdr implements spec.md §4.4's resolve_vdr(entry_hash_hex). The
// entry hash is accepted either as plain lowercase hex or, for callers
// that prefer a self-describing identifier, multibase-encoded.
func (r *Resolver) ResolveVdr(ctx context.Context, entryHashHex string) ([]byte, error) {
	initHash, err := prismcrypto.DigestFromHex(entryHashHex)
	if err != nil {
		initHash, err = prismcrypto.DigestFromMultibase(entryHashHex)
	}
	if err != nil {
		return nil, errs.Wrap(errs.BadRequest, fmt.Errorf("resolver: bad entry hash: %w", err))
	}

	owner, err := r.store.GetDidByVdrEntry(ctx, initHash)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, errs.Wrap(errs.Internal, fmt.Errorf("resolver: lookup vdr owner: %w", err))
	}

	result, err := r.Resolve(ctx, string(owner))
	if err != nil {
		return nil, err
	}
	if result.Document == nil {
		return nil, ErrNotFound
	}

	ops, err := r.store.GetRawOperationsByDid(ctx, owner)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, fmt.Errorf("resolver: fetch operations: %w", err))
	}
	state, _ := r.resolveCached(string(owner), ops)
	if state == nil {
		return nil, ErrNotFound
	}
	for _, entry := range state.Storage {
		if entry.InitHash == initHash && !entry.Data.IsJSON {
			return entry.Data.Bytes, nil
		}
	}
	return nil, ErrNotFound
}

func project(state replay.DidState) *ResolutionResult {
	meta := DocumentMetadata{
		Deactivated: state.IsDeactivated,
		Created:     state.CreatedAt.BlockTime,
		Updated:     state.UpdatedAt.BlockTime,
		CanonicalID: did.Canonical(mustSuffix(state.Did)).String(),
	}

	result := &ResolutionResult{Metadata: meta, IsPublished: state.IsPublished}
	if state.IsDeactivated {
		return result
	}
	doc := state.Document()
	result.Document = &doc
	return result
}

// mustSuffix extracts the suffix from an already-validated canonical DID
// string; it is only ever called on strings this package itself produced.
func mustSuffix(canonical string) prismcrypto.Digest {
	parsed, err := did.Parse(canonical)
	if err != nil {
		return prismcrypto.Digest{}
	}
	return parsed.Suffix
}
