package replay

import (
	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/prismcrypto"
)

// applyCreate initializes working state from a CreateDid, setting added_at
// on every inserted key and service to the create's own metadata.
func applyCreate(s *workingState, op operation.CreateDid, meta Metadata) {
	for _, k := range op.Data.PublicKeys {
		s.publicKeys.set(k.ID, Revocable[operation.PublicKey]{Value: k, AddedAt: meta})
	}
	for _, svc := range op.Data.Services {
		s.services.set(svc.ID, Revocable[operation.Service]{Value: svc, AddedAt: meta})
	}
	s.context = append([]string(nil), op.Data.Context...)
	s.createdAt = meta
	s.updatedAt = meta
}

// applyUpdate applies an UpdateDid's action list against a clone of s,
// all-or-nothing: if any action fails, or the resulting key/service counts
// violate the active caps, the clone is discarded and s is returned to the
// caller unchanged. meta is this operation's own metadata, stamped onto
// every key/service the update adds or revokes.
func applyUpdate(s *workingState, op operation.UpdateDid, meta Metadata) error {
	staged := s.clone()
	for _, action := range op.Actions {
		if err := applyAction(staged, action, meta); err != nil {
			return err
		}
	}
	if err := staged.processor.CheckCaps(staged); err != nil {
		return err
	}
	*s = *staged
	return nil
}

func applyAction(s *workingState, a operation.UpdateAction, meta Metadata) error {
	switch a.Kind {
	case operation.ActionAddKey:
		if existing, ok := s.publicKeys.get(a.Key.ID); ok && !existing.isRevoked() {
			return ErrAddPublicKeyWithExistingID
		}
		s.publicKeys.set(a.Key.ID, Revocable[operation.PublicKey]{Value: a.Key, AddedAt: meta})
	case operation.ActionRemoveKey:
		r, ok := s.publicKeys.get(a.KeyID)
		if !ok {
			return ErrRevokePublicKeyNotExists
		}
		if r.isRevoked() {
			return ErrRevokePublicKeyAlreadyRevoked
		}
		r.revoke(meta)
		s.publicKeys.set(a.KeyID, r)
	case operation.ActionAddService:
		if existing, ok := s.services.get(a.Service.ID); ok && !existing.isRevoked() {
			return ErrAddServiceWithExistingID
		}
		s.services.set(a.Service.ID, Revocable[operation.Service]{Value: a.Service, AddedAt: meta})
	case operation.ActionRemoveService:
		r, ok := s.services.get(a.ServiceID)
		if !ok {
			return ErrRevokeServiceNotExists
		}
		if r.isRevoked() {
			return ErrRevokeServiceAlreadyRevoked
		}
		r.revoke(meta)
		s.services.set(a.ServiceID, r)
	case operation.ActionUpdateService:
		r, ok := s.services.get(a.UpdateServiceID)
		if !ok {
			return ErrUpdateServiceNotExists
		}
		if r.isRevoked() {
			return ErrUpdateServiceIsRevoked
		}
		if a.HasNewType {
			r.Value.Type = a.NewType
		}
		if a.HasNewEndpoint {
			r.Value.Endpoint = a.NewEndpoint
		}
		s.services.set(a.UpdateServiceID, r)
	case operation.ActionPatchContext:
		s.context = append([]string(nil), a.Context...)
	default:
		return ErrNotACreateDid
	}
	return nil
}

// applyDeactivate revokes every non-revoked key and service. The finalized
// state exposes deactivation via an empty non-revoked key/service set
// combined with a non-empty key history (see workingState.isDeactivated).
func applyDeactivate(s *workingState, meta Metadata) {
	s.publicKeys.each(func(id string, r Revocable[operation.PublicKey]) {
		if !r.isRevoked() {
			r.revoke(meta)
			s.publicKeys.set(id, r)
		}
	})
	s.services.each(func(id string, r Revocable[operation.Service]) {
		if !r.isRevoked() {
			r.revoke(meta)
			s.services.set(id, r)
		}
	})
}

// applyProtocolVersionUpdate swaps the active parameter set and version
// processor for subsequent operations; prior operations are not
// re-validated. An update naming any version other than 1 is accepted but
// leaves the active parameters and processor as they are.
func applyProtocolVersionUpdate(s *workingState, op operation.ProtocolVersionUpdate) {
	if op.Version != 1 {
		return
	}
	s.params = op.Params
	s.processor = processorFor(op.Version)
}

func applyCreateStorageEntry(s *workingState, op operation.CreateStorageEntry, opHash prismcrypto.Digest) error {
	key := opHash.Hex()
	if _, exists := s.storage.get(key); exists {
		return ErrAddStorageEntryWithExistingHash
	}
	s.storage.set(key, Revocable[storageEntry]{
		Value: storageEntry{initHash: opHash, prevHash: opHash, data: op.Data},
	})
	return nil
}

// applyUpdateStorageEntry locates the entry whose current prev_hash equals
// operation.previous_operation_hash, by linear scan of the (small,
// per-DID) storage map: its key is the entry's init hash, which is stable,
// while its prev_hash field is what advances on each update.
func applyUpdateStorageEntry(s *workingState, op operation.UpdateStorageEntry, opHash prismcrypto.Digest) error {
	initKey, entry, ok := findStorageByPrevHash(s, op.PreviousOperationHash)
	if !ok {
		return ErrUpdateStorageEntryNotExists
	}
	if entry.isRevoked() {
		return ErrUpdateStorageEntryAlreadyRevoked
	}
	entry.Value.data = op.Data
	entry.Value.prevHash = opHash
	s.storage.set(initKey, entry)
	return nil
}

func applyDeactivateStorageEntry(s *workingState, op operation.DeactivateStorageEntry, meta Metadata) error {
	initKey, entry, ok := findStorageByPrevHash(s, op.PreviousOperationHash)
	if !ok {
		return ErrRevokeStorageEntryNotExists
	}
	if entry.isRevoked() {
		return ErrRevokeStorageEntryAlreadyRevoked
	}
	entry.revoke(meta)
	s.storage.set(initKey, entry)
	return nil
}

func findStorageByPrevHash(s *workingState, prevHash prismcrypto.Digest) (key string, entry Revocable[storageEntry], ok bool) {
	s.storage.each(func(k string, r Revocable[storageEntry]) {
		if ok || r.Value.prevHash != prevHash {
			return
		}
		key, entry, ok = k, r, true
	})
	return
}
