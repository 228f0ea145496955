package replay

import "errors"

// Signature and chain-continuity errors, checked before any variant-specific
// mutation is attempted.
var (
	ErrSignedWithKeyNotFound  = errors.New("replay: signed_with key not found")
	ErrSignedWithRevokedKey   = errors.New("replay: signed_with key is revoked")
	ErrSignedWithInvalidUsage = errors.New("replay: signing key usage does not authorize this operation")
	ErrInvalidSignature       = errors.New("replay: signature does not verify")
	ErrUnmatchedPreviousHash  = errors.New("replay: previous_operation_hash does not match current state")
	ErrNotACreateDid          = errors.New("replay: first operation is not a valid CreateDid")
	ErrUnknownOperationKind   = errors.New("replay: unrecognized operation kind")
)

// Conflict taxonomy, spec.md §4.2.5. Each failure aborts only the offending
// operation; it never propagates out of resolve_published.
var (
	ErrAddPublicKeyWithExistingID      = errors.New("replay: AddKey: id already in use")
	ErrRevokePublicKeyNotExists        = errors.New("replay: RemoveKey: no such key")
	ErrRevokePublicKeyAlreadyRevoked   = errors.New("replay: RemoveKey: key already revoked")
	ErrAddServiceWithExistingID        = errors.New("replay: AddService: id already in use")
	ErrRevokeServiceNotExists          = errors.New("replay: RemoveService: no such service")
	ErrRevokeServiceAlreadyRevoked     = errors.New("replay: RemoveService: service already revoked")
	ErrUpdateServiceNotExists          = errors.New("replay: UpdateService: no such service")
	ErrUpdateServiceIsRevoked          = errors.New("replay: UpdateService: service is revoked")
	ErrAfterUpdateMissingMasterKey     = errors.New("replay: update would leave no non-revoked master key")
	ErrAfterUpdatePublicKeyExceedLimit = errors.New("replay: update would exceed max_public_keys")
	ErrAfterUpdateServiceExceedLimit   = errors.New("replay: update would exceed max_services")

	ErrAddStorageEntryWithExistingHash  = errors.New("replay: CreateStorageEntry: init hash already in use")
	ErrUpdateStorageEntryNotExists      = errors.New("replay: UpdateStorageEntry: no entry with matching prev_hash")
	ErrUpdateStorageEntryAlreadyRevoked = errors.New("replay: UpdateStorageEntry: entry already revoked")
	ErrRevokeStorageEntryNotExists      = errors.New("replay: DeactivateStorageEntry: no entry with matching prev_hash")
	ErrRevokeStorageEntryAlreadyRevoked = errors.New("replay: DeactivateStorageEntry: entry already revoked")
)
