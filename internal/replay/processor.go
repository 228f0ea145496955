package replay

// VersionProcessor implements the capability set a protocol version exposes:
// create, update, deactivate, protocol_update and the storage_* operations.
// ProtocolVersionUpdate swaps the active processor reference for subsequent
// operations in the same replay; it is never applied retroactively.
type VersionProcessor interface {
	// CheckCaps re-validates the post-mutation parameter caps (§4.2.3 step
	// 4): non-revoked key/service counts against the active Parameters.
	CheckCaps(s *workingState) error
}

// V1 is the only protocol version this implementation carries. A future V2
// would implement VersionProcessor with different cap-checking (or other)
// semantics and be selected by processorFor below.
type V1 struct{}

func (V1) CheckCaps(s *workingState) error {
	if s.nonRevokedMasterKeyCount() == 0 {
		return ErrAfterUpdateMissingMasterKey
	}
	if uint32(s.nonRevokedKeyCount()) > s.params.MaxPublicKeys {
		return ErrAfterUpdatePublicKeyExceedLimit
	}
	if uint32(s.nonRevokedServiceCount()) > s.params.MaxServices {
		return ErrAfterUpdateServiceExceedLimit
	}
	return nil
}

// processorFor selects the VersionProcessor implementation for a protocol
// version number. Unrecognized future versions fall back to V1, per
// spec.md's forward-compatible no-op handling of unknown versions.
func processorFor(version uint32) VersionProcessor {
	switch version {
	default:
		return V1{}
	}
}
