package operation

import (
	"strings"

	"github.com/prism-node/prism/internal/prismcrypto"
)

// idFragmentAllowed are the characters permitted in a key or service id,
// matching the unreserved + sub-delims set RFC 3986 allows in a URI
// fragment (pct-encoding is accepted verbatim as literal '%', this service
// does not decode it).
const idFragmentAllowed = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-._~%!$&'()*+,;=:@"

func isFragmentID(s string, maxLen uint32) bool {
	if s == "" || uint32(len(s)) > maxLen {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(idFragmentAllowed, r) {
			return false
		}
	}
	return true
}

func curveMatchesUsage(usage KeyUsage, curve Curve) bool {
	switch usage {
	case UsageMaster, UsageVdr:
		return curve == CurveSecp256k1
	default:
		return true
	}
}

func validatePublicKey(variant Variant, k PublicKey, params Parameters) error {
	if !isFragmentID(k.ID, params.MaxIDSize) {
		return fieldError(variant, "public_keys.id", "must be a non-empty URI-fragment id within the size cap: "+k.ID)
	}
	if !curveMatchesUsage(k.Usage, k.Curve) {
		return fieldError(variant, "public_keys.curve", "usage "+string(k.Usage)+" requires secp256k1")
	}
	if k.Curve == CurveSecp256k1 {
		if _, err := prismcrypto.ParsePublicKey(k.KeyBytes); err != nil {
			return fieldError(variant, "public_keys.key_bytes", "does not parse as a secp256k1 point: "+k.ID)
		}
	} else if len(k.KeyBytes) == 0 {
		return fieldError(variant, "public_keys.key_bytes", "empty key material: "+k.ID)
	}
	return nil
}

func validateService(variant Variant, s Service, params Parameters) error {
	if !isFragmentID(s.ID, params.MaxIDSize) {
		return fieldError(variant, "services.id", "must be a non-empty URI-fragment id within the size cap: "+s.ID)
	}
	if len(s.Type) == 0 {
		return fieldError(variant, "services.type", "empty type: "+s.ID)
	}
	for _, t := range s.Type {
		if t == "" || uint32(len(t)) > params.MaxServiceTypeSize {
			return fieldError(variant, "services.type", "type exceeds size cap: "+s.ID)
		}
	}
	if len(s.Endpoint) == 0 {
		return fieldError(variant, "services.endpoint", "empty endpoint: "+s.ID)
	}
	if uint32(len(s.Endpoint)) > params.MaxServiceEndpointSize {
		return fieldError(variant, "services.endpoint", "endpoint exceeds size cap: "+s.ID)
	}
	return nil
}

func validateContext(variant Variant, ctx []string) error {
	seen := make(map[string]struct{}, len(ctx))
	for _, c := range ctx {
		if _, dup := seen[c]; dup {
			return fieldError(variant, "context", "duplicate @context entry: "+c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// Validate checks op's per-variant field constraints from spec.md §4.1
// using params as the currently active protocol parameter caps. It does not
// perform any replay-time checks (signature, chain continuity, conflicts);
// those live in the replay package, since they require state.
func Validate(op Operation, params Parameters) error {
	switch v := op.(type) {
	case CreateDid:
		return validateCreateDid(v, params)
	case UpdateDid:
		return validateUpdateDid(v, params)
	case DeactivateDid:
		return validateDeactivateDid(v)
	case ProtocolVersionUpdate:
		return nil
	case CreateStorageEntry:
		return validateCreateStorageEntry(v)
	case UpdateStorageEntry:
		return validateUpdateStorageEntry(v)
	case DeactivateStorageEntry:
		return validateDeactivateStorageEntry(v)
	default:
		return fieldError(0, "operation", "unknown variant")
	}
}

func validateCreateDid(op CreateDid, params Parameters) error {
	if len(op.Data.PublicKeys) == 0 {
		return fieldError(VariantCreateDid, "data.public_keys", "must be non-empty")
	}
	if uint32(len(op.Data.PublicKeys)) > params.MaxPublicKeys {
		return fieldError(VariantCreateDid, "data.public_keys", "exceeds size cap")
	}
	if uint32(len(op.Data.Services)) > params.MaxServices {
		return fieldError(VariantCreateDid, "data.services", "exceeds size cap")
	}
	hasMaster := false
	seenKeyIDs := make(map[string]struct{})
	for _, k := range op.Data.PublicKeys {
		if err := validatePublicKey(VariantCreateDid, k, params); err != nil {
			return err
		}
		if _, dup := seenKeyIDs[k.ID]; dup {
			return fieldError(VariantCreateDid, "data.public_keys.id", "duplicate id: "+k.ID)
		}
		seenKeyIDs[k.ID] = struct{}{}
		if k.Usage == UsageMaster {
			hasMaster = true
		}
	}
	if !hasMaster {
		return fieldError(VariantCreateDid, "data.public_keys", "must contain at least one master key")
	}
	seenServiceIDs := make(map[string]struct{})
	for _, s := range op.Data.Services {
		if err := validateService(VariantCreateDid, s, params); err != nil {
			return err
		}
		if _, dup := seenServiceIDs[s.ID]; dup {
			return fieldError(VariantCreateDid, "data.services.id", "duplicate id: "+s.ID)
		}
		seenServiceIDs[s.ID] = struct{}{}
	}
	return validateContext(VariantCreateDid, op.Data.Context)
}

func validateUpdateDid(op UpdateDid, params Parameters) error {
	if op.PreviousOperationHash.IsZero() {
		return fieldError(VariantUpdateDid, "previous_operation_hash", "must be a valid 32-byte digest")
	}
	if len(op.Actions) == 0 {
		return fieldError(VariantUpdateDid, "actions", "must be non-empty")
	}
	for _, a := range op.Actions {
		if err := validateAction(a, params); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(a UpdateAction, params Parameters) error {
	switch a.Kind {
	case ActionAddKey:
		return validatePublicKey(VariantUpdateDid, a.Key, params)
	case ActionRemoveKey:
		if !isFragmentID(a.KeyID, params.MaxIDSize) {
			return fieldError(VariantUpdateDid, "actions.remove_key.id", "invalid key id")
		}
	case ActionAddService:
		return validateService(VariantUpdateDid, a.Service, params)
	case ActionRemoveService:
		if !isFragmentID(a.ServiceID, params.MaxIDSize) {
			return fieldError(VariantUpdateDid, "actions.remove_service.id", "invalid service id")
		}
	case ActionUpdateService:
		if !isFragmentID(a.UpdateServiceID, params.MaxIDSize) {
			return fieldError(VariantUpdateDid, "actions.update_service.id", "invalid service id")
		}
		if !a.HasNewType && !a.HasNewEndpoint {
			return fieldError(VariantUpdateDid, "actions.update_service", "must set a new type or endpoint")
		}
		if a.HasNewType {
			for _, t := range a.NewType {
				if t == "" || uint32(len(t)) > params.MaxServiceTypeSize {
					return fieldError(VariantUpdateDid, "actions.update_service.type", "type exceeds size cap")
				}
			}
		}
		if a.HasNewEndpoint && uint32(len(a.NewEndpoint)) > params.MaxServiceEndpointSize {
			return fieldError(VariantUpdateDid, "actions.update_service.endpoint", "endpoint exceeds size cap")
		}
	case ActionPatchContext:
		return validateContext(VariantUpdateDid, a.Context)
	default:
		return fieldError(VariantUpdateDid, "actions.kind", "unknown action kind")
	}
	return nil
}

func validateDeactivateDid(op DeactivateDid) error {
	if op.PreviousOperationHash.IsZero() {
		return fieldError(VariantDeactivateDid, "previous_operation_hash", "must be a valid 32-byte digest")
	}
	if op.ID == "" {
		return fieldError(VariantDeactivateDid, "id", "DID reference required")
	}
	return nil
}

func validateCreateStorageEntry(op CreateStorageEntry) error {
	if op.ID == "" {
		return fieldError(VariantCreateStorageEntry, "id", "DID reference required")
	}
	return validateStorageData(VariantCreateStorageEntry, op.Data)
}

func validateUpdateStorageEntry(op UpdateStorageEntry) error {
	if op.PreviousOperationHash.IsZero() {
		return fieldError(VariantUpdateStorageEntry, "previous_operation_hash", "must be a valid 32-byte digest")
	}
	return validateStorageData(VariantUpdateStorageEntry, op.Data)
}

func validateDeactivateStorageEntry(op DeactivateStorageEntry) error {
	if op.PreviousOperationHash.IsZero() {
		return fieldError(VariantDeactivateStorageEntry, "previous_operation_hash", "must be a valid 32-byte digest")
	}
	return nil
}

func validateStorageData(variant Variant, d StorageData) error {
	if d.IsJSON {
		if len(d.JSON) == 0 {
			return fieldError(variant, "data", "storage data required")
		}
		return nil
	}
	if len(d.Bytes) == 0 {
		return fieldError(variant, "data", "storage data required")
	}
	return nil
}
