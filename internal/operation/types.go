// Package operation defines the typed PRISM operation model: the seven
// operation variants, their fields, and the canonical wire encoding used to
// compute operation hashes and DID suffixes.
package operation

import (
	"encoding/json"

	"github.com/prism-node/prism/internal/prismcrypto"
)

// KeyUsage enumerates the purposes a PublicKey may be used for.
type KeyUsage string

const (
	UsageMaster               KeyUsage = "master"
	UsageIssuing              KeyUsage = "issuing"
	UsageKeyAgreement         KeyUsage = "keyAgreement"
	UsageAuthentication       KeyUsage = "authentication"
	UsageCapabilityInvocation KeyUsage = "capabilityInvocation"
	UsageCapabilityDelegation KeyUsage = "capabilityDelegation"
	UsageRevocation           KeyUsage = "revocation"
	UsageVdr                  KeyUsage = "vdr"
)

// Curve enumerates the elliptic curve a public key is defined over.
type Curve string

const (
	CurveSecp256k1 Curve = "secp256k1"
	// CurveOther is used for curves the protocol carries opaquely (e.g.
	// Ed25519/X25519 key-agreement material); KeyBytes is not required to
	// parse as a point on any particular named curve in that case.
	CurveOther Curve = "other"
)

// PublicKey is a single key entry carried by CreateDid or AddKey.
type PublicKey struct {
	ID       string
	Usage    KeyUsage
	Curve    Curve
	KeyBytes []byte
}

// ServiceEndpoint is the raw JSON form of a service's endpoint, which may be
// a URI string, a JSON object, or a list of either per the DID Core data
// model. Callers decode it on demand rather than at parse time.
type ServiceEndpoint json.RawMessage

// Service is a single service entry carried by CreateDid or AddService.
type Service struct {
	ID       string
	Type     []string // a single-element slice represents a scalar type
	Endpoint ServiceEndpoint
}

// StorageData is the opaque payload carried by VDR storage operations: it is
// either raw bytes or a JSON document, never both.
type StorageData struct {
	IsJSON bool
	Bytes  []byte          // set when !IsJSON
	JSON   json.RawMessage // set when IsJSON
}

// DidData is the content of a CreateDid operation: the initial key and
// service set plus any non-default @context entries.
type DidData struct {
	PublicKeys []PublicKey
	Services   []Service
	Context    []string
}

// Operation is the sum type of the seven PRISM operation variants. Only
// types defined in this package implement it.
type Operation interface {
	isOperation()
	// Variant returns the wire discriminant for this operation.
	Variant() Variant
}

// Variant identifies which of the seven operation kinds a decoded Operation
// is, used both on the wire and for dispatch in the replay state machine.
type Variant byte

const (
	VariantCreateDid Variant = iota + 1
	VariantUpdateDid
	VariantDeactivateDid
	VariantProtocolVersionUpdate
	VariantCreateStorageEntry
	VariantUpdateStorageEntry
	VariantDeactivateStorageEntry
)

// CreateDid is the initial operation establishing a DID's identity.
type CreateDid struct {
	Data DidData
}

func (CreateDid) isOperation()     {}
func (CreateDid) Variant() Variant { return VariantCreateDid }

// UpdateActionKind discriminates the UpdateDid action union.
type UpdateActionKind byte

const (
	ActionAddKey UpdateActionKind = iota + 1
	ActionRemoveKey
	ActionAddService
	ActionRemoveService
	ActionUpdateService
	ActionPatchContext
)

// UpdateAction is a single action within an UpdateDid operation's action
// list. Exactly the fields relevant to Kind are populated.
type UpdateAction struct {
	Kind UpdateActionKind

	// ActionAddKey
	Key PublicKey

	// ActionRemoveKey
	KeyID string

	// ActionAddService
	Service Service

	// ActionRemoveService
	ServiceID string

	// ActionUpdateService: HasNewType/HasNewEndpoint distinguish "replace
	// with this value" from "leave unchanged", since RLP has no native
	// optional-field concept.
	UpdateServiceID string
	HasNewType      bool
	NewType         []string
	HasNewEndpoint  bool
	NewEndpoint     ServiceEndpoint

	// ActionPatchContext
	Context []string
}

// UpdateDid mutates an existing DID's key/service/context set.
type UpdateDid struct {
	ID                    string // referenced DID suffix (hex)
	PreviousOperationHash prismcrypto.Digest
	Actions               []UpdateAction
}

func (UpdateDid) isOperation()     {}
func (UpdateDid) Variant() Variant { return VariantUpdateDid }

// DeactivateDid revokes all of a DID's keys and services, ending its
// ability to accept further operations.
type DeactivateDid struct {
	ID                    string
	PreviousOperationHash prismcrypto.Digest
}

func (DeactivateDid) isOperation()     {}
func (DeactivateDid) Variant() Variant { return VariantDeactivateDid }

// Parameters are the v1 protocol parameter caps referenced by spec.md
// invariant 7. Fields are unsigned so that ProtocolVersionUpdate, which
// embeds Parameters, is RLP-serializable: rlp rejects signed int types.
type Parameters struct {
	MaxServices            uint32
	MaxPublicKeys          uint32
	MaxIDSize              uint32
	MaxServiceTypeSize     uint32
	MaxServiceEndpointSize uint32
}

// DefaultParameters are the caps in effect before any ProtocolVersionUpdate
// is applied.
var DefaultParameters = Parameters{
	MaxServices:            50,
	MaxPublicKeys:          50,
	MaxIDSize:              50,
	MaxServiceTypeSize:     100,
	MaxServiceEndpointSize: 300,
}

// ProtocolVersionUpdate swaps the parameter set used for subsequent cap
// checks during replay. Versions beyond v1 are carried opaquely: an
// unrecognized version does not change the active parameters.
type ProtocolVersionUpdate struct {
	ProposerDID string
	Version     uint32
	Params      Parameters
}

func (ProtocolVersionUpdate) isOperation()     {}
func (ProtocolVersionUpdate) Variant() Variant { return VariantProtocolVersionUpdate }

// CreateStorageEntry anchors a new VDR entry to a DID.
type CreateStorageEntry struct {
	ID   string // owning DID suffix (hex)
	Data StorageData
}

func (CreateStorageEntry) isOperation()     {}
func (CreateStorageEntry) Variant() Variant { return VariantCreateStorageEntry }

// UpdateStorageEntry replaces the data of an existing, unrevoked VDR entry.
type UpdateStorageEntry struct {
	PreviousOperationHash prismcrypto.Digest
	Data                  StorageData
}

func (UpdateStorageEntry) isOperation()     {}
func (UpdateStorageEntry) Variant() Variant { return VariantUpdateStorageEntry }

// DeactivateStorageEntry revokes an existing VDR entry.
type DeactivateStorageEntry struct {
	PreviousOperationHash prismcrypto.Digest
}

func (DeactivateStorageEntry) isOperation()     {}
func (DeactivateStorageEntry) Variant() Variant { return VariantDeactivateStorageEntry }

// SignedOperation pairs an Operation with the key id and signature that
// authorize it.
type SignedOperation struct {
	SignedWith string
	Signature  []byte
	Operation  Operation
}
