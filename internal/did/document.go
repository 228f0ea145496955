package did

import (
	"encoding/base64"
	"encoding/json"

	"github.com/prism-node/prism/internal/operation"
)

// baseContext is prefixed onto every produced DID Document's @context list.
const baseContext = "https://www.w3.org/ns/did/v1"

// VerificationMethod is a single entry in a DID Document's
// verificationMethod array, expressed as a JWK per the DID Core data model.
type VerificationMethod struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Controller   string         `json:"controller"`
	PublicKeyJwk map[string]any `json:"publicKeyJwk"`
}

// ServiceEntry is a single entry in a DID Document's service array.
type ServiceEntry struct {
	ID              string          `json:"id"`
	Type            json.RawMessage `json:"type"`
	ServiceEndpoint json.RawMessage `json:"serviceEndpoint"`
}

// Document is the W3C DID Document produced by projecting a finalized,
// non-deactivated DID state.
type Document struct {
	Context              []string             `json:"@context"`
	ID                   string               `json:"id"`
	VerificationMethod   []VerificationMethod `json:"verificationMethod"`
	Authentication       []string             `json:"authentication,omitempty"`
	AssertionMethod      []string             `json:"assertionMethod,omitempty"`
	KeyAgreement         []string             `json:"keyAgreement,omitempty"`
	CapabilityInvocation []string             `json:"capabilityInvocation,omitempty"`
	CapabilityDelegation []string             `json:"capabilityDelegation,omitempty"`
	Service              []ServiceEntry       `json:"service,omitempty"`
}

// DocumentInput is the subset of replayed DID state document projection
// needs: only non-revoked keys/services, in their stable insertion order.
// Passing this narrow shape (rather than the full replay state) keeps this
// package independent of the replay package.
type DocumentInput struct {
	ID         string
	Context    []string
	PublicKeys []operation.PublicKey
	Services   []operation.Service
}

// BuildDocument deterministically projects a DID's current non-revoked
// key/service set into a W3C DID Document. Master and Vdr keys are protocol
// control keys, never exposed as verification methods. Relationship arrays
// are derived from each key's declared usage.
func BuildDocument(in DocumentInput) Document {
	doc := Document{
		Context: append([]string{baseContext}, in.Context...),
		ID:      in.ID,
	}

	for _, k := range in.PublicKeys {
		if k.Usage == operation.UsageMaster || k.Usage == operation.UsageVdr {
			continue
		}
		vmID := in.ID + "#" + k.ID
		doc.VerificationMethod = append(doc.VerificationMethod, VerificationMethod{
			ID:           vmID,
			Type:         "JsonWebKey2020",
			Controller:   in.ID,
			PublicKeyJwk: jwkFor(k),
		})
		switch k.Usage {
		case operation.UsageAuthentication:
			doc.Authentication = append(doc.Authentication, vmID)
		case operation.UsageIssuing:
			doc.AssertionMethod = append(doc.AssertionMethod, vmID)
		case operation.UsageKeyAgreement:
			doc.KeyAgreement = append(doc.KeyAgreement, vmID)
		case operation.UsageCapabilityInvocation:
			doc.CapabilityInvocation = append(doc.CapabilityInvocation, vmID)
		case operation.UsageCapabilityDelegation:
			doc.CapabilityDelegation = append(doc.CapabilityDelegation, vmID)
		}
	}

	for _, s := range in.Services {
		typ, _ := serviceTypeJSON(s.Type)
		doc.Service = append(doc.Service, ServiceEntry{
			ID:              in.ID + "#" + s.ID,
			Type:            typ,
			ServiceEndpoint: json.RawMessage(s.Endpoint),
		})
	}

	return doc
}

func serviceTypeJSON(types []string) (json.RawMessage, error) {
	if len(types) == 1 {
		return json.Marshal(types[0])
	}
	return json.Marshal(types)
}

func jwkFor(k operation.PublicKey) map[string]any {
	jwk := map[string]any{
		"kty": "EC",
		"crv": "secp256k1",
	}
	if k.Curve != operation.CurveSecp256k1 {
		jwk["kty"] = "OKP"
		jwk["crv"] = "X25519"
		jwk["x"] = base64.RawURLEncoding.EncodeToString(k.KeyBytes)
		return jwk
	}
	// Compressed SEC1 point: 0x02/0x03 prefix + 32-byte X. Only X is
	// recoverable without decompressing the point, so Y is omitted rather
	// than fabricated; most relying parties recompute it from crv+x.
	if len(k.KeyBytes) == 33 {
		jwk["x"] = base64.RawURLEncoding.EncodeToString(k.KeyBytes[1:])
	}
	return jwk
}
