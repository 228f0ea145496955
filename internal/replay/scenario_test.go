package replay

import (
	"testing"

	"github.com/prism-node/prism/internal/did"
	"github.com/prism-node/prism/internal/operation"
)

// TestScenarioUnpublishedLongFormResolution is scenario 1 of spec.md §8.
func TestScenarioUnpublishedLongFormResolution(t *testing.T) {
	m0, _ := newKey(1, "master0", operation.UsageMaster)
	k1, _ := newKey(2, "k1", operation.UsageAuthentication)
	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{m0, k1}}}

	d, err := did.LongForm(create)
	if err != nil {
		t.Fatalf("LongForm: %v", err)
	}

	parsed, err := did.Parse(d.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	embedded, err := parsed.DecodeEmbeddedCreate()
	if err != nil {
		t.Fatalf("decode embedded create: %v", err)
	}

	state := ResolveUnpublished(did.Canonical(parsed.Suffix).String(), embedded)
	if state.IsPublished {
		t.Fatal("unpublished resolution must report is_published=false")
	}
	if state.IsDeactivated {
		t.Fatal("a freshly created DID is not deactivated")
	}

	doc := state.Document()
	foundAuth := false
	for _, a := range doc.Authentication {
		if a == did.Canonical(parsed.Suffix).String()+"#k1" {
			foundAuth = true
		}
	}
	if !foundAuth {
		t.Fatalf("expected k1 in authentication relationships, got %v", doc.Authentication)
	}
}

// TestScenarioPublishedCreateThenRevokeKey is scenario 2.
func TestScenarioPublishedCreateThenRevokeKey(t *testing.T) {
	m0, sign0 := newKey(1, "master0", operation.UsageMaster)
	k1, _ := newKey(2, "k1", operation.UsageAuthentication)
	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{m0, k1}}}
	signedCreate := signOp(t, "master0", sign0, create)
	suffix, _ := operation.Hash(create)

	revoke := operation.UpdateDid{
		PreviousOperationHash: suffix,
		Actions:               []operation.UpdateAction{{Kind: operation.ActionRemoveKey, KeyID: "k1"}},
	}
	signedRevoke := signOp(t, "master0", sign0, revoke)

	records := []OperationRecord{
		{Metadata: Metadata{BlockNo: 1}, Signed: signedCreate},
		{Metadata: Metadata{BlockNo: 2}, Signed: signedRevoke},
	}
	state, trace := ResolvePublished(did.Canonical(suffix).String(), records)
	if state == nil {
		t.Fatal("expected resolution to succeed")
	}
	if trace[1].Err != nil {
		t.Fatalf("expected the revoke to be accepted, got %v", trace[1].Err)
	}

	doc := state.Document()
	for _, vm := range doc.VerificationMethod {
		if vm.ID == did.Canonical(suffix).String()+"#k1" {
			t.Fatal("k1 must be absent from verificationMethod after revocation")
		}
	}
	for _, a := range doc.Authentication {
		if a == did.Canonical(suffix).String()+"#k1" {
			t.Fatal("k1 must be absent from authentication after revocation")
		}
	}
	if state.UpdatedAt.BlockNo != 2 {
		t.Fatalf("expected updated_at to reflect the revoke's block, got %+v", state.UpdatedAt)
	}
}

// TestScenarioRejectedUpdateDueToStalePrevHash is scenario 3.
func TestScenarioRejectedUpdateDueToStalePrevHash(t *testing.T) {
	m0, sign0 := newKey(1, "master0", operation.UsageMaster)
	k1, _ := newKey(2, "k1", operation.UsageAuthentication)
	k2, _ := newKey(3, "k2", operation.UsageAuthentication)
	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{m0, k1}}}
	signedCreate := signOp(t, "master0", sign0, create)
	suffix, _ := operation.Hash(create)

	revoke := operation.UpdateDid{
		PreviousOperationHash: suffix,
		Actions:               []operation.UpdateAction{{Kind: operation.ActionRemoveKey, KeyID: "k1"}},
	}
	signedRevoke := signOp(t, "master0", sign0, revoke)

	// Stale: reuses suffix as prev hash again, instead of the revoke's own
	// operation hash.
	staleAdd := operation.UpdateDid{
		PreviousOperationHash: suffix,
		Actions:               []operation.UpdateAction{{Kind: operation.ActionAddKey, Key: k2}},
	}
	signedStaleAdd := signOp(t, "master0", sign0, staleAdd)

	records := []OperationRecord{
		{Metadata: Metadata{BlockNo: 1}, Signed: signedCreate},
		{Metadata: Metadata{BlockNo: 2}, Signed: signedRevoke},
		{Metadata: Metadata{BlockNo: 3}, Signed: signedStaleAdd},
	}
	state, trace := ResolvePublished(did.Canonical(suffix).String(), records)
	if state == nil {
		t.Fatal("expected resolution to succeed overall")
	}
	if trace[2].Err != ErrUnmatchedPreviousHash {
		t.Fatalf("expected ErrUnmatchedPreviousHash, got %v", trace[2].Err)
	}
	for _, k := range state.PublicKeys {
		if k.ID == "k2" {
			t.Fatal("k2 must not have been added: the stale update should have been rejected")
		}
	}
}

// TestScenarioDeactivation is scenario 4.
func TestScenarioDeactivation(t *testing.T) {
	m0, sign0 := newKey(1, "master0", operation.UsageMaster)
	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{m0}}}
	signedCreate := signOp(t, "master0", sign0, create)
	suffix, _ := operation.Hash(create)

	deactivate := operation.DeactivateDid{ID: suffix.Hex(), PreviousOperationHash: suffix}
	signedDeactivate := signOp(t, "master0", sign0, deactivate)

	records := []OperationRecord{
		{Metadata: Metadata{BlockNo: 1}, Signed: signedCreate},
		{Metadata: Metadata{BlockNo: 2}, Signed: signedDeactivate},
	}
	state, trace := ResolvePublished(did.Canonical(suffix).String(), records)
	if state == nil {
		t.Fatal("expected resolution to succeed")
	}
	if trace[1].Err != nil {
		t.Fatalf("expected deactivate to be accepted, got %v", trace[1].Err)
	}
	if !state.IsDeactivated {
		t.Fatal("expected state to be deactivated")
	}
}

// TestScenarioVdrRoundtrip is scenario 5.
func TestScenarioVdrRoundtrip(t *testing.T) {
	m0, sign0 := newKey(1, "master0", operation.UsageMaster)
	v0, signV := newKey(9, "v0", operation.UsageVdr)
	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{m0, v0}}}
	signedCreate := signOp(t, "master0", sign0, create)
	suffix, _ := operation.Hash(create)

	createEntry := operation.CreateStorageEntry{ID: suffix.Hex(), Data: operation.StorageData{Bytes: []byte("hello")}}
	signedCreateEntry := signOp(t, "v0", signV, createEntry)
	entryHash, _ := operation.Hash(createEntry)

	updateEntry := operation.UpdateStorageEntry{PreviousOperationHash: entryHash, Data: operation.StorageData{Bytes: []byte("world")}}
	signedUpdateEntry := signOp(t, "v0", signV, updateEntry)

	records := []OperationRecord{
		{Metadata: Metadata{BlockNo: 1}, Signed: signedCreate},
		{Metadata: Metadata{BlockNo: 2}, Signed: signedCreateEntry},
		{Metadata: Metadata{BlockNo: 3}, Signed: signedUpdateEntry},
	}
	state, trace := ResolvePublished(did.Canonical(suffix).String(), records)
	if state == nil {
		t.Fatal("expected resolution to succeed")
	}
	for i, ev := range trace {
		if ev.Err != nil {
			t.Fatalf("operation %d unexpectedly failed: %v", i, ev.Err)
		}
	}

	var found *StorageEntry
	for i := range state.Storage {
		if state.Storage[i].InitHash == entryHash {
			found = &state.Storage[i]
		}
	}
	if found == nil {
		t.Fatal("expected to find the storage entry by its init hash")
	}
	if string(found.Data.Bytes) != "world" {
		t.Fatalf("expected resolve_vdr(init_hash) == %q, got %q", "world", found.Data.Bytes)
	}
}

// TestScenarioIdempotentIngestReplay is scenario 6's replay-level portion:
// applying the very same record twice must not change the resulting state
// (the store's idempotent (block_no, absn, osn) upsert, exercised at the
// store layer, is what prevents the duplicate row; this asserts that even
// if a duplicate slipped through, replay itself is a stable no-op on the
// second application, since a CreateDid after the first operation is
// rejected as an unknown operation kind before anything is applied).
func TestScenarioIdempotentIngestReplay(t *testing.T) {
	m0, sign0 := newKey(1, "master0", operation.UsageMaster)
	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{m0}}}
	signedCreate := signOp(t, "master0", sign0, create)
	suffix, _ := operation.Hash(create)

	records := []OperationRecord{
		{Metadata: Metadata{BlockNo: 1}, Signed: signedCreate},
		{Metadata: Metadata{BlockNo: 1}, Signed: signedCreate},
	}
	state, trace := ResolvePublished(did.Canonical(suffix).String(), records)
	if state == nil {
		t.Fatal("expected resolution to succeed")
	}
	if trace[1].Err == nil {
		t.Fatal("expected the duplicate create to be rejected as a second operation")
	}
	if len(state.PublicKeys) != 1 {
		t.Fatalf("expected exactly one master key, got %d", len(state.PublicKeys))
	}
}
