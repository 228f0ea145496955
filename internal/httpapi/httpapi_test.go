package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prism-node/prism/internal/did"
	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/resolver"
	"github.com/prism-node/prism/internal/store"
	"github.com/prism-node/prism/internal/store/memory"
	"github.com/prism-node/prism/internal/submit"
)

type stubLedgerClient struct {
	lastMetadata []byte
	txID         string
}

func (c *stubLedgerClient) SubmitTransaction(ctx context.Context, metadataJSON []byte) (string, error) {
	c.lastMetadata = metadataJSON
	return c.txID, nil
}

func newTestServer(t *testing.T, repo store.Repository) (*Server, *stubLedgerClient) {
	t.Helper()
	res, err := resolver.New(repo, 16, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	client := &stubLedgerClient{txID: "txABC"}
	sink := submit.NewSink(client, nil)
	return New(res, repo, sink, nil, nil), client
}

func TestHandleResolveUnpublishedLongForm(t *testing.T) {
	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{
		{ID: "master0", Usage: operation.UsageMaster, Curve: operation.CurveSecp256k1, KeyBytes: []byte{0x02, 1, 2, 3}},
	}}}
	d, err := did.LongForm(create)
	if err != nil {
		t.Fatalf("long form: %v", err)
	}

	repo := memory.New(nil)
	srv, _ := newTestServer(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/dids/"+d.String(), nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body didResolutionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.DidDocument == nil {
		t.Fatal("expected a did document")
	}
}

func TestHandleResolveUnknownDidReturns404(t *testing.T) {
	repo := memory.New(nil)
	srv, _ := newTestServer(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/dids/did:prism:"+strings.Repeat("00", 32), nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleResolveBadDidReturns400(t *testing.T) {
	repo := memory.New(nil)
	srv, _ := newTestServer(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/dids/not-a-did", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleResolveUnsupportedMethodReturns501(t *testing.T) {
	repo := memory.New(nil)
	srv, _ := newTestServer(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/dids/did:key:z6Mk", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestHandleDidDataReturnsHexPayload(t *testing.T) {
	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{
		{ID: "master0", Usage: operation.UsageMaster, Curve: operation.CurveSecp256k1, KeyBytes: []byte{0x02, 1, 2, 3}},
	}}}
	d, err := did.LongForm(create)
	if err != nil {
		t.Fatalf("long form: %v", err)
	}

	repo := memory.New(nil)
	srv, _ := newTestServer(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/dids/"+d.String()+"/data", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := hex.DecodeString(rec.Body.String()); err != nil {
		t.Fatalf("expected hex body, got %q: %v", rec.Body.String(), err)
	}
}

func TestHandleIndexerStatsEmptyStore(t *testing.T) {
	repo := memory.New(nil)
	srv, _ := newTestServer(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/indexer/stats", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats indexerStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandleSubmitRoundTrips(t *testing.T) {
	repo := memory.New(nil)
	srv, client := newTestServer(t, repo)

	create := operation.CreateDid{Data: operation.DidData{PublicKeys: []operation.PublicKey{
		{ID: "master0", Usage: operation.UsageMaster, Curve: operation.CurveSecp256k1, KeyBytes: []byte{0x02, 1, 2, 3}},
	}}}
	opBytes, err := operation.Encode(create)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	body, err := json.Marshal(submitRequest{SignedOperations: []signedOperationDTO{
		{SignedWith: "master0", Signature: "0x" + hex.EncodeToString([]byte("sig")), OpBytes: "0x" + hex.EncodeToString(opBytes)},
	}})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/submissions/signed-operations", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TxID != "txABC" {
		t.Fatalf("unexpected tx id: %s", resp.TxID)
	}
	if len(resp.OperationIDs) != 1 {
		t.Fatalf("expected one operation id, got %d", len(resp.OperationIDs))
	}
	if resp.CorrelationID == "" {
		t.Fatal("expected a non-empty correlation id")
	}
	if len(client.lastMetadata) == 0 {
		t.Fatal("expected the ledger client to receive metadata")
	}
}

func TestHandleSubmitRejectsEmptyBatch(t *testing.T) {
	repo := memory.New(nil)
	srv, _ := newTestServer(t, repo)

	body, _ := json.Marshal(submitRequest{})
	req := httptest.NewRequest(http.MethodPost, "/submissions/signed-operations", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
