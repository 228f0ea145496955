// Package httpapi is the thin HTTP adapter of spec.md §6: it exposes DID
// resolution, legacy DID data, indexer progress, VDR entry retrieval, and
// signed-operation submission over five routes, plus GET /metrics for the
// ingestion metrics, translating internal/errs
// classifications into the status codes of spec.md §7. It holds no
// business logic of its own; every handler delegates to resolver, store, or
// submit.
package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/prism-node/prism/internal/did"
	"github.com/prism-node/prism/internal/errs"
	"github.com/prism-node/prism/internal/metrics"
	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/resolver"
	"github.com/prism-node/prism/internal/store"
	"github.com/prism-node/prism/internal/submit"
)

// Server wires a resolver, a store, and a submission sink into a chi router.
type Server struct {
	resolver *resolver.Resolver
	store    store.Repository
	sink     *submit.Sink
	stats    *metrics.Ingestion
	logger   *logrus.Logger
	router   chi.Router
}

// New constructs a Server and builds its route table. stats may be nil, in
// which case GET /metrics serves a fresh metrics.Ingestion whose metrics
// stay at zero.
func New(res *resolver.Resolver, repo store.Repository, sink *submit.Sink, stats *metrics.Ingestion, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if stats == nil {
		stats = metrics.NewIngestion()
	}
	s := &Server{resolver: res, store: repo, sink: sink, stats: stats, logger: logger}
	s.router = s.routes()
	return s
}

// Router returns the built chi.Router, ready to be passed to http.Server.
func (s *Server) Router() chi.Router { return s.router }

// ServeHTTP makes Server itself usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/dids/{did}", s.handleResolve)
	r.Get("/dids/{did}/data", s.handleDidData)
	r.Get("/indexer/stats", s.handleIndexerStats)
	r.Get("/vdr/{entryHash}", s.handleVdrEntry)
	r.Post("/submissions/signed-operations", s.handleSubmit)
	r.Handle("/metrics", promhttp.HandlerFor(s.stats.Registry(), promhttp.HandlerOpts{}))

	return r
}

// didResolutionResult is the resolveRepresentation envelope the DID
// resolution HTTP binding specifies: didResolutionMetadata is always an
// empty object here, since this resolver has no content-negotiation
// failures of its own to report through it.
type didResolutionResult struct {
	Context               string         `json:"@context,omitempty"`
	DidResolutionMetadata map[string]any `json:"didResolutionMetadata"`
	DidDocument           *did.Document  `json:"didDocument"`
	DidDocumentMetadata   documentMeta   `json:"didDocumentMetadata"`
}

type documentMeta struct {
	Deactivated bool   `json:"deactivated,omitempty"`
	Created     string `json:"created,omitempty"`
	Updated     string `json:"updated,omitempty"`
	CanonicalID string `json:"canonicalId,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	didParam := chi.URLParam(r, "did")

	result, err := s.resolver.Resolve(r.Context(), didParam)
	if err != nil {
		s.writeError(w, err)
		return
	}

	meta := documentMeta{
		Deactivated: result.Metadata.Deactivated,
		CanonicalID: result.Metadata.CanonicalID,
	}
	if !result.Metadata.Created.IsZero() {
		meta.Created = result.Metadata.Created.UTC().Format("2006-01-02T15:04:05Z")
	}
	if !result.Metadata.Updated.IsZero() {
		meta.Updated = result.Metadata.Updated.UTC().Format("2006-01-02T15:04:05Z")
	}

	status := http.StatusOK
	if result.Metadata.Deactivated {
		status = http.StatusGone
	}

	if acceptsBareDocument(r.Header.Get("Accept")) {
		w.Header().Set("Content-Type", "application/did+json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result.Document)
		return
	}

	w.Header().Set("Content-Type", "application/did-resolution+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(didResolutionResult{
		DidResolutionMetadata: map[string]any{},
		DidDocument:           result.Document,
		DidDocumentMetadata:   meta,
	})
}

// acceptsBareDocument reports whether the Accept header asks for the bare
// did+json representation rather than the full resolution-result envelope.
func acceptsBareDocument(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if mediaType == "application/did+json" || mediaType == "application/did" {
			return true
		}
	}
	return false
}

// legacyDidData is a substitute for the original hex-encoded protobuf
// DIDData message: no protobuf schema exists in this repository's
// dependency set, so the full resolved key/service/context triple is
// RLP-encoded instead. See DESIGN.md for the rationale.
type legacyDidData struct {
	ID         string
	Context    []string
	PublicKeys []legacyPublicKey
	Services   []legacyService
}

type legacyPublicKey struct {
	ID       string
	Usage    string
	Curve    string
	KeyBytes []byte
}

type legacyService struct {
	ID       string
	Type     []string
	Endpoint []byte
}

func (s *Server) handleDidData(w http.ResponseWriter, r *http.Request) {
	didParam := chi.URLParam(r, "did")

	state, err := s.resolver.ResolveState(r.Context(), didParam)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := legacyDidData{ID: state.Did, Context: state.Context}
	for _, k := range state.PublicKeys {
		out.PublicKeys = append(out.PublicKeys, legacyPublicKey{
			ID:       k.ID,
			Usage:    string(k.Usage),
			Curve:    string(k.Curve),
			KeyBytes: k.KeyBytes,
		})
	}
	for _, svc := range state.Services {
		out.Services = append(out.Services, legacyService{
			ID:       svc.ID,
			Type:     svc.Type,
			Endpoint: []byte(svc.Endpoint),
		})
	}

	encoded, err := rlp.EncodeToBytes(out)
	if err != nil {
		s.writeError(w, errs.Wrap(errs.Internal, err))
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(hex.EncodeToString(encoded)))
}

type indexerStatsResponse struct {
	LastPrismSlotNumber  uint64 `json:"last_prism_slot_number"`
	LastPrismBlockNumber uint64 `json:"last_prism_block_number"`
}

func (s *Server) handleIndexerStats(w http.ResponseWriter, r *http.Request) {
	last, err := s.store.GetLastIndexedBlock(r.Context())
	if err != nil {
		s.writeError(w, errs.Wrap(errs.Internal, err))
		return
	}
	resp := indexerStatsResponse{}
	if last != nil {
		resp.LastPrismSlotNumber = last.Slot
		resp.LastPrismBlockNumber = last.BlockNo
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVdrEntry(w http.ResponseWriter, r *http.Request) {
	entryHash := chi.URLParam(r, "entryHash")

	data, err := s.resolver.ResolveVdr(r.Context(), entryHash)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type signedOperationDTO struct {
	SignedWith string `json:"signedWith"`
	Signature  string `json:"signature"`
	OpBytes    string `json:"operation"`
}

type submitRequest struct {
	SignedOperations []signedOperationDTO `json:"signedOperations"`
}

type submitResponse struct {
	TxID          string   `json:"tx_id"`
	OperationIDs  []string `json:"operation_ids"`
	CorrelationID string   `json:"correlation_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.Wrap(errs.BadRequest, err))
		return
	}

	ops := make([]operation.SignedOperation, 0, len(req.SignedOperations))
	for i, dto := range req.SignedOperations {
		opBytes, err := hex.DecodeString(strings.TrimPrefix(dto.OpBytes, "0x"))
		if err != nil {
			s.writeError(w, errs.Wrapf(errs.BadRequest, err, "decode operation %d", i))
			return
		}
		sig, err := hex.DecodeString(strings.TrimPrefix(dto.Signature, "0x"))
		if err != nil {
			s.writeError(w, errs.Wrapf(errs.BadRequest, err, "decode signature %d", i))
			return
		}
		op, err := operation.Decode(opBytes)
		if err != nil {
			s.writeError(w, errs.Wrapf(errs.BadRequest, err, "decode operation %d", i))
			return
		}
		ops = append(ops, operation.SignedOperation{SignedWith: dto.SignedWith, Signature: sig, Operation: op})
	}

	result, err := s.sink.Submit(r.Context(), ops)
	if err != nil {
		s.writeError(w, err)
		return
	}

	opIDs := make([]string, len(result.OperationIDs))
	for i, id := range result.OperationIDs {
		opIDs[i] = id.Hex()
	}
	writeJSON(w, http.StatusOK, submitResponse{TxID: result.TxID, OperationIDs: opIDs, CorrelationID: result.CorrelationID})
}

// statusFor maps an errs.Kind onto the HTTP status spec.md §7 assigns it.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.BadRequest:
		return http.StatusBadRequest
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Deactivated:
		return http.StatusGone
	case errs.MethodNotSupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errs.Classify(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("httpapi: internal error")
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
