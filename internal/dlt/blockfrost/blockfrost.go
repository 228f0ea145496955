// Package blockfrost implements a dlt.Source that polls the Blockfrost REST
// API for new blocks, fetching transaction metadata under label
// dlt.MetadataLabel. There is no Blockfrost Go SDK in the retrieved pack, so
// this talks to the API directly with net/http; see DESIGN.md.
package blockfrost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prism-node/prism/internal/dlt"
	"github.com/prism-node/prism/internal/store"
)

// Config configures a Blockfrost poller.
type Config struct {
	BaseURL         string // e.g. https://cardano-mainnet.blockfrost.io/api/v0
	ProjectID       string
	PollInterval    time.Duration
	ConfirmationLag uint64
	HTTPTimeout     time.Duration
	Logger          *logrus.Logger
}

// Source polls Blockfrost for confirmed blocks and their tx metadata.
type Source struct {
	cfg      Config
	client   *http.Client
	observer *dlt.CursorObserver
	logger   *logrus.Logger
}

// New returns a Blockfrost-backed Source. It performs no network calls.
func New(cfg Config) *Source {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Source{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		observer: dlt.NewCursorObserver(),
		logger:   logger,
	}
}

// SyncCursor returns the observer this source publishes its position to.
func (s *Source) SyncCursor() *dlt.CursorObserver { return s.observer }

// IntoStream polls Blockfrost every cfg.PollInterval, only ever moving
// forward from the last emitted block height, until ctx is canceled.
func (s *Source) IntoStream(ctx context.Context) (<-chan dlt.PublishedPrismObject, error) {
	out := make(chan dlt.PublishedPrismObject, dlt.PublishedObjectBufferSize)
	go s.pollLoop(ctx, out)
	return out, nil
}

func (s *Source) pollLoop(ctx context.Context, out chan<- dlt.PublishedPrismObject) {
	defer close(out)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var afterHeight uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			objs, maxHeight, err := s.fetchSince(ctx, afterHeight)
			if err != nil {
				s.logger.Warnf("dlt/blockfrost: poll: %v", err)
				continue
			}
			for _, obj := range objs {
				select {
				case out <- obj:
				case <-ctx.Done():
					return
				}
			}
			if maxHeight > afterHeight {
				afterHeight = maxHeight
				s.observer.Set(store.DltCursor{Slot: int64(afterHeight), SourceHint: "blockfrost"})
			}
		}
	}
}

// fetchSince returns confirmed PRISM-bearing objects from blocks after
// afterHeight, honoring cfg.ConfirmationLag, and the highest block height
// visited.
func (s *Source) fetchSince(ctx context.Context, afterHeight uint64) ([]dlt.PublishedPrismObject, uint64, error) {
	tip, err := s.latestHeight(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("dlt/blockfrost: latest height: %w", err)
	}
	if tip <= s.cfg.ConfirmationLag {
		return nil, afterHeight, nil
	}
	confirmedTip := tip - s.cfg.ConfirmationLag
	if confirmedTip <= afterHeight {
		return nil, afterHeight, nil
	}

	var out []dlt.PublishedPrismObject
	maxHeight := afterHeight
	for height := afterHeight + 1; height <= confirmedTip; height++ {
		blk, err := s.blockByHeight(ctx, height)
		if err != nil {
			return out, maxHeight, fmt.Errorf("dlt/blockfrost: block %d: %w", height, err)
		}
		txHashes, err := s.blockTxs(ctx, height)
		if err != nil {
			return out, maxHeight, fmt.Errorf("dlt/blockfrost: block %d txs: %w", height, err)
		}
		for absn, txHash := range txHashes {
			metadataJSON, ok, err := s.txMetadata(ctx, txHash)
			if err != nil {
				s.logger.Warnf("dlt/blockfrost: tx %s metadata: %v", txHash, err)
				continue
			}
			if !ok {
				continue
			}
			ops, err := dlt.DecodePrismMetadata(metadataJSON)
			if err != nil {
				s.logger.Warnf("dlt/blockfrost: malformed metadata in tx %s, skipping: %v", txHash, err)
				continue
			}
			out = append(out, dlt.PublishedPrismObject{
				Metadata: dlt.BlockMetadata{
					BlockNo:   height,
					Absn:      uint32(absn),
					TxID:      txHash,
					Slot:      blk.Slot,
					BlockTime: time.Unix(blk.Time, 0).UTC(),
				},
				Operations: ops,
			})
		}
		maxHeight = height
	}
	return out, maxHeight, nil
}

type blockResponse struct {
	Height int64  `json:"height"`
	Slot   uint64 `json:"slot"`
	Time   int64  `json:"time"`
}

type metadataEntry struct {
	Label        string          `json:"label"`
	JSONMetadata json.RawMessage `json:"json_metadata"`
}

func (s *Source) latestHeight(ctx context.Context) (uint64, error) {
	var blk blockResponse
	if err := s.getJSON(ctx, "/blocks/latest", &blk); err != nil {
		return 0, err
	}
	if blk.Height < 0 {
		return 0, fmt.Errorf("negative block height %d", blk.Height)
	}
	return uint64(blk.Height), nil
}

func (s *Source) blockByHeight(ctx context.Context, height uint64) (blockResponse, error) {
	var blk blockResponse
	err := s.getJSON(ctx, "/blocks/"+strconv.FormatUint(height, 10), &blk)
	return blk, err
}

func (s *Source) blockTxs(ctx context.Context, height uint64) ([]string, error) {
	var hashes []string
	if err := s.getJSON(ctx, "/blocks/"+strconv.FormatUint(height, 10)+"/txs", &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}

// txMetadata returns the raw json_metadata for dlt.MetadataLabel on txHash
// as Blockfrost serves it, without re-wrapping, or ok=false if the
// transaction carries no such label.
func (s *Source) txMetadata(ctx context.Context, txHash string) ([]byte, bool, error) {
	var entries []metadataEntry
	err := s.getJSON(ctx, "/txs/"+txHash+"/metadata", &entries)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	wantLabel := strconv.Itoa(dlt.MetadataLabel)
	for _, e := range entries {
		if e.Label != wantLabel {
			continue
		}
		return e.JSONMetadata, true, nil
	}
	return nil, false, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("blockfrost: status %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

func (s *Source) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("project_id", s.cfg.ProjectID)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &statusError{status: resp.StatusCode, body: string(b)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
