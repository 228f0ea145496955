// Package dbsync implements a dlt.Source that polls an external Cardano
// db-sync database (a read replica the PRISM node does not own) for new
// transaction metadata under label dlt.MetadataLabel, decoding each into a
// PublishedPrismObject.
package dbsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/prism-node/prism/internal/dlt"
	"github.com/prism-node/prism/internal/store"
)

// Config configures a db-sync poller.
type Config struct {
	DSN             string
	PollInterval    time.Duration
	ConfirmationLag uint64 // blocks to withhold from the chain tip before emitting, per spec.md §4.3.1
	Logger          *logrus.Logger
}

// Source polls db-sync's tx_metadata table on an interval.
type Source struct {
	cfg      Config
	pool     *pgxpool.Pool
	observer *dlt.CursorObserver
	logger   *logrus.Logger
}

// New connects to the db-sync database and returns a Source.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("dlt/dbsync: connect: %w", err)
	}
	return &Source{cfg: cfg, pool: pool, observer: dlt.NewCursorObserver(), logger: logger}, nil
}

// SyncCursor returns the observer this source publishes its position to.
func (s *Source) SyncCursor() *dlt.CursorObserver { return s.observer }

// IntoStream polls db-sync every cfg.PollInterval, only ever moving forward
// from the last emitted slot, until ctx is canceled.
func (s *Source) IntoStream(ctx context.Context) (<-chan dlt.PublishedPrismObject, error) {
	out := make(chan dlt.PublishedPrismObject, dlt.PublishedObjectBufferSize)
	go s.pollLoop(ctx, out)
	return out, nil
}

func (s *Source) pollLoop(ctx context.Context, out chan<- dlt.PublishedPrismObject) {
	defer close(out)
	defer s.pool.Close()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var afterSlot uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			objs, maxSlot, err := s.fetchSince(ctx, afterSlot)
			if err != nil {
				s.logger.Warnf("dlt/dbsync: poll: %v", err)
				continue
			}
			for _, obj := range objs {
				select {
				case out <- obj:
				case <-ctx.Done():
					return
				}
			}
			if maxSlot > afterSlot {
				afterSlot = maxSlot
				s.observer.Set(store.DltCursor{Slot: int64(afterSlot), SourceHint: "dbsync"})
			}
		}
	}
}

// fetchSince returns confirmed PRISM-bearing objects with slot > afterSlot,
// honoring cfg.ConfirmationLag, and the highest slot among them.
func (s *Source) fetchSince(ctx context.Context, afterSlot uint64) ([]dlt.PublishedPrismObject, uint64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.block_no, b.slot_no, b.time, tx.block_index, tx.hash, tm.json
		FROM tx_metadata tm
		JOIN tx ON tx.id = tm.tx_id
		JOIN block b ON b.id = tx.block_id
		WHERE tm.key = $1
		  AND b.slot_no > $2
		  AND b.slot_no <= (SELECT MAX(slot_no) - $3 FROM block)
		ORDER BY b.slot_no ASC
	`, dlt.MetadataLabel, afterSlot, s.cfg.ConfirmationLag)
	if err != nil {
		return nil, 0, fmt.Errorf("query tx_metadata: %w", err)
	}
	defer rows.Close()

	var out []dlt.PublishedPrismObject
	var maxSlot uint64
	for rows.Next() {
		var blockNo, slot uint64
		var blockTime time.Time
		var blockIndex uint32
		var txHash []byte
		var metadataJSON []byte
		if err := rows.Scan(&blockNo, &slot, &blockTime, &blockIndex, &txHash, &metadataJSON); err != nil {
			return nil, 0, fmt.Errorf("scan row: %w", err)
		}

		ops, err := dlt.DecodePrismMetadata(metadataJSON)
		if err != nil {
			s.logger.Warnf("dlt/dbsync: malformed metadata in tx %x, skipping: %v", txHash, err)
			continue
		}
		out = append(out, dlt.PublishedPrismObject{
			Metadata: dlt.BlockMetadata{
				BlockNo:   blockNo,
				Absn:      blockIndex,
				TxID:      fmt.Sprintf("%x", txHash),
				Slot:      slot,
				BlockTime: blockTime,
			},
			Operations: ops,
		})

		if slot > maxSlot {
			maxSlot = slot
		}
	}
	return out, maxSlot, rows.Err()
}
