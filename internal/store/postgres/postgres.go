// Package postgres is the production store.Repository backend: a thin
// wrapper around a pgxpool.Pool. Schema is created with Migrate and every
// method maps directly onto the spec.md §6 storage repository trait.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/prism-node/prism/internal/prismcrypto"
	"github.com/prism-node/prism/internal/store"
)

// Store is a pgx-backed store.Repository.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.SugaredLogger
}

// New wraps an already-connected pool. Call Migrate once at startup before
// serving traffic.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger.Sugar()}
}

// Connect dials dsn and wraps the resulting pool.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: connect: %w", err)
	}
	return New(pool, logger), nil
}

// Close releases the underlying pool.
func (s *Store) Close() { s.pool.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS raw_operation (
	block_no        BIGINT NOT NULL,
	absn            INTEGER NOT NULL,
	osn             INTEGER NOT NULL,
	tx_id           TEXT NOT NULL,
	slot            BIGINT NOT NULL,
	block_time      TIMESTAMPTZ NOT NULL,
	signed_with     TEXT NOT NULL,
	signature       BYTEA NOT NULL,
	operation_bytes BYTEA NOT NULL,
	operation_id    BYTEA NOT NULL,
	is_indexed      BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (block_no, absn, osn)
);
CREATE INDEX IF NOT EXISTS raw_operation_tx_id_idx ON raw_operation (tx_id);
CREATE UNIQUE INDEX IF NOT EXISTS raw_operation_operation_id_idx ON raw_operation (operation_id);

CREATE TABLE IF NOT EXISTS indexed_operation (
	block_no            BIGINT NOT NULL,
	absn                INTEGER NOT NULL,
	osn                 INTEGER NOT NULL,
	kind                SMALLINT NOT NULL,
	did                 TEXT NOT NULL DEFAULT '',
	operation_hash      BYTEA,
	init_operation_hash BYTEA,
	prev_operation_hash BYTEA,
	PRIMARY KEY (block_no, absn, osn)
);
CREATE INDEX IF NOT EXISTS indexed_operation_did_idx ON indexed_operation (did);
CREATE UNIQUE INDEX IF NOT EXISTS indexed_operation_init_hash_idx ON indexed_operation (init_operation_hash)
	WHERE kind = 2;

CREATE TABLE IF NOT EXISTS dlt_cursor (
	id          BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
	slot        BIGINT NOT NULL,
	block_hash  BYTEA NOT NULL,
	cbt         TIMESTAMPTZ,
	source_hint TEXT
);
`

// Migrate creates the schema if it does not already exist. Safe to call on
// every startup.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("store/postgres: migrate: %w", err)
	}
	return nil
}

// InsertRawOperations is idempotent on (block_no, absn, osn) via ON CONFLICT
// DO NOTHING.
func (s *Store) InsertRawOperations(ctx context.Context, batch []store.RawOperationRecord) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store/postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range batch {
		opID := r.OperationID()
		_, err := tx.Exec(ctx, `
			INSERT INTO raw_operation
				(block_no, absn, osn, tx_id, slot, block_time, signed_with, signature, operation_bytes, operation_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (block_no, absn, osn) DO NOTHING
		`, r.BlockNo, r.Absn, r.Osn, r.TxID, r.Slot, r.BlockTime, r.SignedWith, r.Signature, r.OperationBytes, opID.Bytes())
		if err != nil {
			return fmt.Errorf("store/postgres: insert raw operation: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store/postgres: commit: %w", err)
	}
	s.logger.Debugf("inserted %d raw operations", len(batch))
	return nil
}

// GetRawOperationsUnindexed returns up to store.UnindexedFetchCap unindexed
// rows in total order.
func (s *Store) GetRawOperationsUnindexed(ctx context.Context) ([]store.RawOperationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT block_no, absn, osn, tx_id, slot, block_time, signed_with, signature, operation_bytes, is_indexed
		FROM raw_operation
		WHERE is_indexed = FALSE
		ORDER BY block_no, absn, osn
		LIMIT $1
	`, store.UnindexedFetchCap)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: query unindexed: %w", err)
	}
	defer rows.Close()
	return scanRawOperations(rows)
}

// GetRawOperationsByDid returns every raw operation indexed against did, in
// total order.
func (s *Store) GetRawOperationsByDid(ctx context.Context, did store.CanonicalDid) ([]store.RawOperationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.block_no, r.absn, r.osn, r.tx_id, r.slot, r.block_time, r.signed_with, r.signature, r.operation_bytes, r.is_indexed
		FROM raw_operation r
		JOIN indexed_operation i ON i.block_no = r.block_no AND i.absn = r.absn AND i.osn = r.osn
		WHERE i.did = $1
		ORDER BY r.block_no, r.absn, r.osn
	`, string(did))
	if err != nil {
		return nil, fmt.Errorf("store/postgres: query by did: %w", err)
	}
	defer rows.Close()
	return scanRawOperations(rows)
}

// GetRawOperationsByTxID returns every raw operation carried by tx_id,
// paired with the DID it was indexed against (empty if not yet indexed).
func (s *Store) GetRawOperationsByTxID(ctx context.Context, txID string) ([]store.RawOperationWithDid, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.block_no, r.absn, r.osn, r.tx_id, r.slot, r.block_time, r.signed_with, r.signature, r.operation_bytes, r.is_indexed,
		       COALESCE(i.did, '')
		FROM raw_operation r
		LEFT JOIN indexed_operation i ON i.block_no = r.block_no AND i.absn = r.absn AND i.osn = r.osn
		WHERE r.tx_id = $1
		ORDER BY r.block_no, r.absn, r.osn
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: query by tx id: %w", err)
	}
	defer rows.Close()

	var out []store.RawOperationWithDid
	for rows.Next() {
		rec, did, err := scanRawOperationWithDid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, store.RawOperationWithDid{Record: rec, Did: did})
	}
	return out, rows.Err()
}

// GetRawOperationByOperationID looks up a single raw operation by its
// content hash.
func (s *Store) GetRawOperationByOperationID(ctx context.Context, opID prismcrypto.Digest) (*store.RawOperationWithDid, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT r.block_no, r.absn, r.osn, r.tx_id, r.slot, r.block_time, r.signed_with, r.signature, r.operation_bytes, r.is_indexed,
		       COALESCE(i.did, '')
		FROM raw_operation r
		LEFT JOIN indexed_operation i ON i.block_no = r.block_no AND i.absn = r.absn AND i.osn = r.osn
		WHERE r.operation_id = $1
	`, opID.Bytes())

	rec, did, err := scanRawOperationWithDid(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store/postgres: query by operation id: %w", err)
	}
	return &store.RawOperationWithDid{Record: rec, Did: did}, nil
}

// InsertIndexedOperations writes batch and flips is_indexed for every raw
// operation it references, all within one transaction.
func (s *Store) InsertIndexedOperations(ctx context.Context, batch []store.IndexedRecord) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store/postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range batch {
		_, err := tx.Exec(ctx, `
			INSERT INTO indexed_operation
				(block_no, absn, osn, kind, did, operation_hash, init_operation_hash, prev_operation_hash)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (block_no, absn, osn) DO NOTHING
		`, rec.BlockNo, rec.Absn, rec.Osn, rec.Kind, string(rec.Did),
			optionalBytes(rec.OperationHash), optionalBytes(rec.InitOperationHash), optionalBytes(rec.PrevOperationHash))
		if err != nil {
			return fmt.Errorf("store/postgres: insert indexed operation: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE raw_operation SET is_indexed = TRUE WHERE block_no = $1 AND absn = $2 AND osn = $3
		`, rec.BlockNo, rec.Absn, rec.Osn)
		if err != nil {
			return fmt.Errorf("store/postgres: flip is_indexed: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store/postgres: commit: %w", err)
	}
	s.logger.Debugf("indexed %d operations", len(batch))
	return nil
}

// GetDidByVdrEntry returns the DID owning the storage entry rooted at
// initHash.
func (s *Store) GetDidByVdrEntry(ctx context.Context, initHash prismcrypto.Digest) (store.CanonicalDid, error) {
	var did string
	err := s.pool.QueryRow(ctx, `
		SELECT did FROM indexed_operation WHERE init_operation_hash = $1 AND kind = $2
	`, initHash.Bytes(), store.IndexedVdr).Scan(&did)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store/postgres: query vdr owner: %w", err)
	}
	return store.CanonicalDid(did), nil
}

// GetAllDids returns a page of the distinct DIDs observed in indexed_operation.
func (s *Store) GetAllDids(ctx context.Context, page, pageSize int) (store.Paginated[store.CanonicalDid], error) {
	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT did) FROM indexed_operation WHERE did <> ''
	`).Scan(&total); err != nil {
		return store.Paginated[store.CanonicalDid]{}, fmt.Errorf("store/postgres: count dids: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT did FROM indexed_operation WHERE did <> ''
		ORDER BY did
		LIMIT $1 OFFSET $2
	`, pageSize, page*pageSize)
	if err != nil {
		return store.Paginated[store.CanonicalDid]{}, fmt.Errorf("store/postgres: query dids: %w", err)
	}
	defer rows.Close()

	var items []store.CanonicalDid
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return store.Paginated[store.CanonicalDid]{}, err
		}
		items = append(items, store.CanonicalDid(d))
	}
	return store.Paginated[store.CanonicalDid]{Items: items, Total: total, Page: page, PageSize: pageSize}, rows.Err()
}

// GetLastIndexedBlock returns the highest (block_no, absn) among indexed
// rows, used by GET /indexer/stats.
func (s *Store) GetLastIndexedBlock(ctx context.Context) (*store.LastIndexedBlock, error) {
	var blockNo, slot uint64
	err := s.pool.QueryRow(ctx, `
		SELECT r.block_no, r.slot
		FROM raw_operation r
		WHERE r.is_indexed = TRUE
		ORDER BY r.block_no DESC, r.absn DESC
		LIMIT 1
	`).Scan(&blockNo, &slot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store/postgres: query last indexed block: %w", err)
	}
	return &store.LastIndexedBlock{Slot: slot, BlockNo: blockNo}, nil
}

// GetCursor returns the single persisted cursor row, or nil if unset.
func (s *Store) GetCursor(ctx context.Context) (*store.DltCursor, error) {
	var c store.DltCursor
	err := s.pool.QueryRow(ctx, `SELECT slot, block_hash, cbt, source_hint FROM dlt_cursor WHERE id = TRUE`).
		Scan(&c.Slot, &c.BlockHash, &c.Cbt, &c.SourceHint)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store/postgres: query cursor: %w", err)
	}
	return &c, nil
}

// SetCursor overwrites the single cursor row.
func (s *Store) SetCursor(ctx context.Context, cursor store.DltCursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dlt_cursor (id, slot, block_hash, cbt, source_hint)
		VALUES (TRUE, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET slot = $1, block_hash = $2, cbt = $3, source_hint = $4
	`, cursor.Slot, cursor.BlockHash, cursor.Cbt, cursor.SourceHint)
	if err != nil {
		return fmt.Errorf("store/postgres: set cursor: %w", err)
	}
	return nil
}

func optionalBytes(d prismcrypto.Digest) []byte {
	if d.IsZero() {
		return nil
	}
	return d.Bytes()
}

// rowScanner is satisfied by both pgx.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRawOperations(rows pgx.Rows) ([]store.RawOperationRecord, error) {
	var out []store.RawOperationRecord
	for rows.Next() {
		var r store.RawOperationRecord
		if err := rows.Scan(&r.BlockNo, &r.Absn, &r.Osn, &r.TxID, &r.Slot, &r.BlockTime,
			&r.SignedWith, &r.Signature, &r.OperationBytes, &r.IsIndexed); err != nil {
			return nil, fmt.Errorf("store/postgres: scan raw operation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRawOperationWithDid(s rowScanner) (store.RawOperationRecord, store.CanonicalDid, error) {
	var r store.RawOperationRecord
	var did string
	err := s.Scan(&r.BlockNo, &r.Absn, &r.Osn, &r.TxID, &r.Slot, &r.BlockTime,
		&r.SignedWith, &r.Signature, &r.OperationBytes, &r.IsIndexed, &did)
	return r, store.CanonicalDid(did), err
}
