package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to
// serialise concurrent batch commits. The value is arbitrary but must be
// consistent across all anchord instances sharing a database.
const advisoryLockKey = int64(7_415_209_331)

// PostgresStore persists anchor records and the chain-state slot to
// PostgreSQL. It implements the Store interface.
//
// PutBatch writes all records of a batch and the new chain tip inside a
// single transaction under an advisory lock, so a crash can never leave
// the store half-written and two instances can never commit interleaved
// batches.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// PutBatch implements Store.
func (s *PostgresStore) PutBatch(ctx context.Context, records []AnchorRecord, newTip Hash256) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Transaction-scoped advisory lock: released automatically on commit
	// or rollback.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	for _, r := range records {
		proofJSON, err := json.Marshal(r.Proof)
		if err != nil {
			return fmt.Errorf("marshal proof for %s: %w", r.LogID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO anchor_records
			   (log_id, log_hash, prev_hash, merkle_root, oracle_height, oracle_timestamp, proof, batch_id, anchored_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.LogID, r.LogHash.String(), r.PrevHash.String(), r.MerkleRoot.String(),
			r.OracleHeight, r.OracleTimestamp, proofJSON,
			r.BatchID, r.AnchoredAt,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
				return fmt.Errorf("insert anchor for %s: %w", r.LogID, ErrAlreadyAnchored)
			}
			return fmt.Errorf("insert anchor for %s: %w", r.LogID, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO chain_state (id, last_hash) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET last_hash = EXCLUDED.last_hash`,
		newTip.String(),
	); err != nil {
		return fmt.Errorf("update chain state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch tx: %w", err)
	}

	s.logger.Debug("batch persisted",
		zap.Int("records", len(records)),
		zap.String("new_tip", newTip.String()),
	)
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, logID string) (*AnchorRecord, error) {
	return scanAnchor(s.pool.QueryRow(ctx,
		`SELECT log_id, log_hash, prev_hash, merkle_root, oracle_height, oracle_timestamp, proof, batch_id, anchored_at
		 FROM anchor_records WHERE log_id = $1`, logID,
	), logID)
}

// GetMany implements Store. Results come back in the order of logIDs;
// any missing ID fails the whole call.
func (s *PostgresStore) GetMany(ctx context.Context, logIDs []string) ([]AnchorRecord, error) {
	out := make([]AnchorRecord, 0, len(logIDs))
	for _, id := range logIDs {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// LoadChainState implements Store. An absent row means nothing has been
// anchored yet: the chain starts at ZeroHash.
func (s *PostgresStore) LoadChainState(ctx context.Context) (Hash256, error) {
	var hexTip string
	err := s.pool.QueryRow(ctx,
		"SELECT last_hash FROM chain_state WHERE id = 1",
	).Scan(&hexTip)
	if errors.Is(err, pgx.ErrNoRows) {
		return ZeroHash, nil
	}
	if err != nil {
		return ZeroHash, fmt.Errorf("load chain state: %w", err)
	}
	tip, err := ParseHash256(hexTip)
	if err != nil {
		return ZeroHash, fmt.Errorf("load chain state: %w", err)
	}
	return tip, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM anchor_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count anchor records: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnchor(row rowScanner, logID string) (*AnchorRecord, error) {
	var (
		rec       AnchorRecord
		hashHex   string
		prevHex   string
		rootHex   string
		proofJSON []byte
	)
	err := row.Scan(
		&rec.LogID, &hashHex, &prevHex, &rootHex,
		&rec.OracleHeight, &rec.OracleTimestamp,
		&proofJSON, &rec.BatchID, &rec.AnchoredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", logID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan anchor %s: %w", logID, err)
	}

	if rec.LogHash, err = ParseHash256(hashHex); err != nil {
		return nil, fmt.Errorf("anchor %s: %w", logID, err)
	}
	if rec.PrevHash, err = ParseHash256(prevHex); err != nil {
		return nil, fmt.Errorf("anchor %s: %w", logID, err)
	}
	if rec.MerkleRoot, err = ParseHash256(rootHex); err != nil {
		return nil, fmt.Errorf("anchor %s: %w", logID, err)
	}
	if err := json.Unmarshal(proofJSON, &rec.Proof); err != nil {
		return nil, fmt.Errorf("anchor %s: decode proof: %w", logID, err)
	}
	return &rec, nil
}
