package anchor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AnchorRecord is the durable proof-of-anchoring for one log record.
// Created exactly once when the record's batch is anchored and never
// mutated; retained for the regulatory retention period.
type AnchorRecord struct {
	LogID           string      `json:"log_id"`
	LogHash         Hash256     `json:"log_hash"`
	PrevHash        Hash256     `json:"prev_hash"`
	MerkleRoot      Hash256     `json:"merkle_root"`
	OracleHeight    int64       `json:"oracle_height"`
	OracleTimestamp int64       `json:"oracle_timestamp"`
	Proof           MerkleProof `json:"proof"`
	BatchID         uuid.UUID   `json:"batch_id"`
	AnchoredAt      time.Time   `json:"anchored_at"`
}

// Store is the durable mapping from log ID to anchor record, plus the
// single persisted chain-state slot. It is the source of truth for "has
// this entry been anchored, and how do I prove it".
//
// PutBatch must be atomic: either every record of the batch and the new
// chain tip are committed together, or nothing is. A crash mid-batch must
// never leave the store half-written, because the in-memory chain tip is
// only advanced after PutBatch returns.
type Store interface {
	// PutBatch persists all anchor records of one batch and the chain
	// tip that batch produced, all-or-nothing. Returns ErrAlreadyAnchored
	// if any log ID already has an anchor record.
	PutBatch(ctx context.Context, records []AnchorRecord, newTip Hash256) error

	// Get returns the anchor record for logID, or ErrNotFound.
	Get(ctx context.Context, logID string) (*AnchorRecord, error)

	// GetMany returns the anchor records for the given log IDs, in the
	// given order. Any missing ID fails the whole call with ErrNotFound.
	GetMany(ctx context.Context, logIDs []string) ([]AnchorRecord, error)

	// LoadChainState returns the persisted chain tip, or ZeroHash when
	// nothing has been anchored yet.
	LoadChainState(ctx context.Context) (Hash256, error)

	// Count returns the total number of anchor records.
	Count(ctx context.Context) (int64, error)
}
