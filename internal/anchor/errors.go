package anchor

import (
	"errors"
	"fmt"
)

// ErrEmptyBatch is returned when a Merkle tree is built over zero leaves.
// The scheduler never anchors an empty batch, so seeing this error in
// production indicates a bug.
var ErrEmptyBatch = errors.New("empty batch")

// ErrIndexOutOfRange is returned when a proof is requested for a leaf
// index outside the tree.
var ErrIndexOutOfRange = errors.New("leaf index out of range")

// ErrNotFound is returned when no anchor record exists for a log ID.
var ErrNotFound = errors.New("anchor record not found")

// ErrAlreadyAnchored is returned when a batch would anchor a log ID that
// already has an anchor record. Anchor records are created exactly once.
var ErrAlreadyAnchored = errors.New("log record already anchored")

// ErrHashMismatch is returned by verification when the recomputed record
// hash differs from the stored one: the record content was altered.
var ErrHashMismatch = errors.New("record hash mismatch")

// ErrProofInvalid is returned by verification when the stored inclusion
// proof does not recompute to its root: the stored proof or root is
// corrupted.
var ErrProofInvalid = errors.New("inclusion proof invalid")

// ErrOracleUnavailable is returned when the external oracle cannot be
// reached. It is transient: the batch is retried and buffered records are
// never discarded because of it.
var ErrOracleUnavailable = errors.New("oracle unavailable")

// EncodingError reports a record the canonical encoder cannot represent.
// Such a record is rejected at ingestion; it never enters the chain.
type EncodingError struct {
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode record: %s: %s", e.Field, e.Reason)
}
