// Package proofbundle defines the exported, self-contained proof format
// handed to auditors. A bundle carries everything needed to re-verify
// inclusion proofs offline — no network and no store access — which makes
// it the externally-facing verification contract of the anchoring
// service.
//
// All digests serialize as 64-character lowercase hex.
package proofbundle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paystream-io/auditanchor/internal/anchor"
)

// Version is the current bundle format version.
const Version = 1

// Entry is the proof material for one anchored log record.
type Entry struct {
	LogID           string           `json:"log_id"`
	Leaf            anchor.Hash256   `json:"leaf"`
	Proof           []anchor.Hash256 `json:"proof"`
	Root            anchor.Hash256   `json:"root"`
	Index           int              `json:"index"`
	OracleHeight    int64            `json:"oracle_height"`
	OracleTimestamp int64            `json:"oracle_timestamp"`
}

// Bundle is an ordered set of proof entries exported together.
type Bundle struct {
	Version     int       `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
	Entries     []Entry   `json:"entries"`
}

// FromRecords packages anchor records into a bundle, preserving order.
func FromRecords(records []anchor.AnchorRecord) *Bundle {
	b := &Bundle{
		Version:     Version,
		GeneratedAt: time.Now().UTC(),
		Entries:     make([]Entry, len(records)),
	}
	for i, r := range records {
		b.Entries[i] = Entry{
			LogID:           r.LogID,
			Leaf:            r.Proof.Leaf,
			Proof:           r.Proof.Siblings,
			Root:            r.Proof.Root,
			Index:           r.Proof.Index,
			OracleHeight:    r.OracleHeight,
			OracleTimestamp: r.OracleTimestamp,
		}
	}
	return b
}

// Result is the verification outcome for one bundle entry.
type Result struct {
	LogID string `json:"log_id"`
	Valid bool   `json:"valid"`
}

// Verify recomputes every entry's inclusion proof and returns a
// per-entry result. It is pure: a bundle verifies identically on any
// machine at any time.
func (b *Bundle) Verify() []Result {
	results := make([]Result, len(b.Entries))
	for i, e := range b.Entries {
		proof := anchor.MerkleProof{
			Leaf:     e.Leaf,
			Siblings: e.Proof,
			Root:     e.Root,
			Index:    e.Index,
		}
		results[i] = Result{LogID: e.LogID, Valid: anchor.VerifyProof(&proof)}
	}
	return results
}

// VerifyAll verifies every entry and fails on the first invalid one.
func (b *Bundle) VerifyAll() error {
	for _, r := range b.Verify() {
		if !r.Valid {
			return fmt.Errorf("bundle entry %s: inclusion proof invalid", r.LogID)
		}
	}
	return nil
}

// Encode serializes the bundle to indented JSON.
func (b *Bundle) Encode() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// Decode parses a serialized bundle and rejects unknown versions.
func Decode(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.Version != Version {
		return nil, fmt.Errorf("decode bundle: unsupported version %d", b.Version)
	}
	return &b, nil
}
