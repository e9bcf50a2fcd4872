package anchor

import "sync"

// Linker owns the chain state: the hash of the most recently linked
// record, or ZeroHash if none has been linked yet.
//
// The chain's tamper evidence depends on a strict, non-branching sequence
// of hashes, so every read-modify-write of the tip is serialized behind a
// mutex. No two records are ever linked against the same tip. The linker
// is an injected value, not package state, so independent chains can run
// side by side in tests.
type Linker struct {
	mu  sync.Mutex
	tip Hash256
}

// NewLinker creates a linker whose chain starts at seed. A fresh chain
// starts at ZeroHash; a restarted process seeds from the persisted
// chain-state row.
func NewLinker(seed Hash256) *Linker {
	return &Linker{tip: seed}
}

// Tip returns the current chain tip.
func (l *Linker) Tip() Hash256 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tip
}

// Link hashes one record against the current tip and advances the tip.
// If hashing fails the chain state is left untouched. The record's
// PrevHash is filled in (when not pre-set) so the record is
// self-describing for later re-verification.
func (l *Linker) Link(r *LogRecord) (Hash256, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.tip
	if r.PrevHash != nil {
		prev = *r.PrevHash
	}
	h, err := HashRecord(r, prev)
	if err != nil {
		return Hash256{}, err
	}
	r.PrevHash = &prev
	l.tip = h
	return h, nil
}

// LinkBatch hashes records sequentially against the current tip without
// committing the new tip. The caller persists the batch and then calls
// Commit with the returned tip, so that a failed batch never advances the
// durable chain; retrying the same batch from the same tip reproduces the
// same hashes.
//
// On any encoding failure nothing is committed and no PrevHash fields are
// modified.
func (l *Linker) LinkBatch(records []*LogRecord) (leaves []Hash256, newTip Hash256, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cursor := l.tip
	leaves = make([]Hash256, len(records))
	prevs := make([]Hash256, len(records))
	for i, r := range records {
		prev := cursor
		if r.PrevHash != nil {
			prev = *r.PrevHash
		}
		h, herr := HashRecord(r, prev)
		if herr != nil {
			return nil, Hash256{}, herr
		}
		prevs[i] = prev
		leaves[i] = h
		cursor = h
	}
	for i, r := range records {
		p := prevs[i]
		r.PrevHash = &p
	}
	return leaves, cursor, nil
}

// Commit advances the tip to newTip. Called only after the batch the tip
// belongs to has been durably persisted.
func (l *Linker) Commit(newTip Hash256) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tip = newTip
}

// Reset rewinds the chain to seed. Test and bootstrap use only; nothing
// in the serving path calls it.
func (l *Linker) Reset(seed Hash256) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tip = seed
}
