package anchor

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// the test and development backend; production deployments use
// PostgresStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]AnchorRecord
	tip     Hash256
}

// NewMemoryStore creates an empty MemoryStore with the chain at ZeroHash.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]AnchorRecord)}
}

// PutBatch implements Store. The duplicate check runs before any write,
// so a rejected batch leaves the store untouched.
func (s *MemoryStore) PutBatch(_ context.Context, records []AnchorRecord, newTip Hash256) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if _, ok := s.records[r.LogID]; ok {
			return fmt.Errorf("put batch %s: %w", r.LogID, ErrAlreadyAnchored)
		}
	}
	for _, r := range records {
		s.records[r.LogID] = r
	}
	s.tip = newTip
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, logID string) (*AnchorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[logID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", logID, ErrNotFound)
	}
	return &r, nil
}

// GetMany implements Store.
func (s *MemoryStore) GetMany(_ context.Context, logIDs []string) ([]AnchorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AnchorRecord, 0, len(logIDs))
	for _, id := range logIDs {
		r, ok := s.records[id]
		if !ok {
			return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadChainState implements Store.
func (s *MemoryStore) LoadChainState(_ context.Context) (Hash256, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// Corrupt overwrites the stored anchor record for logID. Test use only:
// it exists so integrity tests can simulate store-level tampering.
func (s *MemoryStore) Corrupt(logID string, mutate func(*AnchorRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[logID]
	if !ok {
		return false
	}
	mutate(&r)
	s.records[logID] = r
	return true
}
