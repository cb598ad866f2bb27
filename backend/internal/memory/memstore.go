package memory

import (
	"context"
	"sync"
	"time"

	"personalmem/backend/pkg/errors"
)

// MemStore is an in-process RecordStore. It backs local development
// (MEMORY_BACKEND=memory) and tests; records do not survive a restart.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*FactRecord
}

// NewMemStore creates an empty in-process record store
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*FactRecord)}
}

// Get returns a deep copy of the user's record
func (s *MemStore) Get(ctx context.Context, userID string) (*FactRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[userID]
	if !ok {
		return nil, errors.NewRecordNotFound(userID)
	}
	return record.Clone(), nil
}

// CompareAndSwap stores record iff the current version matches expectedVersion
func (s *MemStore) CompareAndSwap(ctx context.Context, record *FactRecord, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[record.UserID]
	if expectedVersion == 0 {
		if exists {
			return errors.NewVersionMismatch(record.UserID, expectedVersion)
		}
	} else {
		if !exists || current.Version != expectedVersion {
			return errors.NewVersionMismatch(record.UserID, expectedVersion)
		}
	}

	stored := record.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.records[record.UserID] = stored
	return nil
}

// DeleteAll removes the user's record; absent is a no-op
func (s *MemStore) DeleteAll(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

// Len reports how many records the store holds
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
