package memory

import (
	"context"
)

// RecordStore is the persistence contract for fact records. Implementations
// must provide a true atomic compare-and-swap (or equivalent single-document
// transactional update); the coordinator's linearization depends on it.
type RecordStore interface {
	// Get returns the record for a user, or *errors.ErrRecordNotFound
	Get(ctx context.Context, userID string) (*FactRecord, error)
	// CompareAndSwap writes record iff the stored version still equals
	// expectedVersion. expectedVersion 0 means "create, must not exist".
	// A lost race returns *errors.ErrVersionMismatch.
	CompareAndSwap(ctx context.Context, record *FactRecord, expectedVersion int64) error
	// DeleteAll removes the user's record entirely. Absent is not an error.
	DeleteAll(ctx context.Context, userID string) error
}
