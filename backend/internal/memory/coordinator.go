package memory

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	apperrors "personalmem/backend/pkg/errors"
	"personalmem/backend/pkg/logger"
)

// ============================================================================
// Per-User Update Coordinator
// ============================================================================

// DefaultCASRetries bounds the compare-and-swap retry loop when the store
// is written concurrently by a path outside this coordinator
const DefaultCASRetries = 5

// Coordinator is the single entry point for record mutation. Merges for the
// same user are serialized by a per-user token; merges for different users
// run fully in parallel. The token only guards in-process callers; the
// compare-and-swap discipline is what protects the record against
// out-of-band writers.
type Coordinator struct {
	store      RecordStore
	engine     *Engine
	maxRetries int
	logger     *zap.Logger

	mu     sync.Mutex
	tokens map[string]*userToken
}

// userToken is a per-user serialization token. A weighted semaphore rather
// than a mutex so waiting honors the caller's context deadline.
type userToken struct {
	sem  *semaphore.Weighted
	refs int
}

// NewCoordinator creates a coordinator over the given store and merge engine
func NewCoordinator(store RecordStore, engine *Engine, maxRetries int) *Coordinator {
	if maxRetries < 1 {
		maxRetries = DefaultCASRetries
	}
	return &Coordinator{
		store:      store,
		engine:     engine,
		maxRetries: maxRetries,
		logger:     logger.Get(),
		tokens:     make(map[string]*userToken),
	}
}

// ApplyUpdates folds a batch of proposed updates into the user's record via
// an atomic read-merge-write cycle. It returns the resulting record, the
// change log, and any warnings for skipped malformed updates. A batch either
// fully applies (modulo skipped malformed updates) or fully aborts.
func (c *Coordinator) ApplyUpdates(ctx context.Context, userID string, updates []ProposedUpdate) (*FactRecord, []Change, []Warning, error) {
	if userID == "" {
		return nil, nil, nil, fmt.Errorf("user id is required")
	}

	release, err := c.acquire(ctx, userID)
	if err != nil {
		return nil, nil, nil, apperrors.NewApplyTimeout(userID, err)
	}
	defer release()

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, apperrors.NewApplyTimeout(userID, err)
		}

		record, err := c.load(ctx, userID)
		if err != nil {
			return nil, nil, nil, err
		}

		result, err := c.engine.Merge(record.Fields, updates)
		if err != nil {
			// Type conflict: the whole batch is rejected before any write
			return nil, nil, nil, err
		}

		if !result.Changed() {
			// Idempotent no-op: nothing changed, nothing written
			return record, []Change{}, result.Warnings, nil
		}

		now := time.Now().UTC()
		next := &FactRecord{
			UserID:    userID,
			Fields:    result.Fields,
			CreatedAt: record.CreatedAt,
			UpdatedAt: now,
			Version:   record.Version + 1,
		}
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}

		err = c.store.CompareAndSwap(ctx, next, record.Version)
		if err == nil {
			c.logger.Info("Memory record updated",
				zap.String("user_id", userID),
				zap.Int64("version", next.Version),
				zap.Int("changes", len(result.Ops)),
			)
			return next, BuildChangeLog(result.Ops), result.Warnings, nil
		}

		var mismatch *apperrors.ErrVersionMismatch
		if stderrors.As(err, &mismatch) {
			c.logger.Debug("Lost compare-and-swap race, retrying",
				zap.String("user_id", userID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, nil, apperrors.NewApplyTimeout(userID, ctxErr)
		}
		return nil, nil, nil, apperrors.NewStorageUnavailable("compare-and-swap", err)
	}

	return nil, nil, nil, apperrors.NewConcurrentUpdateConflict(userID, c.maxRetries)
}

// BatchSet is the administrative path: every supplied key is applied as a
// plain SET, with no operator-prefix interpretation. It goes through the
// same merge/CAS cycle as extraction-driven updates.
func (c *Coordinator) BatchSet(ctx context.Context, userID string, fields map[string]any) (*FactRecord, []Change, []Warning, error) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	updates := make([]ProposedUpdate, 0, len(fields))
	var warnings []Warning
	for _, key := range keys {
		value, ok := FieldValueFrom(fields[key])
		if !ok {
			warnings = append(warnings, Warning{Key: key, Reason: "value must be a scalar or a list of scalars"})
			continue
		}
		updates = append(updates, ProposedUpdate{Op: OpSet, Field: key, Value: value})
	}

	record, changes, mergeWarnings, err := c.ApplyUpdates(ctx, userID, updates)
	return record, changes, append(warnings, mergeWarnings...), err
}

// GetRecord returns the user's record, or an empty version-0 record when
// none exists yet
func (c *Coordinator) GetRecord(ctx context.Context, userID string) (*FactRecord, error) {
	return c.load(ctx, userID)
}

// DeleteRecord removes the user's record entirely
func (c *Coordinator) DeleteRecord(ctx context.Context, userID string) error {
	if err := c.store.DeleteAll(ctx, userID); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperrors.NewApplyTimeout(userID, ctxErr)
		}
		return apperrors.NewStorageUnavailable("delete", err)
	}
	c.logger.Info("Memory record deleted", zap.String("user_id", userID))
	return nil
}

// load fetches the current record, synthesizing an empty one for new users
func (c *Coordinator) load(ctx context.Context, userID string) (*FactRecord, error) {
	record, err := c.store.Get(ctx, userID)
	if err == nil {
		return record, nil
	}
	var notFound *apperrors.ErrRecordNotFound
	if stderrors.As(err, &notFound) {
		return NewFactRecord(userID), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, apperrors.NewApplyTimeout(userID, ctxErr)
	}
	return nil, apperrors.NewStorageUnavailable("get", err)
}

// acquire takes the per-user token, honoring ctx cancellation while waiting.
// Tokens are created lazily and dropped once uncontended so the map does not
// grow with the total user population.
func (c *Coordinator) acquire(ctx context.Context, userID string) (func(), error) {
	c.mu.Lock()
	token, ok := c.tokens[userID]
	if !ok {
		token = &userToken{sem: semaphore.NewWeighted(1)}
		c.tokens[userID] = token
	}
	token.refs++
	c.mu.Unlock()

	if err := token.sem.Acquire(ctx, 1); err != nil {
		c.releaseRef(userID, token)
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			token.sem.Release(1)
			c.releaseRef(userID, token)
		})
	}
	return release, nil
}

func (c *Coordinator) releaseRef(userID string, token *userToken) {
	c.mu.Lock()
	token.refs--
	if token.refs == 0 {
		delete(c.tokens, userID)
	}
	c.mu.Unlock()
}

// activeTokens reports how many per-user tokens are currently held or
// waited on
func (c *Coordinator) activeTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}
