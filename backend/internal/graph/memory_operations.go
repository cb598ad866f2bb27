package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"personalmem/backend/internal/memory"
	"personalmem/backend/pkg/errors"
)

// ============================================================================
// Memory Record Operations (memory.RecordStore implementation)
// ============================================================================

// Fields are persisted as a JSON string property: Neo4j properties cannot
// hold heterogeneous nested values, and the store contract only needs the
// whole document back.

// Get retrieves the memory record for a user
func (r *Repository) Get(ctx context.Context, userID string) (*memory.FactRecord, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (m:MemoryRecord {user_id: $userID})
		RETURN m.fields as fields, m.version as version,
		       m.created_at as created_at, m.updated_at as updated_at
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID": userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get memory record: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to read memory record: %w", err)
		}
		return nil, errors.NewRecordNotFound(userID)
	}

	record := result.Record()
	var plain map[string]any
	if raw := getStringFromRecord(record, "fields"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &plain); err != nil {
			return nil, fmt.Errorf("corrupt fields payload for user %s: %w", userID, err)
		}
	}

	return &memory.FactRecord{
		UserID:    userID,
		Fields:    memory.FieldsFromPlain(plain),
		Version:   getInt64FromRecord(record, "version"),
		CreatedAt: getTimeFromRecord(record, "created_at"),
		UpdatedAt: getTimeFromRecord(record, "updated_at"),
	}, nil
}

// CompareAndSwap writes the record iff the stored version still equals
// expectedVersion. expectedVersion 0 creates the record; the uniqueness
// constraint on user_id turns a create race into a version mismatch.
func (r *Repository) CompareAndSwap(ctx context.Context, rec *memory.FactRecord, expectedVersion int64) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	payload, err := json.Marshal(rec.PlainFields())
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	params := map[string]interface{}{
		"userID":    rec.UserID,
		"fields":    string(payload),
		"version":   rec.Version,
		"updatedAt": rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	if expectedVersion == 0 {
		params["createdAt"] = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
		query := `
			CREATE (m:MemoryRecord {
				user_id: $userID,
				fields: $fields,
				version: $version,
				created_at: $createdAt,
				updated_at: $updatedAt
			})
		`
		result, err := session.Run(ctx, query, params)
		if err == nil {
			_, err = result.Consume(ctx)
		}
		if err != nil {
			if isConstraintViolation(err) {
				return errors.NewVersionMismatch(rec.UserID, expectedVersion)
			}
			return fmt.Errorf("failed to create memory record: %w", err)
		}
		r.logger.Debug("Memory record created",
			zap.String("user_id", rec.UserID),
			zap.Int64("version", rec.Version),
		)
		return nil
	}

	// A single auto-commit query: the version guard and the write are atomic
	params["expected"] = expectedVersion
	query := `
		MATCH (m:MemoryRecord {user_id: $userID})
		WHERE m.version = $expected
		SET m.fields = $fields,
		    m.version = $version,
		    m.updated_at = $updatedAt
		RETURN m.version as version
	`

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("failed to update memory record: %w", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return fmt.Errorf("failed to update memory record: %w", err)
		}
		return errors.NewVersionMismatch(rec.UserID, expectedVersion)
	}
	return nil
}

// DeleteAll removes the user's memory record; absent is a no-op
func (r *Repository) DeleteAll(ctx context.Context, userID string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (m:MemoryRecord {user_id: $userID})
		DETACH DELETE m
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID": userID,
	})
	if err == nil {
		_, err = result.Consume(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to delete memory record: %w", err)
	}

	r.logger.Info("Memory record deleted from graph", zap.String("user_id", userID))
	return nil
}

func isConstraintViolation(err error) bool {
	if neoErr, ok := err.(*neo4j.Neo4jError); ok {
		return strings.Contains(neoErr.Code, "ConstraintValidationFailed")
	}
	return false
}
