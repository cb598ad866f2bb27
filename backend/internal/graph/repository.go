package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"personalmem/backend/pkg/logger"
)

// Repository handles all Neo4j database operations: the per-user memory
// record store and the chat history
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext) *Repository {
	return &Repository{
		driver: driver,
		logger: logger.Get(),
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// EnsureSchema creates the uniqueness constraints the store relies on.
// The MemoryRecord constraint is load-bearing: it is what makes the
// version-0 create path of CompareAndSwap atomic.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	constraints := []string{
		`CREATE CONSTRAINT memory_record_user_id IF NOT EXISTS
		 FOR (m:MemoryRecord) REQUIRE m.user_id IS UNIQUE`,
		`CREATE CONSTRAINT chat_chat_id IF NOT EXISTS
		 FOR (c:Chat) REQUIRE c.chat_id IS UNIQUE`,
	}
	for _, stmt := range constraints {
		result, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}

	r.logger.Info("Graph schema ensured")
	return nil
}

// ErrChatNotFound is returned when a chat id does not exist
type ErrChatNotFound struct {
	ChatID string
}

func (e ErrChatNotFound) Error() string {
	return fmt.Sprintf("chat not found: %s", e.ChatID)
}
