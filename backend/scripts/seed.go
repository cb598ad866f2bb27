package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"personalmem/backend/internal/graph"
	"personalmem/backend/internal/memory"
	"personalmem/backend/pkg/config"
	"personalmem/backend/pkg/logger"
)

func main() {
	userID := flag.String("user-id", "demo-user", "User ID to seed a memory record for")
	reset := flag.Bool("reset", false, "Delete the user's existing record first")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting database seeding...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	defer driver.Close(context.Background())

	// Verify connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	repo := graph.NewRepository(driver)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to ensure graph schema", zap.Error(err))
	}

	pairs := make([]memory.ConflictPair, 0, len(cfg.ConflictPairs))
	for _, pair := range cfg.ConflictPairs {
		pairs = append(pairs, memory.ConflictPair{A: pair.A, B: pair.B})
	}
	coordinator := memory.NewCoordinator(repo, memory.NewEngine(pairs), cfg.CASMaxRetries)

	if *reset {
		if err := coordinator.DeleteRecord(ctx, *userID); err != nil {
			log.Fatal("Failed to reset record", zap.Error(err))
		}
		log.Info("Existing record deleted", zap.String("user_id", *userID))
	}

	// Seed through the coordinator so the demo record obeys the same merge
	// semantics as live traffic
	fields := map[string]any{
		"name":     "Demo User",
		"role":     "developer",
		"skills":   []any{"Go", "Python"},
		"likes":    []any{"pizza", "hiking"},
		"dislikes": []any{"tomatoes"},
	}

	record, changes, warnings, err := coordinator.BatchSet(ctx, *userID, fields)
	if err != nil {
		log.Fatal("Failed to seed memory record", zap.Error(err))
	}

	log.Info("Seed complete",
		zap.String("user_id", record.UserID),
		zap.Int64("version", record.Version),
		zap.Int("changes", len(changes)),
		zap.Int("warnings", len(warnings)),
	)
}
