package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"personalmem/backend/internal/adapter"
	"personalmem/backend/internal/graph"
	"personalmem/backend/internal/memory"
	"personalmem/backend/internal/services"
	"personalmem/backend/pkg/config"
	"personalmem/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting personal memory API server...")

	// Pick the record store backend
	var store memory.RecordStore
	var chats services.ChatStore

	switch cfg.MemoryBackend {
	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(
			cfg.Neo4jURI,
			neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
		)
		if err != nil {
			log.Fatal("Failed to create Neo4j driver", zap.Error(err))
		}
		defer driver.Close(context.Background())

		ctx := context.Background()
		if err := driver.VerifyConnectivity(ctx); err != nil {
			log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
		}

		repo := graph.NewRepository(driver)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to ensure graph schema", zap.Error(err))
		}
		store = repo
		chats = repo

	case "memory":
		log.Warn("Using in-process memory backend; records will not survive a restart")
		store = memory.NewMemStore()
		chats = services.NewMemChatStore()
	}

	// Merge engine + coordinator
	pairs := make([]memory.ConflictPair, 0, len(cfg.ConflictPairs))
	for _, pair := range cfg.ConflictPairs {
		pairs = append(pairs, memory.ConflictPair{A: pair.A, B: pair.B})
	}
	engine := memory.NewEngine(pairs)
	coordinator := memory.NewCoordinator(store, engine, cfg.CASMaxRetries)

	// Extraction collaborator (optional)
	var extractor services.UpdateExtractor
	if cfg.OpenAIAPIKey != "" {
		extractor = adapter.NewExtractor(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.ModelID)
	} else {
		log.Warn("OPENAI_API_KEY not set; automatic memory extraction is disabled")
	}

	svc := services.NewMemoryService(coordinator, extractor, chats)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(cfg, log, coordinator, svc, chats)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port), zap.String("backend", cfg.MemoryBackend))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
