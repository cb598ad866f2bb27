package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Memory backend: "neo4j" or "memory" (in-process, for local dev/tests)
	MemoryBackend string

	// Extraction LLM (OpenAI-compatible endpoint)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ModelID       string

	// Merge/coordinator tuning
	ConflictPairs []ConflictPair
	CASMaxRetries int
	ApplyTimeout  time.Duration
}

// ConflictPair declares two field names whose list items are mutually exclusive
type ConflictPair struct {
	A string
	B string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		Neo4jURI:      getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", "password"),
		MemoryBackend: getEnv("MEMORY_BACKEND", "neo4j"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ModelID:       getEnv("MODEL_ID", "gpt-4o-mini"),
		ConflictPairs: parseConflictPairs(getEnv("CONFLICT_PAIRS", "likes:dislikes")),
		CASMaxRetries: getEnvInt("CAS_MAX_RETRIES", 5),
		ApplyTimeout:  time.Duration(getEnvInt("APPLY_TIMEOUT_MS", 10000)) * time.Millisecond,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.MemoryBackend {
	case "neo4j":
		if c.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required")
		}
		if c.Neo4jUser == "" {
			return fmt.Errorf("NEO4J_USER is required")
		}
		if c.Neo4jPassword == "" {
			return fmt.Errorf("NEO4J_PASSWORD is required")
		}
	case "memory":
		// In-process store needs nothing
	default:
		return fmt.Errorf("MEMORY_BACKEND must be 'neo4j' or 'memory', got %q", c.MemoryBackend)
	}
	if c.CASMaxRetries < 1 {
		return fmt.Errorf("CAS_MAX_RETRIES must be at least 1")
	}
	// OpenAI API key is optional: without it the extraction endpoint is
	// disabled but the memory API still works
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// parseConflictPairs parses "likes:dislikes,foo:bar" into pairs.
// Malformed entries are dropped.
func parseConflictPairs(raw string) []ConflictPair {
	var pairs []ConflictPair
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			continue
		}
		a := strings.TrimSpace(parts[0])
		b := strings.TrimSpace(parts[1])
		if a == "" || b == "" || a == b {
			continue
		}
		pairs = append(pairs, ConflictPair{A: a, B: b})
	}
	return pairs
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
