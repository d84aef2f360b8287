// Package config loads runtime configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Store backends selectable via LEDGERLENS_STORE.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBigQuery = "bigquery"
)

// Config holds everything the binaries need at startup.
type Config struct {
	Port     string
	LogLevel string

	// Store selects the persistence backend: memory, postgres or bigquery.
	Store       string
	PostgresDSN string
	BQProject   string
	BQDataset   string

	// DebtAccounts lists account names treated as debt for the
	// exclude_debt_accounts ingestion flag.
	DebtAccounts []string

	// EmbeddingEnabled gates the external embedding gateway. When off,
	// ingestion behaves as if every request set skip_embedding.
	EmbeddingEnabled bool
	EmbeddingWorkers int

	// JobQueueSize bounds the in-memory clustering job queue.
	JobQueueSize int

	// ForecastCacheTTLSeconds bounds how long forecast responses are
	// served from cache.
	ForecastCacheTTLSeconds int
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present; real environment
// variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	cfg := &Config{
		Port:                    envStr("LEDGERLENS_PORT", "8080"),
		LogLevel:                envStr("LEDGERLENS_LOG_LEVEL", "info"),
		Store:                   envStr("LEDGERLENS_STORE", StoreMemory),
		PostgresDSN:             os.Getenv("LEDGERLENS_POSTGRES_DSN"),
		BQProject:               os.Getenv("LEDGERLENS_BQ_PROJECT"),
		BQDataset:               envStr("LEDGERLENS_BQ_DATASET", "ledgerlens"),
		DebtAccounts:            envList("LEDGERLENS_DEBT_ACCOUNTS"),
		EmbeddingEnabled:        envBool("LEDGERLENS_EMBEDDING_ENABLED", true),
		EmbeddingWorkers:        envInt("LEDGERLENS_EMBEDDING_WORKERS", 4),
		JobQueueSize:            envInt("LEDGERLENS_JOB_QUEUE_SIZE", 100),
		ForecastCacheTTLSeconds: envInt("LEDGERLENS_FORECAST_CACHE_TTL", 300),
	}

	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("config: LEDGERLENS_POSTGRES_DSN is required with the postgres store")
		}
	case StoreBigQuery:
		if cfg.BQProject == "" {
			return nil, fmt.Errorf("config: LEDGERLENS_BQ_PROJECT is required with the bigquery store")
		}
	default:
		return nil, fmt.Errorf("config: unknown store backend %q", cfg.Store)
	}
	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
