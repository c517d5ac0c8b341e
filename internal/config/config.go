// Package config provides configuration management for the ledger service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for the databases, always absolute
	Port         int
	LogLevel     string
	DevMode      bool
	FxBaseURL    string        // Bank of Canada Valet API base URL
	SliceTimeout time.Duration // Hard wall-clock cap for one slice recompute
}

// Load reads configuration from environment variables, with an optional
// .env file for development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("ACB_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		Port:         getEnvAsInt("ACB_PORT", 3000),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		FxBaseURL:    getEnv("FX_BASE_URL", "https://www.bankofcanada.ca/valet"),
		SliceTimeout: time.Duration(getEnvAsInt("SLICE_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	return cfg, nil
}

// LedgerDBPath returns the path of the raw-event ledger database.
func (c *Config) LedgerDBPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// ClientDataDBPath returns the path of the external-API cache database.
func (c *Config) ClientDataDBPath() string {
	return filepath.Join(c.DataDir, "client_data.db")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
