// Package config provides configuration loading for corpusd.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, RETRIEVAL_PROVIDER, ...)
//  2. YAML config file (~/.config/corpusd/config.yaml)
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete corpusd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Storage    StorageConfig    `koanf:"storage"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Host is the interface to bind. Defaults to localhost; set to
	// 0.0.0.0 to accept remote connections.
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" for production or "console" for development.
	Format string `koanf:"format"`
}

// RetrievalConfig selects and configures the vector backend.
type RetrievalConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant" (remote).
	Provider string `koanf:"provider"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds embedded chromem provider settings.
type ChromemConfig struct {
	Path      string `koanf:"path"`
	Compress  bool   `koanf:"compress"`
	ChunkSize int    `koanf:"chunk_size"`
}

// QdrantConfig holds remote Qdrant provider settings.
type QdrantConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	UseTLS         bool     `koanf:"use_tls"`
	APIKey         Secret   `koanf:"api_key"`
	RequestTimeout Duration `koanf:"request_timeout"`
	RetryAttempts  int      `koanf:"retry_attempts"`
	VectorSize     int      `koanf:"vector_size"`
	ChunkSize      int      `koanf:"chunk_size"`
}

// EmbeddingsConfig holds TEI embedding server settings.
type EmbeddingsConfig struct {
	BaseURL string   `koanf:"base_url"`
	Model   string   `koanf:"model"`
	APIKey  Secret   `koanf:"api_key"`
	Timeout Duration `koanf:"timeout"`
}

// StorageConfig holds local durable-state directories.
type StorageConfig struct {
	// CacheDir holds the per-corpus cache snapshots.
	CacheDir string `koanf:"cache_dir"`

	// SessionDir holds the restored organization and user records.
	SessionDir string `koanf:"session_dir"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) error {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Retrieval.Provider == "" {
		cfg.Retrieval.Provider = "chromem"
	}
	if cfg.Retrieval.Qdrant.Host == "" {
		cfg.Retrieval.Qdrant.Host = "localhost"
	}
	if cfg.Retrieval.Qdrant.Port == 0 {
		cfg.Retrieval.Qdrant.Port = 6334
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(30 * time.Second)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	base := filepath.Join(home, ".config", "corpusd")
	if cfg.Retrieval.Chromem.Path == "" {
		cfg.Retrieval.Chromem.Path = filepath.Join(base, "retrieval")
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = filepath.Join(base, "cache")
	}
	if cfg.Storage.SessionDir == "" {
		cfg.Storage.SessionDir = filepath.Join(base, "session")
	}

	return nil
}

// Qdrant is a convenience accessor for the qdrant section.
func (c *Config) Qdrant() QdrantConfig {
	return c.Retrieval.Qdrant
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s (expected json or console)", c.Logging.Format)
	}

	switch c.Retrieval.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("invalid retrieval provider: %s (supported: chromem, qdrant)", c.Retrieval.Provider)
	}

	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("embeddings base URL is required")
	}

	return nil
}
