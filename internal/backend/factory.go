package backend

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a retrieval backend provider.
type Config struct {
	// Provider selects the backend implementation:
	//   - "chromem" (default): embedded, no external dependencies
	//   - "qdrant": remote Qdrant server over gRPC
	Provider string `koanf:"provider"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "chromem"
	}
	c.Chromem.ApplyDefaults()
	c.Qdrant.ApplyDefaults()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case "", "chromem":
		return c.Chromem.Validate()
	case "qdrant":
		return c.Qdrant.Validate()
	default:
		return fmt.Errorf("%w: unsupported provider: %s (supported: chromem, qdrant)", ErrInvalidConfig, c.Provider)
	}
}

// New creates a Backend based on the configured provider.
//
// The chromem provider is the default and requires no external services;
// qdrant requires a reachable server and fails fast when the health check
// does not pass.
func New(cfg Config, embedder Embedder, logger *zap.Logger) (Backend, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "chromem":
		return NewChromemBackend(cfg.Chromem, embedder, logger)
	case "qdrant":
		return NewQdrantBackend(cfg.Qdrant, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported provider: %s", ErrInvalidConfig, cfg.Provider)
	}
}
