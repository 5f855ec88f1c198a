package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupHome points HOME at a temp dir so the loader's allowed-directory
// checks resolve inside the test sandbox.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "corpusd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	setupHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "chromem", cfg.Retrieval.Provider)
	assert.Equal(t, "http://localhost:8080", cfg.Embeddings.BaseURL)
	assert.NotEmpty(t, cfg.Storage.CacheDir)
	assert.NotEmpty(t, cfg.Storage.SessionDir)
}

func TestLoadWithFile_YAML(t *testing.T) {
	dir := setupHome(t)
	path := writeConfig(t, dir, `
server:
  port: 8181
  shutdown_timeout: 5s
logging:
  level: debug
  format: console
retrieval:
  provider: qdrant
  qdrant:
    host: qdrant.internal
    port: 7000
    api_key: super-secret
embeddings:
  base_url: http://tei:8080
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "qdrant", cfg.Retrieval.Provider)
	assert.Equal(t, "qdrant.internal", cfg.Retrieval.Qdrant.Host)
	assert.Equal(t, 7000, cfg.Retrieval.Qdrant.Port)
	assert.Equal(t, "super-secret", cfg.Retrieval.Qdrant.APIKey.Value())
	assert.Equal(t, "http://tei:8080", cfg.Embeddings.BaseURL)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	dir := setupHome(t)
	path := writeConfig(t, dir, "server:\n  host: 127.0.0.1\n  port: 8181\n")

	t.Setenv("SERVER_HOST", "0.0.0.0")
	t.Setenv("SERVER_PORT", "8282")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8282, cfg.Server.Port)
}

func TestLoadWithFile_RejectsWeakPermissions(t *testing.T) {
	dir := setupHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8181\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsOutsideAllowedDirs(t *testing.T) {
	setupHome(t)
	outside := filepath.Join(t.TempDir(), "config.yaml")

	_, err := LoadWithFile(outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file must be in")
}

func TestLoadWithFile_RejectsOversizedFile(t *testing.T) {
	dir := setupHome(t)
	path := filepath.Join(dir, "config.yaml")

	big := make([]byte, maxConfigFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	require.NoError(t, os.WriteFile(path, big, 0600))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file too large")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"invalid level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"invalid format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"invalid provider", func(c *Config) { c.Retrieval.Provider = "pinecone" }, "invalid retrieval provider"},
		{"missing embeddings url", func(c *Config) { c.Embeddings.BaseURL = "" }, "embeddings base URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			require.NoError(t, applyDefaults(cfg))
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("not a duration")))
}
