package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/peakai/corpusd/internal/backend"
	"github.com/peakai/corpusd/internal/config"
	"github.com/peakai/corpusd/internal/corpus"
	"github.com/peakai/corpusd/internal/httpapi"
	"github.com/peakai/corpusd/internal/logging"
	"github.com/peakai/corpusd/internal/quota"
	"github.com/peakai/corpusd/internal/tenant"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the corpusd HTTP server",
	Long: `Start the corpusd daemon: loads configuration, connects the retrieval
backend, restores the tenant session, and serves the HTTP API until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "config file path (default ~/.config/corpusd/config.yaml)")
}

// runServe wires all components and blocks until the context is
// cancelled or the server fails.
func runServe(ctx context.Context) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting corpusd",
		zap.String("version", version),
		zap.String("provider", cfg.Retrieval.Provider),
	)

	embedder, err := backend.NewTEIEmbedder(backend.EmbedderConfig{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		APIKey:  cfg.Embeddings.APIKey.Value(),
		Timeout: cfg.Embeddings.Timeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	store, err := backend.New(backend.Config{
		Provider: cfg.Retrieval.Provider,
		Chromem: backend.ChromemConfig{
			Path:      cfg.Retrieval.Chromem.Path,
			Compress:  cfg.Retrieval.Chromem.Compress,
			ChunkSize: cfg.Retrieval.Chromem.ChunkSize,
		},
		Qdrant: backend.QdrantConfig{
			Host:           cfg.Retrieval.Qdrant.Host,
			Port:           cfg.Retrieval.Qdrant.Port,
			UseTLS:         cfg.Retrieval.Qdrant.UseTLS,
			APIKey:         cfg.Retrieval.Qdrant.APIKey.Value(),
			RequestTimeout: cfg.Retrieval.Qdrant.RequestTimeout.Duration(),
			RetryAttempts:  cfg.Retrieval.Qdrant.RetryAttempts,
			VectorSize:     uint64(cfg.Retrieval.Qdrant.VectorSize),
			ChunkSize:      cfg.Retrieval.Qdrant.ChunkSize,
		},
	}, embedder, logger)
	if err != nil {
		return fmt.Errorf("creating retrieval backend: %w", err)
	}
	defer func() { _ = store.Close() }()

	sessions, err := tenant.NewFileSessionStore(cfg.Storage.SessionDir)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	tenants, err := tenant.NewManager(sessions, logger)
	if err != nil {
		return fmt.Errorf("creating tenant manager: %w", err)
	}

	enforcer, err := quota.NewEnforcer(tenants, logger)
	if err != nil {
		return fmt.Errorf("creating quota enforcer: %w", err)
	}

	cache, err := corpus.NewFileCache(cfg.Storage.CacheDir, logger)
	if err != nil {
		return fmt.Errorf("creating corpus cache: %w", err)
	}

	ingestor, err := corpus.NewIngestor(tenants, enforcer, cache, store, logger)
	if err != nil {
		return fmt.Errorf("creating ingestor: %w", err)
	}

	engine, err := corpus.NewEngine(tenants, enforcer, ingestor, store, logger)
	if err != nil {
		return fmt.Errorf("creating retrieval engine: %w", err)
	}

	server, err := httpapi.NewServer(tenants, ingestor, engine, logger, httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout.Duration()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
