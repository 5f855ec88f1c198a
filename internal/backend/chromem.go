package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("corpusd.backend.chromem")

// ChromemConfig holds configuration for the embedded chromem-go provider.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/corpusd/retrieval"
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`

	// ChunkSize is the target chunk length in runes.
	// Default: 1200
	ChunkSize int `koanf:"chunk_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/corpusd/retrieval"
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.ChunkSize < 0 {
		return fmt.Errorf("%w: chunk size cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// ChromemBackend implements Backend with an embedded chromem-go database.
//
// Each corpus maps to one chromem collection named by the corpus id, so
// cross-corpus reads are impossible by construction. Persistence is
// automatic; chunks survive restarts alongside the corpus cache.
type ChromemBackend struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger
}

// NewChromemBackend creates an embedded backend with the given config.
func NewChromemBackend(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemBackend, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	b := &ChromemBackend{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	logger.Info("chromem backend initialized",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
		zap.Int("chunk_size", config.ChunkSize),
	)

	return b, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder interface to chromem.
func (b *ChromemBackend) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return b.embedder.EmbedQuery(ctx, text)
	}
}

// ImportDocument chunks, embeds, and stores a document.
func (b *ChromemBackend) ImportDocument(ctx context.Context, corpusID string, doc Document) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.ImportDocument")
	defer span.End()

	span.SetAttributes(
		attribute.String("corpus_id", corpusID),
		attribute.String("document_id", doc.ID),
	)

	if err := ValidateCorpusID(corpusID); err != nil {
		return 0, err
	}
	if strings.TrimSpace(doc.Content) == "" {
		return 0, ErrEmptyDocument
	}

	chunks := chunkContent(doc.Content, b.config.ChunkSize)

	collection, err := b.db.GetOrCreateCollection(corpusID, nil, b.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: getting collection %s: %v", ErrBackend, corpusID, err)
	}

	texts := make([]string, len(chunks))
	copy(texts, chunks)

	embeddings, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: embedding document %s: %v", ErrBackend, doc.ID, err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("%w: embedder returned %d vectors for %d chunks", ErrBackend, len(embeddings), len(chunks))
	}

	chromemDocs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		meta := metadataToString(doc.Metadata)
		meta["document_id"] = doc.ID
		chromemDocs[i] = chromem.Document{
			ID:        fmt.Sprintf("%s_%d", doc.ID, i),
			Content:   chunk,
			Metadata:  meta,
			Embedding: embeddings[i],
		}
	}

	// Concurrency of 1: embeddings are already computed.
	if err := collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: adding chunks: %v", ErrBackend, err)
	}

	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	span.SetStatus(codes.Ok, "success")

	b.logger.Debug("imported document",
		zap.String("corpus_id", corpusID),
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
	)

	return len(chunks), nil
}

// RetrieveContexts performs semantic search in the corpus.
func (b *ChromemBackend) RetrieveContexts(ctx context.Context, corpusID, query string, opts RetrieveOptions) ([]ScoredChunk, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.RetrieveContexts")
	defer span.End()

	span.SetAttributes(
		attribute.String("corpus_id", corpusID),
		attribute.Int("top_k", opts.TopK),
	)

	if err := ValidateCorpusID(corpusID); err != nil {
		return nil, err
	}
	if query == "" {
		return nil, ErrEmptyQuery
	}

	k := opts.TopK
	if k <= 0 {
		k = 5
	}

	collection := b.db.GetCollection(corpusID, b.embeddingFunc())
	if collection == nil {
		// A corpus with no imported documents has no collection yet.
		return []ScoredChunk{}, nil
	}

	// chromem requires nResults <= document count.
	docCount := collection.Count()
	if docCount == 0 {
		return []ScoredChunk{}, nil
	}
	if k > docCount {
		k = docCount
	}

	results, err := collection.Query(ctx, query, k, metadataToString(opts.Filter), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: querying collection %s: %v", ErrBackend, corpusID, err)
	}

	chunks := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		if opts.SimilarityThreshold > 0 && r.Similarity < opts.SimilarityThreshold {
			continue
		}
		meta := metadataFromString(r.Metadata)
		documentID, _ := meta["document_id"].(string)
		chunks = append(chunks, ScoredChunk{
			ChunkID:        r.ID,
			DocumentID:     documentID,
			Content:        r.Content,
			Metadata:       meta,
			Embedding:      r.Embedding,
			RelevanceScore: r.Similarity,
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(chunks)))
	span.SetStatus(codes.Ok, "success")

	return chunks, nil
}

// DeleteDocument removes a document's chunks from the corpus.
func (b *ChromemBackend) DeleteDocument(ctx context.Context, corpusID, documentID string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.DeleteDocument")
	defer span.End()

	span.SetAttributes(
		attribute.String("corpus_id", corpusID),
		attribute.String("document_id", documentID),
	)

	if err := ValidateCorpusID(corpusID); err != nil {
		return err
	}
	if documentID == "" {
		return fmt.Errorf("%w: document id required", ErrBackend)
	}

	collection := b.db.GetCollection(corpusID, b.embeddingFunc())
	if collection == nil {
		// Nothing imported yet; deleting an absent document is not an error.
		return nil
	}

	if err := collection.Delete(ctx, map[string]string{"document_id": documentID}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: deleting document %s: %v", ErrBackend, documentID, err)
	}

	span.SetStatus(codes.Ok, "success")

	b.logger.Debug("deleted document",
		zap.String("corpus_id", corpusID),
		zap.String("document_id", documentID),
	)

	return nil
}

// Close closes the backend. chromem persists automatically.
func (b *ChromemBackend) Close() error {
	b.logger.Info("chromem backend closed")
	return nil
}

// metadataToString converts metadata to chromem's string map form.
func metadataToString(metadata map[string]interface{}) map[string]string {
	result := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = fmt.Sprintf("%d", val)
		case int64:
			result[k] = fmt.Sprintf("%d", val)
		case float64:
			result[k] = fmt.Sprintf("%f", val)
		case bool:
			result[k] = fmt.Sprintf("%t", val)
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// metadataFromString converts chromem's string map back to metadata.
func metadataFromString(metadata map[string]string) map[string]interface{} {
	result := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		result[k] = v
	}
	return result
}

// Ensure ChromemBackend implements Backend.
var _ Backend = (*ChromemBackend)(nil)
