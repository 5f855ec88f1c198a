package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("corpusd.backend.qdrant")

// QdrantConfig configures the Qdrant gRPC provider.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int `koanf:"port"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// APIKey is the optional API key for authentication.
	APIKey string `koanf:"api_key"`

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int `koanf:"max_message_size"`

	// RequestTimeout is the default timeout for individual requests.
	// Default: 30 seconds
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// RetryAttempts is the number of retries for transient failures.
	// Default: 3
	RetryAttempts int `koanf:"retry_attempts"`

	// VectorSize is the embedding dimension for new collections.
	// Default: 384 (bge-small)
	VectorSize uint64 `koanf:"vector_size"`

	// ChunkSize is the target chunk length in runes.
	// Default: 1200
	ChunkSize int `koanf:"chunk_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// QdrantBackend implements Backend against a remote Qdrant server over
// gRPC. Each corpus maps to one collection; transient gRPC failures are
// retried with exponential backoff inside the provider, invisible to the
// caller.
type QdrantBackend struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
}

// NewQdrantBackend creates a remote backend and verifies connectivity.
func NewQdrantBackend(config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantBackend, error) {
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

	qdrantConfig := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	}
	if !config.UseTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	b := &QdrantBackend{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.RequestTimeout)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check failed: %v", ErrBackend, err)
	}

	logger.Info("qdrant backend initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
	)

	return b, nil
}

// ensureCollection creates the corpus collection if it does not exist.
func (b *QdrantBackend) ensureCollection(ctx context.Context, corpusID string) error {
	exists, err := b.client.CollectionExists(ctx, corpusID)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", corpusID, err)
	}
	if exists {
		return nil
	}

	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: corpusID,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     b.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// Another writer may have created it between the check and here.
		if st, ok := status.FromError(err); ok && st.Code() == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("creating collection %s: %w", corpusID, err)
	}
	return nil
}

// ImportDocument chunks, embeds, and upserts a document's points.
func (b *QdrantBackend) ImportDocument(ctx context.Context, corpusID string, doc Document) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.ImportDocument")
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

	embeddings, err := b.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return 0, fmt.Errorf("%w: embedding document %s: %v", ErrBackend, doc.ID, err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("%w: embedder returned %d vectors for %d chunks", ErrBackend, len(embeddings), len(chunks))
	}

	err = b.retryOperation(ctx, func() error {
		if err := b.ensureCollection(ctx, corpusID); err != nil {
			return err
		}

		points := make([]*qdrant.PointStruct, len(chunks))
		for i, chunk := range chunks {
			payload := make(map[string]*qdrant.Value, len(doc.Metadata)+3)
			for k, v := range doc.Metadata {
				payload[k] = toQdrantValue(v)
			}
			payload["document_id"] = toQdrantValue(doc.ID)
			payload["chunk_index"] = toQdrantValue(i)
			payload["content"] = toQdrantValue(chunk)

			points[i] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(uuid.NewString()),
				Vectors: qdrant.NewVectors(embeddings[i]...),
				Payload: payload,
			}
		}

		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: corpusID,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return 0, fmt.Errorf("%w: upserting chunks: %v", ErrBackend, err)
	}

	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	span.SetStatus(otelcodes.Ok, "success")

	b.logger.Debug("imported document",
		zap.String("corpus_id", corpusID),
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
	)

	return len(chunks), nil
}

// RetrieveContexts performs similarity search in the corpus collection.
func (b *QdrantBackend) RetrieveContexts(ctx context.Context, corpusID, query string, opts RetrieveOptions) ([]ScoredChunk, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.RetrieveContexts")
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

	vector, err := b.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("%w: embedding query: %v", ErrBackend, err)
	}

	var results []*qdrant.ScoredPoint
	err = b.retryOperation(ctx, func() error {
		exists, err := b.client.CollectionExists(ctx, corpusID)
		if err != nil {
			return err
		}
		if !exists {
			results = nil
			return nil
		}

		res, err := b.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: corpusID,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         metadataFilter(opts.Filter),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("%w: querying collection %s: %v", ErrBackend, corpusID, err)
	}

	chunks := make([]ScoredChunk, 0, len(results))
	for _, p := range results {
		if opts.SimilarityThreshold > 0 && p.Score < opts.SimilarityThreshold {
			continue
		}
		meta := fromQdrantPayload(p.Payload)
		documentID, _ := meta["document_id"].(string)
		content, _ := meta["content"].(string)
		delete(meta, "content")
		chunks = append(chunks, ScoredChunk{
			ChunkID:        pointIDString(p.Id),
			DocumentID:     documentID,
			Content:        content,
			Metadata:       meta,
			RelevanceScore: p.Score,
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(chunks)))
	span.SetStatus(otelcodes.Ok, "success")

	return chunks, nil
}

// DeleteDocument removes all points whose payload carries the document id.
func (b *QdrantBackend) DeleteDocument(ctx context.Context, corpusID, documentID string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.DeleteDocument")
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

	err := b.retryOperation(ctx, func() error {
		exists, err := b.client.CollectionExists(ctx, corpusID)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}

		_, err = b.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: corpusID,
			Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
				Must: []*qdrant.Condition{matchCondition("document_id", documentID)},
			}),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("%w: deleting document %s: %v", ErrBackend, documentID, err)
	}

	span.SetStatus(otelcodes.Ok, "success")
	return nil
}

// Close closes the gRPC connection.
func (b *QdrantBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff on
// transient gRPC errors.
func (b *QdrantBackend) retryOperation(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt <= b.config.RetryAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransientError(err) {
			return err
		}
		if attempt == b.config.RetryAttempts {
			break
		}

		b.logger.Debug("retrying after transient error",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", b.config.RetryAttempts, lastErr)
}

// isTransientError reports whether a gRPC error is worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// metadataFilter builds an equality filter over payload fields. A nil or
// empty map disables filtering.
func metadataFilter(filter map[string]interface{}) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, matchCondition(k, fmt.Sprintf("%v", v)))
	}
	return &qdrant.Filter{Must: must}
}

func matchCondition(field, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: field,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func toQdrantValue(v interface{}) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	result := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch kind := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			result[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			result[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			result[k] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			result[k] = kind.BoolValue
		default:
			result[k] = v.String()
		}
	}
	return result
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// Ensure QdrantBackend implements Backend.
var _ Backend = (*QdrantBackend)(nil)
