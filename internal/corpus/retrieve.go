package corpus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/peakai/corpusd/internal/backend"
	"github.com/peakai/corpusd/internal/quota"
	"github.com/peakai/corpusd/internal/tenant"
)

// retrieveTracer for OpenTelemetry instrumentation.
var retrieveTracer = otel.Tracer("corpusd.corpus.retrieve")

// defaultTopK bounds a query when the caller does not specify a limit.
const defaultTopK = 5

// DateRange bounds results by document creation time. Zero values leave
// the corresponding side unbounded.
type DateRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// QueryFilter narrows retrieval to matching documents.
type QueryFilter struct {
	SourceTypes []SourceType `json:"source_types,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	DateRange   *DateRange   `json:"date_range,omitempty"`
}

// QueryOptions bound a retrieval request.
type QueryOptions struct {
	// TopK is the maximum number of chunks to return. Default: 5
	TopK int `json:"top_k,omitempty"`

	// SimilarityThreshold drops chunks scoring below it.
	SimilarityThreshold float32 `json:"similarity_threshold,omitempty"`

	// Filter narrows results by document attributes.
	Filter *QueryFilter `json:"filter,omitempty"`
}

// QueryResult is a ranked answer to one retrieval query. Chunks keep the
// backend's descending relevance order; Sources lists the distinct parent
// documents resolvable from the local corpus.
type QueryResult struct {
	Chunks       []Chunk       `json:"chunks"`
	Sources      []Document    `json:"sources"`
	TotalResults int           `json:"total_results"`
	QueryTime    time.Duration `json:"query_time"`
}

// Engine answers semantic queries scoped to the current tenant.
//
// The engine never re-sorts chunks: the backend's ranking is the
// contract, and re-sorting on a different key would silently diverge
// from it. Backend failures propagate unretried; retry policy belongs to
// the provider transport.
type Engine struct {
	tenants  *tenant.Manager
	quota    *quota.Enforcer
	ingestor *Ingestor
	store    backend.Backend
	logger   *zap.Logger

	// usageMu guards the in-process monthly query counters, keyed by
	// organization id so one tenant's usage never consumes another
	// tenant's ceiling.
	usageMu sync.Mutex
	month   string
	queries map[string]int
}

// NewEngine creates an Engine over the given dependencies.
func NewEngine(tenants *tenant.Manager, enforcer *quota.Enforcer, ingestor *Ingestor, store backend.Backend, logger *zap.Logger) (*Engine, error) {
	if tenants == nil {
		return nil, fmt.Errorf("tenant manager is required")
	}
	if enforcer == nil {
		return nil, fmt.Errorf("quota enforcer is required")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if store == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		tenants:  tenants,
		quota:    enforcer,
		ingestor: ingestor,
		store:    store,
		logger:   logger,
		queries:  make(map[string]int),
	}, nil
}

// Query performs a tenant-scoped semantic search.
func (e *Engine) Query(ctx context.Context, text string, opts QueryOptions) (*QueryResult, error) {
	ctx, span := retrieveTracer.Start(ctx, "Engine.Query")
	defer span.End()

	// Fail fast before touching the backend.
	orgID, err := e.tenants.RequireOrgID()
	if err != nil {
		queriesTotal.WithLabelValues("no_org").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("organization_id", orgID))

	if strings.TrimSpace(text) == "" {
		return nil, backend.ErrEmptyQuery
	}

	if err := e.checkAndCountQuery(orgID); err != nil {
		queriesTotal.WithLabelValues("quota").Inc()
		return nil, err
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	span.SetAttributes(attribute.Int("top_k", topK))

	c, err := e.ingestor.GetOrCreateCorpus(ctx)
	if err != nil {
		return nil, err
	}

	// Over-fetch when filters prune locally so topK survives filtering.
	fetchK := topK
	if opts.Filter != nil {
		fetchK = topK * 4
	}

	start := time.Now()
	scored, err := e.store.RetrieveContexts(ctx, c.ID, text, backend.RetrieveOptions{
		TopK:                fetchK,
		SimilarityThreshold: opts.SimilarityThreshold,
		Filter:              backendFilter(opts.Filter),
	})
	elapsed := time.Since(start)
	queryDuration.Observe(elapsed.Seconds())
	if err != nil {
		queriesTotal.WithLabelValues("backend_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	chunks := make([]Chunk, 0, topK)
	for _, sc := range scored {
		if !matchesFilter(sc, opts.Filter) {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:             sc.ChunkID,
			DocumentID:     sc.DocumentID,
			Content:        sc.Content,
			Metadata:       sc.Metadata,
			Embedding:      sc.Embedding,
			RelevanceScore: sc.RelevanceScore,
		})
		if len(chunks) == topK {
			break
		}
	}

	result := &QueryResult{
		Chunks:       chunks,
		Sources:      resolveSources(c, chunks),
		TotalResults: len(chunks),
		QueryTime:    elapsed,
	}

	queriesTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int("results_count", len(chunks)))
	span.SetStatus(codes.Ok, "success")

	e.logger.Debug("query completed",
		zap.String("corpus_id", c.ID),
		zap.Int("results", len(chunks)),
		zap.Duration("query_time", elapsed),
	)
	return result, nil
}

// checkAndCountQuery enforces the organization's monthly query ceiling
// and records the query against it. Counters are in-process and reset on
// month rollover.
func (e *Engine) checkAndCountQuery(orgID string) error {
	e.usageMu.Lock()
	defer e.usageMu.Unlock()

	month := time.Now().UTC().Format("2006-01")
	if month != e.month {
		e.month = month
		e.queries = make(map[string]int)
	}

	if err := e.quota.CheckQueryQuota(e.queries[orgID]); err != nil {
		return err
	}
	e.queries[orgID]++
	return nil
}

// backendFilter maps the query filter onto backend metadata equality.
// Only a single source type can be pushed down; everything else is
// applied locally after retrieval.
func backendFilter(f *QueryFilter) map[string]interface{} {
	if f == nil || len(f.SourceTypes) != 1 {
		return nil
	}
	return map[string]interface{}{"source_type": string(f.SourceTypes[0])}
}

// matchesFilter applies the parts of the filter the backend cannot.
func matchesFilter(sc backend.ScoredChunk, f *QueryFilter) bool {
	if f == nil {
		return true
	}

	if len(f.SourceTypes) > 1 {
		st, _ := sc.Metadata["source_type"].(string)
		found := false
		for _, want := range f.SourceTypes {
			if SourceType(st) == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Tags) > 0 {
		raw, _ := sc.Metadata["tags"].(string)
		tags := strings.Split(raw, ",")
		for _, want := range f.Tags {
			found := false
			for _, have := range tags {
				if have == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}

	if f.DateRange != nil {
		raw, _ := sc.Metadata["created_at"].(string)
		createdAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return false
		}
		if !f.DateRange.Start.IsZero() && createdAt.Before(f.DateRange.Start) {
			return false
		}
		if !f.DateRange.End.IsZero() && createdAt.After(f.DateRange.End) {
			return false
		}
	}

	return true
}

// resolveSources maps chunks back to their parent documents in the
// cached corpus, deduplicated in first-seen order. Chunks whose parent
// cannot be resolved locally stay in the chunk list but contribute no
// source; the two lists serve different consumers.
func resolveSources(c *Corpus, chunks []Chunk) []Document {
	seen := make(map[string]bool, len(chunks))
	sources := make([]Document, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.DocumentID == "" || seen[chunk.DocumentID] {
			continue
		}
		seen[chunk.DocumentID] = true
		if idx := c.FindDocument(chunk.DocumentID); idx >= 0 {
			sources = append(sources, c.Documents[idx])
		}
	}
	return sources
}
