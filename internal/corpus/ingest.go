package corpus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/peakai/corpusd/internal/backend"
	"github.com/peakai/corpusd/internal/quota"
	"github.com/peakai/corpusd/internal/tenant"
)

// ingestTracer for OpenTelemetry instrumentation.
var ingestTracer = otel.Tracer("corpusd.corpus.ingest")

// Ingestor adds documents to the current tenant's corpus and keeps the
// cache in sync with the backend.
//
// All corpus mutations take a per-organization mutex around the
// read-modify-write of the cached corpus snapshot, so two concurrent
// mutations against the same organization serialize instead of clobbering
// each other's full-object write.
type Ingestor struct {
	tenants *tenant.Manager
	quota   *quota.Enforcer
	cache   Cache
	store   backend.Backend
	logger  *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewIngestor creates an Ingestor over the given dependencies.
func NewIngestor(tenants *tenant.Manager, enforcer *quota.Enforcer, cache Cache, store backend.Backend, logger *zap.Logger) (*Ingestor, error) {
	if tenants == nil {
		return nil, fmt.Errorf("tenant manager is required")
	}
	if enforcer == nil {
		return nil, fmt.Errorf("quota enforcer is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if store == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		tenants: tenants,
		quota:   enforcer,
		cache:   cache,
		store:   store,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex guarding one organization's corpus, keyed by
// the derived corpus id so lock and cache entry always agree.
func (in *Ingestor) lockFor(orgID string) *sync.Mutex {
	in.locksMu.Lock()
	defer in.locksMu.Unlock()

	key := IDForOrg(orgID)
	mu, ok := in.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		in.locks[key] = mu
	}
	return mu
}

// cachedLocked returns the cached corpus for the organization, verifying
// that the record is actually owned by it. An ownership mismatch means
// the cache holds corrupted or tampered state and fails hard rather than
// masquerading as a miss. Caller holds the organization lock.
func (in *Ingestor) cachedLocked(orgID string) (*Corpus, bool, error) {
	corpusID := IDForOrg(orgID)
	c, ok := in.cache.Get(corpusID)
	if !ok {
		return nil, false, nil
	}
	if c.OrganizationID != orgID {
		return nil, false, fmt.Errorf("%w: corpus %s is owned by %q, current tenant is %q",
			ErrCorpusConflict, corpusID, c.OrganizationID, orgID)
	}
	return c, true, nil
}

// getOrCreateLocked loads the corpus from cache, constructing a fresh
// empty record on miss. Caller holds the organization lock.
func (in *Ingestor) getOrCreateLocked(orgID string) (*Corpus, error) {
	corpusID := IDForOrg(orgID)
	if c, ok, err := in.cachedLocked(orgID); err != nil {
		return nil, err
	} else if ok {
		return c, nil
	}

	now := time.Now().UTC()
	c := &Corpus{
		ID:             corpusID,
		OrganizationID: orgID,
		Name:           fmt.Sprintf("%s knowledge corpus", orgID),
		Documents:      []Document{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := in.cache.Put(c); err != nil {
		return nil, fmt.Errorf("persisting new corpus %s: %w", corpusID, err)
	}

	in.logger.Info("created corpus",
		zap.String("corpus_id", corpusID),
		zap.String("organization_id", orgID),
	)
	return c, nil
}

// GetOrCreateCorpus returns the current organization's corpus, lazily
// creating an empty one on first access. Idempotent: repeated calls for
// the same organization yield the same corpus id.
func (in *Ingestor) GetOrCreateCorpus(ctx context.Context) (*Corpus, error) {
	orgID, err := in.tenants.RequireOrgID()
	if err != nil {
		return nil, err
	}

	mu := in.lockFor(orgID)
	mu.Lock()
	defer mu.Unlock()

	return in.getOrCreateLocked(orgID)
}

// AddDocument ingests a document into the current organization's corpus.
//
// The organization id equality check is unconditional: a document whose
// metadata names a different organization is rejected with
// ErrTenantIsolation before any state changes.
func (in *Ingestor) AddDocument(ctx context.Context, doc Document) (*Document, error) {
	ctx, span := ingestTracer.Start(ctx, "Ingestor.AddDocument")
	defer span.End()

	orgID, err := in.tenants.RequireOrgID()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("organization_id", orgID))

	if doc.Metadata.OrganizationID != orgID {
		span.SetStatus(codes.Error, "tenant isolation violation")
		return nil, fmt.Errorf("%w: document names %q, current tenant is %q",
			ErrTenantIsolation, doc.Metadata.OrganizationID, orgID)
	}

	mu := in.lockFor(orgID)
	mu.Lock()
	defer mu.Unlock()

	c, err := in.getOrCreateLocked(orgID)
	if err != nil {
		return nil, err
	}

	stored, err := in.addLocked(ctx, c, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("document_id", stored.ID),
		attribute.Int("chunk_count", stored.ChunkCount),
	)
	span.SetStatus(codes.Ok, "success")
	return stored, nil
}

// stampLocked assigns a fresh document id and timestamps.
func stampLocked(c *Corpus, doc *Document) {
	now := time.Now().UTC()
	doc.ID = "doc_" + uuid.NewString()
	doc.CorpusID = c.ID
	doc.LastSyncedAt = now
	if doc.Metadata.CreatedAt.IsZero() {
		doc.Metadata.CreatedAt = now
	}
}

// backendDocument maps a document onto the backend import shape.
func backendDocument(doc Document) backend.Document {
	return backend.Document{
		ID:      doc.ID,
		Content: doc.Content,
		Metadata: map[string]interface{}{
			"organization_id": doc.Metadata.OrganizationID,
			"source_type":     string(doc.SourceType),
			"source_id":       doc.SourceID,
			"title":           doc.Metadata.Title,
			"created_by":      doc.Metadata.CreatedBy,
			"tags":            strings.Join(doc.Metadata.Tags, ","),
			"created_at":      doc.Metadata.CreatedAt.Format(time.RFC3339),
		},
	}
}

// addLocked performs the quota check, backend import, and cache
// write-back. Caller holds the organization lock and has already
// verified tenant isolation.
func (in *Ingestor) addLocked(ctx context.Context, c *Corpus, doc Document) (*Document, error) {
	if err := in.quota.CheckDocumentQuota(c.Stats.TotalDocuments); err != nil {
		return nil, err
	}

	stampLocked(c, &doc)
	chunkCount, err := in.store.ImportDocument(ctx, c.ID, backendDocument(doc))
	if err != nil {
		return nil, fmt.Errorf("importing document: %w", err)
	}
	doc.ChunkCount = chunkCount

	c.Documents = append(c.Documents, doc)
	c.Stats.TotalDocuments++
	c.Stats.TotalChunks += chunkCount
	c.Stats.StorageBytes += int64(len(doc.Content))
	c.UpdatedAt = doc.LastSyncedAt

	if err := in.cache.Put(c); err != nil {
		return nil, fmt.Errorf("persisting corpus %s: %w", c.ID, err)
	}

	documentsIngested.WithLabelValues(string(doc.SourceType)).Inc()
	in.logger.Debug("added document",
		zap.String("corpus_id", c.ID),
		zap.String("document_id", doc.ID),
		zap.String("source_type", string(doc.SourceType)),
		zap.Int("chunks", chunkCount),
	)
	return &doc, nil
}

// SyncEntity maps a workspace entity into the document shape and ingests
// it, stamping the creator from the current user and the organization
// from the current tenant.
//
// Syncing is idempotent per source entity: re-syncing an entity that is
// already in the corpus replaces the prior document instead of appending
// a duplicate.
func (in *Ingestor) SyncEntity(ctx context.Context, entity Entity) (*Document, error) {
	ctx, span := ingestTracer.Start(ctx, "Ingestor.SyncEntity")
	defer span.End()

	if !entity.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidEntity, entity.Type)
	}
	if entity.ID == "" {
		return nil, fmt.Errorf("%w: entity id required", ErrInvalidEntity)
	}

	org := in.tenants.CurrentOrganization()
	if org == nil {
		return nil, tenant.ErrNoOrganization
	}
	span.SetAttributes(
		attribute.String("organization_id", org.ID),
		attribute.String("source_type", string(entity.Type)),
		attribute.String("source_id", entity.ID),
	)

	var createdBy string
	if user := in.tenants.CurrentUser(); user != nil {
		createdBy = user.ID
	}

	doc := Document{
		SourceType: entity.Type,
		SourceID:   entity.ID,
		Content:    entity.Content,
		Metadata: DocumentMetadata{
			Title:          entity.Title,
			CreatedBy:      createdBy,
			Tags:           entityTags(entity.Metadata),
			OrganizationID: org.ID,
		},
	}

	mu := in.lockFor(org.ID)
	mu.Lock()
	defer mu.Unlock()

	c, err := in.getOrCreateLocked(org.ID)
	if err != nil {
		return nil, err
	}

	var stored *Document
	if idx := c.FindBySource(entity.Type, entity.ID); idx >= 0 {
		in.logger.Debug("replacing previously synced entity",
			zap.String("corpus_id", c.ID),
			zap.String("source_id", entity.ID),
			zap.String("document_id", c.Documents[idx].ID),
		)
		stored, err = in.replaceLocked(ctx, c, idx, doc)
	} else {
		stored, err = in.addLocked(ctx, c, doc)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "success")
	return stored, nil
}

// replaceLocked swaps the document at idx for a replacement. The
// replacement is imported before the old document is removed, so a
// failed import leaves the prior version fully intact; if removing the
// old document fails, the import is rolled back. No quota check: the
// document count is unchanged. Caller holds the organization lock.
func (in *Ingestor) replaceLocked(ctx context.Context, c *Corpus, idx int, doc Document) (*Document, error) {
	old := c.Documents[idx]

	stampLocked(c, &doc)
	chunkCount, err := in.store.ImportDocument(ctx, c.ID, backendDocument(doc))
	if err != nil {
		return nil, fmt.Errorf("importing replacement document: %w", err)
	}
	doc.ChunkCount = chunkCount

	if err := in.store.DeleteDocument(ctx, c.ID, old.ID); err != nil {
		if rollbackErr := in.store.DeleteDocument(ctx, c.ID, doc.ID); rollbackErr != nil {
			in.logger.Warn("orphaned replacement chunks in backend",
				zap.String("corpus_id", c.ID),
				zap.String("document_id", doc.ID),
				zap.Error(rollbackErr),
			)
		}
		return nil, fmt.Errorf("deleting document %s: %w", old.ID, err)
	}

	c.Documents[idx] = doc
	c.Stats.TotalChunks += chunkCount - old.ChunkCount
	c.Stats.StorageBytes += int64(len(doc.Content)) - int64(len(old.Content))
	c.UpdatedAt = doc.LastSyncedAt

	if err := in.cache.Put(c); err != nil {
		return nil, fmt.Errorf("persisting corpus %s: %w", c.ID, err)
	}

	documentsIngested.WithLabelValues(string(doc.SourceType)).Inc()
	in.logger.Debug("replaced document",
		zap.String("corpus_id", c.ID),
		zap.String("document_id", doc.ID),
		zap.String("replaced_id", old.ID),
		zap.Int("chunks", chunkCount),
	)
	return &doc, nil
}

// DeleteDocument removes a document from the current organization's
// corpus. A missing document and a document owned by another tenant
// produce the same ErrAccessDenied so existence never leaks across
// tenants.
func (in *Ingestor) DeleteDocument(ctx context.Context, documentID string) error {
	ctx, span := ingestTracer.Start(ctx, "Ingestor.DeleteDocument")
	defer span.End()

	orgID, err := in.tenants.RequireOrgID()
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("organization_id", orgID),
		attribute.String("document_id", documentID),
	)

	mu := in.lockFor(orgID)
	mu.Lock()
	defer mu.Unlock()

	c, ok, err := in.cachedLocked(orgID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessDenied
	}

	idx := c.FindDocument(documentID)
	if idx < 0 || c.Documents[idx].Metadata.OrganizationID != orgID {
		return ErrAccessDenied
	}

	if err := in.deleteLocked(ctx, c, idx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// deleteLocked removes one document from the backend and the cached
// corpus, writing the snapshot back. Caller holds the organization lock.
func (in *Ingestor) deleteLocked(ctx context.Context, c *Corpus, idx int) error {
	doc := c.Documents[idx]

	if err := in.store.DeleteDocument(ctx, c.ID, doc.ID); err != nil {
		return fmt.Errorf("deleting document %s: %w", doc.ID, err)
	}

	c.Documents = append(c.Documents[:idx], c.Documents[idx+1:]...)
	c.Stats.TotalDocuments--
	c.Stats.TotalChunks -= doc.ChunkCount
	c.Stats.StorageBytes -= int64(len(doc.Content))
	c.UpdatedAt = time.Now().UTC()

	if err := in.cache.Put(c); err != nil {
		return fmt.Errorf("persisting corpus %s: %w", c.ID, err)
	}

	documentsDeleted.Inc()
	return nil
}

// ClearCorpus deletes every document in the current organization's
// corpus. Requires the admin permission; owners satisfy it implicitly.
// Deletion is sequential so each removal lands in the cache before the
// next begins.
func (in *Ingestor) ClearCorpus(ctx context.Context) error {
	ctx, span := ingestTracer.Start(ctx, "Ingestor.ClearCorpus")
	defer span.End()

	orgID, err := in.tenants.RequireOrgID()
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("organization_id", orgID))

	if !in.tenants.HasPermission("admin") {
		return fmt.Errorf("%w: clearing the corpus requires the admin permission", ErrPermissionDenied)
	}

	mu := in.lockFor(orgID)
	mu.Lock()
	defer mu.Unlock()

	c, ok, err := in.cachedLocked(orgID)
	if err != nil {
		return err
	}
	if !ok {
		// Nothing ever ingested; an empty corpus is already clear.
		return nil
	}

	for len(c.Documents) > 0 {
		if err := in.deleteLocked(ctx, c, 0); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	in.logger.Info("cleared corpus",
		zap.String("corpus_id", c.ID),
		zap.String("organization_id", orgID),
	)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// CorpusStats returns the current organization's corpus aggregates.
func (in *Ingestor) CorpusStats(ctx context.Context) (*Stats, error) {
	c, err := in.GetOrCreateCorpus(ctx)
	if err != nil {
		return nil, err
	}
	stats := c.Stats
	return &stats, nil
}

// entityTags extracts a tags list from free-form entity metadata.
func entityTags(metadata map[string]interface{}) []string {
	raw, ok := metadata["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	}
	return nil
}
