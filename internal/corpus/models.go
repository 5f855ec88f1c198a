// Package corpus implements tenant-scoped knowledge corpora: ingestion,
// caching, and retrieval of workspace documents against an external
// vector backend.
//
// Every operation is scoped by the current organization. The corpus id
// is derived injectively from the organization id, so cross-tenant key
// collisions are impossible by construction, and the ingestor verifies
// corpus ownership on every cache read; the organization id equality
// checks are what stops a caller with a mismatched payload from writing
// into another tenant's corpus.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/peakai/corpusd/internal/tenant"
)

// SourceType identifies the workspace entity kind a document came from.
type SourceType string

// Workspace entity kinds accepted for ingestion.
const (
	SourceFile    SourceType = "file"
	SourceMeeting SourceType = "meeting"
	SourceTask    SourceType = "task"
	SourceMessage SourceType = "message"
	SourceNote    SourceType = "note"
)

// Valid reports whether the source type is a known entity kind.
func (s SourceType) Valid() bool {
	switch s {
	case SourceFile, SourceMeeting, SourceTask, SourceMessage, SourceNote:
		return true
	}
	return false
}

// DocumentMetadata is the descriptive record attached to a document.
// OrganizationID is load-bearing: the ingestor rejects any document
// whose metadata names a different organization than the resolved
// tenant.
type DocumentMetadata struct {
	Title          string    `json:"title"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	Tags           []string  `json:"tags,omitempty"`
	OrganizationID string    `json:"organization_id"`
}

// Document is one ingested workspace entity. Content is never mutated
// in place; re-syncing the source entity replaces the document.
type Document struct {
	ID           string           `json:"id"`
	CorpusID     string           `json:"corpus_id"`
	SourceType   SourceType       `json:"source_type"`
	SourceID     string           `json:"source_id"`
	Content      string           `json:"content"`
	Metadata     DocumentMetadata `json:"metadata"`
	ChunkCount   int              `json:"chunk_count"`
	LastSyncedAt time.Time        `json:"last_synced_at"`
}

// Stats holds corpus aggregates. TotalDocuments always equals the
// length of the corpus document list.
type Stats struct {
	TotalDocuments int   `json:"total_documents"`
	TotalChunks    int   `json:"total_chunks"`
	StorageBytes   int64 `json:"storage_bytes"`
}

// Corpus is one organization's knowledge store, 1:1 with the
// organization and lazily created on first access. OrganizationID is
// immutable once set.
type Corpus struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Name           string     `json:"name"`
	Documents      []Document `json:"documents"`
	Stats          Stats      `json:"stats"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// FindDocument returns the index of the document with the given id, or
// -1 if absent.
func (c *Corpus) FindDocument(documentID string) int {
	for i := range c.Documents {
		if c.Documents[i].ID == documentID {
			return i
		}
	}
	return -1
}

// FindBySource returns the index of the document ingested from the
// given source entity, or -1 if absent.
func (c *Corpus) FindBySource(sourceType SourceType, sourceID string) int {
	for i := range c.Documents {
		if c.Documents[i].SourceType == sourceType && c.Documents[i].SourceID == sourceID {
			return i
		}
	}
	return -1
}

// Chunk is an ephemeral retrieval unit produced by the backend. Chunks
// are valid only within a single query response and never persisted.
type Chunk struct {
	ID             string                 `json:"id"`
	DocumentID     string                 `json:"document_id"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Embedding      []float32              `json:"embedding,omitempty"`
	RelevanceScore float32                `json:"relevance_score"`
}

// Entity is the normalized shape entity subsystems push through
// SyncEntity. Ingestion is caller-initiated; this core never pulls.
type Entity struct {
	Type     SourceType             `json:"type"`
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// IDForOrg derives the corpus id from an organization id. The mapping
// is deterministic, so repeated lookups for the same organization always
// land on the same corpus, and injective: when sanitization drops
// characters, a digest of the raw id is appended so distinct
// organizations ("acme-1" and "acme.1") never share a corpus.
func IDForOrg(orgID string) string {
	sanitized := tenant.SanitizeIdentifier(orgID)
	if sanitized == orgID {
		return fmt.Sprintf("corpus_%s", sanitized)
	}
	sum := sha256.Sum256([]byte(orgID))
	return fmt.Sprintf("corpus_%s_%s", sanitized, hex.EncodeToString(sum[:4]))
}
