// Package backend defines the boundary with the external retrieval
// backend (embedding and vector search).
//
// The core treats the backend as a black box: it never inspects chunk
// boundaries or embedding vectors, and it does not retry failed calls.
// Retry policy, where it exists, lives inside the provider transport.
package backend

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// Sentinel errors for backend operations.
var (
	// ErrBackend indicates the external backend call failed or returned
	// malformed data. All provider failures wrap this error.
	ErrBackend = errors.New("retrieval backend error")

	// ErrInvalidCorpusID indicates a corpus id that fails validation.
	ErrInvalidCorpusID = errors.New("invalid corpus id")

	// ErrEmptyQuery indicates an empty query string.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrEmptyDocument indicates a document with no content.
	ErrEmptyDocument = errors.New("document has no content")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// corpusIDPattern validates corpus ids used as collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var corpusIDPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCorpusID validates a corpus id against collection naming rules.
// Rejects uppercase, special characters, path traversal, spaces.
func ValidateCorpusID(id string) error {
	if !corpusIDPattern.MatchString(id) {
		return ErrInvalidCorpusID
	}
	return nil
}

// Document is the normalized document shape submitted for import. The
// backend chunks and embeds the content; the caller never sees chunk
// boundaries.
type Document struct {
	// ID is the caller-assigned document identifier.
	ID string

	// Content is the raw text to chunk and embed.
	Content string

	// Metadata is carried onto every chunk the backend produces from
	// this document. Keys used for filtering: organization_id,
	// source_type, tags, created_at.
	Metadata map[string]interface{}
}

// ScoredChunk is a ranked sub-span of a document returned by retrieval.
// Chunks are ephemeral: they are valid only within a single query
// response and are never persisted by the caller.
type ScoredChunk struct {
	// ChunkID identifies the chunk within the backend.
	ChunkID string `json:"chunk_id"`

	// DocumentID is the owning document.
	DocumentID string `json:"document_id"`

	// Content is the chunk text.
	Content string `json:"content"`

	// Metadata is the chunk's metadata mapping.
	Metadata map[string]interface{} `json:"metadata"`

	// Embedding is the chunk's vector, owned entirely by the backend.
	// The core treats it as opaque and never interprets it.
	Embedding []float32 `json:"embedding,omitempty"`

	// RelevanceScore is the backend-assigned similarity score, higher
	// is more relevant. Populated only on query results.
	RelevanceScore float32 `json:"relevance_score"`
}

// RetrieveOptions bound a retrieval request.
type RetrieveOptions struct {
	// TopK is the maximum number of chunks to return.
	TopK int

	// SimilarityThreshold drops chunks scoring below it. Zero disables
	// the threshold.
	SimilarityThreshold float32

	// Filter restricts retrieval to chunks whose metadata matches all
	// entries.
	Filter map[string]interface{}

	// Timeout bounds the backend call. Zero uses the provider default.
	Timeout time.Duration
}

// Backend is the interface to the external retrieval service.
//
// All three operations are black boxes returning either a success payload
// or an error wrapping ErrBackend. Implementations must scope every
// operation to the given corpus id; cross-corpus reads are impossible by
// construction because the corpus id is the collection key.
type Backend interface {
	// ImportDocument chunks, embeds, and stores a document in the
	// corpus. Returns the backend-assigned chunk count.
	ImportDocument(ctx context.Context, corpusID string, doc Document) (int, error)

	// RetrieveContexts performs semantic search in the corpus and
	// returns chunks ordered by descending relevance score.
	RetrieveContexts(ctx context.Context, corpusID, query string, opts RetrieveOptions) ([]ScoredChunk, error)

	// DeleteDocument removes a document and all its chunks from the
	// corpus. Deleting an absent document is not an error.
	DeleteDocument(ctx context.Context, corpusID, documentID string) error

	// Close releases provider resources.
	Close() error
}

// Embedder generates vector embeddings from text. Implementations can use
// a local model or a remote embedding server; providers never interpret
// the vectors beyond passing them to the index.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per
	// input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query. Some models
	// optimize differently for queries vs documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
