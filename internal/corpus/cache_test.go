package corpus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testCorpus(orgID string) *Corpus {
	now := time.Now().UTC().Truncate(time.Second)
	return &Corpus{
		ID:             IDForOrg(orgID),
		OrganizationID: orgID,
		Name:           orgID + " knowledge corpus",
		Documents: []Document{
			{
				ID:         "doc_1",
				CorpusID:   IDForOrg(orgID),
				SourceType: SourceFile,
				SourceID:   "f1",
				Content:    "hello",
				Metadata:   DocumentMetadata{Title: "hello", OrganizationID: orgID, CreatedAt: now},
				ChunkCount: 1,
			},
		},
		Stats:     Stats{TotalDocuments: 1, TotalChunks: 1, StorageBytes: 5},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestFileCache_RoundTrip(t *testing.T) {
	cache, err := NewFileCache(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	want := testCorpus("acme")
	require.NoError(t, cache.Put(want))

	got, ok := cache.Get(want.ID)
	require.True(t, ok)
	assert.Equal(t, want.OrganizationID, got.OrganizationID)
	assert.Equal(t, want.Stats, got.Stats)
	require.Len(t, got.Documents, 1)
	assert.Equal(t, "doc_1", got.Documents[0].ID)
}

func TestFileCache_MissOnAbsent(t *testing.T) {
	cache, err := NewFileCache(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	_, ok := cache.Get("corpus_nobody")
	assert.False(t, ok)
}

func TestFileCache_MalformedEntryIsAMiss(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFileCache(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "corpus_acme.json"), []byte("{broken"), 0600))

	_, ok := cache.Get("corpus_acme")
	assert.False(t, ok)
}

func TestFileCache_PutOverwrites(t *testing.T) {
	cache, err := NewFileCache(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	c := testCorpus("acme")
	require.NoError(t, cache.Put(c))

	c.Stats.TotalDocuments = 7
	require.NoError(t, cache.Put(c))

	got, ok := cache.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, 7, got.Stats.TotalDocuments)
}

func TestMemoryCache_SnapshotIsolation(t *testing.T) {
	cache := NewMemoryCache()

	c := testCorpus("acme")
	require.NoError(t, cache.Put(c))

	// Mutating the original after Put must not leak into the cache.
	c.Stats.TotalDocuments = 99

	got, ok := cache.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.Stats.TotalDocuments)
}
