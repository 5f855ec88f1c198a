package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Cache is a durable, read-through cache of each organization's corpus,
// keyed by corpus id. Entries are complete snapshots: every mutation
// writes back the entire corpus object. The cache is a derived artifact;
// a miss is always safe to recover from by recomputing against the
// backend, which is why malformed entries surface as misses rather than
// errors.
type Cache interface {
	// Get returns the cached corpus, or false on miss. A malformed
	// entry is a miss, never an error.
	Get(corpusID string) (*Corpus, bool)

	// Put persists the full corpus snapshot, overwriting any prior
	// entry for that id.
	Put(c *Corpus) error
}

// FileCache stores one JSON record per corpus under a directory.
// Corpus ids are restricted to [a-z0-9_] so they are safe as file
// names.
type FileCache struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string, logger *zap.Logger) (*FileCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &FileCache{dir: dir, logger: logger}, nil
}

func (f *FileCache) path(corpusID string) string {
	return filepath.Join(f.dir, corpusID+".json")
}

// Get reads and deserializes the corpus record.
func (f *FileCache) Get(corpusID string) (*Corpus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(corpusID))
	if err != nil {
		cacheMisses.Inc()
		return nil, false
	}

	var c Corpus
	if err := json.Unmarshal(data, &c); err != nil {
		// Corrupt cache entry. The backend remains the source of
		// truth, so treat it as a miss.
		f.logger.Warn("discarding malformed cache entry",
			zap.String("corpus_id", corpusID),
			zap.Error(err),
		)
		cacheMisses.Inc()
		return nil, false
	}

	cacheHits.Inc()
	return &c, true
}

// Put atomically replaces the corpus record.
func (f *FileCache) Put(c *Corpus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling corpus %s: %w", c.ID, err)
	}

	path := f.path(c.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing corpus %s: %w", c.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing corpus %s: %w", c.ID, err)
	}
	return nil
}

// MemoryCache is an in-process Cache for tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

// Get returns the cached corpus, or false on miss.
func (m *MemoryCache) Get(corpusID string) (*Corpus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.entries[corpusID]
	if !ok {
		cacheMisses.Inc()
		return nil, false
	}
	var c Corpus
	if err := json.Unmarshal(data, &c); err != nil {
		cacheMisses.Inc()
		return nil, false
	}
	cacheHits.Inc()
	return &c, true
}

// Put stores the full corpus snapshot.
func (m *MemoryCache) Put(c *Corpus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling corpus %s: %w", c.ID, err)
	}
	m.entries[c.ID] = data
	return nil
}

var (
	_ Cache = (*FileCache)(nil)
	_ Cache = (*MemoryCache)(nil)
)
