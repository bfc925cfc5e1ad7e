package classifier

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// contentHash returns the hex SHA256 of a unit source. It is the cache key
// and is recorded on the analysis so reports can tie results to an exact
// source revision.
func contentHash(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// analysisCache stores analyses keyed by path, validated by content hash.
// Safe for concurrent use: the watch-mode invalidator runs on the watcher
// goroutine while analysis happens on the caller's.
type analysisCache struct {
	mu      sync.RWMutex
	entries map[string]*models.UnitAnalysis
}

func newAnalysisCache() *analysisCache {
	return &analysisCache{entries: make(map[string]*models.UnitAnalysis)}
}

// get returns the cached analysis if the stored hash matches the current
// content hash. A stale entry is treated as a miss and evicted.
func (c *analysisCache) get(path, hash string) (*models.UnitAnalysis, bool) {
	c.mu.RLock()
	cached, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if cached.ContentHash != hash {
		c.invalidate(path)
		return nil, false
	}
	return cached, true
}

func (c *analysisCache) put(path string, analysis *models.UnitAnalysis) {
	c.mu.Lock()
	c.entries[path] = analysis
	c.mu.Unlock()
}

func (c *analysisCache) invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

func (c *analysisCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
