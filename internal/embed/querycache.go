package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MayankTamakuwala/HERMES/internal/hermes"
)

// DefaultQueryCacheSize is the default LRU capacity for the query
// embedding cache (the default query_cache_size).
const DefaultQueryCacheSize = 1024

// QueryCache is the Query Embedding Cache: a thread-safe
// bounded LRU keyed on the raw SHA-256 digest of the query's UTF-8 bytes,
// with NO normalization — "Foo" and "foo" are distinct cache keys. Unlike
// CachedEmbedder (which also caches document embeddings during indexing
// and mixes the model name into its key), QueryCache exists specifically
// for the search pipeline's embed-query stage and tracks hit/miss counts
// for /stats.
type QueryCache struct {
	biencoder hermes.Biencoder
	cache     *lru.Cache[string, []float32]
	hits      atomic.Int64
	misses    atomic.Int64
}

// NewQueryCache wraps biencoder with an LRU cache of the given capacity.
// capacity <= 0 uses DefaultQueryCacheSize.
func NewQueryCache(biencoder hermes.Biencoder, capacity int) *QueryCache {
	if capacity <= 0 {
		capacity = DefaultQueryCacheSize
	}
	cache, _ := lru.New[string, []float32](capacity)
	return &QueryCache{biencoder: biencoder, cache: cache}
}

// queryKey returns the hex SHA-256 digest of query's raw UTF-8 bytes,
// verbatim — no case-folding, no trimming.
func queryKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// Get returns the embedding for query, serving from cache on a hit
// (incrementing the hit counter) or computing it via the wrapped
// biencoder on a miss (storing the result and incrementing the miss
// counter, evicting the least-recently-used entry if over capacity).
func (c *QueryCache) Get(ctx context.Context, query string) ([]float32, error) {
	key := queryKey(query)

	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return vec, nil
	}

	vec, err := c.biencoder.EncodeOne(ctx, query)
	if err != nil {
		return nil, err
	}

	c.misses.Add(1)
	c.cache.Add(key, vec)
	return vec, nil
}

// Hits returns the cumulative number of cache hits.
func (c *QueryCache) Hits() int64 { return c.hits.Load() }

// Misses returns the cumulative number of cache misses.
func (c *QueryCache) Misses() int64 { return c.misses.Load() }

// HitRate returns hits/(hits+misses), or 0 when both are zero.
func (c *QueryCache) HitRate() float64 {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Len returns the number of cached entries.
func (c *QueryCache) Len() int { return c.cache.Len() }
