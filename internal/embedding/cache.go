package embedding

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// WithQueryCache returns a copy of e that keeps up to size query embeddings
// for ttl. A non-positive size or ttl disables caching.
func (e *Embedder) WithQueryCache(size int, ttl time.Duration) *Embedder {
	if size <= 0 || ttl <= 0 {
		return e
	}
	clone := *e
	clone.cache = &queryCache{lru: expirable.NewLRU[string, []float32](size, nil, ttl)}
	return &clone
}

type queryCache struct {
	lru *expirable.LRU[string, []float32]
}

func (c *queryCache) get(text string) ([]float32, bool) {
	v, ok := c.lru.Get(text)
	if !ok {
		return nil, false
	}
	return cloneEmbedding(v), true
}

func (c *queryCache) add(text string, v []float32) {
	c.lru.Add(text, cloneEmbedding(v))
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
