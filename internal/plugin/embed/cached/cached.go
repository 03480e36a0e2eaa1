// Package cached wraps an Embedder with a ristretto cache. Embedding calls
// dominate the cost of AddMemory and Query, and identical (text, sector)
// inputs always produce identical vectors, so the cache is safe to share
// across all callers.
package cached

import (
	"context"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/sectormem/sectormem/internal/model"
	registryembed "github.com/sectormem/sectormem/internal/registry/embed"
)

type Embedder struct {
	inner registryembed.Embedder
	cache *ristretto.Cache[string, []float32]
}

// Wrap places a cache of at most maxEntries vectors in front of inner.
// A non-positive maxEntries disables caching and returns inner unchanged.
func Wrap(inner registryembed.Embedder, maxEntries int64) (registryembed.Embedder, error) {
	if maxEntries <= 0 {
		return inner, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Embedder{inner: inner, cache: cache}, nil
}

func (e *Embedder) ModelName() string { return e.inner.ModelName() }

func (e *Embedder) Dimension() int { return e.inner.Dimension() }

func (e *Embedder) EmbedForSector(ctx context.Context, text string, sector model.Sector) ([]float32, error) {
	key := e.inner.ModelName() + "|" + string(sector) + "|" + text
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := e.inner.EmbedForSector(ctx, text, sector)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, vec, 1)
	return vec, nil
}

var _ registryembed.Embedder = (*Embedder)(nil)
