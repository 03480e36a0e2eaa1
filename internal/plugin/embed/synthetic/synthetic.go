// Package synthetic provides a deterministic, offline embedder. The vector
// for a given (text, sector) pair never changes, so recall behaves sensibly
// in tests and in deployments without an embedding provider.
package synthetic

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/sectormem/sectormem/internal/config"
	"github.com/sectormem/sectormem/internal/engine/vecmath"
	"github.com/sectormem/sectormem/internal/model"
	registryembed "github.com/sectormem/sectormem/internal/registry/embed"
)

// Tier dimensionalities.
const (
	DimFast  = 256
	DimSmart = 384
	DimDeep  = 1536
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "synthetic",
		Loader: load,
	})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	tier := "smart"
	if cfg != nil && cfg.EmbedTier != "" {
		tier = cfg.EmbedTier
	}
	dim, err := TierDimension(tier)
	if err != nil {
		return nil, err
	}
	return &Embedder{tier: tier, dim: dim}, nil
}

// TierDimension maps an embedding tier name to its vector width.
func TierDimension(tier string) (int, error) {
	switch tier {
	case "fast":
		return DimFast, nil
	case "smart":
		return DimSmart, nil
	case "deep":
		return DimDeep, nil
	default:
		return 0, fmt.Errorf("synthetic embedder: unknown tier %q (want fast, smart or deep)", tier)
	}
}

type Embedder struct {
	tier string
	dim  int
}

func (e *Embedder) ModelName() string { return "synthetic-" + e.tier }

func (e *Embedder) Dimension() int { return e.dim }

// EmbedForSector derives a unit vector from a seeded PRNG. The seed hashes
// both sector and text, so the same text gets a different vector per sector
// while identical inputs always collide exactly.
func (e *Embedder) EmbedForSector(ctx context.Context, text string, sector model.Sector) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(sector))
	h.Write([]byte{0})
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, e.dim)
	for i := range vec {
		vec[i] = float32(rng.Float64()*2 - 1)
	}
	return vecmath.Normalize(vec), nil
}

var _ registryembed.Embedder = (*Embedder)(nil)
