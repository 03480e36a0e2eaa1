package vector

import (
	"context"
	"fmt"

	"github.com/sectormem/sectormem/internal/model"
)

// SearchResult is a single similarity hit within a sector.
type SearchResult struct {
	MemoryID string  `json:"memoryId"`
	Score    float64 `json:"score"`
}

// StoredVector is a point lookup result carrying the decoded embedding.
type StoredVector struct {
	MemoryID string       `json:"memoryId"`
	Sector   model.Sector `json:"sector"`
	Vector   []float32    `json:"-"`
	Dim      int          `json:"dim"`
}

// VectorStore is the per-backend capability set for sector embeddings.
// Search is an exact exhaustive cosine scan; backends never rank natively.
type VectorStore interface {
	// Store upserts the vector for (id, sector), overwriting any previous one.
	Store(ctx context.Context, id string, sector model.Sector, vec []float32, owner string) error
	// Delete removes one sector's vector for a memory.
	Delete(ctx context.Context, id string, sector model.Sector) error
	// DeleteAll removes every vector owned by a memory.
	DeleteAll(ctx context.Context, id string) error
	// Search returns the top k ids in the sector ranked by cosine similarity
	// to the query, descending.
	Search(ctx context.Context, sector model.Sector, query []float32, k int) ([]SearchResult, error)
	// GetVector returns the vector for (id, sector), or nil when absent.
	GetVector(ctx context.Context, id string, sector model.Sector) ([]float32, error)
	GetVectorsByID(ctx context.Context, id string) ([]StoredVector, error)
	GetVectorsBySector(ctx context.Context, sector model.Sector) ([]StoredVector, error)
	// Name returns the plugin name (e.g. "sqlvec", "chromem").
	Name() string
}

// Loader creates a VectorStore from config.
type Loader func(ctx context.Context) (VectorStore, error)

// Plugin represents a vector store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}
