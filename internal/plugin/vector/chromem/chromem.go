// Package chromem backs the vector store with chromem-go, a pure Go embedded
// vector database. Everything lives in process memory, which suits tests and
// single-node deployments where the relational scan of sqlvec is not wanted.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"
	"github.com/sectormem/sectormem/internal/model"
	registryvector "github.com/sectormem/sectormem/internal/registry/vector"
)

func init() {
	registryvector.Register(registryvector.Plugin{
		Name: "chromem",
		Loader: func(ctx context.Context) (registryvector.VectorStore, error) {
			return New(), nil
		},
	})
}

// Store holds one chromem collection per sector. chromem cannot enumerate a
// collection, so a sidecar index tracks which ids live in which sector.
type Store struct {
	db          *chromemgo.DB
	mu          sync.RWMutex
	collections map[model.Sector]*chromemgo.Collection
	index       map[model.Sector]map[string]struct{}
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		db:          chromemgo.NewDB(),
		collections: make(map[model.Sector]*chromemgo.Collection),
		index:       make(map[model.Sector]map[string]struct{}),
	}
}

func (s *Store) Name() string { return "chromem" }

// noEmbed guards against chromem trying to embed on its own. Every document
// arrives with a precomputed embedding.
func noEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("chromem: embeddings are precomputed, refusing to embed %q", text)
}

func (s *Store) collection(sector model.Sector) (*chromemgo.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[sector]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[sector]; ok {
		return col, nil
	}
	col, err := s.db.CreateCollection("sector_"+string(sector), nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("chromem: create collection for %s: %w", sector, err)
	}
	s.collections[sector] = col
	s.index[sector] = make(map[string]struct{})
	return col, nil
}

func (s *Store) Store(ctx context.Context, id string, sector model.Sector, vec []float32, owner string) error {
	if len(vec) == 0 {
		return fmt.Errorf("chromem: empty vector for %s/%s", id, sector)
	}
	col, err := s.collection(sector)
	if err != nil {
		return err
	}
	err = col.AddDocument(ctx, chromemgo.Document{
		ID:        id,
		Content:   id,
		Embedding: vec,
		Metadata:  map[string]string{"owner": owner},
	})
	if err != nil {
		return fmt.Errorf("chromem: add document: %w", err)
	}
	s.mu.Lock()
	s.index[sector][id] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, id string, sector model.Sector) error {
	s.mu.RLock()
	col, ok := s.collections[sector]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem: delete %s/%s: %w", id, sector, err)
	}
	s.mu.Lock()
	delete(s.index[sector], id)
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteAll(ctx context.Context, id string) error {
	for _, sector := range model.Sectors() {
		s.mu.RLock()
		_, present := s.index[sector][id]
		s.mu.RUnlock()
		if !present {
			continue
		}
		if err := s.Delete(ctx, id, sector); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, sector model.Sector, query []float32, k int) ([]registryvector.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	col, ok := s.collections[sector]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	// chromem rejects nResults larger than the collection, so clamp first.
	if n := col.Count(); n < k {
		if n == 0 {
			return nil, nil
		}
		k = n
	}
	hits, err := col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query %s: %w", sector, err)
	}
	out := make([]registryvector.SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, registryvector.SearchResult{
			MemoryID: h.ID,
			Score:    float64(h.Similarity),
		})
	}
	return out, nil
}

func (s *Store) GetVector(ctx context.Context, id string, sector model.Sector) ([]float32, error) {
	s.mu.RLock()
	col, ok := s.collections[sector]
	_, present := s.index[sector][id]
	s.mu.RUnlock()
	if !ok || !present {
		return nil, nil
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, nil
	}
	return doc.Embedding, nil
}

func (s *Store) GetVectorsByID(ctx context.Context, id string) ([]registryvector.StoredVector, error) {
	var out []registryvector.StoredVector
	for _, sector := range model.Sectors() {
		vec, err := s.GetVector(ctx, id, sector)
		if err != nil {
			return nil, err
		}
		if vec == nil {
			continue
		}
		out = append(out, registryvector.StoredVector{
			MemoryID: id,
			Sector:   sector,
			Vector:   vec,
			Dim:      len(vec),
		})
	}
	return out, nil
}

func (s *Store) GetVectorsBySector(ctx context.Context, sector model.Sector) ([]registryvector.StoredVector, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.index[sector]))
	for id := range s.index[sector] {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]registryvector.StoredVector, 0, len(ids))
	for _, id := range ids {
		vec, err := s.GetVector(ctx, id, sector)
		if err != nil {
			return nil, err
		}
		if vec == nil {
			continue
		}
		out = append(out, registryvector.StoredVector{
			MemoryID: id,
			Sector:   sector,
			Vector:   vec,
			Dim:      len(vec),
		})
	}
	return out, nil
}

var _ registryvector.VectorStore = (*Store)(nil)
