// Package sqlvec stores sector embeddings in the relational vectors table and
// ranks by an exact, exhaustive cosine scan in Go. Similarity is never
// computed in SQL, so the backend needs no vector extension and postgres and
// sqlite behave identically.
package sqlvec

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sectormem/sectormem/internal/config"
	"github.com/sectormem/sectormem/internal/engine/vecmath"
	"github.com/sectormem/sectormem/internal/model"
	registryvector "github.com/sectormem/sectormem/internal/registry/vector"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const scanBatchSize = 1000

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "sqlvec",
		Loader: load,
	})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("sqlvec: no config in context")
	}
	var dialector gorm.Dialector
	switch cfg.DatastoreType {
	case "postgres":
		dialector = postgres.Open(cfg.DBURL)
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath + "?_journal_mode=WAL&_busy_timeout=5000")
	default:
		return nil, fmt.Errorf("sqlvec: unsupported datastore type %q", cfg.DatastoreType)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlvec: open db: %w", err)
	}
	return New(db), nil
}

// Store implements the VectorStore interface on a *gorm.DB.
type Store struct {
	db *gorm.DB
}

// New wraps an open GORM handle. The vectors table is created by the store
// migration, which runs before vector plugins are loaded.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Name() string { return "sqlvec" }

func (s *Store) Store(ctx context.Context, id string, sector model.Sector, vec []float32, owner string) error {
	if len(vec) == 0 {
		return fmt.Errorf("sqlvec: empty vector for %s/%s", id, sector)
	}
	row := model.Vector{
		MemoryID: id,
		Sector:   sector,
		Owner:    owner,
		Blob:     vecmath.Encode(vec),
		Dim:      len(vec),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}, {Name: "sector"}},
		DoUpdates: clause.Assignments(map[string]any{
			"owner": row.Owner,
			"v":     row.Blob,
			"dim":   row.Dim,
		}),
	}).Create(&row).Error
}

func (s *Store) Delete(ctx context.Context, id string, sector model.Sector) error {
	return s.db.WithContext(ctx).
		Where("id = ? AND sector = ?", id, sector).
		Delete(&model.Vector{}).Error
}

func (s *Store) DeleteAll(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&model.Vector{}).Error
}

func (s *Store) Search(ctx context.Context, sector model.Sector, query []float32, k int) ([]registryvector.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	var results []registryvector.SearchResult
	var batch []model.Vector
	err := s.db.WithContext(ctx).
		Where("sector = ?", sector).
		FindInBatches(&batch, scanBatchSize, func(tx *gorm.DB, _ int) error {
			for _, row := range batch {
				vec := vecmath.Decode(row.Blob)
				if len(vec) != len(query) {
					continue
				}
				results = append(results, registryvector.SearchResult{
					MemoryID: row.MemoryID,
					Score:    vecmath.CosineSimilarity(query, vec),
				})
			}
			return nil
		}).Error
	if err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) GetVector(ctx context.Context, id string, sector model.Sector) ([]float32, error) {
	var row model.Vector
	err := s.db.WithContext(ctx).
		Where("id = ? AND sector = ?", id, sector).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return vecmath.Decode(row.Blob), nil
}

func (s *Store) GetVectorsByID(ctx context.Context, id string) ([]registryvector.StoredVector, error) {
	var rows []model.Vector
	if err := s.db.WithContext(ctx).Where("id = ?", id).Find(&rows).Error; err != nil {
		return nil, err
	}
	return decodeRows(rows), nil
}

func (s *Store) GetVectorsBySector(ctx context.Context, sector model.Sector) ([]registryvector.StoredVector, error) {
	var rows []model.Vector
	if err := s.db.WithContext(ctx).Where("sector = ?", sector).Find(&rows).Error; err != nil {
		return nil, err
	}
	return decodeRows(rows), nil
}

func decodeRows(rows []model.Vector) []registryvector.StoredVector {
	out := make([]registryvector.StoredVector, 0, len(rows))
	for _, row := range rows {
		out = append(out, registryvector.StoredVector{
			MemoryID: row.MemoryID,
			Sector:   row.Sector,
			Vector:   vecmath.Decode(row.Blob),
			Dim:      row.Dim,
		})
	}
	return out
}

var _ registryvector.VectorStore = (*Store)(nil)
