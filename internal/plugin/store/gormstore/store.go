// Package gormstore implements the MemoryStore interface on GORM. The
// postgres and sqlite plugins differ only in the dialector they open; every
// query here is written against GORM's portable surface so the backends stay
// behaviorally identical.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sectormem/sectormem/internal/model"
	registrystore "github.com/sectormem/sectormem/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements registrystore.MemoryStore on a *gorm.DB.
type Store struct {
	db *gorm.DB
}

// New wraps an open GORM handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. AutoMigrate is idempotent: re-running it any
// number of times leaves the schema unchanged.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&model.Memory{},
		&model.Vector{},
		&model.Waypoint{},
		&model.ReflectionTask{},
		&model.ReflectionRecord{},
		&model.MaintenanceLog{},
		&model.UserSummary{},
	)
}

// DB exposes the underlying handle for the sqlvec vector store, which shares
// the relational backend.
func (s *Store) DB() *gorm.DB { return s.db }

// isUniqueViolation recognizes a unique-constraint violation on either
// backend: SQLSTATE 23505 from postgres, the constraint message from sqlite.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Memories

func (s *Store) InsertMemory(ctx context.Context, m *model.Memory) error {
	err := s.db.WithContext(ctx).Create(m).Error
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("memory %s: %w", m.ID, registrystore.ErrDuplicate)
	}
	return err
}

func (s *Store) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	var m model.Memory
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMemoryBySimhash(ctx context.Context, simhash string) (*model.Memory, error) {
	if simhash == "" {
		return nil, nil
	}
	var m model.Memory
	err := s.db.WithContext(ctx).
		Where("simhash = ?", simhash).
		Order("salience DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMemories(ctx context.Context, limit, offset int) ([]model.Memory, error) {
	var out []model.Memory
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

func (s *Store) ListMemoriesByOwner(ctx context.Context, owner string, limit, offset int) ([]model.Memory, error) {
	var out []model.Memory
	err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

func (s *Store) ListMemoriesBySector(ctx context.Context, sector model.Sector, limit, offset int) ([]model.Memory, error) {
	var out []model.Memory
	err := s.db.WithContext(ctx).
		Where("primary_sector = ?", sector).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

func (s *Store) UpdateMemory(ctx context.Context, id string, update registrystore.MemoryUpdate, now time.Time) error {
	fields := map[string]any{
		"updated_at": now,
		"version":    gorm.Expr("version + 1"),
	}
	if update.Content != nil {
		fields["content"] = *update.Content
	}
	if update.Sector != nil {
		fields["primary_sector"] = *update.Sector
	}
	if update.Tags != nil {
		fields["tags"] = update.Tags
	}
	if update.Meta != nil {
		fields["meta"] = update.Meta
	}
	res := s.db.WithContext(ctx).Model(&model.Memory{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "memory", ID: id}
	}
	return nil
}

func (s *Store) TouchMemory(ctx context.Context, id string, lastSeen time.Time, salience float64) error {
	return s.db.WithContext(ctx).Model(&model.Memory{}).Where("id = ?", id).
		Updates(map[string]any{
			"last_seen_at": lastSeen,
			"salience":     salience,
			"updated_at":   lastSeen,
		}).Error
}

func (s *Store) SetSalience(ctx context.Context, id string, salience float64) error {
	return s.db.WithContext(ctx).Model(&model.Memory{}).Where("id = ?", id).
		Update("salience", salience).Error
}

func (s *Store) SetMeanVector(ctx context.Context, id string, dim int, blob []byte) error {
	return s.db.WithContext(ctx).Model(&model.Memory{}).Where("id = ?", id).
		Updates(map[string]any{"mean_dim": dim, "mean_vec": blob}).Error
}

func (s *Store) SetCompressedVector(ctx context.Context, id string, blob []byte) error {
	return s.db.WithContext(ctx).Model(&model.Memory{}).Where("id = ?", id).
		Update("compressed_vec", blob).Error
}

func (s *Store) SetFeedbackScore(ctx context.Context, id string, score float64) error {
	return s.db.WithContext(ctx).Model(&model.Memory{}).Where("id = ?", id).
		Update("feedback_score", score).Error
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&model.Memory{}, "id = ?", id).Error
}

// Waypoints

func (s *Store) UpsertWaypoint(ctx context.Context, w *model.Waypoint) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "src_id"}, {Name: "dst_id"}, {Name: "owner"}},
		DoUpdates: clause.Assignments(map[string]any{
			"weight":     w.Weight,
			"updated_at": w.UpdatedAt,
		}),
	}).Create(w).Error
}

func (s *Store) Neighbors(ctx context.Context, src string) ([]model.Waypoint, error) {
	var out []model.Waypoint
	err := s.db.WithContext(ctx).
		Where("src_id = ?", src).
		Order("weight DESC").
		Find(&out).Error
	return out, err
}

func (s *Store) GetWaypoint(ctx context.Context, src, dst string) (*model.Waypoint, error) {
	var w model.Waypoint
	err := s.db.WithContext(ctx).
		Where("src_id = ? AND dst_id = ?", src, dst).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) DeleteWaypointsTouching(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Where("src_id = ? OR dst_id = ?", id, id).
		Delete(&model.Waypoint{}).Error
}

func (s *Store) PruneWaypoints(ctx context.Context, threshold float64) error {
	return s.db.WithContext(ctx).
		Where("weight < ?", threshold).
		Delete(&model.Waypoint{}).Error
}

// Reflection tasks

func (s *Store) InsertReflectionTask(ctx context.Context, t *model.ReflectionTask) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *Store) GetReflectionTask(ctx context.Context, id string) (*model.ReflectionTask, error) {
	var t model.ReflectionTask
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListReflectionTasks(ctx context.Context, owner string) ([]model.ReflectionTask, error) {
	var out []model.ReflectionTask
	err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (s *Store) MarkTaskRunning(ctx context.Context, id string, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.ReflectionTask{}).
		Where("id = ? AND status = ?", id, model.TaskPending).
		Updates(map[string]any{"status": model.TaskRunning, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s is not pending", id)
	}
	return nil
}

func (s *Store) CompleteTask(ctx context.Context, id string, insights []string, now time.Time) error {
	if insights == nil {
		insights = []string{}
	}
	return s.db.WithContext(ctx).Model(&model.ReflectionTask{}).
		Where("id = ? AND status = ?", id, model.TaskRunning).
		Updates(map[string]any{
			"status":       model.TaskCompleted,
			"insights":     insights,
			"completed_at": now,
			"updated_at":   now,
		}).Error
}

func (s *Store) FailTask(ctx context.Context, id string, errMsg string, now time.Time) error {
	return s.db.WithContext(ctx).Model(&model.ReflectionTask{}).
		Where("id = ? AND status IN ?", id, []model.TaskStatus{model.TaskPending, model.TaskRunning}).
		Updates(map[string]any{
			"status":     model.TaskFailed,
			"error":      errMsg,
			"updated_at": now,
		}).Error
}

// Reflection records

func (s *Store) InsertReflectionRecord(ctx context.Context, r *model.ReflectionRecord) error {
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *Store) RecentReflections(ctx context.Context, owner string, limit int) ([]model.ReflectionRecord, error) {
	var out []model.ReflectionRecord
	err := s.db.WithContext(ctx).
		Select("id", "owner", "task_id", "content", "created_at", "dim").
		Where("owner = ?", owner).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Store) ListReflectionRecords(ctx context.Context, owner string) ([]model.ReflectionRecord, error) {
	var out []model.ReflectionRecord
	err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Find(&out).Error
	return out, err
}

// Maintenance log and user summaries

func (s *Store) LogMaintenance(ctx context.Context, op string, count int) error {
	return s.db.WithContext(ctx).Create(&model.MaintenanceLog{
		Op:        op,
		Count:     count,
		CreatedAt: time.Now(),
	}).Error
}

func (s *Store) ListMaintenanceLogs(ctx context.Context, limit int) ([]model.MaintenanceLog, error) {
	var out []model.MaintenanceLog
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Store) LastMaintenance(ctx context.Context, op string) (*model.MaintenanceLog, error) {
	var m model.MaintenanceLog
	err := s.db.WithContext(ctx).
		Where("op = ?", op).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetUserSummary(ctx context.Context, owner string) (*model.UserSummary, error) {
	var u model.UserSummary
	err := s.db.WithContext(ctx).First(&u, "owner = ?", owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) BumpUserReflection(ctx context.Context, owner, summary string, now time.Time) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner"}},
		DoUpdates: clause.Assignments(map[string]any{
			"summary":          summary,
			"reflection_count": gorm.Expr("user_summaries.reflection_count + 1"),
			"updated_at":       now,
		}),
	}).Create(&model.UserSummary{
		Owner:           owner,
		Summary:         summary,
		ReflectionCount: 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}).Error
}

var _ registrystore.MemoryStore = (*Store)(nil)
