package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sectormem/sectormem/internal/model"
)

// MemoryUpdate defines the mutable fields of a memory edit. Nil fields are
// left unchanged. Every applied edit bumps the memory's version.
type MemoryUpdate struct {
	Content *string
	Sector  *model.Sector
	Tags    []string
	Meta    map[string]any
}

// MemoryStore defines the primary data access interface for the engine.
// Implementations differ only in driver and placeholder syntax; all ranking
// and similarity math stays in the engine.
type MemoryStore interface {
	// Memories
	InsertMemory(ctx context.Context, m *model.Memory) error
	GetMemory(ctx context.Context, id string) (*model.Memory, error)
	// GetMemoryBySimhash returns the highest-salience memory with the given
	// content fingerprint, or nil when none exists.
	GetMemoryBySimhash(ctx context.Context, simhash string) (*model.Memory, error)
	ListMemories(ctx context.Context, limit, offset int) ([]model.Memory, error)
	ListMemoriesByOwner(ctx context.Context, owner string, limit, offset int) ([]model.Memory, error)
	ListMemoriesBySector(ctx context.Context, sector model.Sector, limit, offset int) ([]model.Memory, error)
	UpdateMemory(ctx context.Context, id string, update MemoryUpdate, now time.Time) error
	// TouchMemory records an access: last-seen timestamp and reinforced salience.
	TouchMemory(ctx context.Context, id string, lastSeen time.Time, salience float64) error
	SetSalience(ctx context.Context, id string, salience float64) error
	SetMeanVector(ctx context.Context, id string, dim int, blob []byte) error
	SetCompressedVector(ctx context.Context, id string, blob []byte) error
	SetFeedbackScore(ctx context.Context, id string, score float64) error
	DeleteMemory(ctx context.Context, id string) error

	// Waypoints
	UpsertWaypoint(ctx context.Context, w *model.Waypoint) error
	// Neighbors returns all outgoing edges of src ordered by weight descending.
	Neighbors(ctx context.Context, src string) ([]model.Waypoint, error)
	GetWaypoint(ctx context.Context, src, dst string) (*model.Waypoint, error)
	// DeleteWaypointsTouching removes every edge where id is source or destination.
	DeleteWaypointsTouching(ctx context.Context, id string) error
	PruneWaypoints(ctx context.Context, threshold float64) error

	// Reflection tasks
	InsertReflectionTask(ctx context.Context, t *model.ReflectionTask) error
	GetReflectionTask(ctx context.Context, id string) (*model.ReflectionTask, error)
	// ListReflectionTasks returns an owner's tasks ordered by recency.
	ListReflectionTasks(ctx context.Context, owner string) ([]model.ReflectionTask, error)
	MarkTaskRunning(ctx context.Context, id string, now time.Time) error
	CompleteTask(ctx context.Context, id string, insights []string, now time.Time) error
	FailTask(ctx context.Context, id string, errMsg string, now time.Time) error

	// Reflection records
	InsertReflectionRecord(ctx context.Context, r *model.ReflectionRecord) error
	RecentReflections(ctx context.Context, owner string, limit int) ([]model.ReflectionRecord, error)
	// ListReflectionRecords returns all of an owner's records including their
	// embedding blobs, for similarity scans.
	ListReflectionRecords(ctx context.Context, owner string) ([]model.ReflectionRecord, error)

	// Maintenance log and user summaries
	LogMaintenance(ctx context.Context, op string, count int) error
	// ListMaintenanceLogs returns recent maintenance entries, newest first.
	ListMaintenanceLogs(ctx context.Context, limit int) ([]model.MaintenanceLog, error)
	// LastMaintenance returns the most recent entry for op, or nil when the
	// pass has never run.
	LastMaintenance(ctx context.Context, op string) (*model.MaintenanceLog, error)
	GetUserSummary(ctx context.Context, owner string) (*model.UserSummary, error)
	BumpUserReflection(ctx context.Context, owner, summary string, now time.Time) error
}

// Loader creates a MemoryStore from config.
type Loader func(ctx context.Context) (MemoryStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
