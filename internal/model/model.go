package model

import (
	"time"
)

// Sector is one of the fixed semantic categories a memory can belong to.
type Sector string

const (
	SectorEpisodic   Sector = "episodic"
	SectorSemantic   Sector = "semantic"
	SectorProcedural Sector = "procedural"
	SectorEmotional  Sector = "emotional"
	SectorReflective Sector = "reflective"
)

// Sectors returns all valid sectors in a stable order.
func Sectors() []Sector {
	return []Sector{SectorEpisodic, SectorSemantic, SectorProcedural, SectorEmotional, SectorReflective}
}

// IsValid reports whether s is one of the fixed sectors.
func (s Sector) IsValid() bool {
	switch s {
	case SectorEpisodic, SectorSemantic, SectorProcedural, SectorEmotional, SectorReflective:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a reflection task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// IsTerminal reports whether no further transition out of the status exists.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Memory is a stored unit of content, classified into a primary sector and
// embedded once per sector it belongs to.
type Memory struct {
	ID            string         `json:"id"                      gorm:"primaryKey"`
	Owner         string         `json:"owner,omitempty"         gorm:"index"`
	Segment       int            `json:"segment"                 gorm:"not null;default:0;index"`
	Content       string         `json:"content"                 gorm:"not null"`
	Simhash       *string        `json:"simhash,omitempty"       gorm:"uniqueIndex"`
	PrimarySector Sector         `json:"primarySector"           gorm:"not null;index"`
	Tags          []string       `json:"tags"                    gorm:"serializer:json"`
	Meta          map[string]any `json:"meta"                    gorm:"serializer:json"`
	CreatedAt     time.Time      `json:"createdAt"               gorm:"not null"`
	UpdatedAt     time.Time      `json:"updatedAt"               gorm:"not null"`
	LastSeenAt    time.Time      `json:"lastSeenAt"              gorm:"not null;index"`
	Salience      float64        `json:"salience"                gorm:"not null"`
	DecayRate     float64        `json:"decayRate"               gorm:"not null"`
	Version       int            `json:"version"                 gorm:"not null;default:1"`
	MeanDim       int            `json:"meanDim,omitempty"`
	MeanVec       []byte         `json:"-"`
	CompressedVec []byte         `json:"-"`
	FeedbackScore float64        `json:"feedbackScore"           gorm:"not null;default:0"`
}

func (Memory) TableName() string { return "memories" }

// Vector is one embedding of one memory in one sector. At most one vector
// exists per (memory id, sector); stores are upserts.
type Vector struct {
	MemoryID string `json:"memoryId" gorm:"primaryKey;column:id"`
	Sector   Sector `json:"sector"   gorm:"primaryKey"`
	Owner    string `json:"owner,omitempty" gorm:"index"`
	Blob     []byte `json:"-"        gorm:"column:v;not null"`
	Dim      int    `json:"dim"      gorm:"not null"`
}

func (Vector) TableName() string { return "vectors" }

// Waypoint is a weighted directed association between two memories.
// Edges are keyed (src, dst, owner): multiple destinations per source coexist.
type Waypoint struct {
	SrcID     string    `json:"srcId"     gorm:"primaryKey;column:src_id"`
	DstID     string    `json:"dstId"     gorm:"primaryKey;column:dst_id;index"`
	Owner     string    `json:"owner,omitempty" gorm:"primaryKey;index"`
	Weight    float64   `json:"weight"    gorm:"not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null"`
}

func (Waypoint) TableName() string { return "waypoints" }

// ReflectionTask is a unit of background distillation work.
type ReflectionTask struct {
	ID          string     `json:"id"                    gorm:"primaryKey"`
	Owner       string     `json:"owner"                 gorm:"not null;index"`
	Status      TaskStatus `json:"status"                gorm:"not null;default:'pending';index"`
	MemoryIDs   []string   `json:"memoryIds"             gorm:"serializer:json;not null"`
	Insights    []string   `json:"insights"              gorm:"serializer:json"`
	WindowStart time.Time  `json:"windowStart"`
	WindowEnd   time.Time  `json:"windowEnd"`
	CreatedAt   time.Time  `json:"createdAt"             gorm:"not null;index"`
	UpdatedAt   time.Time  `json:"updatedAt"             gorm:"not null"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

func (ReflectionTask) TableName() string { return "reflection_tasks" }

// ReflectionRecord is one derived insight, embedded in the reflective sector.
// Records are write-once.
type ReflectionRecord struct {
	ID        string    `json:"id"               gorm:"primaryKey"`
	Owner     string    `json:"owner"            gorm:"not null;index"`
	TaskID    *string   `json:"taskId,omitempty" gorm:"index"`
	Content   string    `json:"content"          gorm:"not null"`
	CreatedAt time.Time `json:"createdAt"        gorm:"not null;index"`
	Vector    []byte    `json:"-"                gorm:"not null"`
	Dim       int       `json:"dim"              gorm:"not null"`

	// Similarity is only populated by similarity searches; never persisted.
	Similarity float64 `json:"similarity,omitempty" gorm:"-"`
}

func (ReflectionRecord) TableName() string { return "reflection_records" }

// MaintenanceLog records one maintenance pass (decay, reflect, consolidate)
// with an operation count, for observability.
type MaintenanceLog struct {
	ID        uint      `json:"id"        gorm:"primaryKey;autoIncrement"`
	Op        string    `json:"op"        gorm:"not null;index"`
	Count     int       `json:"count"     gorm:"not null;default:1"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;index"`
}

func (MaintenanceLog) TableName() string { return "maintenance_logs" }

// UserSummary holds the rolling per-owner summary updated after reflections.
type UserSummary struct {
	Owner           string    `json:"owner"           gorm:"primaryKey;column:owner"`
	Summary         string    `json:"summary"`
	ReflectionCount int       `json:"reflectionCount" gorm:"not null;default:0"`
	CreatedAt       time.Time `json:"createdAt"       gorm:"not null"`
	UpdatedAt       time.Time `json:"updatedAt"       gorm:"not null"`
}

func (UserSummary) TableName() string { return "user_summaries" }
