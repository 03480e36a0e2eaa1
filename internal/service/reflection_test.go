package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sectormem/sectormem/internal/engine"
	"github.com/sectormem/sectormem/internal/model"
	"github.com/sectormem/sectormem/internal/plugin/store/gormstore"
	"github.com/sectormem/sectormem/internal/plugin/vector/chromem"
)

type stubEmbedder struct{}

func (stubEmbedder) ModelName() string { return "stub" }
func (stubEmbedder) Dimension() int    { return 3 }

func (stubEmbedder) EmbedForSector(ctx context.Context, text string, sector model.Sector) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubReasoner struct{}

func (stubReasoner) Name() string { return "stub" }

func (stubReasoner) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return `["Queued work always finishes even while the server stops."]`, nil
}

func newWorkerEngine(t *testing.T) *engine.Engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "workers.sqlite")), &gorm.Config{})
	require.NoError(t, err)
	st := gormstore.New(db)
	require.NoError(t, st.Migrate(context.Background()))
	return engine.New(st, chromem.New(), stubEmbedder{}, stubReasoner{}, engine.Options{})
}

func TestReflectionWorkers_EnqueueUntilFull(t *testing.T) {
	p := NewReflectionWorkers(nil, 1, 2)

	require.NoError(t, p.Enqueue("task-1"))
	require.NoError(t, p.Enqueue("task-2"))

	err := p.Enqueue("task-3")
	require.Error(t, err)
	require.Contains(t, err.Error(), "queue full")
}

func TestReflectionWorkers_EnqueueAfterClose(t *testing.T) {
	p := NewReflectionWorkers(nil, 1, 2)
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	err := p.Enqueue("task-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "shutting down")
}

func TestNewReflectionWorkers_Defaults(t *testing.T) {
	p := NewReflectionWorkers(nil, 0, 0)
	require.Equal(t, 2, p.workers)
	require.Equal(t, 64, cap(p.queue))
}

func TestReflectionWorkers_TaskDequeuedDuringShutdownStillCompletes(t *testing.T) {
	eng := newWorkerEngine(t)
	ctx := context.Background()

	_, err := eng.AddMemory(ctx, engine.AddRequest{
		Content: "deploy notes written moments before the restart",
		Owner:   "alice",
	})
	require.NoError(t, err)

	p := NewReflectionWorkers(eng, 1, 4)
	eng.SetScheduler(p)

	task, err := eng.StartReflection(ctx, "alice", 24)
	require.NoError(t, err)

	// The serving context is already gone when the worker picks up the task.
	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		p.Start(runCtx)
		close(done)
	}()
	<-done

	got, err := eng.GetReflectionTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, model.TaskCompleted, got.Status)
	require.NotEmpty(t, got.Insights)
}
