package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sectormem/sectormem/internal/engine/vecmath"
	"github.com/sectormem/sectormem/internal/model"
	registrystore "github.com/sectormem/sectormem/internal/registry/store"
)

func newReflectionEngine(reasoner *fakeReasoner) (*Engine, *fakeStore, *fakeScheduler) {
	st := newFakeStore()
	fv := newFakeVectors()
	eng := New(st, fv, newFakeEmbedder(), reasoner, Options{})
	sched := &fakeScheduler{}
	eng.SetScheduler(sched)
	return eng, st, sched
}

func TestStartReflection_RequiresOwner(t *testing.T) {
	eng, _, _ := newReflectionEngine(&fakeReasoner{})

	_, err := eng.StartReflection(context.Background(), "", 24)
	var invalid *registrystore.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestStartReflection_DisabledWithoutReasoner(t *testing.T) {
	eng, _, _ := newTestEngine()

	_, err := eng.StartReflection(context.Background(), "alice", 24)
	require.ErrorIs(t, err, ErrReflectionDisabled)
}

func TestStartReflection_EmptyWindowCreatesNoTask(t *testing.T) {
	eng, st, _ := newReflectionEngine(&fakeReasoner{})
	ctx := context.Background()

	// A memory outside the window must not qualify.
	mem, err := eng.AddMemory(ctx, AddRequest{Content: "i went to the market yesterday", Owner: "alice"})
	require.NoError(t, err)
	st.mu.Lock()
	st.memories[mem.ID].CreatedAt = time.Now().Add(-48 * time.Hour)
	st.mu.Unlock()

	_, err = eng.StartReflection(ctx, "alice", 24)
	require.ErrorIs(t, err, ErrNoMemories)

	tasks, err := st.ListReflectionTasks(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestStartReflection_SnapshotsIDsAndEnqueues(t *testing.T) {
	eng, st, sched := newReflectionEngine(&fakeReasoner{})
	ctx := context.Background()

	a, err := eng.AddMemory(ctx, AddRequest{Content: "i went to the market yesterday", Owner: "alice"})
	require.NoError(t, err)
	b, err := eng.AddMemory(ctx, AddRequest{Content: "we met at the cafe earlier", Owner: "alice"})
	require.NoError(t, err)
	_, err = eng.AddMemory(ctx, AddRequest{Content: "bob owns this one", Owner: "bob"})
	require.NoError(t, err)

	task, err := eng.StartReflection(ctx, "alice", 24)
	require.NoError(t, err)
	require.Equal(t, model.TaskPending, task.Status)
	require.ElementsMatch(t, []string{a.ID, b.ID}, task.MemoryIDs)
	require.Equal(t, []string{task.ID}, sched.enqueued)

	stored, err := st.GetReflectionTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestStartReflection_EnqueueFailureLeavesTaskPending(t *testing.T) {
	eng, st, sched := newReflectionEngine(&fakeReasoner{})
	sched.err = errors.New("queue full")
	ctx := context.Background()

	_, err := eng.AddMemory(ctx, AddRequest{Content: "i went to the market yesterday", Owner: "alice"})
	require.NoError(t, err)

	task, err := eng.StartReflection(ctx, "alice", 24)
	require.NoError(t, err)

	stored, err := st.GetReflectionTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskPending, stored.Status)
}

func TestExecuteReflectionTask_CompletesAndStoresInsights(t *testing.T) {
	reasoner := &fakeReasoner{
		response: `["Mornings are the most productive window for focused work.", "Social plans cluster around the end of the week.", "Mornings are the most productive window for focused work.", "too short"]`,
	}
	eng, st, _ := newReflectionEngine(reasoner)
	ctx := context.Background()

	_, err := eng.AddMemory(ctx, AddRequest{Content: "i went to the market yesterday", Owner: "alice"})
	require.NoError(t, err)
	task, err := eng.StartReflection(ctx, "alice", 24)
	require.NoError(t, err)

	require.NoError(t, eng.ExecuteReflectionTask(ctx, task.ID))

	done, err := st.GetReflectionTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	// Duplicate and sub-threshold entries are dropped during parsing.
	require.Equal(t, []string{
		"Mornings are the most productive window for focused work.",
		"Social plans cluster around the end of the week.",
	}, done.Insights)

	records, err := st.ListReflectionRecords(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		require.Equal(t, task.ID, *r.TaskID)
		require.NotEmpty(t, r.Vector)
		require.Equal(t, r.Dim*4, len(r.Vector))
	}

	summary, err := eng.UserSummary(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.Equal(t, 1, summary.ReflectionCount)
	require.Contains(t, summary.Summary, "Social plans cluster")
}

func TestExecuteReflectionTask_ReasonerFailureFailsTask(t *testing.T) {
	reasoner := &fakeReasoner{err: errors.New("upstream 500")}
	eng, st, _ := newReflectionEngine(reasoner)
	ctx := context.Background()

	_, err := eng.AddMemory(ctx, AddRequest{Content: "i went to the market yesterday", Owner: "alice"})
	require.NoError(t, err)
	task, err := eng.StartReflection(ctx, "alice", 24)
	require.NoError(t, err)

	err = eng.ExecuteReflectionTask(ctx, task.ID)
	require.Error(t, err)

	failed, err := st.GetReflectionTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskFailed, failed.Status)
	require.NotNil(t, failed.Error)
	require.Contains(t, *failed.Error, "upstream 500")
}

func TestExecuteReflectionTask_UnknownTask(t *testing.T) {
	eng, _, _ := newReflectionEngine(&fakeReasoner{})

	err := eng.ExecuteReflectionTask(context.Background(), "missing")
	require.Error(t, err)
}

func TestRecentReflections_ValidatesLimit(t *testing.T) {
	eng, _, _ := newReflectionEngine(&fakeReasoner{})

	_, err := eng.RecentReflections(context.Background(), "alice", 0)
	var invalid *registrystore.ValidationError
	require.ErrorAs(t, err, &invalid)

	_, err = eng.RecentReflections(context.Background(), "alice", 101)
	require.ErrorAs(t, err, &invalid)
}

func TestSearchReflections_RanksFiltersAndStripsVectors(t *testing.T) {
	eng, st, _ := newReflectionEngine(&fakeReasoner{})
	ctx := context.Background()
	embedder := newFakeEmbedder()

	const query = "Focus peaks in the morning hours."
	q, err := embedder.EmbedForSector(ctx, query, model.SectorReflective)
	require.NoError(t, err)

	// Second record at a known similarity: 0.6 along the query direction plus
	// an orthogonal component.
	u, err := embedder.EmbedForSector(ctx, "Exercise habits drift on travel weeks.", model.SectorReflective)
	require.NoError(t, err)
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(u[i])
	}
	orth := make([]float32, len(q))
	for i := range q {
		orth[i] = u[i] - float32(dot)*q[i]
	}
	orth = vecmath.Normalize(orth)
	mixed := make([]float32, len(q))
	for i := range q {
		mixed[i] = 0.6*q[i] + 0.8*orth[i]
	}

	insert := func(content string, vec []float32) {
		require.NoError(t, st.InsertReflectionRecord(ctx, &model.ReflectionRecord{
			ID:        NewID(),
			Owner:     "alice",
			Content:   content,
			CreatedAt: time.Now(),
			Vector:    vecmath.Encode(vec),
			Dim:       len(vec),
		}))
	}
	insert(query, q)
	insert("Exercise habits drift on travel weeks.", mixed)

	out, err := eng.SearchReflections(ctx, "alice", query, 10, 0.99)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, query, out[0].Content)
	require.InDelta(t, 1.0, out[0].Similarity, 1e-6)
	require.Nil(t, out[0].Vector)

	// Without a threshold both records come back, best match first.
	out, err = eng.SearchReflections(ctx, "alice", query, 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, query, out[0].Content)
	require.InDelta(t, 0.6, out[1].Similarity, 1e-3)

	// Limit truncates after ranking.
	out, err = eng.SearchReflections(ctx, "alice", query, 1, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, query, out[0].Content)
}

func TestSearchReflections_Validation(t *testing.T) {
	eng, _, _ := newReflectionEngine(&fakeReasoner{})
	ctx := context.Background()

	var invalid *registrystore.ValidationError

	_, err := eng.SearchReflections(ctx, "", "query", 10, 0)
	require.ErrorAs(t, err, &invalid)

	_, err = eng.SearchReflections(ctx, "alice", "   ", 10, 0)
	require.ErrorAs(t, err, &invalid)

	_, err = eng.SearchReflections(ctx, "alice", "query", 0, 0)
	require.ErrorAs(t, err, &invalid)

	_, err = eng.SearchReflections(ctx, "alice", "query", 10, 1.5)
	require.ErrorAs(t, err, &invalid)
}
