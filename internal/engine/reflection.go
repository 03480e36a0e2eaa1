package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sectormem/sectormem/internal/engine/vecmath"
	"github.com/sectormem/sectormem/internal/metrics"
	"github.com/sectormem/sectormem/internal/model"
	registrystore "github.com/sectormem/sectormem/internal/registry/store"
)

// ErrNoMemories is returned by StartReflection when the owner has no
// memories inside the requested window. No task row is created.
var ErrNoMemories = errors.New("no memories found in time window")

// ErrReflectionDisabled is returned when no reasoning service is configured.
var ErrReflectionDisabled = errors.New("no reasoning service configured")

// Memory content is truncated to this many runes before prompting.
const maxPromptMemoryLength = 500

const reflectionSystemPrompt = `You are an advanced memory reflection system. Your task is to analyze a collection of memories and extract higher-order insights, patterns, principles, or abstract concepts from them.

Guidelines:
1. Look for common themes, patterns, or recurring concepts across the memories
2. Identify relationships, connections, or dependencies between different memories
3. Extract abstract principles, insights, or learnings that generalize beyond individual memories
4. Consider temporal patterns, cause-effect relationships, or evolutionary trends
5. Each insight should be a concise, high-level abstraction (1-3 sentences)
6. Focus on actionable insights, principles, or patterns that could inform future behavior or understanding
7. Return each insight as a separate item in a structured format`

// StartReflection validates the request, snapshots the qualifying memory ids
// into a pending task and hands the task id to the worker pool. The caller
// never awaits execution; failures after this point surface only through
// task-status polling.
func (e *Engine) StartReflection(ctx context.Context, owner string, windowHours int) (*model.ReflectionTask, error) {
	if owner == "" {
		return nil, &registrystore.ValidationError{Field: "owner", Message: "must not be empty"}
	}
	if windowHours <= 0 {
		windowHours = 24
	}
	if e.reasoner == nil {
		return nil, ErrReflectionDisabled
	}

	now := time.Now()
	windowStart := now.Add(-time.Duration(windowHours) * time.Hour)

	mems, err := e.store.ListMemoriesByOwner(ctx, owner, 10000, 0)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	var ids []string
	for _, m := range mems {
		if !m.CreatedAt.Before(windowStart) && !m.CreatedAt.After(now) {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: owner %s, last %d hours", ErrNoMemories, owner, windowHours)
	}

	task := &model.ReflectionTask{
		ID:          NewID(),
		Owner:       owner,
		Status:      model.TaskPending,
		MemoryIDs:   ids,
		WindowStart: windowStart,
		WindowEnd:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.InsertReflectionTask(ctx, task); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	if e.scheduler == nil {
		log.Warn("reflection: no scheduler wired; task stays pending", "taskId", task.ID)
		return task, nil
	}
	if err := e.scheduler.Enqueue(task.ID); err != nil {
		// The task row exists and stays pending; pollers can observe it and
		// a later worker restart may pick it up.
		log.Error("reflection: enqueue failed", "taskId", task.ID, "err", err)
	}
	return task, nil
}

// ExecuteReflectionTask runs one task to a terminal state. Any error during
// gathering, generation or parsing marks the task failed with the message
// captured; per-insight embed/store failures are logged and do not abort
// sibling insights.
func (e *Engine) ExecuteReflectionTask(ctx context.Context, taskID string) error {
	now := time.Now()
	if err := e.store.MarkTaskRunning(ctx, taskID, now); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	// Defensive re-fetch: the process may have restarted between scheduling
	// and execution, so the row is the source of truth, not the caller.
	task, err := e.store.GetReflectionTask(ctx, taskID)
	if err != nil {
		return e.failTask(ctx, taskID, fmt.Errorf("fetch task: %w", err))
	}
	if task == nil {
		return fmt.Errorf("reflection task not found: %s", taskID)
	}

	insights, err := e.distill(ctx, task.MemoryIDs)
	if err != nil {
		return e.failTask(ctx, taskID, err)
	}

	stored := 0
	for _, insight := range insights {
		if err := e.storeInsight(ctx, task.Owner, taskID, insight); err != nil {
			log.Error("reflection: insight store failed; continuing", "taskId", taskID, "err", err)
			continue
		}
		stored++
	}

	done := time.Now()
	if err := e.store.CompleteTask(ctx, taskID, insights, done); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if len(insights) > 0 {
		summary := strings.Join(insights, "\n")
		if len(summary) > 2000 {
			summary = summary[:2000]
		}
		if err := e.store.BumpUserReflection(ctx, task.Owner, summary, done); err != nil {
			log.Error("reflection: user summary update failed", "owner", task.Owner, "err", err)
		}
	}
	if err := e.store.LogMaintenance(ctx, "reflect", stored); err != nil {
		log.Error("reflection: maintenance log failed", "err", err)
	}
	metrics.ReflectionTasksTotal.WithLabelValues("completed").Inc()
	metrics.ReflectionInsightsTotal.Add(float64(stored))
	return nil
}

func (e *Engine) failTask(ctx context.Context, taskID string, cause error) error {
	if err := e.store.FailTask(ctx, taskID, cause.Error(), time.Now()); err != nil {
		log.Error("reflection: fail-task record failed", "taskId", taskID, "err", err)
	}
	metrics.ReflectionTasksTotal.WithLabelValues("failed").Inc()
	return cause
}

// distill loads the referenced memories (silently dropping ids that no longer
// exist), builds the prompt and parses the response into accepted insights.
func (e *Engine) distill(ctx context.Context, memoryIDs []string) ([]string, error) {
	var mems []model.Memory
	for _, id := range memoryIDs {
		m, err := e.store.GetMemory(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load memory %s: %w", id, err)
		}
		if m == nil {
			continue
		}
		mems = append(mems, *m)
	}
	if len(mems) == 0 {
		return nil, nil
	}

	// Most salient memories anchor the prompt.
	sort.SliceStable(mems, func(i, j int) bool { return mems[i].Salience > mems[j].Salience })

	var b strings.Builder
	for i, m := range mems {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Memory %d [%s, salience=%.2f]:\n%s", i+1, m.PrimarySector, m.Salience, truncateRunes(m.Content, maxPromptMemoryLength))
		if len(m.Tags) > 0 {
			fmt.Fprintf(&b, "\nTags: %s", strings.Join(m.Tags, ", "))
		}
	}

	prompt := fmt.Sprintf(`Analyze the following %d memories and extract higher-order insights, patterns, or abstract concepts:

%s

Please provide 3-8 high-level insights or abstract concepts. Format your response as a JSON array of strings, where each string is a distinct insight. For example:
["Insight 1: ...", "Insight 2: ...", "Insight 3: ..."]

If you cannot extract meaningful insights, return an empty array [].`, len(mems), b.String())

	response, err := e.reasoner.Generate(ctx, prompt, reflectionSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("reasoning service: %w", err)
	}
	return ParseInsights(response), nil
}

// storeInsight embeds one insight in the reflective sector and persists its
// reflection record.
func (e *Engine) storeInsight(ctx context.Context, owner, taskID, insight string) error {
	vec, err := e.embedder.EmbedForSector(ctx, insight, model.SectorReflective)
	if err != nil {
		return fmt.Errorf("embed insight: %w", err)
	}
	rec := &model.ReflectionRecord{
		ID:        NewID(),
		Owner:     owner,
		TaskID:    &taskID,
		Content:   insight,
		CreatedAt: time.Now(),
		Vector:    vecmath.Encode(vec),
		Dim:       len(vec),
	}
	if err := e.store.InsertReflectionRecord(ctx, rec); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// GetReflectionTask returns a task by id, or nil when unknown.
func (e *Engine) GetReflectionTask(ctx context.Context, id string) (*model.ReflectionTask, error) {
	return e.store.GetReflectionTask(ctx, id)
}

// ListReflectionTasks returns an owner's tasks, most recent first.
func (e *Engine) ListReflectionTasks(ctx context.Context, owner string) ([]model.ReflectionTask, error) {
	if owner == "" {
		return nil, &registrystore.ValidationError{Field: "owner", Message: "must not be empty"}
	}
	return e.store.ListReflectionTasks(ctx, owner)
}

// RecentReflections returns the owner's n most recent reflection records.
func (e *Engine) RecentReflections(ctx context.Context, owner string, limit int) ([]model.ReflectionRecord, error) {
	if owner == "" {
		return nil, &registrystore.ValidationError{Field: "owner", Message: "must not be empty"}
	}
	if limit < 1 || limit > 100 {
		return nil, &registrystore.ValidationError{Field: "limit", Message: "must be between 1 and 100"}
	}
	return e.store.RecentReflections(ctx, owner, limit)
}

// SearchReflections ranks the owner's reflection records by cosine similarity
// to the query text, filters by the minimum similarity threshold and returns
// at most limit records sorted descending.
func (e *Engine) SearchReflections(ctx context.Context, owner, query string, limit int, minSimilarity float64) ([]model.ReflectionRecord, error) {
	if owner == "" {
		return nil, &registrystore.ValidationError{Field: "owner", Message: "must not be empty"}
	}
	if strings.TrimSpace(query) == "" {
		return nil, &registrystore.ValidationError{Field: "query", Message: "must not be empty"}
	}
	if limit < 1 || limit > 100 {
		return nil, &registrystore.ValidationError{Field: "limit", Message: "must be between 1 and 100"}
	}
	if minSimilarity < 0 || minSimilarity > 1 {
		return nil, &registrystore.ValidationError{Field: "minSimilarity", Message: "must be between 0 and 1"}
	}

	queryVec, err := e.embedder.EmbedForSector(ctx, strings.TrimSpace(query), model.SectorReflective)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	records, err := e.store.ListReflectionRecords(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	var out []model.ReflectionRecord
	for _, r := range records {
		sim := vecmath.CosineSimilarity(queryVec, vecmath.Decode(r.Vector))
		if sim < minSimilarity {
			continue
		}
		r.Similarity = sim
		r.Vector = nil
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
