package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sectormem/sectormem/internal/engine/vecmath"
	"github.com/sectormem/sectormem/internal/model"
	registrystore "github.com/sectormem/sectormem/internal/registry/store"
	registryvector "github.com/sectormem/sectormem/internal/registry/vector"
)

// fakeStore is an in-memory MemoryStore for engine tests.
type fakeStore struct {
	mu        sync.Mutex
	memories  map[string]*model.Memory
	order     []string
	waypoints map[string]*model.Waypoint
	tasks     map[string]*model.ReflectionTask
	records   []*model.ReflectionRecord
	logs      []model.MaintenanceLog
	summaries map[string]*model.UserSummary

	// insertErr is returned by the next InsertMemory call, once.
	insertErr error
	// suppressSimhashLookups makes that many GetMemoryBySimhash calls miss,
	// simulating a concurrent insert racing past the dedupe lookup.
	suppressSimhashLookups int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		memories:  map[string]*model.Memory{},
		waypoints: map[string]*model.Waypoint{},
		tasks:     map[string]*model.ReflectionTask{},
		summaries: map[string]*model.UserSummary{},
	}
}

func wpKey(src, dst, owner string) string { return src + "|" + dst + "|" + owner }

func (s *fakeStore) InsertMemory(ctx context.Context, m *model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		err := s.insertErr
		s.insertErr = nil
		return err
	}
	cp := *m
	s.memories[m.ID] = &cp
	s.order = append(s.order, m.ID)
	return nil
}

func (s *fakeStore) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) GetMemoryBySimhash(ctx context.Context, simhash string) (*model.Memory, error) {
	if simhash == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suppressSimhashLookups > 0 {
		s.suppressSimhashLookups--
		return nil, nil
	}
	var best *model.Memory
	for _, m := range s.memories {
		if m.Simhash == nil || *m.Simhash != simhash {
			continue
		}
		if best == nil || m.Salience > best.Salience {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *fakeStore) list(filter func(*model.Memory) bool, limit, offset int) []model.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Memory
	for _, id := range s.order {
		m, ok := s.memories[id]
		if !ok || !filter(m) {
			continue
		}
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *fakeStore) ListMemories(ctx context.Context, limit, offset int) ([]model.Memory, error) {
	return s.list(func(*model.Memory) bool { return true }, limit, offset), nil
}

func (s *fakeStore) ListMemoriesByOwner(ctx context.Context, owner string, limit, offset int) ([]model.Memory, error) {
	return s.list(func(m *model.Memory) bool { return m.Owner == owner }, limit, offset), nil
}

func (s *fakeStore) ListMemoriesBySector(ctx context.Context, sector model.Sector, limit, offset int) ([]model.Memory, error) {
	return s.list(func(m *model.Memory) bool { return m.PrimarySector == sector }, limit, offset), nil
}

func (s *fakeStore) UpdateMemory(ctx context.Context, id string, update registrystore.MemoryUpdate, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return &registrystore.NotFoundError{Resource: "memory", ID: id}
	}
	if update.Content != nil {
		m.Content = *update.Content
	}
	if update.Sector != nil {
		m.PrimarySector = *update.Sector
	}
	if update.Tags != nil {
		m.Tags = update.Tags
	}
	if update.Meta != nil {
		m.Meta = update.Meta
	}
	m.UpdatedAt = now
	m.Version++
	return nil
}

func (s *fakeStore) TouchMemory(ctx context.Context, id string, lastSeen time.Time, salience float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return &registrystore.NotFoundError{Resource: "memory", ID: id}
	}
	m.LastSeenAt = lastSeen
	m.UpdatedAt = lastSeen
	m.Salience = salience
	return nil
}

func (s *fakeStore) SetSalience(ctx context.Context, id string, salience float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memories[id]; ok {
		m.Salience = salience
	}
	return nil
}

func (s *fakeStore) SetMeanVector(ctx context.Context, id string, dim int, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memories[id]; ok {
		m.MeanDim = dim
		m.MeanVec = blob
	}
	return nil
}

func (s *fakeStore) SetCompressedVector(ctx context.Context, id string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memories[id]; ok {
		m.CompressedVec = blob
	}
	return nil
}

func (s *fakeStore) SetFeedbackScore(ctx context.Context, id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memories[id]; ok {
		m.FeedbackScore = score
	}
	return nil
}

func (s *fakeStore) DeleteMemory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memories, id)
	return nil
}

func (s *fakeStore) UpsertWaypoint(ctx context.Context, w *model.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.waypoints[wpKey(w.SrcID, w.DstID, w.Owner)] = &cp
	return nil
}

func (s *fakeStore) Neighbors(ctx context.Context, src string) ([]model.Waypoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Waypoint
	for _, w := range s.waypoints {
		if w.SrcID == src {
			out = append(out, *w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out, nil
}

func (s *fakeStore) GetWaypoint(ctx context.Context, src, dst string) (*model.Waypoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.waypoints {
		if w.SrcID == src && w.DstID == dst {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) DeleteWaypointsTouching(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, w := range s.waypoints {
		if w.SrcID == id || w.DstID == id {
			delete(s.waypoints, k)
		}
	}
	return nil
}

func (s *fakeStore) PruneWaypoints(ctx context.Context, threshold float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, w := range s.waypoints {
		if w.Weight < threshold {
			delete(s.waypoints, k)
		}
	}
	return nil
}

func (s *fakeStore) InsertReflectionTask(ctx context.Context, t *model.ReflectionTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *fakeStore) GetReflectionTask(ctx context.Context, id string) (*model.ReflectionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) ListReflectionTasks(ctx context.Context, owner string) ([]model.ReflectionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ReflectionTask
	for _, t := range s.tasks {
		if t.Owner == owner {
			out = append(out, *t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) MarkTaskRunning(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != model.TaskPending {
		return fmt.Errorf("task %s is not pending", id)
	}
	t.Status = model.TaskRunning
	t.UpdatedAt = now
	return nil
}

func (s *fakeStore) CompleteTask(ctx context.Context, id string, insights []string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != model.TaskRunning {
		return fmt.Errorf("task %s is not running", id)
	}
	if insights == nil {
		insights = []string{}
	}
	t.Status = model.TaskCompleted
	t.Insights = insights
	t.CompletedAt = &now
	t.UpdatedAt = now
	return nil
}

func (s *fakeStore) FailTask(ctx context.Context, id string, errMsg string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status.IsTerminal() {
		return fmt.Errorf("task %s is not active", id)
	}
	t.Status = model.TaskFailed
	t.Error = &errMsg
	t.UpdatedAt = now
	return nil
}

func (s *fakeStore) InsertReflectionRecord(ctx context.Context, r *model.ReflectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.records = append(s.records, &cp)
	return nil
}

func (s *fakeStore) RecentReflections(ctx context.Context, owner string, limit int) ([]model.ReflectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ReflectionRecord
	for _, r := range s.records {
		if r.Owner == owner {
			cp := *r
			cp.Vector = nil
			out = append(out, cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) ListReflectionRecords(ctx context.Context, owner string) ([]model.ReflectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ReflectionRecord
	for _, r := range s.records {
		if r.Owner == owner {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) LogMaintenance(ctx context.Context, op string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, model.MaintenanceLog{Op: op, Count: count, CreatedAt: time.Now()})
	return nil
}

func (s *fakeStore) ListMaintenanceLogs(ctx context.Context, limit int) ([]model.MaintenanceLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.MaintenanceLog, len(s.logs))
	copy(out, s.logs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) LastMaintenance(ctx context.Context, op string) (*model.MaintenanceLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.MaintenanceLog
	for i := range s.logs {
		l := &s.logs[i]
		if l.Op != op {
			continue
		}
		if best == nil || l.CreatedAt.After(best.CreatedAt) {
			best = l
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *fakeStore) GetUserSummary(ctx context.Context, owner string) (*model.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.summaries[owner]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) BumpUserReflection(ctx context.Context, owner, summary string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.summaries[owner]; ok {
		u.Summary = summary
		u.ReflectionCount++
		u.UpdatedAt = now
		return nil
	}
	s.summaries[owner] = &model.UserSummary{
		Owner:           owner,
		Summary:         summary,
		ReflectionCount: 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return nil
}

var _ registrystore.MemoryStore = (*fakeStore)(nil)

// fakeVectors is an in-memory VectorStore for engine tests.
type fakeVectors struct {
	mu   sync.Mutex
	vecs map[string]registryvector.StoredVector
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{vecs: map[string]registryvector.StoredVector{}}
}

func vecKey(id string, sector model.Sector) string { return id + "|" + string(sector) }

func (f *fakeVectors) Name() string { return "fake" }

func (f *fakeVectors) Store(ctx context.Context, id string, sector model.Sector, vec []float32, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vecs[vecKey(id, sector)] = registryvector.StoredVector{
		MemoryID: id, Sector: sector, Vector: vec, Dim: len(vec),
	}
	return nil
}

func (f *fakeVectors) Delete(ctx context.Context, id string, sector model.Sector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vecs, vecKey(id, sector))
	return nil
}

func (f *fakeVectors) DeleteAll(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range f.vecs {
		if v.MemoryID == id {
			delete(f.vecs, k)
		}
	}
	return nil
}

func (f *fakeVectors) Search(ctx context.Context, sector model.Sector, query []float32, k int) ([]registryvector.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []registryvector.SearchResult
	for _, v := range f.vecs {
		if v.Sector != sector {
			continue
		}
		out = append(out, registryvector.SearchResult{
			MemoryID: v.MemoryID,
			Score:    vecmath.CosineSimilarity(query, v.Vector),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeVectors) GetVector(ctx context.Context, id string, sector model.Sector) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.vecs[vecKey(id, sector)]; ok {
		return v.Vector, nil
	}
	return nil, nil
}

func (f *fakeVectors) GetVectorsByID(ctx context.Context, id string) ([]registryvector.StoredVector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []registryvector.StoredVector
	for _, v := range f.vecs {
		if v.MemoryID == id {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeVectors) GetVectorsBySector(ctx context.Context, sector model.Sector) ([]registryvector.StoredVector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []registryvector.StoredVector
	for _, v := range f.vecs {
		if v.Sector == sector {
			out = append(out, v)
		}
	}
	return out, nil
}

var _ registryvector.VectorStore = (*fakeVectors)(nil)

// fakeEmbedder derives a deterministic unit vector from (sector, text), so a
// query with the exact text of a stored memory scores 1.0 in its sector.
type fakeEmbedder struct {
	dim  int
	errs map[string]error
}

func newFakeEmbedder() *fakeEmbedder { return &fakeEmbedder{dim: 32} }

func (e *fakeEmbedder) ModelName() string { return "fake" }
func (e *fakeEmbedder) Dimension() int    { return e.dim }

func (e *fakeEmbedder) EmbedForSector(ctx context.Context, text string, sector model.Sector) ([]float32, error) {
	if err, ok := e.errs[text]; ok {
		return nil, err
	}
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

// fakeReasoner returns a canned response and records the prompts it saw.
type fakeReasoner struct {
	response string
	err      error
	prompts  []string
}

func (r *fakeReasoner) Name() string { return "fake" }

func (r *fakeReasoner) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	r.prompts = append(r.prompts, prompt)
	if r.err != nil {
		return "", r.err
	}
	return r.response, nil
}

// fakeScheduler records enqueued task ids.
type fakeScheduler struct {
	enqueued []string
	err      error
}

func (s *fakeScheduler) Enqueue(taskID string) error {
	if s.err != nil {
		return s.err
	}
	s.enqueued = append(s.enqueued, taskID)
	return nil
}
