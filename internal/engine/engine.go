// Package engine implements the hierarchical sector memory core: sector
// classification, multi-sector embedding and retrieval, the waypoint graph,
// salience decay and the reflection pipeline. All storage goes through the
// registry interfaces; the engine never touches a driver directly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sectormem/sectormem/internal/engine/sector"
	"github.com/sectormem/sectormem/internal/engine/vecmath"
	"github.com/sectormem/sectormem/internal/metrics"
	"github.com/sectormem/sectormem/internal/model"
	registryembed "github.com/sectormem/sectormem/internal/registry/embed"
	registryreason "github.com/sectormem/sectormem/internal/registry/reason"
	registrystore "github.com/sectormem/sectormem/internal/registry/store"
	registryvector "github.com/sectormem/sectormem/internal/registry/vector"
)

const (
	// Weight of the cross-sector self-edge created per additional sector.
	crossSectorEdgeWeight = 0.5

	// Salience added on each access before clamping to 1.
	reinforceBoost = 0.1

	// Attenuation applied to waypoint-expanded candidates during queries.
	waypointAttenuation = 0.5
)

// Scheduler hands reflection task ids to the background worker pool. Enqueue
// must not block the caller.
type Scheduler interface {
	Enqueue(taskID string) error
}

// Engine is the explicit context object all components share. It is
// constructed once at startup; schema initialization belongs to the store's
// migrator, not to a lazily-checked global flag.
type Engine struct {
	store     registrystore.MemoryStore
	vectors   registryvector.VectorStore
	embedder  registryembed.Embedder
	reasoner  registryreason.Reasoner
	scheduler Scheduler

	defaultSalience float64
	decayFloor      float64
	pruneThreshold  float64
}

// Options tunes engine behavior; zero values select the documented defaults.
type Options struct {
	DefaultSalience float64 // default 0.5
	DecayFloor      float64 // default 0.05
	PruneThreshold  float64 // default 0.05
}

// New constructs the engine. The reasoner may be nil, which disables
// reflection starts; everything else is required.
func New(store registrystore.MemoryStore, vectors registryvector.VectorStore, embedder registryembed.Embedder, reasoner registryreason.Reasoner, opts Options) *Engine {
	if opts.DefaultSalience <= 0 {
		opts.DefaultSalience = 0.5
	}
	if opts.DecayFloor <= 0 {
		opts.DecayFloor = 0.05
	}
	if opts.PruneThreshold <= 0 {
		opts.PruneThreshold = 0.05
	}
	return &Engine{
		store:           store,
		vectors:         vectors,
		embedder:        embedder,
		reasoner:        reasoner,
		defaultSalience: opts.DefaultSalience,
		decayFloor:      opts.DecayFloor,
		pruneThreshold:  opts.PruneThreshold,
	}
}

// SetScheduler wires the reflection worker pool in after construction; the
// worker needs the engine to execute tasks, so the dependency is circular at
// wiring time only.
func (e *Engine) SetScheduler(s Scheduler) { e.scheduler = s }

// AddRequest is the input for creating a memory.
type AddRequest struct {
	Content   string
	Owner     string
	Segment   int
	Tags      []string
	Meta      map[string]any
	Salience  *float64
	DecayRate *float64
}

// AddMemory classifies, embeds and persists new content. An exact content
// fingerprint match reinforces the existing memory instead of inserting a
// twin. Vector, mean-vector and waypoint writes are best-effort sequential;
// a crash mid-sequence can orphan rows, per the documented resource model.
func (e *Engine) AddMemory(ctx context.Context, req AddRequest) (*model.Memory, error) {
	if req.Content == "" {
		return nil, &registrystore.ValidationError{Field: "content", Message: "must not be empty"}
	}
	if req.Salience != nil && *req.Salience < 0 {
		return nil, &registrystore.ValidationError{Field: "salience", Message: "must be non-negative"}
	}
	if req.DecayRate != nil && *req.DecayRate < 0 {
		return nil, &registrystore.ValidationError{Field: "decayRate", Message: "must be non-negative"}
	}

	simhash := Simhash(req.Content)
	if existing, err := e.store.GetMemoryBySimhash(ctx, simhash); err != nil {
		return nil, fmt.Errorf("simhash lookup: %w", err)
	} else if existing != nil {
		return e.reinforceDuplicate(ctx, existing)
	}

	cls := sector.Classify(req.Content, req.Meta)

	salience := e.defaultSalience
	if req.Salience != nil {
		salience = *req.Salience
	}
	decayRate := sector.ConfigFor(cls.Primary).DefaultDecayRate
	if req.DecayRate != nil {
		decayRate = *req.DecayRate
	}

	now := time.Now()
	mem := &model.Memory{
		ID:            NewID(),
		Owner:         req.Owner,
		Segment:       req.Segment,
		Content:       req.Content,
		Simhash:       &simhash,
		PrimarySector: cls.Primary,
		Tags:          req.Tags,
		Meta:          req.Meta,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastSeenAt:    now,
		Salience:      salience,
		DecayRate:     decayRate,
		Version:       1,
	}
	if err := e.store.InsertMemory(ctx, mem); err != nil {
		// Two concurrent adds of the same content can both miss the lookup;
		// the simhash unique index turns the loser into a reinforcement.
		if errors.Is(err, registrystore.ErrDuplicate) {
			if existing, lookupErr := e.store.GetMemoryBySimhash(ctx, simhash); lookupErr == nil && existing != nil {
				return e.reinforceDuplicate(ctx, existing)
			}
		}
		return nil, fmt.Errorf("insert memory: %w", err)
	}

	sectors := append([]model.Sector{cls.Primary}, cls.Additional...)
	vecs := make([][]float32, 0, len(sectors))
	for _, s := range sectors {
		vec, err := e.embedder.EmbedForSector(ctx, req.Content, s)
		if err != nil {
			return nil, fmt.Errorf("embed sector %s: %w", s, err)
		}
		if err := e.vectors.Store(ctx, mem.ID, s, vec, req.Owner); err != nil {
			return nil, fmt.Errorf("store vector %s: %w", s, err)
		}
		vecs = append(vecs, vec)
	}

	if mean := vecmath.Mean(vecs); mean != nil {
		mem.MeanDim = len(mean)
		mem.MeanVec = vecmath.Encode(mean)
		if err := e.store.SetMeanVector(ctx, mem.ID, mem.MeanDim, mem.MeanVec); err != nil {
			return nil, fmt.Errorf("store mean vector: %w", err)
		}
		e.storeCompressed(ctx, mem.ID, mean)
		e.createWaypoints(ctx, mem, cls.Additional, mean)
	}

	metrics.MemoriesAddedTotal.Inc()
	return mem, nil
}

// reinforceDuplicate records an access on an existing memory in place of an
// insert whose content fingerprint matched it.
func (e *Engine) reinforceDuplicate(ctx context.Context, existing *model.Memory) (*model.Memory, error) {
	now := time.Now()
	sal := clamp01(existing.Salience + reinforceBoost)
	if err := e.store.TouchMemory(ctx, existing.ID, now, sal); err != nil {
		return nil, fmt.Errorf("reinforce duplicate: %w", err)
	}
	existing.Salience = sal
	existing.LastSeenAt = now
	return existing, nil
}

// compressedBuckets is the width of the coarse mean-vector summary column.
const compressedBuckets = 8

// storeCompressed persists the bucketed summary of the mean vector.
// Best-effort: the column is derived data, recomputable from the vectors.
func (e *Engine) storeCompressed(ctx context.Context, id string, mean []float32) {
	comp := vecmath.Compress(mean, compressedBuckets)
	if comp == nil {
		return
	}
	if err := e.store.SetCompressedVector(ctx, id, vecmath.Encode(comp)); err != nil {
		log.Error("engine: compressed vector update failed", "id", id, "err", err)
	}
}

// createWaypoints applies both edge policies: a cross-sector self-edge per
// additional sector, and one similarity edge from the mean vector to the
// nearest existing neighbor. Failures are logged, not fatal; the graph is an
// expansion aid, not source of truth.
func (e *Engine) createWaypoints(ctx context.Context, mem *model.Memory, additional []model.Sector, mean []float32) {
	now := time.Now()
	for range additional {
		w := &model.Waypoint{
			SrcID:     mem.ID,
			DstID:     mem.ID,
			Owner:     mem.Owner,
			Weight:    crossSectorEdgeWeight,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.store.UpsertWaypoint(ctx, w); err != nil {
			log.Error("engine: cross-sector waypoint failed", "id", mem.ID, "err", err)
		}
	}

	hits, err := e.vectors.Search(ctx, mem.PrimarySector, mean, 2)
	if err != nil {
		log.Error("engine: neighbor search failed", "id", mem.ID, "err", err)
		return
	}
	for _, hit := range hits {
		if hit.MemoryID == mem.ID {
			continue
		}
		w := &model.Waypoint{
			SrcID:     mem.ID,
			DstID:     hit.MemoryID,
			Owner:     mem.Owner,
			Weight:    clamp01(hit.Score),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.store.UpsertWaypoint(ctx, w); err != nil {
			log.Error("engine: associative waypoint failed", "src", mem.ID, "dst", hit.MemoryID, "err", err)
		}
		return
	}
}

// GetMemory returns a memory by id, or nil when it does not exist.
func (e *Engine) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	return e.store.GetMemory(ctx, id)
}

// ListBySector returns memories whose primary sector matches.
func (e *Engine) ListBySector(ctx context.Context, s model.Sector, limit, offset int) ([]model.Memory, error) {
	if !s.IsValid() {
		return nil, &registrystore.ValidationError{Field: "sector", Message: fmt.Sprintf("unknown sector %q", s)}
	}
	return e.store.ListMemoriesBySector(ctx, s, limit, offset)
}

// ListByOwner returns an owner's memories ordered by recency.
func (e *Engine) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]model.Memory, error) {
	return e.store.ListMemoriesByOwner(ctx, owner, limit, offset)
}

// UpdateMemory edits content, tags or metadata. Every applied edit bumps the
// version; a content change re-classifies and re-embeds the memory.
func (e *Engine) UpdateMemory(ctx context.Context, id string, update registrystore.MemoryUpdate) (*model.Memory, error) {
	mem, err := e.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id}
	}

	now := time.Now()
	if update.Content != nil && *update.Content != mem.Content {
		cls := sector.Classify(*update.Content, mem.Meta)
		update.Sector = &cls.Primary

		// Old sector vectors are replaced wholesale: detach everything, then
		// re-embed for the new classification.
		if err := e.vectors.DeleteAll(ctx, id); err != nil {
			return nil, fmt.Errorf("detach vectors: %w", err)
		}
		sectors := append([]model.Sector{cls.Primary}, cls.Additional...)
		vecs := make([][]float32, 0, len(sectors))
		for _, s := range sectors {
			vec, embErr := e.embedder.EmbedForSector(ctx, *update.Content, s)
			if embErr != nil {
				return nil, fmt.Errorf("re-embed sector %s: %w", s, embErr)
			}
			if storeErr := e.vectors.Store(ctx, id, s, vec, mem.Owner); storeErr != nil {
				return nil, fmt.Errorf("store vector %s: %w", s, storeErr)
			}
			vecs = append(vecs, vec)
		}
		if mean := vecmath.Mean(vecs); mean != nil {
			if err := e.store.SetMeanVector(ctx, id, len(mean), vecmath.Encode(mean)); err != nil {
				return nil, fmt.Errorf("update mean vector: %w", err)
			}
			e.storeCompressed(ctx, id, mean)
		}
	}

	if err := e.store.UpdateMemory(ctx, id, update, now); err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	return e.store.GetMemory(ctx, id)
}

// DeleteMemory removes the memory, every vector keyed to it across all
// sectors, and every waypoint touching it as either endpoint.
func (e *Engine) DeleteMemory(ctx context.Context, id string) error {
	mem, err := e.store.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if mem == nil {
		return &registrystore.NotFoundError{Resource: "memory", ID: id}
	}
	if err := e.vectors.DeleteAll(ctx, id); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := e.store.DeleteWaypointsTouching(ctx, id); err != nil {
		return fmt.Errorf("delete waypoints: %w", err)
	}
	if err := e.store.DeleteMemory(ctx, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// Reinforce bumps a memory's salience and updates last-accessed-at.
func (e *Engine) Reinforce(ctx context.Context, id string) error {
	mem, err := e.store.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if mem == nil {
		return &registrystore.NotFoundError{Resource: "memory", ID: id}
	}
	return e.store.TouchMemory(ctx, id, time.Now(), clamp01(mem.Salience+reinforceBoost))
}

// Feedback accumulates an explicit signal on a memory's feedback score.
func (e *Engine) Feedback(ctx context.Context, id string, delta float64) error {
	mem, err := e.store.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if mem == nil {
		return &registrystore.NotFoundError{Resource: "memory", ID: id}
	}
	return e.store.SetFeedbackScore(ctx, id, mem.FeedbackScore+delta)
}

// Neighbors returns a memory's outgoing waypoints ordered by weight.
func (e *Engine) Neighbors(ctx context.Context, id string) ([]model.Waypoint, error) {
	return e.store.Neighbors(ctx, id)
}

// UserSummary returns the rolling reflection summary for an owner, or nil
// when the owner has never completed a reflection.
func (e *Engine) UserSummary(ctx context.Context, owner string) (*model.UserSummary, error) {
	if owner == "" {
		return nil, &registrystore.ValidationError{Field: "owner", Message: "must not be empty"}
	}
	return e.store.GetUserSummary(ctx, owner)
}

// MaintenanceLogs returns recent maintenance pass records, newest first.
func (e *Engine) MaintenanceLogs(ctx context.Context, limit int) ([]model.MaintenanceLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return e.store.ListMaintenanceLogs(ctx, limit)
}

// DecayPass decays salience for every memory toward the floor according to
// its decay rate and elapsed wall time, then prunes weak waypoints. Each pass
// only covers the window since the later of the memory's last access and the
// previous pass, so back-to-back passes compose to the same result as one
// longer pass. Returns the number of memories updated. The maintenance log
// write is best-effort: its failure never aborts the pass.
func (e *Engine) DecayPass(ctx context.Context) (int, error) {
	const pageSize = 500
	now := time.Now()
	var lastPass time.Time
	if prev, err := e.store.LastMaintenance(ctx, "decay"); err != nil {
		log.Error("engine: last decay pass lookup failed", "err", err)
	} else if prev != nil {
		lastPass = prev.CreatedAt
	}
	updated := 0
	for offset := 0; ; offset += pageSize {
		mems, err := e.store.ListMemories(ctx, pageSize, offset)
		if err != nil {
			return updated, fmt.Errorf("decay list: %w", err)
		}
		if len(mems) == 0 {
			break
		}
		for i := range mems {
			m := &mems[i]
			from := m.LastSeenAt
			if lastPass.After(from) {
				from = lastPass
			}
			elapsed := now.Sub(from).Hours()
			if elapsed <= 0 {
				continue
			}
			decayed := decaySalience(m.Salience, m.DecayRate, elapsed, e.decayFloor)
			if decayed == m.Salience {
				continue
			}
			if err := e.store.SetSalience(ctx, m.ID, decayed); err != nil {
				log.Error("engine: decay update failed", "id", m.ID, "err", err)
				continue
			}
			updated++
		}
		if len(mems) < pageSize {
			break
		}
	}

	if err := e.store.PruneWaypoints(ctx, e.pruneThreshold); err != nil {
		log.Error("engine: waypoint prune failed", "err", err)
	}
	if err := e.store.LogMaintenance(ctx, "decay", updated); err != nil {
		log.Error("engine: maintenance log failed", "op", "decay", "err", err)
	}
	metrics.DecayPassesTotal.Inc()
	metrics.DecayUpdatesTotal.Add(float64(updated))
	return updated, nil
}

func decaySalience(salience, rate, elapsedHours, floor float64) float64 {
	decayed := salience * math.Exp(-rate*elapsedHours)
	if decayed < floor {
		return floor
	}
	return decayed
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
