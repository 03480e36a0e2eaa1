package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sectormem/sectormem/internal/metrics"
	"github.com/sectormem/sectormem/internal/model"
	registrystore "github.com/sectormem/sectormem/internal/registry/store"
)

// QueryFilters narrows and post-filters a query.
type QueryFilters struct {
	// Sectors to search; empty means all sectors.
	Sectors []model.Sector
	// Owner restricts results to one tenant; empty matches everything.
	Owner string
	// MinSalience drops results below the threshold.
	MinSalience float64
	// Since/Until bound created-at; zero values are open-ended.
	Since time.Time
	Until time.Time
	// Reinforce opts matched memories into salience reinforcement.
	Reinforce bool
}

// QueryResult is one ranked query hit.
type QueryResult struct {
	Memory model.Memory `json:"memory"`
	Score  float64      `json:"score"`
	// Sector is the sector whose vector produced the best score, or empty for
	// waypoint-expanded hits.
	Sector model.Sector `json:"sector,omitempty"`
}

// Query embeds the text once per requested sector, searches each sector,
// merges candidates keeping the best per-memory score, folds in waypoint
// neighbors of the top hits at attenuated weight, applies post-filters and
// returns the top k by final score.
func (e *Engine) Query(ctx context.Context, text string, k int, f QueryFilters) ([]QueryResult, error) {
	if text == "" {
		return nil, &registrystore.ValidationError{Field: "query", Message: "must not be empty"}
	}
	if k <= 0 {
		k = 10
	}
	sectors := f.Sectors
	if len(sectors) == 0 {
		sectors = model.Sectors()
	}
	for _, s := range sectors {
		if !s.IsValid() {
			return nil, &registrystore.ValidationError{Field: "sectors", Message: fmt.Sprintf("unknown sector %q", s)}
		}
	}

	type candidate struct {
		score  float64
		sector model.Sector
	}
	best := map[string]candidate{}
	var order []string

	// Overfetch per sector so post-filters do not starve the final top-k.
	perSector := k * 3
	for _, s := range sectors {
		vec, err := e.embedder.EmbedForSector(ctx, text, s)
		if err != nil {
			return nil, fmt.Errorf("embed query for %s: %w", s, err)
		}
		hits, err := e.vectors.Search(ctx, s, vec, perSector)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", s, err)
		}
		for _, hit := range hits {
			if cur, ok := best[hit.MemoryID]; !ok {
				best[hit.MemoryID] = candidate{score: hit.Score, sector: s}
				order = append(order, hit.MemoryID)
			} else if hit.Score > cur.score {
				best[hit.MemoryID] = candidate{score: hit.Score, sector: s}
			}
		}
	}

	// Waypoint expansion: neighbors of the strongest direct hits join the
	// candidate set at attenuated weight, giving associative recall beyond
	// pure vector similarity.
	sort.SliceStable(order, func(i, j int) bool { return best[order[i]].score > best[order[j]].score })
	expandFrom := order
	if len(expandFrom) > k {
		expandFrom = expandFrom[:k]
	}
	for _, id := range expandFrom {
		neighbors, err := e.store.Neighbors(ctx, id)
		if err != nil {
			log.Error("engine: waypoint expansion failed", "id", id, "err", err)
			continue
		}
		srcScore := best[id].score
		for _, n := range neighbors {
			if n.DstID == id {
				continue
			}
			score := srcScore * n.Weight * waypointAttenuation
			if cur, ok := best[n.DstID]; !ok {
				best[n.DstID] = candidate{score: score}
				order = append(order, n.DstID)
			} else if score > cur.score {
				best[n.DstID] = candidate{score: score, sector: cur.sector}
			}
		}
	}

	results := make([]QueryResult, 0, len(order))
	for _, id := range order {
		mem, err := e.store.GetMemory(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load memory %s: %w", id, err)
		}
		if mem == nil {
			continue // stale vector or waypoint; skip silently
		}
		if f.Owner != "" && mem.Owner != f.Owner {
			continue
		}
		if mem.Salience < f.MinSalience {
			continue
		}
		if !f.Since.IsZero() && mem.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && mem.CreatedAt.After(f.Until) {
			continue
		}
		c := best[id]
		results = append(results, QueryResult{Memory: *mem, Score: c.score, Sector: c.sector})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	metrics.QueriesTotal.Inc()

	if f.Reinforce {
		now := time.Now()
		for i := range results {
			m := &results[i].Memory
			sal := clamp01(m.Salience + reinforceBoost)
			if err := e.store.TouchMemory(ctx, m.ID, now, sal); err != nil {
				log.Error("engine: query reinforcement failed", "id", m.ID, "err", err)
				continue
			}
			m.Salience = sal
			m.LastSeenAt = now
		}
	}

	return results, nil
}
