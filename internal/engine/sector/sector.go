// Package sector classifies raw content into the fixed sector enumeration and
// carries the static per-sector configuration.
package sector

import (
	"sort"
	"strings"

	"github.com/sectormem/sectormem/internal/model"
)

// Config is the static configuration of one sector.
type Config struct {
	// DefaultDecayRate is the per-hour decay lambda applied to memories in
	// this sector unless overridden at creation.
	DefaultDecayRate float64
	keywords         []string
}

// Semantic facts fade slowest; episodic and emotional memories fade fastest.
var configs = map[model.Sector]Config{
	model.SectorEpisodic: {
		DefaultDecayRate: 0.08,
		keywords: []string{
			"yesterday", "today", "tomorrow", "last week", "last night",
			"this morning", "i went", "we went", "i met", "we met", "i saw",
			"i visited", "happened", "remember when", "that time", "earlier",
		},
	},
	model.SectorSemantic: {
		DefaultDecayRate: 0.02,
		keywords: []string{
			"is defined as", "means", "definition", "fact", "always", "never",
			"consists of", "known as", "refers to",
		},
	},
	model.SectorProcedural: {
		DefaultDecayRate: 0.03,
		keywords: []string{
			"how to", "step", "first", "then", "next", "finally", "install",
			"configure", "run", "build", "deploy", "procedure", "instructions",
			"in order to", "workflow", "recipe",
		},
	},
	model.SectorEmotional: {
		DefaultDecayRate: 0.10,
		keywords: []string{
			"feel", "felt", "feeling", "happy", "sad", "angry", "excited",
			"afraid", "anxious", "love", "hate", "frustrated", "proud",
			"grateful", "worried", "joy", "fear",
		},
	},
	model.SectorReflective: {
		DefaultDecayRate: 0.02,
		keywords: []string{
			"insight", "realize", "realized", "pattern", "lesson", "learned",
			"looking back", "in retrospect", "i notice", "i tend to",
			"conclusion", "takeaway",
		},
	},
}

// ConfigFor returns the static configuration of a sector. Unknown sectors get
// the semantic defaults.
func ConfigFor(s model.Sector) Config {
	if c, ok := configs[s]; ok {
		return c
	}
	return configs[model.SectorSemantic]
}

// Classification is the result of classifying one piece of content.
type Classification struct {
	Primary    model.Sector
	Additional []model.Sector
}

// Classify maps content plus optional metadata hints to one primary sector
// and zero or more additional sectors. Deterministic for identical input; the
// primary is always a member of the fixed enumeration. A valid "sector"
// metadata value forces the primary; remaining scored sectors become
// additional. Content with no signal classifies as semantic.
func Classify(content string, meta map[string]any) Classification {
	text := strings.ToLower(content)

	scores := make(map[model.Sector]int, len(configs))
	for _, s := range model.Sectors() {
		for _, kw := range configs[s].keywords {
			scores[s] += strings.Count(text, kw)
		}
	}

	var forced model.Sector
	if meta != nil {
		if hint, ok := meta["sector"].(string); ok {
			if s := model.Sector(strings.ToLower(strings.TrimSpace(hint))); s.IsValid() {
				forced = s
			}
		}
	}

	// Rank sectors by score, ties broken by the fixed sector order so the
	// result is stable.
	order := model.Sectors()
	rank := make([]model.Sector, len(order))
	copy(rank, order)
	pos := make(map[model.Sector]int, len(order))
	for i, s := range order {
		pos[s] = i
	}
	sort.SliceStable(rank, func(i, j int) bool {
		if scores[rank[i]] != scores[rank[j]] {
			return scores[rank[i]] > scores[rank[j]]
		}
		return pos[rank[i]] < pos[rank[j]]
	})

	primary := forced
	if primary == "" {
		if scores[rank[0]] > 0 {
			primary = rank[0]
		} else {
			primary = model.SectorSemantic
		}
	}

	var additional []model.Sector
	for _, s := range rank {
		if s == primary || scores[s] == 0 {
			continue
		}
		additional = append(additional, s)
	}
	return Classification{Primary: primary, Additional: additional}
}
