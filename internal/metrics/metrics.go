// Package metrics exposes Prometheus instrumentation for the maintenance and
// reflection pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecayPassesTotal counts completed decay maintenance passes.
	DecayPassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sectormem_decay_passes_total",
		Help: "Completed salience decay maintenance passes.",
	})

	// DecayUpdatesTotal counts memories whose salience was decayed.
	DecayUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sectormem_decay_updates_total",
		Help: "Memories updated by decay maintenance passes.",
	})

	// ReflectionTasksTotal counts reflection tasks by terminal status.
	ReflectionTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sectormem_reflection_tasks_total",
		Help: "Reflection tasks reaching a terminal state.",
	}, []string{"status"})

	// ReflectionInsightsTotal counts stored reflection insights.
	ReflectionInsightsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sectormem_reflection_insights_total",
		Help: "Insights persisted by reflection tasks.",
	})

	// MemoriesAddedTotal counts memories created through the engine.
	MemoriesAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sectormem_memories_added_total",
		Help: "Memories added to the engine.",
	})

	// QueriesTotal counts similarity queries served.
	QueriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sectormem_queries_total",
		Help: "Similarity queries served.",
	})
)
