// Package metrics exposes Prometheus instrumentation for the memory engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set holds every collector the engine reports to.
type Set struct {
	JobsStarted     *prometheus.CounterVec
	JobsCompleted   prometheus.Counter
	JobsFailed      *prometheus.CounterVec
	DraftsDropped   prometheus.Counter
	RecordsWritten  prometheus.Counter
	EntriesArchived prometheus.Counter
	SearchCacheHits prometheus.Counter
	SearchCacheMiss prometheus.Counter
	ContextBuilds   prometheus.Counter
}

// New registers the engine collectors on reg.
func New(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		JobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evamem_compression_jobs_started_total",
			Help: "Compression jobs started, by trigger.",
		}, []string{"trigger"}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "evamem_compression_jobs_completed_total",
			Help: "Compression jobs that committed successfully.",
		}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evamem_compression_jobs_failed_total",
			Help: "Compression jobs that failed, by stage.",
		}, []string{"stage"}),
		DraftsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "evamem_summarizer_drafts_dropped_total",
			Help: "Draft facts dropped for failing validation.",
		}),
		RecordsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "evamem_memory_records_written_total",
			Help: "Memory records persisted by compression commits.",
		}),
		EntriesArchived: factory.NewCounter(prometheus.CounterOpts{
			Name: "evamem_context_entries_archived_total",
			Help: "Context entries archived after compression.",
		}),
		SearchCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "evamem_search_cache_hits_total",
			Help: "Long-term search queries served from cache.",
		}),
		SearchCacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Name: "evamem_search_cache_misses_total",
			Help: "Long-term search queries that scanned the store.",
		}),
		ContextBuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "evamem_context_builds_total",
			Help: "Assembled prompt contexts.",
		}),
	}
}

// NewNop returns a Set backed by a private registry, for components that
// run without an exporter (tests, one-shot CLI commands).
func NewNop() *Set {
	return New(prometheus.NewRegistry())
}
