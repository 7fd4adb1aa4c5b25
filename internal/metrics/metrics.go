// Package metrics holds the prometheus collectors of the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chaptercal"

var (
	OccurrencesExpanded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "occurrences_expanded_total",
		Help:      "Occurrences produced by series expansion.",
	})

	ExpansionsTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "expansions_truncated_total",
		Help:      "Expansions cut short by the occurrence cap.",
	})

	RsvpWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rsvp_writes_total",
		Help:      "RSVP set/unset calls by outcome.",
	}, []string{"op", "result"})

	SeriesEdits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "series_edits_total",
		Help:      "Scoped series edits by scope and outcome.",
	}, []string{"scope", "result"})

	IntegrityViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "integrity_violations_total",
		Help:      "Split lineages found inconsistent and put on hold.",
	})

	OrphanedRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "orphaned_rows",
		Help:      "Overrides and RSVPs whose date the series no longer generates, as of the last sweep.",
	}, []string{"kind"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
