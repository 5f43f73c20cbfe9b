// kwcomplete/helpers_metrics.go
// Prometheus metrics for walks, completions and LSP requests.
package kwcomplete

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	walkFilesVisitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kwcomplete",
		Subsystem: "walk",
		Name:      "files_visited_total",
		Help:      "Files read by import graph walks",
	})

	// Labels: reason (unresolved, cycle, duplicate)
	walkImportsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kwcomplete",
		Subsystem: "walk",
		Name:      "imports_skipped_total",
		Help:      "Imports not entered during walks, by reason",
	}, []string{"reason"})

	// Labels: operation (propose, analyze, definition)
	resolutionDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kwcomplete",
		Name:      "resolution_duration_seconds",
		Help:      "Time spent walking and collecting keyword usage",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"operation"})

	completionCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kwcomplete",
		Name:      "completion_candidates",
		Help:      "Candidates returned per completion request",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})

	// Labels: method, status (ok, error, cancelled, panic)
	lspRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kwcomplete",
		Subsystem: "lsp",
		Name:      "requests_total",
		Help:      "LSP requests and notifications handled, by method and outcome",
	}, []string{"method", "status"})
)

func recordWalk(operation string, stats WalkStats, started time.Time) {
	resolutionDurationSeconds.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	walkFilesVisitedTotal.Add(float64(stats.FilesVisited))
	if stats.ImportsSkipped > 0 {
		walkImportsSkippedTotal.WithLabelValues("unresolved").Add(float64(stats.ImportsSkipped))
	}
	if stats.CyclesAvoided > 0 {
		walkImportsSkippedTotal.WithLabelValues("cycle").Add(float64(stats.CyclesAvoided))
	}
	if stats.DuplicatesAvoided > 0 {
		walkImportsSkippedTotal.WithLabelValues("duplicate").Add(float64(stats.DuplicatesAvoided))
	}
}
