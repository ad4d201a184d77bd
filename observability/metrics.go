// Package observability exposes the prometheus instrumentation recorded
// around position workflows.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkflowMetrics counts workflow activity segmented by workflow kind and,
// for failures, the step that aborted the run.
type WorkflowMetrics struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

var (
	workflowMetricsOnce sync.Once
	workflowRegistry    *WorkflowMetrics
)

// Workflows returns the lazily-initialised workflow metrics registry.
func Workflows() *WorkflowMetrics {
	workflowMetricsOnce.Do(func() {
		workflowRegistry = &WorkflowMetrics{
			started: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "levcore",
				Subsystem: "workflow",
				Name:      "started_total",
				Help:      "Workflow runs started, segmented by workflow kind.",
			}, []string{"workflow"}),
			completed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "levcore",
				Subsystem: "workflow",
				Name:      "completed_total",
				Help:      "Workflow runs completed successfully.",
			}, []string{"workflow"}),
			failed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "levcore",
				Subsystem: "workflow",
				Name:      "failed_total",
				Help:      "Workflow runs aborted, segmented by the failing step.",
			}, []string{"workflow", "step"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "levcore",
				Subsystem: "workflow",
				Name:      "duration_seconds",
				Help:      "End-to-end workflow latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"workflow"}),
		}
		prometheus.MustRegister(
			workflowRegistry.started,
			workflowRegistry.completed,
			workflowRegistry.failed,
			workflowRegistry.duration,
		)
	})
	return workflowRegistry
}

// Started records the beginning of a workflow run.
func (m *WorkflowMetrics) Started(workflow string) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(workflow).Inc()
}

// Completed records a successful run and its duration.
func (m *WorkflowMetrics) Completed(workflow string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(workflow).Inc()
	m.duration.WithLabelValues(workflow).Observe(elapsed.Seconds())
}

// Failed records an aborted run and the step that failed.
func (m *WorkflowMetrics) Failed(workflow, step string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(workflow, step).Inc()
	m.duration.WithLabelValues(workflow).Observe(elapsed.Seconds())
}
