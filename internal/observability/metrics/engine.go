// Package metrics provides custom Prometheus metrics for the geonudge engine.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains the Prometheus metrics for intake, lifecycle
// transitions and the background processor.
type EngineMetrics struct {
	// Intake metrics
	IntakeTotal      *prometheus.CounterVec   // Reports by disposition and reason
	IntakeConfidence prometheus.Histogram     // Confidence of persisted reports
	IntakeDuration   *prometheus.HistogramVec // Report handling latency by disposition

	// Lifecycle metrics
	TransitionsTotal      *prometheus.CounterVec // Lifecycle events by type
	ActionsTotal          *prometheus.CounterVec // User actions by action and result
	NotificationsByStatus *prometheus.GaugeVec   // Stored notifications by status
	ConflictsTotal        prometheus.Counter     // Version conflicts returned to callers
	SnoozeCapReachedTotal *prometheus.CounterVec // Snooze cap hits by cap action

	// Retry metrics
	RetriesTotal *prometheus.CounterVec // Retry queue outcomes

	// Processor metrics
	ProcessorRunsTotal    *prometheus.CounterVec   // Processor runs by job and result
	ProcessorStepDuration *prometheus.HistogramVec // Step latency by step
	ProcessorStepErrors   *prometheus.CounterVec   // Failed steps by step
	ProcessorItemsTotal   *prometheus.CounterVec   // Records handled by step
	ProcessorLastRunTime  *prometheus.GaugeVec     // Timestamp of the last completed run by job

	registry *prometheus.Registry
}

// NewEngineMetrics creates a new instance of EngineMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewEngineMetrics(registry *prometheus.Registry) (*EngineMetrics, error) {
	m := &EngineMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize engine metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for EngineMetrics.
func (m *EngineMetrics) initMetrics() error {
	m.IntakeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geonudge_intake_reports_total",
			Help: "Total number of geofence reports by disposition and reason",
		},
		[]string{"disposition", "reason"},
	)

	m.IntakeConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geonudge_intake_confidence",
			Help:    "Confidence score of persisted geofence reports",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	m.IntakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geonudge_intake_duration_seconds",
			Help:    "Time taken to handle a geofence report by disposition",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"disposition"},
	)

	m.TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geonudge_lifecycle_events_total",
			Help: "Total number of notification lifecycle events by type",
		},
		[]string{"type"},
	)

	m.ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geonudge_actions_total",
			Help: "Total number of notification actions by action and result",
		},
		[]string{"action", "result"},
	)

	m.NotificationsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geonudge_notifications",
			Help: "Number of stored notification records by status",
		},
		[]string{"status"},
	)

	m.ConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geonudge_conflicts_total",
			Help: "Total number of concurrent modification conflicts",
		},
	)

	m.SnoozeCapReachedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geonudge_snooze_cap_reached_total",
			Help: "Total number of snooze requests that hit the snooze cap by cap action",
		},
		[]string{"cap_action"},
	)

	m.RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geonudge_retries_total",
			Help: "Total number of retry queue operations by outcome",
		},
		[]string{"outcome"}, // outcome: enqueued, succeeded, exhausted, abandoned
	)

	m.ProcessorRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geonudge_processor_runs_total",
			Help: "Total number of processor runs by job and result",
		},
		[]string{"job", "result"}, // result: ok, partial, lease_held, error
	)

	m.ProcessorStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geonudge_processor_step_duration_seconds",
			Help:    "Time taken by each processor step",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 30.0, 120.0},
		},
		[]string{"step"},
	)

	m.ProcessorStepErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geonudge_processor_step_errors_total",
			Help: "Total number of failed processor steps by step",
		},
		[]string{"step"},
	)

	m.ProcessorItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geonudge_processor_items_total",
			Help: "Total number of records handled by processor step",
		},
		[]string{"step"},
	)

	m.ProcessorLastRunTime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geonudge_processor_last_run_timestamp_seconds",
			Help: "Timestamp of the last completed processor run by job",
		},
		[]string{"job"},
	)

	return nil
}

// Describe implements the prometheus.Collector interface.
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.IntakeTotal.Describe(ch)
	m.IntakeConfidence.Describe(ch)
	m.IntakeDuration.Describe(ch)
	m.TransitionsTotal.Describe(ch)
	m.ActionsTotal.Describe(ch)
	m.NotificationsByStatus.Describe(ch)
	m.ConflictsTotal.Describe(ch)
	m.SnoozeCapReachedTotal.Describe(ch)
	m.RetriesTotal.Describe(ch)
	m.ProcessorRunsTotal.Describe(ch)
	m.ProcessorStepDuration.Describe(ch)
	m.ProcessorStepErrors.Describe(ch)
	m.ProcessorItemsTotal.Describe(ch)
	m.ProcessorLastRunTime.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.IntakeTotal.Collect(ch)
	m.IntakeConfidence.Collect(ch)
	m.IntakeDuration.Collect(ch)
	m.TransitionsTotal.Collect(ch)
	m.ActionsTotal.Collect(ch)
	m.NotificationsByStatus.Collect(ch)
	m.ConflictsTotal.Collect(ch)
	m.SnoozeCapReachedTotal.Collect(ch)
	m.RetriesTotal.Collect(ch)
	m.ProcessorRunsTotal.Collect(ch)
	m.ProcessorStepDuration.Collect(ch)
	m.ProcessorStepErrors.Collect(ch)
	m.ProcessorItemsTotal.Collect(ch)
	m.ProcessorLastRunTime.Collect(ch)
}

// RecordIntake records the outcome of one geofence report.
func (m *EngineMetrics) RecordIntake(disposition, reason string, duration time.Duration) {
	m.IntakeTotal.WithLabelValues(disposition, reason).Inc()
	m.IntakeDuration.WithLabelValues(disposition).Observe(duration.Seconds())
}

// ObserveConfidence records the confidence of a persisted report.
func (m *EngineMetrics) ObserveConfidence(confidence float64) {
	m.IntakeConfidence.Observe(confidence)
}

// RecordTransition counts a lifecycle event.
func (m *EngineMetrics) RecordTransition(eventType string) {
	m.TransitionsTotal.WithLabelValues(eventType).Inc()
}

// RecordAction counts a user action and its result.
func (m *EngineMetrics) RecordAction(action, result string) {
	m.ActionsTotal.WithLabelValues(action, result).Inc()
}

// RecordConflict counts a version conflict.
func (m *EngineMetrics) RecordConflict() {
	m.ConflictsTotal.Inc()
}

// RecordSnoozeCap counts a snooze request stopped by the cap.
func (m *EngineMetrics) RecordSnoozeCap(capAction string) {
	m.SnoozeCapReachedTotal.WithLabelValues(capAction).Inc()
}

// RecordRetry counts a retry queue outcome.
func (m *EngineMetrics) RecordRetry(outcome string) {
	m.RetriesTotal.WithLabelValues(outcome).Inc()
}

// RecordProcessorRun counts a processor run and stamps its completion time.
func (m *EngineMetrics) RecordProcessorRun(job, result string) {
	m.ProcessorRunsTotal.WithLabelValues(job, result).Inc()
	if result != "lease_held" {
		m.ProcessorLastRunTime.WithLabelValues(job).SetToCurrentTime()
	}
}

// RecordProcessorStep records the duration, item count and failure of a step.
func (m *EngineMetrics) RecordProcessorStep(step string, items int, duration time.Duration, err error) {
	m.ProcessorStepDuration.WithLabelValues(step).Observe(duration.Seconds())
	if items > 0 {
		m.ProcessorItemsTotal.WithLabelValues(step).Add(float64(items))
	}
	if err != nil {
		m.ProcessorStepErrors.WithLabelValues(step).Inc()
	}
}

// SetNotificationsByStatus replaces the per-status gauge values.
func (m *EngineMetrics) SetNotificationsByStatus(counts map[string]int64) {
	m.NotificationsByStatus.Reset()
	for status, count := range counts {
		m.NotificationsByStatus.WithLabelValues(status).Set(float64(count))
	}
}
