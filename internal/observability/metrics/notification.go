package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Circuit breaker state values exported by ProviderCircuitBreakerState.
const (
	CircuitClosed   = 0
	CircuitHalfOpen = 1
	CircuitOpen     = 2
)

// DeliveryMetrics contains all Prometheus metrics related to the delivery gateway.
type DeliveryMetrics struct {
	// Provider delivery metrics
	ProviderDeliveriesTotal  *prometheus.CounterVec   // Total deliveries by provider, kind, status
	ProviderDeliveryDuration *prometheus.HistogramVec // Latency by provider and kind
	ProviderDeliveryErrors   *prometheus.CounterVec   // Errors by provider, kind, error_category

	// Provider health metrics
	ProviderCircuitBreakerState *prometheus.GaugeVec // Circuit breaker state (0=closed, 1=half-open, 2=open) by provider
	ProviderConsecutiveFailures *prometheus.GaugeVec // Consecutive failure count by provider
	ProviderLastSuccessTime     *prometheus.GaugeVec // Timestamp of last successful delivery by provider

	// Dispatcher metrics
	DispatchSkippedTotal *prometheus.CounterVec // Deliveries skipped by reason
	DispatchActive       prometheus.Gauge       // Currently active gateway calls
	ProviderTimeouts     *prometheus.CounterVec // Timeout occurrences by provider

	registry *prometheus.Registry
}

// NewDeliveryMetrics creates a new instance of DeliveryMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewDeliveryMetrics(registry *prometheus.Registry) (*DeliveryMetrics, error) {
	m := &DeliveryMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize delivery metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register delivery metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for DeliveryMetrics.
func (m *DeliveryMetrics) initMetrics() error {
	m.ProviderDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geonudge_delivery_attempts_total",
			Help: "Total number of delivery attempts by provider, notification kind, and status",
		},
		[]string{"provider", "kind", "status"}, // status: success, error, timeout, circuit_open
	)

	m.ProviderDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geonudge_delivery_duration_seconds",
			Help:    "Time taken for delivery by provider and notification kind",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0}, // 10ms to 30s
		},
		[]string{"provider", "kind"},
	)

	m.ProviderDeliveryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geonudge_delivery_errors_total",
			Help: "Total number of delivery errors by provider, kind, and error category",
		},
		[]string{"provider", "kind", "error_category"},
	)

	m.ProviderCircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geonudge_delivery_circuit_breaker_state",
			Help: "Circuit breaker state for the delivery provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	m.ProviderConsecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geonudge_delivery_consecutive_failures",
			Help: "Number of consecutive failures for the delivery provider",
		},
		[]string{"provider"},
	)

	m.ProviderLastSuccessTime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geonudge_delivery_last_success_timestamp_seconds",
			Help: "Timestamp of last successful delivery by provider",
		},
		[]string{"provider"},
	)

	m.DispatchSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geonudge_dispatch_skipped_total",
			Help: "Total number of deliveries skipped before the gateway call by reason",
		},
		[]string{"reason"}, // reason: claimed, not_pending, rate_limited
	)

	m.DispatchActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "geonudge_dispatch_active",
			Help: "Number of gateway calls currently in flight",
		},
	)

	m.ProviderTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geonudge_delivery_timeouts_total",
			Help: "Total number of delivery timeouts by provider",
		},
		[]string{"provider"},
	)

	return nil
}

// Describe implements the prometheus.Collector interface.
func (m *DeliveryMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ProviderDeliveriesTotal.Describe(ch)
	m.ProviderDeliveryDuration.Describe(ch)
	m.ProviderDeliveryErrors.Describe(ch)
	m.ProviderCircuitBreakerState.Describe(ch)
	m.ProviderConsecutiveFailures.Describe(ch)
	m.ProviderLastSuccessTime.Describe(ch)
	m.DispatchSkippedTotal.Describe(ch)
	m.DispatchActive.Describe(ch)
	m.ProviderTimeouts.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DeliveryMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ProviderDeliveriesTotal.Collect(ch)
	m.ProviderDeliveryDuration.Collect(ch)
	m.ProviderDeliveryErrors.Collect(ch)
	m.ProviderCircuitBreakerState.Collect(ch)
	m.ProviderConsecutiveFailures.Collect(ch)
	m.ProviderLastSuccessTime.Collect(ch)
	m.DispatchSkippedTotal.Collect(ch)
	m.DispatchActive.Collect(ch)
	m.ProviderTimeouts.Collect(ch)
}

// RecordDelivery records one gateway call.
func (m *DeliveryMetrics) RecordDelivery(provider, kind, status string, duration time.Duration) {
	m.ProviderDeliveriesTotal.WithLabelValues(provider, kind, status).Inc()
	m.ProviderDeliveryDuration.WithLabelValues(provider, kind).Observe(duration.Seconds())
	if status == "success" {
		m.ProviderLastSuccessTime.WithLabelValues(provider).SetToCurrentTime()
	}
}

// RecordDeliveryError records a failed delivery by error category.
func (m *DeliveryMetrics) RecordDeliveryError(provider, kind, category string) {
	m.ProviderDeliveryErrors.WithLabelValues(provider, kind, category).Inc()
}

// RecordTimeout records a delivery that ran into the gateway timeout.
func (m *DeliveryMetrics) RecordTimeout(provider string) {
	m.ProviderTimeouts.WithLabelValues(provider).Inc()
}

// RecordSkipped records a delivery that never reached the gateway.
func (m *DeliveryMetrics) RecordSkipped(reason string) {
	m.DispatchSkippedTotal.WithLabelValues(reason).Inc()
}

// UpdateCircuitBreakerState sets the breaker state gauge for provider.
func (m *DeliveryMetrics) UpdateCircuitBreakerState(provider string, state int) {
	m.ProviderCircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

// UpdateConsecutiveFailures sets the consecutive failure gauge for provider.
func (m *DeliveryMetrics) UpdateConsecutiveFailures(provider string, failures int) {
	m.ProviderConsecutiveFailures.WithLabelValues(provider).Set(float64(failures))
}

// StartDelivery marks a gateway call in flight and returns a timer that
// records its outcome.
func (m *DeliveryMetrics) StartDelivery(provider, kind string) *DeliveryTimer {
	m.DispatchActive.Inc()
	return &DeliveryTimer{
		startTime: time.Now(),
		provider:  provider,
		kind:      kind,
		metrics:   m,
	}
}

// DeliveryTimer measures one gateway call.
type DeliveryTimer struct {
	startTime time.Time
	provider  string
	kind      string
	metrics   *DeliveryMetrics
}

// Finish records the call with status.
func (t *DeliveryTimer) Finish(status string) {
	t.metrics.DispatchActive.Dec()
	t.metrics.RecordDelivery(t.provider, t.kind, status, time.Since(t.startTime))
}
