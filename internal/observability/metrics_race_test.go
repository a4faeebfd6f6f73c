package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently
// without causing race conditions
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for range numGoroutines {
		go func() {
			defer wg.Done()

			metrics, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if metrics.registry == nil || metrics.Engine == nil || metrics.Delivery == nil || metrics.MQTT == nil {
				t.Error("NewMetrics returned uninitialized collectors")
			}
		}()
	}

	wg.Wait()
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Engine.RecordTransition("created")
	m.Delivery.RecordDelivery("log", "arrival", "success", 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `geonudge_lifecycle_events_total{type="created"} 1`))
	assert.True(t, strings.Contains(body, `geonudge_delivery_attempts_total{kind="arrival",provider="log",status="success"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestMetricsRegistry_Gather(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Engine.RecordConflict()
	m.Engine.RecordConflict()
	m.Engine.SetNotificationsByStatus(map[string]int64{"pending": 3, "delivered": 5})

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}

	conflicts := byName["geonudge_conflicts_total"]
	require.NotNil(t, conflicts)
	assert.Equal(t, dto.MetricType_COUNTER, conflicts.GetType())
	require.Len(t, conflicts.GetMetric(), 1)
	assert.InDelta(t, 2, conflicts.GetMetric()[0].GetCounter().GetValue(), 0)

	byStatus := byName["geonudge_notifications"]
	require.NotNil(t, byStatus)
	assert.Equal(t, dto.MetricType_GAUGE, byStatus.GetType())
	values := make(map[string]float64)
	for _, metric := range byStatus.GetMetric() {
		for _, label := range metric.GetLabel() {
			values[label.GetValue()] = metric.GetGauge().GetValue()
		}
	}
	assert.InDelta(t, 3, values["pending"], 0)
	assert.InDelta(t, 5, values["delivered"], 0)
}
