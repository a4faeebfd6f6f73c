package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/events"
	"github.com/tphakala/geonudge/internal/notification"
)

// stubClient is an in-memory Client.
type stubClient struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]MessageHandler
	published map[string][]byte
	err       error
}

func newStubClient(connected bool) *stubClient {
	return &stubClient{
		connected: connected,
		handlers:  make(map[string]MessageHandler),
		published: make(map[string][]byte),
	}
}

func (s *stubClient) Connect(context.Context) error { return nil }

func (s *stubClient) Publish(_ context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.published[topic] = payload
	return nil
}

func (s *stubClient) Subscribe(topic string, handler MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = handler
	return nil
}

func (s *stubClient) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubClient) Disconnect() {}

func (s *stubClient) deliver(ctx context.Context, topic string, payload []byte) {
	s.mu.Lock()
	h := s.handlers[topic]
	s.mu.Unlock()
	h(ctx, topic, payload)
}

type stubReporter struct {
	mu      sync.Mutex
	reports []notification.GeofenceReport
	err     error
}

func (r *stubReporter) ReportGeofenceEvent(ctx context.Context, report notification.GeofenceReport) (notification.IntakeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return notification.IntakeResult{}, errors.NewStd("missing deadline")
	}
	r.reports = append(r.reports, report)
	if r.err != nil {
		return notification.IntakeResult{}, r.err
	}
	return notification.IntakeResult{Disposition: notification.DispositionAccepted, EventID: "e-1"}, nil
}

const intakeTopic = "geonudge/geofence-events"

func TestIntake_ForwardsReports(t *testing.T) {
	t.Parallel()
	client := newStubClient(true)
	reporter := &stubReporter{}
	in := NewIntake(client, reporter, intakeTopic, testMetrics(t), testLogger())
	require.NoError(t, in.Start())

	payload := `{"userId":"user-1","taskId":"task-1","geofenceId":"geo-1","eventType":"enter",
		"tier":"arrival","latitude":60.17,"longitude":24.94,"occurredAt":"2026-03-02T09:00:00Z"}`
	client.deliver(t.Context(), intakeTopic, []byte(payload))

	require.Len(t, reporter.reports, 1)
	got := reporter.reports[0]
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "geo-1", got.GeofenceID)
	assert.Equal(t, "enter", got.EventType)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), got.OccurredAt)
}

func TestIntake_MalformedPayload(t *testing.T) {
	t.Parallel()
	client := newStubClient(true)
	reporter := &stubReporter{}
	m := testMetrics(t)
	in := NewIntake(client, reporter, intakeTopic, m, testLogger())
	require.NoError(t, in.Start())

	client.deliver(t.Context(), intakeTopic, []byte("{not json"))

	assert.Empty(t, reporter.reports)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors.WithLabelValues("decode")), 0)
}

func TestIntake_RejectedReportIsLogged(t *testing.T) {
	t.Parallel()
	client := newStubClient(true)
	reporter := &stubReporter{err: errors.Newf("unknown event type").Category(errors.CategoryValidation).Build()}
	in := NewIntake(client, reporter, intakeTopic, testMetrics(t), testLogger())
	require.NoError(t, in.Start())

	assert.NotPanics(t, func() {
		client.deliver(t.Context(), intakeTopic, []byte(`{"userId":"u","eventType":"hover"}`))
	})
	assert.Len(t, reporter.reports, 1)
}

func TestLifecycleConsumer(t *testing.T) {
	t.Parallel()
	event := events.LifecycleEvent{
		Type:           events.EventDelivered,
		NotificationID: "n-1",
		TaskID:         "task-1",
		UserID:         "user-1",
		Status:         "delivered",
		At:             time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	t.Run("publishes per user", func(t *testing.T) {
		t.Parallel()
		client := newStubClient(true)
		c := NewLifecycleConsumer(client, "geonudge/lifecycle/", time.Second, testLogger())
		assert.Equal(t, "mqtt", c.Name())

		require.NoError(t, c.ProcessEvent(event))
		raw, ok := client.published["geonudge/lifecycle/user-1"]
		require.True(t, ok)

		var got events.LifecycleEvent
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, event, got)
	})

	t.Run("drops while disconnected", func(t *testing.T) {
		t.Parallel()
		client := newStubClient(false)
		c := NewLifecycleConsumer(client, "geonudge/lifecycle", time.Second, testLogger())
		require.NoError(t, c.ProcessEvent(event))
		assert.Empty(t, client.published)
	})

	t.Run("publish errors surface", func(t *testing.T) {
		t.Parallel()
		client := newStubClient(true)
		client.err = errors.NewStd("publish timeout")
		c := NewLifecycleConsumer(client, "geonudge/lifecycle", 0, testLogger())
		require.Error(t, c.ProcessEvent(event))
	})
}
