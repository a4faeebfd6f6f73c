package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/geonudge/internal/conf"
	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/httpclient"
	"github.com/tphakala/geonudge/internal/logger"
)

const testHookURL = "https://hooks.example.com/notify"

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func testRecord() *entities.NotificationRecord {
	return &entities.NotificationRecord{
		ID:          "n-1",
		UserID:      "user-1",
		TaskID:      "task-1",
		GeofenceID:  "geo-1",
		Kind:        entities.KindArrival,
		Tier:        entities.TierArrival,
		Title:       "Buy milk",
		Body:        "You are at the store",
		Confidence:  0.9,
		Attempts:    1,
		TriggeredAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Metadata:    entities.Metadata{"geofence_name": "Store"},
	}
}

func newMockWebhook(t *testing.T, headers map[string]string) (*WebhookGateway, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: transport})
	g, err := NewWebhookGateway(testHookURL, headers, client, testLogger())
	require.NoError(t, err)
	return g, transport
}

func TestNewPayload(t *testing.T) {
	t.Parallel()
	body, err := json.Marshal(NewPayload(testRecord()))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "n-1", got["id"])
	assert.Equal(t, "user-1", got["userId"])
	assert.Equal(t, "task-1", got["taskId"])
	assert.Equal(t, "arrival", got["kind"])
	assert.Equal(t, "Buy milk", got["title"])
	assert.InDelta(t, 2, got["attempt"], 0)
	assert.Equal(t, "2026-03-02T09:00:00Z", got["triggeredAt"])
	assert.Equal(t, map[string]any{"geofence_name": "Store"}, got["metadata"])
}

func TestWebhookGateway_Delivers(t *testing.T) {
	t.Parallel()
	g, transport := newMockWebhook(t, map[string]string{"Authorization": "Bearer s3cret"})

	var mu sync.Mutex
	var received Payload
	transport.RegisterResponder(http.MethodPost, testHookURL, func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer s3cret", req.Header.Get("Authorization"))
		assert.Equal(t, "geonudge", req.Header.Get("User-Agent"))
		if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
			return nil, err
		}
		return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
	})

	require.NoError(t, g.Send(t.Context(), testRecord()))
	assert.Equal(t, 1, transport.GetTotalCallCount())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "n-1", received.ID)
	assert.Equal(t, "geo-1", received.GeofenceID)
}

func TestWebhookGateway_NonSuccessStatusFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{"server error", http.StatusInternalServerError},
		{"client error", http.StatusBadRequest},
		{"redirect", http.StatusFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, transport := newMockWebhook(t, nil)
			transport.RegisterResponder(http.MethodPost, testHookURL,
				httpmock.NewStringResponder(tt.status, "token=abc123 rejected"))

			err := g.Send(t.Context(), testRecord())
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryDelivery))
			assert.Contains(t, err.Error(), "webhook returned status")
			assert.NotContains(t, err.Error(), "abc123")
		})
	}
}

func TestWebhookGateway_TransportErrorIsRedacted(t *testing.T) {
	t.Parallel()
	transport := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: transport})
	g, err := NewWebhookGateway(testHookURL+"?token=abc123", nil, client, testLogger())
	require.NoError(t, err)

	err = g.Send(t.Context(), testRecord())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.NotContains(t, err.Error(), "abc123")
}

func TestWebhookGateway_CancelledContext(t *testing.T) {
	t.Parallel()
	g, _ := newMockWebhook(t, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := g.Send(ctx, testRecord())
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewWebhookGateway_Validation(t *testing.T) {
	t.Parallel()
	for _, endpoint := range []string{"", "ftp://example.com", "/relative", "http://"} {
		_, err := NewWebhookGateway(endpoint, nil, nil, testLogger())
		require.Error(t, err, endpoint)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration), endpoint)
	}
}

func TestLogGateway(t *testing.T) {
	t.Parallel()
	g := NewLogGateway(testLogger())
	assert.Equal(t, ProviderLog, g.Name())
	require.NoError(t, g.Send(t.Context(), testRecord()))
}

// fakePublisher records published messages.
type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	topics    []string
	payloads  [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func TestMQTTGateway(t *testing.T) {
	t.Parallel()

	t.Run("publishes per user topic", func(t *testing.T) {
		t.Parallel()
		pub := &fakePublisher{connected: true}
		g, err := NewMQTTGateway(pub, "geonudge/notifications/", testLogger())
		require.NoError(t, err)

		require.NoError(t, g.Send(t.Context(), testRecord()))
		require.Len(t, pub.topics, 1)
		assert.Equal(t, "geonudge/notifications/user-1", pub.topics[0])

		var p Payload
		require.NoError(t, json.Unmarshal(pub.payloads[0], &p))
		assert.Equal(t, "n-1", p.ID)
	})

	t.Run("disconnected broker fails", func(t *testing.T) {
		t.Parallel()
		g, err := NewMQTTGateway(&fakePublisher{}, "n", testLogger())
		require.NoError(t, err)
		err = g.Send(t.Context(), testRecord())
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryMQTT))
	})

	t.Run("publish error fails", func(t *testing.T) {
		t.Parallel()
		pub := &fakePublisher{connected: true, err: errors.NewStd("publish timeout")}
		g, err := NewMQTTGateway(pub, "n", testLogger())
		require.NoError(t, err)
		err = g.Send(t.Context(), testRecord())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "publish timeout")
	})

	t.Run("requires publisher and topic", func(t *testing.T) {
		t.Parallel()
		_, err := NewMQTTGateway(nil, "n", testLogger())
		require.Error(t, err)
		_, err = NewMQTTGateway(&fakePublisher{}, " / ", testLogger())
		require.Error(t, err)
	})
}

func TestShoutrrrGateway(t *testing.T) {
	t.Parallel()

	_, err := NewShoutrrrGateway(nil, time.Second, testLogger())
	require.Error(t, err)

	_, err = NewShoutrrrGateway([]string{"nosuchservice://token@host"}, time.Second, testLogger())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	g, err := NewShoutrrrGateway([]string{"logger://"}, time.Second, testLogger())
	require.NoError(t, err)
	assert.Equal(t, ProviderShoutrrr, g.Name())
	require.NoError(t, g.Send(t.Context(), testRecord()))
}

func TestNew_SelectsProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		configure func(*conf.Settings)
		publisher Publisher
		wantName  string
		wantErr   bool
	}{
		{"empty defaults to log", func(*conf.Settings) {}, nil, ProviderLog, false},
		{"log", func(s *conf.Settings) { s.Delivery.Provider = "LOG" }, nil, ProviderLog, false},
		{"webhook", func(s *conf.Settings) {
			s.Delivery.Provider = ProviderWebhook
			s.Delivery.Webhook.URL = testHookURL
		}, nil, ProviderWebhook, false},
		{"webhook without url", func(s *conf.Settings) { s.Delivery.Provider = ProviderWebhook }, nil, "", true},
		{"shoutrrr", func(s *conf.Settings) {
			s.Delivery.Provider = ProviderShoutrrr
			s.Delivery.Shoutrrr.URLs = []string{"logger://"}
		}, nil, ProviderShoutrrr, false},
		{"mqtt", func(s *conf.Settings) {
			s.Delivery.Provider = ProviderMQTT
			s.MQTT.NotificationTopic = "geonudge/notifications"
		}, &fakePublisher{}, ProviderMQTT, false},
		{"mqtt without client", func(s *conf.Settings) {
			s.Delivery.Provider = ProviderMQTT
			s.MQTT.NotificationTopic = "geonudge/notifications"
		}, nil, "", true},
		{"unknown", func(s *conf.Settings) { s.Delivery.Provider = "pigeon" }, nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			settings := &conf.Settings{}
			settings.Delivery.Timeout = 5 * time.Second
			tt.configure(settings)

			g, err := New(settings, tt.publisher, testLogger())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, g.Name())
		})
	}
}
