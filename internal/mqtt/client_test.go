package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/geonudge/internal/conf"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/observability"
	"github.com/tphakala/geonudge/internal/observability/metrics"
)

const testBroker = "tcp://127.0.0.1:1883"

func testLogger() logger.Logger {
	return logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC)
}

func testMetrics(t *testing.T) *metrics.MQTTMetrics {
	t.Helper()
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	return m.MQTT
}

// fakeToken is a paho token that completes immediately unless pending.
type fakeToken struct {
	err  error
	done chan struct{}
}

func completedToken(err error) *fakeToken {
	tok := &fakeToken{err: err, done: make(chan struct{})}
	close(tok.done)
	return tok
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type publishedMessage struct {
	topic   string
	qos     byte
	payload []byte
}

// fakePaho stands in for a broker connection.
type fakePaho struct {
	mu           sync.Mutex
	opts         *paho.ClientOptions
	connected    bool
	connectErr   error
	hangPublish  bool
	published    []publishedMessage
	handlers     map[string]paho.MessageHandler
	disconnected bool
}

var _ paho.Client = (*fakePaho)(nil)

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakePaho) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = f.connectErr == nil
	return completedToken(f.connectErr)
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakePaho) Publish(topic string, qos byte, _ bool, payload any) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hangPublish {
		return pendingToken()
	}
	b, _ := payload.([]byte)
	f.published = append(f.published, publishedMessage{topic: topic, qos: qos, payload: b})
	return completedToken(nil)
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string]paho.MessageHandler)
	}
	f.handlers[topic] = callback
	return completedToken(nil)
}

func (f *fakePaho) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	for topic, qos := range filters {
		f.Subscribe(topic, qos, callback)
	}
	return completedToken(nil)
}

func (f *fakePaho) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.handlers, topic)
	}
	return completedToken(nil)
}

func (f *fakePaho) AddRoute(string, paho.MessageHandler) {}

func (f *fakePaho) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func (f *fakePaho) deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(f, fakeMessage{topic: topic, payload: payload})
	return true
}

func (f *fakePaho) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

func newTestClient(t *testing.T, fake *fakePaho, cfg Config) (*client, *metrics.MQTTMetrics) {
	t.Helper()
	m := testMetrics(t)
	if cfg.Broker == "" {
		cfg.Broker = testBroker
	}
	c, err := newClient(cfg, m, testLogger(), func(opts *paho.ClientOptions) paho.Client {
		fake.mu.Lock()
		fake.opts = opts
		fake.mu.Unlock()
		return fake
	})
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c, m
}

func TestClient_ConnectAndPublish(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{}
	c, m := newTestClient(t, fake, Config{QoS: 1, EventTopic: "geonudge/lifecycle"})

	require.NoError(t, c.Connect(t.Context()))
	assert.True(t, c.IsConnected())
	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionStatus), 0)
	require.NotNil(t, fake.opts)
	assert.Equal(t, "tcp://127.0.0.1:1883", fake.opts.Servers[0].String())
	assert.True(t, fake.opts.CleanSession)
	assert.True(t, fake.opts.AutoReconnect)

	require.NoError(t, c.Publish(t.Context(), "geonudge/notifications/user-1", []byte(`{"id":"n-1"}`)))
	require.NoError(t, c.Publish(t.Context(), "geonudge/lifecycle/user-1", []byte(`{}`)))

	msgs := fake.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "geonudge/notifications/user-1", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.JSONEq(t, `{"id":"n-1"}`, string(msgs[0].payload))

	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDelivered.WithLabelValues("notification")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDelivered.WithLabelValues("lifecycle")), 0)
}

func TestClient_PublishRequiresConnection(t *testing.T) {
	t.Parallel()
	c, m := newTestClient(t, &fakePaho{}, Config{})

	err := c.Publish(t.Context(), "topic", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTT))
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors.WithLabelValues("publish")), 0)
}

func TestClient_PublishTimeout(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{hangPublish: true}
	c, m := newTestClient(t, fake, Config{PublishTimeout: 20 * time.Millisecond})
	require.NoError(t, c.Connect(t.Context()))

	err := c.Publish(t.Context(), "topic", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors.WithLabelValues("publish")), 0)
}

func TestClient_PublishHonoursContext(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{hangPublish: true}
	c, _ := newTestClient(t, fake, Config{PublishTimeout: time.Minute})
	require.NoError(t, c.Connect(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := c.Publish(ctx, "topic", []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestClient_ConnectError(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{connectErr: errors.NewStd("not authorized")}
	c, m := newTestClient(t, fake, Config{})

	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
	assert.False(t, c.IsConnected())
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors.WithLabelValues("connect")), 0)
}

func TestClient_ConnectCooldown(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{connectErr: errors.NewStd("refused")}
	c, _ := newTestClient(t, fake, Config{ReconnectCooldown: time.Hour})

	require.Error(t, c.Connect(t.Context()))
	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

func TestClient_SubscriptionsSurviveReconnect(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{}
	c, m := newTestClient(t, fake, Config{})

	received := make(chan string, 4)
	require.NoError(t, c.Subscribe("geonudge/geofence-events", func(_ context.Context, topic string, payload []byte) {
		received <- topic + ":" + string(payload)
	}))
	assert.False(t, fake.deliver("geonudge/geofence-events", []byte("early")), "not subscribed before connecting")

	require.NoError(t, c.Connect(t.Context()))
	fake.opts.OnConnect(fake)

	require.True(t, fake.deliver("geonudge/geofence-events", []byte("hello")))
	assert.Equal(t, "geonudge/geofence-events:hello", <-received)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesReceived), 0)

	// A reconnect with a clean session restores the subscription.
	fake.mu.Lock()
	fake.handlers = nil
	fake.mu.Unlock()
	fake.opts.OnConnectionLost(fake, errors.NewStd("eof"))
	assert.InDelta(t, 0, testutil.ToFloat64(m.ConnectionStatus), 0)
	fake.opts.OnConnect(fake)
	require.True(t, fake.deliver("geonudge/geofence-events", []byte("again")))
	assert.Equal(t, "geonudge/geofence-events:again", <-received)
}

func TestClient_SubscribeWhileConnected(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{}
	c, _ := newTestClient(t, fake, Config{})
	require.NoError(t, c.Connect(t.Context()))

	got := make(chan []byte, 1)
	require.NoError(t, c.Subscribe("t", func(_ context.Context, _ string, payload []byte) { got <- payload }))
	require.True(t, fake.deliver("t", []byte("x")))
	assert.Equal(t, []byte("x"), <-got)
}

func TestClient_DisconnectCancelsHandlers(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{}
	c, m := newTestClient(t, fake, Config{})
	require.NoError(t, c.Connect(t.Context()))

	ctxs := make(chan context.Context, 1)
	require.NoError(t, c.Subscribe("t", func(ctx context.Context, _ string, _ []byte) { ctxs <- ctx }))
	require.True(t, fake.deliver("t", nil))
	handlerCtx := <-ctxs
	require.NoError(t, handlerCtx.Err())

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.True(t, fake.disconnected)
	require.Error(t, handlerCtx.Err())
	assert.InDelta(t, 0, testutil.ToFloat64(m.ConnectionStatus), 0)
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewClient(Config{}, testMetrics(t), testLogger())
	require.Error(t, err)
	_, err = NewClient(Config{Broker: testBroker}, nil, testLogger())
	require.Error(t, err)
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()
	cfg := ConfigFromSettings(&conf.MQTTSettings{
		Broker:     testBroker,
		Username:   "u",
		Password:   "p",
		QoS:        2,
		EventTopic: "geonudge/lifecycle",
	})
	assert.Equal(t, testBroker, cfg.Broker)
	assert.Equal(t, "geonudge", cfg.ClientID)
	assert.Equal(t, byte(2), cfg.QoS)
	assert.Equal(t, purposeLifecycle, cfg.purpose("geonudge/lifecycle/user-1"))
	assert.Equal(t, purposeNotification, cfg.purpose("geonudge/notifications/user-1"))

	cfg = ConfigFromSettings(&conf.MQTTSettings{Broker: testBroker, ClientID: "edge-1", QoS: 7})
	assert.Equal(t, "edge-1", cfg.ClientID)
	assert.Equal(t, byte(1), cfg.QoS)
}
