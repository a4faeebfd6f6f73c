package mqtt

import (
	"context"
	"fmt"
	"maps"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/observability/metrics"
)

// client implements the Client interface on top of paho.
type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	subscriptions   map[string]MessageHandler
	metrics         *metrics.MQTTMetrics
	log             logger.Logger

	// handlerCtx is passed to message handlers and cancelled on Disconnect
	handlerCtx    context.Context
	handlerCancel context.CancelFunc

	newPahoClient func(*paho.ClientOptions) paho.Client
}

// NewClient creates a new MQTT client. It does not connect.
func NewClient(cfg Config, m *metrics.MQTTMetrics, log logger.Logger) (Client, error) {
	c, err := newClient(cfg, m, log, paho.NewClient)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(cfg Config, m *metrics.MQTTMetrics, log logger.Logger, factory func(*paho.ClientOptions) paho.Client) (*client, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is required").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if m == nil {
		return nil, errors.Newf("mqtt metrics are required").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		config:        cfg,
		subscriptions: make(map[string]MessageHandler),
		metrics:       m,
		log:           log.Module("mqtt"),
		handlerCtx:    ctx,
		handlerCancel: cancel,
		newPahoClient: factory,
	}, nil
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
// When the broker is unreachable paho keeps retrying in the background.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return fmt.Errorf("connection attempt too recent, last attempt was %v ago", since)
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return c.connectError(fmt.Errorf("invalid broker URL: %w", err))
	}

	host := u.Hostname()
	if host != "" && net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return c.connectError(fmt.Errorf("failed to resolve hostname %s: %w", host, err))
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.internalClient = c.newPahoClient(opts)

	token := c.internalClient.Connect()
	if err := waitToken(ctx, token, c.config.ConnectTimeout); err != nil {
		return c.connectError(err)
	}

	c.metrics.UpdateConnectionStatus(true)
	return nil
}

func (c *client) connectError(err error) error {
	c.metrics.IncrementErrors("connect")
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryMQTT).
		Context("broker", logger.RedactSensitiveData(c.config.Broker)).
		Build()
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	pc := c.internalClient
	c.mu.Unlock()

	if pc == nil || !pc.IsConnected() {
		c.metrics.IncrementErrors("publish")
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("topic", topic).
			Build()
	}

	timer := c.metrics.StartPublishTimer()
	defer timer.ObserveDuration()

	token := pc.Publish(topic, c.config.QoS, false, payload)
	if err := waitToken(ctx, token, c.config.PublishTimeout); err != nil {
		c.metrics.IncrementErrors("publish")
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("topic", topic).
			Build()
	}

	c.metrics.IncrementMessagesDelivered(c.config.purpose(topic))
	c.metrics.ObserveMessageSize(float64(len(payload)))
	c.log.Debug("published message",
		logger.String("topic", topic),
		logger.Int("bytes", len(payload)))
	return nil
}

// Subscribe records handler and subscribes right away when connected.
func (c *client) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.subscriptions[topic] = handler
	pc := c.internalClient
	c.mu.Unlock()

	if pc == nil || !pc.IsConnected() {
		return nil
	}
	return c.subscribe(pc, topic, handler)
}

func (c *client) subscribe(pc paho.Client, topic string, handler MessageHandler) error {
	token := pc.Subscribe(topic, c.config.QoS, c.wrapHandler(handler))
	if err := waitToken(c.handlerCtx, token, c.config.ConnectTimeout); err != nil {
		c.metrics.IncrementErrors("subscribe")
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("topic", topic).
			Build()
	}
	c.log.Info("subscribed", logger.String("topic", topic))
	return nil
}

func (c *client) wrapHandler(handler MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		c.metrics.IncrementMessagesReceived()
		c.metrics.ObserveMessageSize(float64(len(msg.Payload())))
		handler(c.handlerCtx, msg.Topic(), msg.Payload())
	}
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.handlerCancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalClient != nil {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.UpdateConnectionStatus(false)
		c.internalClient = nil
	}
}

// onConnect restores subscriptions, which a clean session drops.
func (c *client) onConnect(pc paho.Client) {
	c.log.Info("connected to MQTT broker", logger.String("broker", logger.RedactSensitiveData(c.config.Broker)))
	c.metrics.UpdateConnectionStatus(true)

	c.mu.Lock()
	subs := maps.Clone(c.subscriptions)
	c.mu.Unlock()

	for topic, h := range subs {
		if err := c.subscribe(pc, topic, h); err != nil {
			c.log.Error("failed to restore subscription", logger.String("topic", topic), logger.Error(err))
		}
	}
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost", logger.Error(err))
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.IncrementErrors("connection_lost")
}

func (c *client) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	c.metrics.IncrementReconnectAttempts()
}

// waitToken waits for token, the timeout or ctx, whichever is first.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("mqtt operation timed out after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
