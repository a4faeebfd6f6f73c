// Package mqtt connects geonudge to an MQTT broker. It receives geofence
// reports on the intake topic, publishes notifications for the mqtt delivery
// provider and mirrors lifecycle events.
package mqtt

import (
	"context"
	"strings"
	"time"

	"github.com/tphakala/geonudge/internal/conf"
)

// MessageHandler handles one received message. ctx is cancelled when the
// client disconnects.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client defines the MQTT operations used by the rest of geonudge.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends payload to topic. It fails when not connected.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for topic. Subscriptions survive reconnects.
	Subscribe(topic string, handler MessageHandler) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	QoS               byte
	EventTopic        string // publishes under this prefix count as lifecycle messages
	ReconnectCooldown time.Duration
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ClientID:          "geonudge",
		QoS:               1,
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings maps the mqtt settings group onto Config.
func ConfigFromSettings(s *conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	if s.ClientID != "" {
		cfg.ClientID = s.ClientID
	}
	cfg.Username = s.Username
	cfg.Password = s.Password
	if s.QoS >= 0 && s.QoS <= 2 {
		cfg.QoS = byte(s.QoS)
	}
	cfg.EventTopic = s.EventTopic
	return cfg
}

const (
	purposeNotification = "notification"
	purposeLifecycle    = "lifecycle"
)

func (c Config) purpose(topic string) string {
	if c.EventTopic != "" && strings.HasPrefix(topic, c.EventTopic) {
		return purposeLifecycle
	}
	return purposeNotification
}
