package delivery

import (
	"context"
	"strings"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
)

// Publisher is the part of the MQTT client the gateway needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
}

// MQTTGateway publishes the JSON payload to <prefix>/<userId>.
type MQTTGateway struct {
	publisher Publisher
	prefix    string
	log       logger.Logger
}

// NewMQTTGateway creates the gateway. prefix must be non-empty.
func NewMQTTGateway(publisher Publisher, prefix string, log logger.Logger) (*MQTTGateway, error) {
	if publisher == nil {
		return nil, configError("mqtt delivery requires mqtt to be enabled")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, configError("mqtt notification topic is required")
	}
	return &MQTTGateway{publisher: publisher, prefix: prefix, log: log}, nil
}

// Name implements Gateway.
func (g *MQTTGateway) Name() string { return ProviderMQTT }

// Topic returns the topic notifications for userID are published on.
func (g *MQTTGateway) Topic(userID string) string {
	return g.prefix + "/" + userID
}

// Send implements Gateway.
func (g *MQTTGateway) Send(ctx context.Context, record *entities.NotificationRecord) error {
	if !g.publisher.IsConnected() {
		return errors.Newf("mqtt broker not connected").
			Component(componentName).
			Category(errors.CategoryMQTT).
			Context("notification_id", record.ID).
			Build()
	}

	body, err := marshalPayload(record)
	if err != nil {
		return err
	}

	topic := g.Topic(record.UserID)
	if err := g.publisher.Publish(ctx, topic, body); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTT).
			Context("notification_id", record.ID).
			Context("topic", topic).
			Build()
	}
	return nil
}
