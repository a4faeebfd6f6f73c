package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tphakala/geonudge/internal/events"
	"github.com/tphakala/geonudge/internal/logger"
)

// LifecycleConsumer mirrors lifecycle events to <topic>/<userId>.
type LifecycleConsumer struct {
	client  Client
	topic   string
	timeout time.Duration
	log     logger.Logger
}

// NewLifecycleConsumer creates an event bus consumer publishing under topic.
func NewLifecycleConsumer(client Client, topic string, timeout time.Duration, log logger.Logger) *LifecycleConsumer {
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return &LifecycleConsumer{
		client:  client,
		topic:   strings.TrimRight(topic, "/"),
		timeout: timeout,
		log:     log.Module("mqtt"),
	}
}

// Name implements events.EventConsumer.
func (c *LifecycleConsumer) Name() string { return "mqtt" }

// ProcessEvent implements events.EventConsumer. Events are dropped while the
// broker is unreachable.
func (c *LifecycleConsumer) ProcessEvent(event events.LifecycleEvent) error {
	if !c.client.IsConnected() {
		c.log.Debug("dropping lifecycle event, broker not connected",
			logger.String("type", string(event.Type)))
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.client.Publish(ctx, c.topic+"/"+event.UserID, payload)
}
