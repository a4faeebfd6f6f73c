// Package delivery implements the gateways that hand notifications to the
// user's device. The engine talks to them through notification.Gateway.
package delivery

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tphakala/geonudge/internal/conf"
	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/httpclient"
	"github.com/tphakala/geonudge/internal/logger"
)

// Provider names accepted by delivery.provider.
const (
	ProviderLog      = "log"
	ProviderWebhook  = "webhook"
	ProviderShoutrrr = "shoutrrr"
	ProviderMQTT     = "mqtt"
)

const componentName = "delivery"

// Gateway sends one notification record. It matches notification.Gateway.
type Gateway interface {
	Name() string
	Send(ctx context.Context, record *entities.NotificationRecord) error
}

// Payload is the JSON document posted by the webhook and MQTT gateways.
type Payload struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	TaskID      string            `json:"taskId"`
	GeofenceID  string            `json:"geofenceId"`
	Kind        string            `json:"kind"`
	Tier        string            `json:"tier"`
	Title       string            `json:"title"`
	Body        string            `json:"body,omitempty"`
	Confidence  float64           `json:"confidence"`
	Attempt     int               `json:"attempt"`
	TriggeredAt time.Time         `json:"triggeredAt"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewPayload builds the wire payload for record.
func NewPayload(record *entities.NotificationRecord) Payload {
	return Payload{
		ID:          record.ID,
		UserID:      record.UserID,
		TaskID:      record.TaskID,
		GeofenceID:  record.GeofenceID,
		Kind:        string(record.Kind),
		Tier:        string(record.Tier),
		Title:       record.Title,
		Body:        record.Body,
		Confidence:  record.Confidence,
		Attempt:     record.Attempts + 1,
		TriggeredAt: record.TriggeredAt.UTC(),
		Metadata:    record.Metadata,
	}
}

func marshalPayload(record *entities.NotificationRecord) ([]byte, error) {
	body, err := json.Marshal(NewPayload(record))
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDelivery).
			Context("notification_id", record.ID).
			Build()
	}
	return body, nil
}

// New returns the gateway selected by settings.Delivery.Provider. publisher
// is only used by the mqtt provider and may be nil otherwise.
func New(settings *conf.Settings, publisher Publisher, log logger.Logger) (Gateway, error) {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	log = log.Module(componentName)
	d := settings.Delivery

	switch strings.ToLower(strings.TrimSpace(d.Provider)) {
	case "", ProviderLog:
		return NewLogGateway(log), nil
	case ProviderWebhook:
		client := httpclient.New(&httpclient.Config{DefaultTimeout: d.Timeout})
		return NewWebhookGateway(d.Webhook.URL, d.Webhook.Headers, client, log)
	case ProviderShoutrrr:
		return NewShoutrrrGateway(d.Shoutrrr.URLs, d.Timeout, log)
	case ProviderMQTT:
		return NewMQTTGateway(publisher, settings.MQTT.NotificationTopic, log)
	default:
		return nil, errors.Newf("unknown delivery provider %q", d.Provider).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func configError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component(componentName).
		Category(errors.CategoryConfiguration).
		Build()
}
