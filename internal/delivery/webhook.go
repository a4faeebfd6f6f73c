package delivery

import (
	"context"
	"io"
	"maps"
	"net/http"
	"net/url"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/httpclient"
	"github.com/tphakala/geonudge/internal/logger"
)

const maxErrorBodyBytes = 1024

// WebhookGateway POSTs the JSON payload to a single endpoint. Any status
// outside 2xx is a failed delivery.
type WebhookGateway struct {
	url     string
	headers map[string]string
	client  *httpclient.Client
	log     logger.Logger
}

// NewWebhookGateway validates endpoint and creates the gateway.
func NewWebhookGateway(endpoint string, headers map[string]string, client *httpclient.Client, log logger.Logger) (*WebhookGateway, error) {
	if endpoint == "" {
		return nil, configError("webhook url is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, configError("webhook url must be an absolute http(s) url: %s", logger.RedactSensitiveData(endpoint))
	}
	if client == nil {
		client = httpclient.New(nil)
	}
	return &WebhookGateway{
		url:     endpoint,
		headers: maps.Clone(headers),
		client:  client,
		log:     log,
	}, nil
}

// Name implements Gateway.
func (g *WebhookGateway) Name() string { return ProviderWebhook }

// Send implements Gateway.
func (g *WebhookGateway) Send(ctx context.Context, record *entities.NotificationRecord) error {
	body, err := marshalPayload(record)
	if err != nil {
		return err
	}

	resp, err := g.client.PostJSON(ctx, g.url, body, g.headers)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Newf("webhook request failed: %s", logger.RedactSensitiveData(err.Error())).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("notification_id", record.ID).
			Build()
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return errors.Newf("webhook returned status %d: %s", resp.StatusCode, logger.RedactSensitiveData(string(snippet))).
			Component(componentName).
			Category(errors.CategoryDelivery).
			Context("notification_id", record.ID).
			Context("status_code", resp.StatusCode).
			Build()
	}

	g.log.Debug("webhook delivered",
		logger.String("notification_id", record.ID),
		logger.Int("status_code", resp.StatusCode))
	return nil
}
