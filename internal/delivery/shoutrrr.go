package delivery

import (
	"context"
	"io"
	stdlog "log"
	"slices"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
)

// ShoutrrrGateway sends through one shoutrrr router covering every
// configured service URL.
type ShoutrrrGateway struct {
	urls   []string
	sender *router.ServiceRouter
	log    logger.Logger
}

// NewShoutrrrGateway parses urls and builds the sender.
func NewShoutrrrGateway(urls []string, timeout time.Duration, log logger.Logger) (*ShoutrrrGateway, error) {
	if len(urls) == 0 {
		return nil, configError("at least one shoutrrr url is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, configError("invalid shoutrrr url: %s", logger.RedactSensitiveData(err.Error()))
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(stdlog.New(io.Discard, "", 0))

	return &ShoutrrrGateway{urls: slices.Clone(urls), sender: sender, log: log}, nil
}

// Name implements Gateway.
func (g *ShoutrrrGateway) Name() string { return ProviderShoutrrr }

// Send implements Gateway. The router enforces its own timeout.
func (g *ShoutrrrGateway) Send(ctx context.Context, record *entities.NotificationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(record.Title)
	message := record.Body
	if message == "" {
		message = record.Title
	}

	for _, err := range g.sender.Send(message, &params) {
		if err != nil {
			return errors.Newf("shoutrrr send failed: %s", logger.RedactSensitiveData(err.Error())).
				Component(componentName).
				Category(errors.CategoryDelivery).
				Context("notification_id", record.ID).
				Context("services", len(g.urls)).
				Build()
		}
	}
	return nil
}
