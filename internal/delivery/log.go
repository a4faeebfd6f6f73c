package delivery

import (
	"context"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/logger"
)

// LogGateway writes notifications to the log instead of a device. It is
// the dry-run provider and never fails.
type LogGateway struct {
	log logger.Logger
}

// NewLogGateway creates a log gateway.
func NewLogGateway(log logger.Logger) *LogGateway {
	return &LogGateway{log: log}
}

// Name implements Gateway.
func (g *LogGateway) Name() string { return ProviderLog }

// Send implements Gateway.
func (g *LogGateway) Send(ctx context.Context, record *entities.NotificationRecord) error {
	g.log.WithContext(ctx).Info("notification delivered (dry run)",
		logger.String("notification_id", record.ID),
		logger.String("user_id", record.UserID),
		logger.String("task_id", record.TaskID),
		logger.String("kind", string(record.Kind)),
		logger.String("tier", string(record.Tier)),
		logger.String("title", record.Title))
	return nil
}
