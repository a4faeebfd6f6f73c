package notification

import (
	"context"

	"github.com/tphakala/geonudge/internal/datastore/entities"
)

// Gateway delivers a notification to the user's device. Implementations
// live in the delivery package.
type Gateway interface {
	Name() string
	Send(ctx context.Context, record *entities.NotificationRecord) error
}
