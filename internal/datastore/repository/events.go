package repository

import (
	"context"
	"time"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"gorm.io/gorm"
)

// CreateEvent inserts a geofence event.
func (s *Store) CreateEvent(ctx context.Context, event *entities.GeofenceEvent) error {
	return s.conn(ctx).Create(event).Error
}

// GetEvent returns a geofence event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*entities.GeofenceEvent, error) {
	var event entities.GeofenceEvent
	err := s.conn(ctx).Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ResolveEvent writes the event resolution once. A second resolution attempt
// returns ErrEventResolved.
func (s *Store) ResolveEvent(ctx context.Context, id string, resolution entities.Resolution, notificationID, bundledWithID *string) error {
	result := s.conn(ctx).Model(&entities.GeofenceEvent{}).
		Where("id = ? AND resolution = ?", id, entities.ResolutionNone).
		Updates(map[string]any{
			"resolution":             resolution,
			"notification_record_id": notificationID,
			"bundled_with_id":        bundledWithID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEventResolved
	}
	return nil
}

// DeleteEventsBefore removes geofence events created before cutoff.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.conn(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&entities.GeofenceEvent{})
	return result.RowsAffected, result.Error
}
