package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"gorm.io/gorm"
)

// CreateSnooze inserts a snooze record.
func (s *Store) CreateSnooze(ctx context.Context, snooze *entities.SnoozeRecord) error {
	return s.conn(ctx).Create(snooze).Error
}

// GetActiveSnooze returns the active snooze of a notification.
func (s *Store) GetActiveSnooze(ctx context.Context, notificationID string) (*entities.SnoozeRecord, error) {
	var snooze entities.SnoozeRecord
	err := s.conn(ctx).
		Where("notification_record_id = ? AND status = ?", notificationID, entities.RecordActive).
		First(&snooze).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSnoozeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snooze, nil
}

// MaxSnoozeCount returns the highest snooze count recorded for any of the
// notifications, 0 when none was ever snoozed.
func (s *Store) MaxSnoozeCount(ctx context.Context, notificationIDs []string) (int, error) {
	var count sql.NullInt64
	err := s.conn(ctx).Model(&entities.SnoozeRecord{}).
		Select("MAX(snooze_count)").
		Where("notification_record_id IN ?", notificationIDs).
		Row().Scan(&count)
	if err != nil {
		return 0, err
	}
	return int(count.Int64), nil
}

// CancelActiveSnoozes cancels every active snooze of a notification.
func (s *Store) CancelActiveSnoozes(ctx context.Context, notificationID string, now time.Time) (int64, error) {
	result := s.conn(ctx).Model(&entities.SnoozeRecord{}).
		Where("notification_record_id = ? AND status = ?", notificationID, entities.RecordActive).
		Updates(map[string]any{"status": entities.RecordCancelled, "updated_at": now.UTC()})
	return result.RowsAffected, result.Error
}

// ListDueSnoozes returns active snoozes whose SnoozeUntil is at or before now.
func (s *Store) ListDueSnoozes(ctx context.Context, now time.Time, limit int) ([]entities.SnoozeRecord, error) {
	var snoozes []entities.SnoozeRecord
	err := s.conn(ctx).
		Where("status = ? AND snooze_until <= ?", entities.RecordActive, now.UTC()).
		Order("snooze_until, id").
		Limit(limit).
		Find(&snoozes).Error
	return snoozes, err
}

// TransitionSnooze moves a snooze from one status to another. It reports
// false when the snooze was no longer in the from status.
func (s *Store) TransitionSnooze(ctx context.Context, id string, from, to entities.RecordStatus, now time.Time) (bool, error) {
	result := s.conn(ctx).Model(&entities.SnoozeRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": now.UTC()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
