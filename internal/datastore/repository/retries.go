package repository

import (
	"context"
	"time"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"gorm.io/gorm"
)

// GetRetry returns the retry record of a notification.
func (s *Store) GetRetry(ctx context.Context, notificationID string) (*entities.RetryRecord, error) {
	var retry entities.RetryRecord
	err := s.conn(ctx).Where("notification_record_id = ?", notificationID).First(&retry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRetryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &retry, nil
}

// CreateRetry inserts a retry record.
func (s *Store) CreateRetry(ctx context.Context, retry *entities.RetryRecord) error {
	return s.conn(ctx).Create(retry).Error
}

// UpdateRetry applies updates when the record is in one of the from
// statuses. It reports whether the update applied.
func (s *Store) UpdateRetry(ctx context.Context, id string, from []entities.RetryStatus, updates map[string]any) (bool, error) {
	result := s.conn(ctx).Model(&entities.RetryRecord{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClaimDueRetries moves up to limit due pending retries to retrying and
// returns the ones this caller claimed.
func (s *Store) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]entities.RetryRecord, error) {
	now = now.UTC()
	var due []entities.RetryRecord
	err := s.conn(ctx).
		Where("status = ? AND next_retry_at <= ?", entities.RetryPending, now).
		Order("next_retry_at, id").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, err
	}

	claimed := due[:0]
	for i := range due {
		ok, err := s.UpdateRetry(ctx, due[i].ID, []entities.RetryStatus{entities.RetryPending}, map[string]any{
			"status":     entities.RetryRetrying,
			"updated_at": now,
		})
		if err != nil {
			return claimed, err
		}
		if ok {
			due[i].Status = entities.RetryRetrying
			claimed = append(claimed, due[i])
		}
	}
	return claimed, nil
}

// ResetStuckRetries returns retrying records untouched since cutoff to
// pending. A process that died mid-delivery leaves such records behind.
func (s *Store) ResetStuckRetries(ctx context.Context, cutoff, now time.Time) (int64, error) {
	result := s.conn(ctx).Model(&entities.RetryRecord{}).
		Where("status = ? AND updated_at < ?", entities.RetryRetrying, cutoff.UTC()).
		Updates(map[string]any{"status": entities.RetryPending, "updated_at": now.UTC()})
	return result.RowsAffected, result.Error
}
