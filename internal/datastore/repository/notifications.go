package repository

import (
	"context"
	"time"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"gorm.io/gorm"
)

// HistoryQuery filters a user's notification history.
type HistoryQuery struct {
	Statuses []entities.NotificationStatus
	Kind     entities.Kind
	TaskID   string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

var openStatuses = []entities.NotificationStatus{entities.StatusPending, entities.StatusSnoozed}

var terminalStatuses = []entities.NotificationStatus{
	entities.StatusDelivered, entities.StatusCancelled, entities.StatusFailed,
}

// CreateNotification inserts a notification record.
func (s *Store) CreateNotification(ctx context.Context, record *entities.NotificationRecord) error {
	if record.Version == 0 {
		record.Version = 1
	}
	if record.Metadata == nil {
		record.Metadata = entities.Metadata{}
	}
	return s.conn(ctx).Create(record).Error
}

// GetNotification returns a notification record by id.
func (s *Store) GetNotification(ctx context.Context, id string) (*entities.NotificationRecord, error) {
	var record entities.NotificationRecord
	err := s.conn(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateNotification applies updates when the record still has the given
// version and bumps the version. It reports whether the update applied.
func (s *Store) UpdateNotification(ctx context.Context, id string, version int, updates map[string]any) (bool, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")

	result := s.conn(ctx).Model(&entities.NotificationRecord{}).
		Where("id = ? AND version = ?", id, version).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListOpenNotificationsForTask returns the task's pending and snoozed records.
func (s *Store) ListOpenNotificationsForTask(ctx context.Context, taskID string) ([]entities.NotificationRecord, error) {
	var records []entities.NotificationRecord
	err := s.conn(ctx).
		Where("task_id = ? AND status IN ?", taskID, openStatuses).
		Order("created_at, id").
		Find(&records).Error
	return records, err
}

// ListBundleCandidates returns the task's pending or delivered records
// created at or after since.
func (s *Store) ListBundleCandidates(ctx context.Context, taskID string, since time.Time) ([]entities.NotificationRecord, error) {
	var records []entities.NotificationRecord
	err := s.conn(ctx).
		Where("task_id = ? AND status IN ? AND created_at >= ?", taskID,
			[]entities.NotificationStatus{entities.StatusPending, entities.StatusDelivered}, since.UTC()).
		Order("created_at, id").
		Find(&records).Error
	return records, err
}

// ListDueNotifications returns pending records scheduled at or before now
// that nobody holds a live claim on. Records with an unfinished retry are
// left to the retry queue.
func (s *Store) ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]entities.NotificationRecord, error) {
	now = now.UTC()
	var records []entities.NotificationRecord
	err := s.conn(ctx).
		Where("status = ? AND scheduled_at <= ?", entities.StatusPending, now).
		Where("claim_expires_at IS NULL OR claim_expires_at < ?", now).
		Where("NOT EXISTS (SELECT 1 FROM retry_records r WHERE r.notification_record_id = notification_records.id AND r.status IN ?)",
			[]entities.RetryStatus{entities.RetryPending, entities.RetryRetrying}).
		Order("scheduled_at, id").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// ClaimNotification takes the delivery claim on a pending record that is
// due at now. Only one caller can hold an unexpired claim. The version is left untouched so a
// claim never conflicts with lifecycle transitions.
func (s *Store) ClaimNotification(ctx context.Context, id, token string, now, expiresAt time.Time) (bool, error) {
	result := s.conn(ctx).Model(&entities.NotificationRecord{}).
		Where("id = ? AND status = ? AND scheduled_at <= ?", id, entities.StatusPending, now.UTC()).
		Where("claim_token IS NULL OR claim_expires_at IS NULL OR claim_expires_at < ?", now.UTC()).
		UpdateColumns(map[string]any{
			"claim_token":      token,
			"claim_expires_at": expiresAt.UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ReleaseClaim clears a claim held with token.
func (s *Store) ReleaseClaim(ctx context.Context, id, token string) error {
	return s.conn(ctx).Model(&entities.NotificationRecord{}).
		Where("id = ? AND claim_token = ?", id, token).
		UpdateColumns(map[string]any{
			"claim_token":      nil,
			"claim_expires_at": nil,
		}).Error
}

// History returns a user's notifications, newest first.
func (s *Store) History(ctx context.Context, userID string, q HistoryQuery) ([]entities.NotificationRecord, error) {
	query := s.conn(ctx).Where("user_id = ?", userID)
	if len(q.Statuses) > 0 {
		query = query.Where("status IN ?", q.Statuses)
	}
	if q.Kind != "" {
		query = query.Where("kind = ?", q.Kind)
	}
	if q.TaskID != "" {
		query = query.Where("task_id = ?", q.TaskID)
	}
	if q.Since != nil {
		query = query.Where("created_at >= ?", q.Since.UTC())
	}
	if q.Until != nil {
		query = query.Where("created_at < ?", q.Until.UTC())
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var records []entities.NotificationRecord
	err := query.Order("created_at DESC, id").Find(&records).Error
	return records, err
}

// FindOpenFollowUp returns the pending or snoozed record created by snoozing
// the delivered record sourceID.
func (s *Store) FindOpenFollowUp(ctx context.Context, sourceID string) (*entities.NotificationRecord, error) {
	var record entities.NotificationRecord
	err := s.conn(ctx).
		Where("snoozed_from_id = ? AND status IN ?", sourceID, openStatuses).
		Order("created_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// SnoozeChain follows SnoozedFromID links and returns the ids from id back to
// the original record, id first.
func (s *Store) SnoozeChain(ctx context.Context, id string) ([]string, error) {
	chain := []string{id}
	current := id
	seen := map[string]struct{}{id: {}}
	for {
		var record entities.NotificationRecord
		err := s.conn(ctx).Select("id", "snoozed_from_id").Where("id = ?", current).First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chain, nil
		}
		if err != nil {
			return nil, err
		}
		if record.SnoozedFromID == nil {
			return chain, nil
		}
		next := *record.SnoozedFromID
		if _, dup := seen[next]; dup {
			return chain, nil
		}
		seen[next] = struct{}{}
		chain = append(chain, next)
		current = next
	}
}

// DeleteTerminalNotificationsBefore removes terminal records last updated
// before cutoff together with their snooze and retry records. Records that
// still have an open follow-up are kept.
func (s *Store) DeleteTerminalNotificationsBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	var ids []string
	err := s.conn(ctx).Model(&entities.NotificationRecord{}).
		Where("status IN ? AND updated_at < ?", terminalStatuses, cutoff.UTC()).
		Where("id NOT IN (?)", s.db.Model(&entities.NotificationRecord{}).
			Select("snoozed_from_id").
			Where("snoozed_from_id IS NOT NULL AND status IN ?", openStatuses)).
		Order("updated_at").
		Limit(batch).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	var deleted int64
	err = s.Transaction(ctx, func(tx *Store) error {
		if err := tx.conn(ctx).Where("notification_record_id IN ?", ids).Delete(&entities.SnoozeRecord{}).Error; err != nil {
			return err
		}
		if err := tx.conn(ctx).Where("notification_record_id IN ?", ids).Delete(&entities.RetryRecord{}).Error; err != nil {
			return err
		}
		result := tx.conn(ctx).
			Where("id IN ? AND status IN ?", ids, terminalStatuses).
			Delete(&entities.NotificationRecord{})
		deleted = result.RowsAffected
		return result.Error
	})
	return deleted, err
}

// CountByStatus returns the number of records per status.
func (s *Store) CountByStatus(ctx context.Context) (map[entities.NotificationStatus]int64, error) {
	var rows []struct {
		Status entities.NotificationStatus
		Count  int64
	}
	err := s.conn(ctx).Model(&entities.NotificationRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[entities.NotificationStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
