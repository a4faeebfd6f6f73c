package repository

import (
	"context"
	"time"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimDedupKey takes the cooldown claim for key. A claim is granted when
// the key is new or its previous claim is at least cooldown old. When the
// claim is held elsewhere the holder's notification id is returned.
func (s *Store) ClaimDedupKey(ctx context.Context, key string, now time.Time, cooldown time.Duration) (claimed bool, holderID string, err error) {
	now = now.UTC()
	claim := entities.DedupClaim{Key: key, ClaimedAt: now}

	result := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
	if result.Error != nil {
		return false, "", result.Error
	}
	if result.RowsAffected == 1 {
		return true, "", nil
	}

	result = s.conn(ctx).Model(&entities.DedupClaim{}).
		Where("dedup_key = ? AND claimed_at <= ?", key, now.Add(-cooldown)).
		Updates(map[string]any{"claimed_at": now, "notification_record_id": ""})
	if result.Error != nil {
		return false, "", result.Error
	}
	if result.RowsAffected == 1 {
		return true, "", nil
	}

	holder, err := s.GetDedupClaim(ctx, key)
	if err != nil {
		return false, "", err
	}
	return false, holder.NotificationRecordID, nil
}

// GetDedupClaim returns the claim for key.
func (s *Store) GetDedupClaim(ctx context.Context, key string) (*entities.DedupClaim, error) {
	var claim entities.DedupClaim
	err := s.conn(ctx).Where("dedup_key = ?", key).First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDedupClaimNotFound
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// BindDedupClaim records the notification that holds the claim.
func (s *Store) BindDedupClaim(ctx context.Context, key, notificationID string) error {
	return s.conn(ctx).Model(&entities.DedupClaim{}).
		Where("dedup_key = ?", key).
		Update("notification_record_id", notificationID).Error
}

// DeleteDedupClaimsBefore removes claims taken before cutoff.
func (s *Store) DeleteDedupClaimsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.conn(ctx).
		Where("claimed_at < ?", cutoff.UTC()).
		Delete(&entities.DedupClaim{})
	return result.RowsAffected, result.Error
}
