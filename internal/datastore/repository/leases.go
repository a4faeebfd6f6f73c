package repository

import (
	"context"
	"time"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"gorm.io/gorm/clause"
)

// AcquireLease grants the named lease to owner until now+ttl. It succeeds
// when the lease is new, already held by owner, or expired.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()
	lease := entities.ProcessorLease{Name: name, Owner: owner, ExpiresAt: now.Add(ttl), UpdatedAt: now}

	result := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&lease)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	result = s.conn(ctx).Model(&entities.ProcessorLease{}).
		Where("name = ? AND (owner = ? OR expires_at <= ?)", name, owner, now).
		Updates(map[string]any{"owner": owner, "expires_at": now.Add(ttl), "updated_at": now})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ReleaseLease expires the lease if owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string, now time.Time) error {
	return s.conn(ctx).Model(&entities.ProcessorLease{}).
		Where("name = ? AND owner = ?", name, owner).
		Updates(map[string]any{"expires_at": now.UTC(), "updated_at": now.UTC()}).Error
}

// GetLease returns the named lease.
func (s *Store) GetLease(ctx context.Context, name string) (*entities.ProcessorLease, error) {
	var lease entities.ProcessorLease
	if err := s.conn(ctx).Where("name = ?", name).First(&lease).Error; err != nil {
		return nil, err
	}
	return &lease, nil
}

// RenewLease extends a lease owner still holds. It reports false once the
// lease has expired or passed to another owner.
func (s *Store) RenewLease(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()
	result := s.conn(ctx).Model(&entities.ProcessorLease{}).
		Where("name = ? AND owner = ? AND expires_at > ?", name, owner, now).
		Updates(map[string]any{"expires_at": now.Add(ttl), "updated_at": now})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
