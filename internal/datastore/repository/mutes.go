package repository

import (
	"context"
	"time"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"gorm.io/gorm"
)

// CreateMute inserts a mute record.
func (s *Store) CreateMute(ctx context.Context, mute *entities.MuteRecord) error {
	return s.conn(ctx).Create(mute).Error
}

// GetActiveMute returns the task's active mute that has not run out at now.
func (s *Store) GetActiveMute(ctx context.Context, taskID string, now time.Time) (*entities.MuteRecord, error) {
	var mute entities.MuteRecord
	err := s.conn(ctx).
		Where("task_id = ? AND status = ?", taskID, entities.RecordActive).
		Where("mute_until IS NULL OR mute_until > ?", now.UTC()).
		Order("created_at DESC").
		First(&mute).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMuteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &mute, nil
}

// IsMuted reports whether the task has an active, unexpired mute at now.
func (s *Store) IsMuted(ctx context.Context, taskID string, now time.Time) (bool, error) {
	var count int64
	err := s.conn(ctx).Model(&entities.MuteRecord{}).
		Where("task_id = ? AND status = ?", taskID, entities.RecordActive).
		Where("mute_until IS NULL OR mute_until > ?", now.UTC()).
		Count(&count).Error
	return count > 0, err
}

// EndActiveMutes moves every active mute of the task to status.
func (s *Store) EndActiveMutes(ctx context.Context, taskID string, status entities.RecordStatus, now time.Time) (int64, error) {
	result := s.conn(ctx).Model(&entities.MuteRecord{}).
		Where("task_id = ? AND status = ?", taskID, entities.RecordActive).
		Updates(map[string]any{"status": status, "updated_at": now.UTC()})
	return result.RowsAffected, result.Error
}

// ListDueMutes returns active timed mutes whose MuteUntil is at or before now.
func (s *Store) ListDueMutes(ctx context.Context, now time.Time, limit int) ([]entities.MuteRecord, error) {
	var mutes []entities.MuteRecord
	err := s.conn(ctx).
		Where("status = ? AND mute_until IS NOT NULL AND mute_until <= ?", entities.RecordActive, now.UTC()).
		Order("mute_until, id").
		Limit(limit).
		Find(&mutes).Error
	return mutes, err
}

// TransitionMute moves a mute from one status to another. It reports false
// when the mute was no longer in the from status.
func (s *Store) TransitionMute(ctx context.Context, id string, from, to entities.RecordStatus, now time.Time) (bool, error) {
	result := s.conn(ctx).Model(&entities.MuteRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": now.UTC()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DeleteEndedMutesBefore removes expired and cancelled mutes last updated before cutoff.
func (s *Store) DeleteEndedMutesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.conn(ctx).
		Where("status IN ? AND updated_at < ?",
			[]entities.RecordStatus{entities.RecordExpired, entities.RecordCancelled}, cutoff.UTC()).
		Delete(&entities.MuteRecord{})
	return result.RowsAffected, result.Error
}
