package repository

import (
	"context"
	"time"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetTask returns the mirrored state of a task.
func (s *Store) GetTask(ctx context.Context, taskID string) (*entities.TaskState, error) {
	var task entities.TaskState
	err := s.conn(ctx).Where("task_id = ?", taskID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// UpsertTask inserts or updates a task mirror. LockSeq is never overwritten.
func (s *Store) UpsertTask(ctx context.Context, task *entities.TaskState) error {
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "title", "place_name", "status", "updated_at"}),
	}).Create(task).Error
}

// SetTaskStatus changes the status of a known task.
func (s *Store) SetTaskStatus(ctx context.Context, taskID string, status entities.TaskStatus, now time.Time) error {
	result := s.conn(ctx).Model(&entities.TaskState{}).
		Where("task_id = ?", taskID).
		Updates(map[string]any{"status": status, "updated_at": now.UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// LockTask bumps the task's LockSeq. Inside a transaction this takes the
// row lock (MySQL) or the write lock (SQLite) and serializes every other
// transaction that locks the same task.
func (s *Store) LockTask(ctx context.Context, taskID string) error {
	result := s.conn(ctx).Model(&entities.TaskState{}).
		Where("task_id = ?", taskID).
		UpdateColumn("lock_seq", gorm.Expr("lock_seq + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}
