package notification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/datastore/repository"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/events"
	"github.com/tphakala/geonudge/internal/logger"
)

// Muter silences tasks.
type Muter struct {
	store     *repository.Store
	lifecycle *Lifecycle
	clock     Clock
	log       logger.Logger
}

// NewMuter creates a Muter.
func NewMuter(store *repository.Store, lifecycle *Lifecycle, clock Clock, log logger.Logger) *Muter {
	return &Muter{
		store:     store,
		lifecycle: lifecycle,
		clock:     clock,
		log:       log.Module("mute"),
	}
}

// Mute silences a task for d, or until unmuted when d is nil. It replaces any
// active mute and cancels the task's open notifications.
func (m *Muter) Mute(ctx context.Context, taskID string, d *time.Duration, reason string) (*entities.MuteRecord, error) {
	if d != nil && *d <= 0 {
		return nil, validationError("mute duration must be positive")
	}

	var evts pending
	var mute *entities.MuteRecord
	cancelled := 0
	err := m.lifecycle.withRetry(func() error {
		evts = nil
		return m.store.Transaction(ctx, func(tx *repository.Store) error {
			if err := tx.LockTask(ctx, taskID); err != nil {
				return taskError(err, taskID)
			}
			task, err := tx.GetTask(ctx, taskID)
			if err != nil {
				return taskError(err, taskID)
			}

			now := m.clock.Now()
			if _, err := tx.EndActiveMutes(ctx, taskID, entities.RecordCancelled, now); err != nil {
				return dbError(err, "end_mutes")
			}

			mute = &entities.MuteRecord{
				ID:        uuid.NewString(),
				UserID:    task.UserID,
				TaskID:    taskID,
				Status:    entities.RecordActive,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if d != nil {
				seconds := int64(d.Seconds())
				until := now.Add(*d)
				mute.DurationSeconds = &seconds
				mute.MuteUntil = &until
			}
			if reason != "" {
				mute.Reason = &reason
			}
			if err := tx.CreateMute(ctx, mute); err != nil {
				return dbError(err, "create_mute")
			}

			cancelled, err = m.lifecycle.cancelOpen(ctx, tx, taskID, ReasonTaskMuted, &evts)
			if err != nil {
				return err
			}
			evts.addTask(events.EventMuted, taskID, task.UserID, reason, now)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	m.lifecycle.publish(evts)

	fields := []logger.Field{
		logger.String("task_id", taskID),
		logger.Int("cancelled", cancelled),
	}
	if mute.MuteUntil != nil {
		fields = append(fields, logger.Time("mute_until", *mute.MuteUntil))
	}
	m.log.Info("task muted", fields...)
	return mute, nil
}

// Unmute ends the task's active mute. It reports whether a mute was active.
func (m *Muter) Unmute(ctx context.Context, taskID string) (bool, error) {
	now := m.clock.Now()
	n, err := m.store.EndActiveMutes(ctx, taskID, entities.RecordCancelled, now)
	if err != nil {
		return false, dbError(err, "unmute")
	}
	if n == 0 {
		return false, nil
	}

	var evts pending
	userID := ""
	if task, err := m.store.GetTask(ctx, taskID); err == nil {
		userID = task.UserID
	}
	evts.addTask(events.EventUnmuted, taskID, userID, "unmuted", now)
	m.lifecycle.publish(evts)
	m.log.Info("task unmuted", logger.String("task_id", taskID))
	return true, nil
}

// IsMuted reports whether the task has an active mute at now.
func (m *Muter) IsMuted(ctx context.Context, taskID string, now time.Time) (bool, error) {
	muted, err := m.store.IsMuted(ctx, taskID, now)
	if err != nil {
		return false, dbError(err, "is_muted")
	}
	return muted, nil
}

// ExpireDue ends timed mutes that ran out by now.
func (m *Muter) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := m.store.ListDueMutes(ctx, now, limit)
	if err != nil {
		return 0, dbError(err, "list_due_mutes")
	}

	var evts pending
	var errs []error
	expired := 0
	for i := range due {
		ok, err := m.store.TransitionMute(ctx, due[i].ID, entities.RecordActive, entities.RecordExpired, m.clock.Now())
		if err != nil {
			errs = append(errs, dbError(err, "expire_mute"))
			continue
		}
		if ok {
			expired++
			evts.addTask(events.EventUnmuted, due[i].TaskID, due[i].UserID, "mute_expired", now)
		}
	}
	m.lifecycle.publish(evts)
	return expired, errors.Join(errs...)
}

func taskError(err error, taskID string) error {
	if errors.Is(err, repository.ErrTaskNotFound) {
		return errors.New(err).
			Component(component).
			Category(errors.CategoryNotFound).
			Context("task_id", taskID).
			Build()
	}
	return dbError(err, "task")
}
