package notification

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/datastore/repository"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/events"
	"github.com/tphakala/geonudge/internal/logger"
)

// SnoozeResult describes a successful snooze.
type SnoozeResult struct {
	// Source is the record the user acted on, after the snooze.
	Source *entities.NotificationRecord
	// Target is the record that was snoozed. It differs from Source when a
	// delivered record was snoozed through a follow-up.
	Target      *entities.NotificationRecord
	Snooze      *entities.SnoozeRecord
	SnoozeUntil time.Time
}

// Snoozer postpones notifications and re-activates them when the snooze runs out.
type Snoozer struct {
	store     *repository.Store
	lifecycle *Lifecycle
	cfg       SnoozeConfig
	clock     Clock
	log       logger.Logger
}

// NewSnoozer creates a Snoozer.
func NewSnoozer(store *repository.Store, lifecycle *Lifecycle, cfg SnoozeConfig, clock Clock, log logger.Logger) *Snoozer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Snoozer{
		store:     store,
		lifecycle: lifecycle,
		cfg:       cfg,
		clock:     clock,
		log:       log.Module("snooze"),
	}
}

// Snooze postpones a notification. Pending and snoozed records are snoozed
// in place; a delivered record gets a snoozed follow-up carrying the same
// content. Cancelled and failed records cannot be snoozed.
func (s *Snoozer) Snooze(ctx context.Context, notificationID string, d entities.SnoozeDuration) (*SnoozeResult, error) {
	if !d.Valid() {
		return nil, validationError("invalid snooze duration %q", d)
	}

	var evts pending
	var result *SnoozeResult
	err := s.lifecycle.withRetry(func() error {
		evts = nil
		return s.store.Transaction(ctx, func(tx *repository.Store) error {
			var err error
			result, err = s.snooze(ctx, tx, notificationID, d, &evts)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.lifecycle.publish(evts)

	s.log.Info("notification snoozed",
		logger.String("notification_id", result.Target.ID),
		logger.String("source_id", result.Source.ID),
		logger.String("duration", string(d)),
		logger.Int("snooze_count", result.Snooze.SnoozeCount),
		logger.Time("snooze_until", result.SnoozeUntil))
	return result, nil
}

func (s *Snoozer) snooze(ctx context.Context, tx *repository.Store, id string, d entities.SnoozeDuration, evts *pending) (*SnoozeResult, error) {
	source, err := tx.GetNotification(ctx, id)
	if err != nil {
		return nil, dbError(err, "snooze")
	}

	var target *entities.NotificationRecord
	switch source.Status {
	case entities.StatusPending, entities.StatusSnoozed:
		target = source
	case entities.StatusDelivered:
		followUp, err := tx.FindOpenFollowUp(ctx, source.ID)
		switch {
		case err == nil:
			target = followUp
		case !errors.Is(err, repository.ErrNotificationNotFound):
			return nil, dbError(err, "find_follow_up")
		}
	default:
		return nil, withContext(ErrInvalidState,
			"notification_id", id,
			"status", string(source.Status),
			"action", "snooze")
	}

	chainHead := source.ID
	if target != nil {
		chainHead = target.ID
	}
	chain, err := tx.SnoozeChain(ctx, chainHead)
	if err != nil {
		return nil, dbError(err, "snooze_chain")
	}
	previous, err := tx.MaxSnoozeCount(ctx, chain)
	if err != nil {
		return nil, dbError(err, "snooze_count")
	}
	if s.cfg.MaxCount > 0 && previous >= s.cfg.MaxCount {
		return nil, withContext(ErrSnoozeCapReached,
			"notification_id", id,
			"snooze_count", previous,
			"max_count", s.cfg.MaxCount)
	}

	now := s.clock.Now()
	until := s.until(now, d)

	if target == nil {
		target, err = s.lifecycle.create(ctx, tx, NotificationSpec{
			UserID:        source.UserID,
			TaskID:        source.TaskID,
			GeofenceID:    source.GeofenceID,
			EventID:       source.EventID,
			Tier:          source.Tier,
			Title:         source.Title,
			Body:          source.Body,
			Confidence:    source.Confidence,
			TriggeredAt:   source.TriggeredAt,
			ScheduledAt:   until,
			Metadata:      maps.Clone(source.Metadata),
			SnoozedFromID: &source.ID,
			Status:        entities.StatusSnoozed,
		}, evts)
		if err != nil {
			return nil, err
		}
	} else {
		if _, err := tx.CancelActiveSnoozes(ctx, target.ID, now); err != nil {
			return nil, dbError(err, "cancel_snoozes")
		}
		ok, err := tx.UpdateNotification(ctx, target.ID, target.Version, map[string]any{
			"status":           entities.StatusSnoozed,
			"claim_token":      nil,
			"claim_expires_at": nil,
			"updated_at":       now,
		})
		if err != nil {
			return nil, dbError(err, "snooze")
		}
		if !ok {
			return nil, withContext(ErrConflict, "notification_id", target.ID)
		}
		if err := s.lifecycle.retries.withStore(tx).Abandon(ctx, target.ID, "snoozed"); err != nil {
			return nil, err
		}
		target.Status = entities.StatusSnoozed
		target.Version++
	}

	snooze := &entities.SnoozeRecord{
		ID:                   uuid.NewString(),
		UserID:               target.UserID,
		TaskID:               target.TaskID,
		NotificationRecordID: target.ID,
		Duration:             d,
		SnoozeUntil:          until,
		OriginalScheduledAt:  target.ScheduledAt,
		SnoozeCount:          previous + 1,
		Status:               entities.RecordActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := tx.CreateSnooze(ctx, snooze); err != nil {
		return nil, dbError(err, "create_snooze")
	}
	evts.add(events.EventSnoozed, target, entities.StatusSnoozed, string(d), now)

	if source.ID == target.ID {
		source = target
	}
	return &SnoozeResult{Source: source, Target: target, Snooze: snooze, SnoozeUntil: until}, nil
}

// until returns when a snooze of d taken at now runs out.
func (s *Snoozer) until(now time.Time, d entities.SnoozeDuration) time.Time {
	switch d {
	case entities.Snooze15Minutes:
		return now.Add(15 * time.Minute)
	case entities.Snooze1Hour:
		return now.Add(time.Hour)
	default:
		return nextMorning(now, s.cfg.Location, s.cfg.MorningHour)
	}
}

// nextMorning returns hour:00 of the day after now in loc, in UTC.
func nextMorning(now time.Time, loc *time.Location, hour int) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, loc).UTC()
}

// ExpireDue ends snoozes that ran out by now and returns their records to
// pending, scheduled at the snooze end. It returns how many records were
// re-activated.
func (s *Snoozer) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.store.ListDueSnoozes(ctx, now, limit)
	if err != nil {
		return 0, dbError(err, "list_due_snoozes")
	}

	var errs []error
	reactivated := 0
	for i := range due {
		ok, err := s.expire(ctx, &due[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			reactivated++
		}
	}
	return reactivated, errors.Join(errs...)
}

func (s *Snoozer) expire(ctx context.Context, snooze *entities.SnoozeRecord) (bool, error) {
	var evts pending
	reactivated := false
	err := s.lifecycle.withRetry(func() error {
		evts = nil
		reactivated = false
		return s.store.Transaction(ctx, func(tx *repository.Store) error {
			now := s.clock.Now()
			ok, err := tx.TransitionSnooze(ctx, snooze.ID, entities.RecordActive, entities.RecordExpired, now)
			if err != nil {
				return dbError(err, "expire_snooze")
			}
			if !ok {
				return nil
			}

			record, err := tx.GetNotification(ctx, snooze.NotificationRecordID)
			if errors.Is(err, repository.ErrNotificationNotFound) {
				return nil
			}
			if err != nil {
				return dbError(err, "expire_snooze")
			}
			if record.Status != entities.StatusSnoozed {
				return nil
			}

			updated, err := tx.UpdateNotification(ctx, record.ID, record.Version, map[string]any{
				"status":       entities.StatusPending,
				"scheduled_at": snooze.SnoozeUntil,
				"updated_at":   now,
			})
			if err != nil {
				return dbError(err, "reactivate")
			}
			if !updated {
				return withContext(ErrConflict, "notification_id", record.ID)
			}
			reactivated = true
			evts.add(events.EventReactivated, record, entities.StatusPending, "snooze_expired", now)
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	s.lifecycle.publish(evts)
	if reactivated {
		s.log.Debug("snooze expired",
			logger.String("notification_id", snooze.NotificationRecordID),
			logger.Time("snooze_until", snooze.SnoozeUntil))
	}
	return reactivated, nil
}
