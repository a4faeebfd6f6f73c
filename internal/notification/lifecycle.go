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
	"github.com/tphakala/geonudge/internal/observability/metrics"
	"github.com/tphakala/geonudge/internal/tasks"
)

// conflictAttempts bounds how often a system transition is retried after
// losing an optimistic-lock race.
const conflictAttempts = 3

// TaskCompleter is the place/task service hook called when a user completes
// a task from a notification.
type TaskCompleter interface {
	CompleteTask(ctx context.Context, taskID string) error
}

// NotificationSpec describes a record to create.
type NotificationSpec struct {
	UserID        string
	TaskID        string
	GeofenceID    string
	EventID       string
	Tier          entities.Tier
	Title         string
	Body          string
	Confidence    float64
	TriggeredAt   time.Time
	ScheduledAt   time.Time
	Metadata      entities.Metadata
	SnoozedFromID *string
	Status        entities.NotificationStatus
}

// Lifecycle owns the notification state machine. Every transition is a
// version-checked update; lifecycle events are published after commit.
type Lifecycle struct {
	store     *repository.Store
	retries   *RetryQueue
	directory *tasks.Directory
	clock     Clock
	bus       events.Publisher
	metrics   *metrics.EngineMetrics
	log       logger.Logger

	snoozer   *Snoozer
	muter     *Muter
	completer TaskCompleter
	capAction CapAction
	location  *time.Location
	morning   int
}

// NewLifecycle creates a Lifecycle. bus may be nil.
func NewLifecycle(store *repository.Store, retries *RetryQueue, directory *tasks.Directory, clock Clock,
	bus events.Publisher, m *metrics.EngineMetrics, log logger.Logger) *Lifecycle {
	return &Lifecycle{
		store:     store,
		retries:   retries,
		directory: directory,
		clock:     clock,
		bus:       bus,
		metrics:   m,
		log:       log.Module("lifecycle"),
		capAction: CapReject,
		location:  time.UTC,
		morning:   9,
	}
}

// attach wires the managers that ApplyAction routes to.
func (l *Lifecycle) attach(snoozer *Snoozer, muter *Muter, cfg SnoozeConfig) {
	l.snoozer = snoozer
	l.muter = muter
	l.capAction = cfg.CapAction
	l.morning = cfg.MorningHour
	if cfg.Location != nil {
		l.location = cfg.Location
	}
}

// SetTaskCompleter sets the place/task service hook.
func (l *Lifecycle) SetTaskCompleter(c TaskCompleter) {
	l.completer = c
}

// pending collects lifecycle events inside a transaction.
type pending []events.LifecycleEvent

func (p *pending) add(t events.EventType, r *entities.NotificationRecord, status entities.NotificationStatus, reason string, at time.Time) {
	*p = append(*p, events.LifecycleEvent{
		Type:           t,
		NotificationID: r.ID,
		TaskID:         r.TaskID,
		UserID:         r.UserID,
		Status:         string(status),
		Reason:         reason,
		At:             at,
	})
}

func (p *pending) addTask(t events.EventType, taskID, userID, reason string, at time.Time) {
	*p = append(*p, events.LifecycleEvent{
		Type:   t,
		TaskID: taskID,
		UserID: userID,
		Reason: reason,
		At:     at,
	})
}

func (l *Lifecycle) publish(evts pending) {
	if l.bus == nil {
		return
	}
	for _, ev := range evts {
		if !l.bus.TryPublish(ev) {
			l.log.Debug("lifecycle event dropped",
				logger.String("type", string(ev.Type)),
				logger.String("notification_id", ev.NotificationID))
		}
	}
}

// withRetry runs fn again when it loses an optimistic-lock race.
func (l *Lifecycle) withRetry(fn func() error) error {
	var err error
	for range conflictAttempts {
		err = fn()
		if !errors.Is(err, ErrConflict) {
			return err
		}
		l.metrics.RecordConflict()
	}
	return err
}

// Create inserts a new record, pending unless spec says otherwise.
func (l *Lifecycle) Create(ctx context.Context, spec NotificationSpec) (*entities.NotificationRecord, error) {
	var evts pending
	var record *entities.NotificationRecord
	err := l.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		record, err = l.create(ctx, tx, spec, &evts)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.publish(evts)
	return record, nil
}

func (l *Lifecycle) create(ctx context.Context, s *repository.Store, spec NotificationSpec, evts *pending) (*entities.NotificationRecord, error) {
	now := l.clock.Now()
	status := spec.Status
	if status == "" {
		status = entities.StatusPending
	}
	scheduled := spec.ScheduledAt
	if scheduled.IsZero() {
		scheduled = now
	}
	triggered := spec.TriggeredAt
	if triggered.IsZero() {
		triggered = now
	}

	record := &entities.NotificationRecord{
		ID:            uuid.NewString(),
		UserID:        spec.UserID,
		TaskID:        spec.TaskID,
		GeofenceID:    spec.GeofenceID,
		EventID:       spec.EventID,
		Tier:          spec.Tier,
		Kind:          spec.Tier.Kind(),
		Title:         spec.Title,
		Body:          spec.Body,
		Confidence:    spec.Confidence,
		TriggeredAt:   triggered.UTC(),
		ScheduledAt:   scheduled.UTC(),
		Status:        status,
		Metadata:      maps.Clone(spec.Metadata),
		SnoozedFromID: spec.SnoozedFromID,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.CreateNotification(ctx, record); err != nil {
		return nil, dbError(err, "create_notification")
	}
	evts.add(events.EventCreated, record, status, "", now)
	l.log.Debug("notification created",
		logger.String("notification_id", record.ID),
		logger.String("task_id", record.TaskID),
		logger.String("tier", string(record.Tier)),
		logger.String("status", string(status)),
		logger.Time("scheduled_at", record.ScheduledAt))
	return record, nil
}

// Get returns a record by id.
func (l *Lifecycle) Get(ctx context.Context, id string) (*entities.NotificationRecord, error) {
	record, err := l.store.GetNotification(ctx, id)
	if err != nil {
		return nil, dbError(err, "get_notification")
	}
	return record, nil
}

// History returns the user's notifications, newest first.
func (l *Lifecycle) History(ctx context.Context, userID string, filter HistoryFilter) ([]NotificationView, error) {
	if userID == "" {
		return nil, validationError("user id is required")
	}
	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	records, err := l.store.History(ctx, userID, repository.HistoryQuery{
		Statuses: filter.Statuses,
		Kind:     filter.Kind,
		TaskID:   filter.TaskID,
		Since:    filter.Since,
		Until:    filter.Until,
		Limit:    limit,
	})
	if err != nil {
		return nil, dbError(err, "history")
	}
	views := make([]NotificationView, len(records))
	for i := range records {
		views[i] = NewView(&records[i])
	}
	return views, nil
}

// MarkDelivered records a successful delivery. Repeated calls keep the first
// DeliveredAt. Cancelled, failed and snoozed records are left unchanged.
func (l *Lifecycle) MarkDelivered(ctx context.Context, id string) error {
	var evts pending
	err := l.withRetry(func() error {
		evts = nil
		return l.store.Transaction(ctx, func(tx *repository.Store) error {
			record, err := tx.GetNotification(ctx, id)
			if err != nil {
				return dbError(err, "mark_delivered")
			}
			if record.Status != entities.StatusPending {
				l.log.Debug("mark delivered skipped",
					logger.String("notification_id", id),
					logger.String("status", string(record.Status)))
				return nil
			}

			now := l.clock.Now()
			ok, err := tx.UpdateNotification(ctx, id, record.Version, map[string]any{
				"status":           entities.StatusDelivered,
				"delivered_at":     now,
				"attempts":         record.Attempts + 1,
				"last_attempt_at":  now,
				"error_message":    nil,
				"claim_token":      nil,
				"claim_expires_at": nil,
				"updated_at":       now,
			})
			if err != nil {
				return dbError(err, "mark_delivered")
			}
			if !ok {
				return withContext(ErrConflict, "notification_id", id)
			}
			if err := l.retries.withStore(tx).Succeed(ctx, id); err != nil {
				return err
			}
			evts.add(events.EventDelivered, record, entities.StatusDelivered, "", now)
			return nil
		})
	})
	if err != nil {
		return err
	}
	l.publish(evts)
	return nil
}

// MarkFailed records a failed delivery attempt. While retries remain the
// record stays pending and a retry is scheduled; otherwise the record fails
// and ErrDeliveryExhausted is returned.
func (l *Lifecycle) MarkFailed(ctx context.Context, id string, cause error) error {
	var evts pending
	exhausted := false
	err := l.withRetry(func() error {
		evts = nil
		exhausted = false
		return l.store.Transaction(ctx, func(tx *repository.Store) error {
			record, err := tx.GetNotification(ctx, id)
			if err != nil {
				return dbError(err, "mark_failed")
			}
			if record.Status != entities.StatusPending {
				return nil
			}

			now := l.clock.Now()
			attempts := record.Attempts + 1
			updates := map[string]any{
				"attempts":         attempts,
				"last_attempt_at":  now,
				"error_message":    causeMessage(cause),
				"claim_token":      nil,
				"claim_expires_at": nil,
				"updated_at":       now,
			}

			queue := l.retries.withStore(tx)
			performed := attempts - 1
			if performed < queue.policy.MaxRetries {
				retry, err := queue.schedule(ctx, tx, id, performed, cause)
				if err != nil {
					return err
				}
				updates["scheduled_at"] = retry.NextRetryAt
			} else {
				updates["status"] = entities.StatusFailed
				exhausted = true
			}

			ok, err := tx.UpdateNotification(ctx, id, record.Version, updates)
			if err != nil {
				return dbError(err, "mark_failed")
			}
			if !ok {
				return withContext(ErrConflict, "notification_id", id)
			}

			if exhausted {
				if err := queue.Exhaust(ctx, id, cause); err != nil {
					return err
				}
				evts.add(events.EventExhausted, record, entities.StatusFailed, causeText(cause), now)
			} else {
				evts.add(events.EventFailed, record, entities.StatusPending, causeText(cause), now)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	l.publish(evts)

	if exhausted {
		l.log.Warn("delivery retries exhausted",
			logger.String("notification_id", id),
			logger.Error(cause))
		return withContext(ErrDeliveryExhausted, "notification_id", id)
	}
	return nil
}

// Cancel cancels an open record. Terminal records are left unchanged.
func (l *Lifecycle) Cancel(ctx context.Context, id, reason string) error {
	var evts pending
	err := l.withRetry(func() error {
		evts = nil
		return l.store.Transaction(ctx, func(tx *repository.Store) error {
			record, err := tx.GetNotification(ctx, id)
			if err != nil {
				return dbError(err, "cancel")
			}
			_, err = l.cancelRecord(ctx, tx, record, reason, &evts)
			return err
		})
	})
	if err != nil {
		return err
	}
	l.publish(evts)
	return nil
}

// cancelRecord cancels record unless it is terminal. It ends the record's
// active snooze and abandons its retry.
func (l *Lifecycle) cancelRecord(ctx context.Context, s *repository.Store, record *entities.NotificationRecord, reason string, evts *pending) (bool, error) {
	if record.Status.Terminal() {
		return false, nil
	}

	now := l.clock.Now()
	meta := maps.Clone(record.Metadata)
	if meta == nil {
		meta = entities.Metadata{}
	}
	meta["cancel_reason"] = reason

	ok, err := s.UpdateNotification(ctx, record.ID, record.Version, map[string]any{
		"status":           entities.StatusCancelled,
		"metadata":         meta,
		"claim_token":      nil,
		"claim_expires_at": nil,
		"updated_at":       now,
	})
	if err != nil {
		return false, dbError(err, "cancel")
	}
	if !ok {
		return false, withContext(ErrConflict, "notification_id", record.ID)
	}
	if _, err := s.CancelActiveSnoozes(ctx, record.ID, now); err != nil {
		return false, dbError(err, "cancel_snoozes")
	}
	if err := l.retries.withStore(s).Abandon(ctx, record.ID, reason); err != nil {
		return false, err
	}

	evts.add(events.EventCancelled, record, entities.StatusCancelled, reason, now)
	l.log.Debug("notification cancelled",
		logger.String("notification_id", record.ID),
		logger.String("reason", reason))
	return true, nil
}

// CancelTask cancels every pending and snoozed record of the task and
// returns how many were cancelled.
func (l *Lifecycle) CancelTask(ctx context.Context, taskID, reason string) (int, error) {
	var evts pending
	cancelled := 0
	err := l.withRetry(func() error {
		evts = nil
		return l.store.Transaction(ctx, func(tx *repository.Store) error {
			if err := tx.LockTask(ctx, taskID); err != nil && !errors.Is(err, repository.ErrTaskNotFound) {
				return dbError(err, "lock_task")
			}
			var err error
			cancelled, err = l.cancelOpen(ctx, tx, taskID, reason, &evts)
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	l.publish(evts)
	if cancelled > 0 {
		l.log.Info("task notifications cancelled",
			logger.String("task_id", taskID),
			logger.String("reason", reason),
			logger.Int("count", cancelled))
	}
	return cancelled, nil
}

func (l *Lifecycle) cancelOpen(ctx context.Context, s *repository.Store, taskID, reason string, evts *pending) (int, error) {
	open, err := s.ListOpenNotificationsForTask(ctx, taskID)
	if err != nil {
		return 0, dbError(err, "list_open")
	}
	cancelled := 0
	for i := range open {
		ok, err := l.cancelRecord(ctx, s, &open[i], reason, evts)
		if err != nil {
			return cancelled, err
		}
		if ok {
			cancelled++
		}
	}
	return cancelled, nil
}

// CompleteTask marks the task completed in the local mirror and cancels its
// open notifications.
func (l *Lifecycle) CompleteTask(ctx context.Context, taskID string) (int, error) {
	now := l.clock.Now()
	if err := l.store.SetTaskStatus(ctx, taskID, entities.TaskCompleted, now); err != nil &&
		!errors.Is(err, repository.ErrTaskNotFound) {
		return 0, dbError(err, "complete_task")
	}
	if l.directory != nil {
		l.directory.Invalidate(taskID)
	}
	return l.CancelTask(ctx, taskID, ReasonTaskCompleted)
}

// ApplyAction applies a user action to a notification.
func (l *Lifecycle) ApplyAction(ctx context.Context, id string, action Action) (ActionResult, error) {
	result, err := l.applyAction(ctx, id, action)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = string(errors.CategoryOf(err))
	case result.Action != action.Name():
		outcome = "capped"
	}
	l.metrics.RecordAction(action.Name(), outcome)
	if err != nil {
		return ActionResult{}, err
	}
	l.log.Info("notification action applied",
		logger.String("notification_id", id),
		logger.String("action", result.Action),
		logger.String("status", string(result.Status)))
	return result, nil
}

func (l *Lifecycle) applyAction(ctx context.Context, id string, action Action) (ActionResult, error) {
	record, err := l.Get(ctx, id)
	if err != nil {
		return ActionResult{}, err
	}

	switch a := action.(type) {
	case CompleteAction:
		return l.complete(ctx, record)

	case SnoozeAction:
		res, err := l.snoozer.Snooze(ctx, id, a.Duration)
		if errors.Is(err, ErrSnoozeCapReached) {
			return l.snoozeCapped(ctx, record, err)
		}
		if err != nil {
			return ActionResult{}, err
		}
		result := ActionResult{
			Action:         action.Name(),
			NotificationID: id,
			Status:         res.Source.Status,
			SnoozeUntil:    &res.SnoozeUntil,
		}
		if res.Target.ID != id {
			result.FollowUpID = &res.Target.ID
		}
		return result, nil

	case MuteAction:
		return l.mute(ctx, record, a.Duration, ReasonUserAction, action.Name())

	default:
		return ActionResult{}, validationError("unsupported action %T", action)
	}
}

func (l *Lifecycle) complete(ctx context.Context, record *entities.NotificationRecord) (ActionResult, error) {
	if l.completer != nil {
		if err := l.completer.CompleteTask(ctx, record.TaskID); err != nil {
			return ActionResult{}, errors.New(err).
				Component(component).
				Category(errors.CategoryNetwork).
				Context("task_id", record.TaskID).
				Build()
		}
	}
	if _, err := l.CompleteTask(ctx, record.TaskID); err != nil {
		return ActionResult{}, err
	}
	return l.result(ctx, record.ID, CompleteAction{}.Name(), func(r *ActionResult) {
		r.TaskCompleted = true
	})
}

func (l *Lifecycle) mute(ctx context.Context, record *entities.NotificationRecord, d *time.Duration, reason, name string) (ActionResult, error) {
	mute, err := l.muter.Mute(ctx, record.TaskID, d, reason)
	if err != nil {
		return ActionResult{}, err
	}
	return l.result(ctx, record.ID, name, func(r *ActionResult) {
		r.Muted = true
		r.MuteUntil = mute.MuteUntil
	})
}

// snoozeCapped applies the configured cap action.
func (l *Lifecycle) snoozeCapped(ctx context.Context, record *entities.NotificationRecord, capErr error) (ActionResult, error) {
	l.metrics.RecordSnoozeCap(string(l.capAction))
	switch l.capAction {
	case CapComplete:
		return l.complete(ctx, record)
	case CapMute:
		until := nextMorning(l.clock.Now(), l.location, l.morning)
		d := until.Sub(l.clock.Now())
		return l.mute(ctx, record, &d, "snooze_limit", MuteAction{}.Name())
	default:
		return ActionResult{}, capErr
	}
}

func (l *Lifecycle) result(ctx context.Context, id, name string, fill func(*ActionResult)) (ActionResult, error) {
	current, err := l.Get(ctx, id)
	if err != nil {
		return ActionResult{}, err
	}
	r := ActionResult{Action: name, NotificationID: id, Status: current.Status}
	fill(&r)
	return r, nil
}

func causeText(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}
