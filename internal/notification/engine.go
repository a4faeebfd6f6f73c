package notification

import (
	"context"
	"strings"
	"time"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/datastore/repository"
	"github.com/tphakala/geonudge/internal/events"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/observability"
	"github.com/tphakala/geonudge/internal/tasks"
)

// Deps are the collaborators of an Engine.
type Deps struct {
	Store     *repository.Store
	Gateway   Gateway
	Metrics   *observability.Metrics
	Log       logger.Logger
	Bus       events.Publisher // optional
	Clock     Clock            // defaults to SystemClock
	Completer TaskCompleter    // optional place/task service hook
	TaskTTL   time.Duration    // task cache lifetime, zero for the default
}

// Engine is the entry point of the notification engine. It wires intake,
// the dedup filter, lifecycle store, snooze and mute managers, retry queue,
// dispatcher and background processor.
type Engine struct {
	store      *repository.Store
	directory  *tasks.Directory
	lifecycle  *Lifecycle
	snoozer    *Snoozer
	muter      *Muter
	retries    *RetryQueue
	filter     *Filter
	intake     *Intake
	dispatcher *Dispatcher
	processor  *Processor
	clock      Clock
	log        logger.Logger
}

// NewEngine builds an Engine from cfg and deps.
func NewEngine(cfg Config, deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}
	log := deps.Log.Module("notification")
	m := deps.Metrics

	directory := tasks.NewDirectory(deps.Store, deps.TaskTTL, log)
	retries := NewRetryQueue(deps.Store, cfg.Retry, clock, m.Engine, log)
	lifecycle := NewLifecycle(deps.Store, retries, directory, clock, deps.Bus, m.Engine, log)
	snoozer := NewSnoozer(deps.Store, lifecycle, cfg.Snooze, clock, log)
	muter := NewMuter(deps.Store, lifecycle, clock, log)
	lifecycle.attach(snoozer, muter, cfg.Snooze)
	if deps.Completer != nil {
		lifecycle.SetTaskCompleter(deps.Completer)
	}

	filter := NewFilter(deps.Store, lifecycle, cfg.Dedup, clock, log)
	intake := NewIntake(deps.Store, directory, filter, lifecycle, cfg.Intake, clock, m.Engine, log)
	dispatcher := NewDispatcher(deps.Store, lifecycle, deps.Gateway, cfg.Dispatcher, clock, m.Delivery, log)
	processor := NewProcessor(deps.Store, lifecycle, snoozer, muter, retries, dispatcher,
		cfg.Processor, cfg.Dedup, clock, m.Engine, log)
	intake.OnDue(processor.Kick)

	return &Engine{
		store:      deps.Store,
		directory:  directory,
		lifecycle:  lifecycle,
		snoozer:    snoozer,
		muter:      muter,
		retries:    retries,
		filter:     filter,
		intake:     intake,
		dispatcher: dispatcher,
		processor:  processor,
		clock:      clock,
		log:        log,
	}
}

// ReportGeofenceEvent accepts a geofence report from a client.
func (e *Engine) ReportGeofenceEvent(ctx context.Context, report GeofenceReport) (IntakeResult, error) {
	return e.intake.Report(ctx, report)
}

// PerformNotificationAction applies a user action to a notification.
func (e *Engine) PerformNotificationAction(ctx context.Context, notificationID string, action Action) (ActionResult, error) {
	return e.lifecycle.ApplyAction(ctx, notificationID, action)
}

// GetNotificationHistory lists a user's notifications, newest first.
func (e *Engine) GetNotificationHistory(ctx context.Context, userID string, filter HistoryFilter) ([]NotificationView, error) {
	return e.lifecycle.History(ctx, userID, filter)
}

// GetNotification returns one notification.
func (e *Engine) GetNotification(ctx context.Context, id string) (NotificationView, error) {
	record, err := e.lifecycle.Get(ctx, id)
	if err != nil {
		return NotificationView{}, err
	}
	return NewView(record), nil
}

// RunNow runs the background processor once.
func (e *Engine) RunNow(ctx context.Context) (*RunReport, error) {
	return e.processor.RunNow(ctx)
}

// DispatchNow delivers due notifications once.
func (e *Engine) DispatchNow(ctx context.Context) (*RunReport, error) {
	return e.processor.RunDispatch(ctx)
}

// SyncTask records the task status reported by the place/task service. A
// completed or inactive task has its open notifications cancelled at once.
func (e *Engine) SyncTask(ctx context.Context, task entities.TaskState) (int, error) {
	task.TaskID = strings.TrimSpace(task.TaskID)
	if task.TaskID == "" {
		return 0, validationError("taskId is required")
	}
	if task.Status == "" {
		task.Status = entities.TaskActive
	}
	if !task.Status.Valid() {
		return 0, validationError("invalid task status %q", task.Status)
	}
	task.UpdatedAt = e.clock.Now()

	if err := e.directory.Sync(ctx, &task); err != nil {
		return 0, err
	}

	switch task.Status {
	case entities.TaskCompleted:
		return e.lifecycle.CompleteTask(ctx, task.TaskID)
	case entities.TaskInactive:
		return e.lifecycle.CancelTask(ctx, task.TaskID, ReasonTaskInactive)
	default:
		return 0, nil
	}
}

// CompleteTask marks a task completed and cancels its open notifications.
func (e *Engine) CompleteTask(ctx context.Context, taskID string) (int, error) {
	return e.lifecycle.CompleteTask(ctx, taskID)
}

// Unmute ends the active mute of a task.
func (e *Engine) Unmute(ctx context.Context, taskID string) (bool, error) {
	return e.muter.Unmute(ctx, taskID)
}

// Breaker returns the delivery circuit breaker, nil when disabled.
func (e *Engine) Breaker() *CircuitBreaker {
	return e.dispatcher.Breaker()
}

// Start schedules the background processor.
func (e *Engine) Start(ctx context.Context) error {
	return e.processor.Start(ctx)
}

// Stop stops the background processor and waits for running jobs.
func (e *Engine) Stop() {
	e.processor.Stop()
}
