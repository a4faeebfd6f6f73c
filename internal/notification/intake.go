package notification

import (
	"context"
	"math"
	"strings"
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

// eventAliases maps legacy event names to an event type and tier.
var eventAliases = map[string]struct {
	eventType entities.EventType
	tier      entities.Tier
}{
	"arrival":       {entities.EventEnter, entities.TierArrival},
	"approach":      {entities.EventEnter, entities.TierApproachNear},
	"approach_wide": {entities.EventEnter, entities.TierApproachWide},
	"approach_near": {entities.EventEnter, entities.TierApproachNear},
	"post_arrival":  {entities.EventDwell, entities.TierPostArrival},
}

var defaultTiers = map[entities.EventType]entities.Tier{
	entities.EventEnter: entities.TierArrival,
	entities.EventDwell: entities.TierPostArrival,
	entities.EventExit:  entities.TierArrival,
}

// Intake accepts geofence reports.
type Intake struct {
	store     *repository.Store
	directory *tasks.Directory
	filter    *Filter
	lifecycle *Lifecycle
	limiter   *BucketLimiter
	cfg       IntakeConfig
	clock     Clock
	metrics   *metrics.EngineMetrics
	log       logger.Logger
	onDue     func()
}

// NewIntake creates an Intake. The rate limiter is built from cfg.
func NewIntake(store *repository.Store, directory *tasks.Directory, filter *Filter, lifecycle *Lifecycle,
	cfg IntakeConfig, clock Clock, m *metrics.EngineMetrics, log logger.Logger) *Intake {
	in := &Intake{
		store:     store,
		directory: directory,
		filter:    filter,
		lifecycle: lifecycle,
		cfg:       cfg,
		clock:     clock,
		metrics:   m,
		log:       log.Module("intake"),
	}
	if cfg.RateLimit.Enabled {
		in.limiter = NewBucketLimiter(cfg.RateLimit.Events, cfg.RateLimit.Window, cfg.RateLimit.Buckets, cfg.RateLimit.MaxKeys)
	}
	return in
}

// OnDue registers a callback run when an accepted notification is due at once.
func (in *Intake) OnDue(fn func()) {
	in.onDue = fn
}

// Report validates a geofence report, persists it and decides whether it
// warrants a notification.
func (in *Intake) Report(ctx context.Context, report GeofenceReport) (IntakeResult, error) {
	start := time.Now()
	now := in.clock.Now()

	event, err := in.normalize(report, now)
	if err != nil {
		in.metrics.RecordIntake("rejected", "validation", time.Since(start))
		return IntakeResult{}, err
	}

	if in.limiter != nil && !in.limiter.Allow(event.UserID, now) {
		in.metrics.RecordIntake("rejected", "rate_limited", time.Since(start))
		return IntakeResult{}, withContext(ErrRateLimited, "user_id", event.UserID)
	}

	task, err := in.task(ctx, event)
	if err != nil {
		in.metrics.RecordIntake("rejected", string(errors.CategoryOf(err)), time.Since(start))
		return IntakeResult{}, err
	}

	in.score(event, report)
	in.metrics.ObserveConfidence(event.Confidence)

	if err := in.store.CreateEvent(ctx, event); err != nil {
		return IntakeResult{}, dbError(err, "create_event")
	}

	result := IntakeResult{EventID: event.ID, Confidence: event.Confidence}

	reason, err := in.ineligible(ctx, event, task, now)
	if err != nil {
		return result, err
	}
	if reason != "" {
		if err := in.discard(ctx, event, reason); err != nil {
			return result, err
		}
		result.Disposition = DispositionDiscarded
		result.Reason = reason
		in.finish(result, start)
		return result, nil
	}

	decision, err := in.filter.Evaluate(ctx, event)
	if err != nil {
		return result, err
	}
	result.Disposition = decision.Disposition
	result.Reason = decision.Reason
	result.NotificationID = decision.NotificationID
	if decision.Record != nil {
		result.Status = decision.Record.Status
		if !decision.Record.ScheduledAt.After(now) && in.onDue != nil {
			in.onDue()
		}
	} else if decision.NotificationID != "" {
		if current, err := in.store.GetNotification(ctx, decision.NotificationID); err == nil {
			result.Status = current.Status
		}
	}

	in.finish(result, start)
	return result, nil
}

func (in *Intake) finish(result IntakeResult, start time.Time) {
	in.metrics.RecordIntake(string(result.Disposition), result.Reason, time.Since(start))
	in.log.Debug("geofence report handled",
		logger.String("event_id", result.EventID),
		logger.String("disposition", string(result.Disposition)),
		logger.String("reason", result.Reason),
		logger.Float64("confidence", result.Confidence))
}

// normalize validates the report and builds the unpersisted event.
func (in *Intake) normalize(r GeofenceReport, now time.Time) (*entities.GeofenceEvent, error) {
	userID := strings.TrimSpace(r.UserID)
	taskID := strings.TrimSpace(r.TaskID)
	geofenceID := strings.TrimSpace(r.GeofenceID)
	switch {
	case userID == "":
		return nil, validationError("userId is required")
	case taskID == "":
		return nil, validationError("taskId is required")
	case geofenceID == "":
		return nil, validationError("geofenceId is required")
	}

	name := strings.ToLower(strings.TrimSpace(r.EventType))
	var eventType entities.EventType
	var tier entities.Tier
	if alias, ok := eventAliases[name]; ok {
		eventType, tier = alias.eventType, alias.tier
	} else {
		eventType = entities.EventType(name)
		t, ok := defaultTiers[eventType]
		if !ok {
			return nil, validationError("invalid eventType %q", r.EventType)
		}
		tier = t
	}
	if r.Tier != "" {
		tier = entities.Tier(strings.ToLower(strings.TrimSpace(r.Tier)))
		if !tier.Valid() {
			return nil, validationError("invalid tier %q", r.Tier)
		}
	}

	if !validCoordinate(r.Latitude, r.Longitude) {
		return nil, validationError("coordinates out of range: %v,%v", r.Latitude, r.Longitude)
	}
	if r.AccuracyMeters != nil && (math.IsNaN(*r.AccuracyMeters) || *r.AccuracyMeters < 0) {
		return nil, validationError("accuracyMeters must not be negative")
	}
	if r.Confidence != nil && (math.IsNaN(*r.Confidence) || *r.Confidence < 0 || *r.Confidence > 1) {
		return nil, validationError("confidence must be within [0,1]")
	}
	if g := r.Geofence; g != nil {
		if !validCoordinate(g.Latitude, g.Longitude) {
			return nil, validationError("geofence center out of range")
		}
		if math.IsNaN(g.RadiusMeters) || g.RadiusMeters <= 0 {
			return nil, validationError("geofence radiusMeters must be positive")
		}
	}
	if r.Confidence == nil && r.Geofence == nil {
		return nil, validationError("either confidence or geofence is required")
	}

	occurred := r.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}

	return &entities.GeofenceEvent{
		ID:             uuid.NewString(),
		UserID:         userID,
		TaskID:         taskID,
		GeofenceID:     geofenceID,
		EventType:      eventType,
		Tier:           tier,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		AccuracyMeters: r.AccuracyMeters,
		OccurredAt:     occurred.UTC(),
		CreatedAt:      now,
	}, nil
}

func validCoordinate(lat, lon float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lon) &&
		lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// task resolves the task of the event, registering it when unknown tasks
// are accepted.
func (in *Intake) task(ctx context.Context, event *entities.GeofenceEvent) (*entities.TaskState, error) {
	task, err := in.directory.Get(ctx, event.TaskID)
	if errors.Is(err, repository.ErrTaskNotFound) {
		if in.cfg.UnknownTask != UnknownTaskAccept {
			return nil, validationError("unknown task %q", event.TaskID)
		}
		task = &entities.TaskState{
			TaskID:    event.TaskID,
			UserID:    event.UserID,
			Status:    entities.TaskActive,
			UpdatedAt: in.clock.Now(),
		}
		if err := in.directory.Sync(ctx, task); err != nil {
			return nil, err
		}
		in.log.Info("unknown task registered",
			logger.String("task_id", event.TaskID),
			logger.String("user_id", event.UserID))
		return task, nil
	}
	if err != nil {
		return nil, err
	}
	if task.UserID != "" && task.UserID != event.UserID {
		return nil, validationError("task %q does not belong to user", event.TaskID)
	}
	return task, nil
}

// score sets the event confidence, computed from geometry when available.
func (in *Intake) score(event *entities.GeofenceEvent, r GeofenceReport) {
	if r.Geofence != nil {
		event.Confidence = in.cfg.Curve.Confidence(event.EventType, event.Latitude, event.Longitude, event.AccuracyMeters, *r.Geofence)
		event.ConfidenceSource = entities.ConfidenceComputed
		return
	}
	event.Confidence = *r.Confidence
	event.ConfidenceSource = entities.ConfidenceClient
}

// ineligible returns the discard reason, or "" when the event goes on to the filter.
func (in *Intake) ineligible(ctx context.Context, event *entities.GeofenceEvent, task *entities.TaskState, now time.Time) (string, error) {
	if task.Status != entities.TaskActive {
		return ReasonTaskNotEligible, nil
	}
	muted, err := in.store.IsMuted(ctx, event.TaskID, now)
	if err != nil {
		return "", dbError(err, "is_muted")
	}
	if muted {
		return ReasonTaskNotEligible, nil
	}
	if event.Confidence < in.cfg.ConfidenceFloor {
		return ReasonLowConfidence, nil
	}
	return "", nil
}

func (in *Intake) discard(ctx context.Context, event *entities.GeofenceEvent, reason string) error {
	if err := in.store.ResolveEvent(ctx, event.ID, entities.ResolutionDiscarded, nil, nil); err != nil {
		return dbError(err, "resolve_event")
	}
	var evts pending
	evts.addTask(events.EventDiscarded, event.TaskID, event.UserID, reason, in.clock.Now())
	in.lifecycle.publish(evts)
	return nil
}
