package notification

import (
	"context"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/datastore/repository"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/events"
	"github.com/tphakala/geonudge/internal/logger"
)

// Decision is the filter verdict for one event.
type Decision struct {
	Disposition Disposition
	Reason      string
	// NotificationID is the created record for accepted events and the
	// competing record for bundled and suppressed ones.
	NotificationID string
	Record         *entities.NotificationRecord
	Superseded     []string
}

// Filter applies the cooldown and tier bundling rules and creates the
// notification for events that warrant one.
type Filter struct {
	store     *repository.Store
	lifecycle *Lifecycle
	cfg       DedupConfig
	clock     Clock
	log       logger.Logger
}

// NewFilter creates a Filter.
func NewFilter(store *repository.Store, lifecycle *Lifecycle, cfg DedupConfig, clock Clock, log logger.Logger) *Filter {
	return &Filter{
		store:     store,
		lifecycle: lifecycle,
		cfg:       cfg,
		clock:     clock,
		log:       log.Module("dedup"),
	}
}

// Evaluate decides a persisted event and resolves it. Decisions for the same
// task are serialized by the task lock.
func (f *Filter) Evaluate(ctx context.Context, event *entities.GeofenceEvent) (Decision, error) {
	var evts pending
	var decision Decision
	err := f.lifecycle.withRetry(func() error {
		evts = nil
		return f.store.Transaction(ctx, func(tx *repository.Store) error {
			var err error
			decision, err = f.evaluate(ctx, tx, event, &evts)
			return err
		})
	})
	if err != nil {
		return Decision{}, err
	}
	f.lifecycle.publish(evts)

	f.log.Debug("event evaluated",
		logger.String("event_id", event.ID),
		logger.String("task_id", event.TaskID),
		logger.String("tier", string(event.Tier)),
		logger.String("disposition", string(decision.Disposition)),
		logger.String("reason", decision.Reason),
		logger.String("notification_id", decision.NotificationID))
	return decision, nil
}

func (f *Filter) evaluate(ctx context.Context, tx *repository.Store, event *entities.GeofenceEvent, evts *pending) (Decision, error) {
	if err := tx.LockTask(ctx, event.TaskID); err != nil {
		return Decision{}, taskError(err, event.TaskID)
	}
	task, err := tx.GetTask(ctx, event.TaskID)
	if err != nil {
		return Decision{}, taskError(err, event.TaskID)
	}

	now := f.clock.Now()

	// The caller checked eligibility against cached state; the locked row is
	// authoritative.
	muted, err := tx.IsMuted(ctx, event.TaskID, now)
	if err != nil {
		return Decision{}, dbError(err, "is_muted")
	}
	if task.Status != entities.TaskActive || muted {
		return f.resolve(ctx, tx, event, Decision{
			Disposition: DispositionDiscarded,
			Reason:      ReasonTaskNotEligible,
		}, evts)
	}

	key := entities.DedupKey(event.TaskID, event.GeofenceID, event.EventType)
	cooldown := f.cfg.Cooldown(event.Tier)

	claim, err := tx.GetDedupClaim(ctx, key)
	switch {
	case err == nil:
		if claim.NotificationRecordID != "" && claim.ClaimedAt.After(now.Add(-cooldown)) {
			return f.resolve(ctx, tx, event, Decision{
				Disposition:    DispositionBundled,
				Reason:         ReasonCooldown,
				NotificationID: claim.NotificationRecordID,
			}, evts)
		}
	case !errors.Is(err, repository.ErrDedupClaimNotFound):
		return Decision{}, dbError(err, "get_dedup_claim")
	}

	candidates, err := tx.ListBundleCandidates(ctx, event.TaskID, now.Add(-f.cfg.BundleWindow))
	if err != nil {
		return Decision{}, dbError(err, "bundle_candidates")
	}
	losers, suppressed := f.bundle(event, candidates)
	if suppressed != nil {
		return f.resolve(ctx, tx, event, *suppressed, evts)
	}

	claimed, holder, err := tx.ClaimDedupKey(ctx, key, now, cooldown)
	if err != nil {
		return Decision{}, dbError(err, "claim_dedup_key")
	}
	if !claimed {
		return f.resolve(ctx, tx, event, Decision{
			Disposition:    DispositionBundled,
			Reason:         ReasonCooldown,
			NotificationID: holder,
		}, evts)
	}

	decision := Decision{Disposition: DispositionAccepted}
	for i := range losers {
		if _, err := f.lifecycle.cancelRecord(ctx, tx, losers[i], ReasonSuperseded, evts); err != nil {
			return Decision{}, err
		}
		decision.Superseded = append(decision.Superseded, losers[i].ID)
	}

	title, body := composeContent(task, event.Tier)
	record, err := f.lifecycle.create(ctx, tx, NotificationSpec{
		UserID:      event.UserID,
		TaskID:      event.TaskID,
		GeofenceID:  event.GeofenceID,
		EventID:     event.ID,
		Tier:        event.Tier,
		Title:       title,
		Body:        body,
		Confidence:  event.Confidence,
		TriggeredAt: event.OccurredAt,
		ScheduledAt: now.Add(f.cfg.ApproachDelay[event.Tier]),
		Metadata:    eventMetadata(event, task),
	}, evts)
	if err != nil {
		return Decision{}, err
	}
	if err := tx.BindDedupClaim(ctx, key, record.ID); err != nil {
		return Decision{}, dbError(err, "bind_dedup_claim")
	}

	decision.NotificationID = record.ID
	decision.Record = record
	return f.resolve(ctx, tx, event, decision, evts)
}

// bundle compares the event with records created inside the bundle window.
// It returns the pending records the event supersedes, or the suppression
// decision when an existing record wins.
func (f *Filter) bundle(event *entities.GeofenceEvent, candidates []entities.NotificationRecord) ([]*entities.NotificationRecord, *Decision) {
	rank := event.Tier.Rank()
	var losers []*entities.NotificationRecord

	for i := range candidates {
		c := &candidates[i]
		suppress := func(reason string) *Decision {
			return &Decision{
				Disposition:    DispositionSuppressed,
				Reason:         reason,
				NotificationID: c.ID,
			}
		}

		switch cr := c.Tier.Rank(); {
		case cr > rank:
			return nil, suppress(ReasonTighterTier)

		case cr == rank:
			if c.Status == entities.StatusDelivered {
				return nil, suppress(ReasonTighterTier)
			}
			if !outranks(event, c) {
				return nil, suppress(ReasonOutranked)
			}
			losers = append(losers, c)

		default:
			if c.Status == entities.StatusPending {
				losers = append(losers, c)
			}
		}
	}
	return losers, nil
}

// outranks reports whether the event beats a pending record of the same
// tier: higher confidence wins and a tie goes to the earlier trigger.
func outranks(event *entities.GeofenceEvent, c *entities.NotificationRecord) bool {
	if event.Confidence != c.Confidence {
		return event.Confidence > c.Confidence
	}
	return event.OccurredAt.Before(c.TriggeredAt)
}

// resolve writes the event resolution and queues the matching lifecycle event.
func (f *Filter) resolve(ctx context.Context, tx *repository.Store, event *entities.GeofenceEvent, d Decision, evts *pending) (Decision, error) {
	var notificationID, bundledWith *string
	switch d.Disposition {
	case DispositionAccepted:
		notificationID = &d.NotificationID
	case DispositionBundled, DispositionSuppressed:
		if d.NotificationID != "" {
			bundledWith = &d.NotificationID
		}
	}

	if err := tx.ResolveEvent(ctx, event.ID, entities.Resolution(d.Disposition), notificationID, bundledWith); err != nil {
		return Decision{}, dbError(err, "resolve_event")
	}

	now := f.clock.Now()
	switch d.Disposition {
	case DispositionBundled:
		*evts = append(*evts, events.LifecycleEvent{
			Type: events.EventBundled, NotificationID: d.NotificationID,
			TaskID: event.TaskID, UserID: event.UserID, Reason: d.Reason, At: now,
		})
	case DispositionSuppressed:
		*evts = append(*evts, events.LifecycleEvent{
			Type: events.EventSuppressed, NotificationID: d.NotificationID,
			TaskID: event.TaskID, UserID: event.UserID, Reason: d.Reason, At: now,
		})
	case DispositionDiscarded:
		evts.addTask(events.EventDiscarded, event.TaskID, event.UserID, d.Reason, now)
	}
	return d, nil
}
