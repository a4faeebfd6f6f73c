package notification

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/datastore/repository"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/observability/metrics"
)

// RetryPolicy holds the delivery backoff parameters.
type RetryPolicy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	MaxRetries int
	Jitter     bool
}

// DefaultRetryPolicy returns base 1m, multiplier 2, max 1h and 3 retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:  time.Minute,
		Multiplier: 2,
		MaxDelay:   time.Hour,
		MaxRetries: 3,
	}
}

// Delay returns the wait before retry number retryCount (0 based).
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retryCount))

	// up to 20% extra, never below the nominal delay
	if p.Jitter {
		backoff *= 1 + 0.2*rand.Float64()
	}

	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	return time.Duration(backoff)
}

// Retry outcomes recorded in metrics.
const (
	retryScheduled = "scheduled"
	retrySucceeded = "succeeded"
	retryExhausted = "exhausted"
	retryAbandoned = "abandoned"
	retryReleased  = "released"
)

// RetryQueue persists delivery retries.
type RetryQueue struct {
	store   *repository.Store
	policy  RetryPolicy
	clock   Clock
	metrics *metrics.EngineMetrics
	log     logger.Logger
}

// NewRetryQueue creates a RetryQueue.
func NewRetryQueue(store *repository.Store, policy RetryPolicy, clock Clock, m *metrics.EngineMetrics, log logger.Logger) *RetryQueue {
	return &RetryQueue{
		store:   store,
		policy:  policy,
		clock:   clock,
		metrics: m,
		log:     log.Module("retry"),
	}
}

// Policy returns the backoff policy.
func (q *RetryQueue) Policy() RetryPolicy {
	return q.policy
}

// Enqueue schedules the next retry of a notification. A notification with an
// unfinished retry record moves to the next retry number; otherwise the
// first retry is scheduled.
func (q *RetryQueue) Enqueue(ctx context.Context, notificationID string, cause error) (*entities.RetryRecord, error) {
	count := 0
	existing, err := q.store.GetRetry(ctx, notificationID)
	switch {
	case err == nil:
		if existing.Status == entities.RetryPending || existing.Status == entities.RetryRetrying {
			count = min(existing.RetryCount+1, q.policy.MaxRetries)
		}
	case !errors.Is(err, repository.ErrRetryNotFound):
		return nil, dbError(err, "get_retry")
	}
	return q.schedule(ctx, q.store, notificationID, count, cause)
}

// schedule creates or resets the retry record to pending with retryCount.
func (q *RetryQueue) schedule(ctx context.Context, s *repository.Store, notificationID string, retryCount int, cause error) (*entities.RetryRecord, error) {
	now := q.clock.Now()
	next := now.Add(q.policy.Delay(retryCount))
	msg := causeMessage(cause)

	existing, err := s.GetRetry(ctx, notificationID)
	if err != nil && !errors.Is(err, repository.ErrRetryNotFound) {
		return nil, dbError(err, "get_retry")
	}

	if existing == nil {
		retry := &entities.RetryRecord{
			ID:                   uuid.NewString(),
			NotificationRecordID: notificationID,
			RetryCount:           retryCount,
			NextRetryAt:          next,
			BackoffMultiplier:    q.policy.Multiplier,
			MaxRetries:           q.policy.MaxRetries,
			Status:               entities.RetryPending,
			ErrorMessage:         msg,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := s.CreateRetry(ctx, retry); err != nil {
			return nil, dbError(err, "create_retry")
		}
		q.scheduled(retry)
		return retry, nil
	}

	all := []entities.RetryStatus{entities.RetryPending, entities.RetryRetrying, entities.RetryFailed, entities.RetrySucceeded}
	if _, err := s.UpdateRetry(ctx, existing.ID, all, map[string]any{
		"retry_count":        retryCount,
		"next_retry_at":      next,
		"backoff_multiplier": q.policy.Multiplier,
		"max_retries":        q.policy.MaxRetries,
		"status":             entities.RetryPending,
		"error_message":      msg,
		"updated_at":         now,
	}); err != nil {
		return nil, dbError(err, "update_retry")
	}

	existing.RetryCount = retryCount
	existing.NextRetryAt = next
	existing.Status = entities.RetryPending
	existing.ErrorMessage = msg
	existing.UpdatedAt = now
	q.scheduled(existing)
	return existing, nil
}

func (q *RetryQueue) scheduled(retry *entities.RetryRecord) {
	q.metrics.RecordRetry(retryScheduled)
	q.log.Debug("retry scheduled",
		logger.String("notification_id", retry.NotificationRecordID),
		logger.Int("retry_count", retry.RetryCount),
		logger.Time("next_retry_at", retry.NextRetryAt))
}

// DequeueDue claims up to limit due retries. Only the caller that claims a
// retry may process it.
func (q *RetryQueue) DequeueDue(ctx context.Context, now time.Time, limit int) ([]entities.RetryRecord, error) {
	claimed, err := q.store.ClaimDueRetries(ctx, now, limit)
	if err != nil {
		return claimed, dbError(err, "claim_due_retries")
	}
	return claimed, nil
}

// ResetStuck returns retries left in retrying for longer than age to pending.
func (q *RetryQueue) ResetStuck(ctx context.Context, age time.Duration) (int64, error) {
	now := q.clock.Now()
	n, err := q.store.ResetStuckRetries(ctx, now.Add(-age), now)
	if err != nil {
		return 0, dbError(err, "reset_stuck_retries")
	}
	if n > 0 {
		q.log.Warn("reset stuck retries", logger.Int64("count", n))
	}
	return n, nil
}

// Succeed closes the notification's retry after a successful delivery.
func (q *RetryQueue) Succeed(ctx context.Context, notificationID string) error {
	return q.finish(ctx, q.store, notificationID, entities.RetrySucceeded, nil, retrySucceeded)
}

// Exhaust closes the notification's retry after the last allowed attempt failed.
func (q *RetryQueue) Exhaust(ctx context.Context, notificationID string, cause error) error {
	return q.finish(ctx, q.store, notificationID, entities.RetryFailed, cause, retryExhausted)
}

// Abandon closes the notification's retry because the notification is no
// longer pending.
func (q *RetryQueue) Abandon(ctx context.Context, notificationID, reason string) error {
	return q.finish(ctx, q.store, notificationID, entities.RetryFailed, errors.NewStd("abandoned: "+reason), retryAbandoned)
}

// Release returns a claimed retry to pending without counting an attempt.
func (q *RetryQueue) Release(ctx context.Context, notificationID string) error {
	retry, err := q.store.GetRetry(ctx, notificationID)
	if errors.Is(err, repository.ErrRetryNotFound) {
		return nil
	}
	if err != nil {
		return dbError(err, "get_retry")
	}
	ok, err := q.store.UpdateRetry(ctx, retry.ID, []entities.RetryStatus{entities.RetryRetrying}, map[string]any{
		"status":     entities.RetryPending,
		"updated_at": q.clock.Now(),
	})
	if err != nil {
		return dbError(err, "release_retry")
	}
	if ok {
		q.metrics.RecordRetry(retryReleased)
	}
	return nil
}

// finish moves an unfinished retry to a terminal status. A notification
// without a retry record is left alone.
func (q *RetryQueue) finish(ctx context.Context, s *repository.Store, notificationID string, status entities.RetryStatus, cause error, outcome string) error {
	retry, err := s.GetRetry(ctx, notificationID)
	if errors.Is(err, repository.ErrRetryNotFound) {
		return nil
	}
	if err != nil {
		return dbError(err, "get_retry")
	}

	updates := map[string]any{
		"status":     status,
		"updated_at": q.clock.Now(),
	}
	if msg := causeMessage(cause); msg != nil {
		updates["error_message"] = *msg
	}
	ok, err := s.UpdateRetry(ctx, retry.ID, []entities.RetryStatus{entities.RetryPending, entities.RetryRetrying}, updates)
	if err != nil {
		return dbError(err, "finish_retry")
	}
	if ok {
		q.metrics.RecordRetry(outcome)
		q.log.Debug("retry finished",
			logger.String("notification_id", notificationID),
			logger.String("outcome", outcome))
	}
	return nil
}

// withStore returns a copy of the queue bound to s.
func (q *RetryQueue) withStore(s *repository.Store) *RetryQueue {
	c := *q
	c.store = s
	return &c
}

func causeMessage(cause error) *string {
	if cause == nil {
		return nil
	}
	msg := cause.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	return &msg
}
