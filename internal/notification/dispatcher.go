package notification

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/datastore/repository"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/observability/metrics"
)

// DeliveryOutcome is the result of one delivery attempt.
type DeliveryOutcome string

const (
	OutcomeDelivered      DeliveryOutcome = "delivered"
	OutcomeRetryScheduled DeliveryOutcome = "retry_scheduled"
	OutcomeExhausted      DeliveryOutcome = "exhausted"
	OutcomeSkipped        DeliveryOutcome = "skipped"
)

// DispatchSummary counts the outcomes of a dispatch run.
type DispatchSummary struct {
	Delivered int
	Retried   int
	Exhausted int
	Skipped   int
	Errors    int
}

// Total returns the number of records handled.
func (s DispatchSummary) Total() int {
	return s.Delivered + s.Retried + s.Exhausted + s.Skipped + s.Errors
}

// Dispatcher hands due notifications to the gateway. A delivery claim on the
// record guarantees a single sender per record.
type Dispatcher struct {
	store     *repository.Store
	lifecycle *Lifecycle
	gateway   Gateway
	cfg       DispatcherConfig
	limiter   *rate.Limiter
	breaker   *CircuitBreaker
	sem       *semaphore.Weighted
	clock     Clock
	metrics   *metrics.DeliveryMetrics
	log       logger.Logger
}

// NewDispatcher creates a Dispatcher for gateway.
func NewDispatcher(store *repository.Store, lifecycle *Lifecycle, gateway Gateway, cfg DispatcherConfig,
	clock Clock, m *metrics.DeliveryMetrics, log logger.Logger) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		lifecycle: lifecycle,
		gateway:   gateway,
		cfg:       cfg,
		clock:     clock,
		metrics:   m,
		log:       log.Module("dispatch").With(logger.String("provider", gateway.Name())),
	}
	if cfg.Rate > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(cfg.Burst, 1))
	}
	if cfg.BreakerEnabled {
		d.breaker = NewCircuitBreaker(cfg.CircuitBreaker, clock, m, gateway.Name(), log)
	}
	d.sem = semaphore.NewWeighted(int64(max(cfg.Concurrency, 1)))
	return d
}

// Breaker returns the circuit breaker, nil when disabled.
func (d *Dispatcher) Breaker() *CircuitBreaker {
	return d.breaker
}

// Deliver sends one pending notification and records the result. A record
// that is not pending or is claimed by another sender is skipped.
func (d *Dispatcher) Deliver(ctx context.Context, id string) (DeliveryOutcome, error) {
	token := uuid.NewString()
	now := d.clock.Now()
	claimed, err := d.store.ClaimNotification(ctx, id, token, now, now.Add(d.cfg.ClaimTTL))
	if err != nil {
		return OutcomeSkipped, dbError(err, "claim_notification")
	}
	if !claimed {
		d.metrics.RecordSkipped("claimed")
		return OutcomeSkipped, nil
	}

	record, err := d.store.GetNotification(ctx, id)
	if err != nil {
		d.release(id, token)
		return OutcomeSkipped, dbError(err, "get_notification")
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.release(id, token)
			d.metrics.RecordSkipped("rate_limited")
			return OutcomeSkipped, err
		}
	}

	sendErr := d.send(ctx, record)
	if sendErr != nil && ctx.Err() != nil {
		d.release(id, token)
		d.metrics.RecordSkipped("cancelled")
		return OutcomeSkipped, ctx.Err()
	}

	// a finished send is recorded even if the caller gives up now
	bookCtx := context.WithoutCancel(ctx)
	if sendErr == nil {
		if err := d.lifecycle.MarkDelivered(bookCtx, id); err != nil {
			return OutcomeDelivered, err
		}
		d.log.Info("notification delivered",
			logger.String("notification_id", id),
			logger.String("task_id", record.TaskID))
		return OutcomeDelivered, nil
	}

	err = d.lifecycle.MarkFailed(bookCtx, id, sendErr)
	switch {
	case errors.Is(err, ErrDeliveryExhausted):
		return OutcomeExhausted, nil
	case err != nil:
		return OutcomeRetryScheduled, err
	}
	d.log.Warn("delivery failed, retry scheduled",
		logger.String("notification_id", id),
		logger.Error(sendErr))
	return OutcomeRetryScheduled, nil
}

// send calls the gateway through the breaker with the delivery timeout.
func (d *Dispatcher) send(ctx context.Context, record *entities.NotificationRecord) error {
	timer := d.metrics.StartDelivery(d.gateway.Name(), string(record.Kind))

	call := func(ctx context.Context) error { return d.call(ctx, record) }
	var err error
	if d.breaker != nil {
		err = d.breaker.Call(ctx, call)
	} else {
		err = call(ctx)
	}

	if err == nil {
		timer.Finish("success")
		return nil
	}
	timer.Finish("error")

	category := string(errors.CategoryOf(err))
	if errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, ErrTooManyRequests) {
		category = "circuit_open"
	}
	d.metrics.RecordDeliveryError(d.gateway.Name(), string(record.Kind), category)
	return err
}

// call bounds one gateway call. The wait ends at the timeout even when the
// gateway ignores its context.
func (d *Dispatcher) call(ctx context.Context, record *entities.NotificationRecord) error {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.gateway.Send(callCtx, record)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return d.timeoutError(record)
		}
		var ee *errors.EnhancedError
		if errors.As(err, &ee) {
			return err
		}
		return errors.New(err).
			Component(component).
			Category(errors.CategoryDelivery).
			Context("provider", d.gateway.Name()).
			Context("notification_id", record.ID).
			Build()
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return d.timeoutError(record)
	}
}

func (d *Dispatcher) timeoutError(record *entities.NotificationRecord) error {
	d.metrics.RecordTimeout(d.gateway.Name())
	return errors.New(context.DeadlineExceeded).
		Component(component).
		Category(errors.CategoryTimeout).
		Context("provider", d.gateway.Name()).
		Context("notification_id", record.ID).
		Timing("gateway_send", d.cfg.Timeout).
		Build()
}

func (d *Dispatcher) release(id, token string) {
	if err := d.store.ReleaseClaim(context.Background(), id, token); err != nil {
		d.log.Warn("failed to release delivery claim",
			logger.String("notification_id", id),
			logger.Error(err))
	}
}

// DeliverDue delivers up to limit due records with bounded parallelism.
func (d *Dispatcher) DeliverDue(ctx context.Context, limit int) (DispatchSummary, error) {
	due, err := d.store.ListDueNotifications(ctx, d.clock.Now(), limit)
	if err != nil {
		return DispatchSummary{}, dbError(err, "list_due")
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		summary DispatchSummary
		errs    []error
	)
	for i := range due {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			break
		}
		id := due[i].ID
		wg.Go(func() {
			defer d.sem.Release(1)
			outcome, err := d.Deliver(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors++
				errs = append(errs, err)
				return
			}
			switch outcome {
			case OutcomeDelivered:
				summary.Delivered++
			case OutcomeRetryScheduled:
				summary.Retried++
			case OutcomeExhausted:
				summary.Exhausted++
			default:
				summary.Skipped++
			}
		})
	}
	wg.Wait()

	if summary.Total() > 0 {
		d.log.Debug("dispatch run finished",
			logger.Int("delivered", summary.Delivered),
			logger.Int("retried", summary.Retried),
			logger.Int("exhausted", summary.Exhausted),
			logger.Int("skipped", summary.Skipped),
			logger.Int("errors", summary.Errors))
	}
	return summary, errors.Join(errs...)
}
