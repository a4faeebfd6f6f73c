package notification

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/datastore/repository"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/observability/metrics"
)

// Processor job and step names.
const (
	JobProcessor = "processor"
	JobDispatch  = "dispatch"

	StepExpireSnoozes    = "expire_snoozes"
	StepExpireMutes      = "expire_mutes"
	StepProcessRetries   = "process_retries"
	StepRetentionCleanup = "retention_cleanup"
	StepUpdateMetrics    = "update_metrics"
	StepDispatchDue      = "dispatch_due"
)

// maxCleanupBatches bounds the deletion batches of one retention step.
const maxCleanupBatches = 100

// Processor runs the periodic maintenance and dispatch jobs. Each run holds
// a database lease so only one run of a job is active at a time.
type Processor struct {
	store      *repository.Store
	lifecycle  *Lifecycle
	snoozer    *Snoozer
	muter      *Muter
	retries    *RetryQueue
	dispatcher *Dispatcher
	cfg        ProcessorConfig
	// dedup claims are kept at least as long as the longest cooldown
	claimRetention time.Duration
	clock          Clock
	metrics        *metrics.EngineMetrics
	log            logger.Logger
	owner          string
	// retries left in retrying longer than this belong to a dead run
	stuckAfter     time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	kick    chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewProcessor creates a Processor.
func NewProcessor(store *repository.Store, lifecycle *Lifecycle, snoozer *Snoozer, muter *Muter, retries *RetryQueue,
	dispatcher *Dispatcher, cfg ProcessorConfig, dedup DedupConfig, clock Clock, m *metrics.EngineMetrics, log logger.Logger) *Processor {
	claimRetention := cfg.Retention
	for _, d := range dedup.Cooldowns {
		claimRetention = max(claimRetention, d)
	}
	return &Processor{
		store:          store,
		lifecycle:      lifecycle,
		snoozer:        snoozer,
		muter:          muter,
		retries:        retries,
		dispatcher:     dispatcher,
		cfg:            cfg,
		claimRetention: claimRetention,
		clock:          clock,
		metrics:        m,
		log:            log.Module("processor"),
		owner:          uuid.NewString(),
		stuckAfter:     stuckRetryAge(cfg, dispatcher.cfg),
		kick:           make(chan struct{}, 1),
	}
}

// stuckRetryAge is the age after which a claimed retry is considered
// abandoned. It exceeds the longest time one run can spend on its batch.
func stuckRetryAge(cfg ProcessorConfig, dc DispatcherConfig) time.Duration {
	worstRun := time.Duration(max(cfg.BatchSize, 1))*(dc.Timeout+dc.ClaimTTL) + cfg.LeaseTTL
	return max(2*cfg.LeaseTTL, worstRun)
}

type step struct {
	name string
	fn   func(ctx context.Context, now time.Time) (int, error)
}

// RunNow runs the maintenance job once. It returns ErrLeaseHeld when another
// run holds the lease. Step failures are reported in the RunReport and do not
// stop later steps.
func (p *Processor) RunNow(ctx context.Context) (*RunReport, error) {
	return p.run(ctx, JobProcessor, []step{
		{StepExpireSnoozes, p.expireSnoozes},
		{StepExpireMutes, p.expireMutes},
		{StepProcessRetries, p.processRetries},
		{StepRetentionCleanup, p.cleanup},
		{StepUpdateMetrics, p.updateMetrics},
	})
}

// RunDispatch delivers pending records whose scheduled time has arrived.
func (p *Processor) RunDispatch(ctx context.Context) (*RunReport, error) {
	return p.run(ctx, JobDispatch, []step{
		{StepDispatchDue, p.dispatchDue},
	})
}

func (p *Processor) run(ctx context.Context, job string, steps []step) (*RunReport, error) {
	started := p.clock.Now()
	// every run holds the lease under its own token, so runs of one process
	// exclude each other as runs of different processes do
	owner := p.owner + "/" + uuid.NewString()
	acquired, err := p.store.AcquireLease(ctx, job, owner, started, p.cfg.LeaseTTL)
	if err != nil {
		p.metrics.RecordProcessorRun(job, "error")
		return nil, dbError(err, "acquire_lease")
	}
	if !acquired {
		p.metrics.RecordProcessorRun(job, "lease_held")
		return nil, withContext(ErrLeaseHeld, "job", job)
	}
	defer func() {
		if err := p.store.ReleaseLease(context.WithoutCancel(ctx), job, owner, p.clock.Now()); err != nil {
			p.log.Warn("failed to release lease", logger.String("job", job), logger.Error(err))
		}
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopHeartbeat := p.heartbeat(runCtx, cancel, job, owner)

	report := &RunReport{Job: job, StartedAt: started}
	for _, s := range steps {
		if runCtx.Err() != nil {
			report.Steps = append(report.Steps, StepResult{Name: s.name, Error: context.Cause(runCtx).Error()})
			continue
		}
		report.Steps = append(report.Steps, p.runStep(runCtx, s))
	}
	stopHeartbeat()
	report.FinishedAt = p.clock.Now()

	result := "success"
	switch {
	case errors.Is(context.Cause(runCtx), ErrLeaseLost):
		result = "lease_lost"
	case report.Failed():
		result = "partial"
	}
	p.metrics.RecordProcessorRun(job, result)
	return report, nil
}

// heartbeat renews the run's lease every third of its TTL until the returned
// stop function is called. A lease that can no longer be renewed cancels the
// run with ErrLeaseLost.
func (p *Processor) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, job, owner string) (stop func()) {
	interval := p.cfg.LeaseTTL / 3
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			renewed, err := p.store.RenewLease(ctx, job, owner, p.clock.Now(), p.cfg.LeaseTTL)
			if err != nil {
				// the lease is still ours until it expires; the next tick retries
				p.log.Warn("failed to renew lease", logger.String("job", job), logger.Error(err))
				continue
			}
			if !renewed {
				p.log.Error("lease lost, stopping run", logger.String("job", job))
				cancel(withContext(ErrLeaseLost, "job", job))
				return
			}
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// runStep runs one step, turning a panic into a step error.
func (p *Processor) runStep(ctx context.Context, s step) (res StepResult) {
	start := time.Now()
	res.Name = s.name

	defer func() {
		if r := recover(); r != nil {
			res.Error = fmt.Sprintf("panic: %v", r)
			p.log.Error("processor step panicked",
				logger.String("step", s.name),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
		res.Duration = time.Since(start)
		var stepErr error
		if res.Error != "" {
			stepErr = errors.NewStd(res.Error)
		}
		p.metrics.RecordProcessorStep(s.name, res.Items, res.Duration, stepErr)
	}()

	items, err := s.fn(ctx, p.clock.Now())
	res.Items = items
	if err != nil {
		res.Error = err.Error()
		p.log.Error("processor step failed",
			logger.String("step", s.name),
			logger.Int("items", items),
			logger.Error(err))
		return res
	}
	if items > 0 {
		p.log.Debug("processor step finished",
			logger.String("step", s.name),
			logger.Int("items", items))
	}
	return res
}

func (p *Processor) expireSnoozes(ctx context.Context, now time.Time) (int, error) {
	return p.snoozer.ExpireDue(ctx, now, p.cfg.BatchSize)
}

func (p *Processor) expireMutes(ctx context.Context, now time.Time) (int, error) {
	return p.muter.ExpireDue(ctx, now, p.cfg.BatchSize)
}

// processRetries delivers due retries. Retries of records that are no
// longer pending are abandoned.
func (p *Processor) processRetries(ctx context.Context, now time.Time) (int, error) {
	if _, err := p.retries.ResetStuck(ctx, p.stuckAfter); err != nil {
		return 0, err
	}

	due, err := p.retries.DequeueDue(ctx, now, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var errs []error
	processed := 0
	for i := range due {
		id := due[i].NotificationRecordID
		if ctx.Err() != nil {
			// claimed but not attempted
			if rerr := p.retries.Release(context.WithoutCancel(ctx), id); rerr != nil {
				errs = append(errs, rerr)
			}
			continue
		}
		record, err := p.lifecycle.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			errs = append(errs, p.retries.Abandon(ctx, id, "notification deleted"))
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if record.Status != entities.StatusPending {
			errs = append(errs, p.retries.Abandon(ctx, id, "notification "+string(record.Status)))
			continue
		}

		outcome, err := p.dispatcher.Deliver(ctx, id)
		if outcome == OutcomeSkipped {
			if rerr := p.retries.Release(context.WithoutCancel(ctx), id); rerr != nil {
				errs = append(errs, rerr)
			}
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if outcome != OutcomeSkipped {
			processed++
		}
	}
	return processed, errors.Join(errs...)
}

// cleanup deletes terminal records and stale bookkeeping past retention.
func (p *Processor) cleanup(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-p.cfg.Retention)
	total := 0

	for range maxCleanupBatches {
		n, err := p.store.DeleteTerminalNotificationsBefore(ctx, cutoff, p.cfg.BatchSize)
		if err != nil {
			return total, dbError(err, "delete_notifications")
		}
		total += int(n)
		if n < int64(p.cfg.BatchSize) {
			break
		}
	}

	var errs []error
	if n, err := p.store.DeleteDedupClaimsBefore(ctx, now.Add(-p.claimRetention)); err != nil {
		errs = append(errs, dbError(err, "delete_dedup_claims"))
	} else {
		total += int(n)
	}
	if n, err := p.store.DeleteEventsBefore(ctx, cutoff); err != nil {
		errs = append(errs, dbError(err, "delete_events"))
	} else {
		total += int(n)
	}
	if n, err := p.store.DeleteEndedMutesBefore(ctx, cutoff); err != nil {
		errs = append(errs, dbError(err, "delete_mutes"))
	} else {
		total += int(n)
	}
	return total, errors.Join(errs...)
}

func (p *Processor) updateMetrics(ctx context.Context, _ time.Time) (int, error) {
	counts, err := p.store.CountByStatus(ctx)
	if err != nil {
		return 0, dbError(err, "count_by_status")
	}
	byStatus := make(map[string]int64, len(counts))
	for _, s := range []entities.NotificationStatus{
		entities.StatusPending, entities.StatusDelivered, entities.StatusCancelled,
		entities.StatusFailed, entities.StatusSnoozed,
	} {
		byStatus[string(s)] = counts[s]
	}
	p.metrics.SetNotificationsByStatus(byStatus)
	return 0, nil
}

func (p *Processor) dispatchDue(ctx context.Context, _ time.Time) (int, error) {
	summary, err := p.dispatcher.DeliverDue(ctx, p.cfg.DispatchBatch)
	return summary.Total() - summary.Skipped, err
}

// Kick asks a started processor to run the dispatch job soon. It never blocks.
func (p *Processor) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Start schedules the maintenance and dispatch jobs. Runs are stopped by
// Stop or by cancelling ctx.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.Newf("processor already started").
			Component(component).
			Category(errors.CategoryProcessor).
			Build()
	}

	cl := cronLogger{log: p.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(p.cfg.Interval), cron.FuncJob(func() {
		p.scheduled(ctx, JobProcessor, p.RunNow)
	}))
	c.Schedule(cron.Every(p.cfg.DispatchInterval), cron.FuncJob(func() {
		p.scheduled(ctx, JobDispatch, p.RunDispatch)
	}))
	c.Start()

	p.cron = c
	p.stop = make(chan struct{})
	p.running = true

	p.wg.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-p.kick:
				p.scheduled(ctx, JobDispatch, p.RunDispatch)
			}
		}
	})

	p.log.Info("processor started",
		logger.Duration("interval", p.cfg.Interval),
		logger.Duration("dispatch_interval", p.cfg.DispatchInterval),
		logger.String("owner", p.owner))
	return nil
}

// Stop stops scheduling and waits for running jobs to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	c := p.cron
	close(p.stop)
	p.mu.Unlock()

	<-c.Stop().Done()
	p.wg.Wait()
	p.log.Info("processor stopped")
}

func (p *Processor) scheduled(ctx context.Context, job string, run func(context.Context) (*RunReport, error)) {
	if ctx.Err() != nil {
		return
	}
	report, err := run(ctx)
	if errors.Is(err, ErrLeaseHeld) {
		p.log.Debug("run skipped, lease held elsewhere", logger.String("job", job))
		return
	}
	if err != nil {
		p.log.Error("run failed", logger.String("job", job), logger.Error(err))
		return
	}
	if report.Failed() {
		p.log.Warn("run finished with step errors", logger.String("job", job))
	}
}

// cronLogger routes cron's own logging into the module logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []any) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, logger.Any(key, kv[i+1]))
	}
	return fields
}
