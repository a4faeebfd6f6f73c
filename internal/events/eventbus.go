package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/geonudge/internal/logger"
)

// Config holds event bus configuration
type Config struct {
	BufferSize int
	Workers    int
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() Config {
	return Config{BufferSize: 1000, Workers: 2}
}

// EventBus delivers lifecycle events to consumers on worker goroutines
type EventBus struct {
	eventChan chan LifecycleEvent
	workers   int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.Mutex

	consumers []EventConsumer
	stats     EventBusStats
	logger    logger.Logger
}

// New creates an event bus. Workers start with the first registered consumer.
func New(cfg Config, log logger.Logger) *EventBus {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		eventChan: make(chan LifecycleEvent, cfg.BufferSize),
		workers:   cfg.Workers,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.Module("events"),
	}
}

// RegisterConsumer adds a new event consumer
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.ctx.Err() != nil {
		return fmt.Errorf("event bus is shut down")
	}
	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already registered", consumer.Name())
		}
	}
	eb.consumers = append(eb.consumers, consumer)

	eb.logger.Info("registered event consumer", logger.String("consumer", consumer.Name()))

	if len(eb.consumers) == 1 {
		eb.start()
	}
	return nil
}

// TryPublish enqueues an event without blocking.
// It returns false when the bus is stopped, has no consumers, or is full.
func (eb *EventBus) TryPublish(event LifecycleEvent) bool {
	if eb == nil || !eb.running.Load() {
		return false
	}

	select {
	case eb.eventChan <- event:
		atomic.AddUint64(&eb.stats.EventsReceived, 1)
		return true
	default:
		atomic.AddUint64(&eb.stats.EventsDropped, 1)
		eb.logger.Debug("event dropped due to full buffer",
			logger.String("type", string(event.Type)),
			logger.String("notification_id", event.NotificationID))
		return false
	}
}

func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}
	for i := 0; i < eb.workers; i++ {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()
	log := eb.logger.With(logger.Int("worker_id", id))

	for {
		select {
		case <-eb.ctx.Done():
			eb.drain(log)
			return
		case event := <-eb.eventChan:
			eb.processEvent(event, log)
		}
	}
}

// drain processes whatever is still buffered at shutdown.
func (eb *EventBus) drain(log logger.Logger) {
	for {
		select {
		case event := <-eb.eventChan:
			eb.processEvent(event, log)
		default:
			return
		}
	}
}

// processEvent sends the event to all registered consumers
func (eb *EventBus) processEvent(event LifecycleEvent, log logger.Logger) {
	eb.mu.Lock()
	consumers := make([]EventConsumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		eb.deliver(consumer, event, log)
	}
}

func (eb *EventBus) deliver(consumer EventConsumer, event LifecycleEvent, log logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
			log.Error("consumer panicked",
				logger.String("consumer", consumer.Name()),
				logger.Any("panic", r),
				logger.String("type", string(event.Type)))
		}
	}()

	if err := consumer.ProcessEvent(event); err != nil {
		atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
		log.Warn("consumer error",
			logger.String("consumer", consumer.Name()),
			logger.String("type", string(event.Type)),
			logger.Error(err))
		return
	}
	atomic.AddUint64(&eb.stats.EventsProcessed, 1)
}

// Shutdown stops accepting events, lets workers drain the buffer, and waits
// up to timeout for them to finish.
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil {
		return nil
	}
	eb.mu.Lock()
	eb.running.Store(false)
	eb.cancel()
	eb.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		eb.logger.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
		return fmt.Errorf("event bus shutdown timeout exceeded")
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}
	return EventBusStats{
		EventsReceived:  atomic.LoadUint64(&eb.stats.EventsReceived),
		EventsProcessed: atomic.LoadUint64(&eb.stats.EventsProcessed),
		EventsDropped:   atomic.LoadUint64(&eb.stats.EventsDropped),
		ConsumerErrors:  atomic.LoadUint64(&eb.stats.ConsumerErrors),
	}
}
