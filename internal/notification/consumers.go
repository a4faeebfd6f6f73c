package notification

import (
	"github.com/tphakala/geonudge/internal/events"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/observability/metrics"
)

// MetricsConsumer counts lifecycle transitions.
type MetricsConsumer struct {
	metrics *metrics.EngineMetrics
}

// NewMetricsConsumer creates a MetricsConsumer.
func NewMetricsConsumer(m *metrics.EngineMetrics) *MetricsConsumer {
	return &MetricsConsumer{metrics: m}
}

// Name implements events.EventConsumer.
func (c *MetricsConsumer) Name() string { return "metrics" }

// ProcessEvent implements events.EventConsumer.
func (c *MetricsConsumer) ProcessEvent(event events.LifecycleEvent) error {
	c.metrics.RecordTransition(string(event.Type))
	return nil
}

// LogConsumer writes lifecycle transitions to the log. Failures and
// exhaustion are logged at warn, everything else at debug.
type LogConsumer struct {
	log logger.Logger
}

// NewLogConsumer creates a LogConsumer.
func NewLogConsumer(log logger.Logger) *LogConsumer {
	return &LogConsumer{log: log.Module("lifecycle")}
}

// Name implements events.EventConsumer.
func (c *LogConsumer) Name() string { return "log" }

// ProcessEvent implements events.EventConsumer.
func (c *LogConsumer) ProcessEvent(event events.LifecycleEvent) error {
	level := logger.LogLevelDebug
	switch event.Type {
	case events.EventFailed, events.EventExhausted:
		level = logger.LogLevelWarn
	}
	fields := []logger.Field{
		logger.String("type", string(event.Type)),
		logger.String("task_id", event.TaskID),
		logger.String("user_id", event.UserID),
		logger.Time("at", event.At),
	}
	if event.NotificationID != "" {
		fields = append(fields, logger.String("notification_id", event.NotificationID))
	}
	if event.Status != "" {
		fields = append(fields, logger.String("status", event.Status))
	}
	if event.Reason != "" {
		fields = append(fields, logger.String("reason", event.Reason))
	}
	c.log.Log(level, "lifecycle transition", fields...)
	return nil
}
