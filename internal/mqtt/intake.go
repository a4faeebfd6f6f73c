package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/notification"
	"github.com/tphakala/geonudge/internal/observability/metrics"
)

const defaultIntakeTimeout = 10 * time.Second

// Reporter accepts decoded geofence reports.
type Reporter interface {
	ReportGeofenceEvent(ctx context.Context, report notification.GeofenceReport) (notification.IntakeResult, error)
}

// Intake feeds geofence reports received on a topic into the engine.
type Intake struct {
	client   Client
	reporter Reporter
	topic    string
	timeout  time.Duration
	metrics  *metrics.MQTTMetrics
	log      logger.Logger
}

// NewIntake creates an intake subscriber for topic.
func NewIntake(client Client, reporter Reporter, topic string, m *metrics.MQTTMetrics, log logger.Logger) *Intake {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return &Intake{
		client:   client,
		reporter: reporter,
		topic:    topic,
		timeout:  defaultIntakeTimeout,
		metrics:  m,
		log:      log.Module("mqtt").With(logger.String("topic", topic)),
	}
}

// Start subscribes to the intake topic.
func (in *Intake) Start() error {
	return in.client.Subscribe(in.topic, in.handle)
}

func (in *Intake) handle(ctx context.Context, topic string, payload []byte) {
	var report notification.GeofenceReport
	if err := json.Unmarshal(payload, &report); err != nil {
		if in.metrics != nil {
			in.metrics.IncrementErrors("decode")
		}
		in.log.Warn("discarding malformed geofence report",
			logger.String("message_topic", topic),
			logger.Int("bytes", len(payload)),
			logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	result, err := in.reporter.ReportGeofenceEvent(ctx, report)
	if err != nil {
		level := logger.LogLevelError
		if errors.IsValidation(err) || errors.IsNotFound(err) || errors.IsCategory(err, errors.CategoryLimit) {
			level = logger.LogLevelWarn
		}
		in.log.Log(level, "geofence report rejected",
			logger.String("user_id", report.UserID),
			logger.String("task_id", report.TaskID),
			logger.Error(err))
		return
	}

	in.log.Debug("geofence report processed",
		logger.String("event_id", result.EventID),
		logger.String("disposition", string(result.Disposition)),
		logger.String("reason", result.Reason))
}
