package notification

import (
	"time"

	"github.com/tphakala/geonudge/internal/conf"
	"github.com/tphakala/geonudge/internal/datastore/entities"
)

// Unknown task policies.
const (
	UnknownTaskReject = "reject"
	UnknownTaskAccept = "accept"
)

// CapAction is what happens when a snooze would exceed the snooze cap.
type CapAction string

const (
	CapReject   CapAction = "reject"
	CapComplete CapAction = "complete"
	CapMute     CapAction = "mute"
)

// IntakeConfig controls geofence report acceptance.
type IntakeConfig struct {
	ConfidenceFloor float64
	UnknownTask     string
	Curve           ConfidenceCurve
	RateLimit       RateLimitConfig
}

// RateLimitConfig bounds reports per user.
type RateLimitConfig struct {
	Enabled bool
	Events  int
	Window  time.Duration
	Buckets int
	MaxKeys int
}

// DedupConfig controls the cooldown filter and tier bundling.
type DedupConfig struct {
	Cooldowns     map[entities.Tier]time.Duration
	BundleWindow  time.Duration
	ApproachDelay map[entities.Tier]time.Duration
}

// Cooldown returns the cooldown of tier.
func (c DedupConfig) Cooldown(tier entities.Tier) time.Duration {
	return c.Cooldowns[tier]
}

// SnoozeConfig controls the snooze manager.
type SnoozeConfig struct {
	MaxCount    int
	CapAction   CapAction
	MorningHour int
	Location    *time.Location
}

// ProcessorConfig controls the background processor.
type ProcessorConfig struct {
	Interval         time.Duration
	LeaseTTL         time.Duration
	Retention        time.Duration
	DispatchInterval time.Duration
	DispatchBatch    int
	BatchSize        int
}

// DispatcherConfig controls gateway calls.
type DispatcherConfig struct {
	Timeout        time.Duration
	ClaimTTL       time.Duration
	Rate           float64
	Burst          int
	Concurrency    int
	CircuitBreaker CircuitBreakerConfig
	BreakerEnabled bool
}

// Config holds the settings of every engine component.
type Config struct {
	Intake     IntakeConfig
	Dedup      DedupConfig
	Snooze     SnoozeConfig
	Retry      RetryPolicy
	Processor  ProcessorConfig
	Dispatcher DispatcherConfig
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Intake: IntakeConfig{
			ConfidenceFloor: 0.5,
			UnknownTask:     UnknownTaskReject,
			Curve:           DefaultConfidenceCurve(),
			RateLimit: RateLimitConfig{
				Enabled: true,
				Events:  120,
				Window:  time.Minute,
				Buckets: 6,
				MaxKeys: 10000,
			},
		},
		Dedup: DedupConfig{
			Cooldowns: map[entities.Tier]time.Duration{
				entities.TierApproachWide: 60 * time.Minute,
				entities.TierApproachNear: 30 * time.Minute,
				entities.TierArrival:      10 * time.Minute,
				entities.TierPostArrival:  20 * time.Minute,
			},
			BundleWindow: 2 * time.Minute,
			ApproachDelay: map[entities.Tier]time.Duration{
				entities.TierApproachWide: 2 * time.Minute,
				entities.TierApproachNear: time.Minute,
			},
		},
		Snooze: SnoozeConfig{
			MaxCount:    5,
			CapAction:   CapReject,
			MorningHour: 9,
			Location:    time.Local,
		},
		Retry: DefaultRetryPolicy(),
		Processor: ProcessorConfig{
			Interval:         5 * time.Minute,
			LeaseTTL:         4 * time.Minute,
			Retention:        24 * time.Hour,
			DispatchInterval: 30 * time.Second,
			DispatchBatch:    100,
			BatchSize:        100,
		},
		Dispatcher: DispatcherConfig{
			Timeout:        10 * time.Second,
			ClaimTTL:       time.Minute,
			Rate:           50,
			Burst:          10,
			Concurrency:    4,
			CircuitBreaker: DefaultCircuitBreakerConfig(),
			BreakerEnabled: true,
		},
	}
}

// ConfigFromSettings builds the engine configuration from application settings.
func ConfigFromSettings(s *conf.Settings) Config {
	tiers := func(d conf.TierDurations) map[entities.Tier]time.Duration {
		return map[entities.Tier]time.Duration{
			entities.TierApproachWide: d.ApproachWide,
			entities.TierApproachNear: d.ApproachNear,
			entities.TierArrival:      d.Arrival,
			entities.TierPostArrival:  d.PostArrival,
		}
	}

	return Config{
		Intake: IntakeConfig{
			ConfidenceFloor: s.Intake.ConfidenceFloor,
			UnknownTask:     s.Intake.UnknownTask,
			Curve: ConfidenceCurve{
				CoreRatio:     s.Intake.Confidence.CoreRatio,
				BoundaryScore: s.Intake.Confidence.BoundaryScore,
				OuterRatio:    s.Intake.Confidence.OuterRatio,
			},
			RateLimit: RateLimitConfig{
				Enabled: s.Intake.RateLimit.Enabled,
				Events:  s.Intake.RateLimit.Events,
				Window:  s.Intake.RateLimit.Window,
				Buckets: s.Intake.RateLimit.Buckets,
				MaxKeys: s.Intake.RateLimit.MaxKeys,
			},
		},
		Dedup: DedupConfig{
			Cooldowns:    tiers(s.Dedup.Cooldown),
			BundleWindow: s.Dedup.BundleWindow,
			ApproachDelay: map[entities.Tier]time.Duration{
				entities.TierApproachWide: s.Dedup.ApproachDelay.Wide,
				entities.TierApproachNear: s.Dedup.ApproachDelay.Near,
			},
		},
		Snooze: SnoozeConfig{
			MaxCount:    s.Snooze.MaxCount,
			CapAction:   CapAction(s.Snooze.CapAction),
			MorningHour: s.Snooze.MorningHour,
			Location:    s.Snooze.SnoozeLocation(),
		},
		Retry: RetryPolicy{
			BaseDelay:  s.Retry.BaseDelay,
			Multiplier: s.Retry.Multiplier,
			MaxDelay:   s.Retry.MaxDelay,
			MaxRetries: s.Retry.MaxRetries,
			Jitter:     s.Retry.Jitter,
		},
		Processor: ProcessorConfig{
			Interval:         s.Processor.Interval,
			LeaseTTL:         s.Processor.LeaseTTL,
			Retention:        s.Processor.Retention,
			DispatchInterval: s.Processor.DispatchInterval,
			DispatchBatch:    s.Processor.DispatchBatch,
			BatchSize:        s.Retry.BatchSize,
		},
		Dispatcher: DispatcherConfig{
			Timeout:     s.Delivery.Timeout,
			ClaimTTL:    s.Delivery.ClaimTTL,
			Rate:        s.Delivery.Rate,
			Burst:       s.Delivery.Burst,
			Concurrency: s.Delivery.Concurrency,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:         s.Delivery.CircuitBreaker.MaxFailures,
				Timeout:             s.Delivery.CircuitBreaker.Timeout,
				HalfOpenMaxRequests: s.Delivery.CircuitBreaker.HalfOpenMaxRequests,
			},
			BreakerEnabled: s.Delivery.CircuitBreaker.Enabled,
		},
	}
}
