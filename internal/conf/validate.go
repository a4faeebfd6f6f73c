// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateDatabaseSettings,
		validateIntakeSettings,
		validateDedupSettings,
		validateSnoozeSettings,
		validateRetrySettings,
		validateProcessorSettings,
		validateDeliverySettings,
		validateTasksSettings,
		validateMQTTSettings,
		validateSentrySettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDatabaseSettings(s *Settings) error {
	switch strings.ToLower(s.Database.Type) {
	case "sqlite":
		if s.Database.SQLite.Path == "" {
			return errors.New("sqlite path is required")
		}
	case "mysql":
		if s.Database.MySQL.Host == "" || s.Database.MySQL.Database == "" {
			return errors.New("mysql host and database are required")
		}
	default:
		return fmt.Errorf("database type must be sqlite or mysql, got %q", s.Database.Type)
	}
	return nil
}

func validateIntakeSettings(s *Settings) error {
	var errs []string
	in := &s.Intake

	if in.ConfidenceFloor < 0 || in.ConfidenceFloor > 1 {
		errs = append(errs, fmt.Sprintf("confidence floor must be between 0 and 1, got %v", in.ConfidenceFloor))
	}
	if in.UnknownTask != "reject" && in.UnknownTask != "accept" {
		errs = append(errs, fmt.Sprintf("unknown task policy must be reject or accept, got %q", in.UnknownTask))
	}
	c := in.Confidence
	if c.CoreRatio < 0 || c.CoreRatio >= 1 {
		errs = append(errs, "confidence core ratio must be in [0, 1)")
	}
	if c.OuterRatio <= 1 {
		errs = append(errs, "confidence outer ratio must be greater than 1")
	}
	if c.BoundaryScore <= 0 || c.BoundaryScore >= 1 {
		errs = append(errs, "confidence boundary score must be in (0, 1)")
	}
	if in.RateLimit.Enabled {
		rl := in.RateLimit
		if rl.Events <= 0 || rl.Window <= 0 || rl.Buckets <= 0 || rl.MaxKeys <= 0 {
			errs = append(errs, "rate limit events, window, buckets and maxkeys must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("intake settings errors: %v", errs)
	}
	return nil
}

func validateDedupSettings(s *Settings) error {
	cd := s.Dedup.Cooldown
	for _, d := range []time.Duration{cd.ApproachWide, cd.ApproachNear, cd.Arrival, cd.PostArrival} {
		if d <= 0 {
			return errors.New("dedup cooldowns must be positive")
		}
	}
	if s.Dedup.BundleWindow < 0 || s.Dedup.ApproachDelay.Wide < 0 || s.Dedup.ApproachDelay.Near < 0 {
		return errors.New("dedup bundle window and approach delays must not be negative")
	}
	return nil
}

func validateSnoozeSettings(s *Settings) error {
	sn := &s.Snooze
	if sn.MaxCount < 0 {
		return fmt.Errorf("snooze max count must not be negative, got %d", sn.MaxCount)
	}
	if !slices.Contains([]string{"reject", "complete", "mute"}, sn.CapAction) {
		return fmt.Errorf("snooze cap action must be reject, complete or mute, got %q", sn.CapAction)
	}
	if sn.MorningHour < 0 || sn.MorningHour > 23 {
		return fmt.Errorf("snooze morning hour must be between 0 and 23, got %d", sn.MorningHour)
	}
	if sn.Timezone != "" && sn.Timezone != "Local" {
		if _, err := time.LoadLocation(sn.Timezone); err != nil {
			return fmt.Errorf("invalid snooze timezone %q: %w", sn.Timezone, err)
		}
	}
	return nil
}

func validateRetrySettings(s *Settings) error {
	r := &s.Retry
	if r.BaseDelay <= 0 || r.MaxDelay < r.BaseDelay {
		return errors.New("retry base delay must be positive and not exceed max delay")
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1, got %v", r.Multiplier)
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("retry max retries must not be negative, got %d", r.MaxRetries)
	}
	return nil
}

func validateProcessorSettings(s *Settings) error {
	p := &s.Processor
	if p.Interval <= 0 || p.DispatchInterval <= 0 {
		return errors.New("processor intervals must be positive")
	}
	if p.LeaseTTL <= 0 {
		return errors.New("processor lease ttl must be positive")
	}
	if p.Retention < time.Hour {
		return fmt.Errorf("processor retention must be at least 1h, got %v", p.Retention)
	}
	return nil
}

func validateDeliverySettings(s *Settings) error {
	d := &s.Delivery
	if d.Timeout <= 0 {
		return errors.New("delivery timeout must be positive")
	}
	if d.ClaimTTL < d.Timeout {
		return errors.New("delivery claim ttl must be at least the delivery timeout")
	}
	if d.Rate < 0 {
		return errors.New("delivery rate must not be negative")
	}
	if d.Concurrency < 1 {
		return fmt.Errorf("delivery concurrency must be at least 1, got %d", d.Concurrency)
	}
	switch d.Provider {
	case "log":
	case "webhook":
		if d.Webhook.URL == "" {
			return errors.New("webhook delivery requires delivery.webhook.url")
		}
	case "shoutrrr":
		if len(d.Shoutrrr.URLs) == 0 {
			return errors.New("shoutrrr delivery requires at least one URL")
		}
	case "mqtt":
		if !s.MQTT.Enabled {
			return errors.New("mqtt delivery requires mqtt.enabled")
		}
	default:
		return fmt.Errorf("unknown delivery provider %q", d.Provider)
	}
	return nil
}

func validateTasksSettings(s *Settings) error {
	t := &s.Tasks
	if t.CompletionURL == "" {
		return nil
	}
	u, err := url.Parse(t.CompletionURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("tasks completion url must be an absolute http(s) url")
	}
	if t.CompletionTimeout <= 0 {
		return errors.New("tasks completion timeout must be positive")
	}
	return nil
}

func validateMQTTSettings(s *Settings) error {
	m := &s.MQTT
	if !m.Enabled {
		return nil
	}
	if m.Broker == "" {
		return errors.New("mqtt broker is required when mqtt is enabled")
	}
	if m.QoS < 0 || m.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", m.QoS)
	}
	return nil
}

func validateSentrySettings(s *Settings) error {
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return errors.New("sentry dsn is required when sentry is enabled")
	}
	return nil
}
