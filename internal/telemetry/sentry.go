// Package telemetry initializes optional Sentry error reporting.
//
// Reporting is opt-in. Events are stripped of user, host and runtime data
// before they leave the process, and only categories that indicate a server
// side fault are forwarded by the errors package.
package telemetry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/geonudge/internal/conf"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
)

const defaultFlushTimeout = 2 * time.Second

var initialized atomic.Bool

// Init configures Sentry from settings and installs the errors package
// reporter. It is a no-op when Sentry is disabled.
func Init(settings *conf.Settings, log logger.Logger) error {
	if settings == nil || !settings.Sentry.Enabled {
		errors.SetTelemetryReporter(nil)
		return nil
	}

	environment := settings.Sentry.Environment
	if environment == "" {
		environment = "production"
	}
	sampleRate := settings.Sentry.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       sampleRate,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "",
		Release:          release(settings.Version),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized.Store(true)

	if log != nil {
		log.Module("telemetry").Info("error reporting enabled",
			logger.String("environment", environment),
			logger.Float64("sample_rate", sampleRate))
	}
	return nil
}

// Flush waits for queued events and detaches the reporter.
func Flush(timeout time.Duration) {
	if !initialized.Swap(false) {
		return
	}
	if timeout <= 0 {
		timeout = defaultFlushTimeout
	}
	errors.SetTelemetryReporter(nil)
	sentry.Flush(timeout)
}

func release(version string) string {
	if version == "" {
		version = "dev"
	}
	return "geonudge@" + version
}

// applyPrivacyFilters removes identifying data from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Request = nil
	return event
}
