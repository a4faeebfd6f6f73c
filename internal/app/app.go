// Package app assembles the geonudge service from settings: logging, the
// store, metrics, the lifecycle event bus, MQTT, the delivery gateway, the
// notification engine and the HTTP API.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/geonudge/internal/api"
	"github.com/tphakala/geonudge/internal/conf"
	"github.com/tphakala/geonudge/internal/datastore"
	"github.com/tphakala/geonudge/internal/datastore/repository"
	"github.com/tphakala/geonudge/internal/delivery"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/events"
	"github.com/tphakala/geonudge/internal/httpclient"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/mqtt"
	"github.com/tphakala/geonudge/internal/notification"
	"github.com/tphakala/geonudge/internal/observability"
	"github.com/tphakala/geonudge/internal/tasks"
	"github.com/tphakala/geonudge/internal/telemetry"
)

const (
	busShutdownTimeout = 5 * time.Second
	flushTimeout       = 2 * time.Second
)

// App owns every long-lived component of the service.
type App struct {
	Settings *conf.Settings
	Log      logger.Logger
	Metrics  *observability.Metrics
	Store    *repository.Store
	Bus      *events.EventBus
	MQTT     mqtt.Client // nil when MQTT is disabled
	Engine   *notification.Engine
	Server   *api.Server // nil when the web server is disabled

	central   *logger.CentralLogger
	db        *datastore.Manager
	closeOnce sync.Once
	closeErr  error
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	log   logger.Logger
	clock notification.Clock
	mqtt  mqtt.Client
	http  http.RoundTripper
}

// WithLogger replaces the logger built from settings.Logging.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithClock sets the engine clock.
func WithClock(clock notification.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithMQTTClient uses client instead of dialing settings.MQTT.Broker.
func WithMQTTClient(client mqtt.Client) Option {
	return func(o *options) { o.mqtt = client }
}

// WithHTTPTransport routes calls to the place/task service through rt.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.http = rt }
}

// New builds the service. Nothing is started; Run starts the background
// parts. On error every component built so far is closed.
func New(settings *conf.Settings, opts ...Option) (a *App, err error) {
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{Settings: settings}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if o.log != nil {
		a.Log = o.log
	} else {
		central, lerr := logger.NewCentralLogger(LoggingConfig(settings))
		if lerr != nil {
			return a, fmt.Errorf("failed to initialize logging: %w", lerr)
		}
		a.central = central
		a.Log = central.Module("")
	}
	log := a.Log.Module("app")

	if err := telemetry.Init(settings, a.Log); err != nil {
		log.Warn("error reporting disabled", logger.Error(err))
	}

	a.db, err = datastore.Open(&settings.Database, a.Log.Module("datastore"))
	if err != nil {
		return a, err
	}
	if err := a.db.Initialize(); err != nil {
		return a, err
	}
	a.Store = repository.NewStore(a.db.DB(), a.db.IsMySQL())
	log.Info("datastore ready",
		logger.String("type", settings.Database.Type),
		logger.String("location", logger.RedactSensitiveData(a.db.Location())))

	a.Metrics, err = observability.NewMetrics()
	if err != nil {
		return a, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	a.Bus = events.New(events.Config{
		BufferSize: settings.EventBus.BufferSize,
		Workers:    settings.EventBus.Workers,
	}, a.Log)

	if o.mqtt != nil {
		a.MQTT = o.mqtt
	} else if settings.MQTT.Enabled {
		a.MQTT, err = mqtt.NewClient(mqtt.ConfigFromSettings(&settings.MQTT), a.Metrics.MQTT, a.Log)
		if err != nil {
			return a, err
		}
	}

	if err := a.registerConsumers(); err != nil {
		return a, err
	}

	gateway, err := delivery.New(settings, a.MQTT, a.Log)
	if err != nil {
		return a, err
	}

	deps := notification.Deps{
		Store:   a.Store,
		Gateway: gateway,
		Metrics: a.Metrics,
		Log:     a.Log,
		Bus:     a.Bus,
		Clock:   o.clock,
	}
	if t := settings.Tasks; t.CompletionURL != "" {
		client := httpclient.New(&httpclient.Config{DefaultTimeout: t.CompletionTimeout, Transport: o.http})
		hook, herr := tasks.NewCompletionHook(t.CompletionURL, t.CompletionHeaders, client, a.Log)
		if herr != nil {
			return a, herr
		}
		deps.Completer = hook
	}
	a.Engine = notification.NewEngine(notification.ConfigFromSettings(settings), deps)

	if settings.WebServer.Enabled {
		a.Server, err = api.New(settings, a.Engine,
			api.WithLogger(a.Log),
			api.WithMetrics(a.Metrics))
		if err != nil {
			return a, err
		}
	}

	log.Info("service assembled",
		logger.String("version", settings.Version),
		logger.String("delivery", gateway.Name()),
		logger.Bool("mqtt", a.MQTT != nil),
		logger.Bool("web_server", a.Server != nil),
		logger.Bool("task_completion_hook", settings.Tasks.CompletionURL != ""),
		logger.Bool("processor", settings.Processor.Enabled))
	return a, nil
}

func (a *App) registerConsumers() error {
	consumers := []events.EventConsumer{
		notification.NewMetricsConsumer(a.Metrics.Engine),
		notification.NewLogConsumer(a.Log),
	}
	if a.MQTT != nil && a.Settings.MQTT.EventTopic != "" {
		consumers = append(consumers,
			mqtt.NewLifecycleConsumer(a.MQTT, a.Settings.MQTT.EventTopic, a.Settings.Delivery.Timeout, a.Log))
	}
	for _, c := range consumers {
		if err := a.Bus.RegisterConsumer(c); err != nil {
			return fmt.Errorf("failed to register %s consumer: %w", c.Name(), err)
		}
	}
	return nil
}

// Run starts MQTT, the processor schedule and the HTTP API, and blocks until
// ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	log := a.Log.Module("app")
	g, ctx := errgroup.WithContext(ctx)

	if a.MQTT != nil {
		if err := a.MQTT.Connect(ctx); err != nil {
			// paho keeps retrying and subscriptions are restored on connect
			log.Warn("MQTT broker not reachable, retrying in background", logger.Error(err))
		}
		if topic := a.Settings.MQTT.IntakeTopic; topic != "" {
			intake := mqtt.NewIntake(a.MQTT, a.Engine, topic, a.Metrics.MQTT, a.Log)
			if err := intake.Start(); err != nil {
				return err
			}
		}
	}

	if a.Settings.Processor.Enabled {
		if err := a.Engine.Start(ctx); err != nil {
			return err
		}
		defer a.Engine.Stop()
	}

	if a.Server != nil {
		g.Go(func() error {
			return a.Server.Run(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	log.Info("service running")
	err := g.Wait()
	log.Info("service stopping")
	return err
}

// Close releases every component. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.MQTT != nil {
			a.MQTT.Disconnect()
		}
		if a.Bus != nil {
			if err := a.Bus.Shutdown(busShutdownTimeout); err != nil {
				errs = append(errs, err)
			}
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		telemetry.Flush(flushTimeout)
		if a.central != nil {
			if err := a.central.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// LoggingConfig maps settings onto the central logger configuration.
func LoggingConfig(settings *conf.Settings) *logger.LoggingConfig {
	s := settings.Logging
	level := s.Level
	if settings.Debug {
		level = "debug"
	}

	cfg := &logger.LoggingConfig{
		DefaultLevel: level,
		Timezone:     s.Timezone,
		Console:      &logger.ConsoleOutput{Enabled: s.Console, Level: level},
		ModuleLevels: s.ModuleLevels,
	}
	if s.File.Enabled {
		cfg.FileOutput = &logger.FileOutput{
			Enabled:    true,
			Path:       s.File.Path,
			Level:      level,
			MaxSize:    s.File.MaxSize,
			MaxAge:     s.File.MaxAge,
			MaxBackups: s.File.MaxBackups,
			Compress:   s.File.Compress,
		}
	}
	return cfg
}

// StderrLogger returns the logger used by one-shot commands, which keep
// stdout for their results.
func StderrLogger(settings *conf.Settings) logger.Logger {
	level := logger.LogLevelWarn
	if settings != nil && settings.Debug {
		level = logger.LogLevelDebug
	}
	return logger.NewSlogLogger(os.Stderr, level, nil)
}
