// config.go: settings struct for geonudge and the functions to load and save it.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LoggingSettings configures the central logger
type LoggingSettings struct {
	Level        string            // default level: trace, debug, info, warn, error
	Timezone     string            // "Local", "UTC" or IANA name for file timestamps
	Console      bool              // true to log text to stdout
	File         LogFileSettings   // rotated JSON log file
	ModuleLevels map[string]string // per-module level overrides
}

// LogFileSettings configures the rotated JSON log file
type LogFileSettings struct {
	Enabled    bool   // true to write a JSON log file
	Path       string // path to the log file
	MaxSize    int    // megabytes before rotation
	MaxAge     int    // days to keep rotated files
	MaxBackups int    // rotated files to keep
	Compress   bool   // gzip rotated files
}

// DatabaseSettings selects and configures the store
type DatabaseSettings struct {
	Type          string        // sqlite or mysql
	SlowThreshold time.Duration // queries slower than this are logged at warn

	SQLite struct {
		Path string // path to sqlite database
	}

	MySQL struct {
		Username string // username for mysql database
		Password string // password for mysql database
		Database string // database name for mysql database
		Host     string // host for mysql database
		Port     string // port for mysql database
	}
}

// ConfidenceSettings are the anchors of the proximity confidence curve.
// Ratios are distance divided by geofence radius.
type ConfidenceSettings struct {
	CoreRatio     float64 // at or inside this ratio confidence is 1.0
	BoundaryScore float64 // confidence exactly on the fence line
	OuterRatio    float64 // at or beyond this ratio confidence is 0.0
}

// RateLimitSettings bounds how many reports one user may submit
type RateLimitSettings struct {
	Enabled bool          // true to enforce the per-user limit
	Events  int           // reports allowed per window
	Window  time.Duration // sliding window length
	Buckets int           // buckets the window is split into
	MaxKeys int           // users tracked before least recently used eviction
}

// IntakeSettings controls geofence event acceptance
type IntakeSettings struct {
	ConfidenceFloor float64 // events below this confidence are discarded
	UnknownTask     string  // reject or accept
	Confidence      ConfidenceSettings
	RateLimit       RateLimitSettings
}

// TierDurations holds one duration per geofence tier
type TierDurations struct {
	ApproachWide time.Duration
	ApproachNear time.Duration
	Arrival      time.Duration
	PostArrival  time.Duration
}

// DedupSettings controls the cooldown filter and tier bundling
type DedupSettings struct {
	Cooldown      TierDurations // per-tier cooldown windows
	BundleWindow  time.Duration // records created within this window compete
	ApproachDelay struct {
		Wide time.Duration // scheduling delay for approach_wide
		Near time.Duration // scheduling delay for approach_near
	}
}

// SnoozeSettings controls the snooze manager
type SnoozeSettings struct {
	MaxCount    int    // snoozes allowed per notification chain, 0 for unlimited
	CapAction   string // reject, complete or mute once the cap is reached
	MorningHour int    // hour of day "today" snoozes resume
	Timezone    string // timezone used for "today" snoozes
}

// RetrySettings controls delivery retry backoff
type RetrySettings struct {
	BaseDelay  time.Duration // delay before the first retry
	Multiplier float64       // backoff multiplier per retry
	MaxDelay   time.Duration // upper bound for a single delay
	MaxRetries int           // retries after the first delivery attempt
	Jitter     bool          // true to add up to 20% random jitter
	BatchSize  int           // due retries handled per processor run
}

// ProcessorSettings controls the background processor
type ProcessorSettings struct {
	Enabled          bool          // true to schedule processor runs
	Interval         time.Duration // time between maintenance runs
	LeaseTTL         time.Duration // lease lifetime, must outlast a run
	Retention        time.Duration // terminal records older than this are deleted
	DispatchInterval time.Duration // time between scheduled-dispatch runs
	DispatchBatch    int           // due records delivered per dispatch run
}

// CircuitBreakerSettings configures the delivery circuit breaker
type CircuitBreakerSettings struct {
	Enabled             bool
	MaxFailures         int           // consecutive failures before opening
	Timeout             time.Duration // time open before probing
	HalfOpenMaxRequests int           // probes allowed while half-open
}

// DeliverySettings selects and configures the delivery gateway
type DeliverySettings struct {
	Provider       string        // log, webhook, shoutrrr or mqtt
	Timeout        time.Duration // bound on a single gateway call
	ClaimTTL       time.Duration // how long a delivery claim is honoured
	Rate           float64       // deliveries per second, 0 for unlimited
	Burst          int           // rate limiter burst
	Concurrency    int           // parallel gateway calls per dispatch run
	CircuitBreaker CircuitBreakerSettings

	Webhook struct {
		URL     string            // endpoint receiving JSON POSTs
		Headers map[string]string // extra request headers
	}

	Shoutrrr struct {
		URLs []string // shoutrrr service URLs
	}
}

// TasksSettings configures the place/task service collaborator
type TasksSettings struct {
	CompletionURL     string            // endpoint told about tasks completed from a notification, empty to disable
	CompletionHeaders map[string]string // extra request headers
	CompletionTimeout time.Duration     // bound on a single completion call
}

// MQTTSettings configures the MQTT client
type MQTTSettings struct {
	Enabled           bool   // true to connect to the broker
	Broker            string // e.g. tcp://localhost:1883
	ClientID          string // client identifier
	Username          string // broker username
	Password          string // broker password
	IntakeTopic       string // topic carrying geofence reports, empty to disable
	NotificationTopic string // prefix for delivered notifications, user id is appended
	EventTopic        string // topic for lifecycle events, empty to disable
	QoS               int    // 0, 1 or 2
}

// WebServerSettings configures the HTTP API
type WebServerSettings struct {
	Enabled    bool   // true to serve the HTTP API
	Listen     string // address to listen on
	AdminToken string // bearer token for admin routes, empty disables the check
}

// MetricsSettings configures the prometheus endpoint
type MetricsSettings struct {
	Enabled bool   // true to expose metrics
	Path    string // HTTP path for the metrics handler
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64
}

// EventBusSettings configures the lifecycle event bus
type EventBusSettings struct {
	BufferSize int // events queued before TryPublish drops
	Workers    int // consumer goroutines
}

// Settings contains all configuration options for geonudge
type Settings struct {
	Debug bool // true to enable debug logging

	// Runtime values, not stored in config file
	Version   string `yaml:"-"`
	BuildDate string `yaml:"-"`

	Logging   LoggingSettings
	Database  DatabaseSettings
	Intake    IntakeSettings
	Dedup     DedupSettings
	Snooze    SnoozeSettings
	Retry     RetrySettings
	Processor ProcessorSettings
	Delivery  DeliverySettings
	Tasks     TasksSettings
	MQTT      MQTTSettings
	WebServer WebServerSettings
	Metrics   MetricsSettings
	Sentry    SentrySettings
	EventBus  EventBusSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables.
// A missing config file is not an error; defaults and environment apply.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults, binds the environment and reads the config file.
// An explicit path in the "config" key takes precedence over the search paths.
func initViper() error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if explicit := viper.GetString("config"); explicit != "" {
		viper.SetConfigFile(explicit)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", explicit, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "geonudge"))
	}
	return append(paths, "/etc/geonudge")
}

// ConfigFileUsed returns the path of the loaded config file, empty when running on defaults
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath atomically.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// TierDuration returns the duration configured for tier, zero for unknown tiers
func (d TierDurations) TierDuration(tier string) time.Duration {
	switch tier {
	case "approach_wide":
		return d.ApproachWide
	case "approach_near":
		return d.ApproachNear
	case "arrival":
		return d.Arrival
	case "post_arrival":
		return d.PostArrival
	default:
		return 0
	}
}

// SnoozeLocation resolves the snooze timezone, falling back to local time
func (s *SnoozeSettings) SnoozeLocation() *time.Location {
	switch s.Timezone {
	case "", "Local":
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
