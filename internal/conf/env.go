// env.go - Environment variable configuration and validation for geonudge
package conf

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "GEONUDGE_DEBUG", validateEnvBool},
		{"logging.level", "GEONUDGE_LOG_LEVEL", validateEnvLogLevel},

		// Database
		{"database.type", "GEONUDGE_DATABASE_TYPE", validateEnvOneOf("sqlite", "mysql")},
		{"database.sqlite.path", "GEONUDGE_SQLITE_PATH", nil},
		{"database.mysql.host", "GEONUDGE_MYSQL_HOST", nil},
		{"database.mysql.port", "GEONUDGE_MYSQL_PORT", validateEnvPort},
		{"database.mysql.username", "GEONUDGE_MYSQL_USERNAME", nil},
		{"database.mysql.password", "GEONUDGE_MYSQL_PASSWORD", nil},
		{"database.mysql.database", "GEONUDGE_MYSQL_DATABASE", nil},

		// Engine tuning
		{"intake.confidencefloor", "GEONUDGE_CONFIDENCE_FLOOR", validateEnvUnitInterval},
		{"intake.unknowntask", "GEONUDGE_UNKNOWN_TASK", validateEnvOneOf("reject", "accept")},
		{"snooze.maxcount", "GEONUDGE_SNOOZE_MAXCOUNT", validateEnvNonNegativeInt},
		{"snooze.timezone", "GEONUDGE_SNOOZE_TIMEZONE", validateEnvTimezone},
		{"retry.maxretries", "GEONUDGE_RETRY_MAXRETRIES", validateEnvNonNegativeInt},
		{"processor.interval", "GEONUDGE_PROCESSOR_INTERVAL", validateEnvDuration},

		// Delivery
		{"delivery.provider", "GEONUDGE_DELIVERY_PROVIDER", validateEnvOneOf("log", "webhook", "shoutrrr", "mqtt")},
		{"delivery.timeout", "GEONUDGE_DELIVERY_TIMEOUT", validateEnvDuration},
		{"delivery.webhook.url", "GEONUDGE_WEBHOOK_URL", validateEnvURL},
		{"tasks.completionurl", "GEONUDGE_TASK_COMPLETION_URL", validateEnvURL},

		// MQTT
		{"mqtt.enabled", "GEONUDGE_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "GEONUDGE_MQTT_BROKER", validateEnvURL},
		{"mqtt.username", "GEONUDGE_MQTT_USERNAME", nil},
		{"mqtt.password", "GEONUDGE_MQTT_PASSWORD", nil},

		// Surfaces
		{"webserver.listen", "GEONUDGE_LISTEN", nil},
		{"webserver.admintoken", "GEONUDGE_ADMIN_TOKEN", nil},
		{"sentry.enabled", "GEONUDGE_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "GEONUDGE_SENTRY_DSN", validateEnvURL},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	return validateEnvOneOf("trace", "debug", "info", "warn", "error")(value)
}

func validateEnvOneOf(allowed ...string) func(string) error {
	return func(value string) error {
		if !slices.Contains(allowed, strings.ToLower(value)) {
			return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
		}
		return nil
	}
}

func validateEnvUnitInterval(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1, got %v", f)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	return nil
}

func validateEnvTimezone(value string) error {
	if value == "Local" {
		return nil
	}
	if _, err := time.LoadLocation(value); err != nil {
		return fmt.Errorf("unknown timezone: %w", err)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL must include scheme and host")
	}
	return nil
}
