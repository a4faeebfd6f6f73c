// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console", true)
	viper.SetDefault("logging.file.enabled", false)
	viper.SetDefault("logging.file.path", "logs/geonudge.log")
	viper.SetDefault("logging.file.maxsize", 100)
	viper.SetDefault("logging.file.maxage", 30)
	viper.SetDefault("logging.file.maxbackups", 10)
	viper.SetDefault("logging.file.compress", false)
	viper.SetDefault("logging.modulelevels", map[string]string{})

	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.slowthreshold", 200*time.Millisecond)
	viper.SetDefault("database.sqlite.path", "geonudge.db")
	viper.SetDefault("database.mysql.username", "")
	viper.SetDefault("database.mysql.password", "")
	viper.SetDefault("database.mysql.database", "geonudge")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")

	viper.SetDefault("intake.confidencefloor", 0.5)
	viper.SetDefault("intake.unknowntask", "reject")
	viper.SetDefault("intake.confidence.coreratio", 0.5)
	viper.SetDefault("intake.confidence.boundaryscore", 0.75)
	viper.SetDefault("intake.confidence.outerratio", 2.0)
	viper.SetDefault("intake.ratelimit.enabled", true)
	viper.SetDefault("intake.ratelimit.events", 120)
	viper.SetDefault("intake.ratelimit.window", time.Minute)
	viper.SetDefault("intake.ratelimit.buckets", 6)
	viper.SetDefault("intake.ratelimit.maxkeys", 10000)

	viper.SetDefault("dedup.cooldown.approachwide", 60*time.Minute)
	viper.SetDefault("dedup.cooldown.approachnear", 30*time.Minute)
	viper.SetDefault("dedup.cooldown.arrival", 10*time.Minute)
	viper.SetDefault("dedup.cooldown.postarrival", 20*time.Minute)
	viper.SetDefault("dedup.bundlewindow", 2*time.Minute)
	viper.SetDefault("dedup.approachdelay.wide", 2*time.Minute)
	viper.SetDefault("dedup.approachdelay.near", time.Minute)

	viper.SetDefault("snooze.maxcount", 5)
	viper.SetDefault("snooze.capaction", "reject")
	viper.SetDefault("snooze.morninghour", 9)
	viper.SetDefault("snooze.timezone", "Local")

	viper.SetDefault("retry.basedelay", time.Minute)
	viper.SetDefault("retry.multiplier", 2.0)
	viper.SetDefault("retry.maxdelay", time.Hour)
	viper.SetDefault("retry.maxretries", 3)
	viper.SetDefault("retry.jitter", false)
	viper.SetDefault("retry.batchsize", 100)

	viper.SetDefault("processor.enabled", true)
	viper.SetDefault("processor.interval", 5*time.Minute)
	viper.SetDefault("processor.leasettl", 4*time.Minute)
	viper.SetDefault("processor.retention", 24*time.Hour)
	viper.SetDefault("processor.dispatchinterval", 30*time.Second)
	viper.SetDefault("processor.dispatchbatch", 100)

	viper.SetDefault("delivery.provider", "log")
	viper.SetDefault("delivery.timeout", 10*time.Second)
	viper.SetDefault("delivery.claimttl", time.Minute)
	viper.SetDefault("delivery.rate", 50.0)
	viper.SetDefault("delivery.burst", 10)
	viper.SetDefault("delivery.concurrency", 4)
	viper.SetDefault("delivery.circuitbreaker.enabled", true)
	viper.SetDefault("delivery.circuitbreaker.maxfailures", 5)
	viper.SetDefault("delivery.circuitbreaker.timeout", 30*time.Second)
	viper.SetDefault("delivery.circuitbreaker.halfopenmaxrequests", 1)
	viper.SetDefault("delivery.webhook.url", "")
	viper.SetDefault("delivery.webhook.headers", map[string]string{})
	viper.SetDefault("delivery.shoutrrr.urls", []string{})

	viper.SetDefault("tasks.completionurl", "")
	viper.SetDefault("tasks.completionheaders", map[string]string{})
	viper.SetDefault("tasks.completiontimeout", 10*time.Second)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientid", "geonudge")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.intaketopic", "geonudge/geofence-events")
	viper.SetDefault("mqtt.notificationtopic", "geonudge/notifications")
	viper.SetDefault("mqtt.eventtopic", "geonudge/lifecycle")
	viper.SetDefault("mqtt.qos", 1)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", ":8080")
	viper.SetDefault("webserver.admintoken", "")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")
	viper.SetDefault("sentry.samplerate", 1.0)

	viper.SetDefault("eventbus.buffersize", 1000)
	viper.SetDefault("eventbus.workers", 2)
}
