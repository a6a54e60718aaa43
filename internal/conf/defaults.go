// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("source.uri", "mongodb://localhost:27017")
	viper.SetDefault("source.database", "legacy")
	viper.SetDefault("source.timeout", 30*time.Second)
	viper.SetDefault("source.collections.users", "users")
	viper.SetDefault("source.collections.properties", "properties")
	viper.SetDefault("source.collections.tags", "tags")
	viper.SetDefault("source.collections.tagreferences", "tag_references")
	viper.SetDefault("source.collections.contacts", "contacts")

	viper.SetDefault("target.endpoint", "")
	viper.SetDefault("target.token", "")
	viper.SetDefault("target.tokenfile", "")
	viper.SetDefault("target.timeout", 30*time.Second)
	viper.SetDefault("target.shadowdb", "")

	viper.SetDefault("geocoding.endpoint", "https://maps.googleapis.com/maps/api/geocode/json")
	viper.SetDefault("geocoding.apikey", "")
	viper.SetDefault("geocoding.apikeyfile", "")
	viper.SetDefault("geocoding.region", "")
	viper.SetDefault("geocoding.timeout", 10*time.Second)
	viper.SetDefault("geocoding.cachettl", 24*time.Hour)
	viper.SetDefault("geocoding.requestspersecond", 10.0)

	viper.SetDefault("mapping.file", "")
	viper.SetDefault("mapping.unknownuser", "")

	viper.SetDefault("migration.pagesize", 100)
	viper.SetDefault("migration.writedelay", 200*time.Millisecond)
	viper.SetDefault("migration.progressevery", 100)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.file", "")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.textfile", "")
	viper.SetDefault("metrics.listen", "")

	viper.SetDefault("notify.title", "Legacy migration finished")
	viper.SetDefault("notify.timeout", 10*time.Second)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.sentrydsn", "")
	viper.SetDefault("telemetry.sentrydsnfile", "")
	viper.SetDefault("telemetry.environment", "production")
}
