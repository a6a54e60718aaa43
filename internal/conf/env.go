// env.go - Environment variable configuration and validation for the migrator
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix is prepended to every environment variable name.
const envPrefix = "MIGRATOR"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "MIGRATOR_DEBUG", validateEnvBool},

		// Source store
		{"source.uri", "MIGRATOR_SOURCE_URI", validateEnvMongoURI},
		{"source.database", "MIGRATOR_SOURCE_DATABASE", nil},
		{"source.timeout", "MIGRATOR_SOURCE_TIMEOUT", validateEnvDuration},

		// Target backend
		{"target.endpoint", "MIGRATOR_TARGET_ENDPOINT", validateEnvURL},
		{"target.token", "MIGRATOR_TARGET_TOKEN", nil},
		{"target.tokenfile", "MIGRATOR_TARGET_TOKENFILE", nil},
		{"target.timeout", "MIGRATOR_TARGET_TIMEOUT", validateEnvDuration},
		{"target.shadowdb", "MIGRATOR_TARGET_SHADOWDB", nil},

		// Geocoding
		{"geocoding.endpoint", "MIGRATOR_GEOCODING_ENDPOINT", validateEnvURL},
		{"geocoding.apikey", "MIGRATOR_GEOCODING_APIKEY", nil},
		{"geocoding.apikeyfile", "MIGRATOR_GEOCODING_APIKEYFILE", nil},

		// Mapping
		{"mapping.file", "MIGRATOR_MAPPING_FILE", nil},
		{"mapping.unknownuser", "MIGRATOR_MAPPING_UNKNOWNUSER", nil},

		// Run loop
		{"migration.pagesize", "MIGRATOR_MIGRATION_PAGESIZE", validateEnvPositiveInt},
		{"migration.writedelay", "MIGRATOR_MIGRATION_WRITEDELAY", validateEnvDuration},

		// Telemetry
		{"telemetry.sentrydsn", "MIGRATOR_TELEMETRY_SENTRYDSN", nil},
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
					warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("must be a boolean (true/false/1/0)")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n <= 0 {
		return fmt.Errorf("must be greater than zero, got %d", n)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("must be a duration such as 200ms or 30s")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// validateEnvMongoURI checks the scheme only; the driver validates the rest on connect.
func validateEnvMongoURI(value string) error {
	v := strings.TrimSpace(value)
	if !strings.HasPrefix(v, "mongodb://") && !strings.HasPrefix(v, "mongodb+srv://") {
		return fmt.Errorf("must start with mongodb:// or mongodb+srv://")
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return bindEnvVars()
}
