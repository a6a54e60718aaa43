// Package conf loads migrator settings from config.yaml, environment variables and flags.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/hearthline/migrator/internal/secrets"
)

// SourceSettings describes the legacy MongoDB document store.
type SourceSettings struct {
	URI         string             // mongodb:// or mongodb+srv:// connection string
	Database    string             // database holding the legacy collections
	Timeout     time.Duration      // connect and per-page query timeout
	Collections CollectionSettings // collection names per record kind
}

// CollectionSettings names the source collection for each record kind.
type CollectionSettings struct {
	Users         string
	Properties    string
	Tags          string
	TagReferences string
	Contacts      string
}

// TargetSettings describes the destination RPC backend.
type TargetSettings struct {
	Endpoint string        // base URL of the query/mutation API
	Token     string        // bearer token used to authenticate, may hold ${VAR} references
	TokenFile string        // file holding the token, wins over Token
	Timeout   time.Duration // per-call timeout
	ShadowDB  string        // SQLite path or mysql:// DSN; when set, writes go to a local rehearsal store instead
}

// GeocodingSettings configures the address lookup service.
type GeocodingSettings struct {
	Endpoint          string        // Google Geocoding compatible endpoint
	APIKey            string        // API key sent as the "key" query parameter
	APIKeyFile        string        // file holding the API key, wins over APIKey
	Region            string        // optional region bias, e.g. "us"
	Timeout           time.Duration // per-request timeout
	CacheTTL          time.Duration // how long resolved addresses are cached
	RequestsPerSecond float64       // client side rate limit
}

// MappingSettings holds the static identifier tables.
// Keys given inline are lowercased by the config loader; use File for case-sensitive source IDs.
type MappingSettings struct {
	File          string            // optional YAML file with organizations/users/unknown_user
	Organizations map[string]string // source organization ID -> target organization ID
	Users         map[string]string // source user ID -> target user ID
	UnknownUser   string            // target user ID substituted for unmapped creators
}

// MigrationSettings tunes the run loop.
type MigrationSettings struct {
	PageSize      int               // records per source page
	WriteDelay    time.Duration     // minimum spacing between successful writes
	ProgressEvery int               // log progress every N records, 0 disables
	Filters       map[string]string // per-kind source filter as a JSON object
}

// LoggingSettings maps onto logger.LoggingConfig.
type LoggingSettings struct {
	Level        string            // default level
	Timezone     string            // "Local", "UTC" or IANA name
	File         string            // JSON audit log path, empty disables
	ModuleLevels map[string]string // per-module overrides
}

// MetricsSettings controls Prometheus run metrics.
type MetricsSettings struct {
	Enabled  bool
	Textfile string // node_exporter textfile collector output path
	Listen   string // optional address serving /metrics during a run, e.g. ":9102"
}

// NotifySettings controls the run summary notification.
type NotifySettings struct {
	URLs    []string      // shoutrrr service URLs
	Title   string        // message title
	Timeout time.Duration // send timeout
}

// TelemetrySettings controls Sentry error reporting.
type TelemetrySettings struct {
	Enabled       bool
	SentryDSN     string
	SentryDSNFile string
	Environment   string
}

// Settings contains all configuration options for the migrator.
type Settings struct {
	Debug bool // true to enable debug logging

	// Runtime values, not stored in config file
	Version string `yaml:"-"`

	Source    SourceSettings
	Target    TargetSettings
	Geocoding GeocodingSettings
	Mapping   MappingSettings
	Migration MigrationSettings
	Logging   LoggingSettings
	Metrics   MetricsSettings
	Notify    NotifySettings
	Telemetry TelemetrySettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings value.
// An explicit configFile must exist; otherwise the default search paths are tried and
// a missing file is not an error.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// resolveSecrets replaces credential settings with the values their
// secret files or environment references point at.
func resolveSecrets(settings *Settings) error {
	fields := []struct {
		name  string
		file  string
		value *string
	}{
		{"target.token", settings.Target.TokenFile, &settings.Target.Token},
		{"geocoding.apikey", settings.Geocoding.APIKeyFile, &settings.Geocoding.APIKey},
		{"telemetry.sentrydsn", settings.Telemetry.SentryDSNFile, &settings.Telemetry.SentryDSN},
	}
	for _, f := range fields {
		resolved, err := secrets.Resolve(f.name, f.file, *f.value)
		if err != nil {
			return fmt.Errorf("error resolving %s: %w", f.name, err)
		}
		*f.value = resolved
	}
	return nil
}

// initViper sets defaults, binds environment variables and reads the config file.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
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
			// Environment variables and flags alone are a valid configuration
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "migrator"))
	}
	return append(paths, "/etc/migrator")
}

// GetSettings returns the settings loaded by the last successful Load call.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// ConfigFileUsed reports which config file was read, empty when none was found.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
