// Package config builds the run's collaborators from loaded settings and
// holds the application state shared by the CLI commands.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hearthline/migrator/internal/conf"
	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/geocode"
	"github.com/hearthline/migrator/internal/idmap"
	"github.com/hearthline/migrator/internal/logger"
	"github.com/hearthline/migrator/internal/migrate"
	"github.com/hearthline/migrator/internal/source"
	"github.com/hearthline/migrator/internal/target"
)

// Context holds the overall application state: the settings and the
// logger every component derives its module logger from.
type Context struct {
	Settings *conf.Settings
	Logger   logger.Logger

	central        *logger.CentralLogger
	flushTelemetry func()
}

// Target is an opened destination. Shadow is set when writes go to the
// rehearsal store; Viewer is set when the RPC backend authenticated.
type Target struct {
	Backend target.Backend
	Shadow  *target.ShadowBackend
	Viewer  target.Viewer
}

// Init builds the logger and optional error telemetry for settings.
func (c *Context) Init(settings *conf.Settings) error {
	central, err := logger.NewCentralLogger(LoggingConfig(settings))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	c.Settings = settings
	c.central = central
	c.Logger = central.Module("migrator")
	c.flushTelemetry = func() {}

	if settings.Telemetry.Enabled {
		flush, err := errors.InitSentry(settings.Telemetry.SentryDSN, settings.Telemetry.Environment, settings.Version)
		if err != nil {
			c.Logger.Warn("error telemetry disabled", logger.Error(err))
		} else {
			c.flushTelemetry = flush
		}
	}
	return nil
}

// Close flushes telemetry and the log file. It is safe to call on a
// Context that was never initialized.
func (c *Context) Close() error {
	if c.flushTelemetry != nil {
		c.flushTelemetry()
		c.flushTelemetry = nil
	}
	if c.central == nil {
		return nil
	}
	central := c.central
	c.central = nil
	return central.Close()
}

// Module returns the logger for a named module.
func (c *Context) Module(name string) logger.Logger {
	return c.Logger.Module(name)
}

// LoggingConfig maps settings onto the logger configuration. --debug
// lowers the default level.
func LoggingConfig(settings *conf.Settings) *logger.LoggingConfig {
	level := settings.Logging.Level
	if settings.Debug {
		level = "debug"
	}
	return &logger.LoggingConfig{
		DefaultLevel: level,
		Timezone:     settings.Logging.Timezone,
		Console: &logger.ConsoleOutput{
			Enabled: true,
			Level:   level,
		},
		FileOutput: &logger.FileOutput{
			Enabled: settings.Logging.File != "",
			Path:    settings.Logging.File,
			Level:   "debug",
		},
		ModuleLevels: settings.Logging.ModuleLevels,
	}
}

// OpenSource connects to the legacy store.
func (c *Context) OpenSource(ctx context.Context) (*source.MongoStore, error) {
	s := c.Settings.Source
	return source.NewMongoStore(ctx, source.MongoConfig{
		URI:      s.URI,
		Database: s.Database,
		Timeout:  s.Timeout,
		Logger:   c.Module("source"),
	})
}

// OpenTarget opens the shadow store when target.shadowdb is set, otherwise
// the RPC backend, which is authenticated before it is returned. An
// authentication failure wraps migrate.ErrAuthentication.
func (c *Context) OpenTarget(ctx context.Context) (*Target, error) {
	t := c.Settings.Target
	if t.ShadowDB != "" {
		shadow, err := target.OpenShadowBackend(target.ShadowConfig{
			DSN:    t.ShadowDB,
			Logger: c.Module("target"),
		})
		if err != nil {
			return nil, err
		}
		return &Target{Backend: shadow, Shadow: shadow}, nil
	}

	client, err := target.NewRPCClient(target.ClientConfig{
		Endpoint: t.Endpoint,
		Timeout:  t.Timeout,
		Logger:   c.Module("target"),
	})
	if err != nil {
		return nil, err
	}
	viewer, err := migrate.Authenticate(ctx, client, t.Token)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &Target{Backend: target.NewRPCBackend(client), Viewer: viewer}, nil
}

// Mapper builds the identifier tables: inline settings first, then the
// mapping file, whose entries win.
func (c *Context) Mapper() (*idmap.Mapper, error) {
	m := c.Settings.Mapping
	tables := idmap.Tables{
		Organizations: m.Organizations,
		Users:         m.Users,
		UnknownUser:   m.UnknownUser,
	}
	if m.File != "" {
		fromFile, err := idmap.LoadFile(m.File)
		if err != nil {
			return nil, err
		}
		tables = idmap.Merge(tables, fromFile)
	}
	if tables.UnknownUser == "" {
		return nil, errors.Newf("mapping.unknownuser is required").
			Component("config").
			Category(errors.CategoryMapping).
			Build()
	}
	return idmap.New(tables), nil
}

// Geocoder builds the geocoding client.
func (c *Context) Geocoder() (*geocode.Client, error) {
	g := c.Settings.Geocoding
	return geocode.New(geocode.Config{
		Endpoint:          g.Endpoint,
		APIKey:            g.APIKey,
		Region:            g.Region,
		Timeout:           g.Timeout,
		CacheTTL:          g.CacheTTL,
		RequestsPerSecond: g.RequestsPerSecond,
		Logger:            c.Module("geocode"),
	})
}

// MigrationConfig builds the runner configuration. Filters are keyed by
// kind, with "links" filtering the tag reference collection.
func (c *Context) MigrationConfig() (migrate.Config, error) {
	m := c.Settings.Migration
	cols := c.Settings.Source.Collections
	cfg := migrate.Config{
		Collections: migrate.Collections{
			Users:         cols.Users,
			Properties:    cols.Properties,
			Tags:          cols.Tags,
			TagReferences: cols.TagReferences,
		},
		PageSize:      m.PageSize,
		WriteDelay:    m.WriteDelay,
		ProgressEvery: m.ProgressEvery,
		Filters:       make(map[migrate.Kind]source.Filter, len(m.Filters)),
	}

	for key, raw := range m.Filters {
		kind := migrate.KindLinks
		if !strings.EqualFold(key, string(migrate.KindLinks)) {
			parsed, err := migrate.ParseKind(strings.ToLower(key))
			if err != nil {
				return migrate.Config{}, err
			}
			kind = parsed
		}
		var filter source.Filter
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			return migrate.Config{}, errors.Newf("migration.filters.%s: %w", key, err).
				Component("config").
				Category(errors.CategoryConfiguration).
				Build()
		}
		cfg.Filters[kind] = filter
	}
	return cfg, nil
}
