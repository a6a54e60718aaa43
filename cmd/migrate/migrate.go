// Package migrate provides the migrate command
package migrate

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthline/migrator/internal/config"
	"github.com/hearthline/migrator/internal/geocode"
	"github.com/hearthline/migrator/internal/logger"
	migration "github.com/hearthline/migrator/internal/migrate"
	"github.com/hearthline/migrator/internal/notify"
	"github.com/hearthline/migrator/internal/observability"
)

const defaultNotifyTimeout = 10 * time.Second

// Command creates and returns the migrate command
func Command(ctx *config.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [users|properties|tags|all]...",
		Short:     "Copy legacy records into the target backend",
		Long:      `Migrate reads users, properties and tags from the legacy store and creates or updates them in the target backend. Kinds run in the order users, properties, tags; "all" or no argument runs every kind. Re-running is safe: records already migrated are updated, never duplicated.`,
		ValidArgs: []string{"users", "properties", "tags", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := parseKinds(args)
			if err != nil {
				return err
			}
			return runMigration(cmd, ctx, kinds)
		},
	}

	return cmd
}

// parseKinds turns arguments into kinds in pipeline order, so tags always
// run after the properties their links may point at.
func parseKinds(args []string) ([]migration.Kind, error) {
	if len(args) == 0 || slices.Contains(args, "all") {
		return migration.AllKinds, nil
	}
	requested := make(map[migration.Kind]bool, len(args))
	for _, arg := range args {
		kind, err := migration.ParseKind(arg)
		if err != nil {
			return nil, err
		}
		requested[kind] = true
	}
	var kinds []migration.Kind
	for _, kind := range migration.AllKinds {
		if requested[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

func runMigration(cmd *cobra.Command, app *config.Context, kinds []migration.Kind) error {
	ctx := cmd.Context()
	settings := app.Settings
	log := app.Module("migrate")

	cfg, err := app.MigrationConfig()
	if err != nil {
		return err
	}
	mapper, err := app.Mapper()
	if err != nil {
		return err
	}

	store, err := app.OpenSource(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("closing source store failed", logger.Error(err))
		}
	}()

	tgt, err := app.OpenTarget(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tgt.Backend.Close(); err != nil {
			log.Warn("closing target failed", logger.Error(err))
		}
	}()

	switch {
	case tgt.Shadow != nil && slices.Contains(kinds, migration.KindTags):
		n, err := migration.SeedContacts(ctx, store, settings.Source.Collections.Contacts, tgt.Shadow, cfg.PageSize)
		if err != nil {
			return err
		}
		log.Info("rehearsing against shadow store",
			logger.String("dsn", settings.Target.ShadowDB),
			logger.Int("contacts_seeded", n))
	case tgt.Shadow != nil:
		log.Info("rehearsing against shadow store", logger.String("dsn", settings.Target.ShadowDB))
	default:
		log.Info("authenticated to target", logger.String("viewer", tgt.Viewer.Email))
	}

	var geocoder *geocode.Client
	if slices.Contains(kinds, migration.KindProperties) {
		if geocoder, err = app.Geocoder(); err != nil {
			return err
		}
		defer geocoder.Close()
	}

	var notifier *notify.Notifier
	if len(settings.Notify.URLs) > 0 {
		notifier, err = notify.New(notify.Config{
			URLs:    settings.Notify.URLs,
			Title:   settings.Notify.Title,
			Timeout: settings.Notify.Timeout,
			Logger:  app.Logger,
		})
		if err != nil {
			return err
		}
	}

	deps := migration.Deps{
		Source: store,
		Target: tgt.Backend,
		Mapper: mapper,
		Logger: log,
	}
	if geocoder != nil {
		deps.Geocoder = geocoder
	}

	metrics, stopMetrics, err := startMetrics(app)
	if err != nil {
		return err
	}
	if metrics != nil {
		deps.Recorder = metrics.Migration
	}

	stats, runErr := migration.NewRunner(deps, cfg).Run(ctx, kinds...)
	stopMetrics()

	stats.WriteSummary(cmd.OutOrStdout())
	if geocoder != nil {
		g := geocoder.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "\nGeocoding: %d requests, %d cache hits, %d without results, %d failures\n",
			g.Requests, g.CacheHits, g.NoResults, g.Failures)
	}

	if metrics != nil && settings.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(settings.Metrics.Textfile); err != nil {
			log.Warn("metrics textfile not written", logger.Error(err))
		}
	}

	if notifier != nil {
		timeout := settings.Notify.Timeout
		if timeout <= 0 {
			timeout = defaultNotifyTimeout
		}
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := notifier.SendSummary(sendCtx, stats, runErr); err != nil {
			log.Warn("run summary notification failed", logger.Error(err))
		}
	}

	return runErr
}

// startMetrics creates the run's metrics when enabled and serves them
// while the run is in progress if a listen address is configured. The
// returned stop function is always safe to call.
func startMetrics(app *config.Context) (*observability.Metrics, func(), error) {
	if !app.Settings.Metrics.Enabled {
		return nil, func() {}, nil
	}
	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, nil, err
	}
	if app.Settings.Metrics.Listen == "" {
		return metrics, func() {}, nil
	}

	endpoint, err := observability.NewEndpoint(app.Settings, metrics, app.Logger)
	if err != nil {
		return nil, nil, err
	}
	var wg sync.WaitGroup
	quit := make(chan struct{})
	endpoint.Start(&wg, quit)
	return metrics, func() {
		close(quit)
		wg.Wait()
	}, nil
}
