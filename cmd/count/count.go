// Package count provides the count command
package count

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hearthline/migrator/internal/conf"
	"github.com/hearthline/migrator/internal/config"
	"github.com/hearthline/migrator/internal/logger"
	migration "github.com/hearthline/migrator/internal/migrate"
	"github.com/hearthline/migrator/internal/source"
)

// Command creates and returns the count command
func Command(ctx *config.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count the legacy records a migration would read",
		Long:  `Count reports how many documents each source collection holds after the configured migration filters are applied. Nothing is written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(cmd, ctx)
		},
	}

	return cmd
}

// collectionCount is one row of the count report.
type collectionCount struct {
	kind       string
	collection string
	filter     source.Filter
}

func runCount(cmd *cobra.Command, app *config.Context) error {
	ctx := cmd.Context()
	cfg, err := app.MigrationConfig()
	if err != nil {
		return err
	}

	store, err := app.OpenSource(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			app.Logger.Warn("closing source store failed", logger.Error(err))
		}
	}()

	return writeCounts(ctx, cmd.OutOrStdout(), store, rows(app.Settings.Source.Collections, cfg))
}

func rows(cols conf.CollectionSettings, cfg migration.Config) []collectionCount {
	return []collectionCount{
		{"users", cols.Users, cfg.Filters[migration.KindUsers]},
		{"properties", cols.Properties, cfg.Filters[migration.KindProperties]},
		{"tags", cols.Tags, cfg.Filters[migration.KindTags]},
		{"links", cols.TagReferences, cfg.Filters[migration.KindLinks]},
		{"contacts", cols.Contacts, nil},
	}
}

func writeCounts(ctx context.Context, w io.Writer, store source.Store, counts []collectionCount) error {
	fmt.Fprintf(w, "%-12s %-20s %12s\n", "Kind", "Collection", "Documents")
	for _, row := range counts {
		if row.collection == "" {
			continue
		}
		n, err := store.Count(ctx, row.collection, row.filter)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-12s %-20s %12d\n", row.kind, row.collection, n)
	}
	return nil
}
