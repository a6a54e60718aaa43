// Package check provides the check command
package check

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hearthline/migrator/internal/config"
	"github.com/hearthline/migrator/internal/logger"
)

// Command creates and returns the check command
func Command(ctx *config.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the source store, target credentials and mapping tables",
		Long:  `Check pings the legacy store, authenticates to the target backend (or opens the shadow store) and loads the identifier tables, then exits without migrating anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, ctx)
		},
	}

	return cmd
}

func runCheck(cmd *cobra.Command, app *config.Context) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if err := writeMapping(out, app); err != nil {
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
	fmt.Fprintf(out, "Source: connected to %s\n", app.Settings.Source.Database)

	tgt, err := app.OpenTarget(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tgt.Backend.Close(); err != nil {
			app.Logger.Warn("closing target failed", logger.Error(err))
		}
	}()

	writeTarget(out, app, tgt)
	return nil
}

// writeMapping loads the identifier tables and reports their sizes. A
// missing unknown-user sentinel fails here, before any store is opened.
func writeMapping(w io.Writer, app *config.Context) error {
	mapper, err := app.Mapper()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Mapping: %d organizations, %d users, unknown user %s\n",
		mapper.OrgCount(), mapper.UserCount(), mapper.UnknownUser())
	return nil
}

func writeTarget(w io.Writer, app *config.Context, tgt *config.Target) {
	if tgt.Shadow != nil {
		fmt.Fprintf(w, "Target: shadow store %s\n", app.Settings.Target.ShadowDB)
		return
	}
	fmt.Fprintf(w, "Target: authenticated as %s <%s> (%s)\n", tgt.Viewer.Name, tgt.Viewer.Email, tgt.Viewer.ID)
}
