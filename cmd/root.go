package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hearthline/migrator/cmd/check"
	"github.com/hearthline/migrator/cmd/count"
	"github.com/hearthline/migrator/cmd/migrate"
	"github.com/hearthline/migrator/internal/buildinfo"
	"github.com/hearthline/migrator/internal/conf"
	"github.com/hearthline/migrator/internal/config"
)

// dryRunDSN is the shadow store used by --dry-run unless --shadow-db is given.
const dryRunDSN = ":memory:"

// RootCommand creates and returns the root command
func RootCommand(ctx *config.Context, info *buildinfo.Context) *cobra.Command {
	var (
		configFile string
		dryRun     bool
	)

	rootCmd := &cobra.Command{
		Use:           "migrator",
		Short:         "Migrate legacy CRM users, properties and tags into the new backend",
		Version:       info.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, &configFile, &dryRun); err != nil {
		panic(err)
	}

	// Add sub-commands to the root command.
	rootCmd.AddCommand(
		migrate.Command(ctx),
		count.Command(ctx),
		check.Command(ctx),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if dryRun && !cmd.Flags().Changed("shadow-db") {
			viper.Set("target.shadowdb", dryRunDSN)
		}
		settings, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		settings.Version = info.GetVersion()
		return ctx.Init(settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
// Flags bound through viper override the config file and environment.
func setupFlags(rootCmd *cobra.Command, configFile *string, dryRun *bool) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: ./config.yaml, ~/.config/migrator, /etc/migrator)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("shadow-db", "", "Write to a local rehearsal store (SQLite path or mysql://DSN) instead of the target backend")
	flags.BoolVar(dryRun, "dry-run", false, "Rehearse against an in-memory shadow store")

	if err := viper.BindPFlag("debug", flags.Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("target.shadowdb", flags.Lookup("shadow-db")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
