package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hearthline/migrator/cmd"
	"github.com/hearthline/migrator/internal/buildinfo"
	"github.com/hearthline/migrator/internal/config"
	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/migrate"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

// Exit codes. Per-record failures do not change the exit code; only an
// aborted run does.
const (
	exitOK             = 0
	exitError          = 1
	exitAuthentication = 2
	exitExtraction     = 3
	exitInterrupted    = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &config.Context{}
	defer func() {
		if err := app.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", err)
		}
	}()

	rootCmd := cmd.RootCommand(app, buildinfo.NewContext(version, buildDate))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, migrate.ErrAuthentication):
		return exitAuthentication
	case errors.Is(err, migrate.ErrExtraction):
		return exitExtraction
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitError
	}
}
