// Package notify sends the run summary through shoutrrr service URLs.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/logger"
	"github.com/hearthline/migrator/internal/migrate"
)

const defaultTitle = "Legacy migration finished"

// Config configures a Notifier.
type Config struct {
	URLs    []string
	Title   string
	Timeout time.Duration
	Logger  logger.Logger
}

// Notifier delivers run summaries to every configured service.
type Notifier struct {
	sender *router.ServiceRouter
	title  string
	urls   int
	logger logger.Logger
}

// New builds a Notifier. It validates every URL up front so a bad
// configuration fails before the run rather than after it.
func New(cfg Config) (*Notifier, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(slices.Clone(cfg.URLs)...)
	if err != nil {
		return nil, errors.Newf("invalid notification URL: %s", logger.RedactSensitiveData(err.Error())).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Timeout > 0 {
		sender.Timeout = cfg.Timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	title := cfg.Title
	if title == "" {
		title = defaultTitle
	}
	baseLog := cfg.Logger
	if baseLog == nil {
		baseLog = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	return &Notifier{
		sender: sender,
		title:  title,
		urls:   len(cfg.URLs),
		logger: baseLog.Module("notify"),
	}, nil
}

// SendSummary sends the summary of a finished run. runErr is the fatal
// error that aborted the run, if any. Delivery errors are joined and
// redacted since service URLs carry tokens.
func (n *Notifier) SendSummary(ctx context.Context, stats *migrate.RunStatistics, runErr error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	title := n.title
	if runErr != nil {
		title += " (aborted)"
	}
	params := stypes.Params{}
	params.SetTitle(title)

	var failures []error
	for _, err := range n.sender.Send(FormatSummary(stats, runErr), &params) {
		if err != nil {
			failures = append(failures, errors.NewStd(logger.RedactSensitiveData(err.Error())))
		}
	}
	if len(failures) > 0 {
		return errors.New(errors.Join(failures...)).
			Component("notify").
			Category(errors.CategoryNetwork).
			Context("failed_services", len(failures)).
			Build()
	}

	n.logger.Info("run summary sent", logger.Int("services", n.urls))
	return nil
}

// FormatSummary renders the message body for a run.
func FormatSummary(stats *migrate.RunStatistics, runErr error) string {
	var buf bytes.Buffer
	if runErr != nil {
		fmt.Fprintf(&buf, "Run aborted: %s\n", logger.RedactSensitiveData(runErr.Error()))
	}
	if stats != nil {
		stats.WriteSummary(&buf)
	}
	return buf.String()
}
