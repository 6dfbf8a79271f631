package reconcile

// Package reconcile resolves the remote identifiers of a build's execution
// records during teardown.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cbtgo/cbtgo/cli/cbt"
	"github.com/cbtgo/cbtgo/cli/poll"
	"github.com/cbtgo/cbtgo/metrics"
	"github.com/cbtgo/cbtgo/model"
	"github.com/rs/zerolog"
)

const DefaultScreenshotInterval = 30 * time.Second

// Remote is the part of the CBT API the reconciler queries.
type Remote interface {
	GetSeleniumTestInfo(ctx context.Context, q cbt.SeleniumQuery) (cbt.SeleniumTestInfo, error)
	QueryScreenshotTest(ctx context.Context, testID string) (bool, error)
}

// Host exposes the build's recorded actions.
type Host interface {
	Actions(kind model.TestKind) []*model.ExecutionRecord
	Log(line string)
}

// Summary counts the outcome of selenium reconciliation.
type Summary struct {
	Resolved int
	Failed   int
}

// Reconciler fills in remote test ids and public URLs.
type Reconciler struct {
	logger     zerolog.Logger
	host       Host
	remote     Remote
	metrics    *metrics.Metrics
	screenshot poll.Options
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithScreenshotPolling sets the completion poll interval and bound. A zero
// maxAttempts waits until the test completes.
func WithScreenshotPolling(maxAttempts int, interval time.Duration) Option {
	return func(r *Reconciler) {
		r.screenshot.MaxAttempts = maxAttempts
		r.screenshot.Interval = interval
	}
}

// WithSleeper replaces the sleeper used between completion polls.
func WithSleeper(s poll.Sleeper) Option {
	return func(r *Reconciler) {
		r.screenshot.Sleeper = s
	}
}

// WithMetrics records lookup results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// New creates a reconciler.
func New(logger zerolog.Logger, host Host, remote Remote, opts ...Option) *Reconciler {
	r := &Reconciler{
		logger: logger,
		host:   host,
		remote: remote,
		screenshot: poll.Options{
			Interval: DefaultScreenshotInterval,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Selenium resolves every unreconciled selenium record. A failed lookup is
// logged and leaves that record untouched.
func (r *Reconciler) Selenium(ctx context.Context) (Summary, error) {
	var summary Summary

	for _, rec := range r.host.Actions(model.TestKindSelenium) {
		if rec.Reconciled() {
			continue
		}

		q := cbt.SeleniumQuery{
			BuildName:       rec.Env(model.EnvBuildName),
			BuildNumber:     rec.Env(model.EnvBuildNumber),
			Browser:         rec.Env(model.EnvBrowser),
			OperatingSystem: rec.Env(model.EnvOperatingSystem),
			Resolution:      rec.Env(model.EnvResolution),
		}
		info, err := r.remote.GetSeleniumTestInfo(ctx, q)
		r.metrics.RemoteLookup(string(model.TestKindSelenium), err)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Failed++
			r.logger.Warn().
				Err(err).
				Str("file", rec.File).
				Str("browser", q.Browser).
				Str("os", q.OperatingSystem).
				Str("resolution", q.Resolution).
				Msg("Failed to look up selenium test")
			continue
		}

		rec.RemoteTestID = info.TestID
		rec.PublicURL = info.PublicURL
		summary.Resolved++
		r.logger.Debug().
			Str("file", rec.File).
			Str("test_id", info.TestID).
			Str("public_url", info.PublicURL).
			Msg("Resolved selenium test")
	}

	return summary, nil
}

// PendingScreenshot returns the build's screenshot record and its remote test
// id, or nil when no screenshot test is waiting.
func (r *Reconciler) PendingScreenshot() (*model.ExecutionRecord, string) {
	for _, rec := range r.host.Actions(model.TestKindScreenshot) {
		id := rec.Info["screenshot_test_id"]
		if id == "" || id == "0" {
			continue
		}
		return rec, id
	}
	return nil, ""
}

// AwaitScreenshot blocks until the pending screenshot test has finished and
// then resolves its record. Without a pending test it returns immediately.
func (r *Reconciler) AwaitScreenshot(ctx context.Context) error {
	rec, testID := r.PendingScreenshot()
	if rec == nil {
		return nil
	}

	r.logger.Info().Str("test_id", testID).Msg("Waiting for screenshot test to complete")
	attempts, err := poll.Until(ctx, r.screenshot, func(ctx context.Context) (bool, error) {
		r.metrics.ScreenshotPoll()
		running, err := r.remote.QueryScreenshotTest(ctx, testID)
		r.metrics.RemoteLookup(string(model.TestKindScreenshot), err)
		if err != nil {
			r.logger.Warn().Err(err).Str("test_id", testID).Msg("Failed to query screenshot test, will retry")
			return false, nil
		}
		return !running, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return fmt.Errorf("screenshot test %s still running after %d polls", testID, attempts)
	}
	if err != nil {
		return err
	}

	r.resolveScreenshot(rec, testID)
	r.logger.Info().Int("polls", attempts).Str("test_id", testID).Msg("Screenshot test completed")
	return nil
}

// ResolveScreenshot fills the screenshot record without waiting for the remote
// test to finish.
func (r *Reconciler) ResolveScreenshot() {
	if rec, testID := r.PendingScreenshot(); rec != nil {
		r.resolveScreenshot(rec, testID)
	}
}

func (r *Reconciler) resolveScreenshot(rec *model.ExecutionRecord, testID string) {
	if rec.Reconciled() {
		return
	}
	rec.RemoteTestID = testID
	rec.PublicURL = rec.Info["show_results_public_url"]
}
