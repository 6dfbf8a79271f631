package wrapper

// Package wrapper sequences one build's cross-browser testing: tunnel setup,
// the screenshot call and local selenium dispatch before the user's build
// steps, then reconciliation and tunnel teardown afterwards.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cbtgo/cbtgo/cli/cbt"
	"github.com/cbtgo/cbtgo/cli/dispatch"
	"github.com/cbtgo/cbtgo/cli/host"
	"github.com/cbtgo/cbtgo/cli/reconcile"
	"github.com/cbtgo/cbtgo/config"
	"github.com/cbtgo/cbtgo/metrics"
	"github.com/cbtgo/cbtgo/model"
	"github.com/rs/zerolog"
)

// Environment variables of the CI system identifying the build.
const (
	EnvJobName     = "JOB_NAME"
	EnvBuildNumber = "BUILD_NUMBER"
)

// State is the phase an orchestration is in.
type State int

const (
	StateInit State = iota
	StateTunnelSetup
	StateScreenshotCall
	StateLocalDispatch
	StateTeardown
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateTunnelSetup:
		return "tunnel-setup"
	case StateScreenshotCall:
		return "screenshot-call"
	case StateLocalDispatch:
		return "local-dispatch"
	case StateTeardown:
		return "teardown"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tunnel is the tunnel lifecycle as driven by the orchestrator, implemented
// by *tunnel.Controller.
type Tunnel interface {
	Start(ctx context.Context, dir string) error
	AwaitConnected(ctx context.Context) error
	Stop(ctx context.Context) error
	Owned() bool
}

// Remote is the part of the CBT API used during one build.
type Remote interface {
	reconcile.Remote
	RunScreenshotTest(ctx context.Context, browserList, targetURL string) (*cbt.ScreenshotResult, error)
}

// Orchestrator runs the setup and teardown phases of one build.
type Orchestrator struct {
	logger  zerolog.Logger
	cfg     config.Config
	host    host.Host
	tunnel  Tunnel
	remote  Remote
	metrics *metrics.Metrics

	reconcileOpts []reconcile.Option

	state       State
	tunnelOwned bool
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records dispatch and reconciliation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithReconcileOptions passes options to the teardown reconciler.
func WithReconcileOptions(opts ...reconcile.Option) Option {
	return func(o *Orchestrator) {
		o.reconcileOpts = append(o.reconcileOpts, opts...)
	}
}

// New creates an orchestrator. tun may be nil when the configuration does
// not use a local tunnel.
func New(logger zerolog.Logger, cfg config.Config, h host.Host, tun Tunnel, remote Remote, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger: logger,
		cfg:    cfg,
		host:   h,
		tunnel: tun,
		remote: remote,
		state:  StateInit,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	return o.state
}

// TunnelOwned reports whether this build started the tunnel it used.
func (o *Orchestrator) TunnelOwned() bool {
	return o.tunnelOwned
}

func (o *Orchestrator) identity() dispatch.Identity {
	env := o.host.Environment()
	return dispatch.Identity{
		Username:    o.cfg.Username,
		APIKey:      o.cfg.APIKey,
		BuildName:   env[EnvJobName],
		BuildNumber: env[EnvBuildNumber],
	}
}

// Setup runs every phase before the user's build steps. A tunnel that fails
// to connect aborts the build before any test is started; in that case no
// Teardown is returned.
func (o *Orchestrator) Setup(ctx context.Context) (*Teardown, error) {
	id := o.identity()
	build := model.Build{JobName: id.BuildName, BuildNumber: id.BuildNumber}
	o.host.Log(build.DisplayName())

	if o.cfg.UseLocalTunnel {
		o.state = StateTunnelSetup
		if err := o.setupTunnel(ctx); err != nil {
			o.abort(ctx)
			return nil, err
		}
	}

	if o.cfg.ScreenshotEnabled() {
		o.state = StateScreenshotCall
		if err := o.screenshot(ctx, id); err != nil {
			if ctx.Err() != nil {
				o.abort(ctx)
				return nil, ctx.Err()
			}
			o.logger.Error().Err(err).Msg("Screenshot test could not be started")
			o.host.Log("[ERROR] " + err.Error())
		}
	}

	o.state = StateLocalDispatch
	if err := o.dispatch(ctx, id); err != nil {
		if ctx.Err() != nil {
			o.abort(ctx)
			return nil, ctx.Err()
		}
		o.logger.Warn().Err(err).Msg("Some selenium tests could not be started")
	}

	return &Teardown{o: o}, nil
}

func (o *Orchestrator) setupTunnel(ctx context.Context) error {
	if o.tunnel == nil {
		return errors.New("local tunnel requested but no tunnel is configured")
	}
	if err := o.tunnel.Start(ctx, o.host.WorkspaceDir()); err != nil {
		return err
	}
	o.tunnelOwned = o.tunnel.Owned()
	if err := o.tunnel.AwaitConnected(ctx); err != nil {
		o.logger.Error().Err(err).Msg("Local tunnel did not connect, aborting build")
		o.host.Log("[ERROR] " + err.Error())
		return err
	}
	return nil
}

// abort stops a tunnel this build started before leaving it in StateAborted.
func (o *Orchestrator) abort(ctx context.Context) {
	o.state = StateAborted
	if o.tunnel == nil || !o.tunnel.Owned() {
		return
	}
	// The build context may already be cancelled.
	stopCtx := context.WithoutCancel(ctx)
	if err := o.tunnel.Stop(stopCtx); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to stop tunnel after abort")
	}
}

func (o *Orchestrator) screenshot(ctx context.Context, id dispatch.Identity) error {
	o.host.Log("\nSCREENSHOT TEST RESULTS")
	o.host.Log("-----------------------")

	started := o.now()
	result, err := o.remote.RunScreenshotTest(ctx, o.cfg.ScreenshotBrowserList, o.cfg.ScreenshotURL)
	o.metrics.RemoteLookup(string(model.TestKindScreenshot), err)
	if err != nil {
		return fmt.Errorf("failed to run screenshot test: %w", err)
	}

	if result.Failed() {
		o.logger.Error().Str("error", result.Info["error"]).Msg("Screenshot test request was rejected")
		o.host.Log("[ERROR] " + result.Info["error"])
		return nil
	}

	rec := &model.ExecutionRecord{
		Kind: model.TestKindScreenshot,
		Environment: model.EnvironmentContext{
			model.EnvUsername:    id.Username,
			model.EnvAPIKey:      id.APIKey,
			model.EnvBuildName:   id.BuildName,
			model.EnvBuildNumber: id.BuildNumber,
		},
		Info:      result.Info,
		StartedAt: started,
		Duration:  o.now().Sub(started),
	}
	if err := o.host.AppendAction(rec); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to persist screenshot record")
	}

	keys := make([]string, 0, len(result.Info))
	for k := range result.Info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		o.host.Log(k + ": " + result.Info[k])
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, id dispatch.Identity) error {
	o.host.Log("\nSELENIUM TEST RESULTS")
	o.host.Log("---------------------")

	if len(o.cfg.SeleniumTests) == 0 {
		o.logger.Debug().Msg("No selenium tests configured")
		return nil
	}

	files, err := o.host.ListWorkspaceFiles(o.host.WorkspaceDir())
	if err != nil {
		return fmt.Errorf("failed to list workspace files: %w", err)
	}

	d := dispatch.New(o.logger, o.host, id, o.metrics)
	records, err := d.Dispatch(ctx, files, o.cfg.SeleniumTests)
	o.logger.Info().Int("executions", len(records)).Msg("Selenium tests dispatched")
	return err
}

// Teardown runs after the user's build steps.
type Teardown struct {
	o    *Orchestrator
	done bool
}

// Run reconciles the build's records and stops the tunnel if this build
// started it. The tunnel stays up until a pending screenshot test has
// finished. When ctx is cancelled an owned tunnel is still stopped. Run is a
// no-op once it has completed.
func (t *Teardown) Run(ctx context.Context) error {
	if t.done {
		return nil
	}
	o := t.o
	if err := ctx.Err(); err != nil {
		o.abort(ctx)
		return err
	}
	o.state = StateTeardown

	opts := append([]reconcile.Option{reconcile.WithMetrics(o.metrics)}, o.reconcileOpts...)
	r := reconcile.New(o.logger, o.host, o.remote, opts...)

	summary, err := r.Selenium(ctx)
	if err != nil {
		o.abort(ctx)
		return fmt.Errorf("failed to reconcile selenium tests: %w", err)
	}
	o.logger.Info().
		Int("resolved", summary.Resolved).
		Int("failed", summary.Failed).
		Msg("Reconciled selenium tests")

	if o.tunnel != nil && o.tunnel.Owned() {
		if err := r.AwaitScreenshot(ctx); err != nil {
			if ctx.Err() != nil {
				o.abort(ctx)
				return ctx.Err()
			}
			o.logger.Warn().Err(err).Msg("Screenshot test did not complete")
		}
		if err := o.tunnel.Stop(ctx); err != nil {
			o.state = StateAborted
			return fmt.Errorf("failed to stop tunnel: %w", err)
		}
	} else {
		r.ResolveScreenshot()
	}

	o.state = StateDone
	t.done = true
	return nil
}
