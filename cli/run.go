package cli

// This file contains the run command, which wraps a CI build with tunnel
// setup, test dispatch, reconciliation and teardown.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cbtgo/cbtgo/cli/cbt"
	"github.com/cbtgo/cbtgo/cli/host"
	"github.com/cbtgo/cbtgo/cli/reconcile"
	"github.com/cbtgo/cbtgo/cli/tunnel"
	"github.com/cbtgo/cbtgo/cli/wrapper"
	"github.com/cbtgo/cbtgo/config"
	"github.com/cbtgo/cbtgo/history"
	"github.com/cbtgo/cbtgo/metrics"
	"github.com/cbtgo/cbtgo/model"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

const consoleLogName = "console.log"

// workspace resolves the workspace directory to an absolute path.
func workspace(ctx *cli.Context) (string, error) {
	dir := ctx.String("workspace")
	if dir == "" {
		dir = os.Getenv("WORKSPACE")
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace: %w", err)
	}
	return abs, nil
}

// loadRunConfig reads the build configuration file and applies the flags on
// top of it.
func (a *App) loadRunConfig(ctx *cli.Context, workspace string) (config.Config, error) {
	path := ctx.String("config")
	optional := path == ""
	if optional {
		path = filepath.Join(workspace, config.DefaultFileName)
	}

	cfg, err := config.LoadFile(path, optional)
	if err != nil {
		return config.Config{}, err
	}

	creds, err := a.credentials(ctx)
	if err != nil {
		return config.Config{}, err
	}
	cfg.Username = creds.Username
	cfg.APIKey = creds.APIKey

	if ctx.IsSet("screenshot-browser-list") {
		cfg.ScreenshotBrowserList = ctx.String("screenshot-browser-list")
	}
	if ctx.IsSet("screenshot-url") {
		cfg.ScreenshotURL = ctx.String("screenshot-url")
	}
	if ctx.IsSet("local-tunnel") {
		cfg.UseLocalTunnel = ctx.Bool("local-tunnel")
	}
	if values := ctx.StringSlice("selenium-test"); len(values) > 0 {
		cfg.SeleniumTests = nil
		for _, v := range values {
			test, err := config.ParseSeleniumTest(v)
			if err != nil {
				return config.Config{}, err
			}
			cfg.SeleniumTests = append(cfg.SeleniumTests, test)
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (a *App) localTunnel(ctx *cli.Context, client *cbt.Client) *cbt.LocalTunnel {
	return cbt.NewLocalTunnel(a.logger, client,
		cbt.WithTunnelBinary(ctx.String("tunnel-binary")),
		cbt.WithTunnelArgs(ctx.StringSlice("tunnel-arg")...),
	)
}

func (a *App) run(ctx *cli.Context) error {
	startTime := time.Now()

	ws, err := workspace(ctx)
	if err != nil {
		return err
	}
	cfg, err := a.loadRunConfig(ctx, ws)
	if err != nil {
		return err
	}

	jobName := ctx.String("job-name")
	if jobName == "" {
		jobName = filepath.Base(ws)
	}
	buildNumber := ctx.String("build-number")

	// Ctrl-C interrupts polling and running tests
	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := &model.Build{
		ID:          uuid.NewString(),
		JobName:     jobName,
		BuildNumber: buildNumber,
		Timestamp:   startTime,
		Args:        os.Args,
		Workspace:   ws,
		Outcome:     model.OutcomeRunning,
		Config:      cfg.Snapshot(),
		Tunnel:      &model.TunnelUsage{Requested: cfg.UseLocalTunnel},
	}

	// Capture git info (non-fatal if it fails)
	if commit, branch, err := a.getGitInfo(runCtx, ws); err == nil {
		build.Git = &model.Git{
			Commit: commit,
			Branch: branch,
		}
	} else {
		a.logger.Debug().Err(err).Msg("Workspace is not a git repository")
	}

	store, err := history.Create(history.Root(ws), build)
	if err != nil {
		return fmt.Errorf("failed to prepare history directory: %w", err)
	}

	consoleFile, err := os.Create(filepath.Join(store.Dir(), consoleLogName))
	if err != nil {
		return fmt.Errorf("failed to create console log: %w", err)
	}
	defer consoleFile.Close()
	console := io.MultiWriter(os.Stdout, consoleFile)

	env := map[string]string{
		wrapper.EnvJobName:     jobName,
		wrapper.EnvBuildNumber: buildNumber,
	}
	h := host.NewLocal(a.logger, ws, env, store, console)
	m := metrics.New()
	client := cbt.New(a.logger, cfg.Username, cfg.APIKey, cbt.WithBaseURL(ctx.String("api-url")))

	var (
		ctrl *tunnel.Controller
		tun  wrapper.Tunnel
	)
	if cfg.UseLocalTunnel {
		ctrl = tunnel.New(a.logger, a.localTunnel(ctx, client), tunnel.WithMetrics(m))
		tun = ctrl
	}

	o := wrapper.New(a.logger, cfg, h, tun, client,
		wrapper.WithMetrics(m),
		wrapper.WithReconcileOptions(
			reconcile.WithScreenshotPolling(ctx.Int("screenshot-wait-attempts"), reconcile.DefaultScreenshotInterval),
		),
	)

	defer func() {
		build.Duration = time.Since(startTime)
		if build.Outcome == model.OutcomeRunning {
			build.Outcome = model.OutcomeSuccess
		}
		if ctrl != nil && build.Tunnel.Owned {
			build.Tunnel.Disconnected = !ctrl.Running()
		}

		// Record the history (non-fatal if it fails)
		if err := store.Save(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to record build")
		}

		m.BuildFinished(build.Duration.Seconds(), string(build.Outcome))
		if path := ctx.String("metrics-file"); path != "" {
			if err := m.WriteTextfile(path); err != nil {
				a.logger.Warn().Err(err).Str("path", path).Msg("Failed to write metrics")
			}
		}

		a.logger.Info().
			Str("build", build.DisplayName()).
			Str("outcome", string(build.Outcome)).
			Dur("duration", build.Duration.Round(time.Millisecond)).
			Str("dir", store.Dir()).
			Msg("Build finished")
	}()

	td, err := o.Setup(runCtx)
	if err != nil {
		build.Outcome = model.OutcomeAborted
		return err
	}
	build.Tunnel.Owned = o.TunnelOwned()

	exitCode, cmdErr := a.runBuildCommand(runCtx, h, env, ctx.Args().Slice())
	build.ExitCode = exitCode

	if err := td.Run(runCtx); err != nil {
		build.Outcome = model.OutcomeAborted
		return errors.Join(cmdErr, err)
	}

	if cmdErr != nil {
		build.Outcome = model.OutcomeAborted
		return cmdErr
	}
	if exitCode != 0 {
		return cli.Exit(fmt.Sprintf("build command exited with code %d", exitCode), exitCode)
	}
	return nil
}

// runBuildCommand runs the user's build steps in the workspace. Without a
// command it does nothing.
func (a *App) runBuildCommand(ctx context.Context, h *host.Local, env map[string]string, args []string) (int, error) {
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) == 0 {
		return 0, nil
	}

	a.logger.Info().Strs("command", args).Msg("Running build command")
	exitCode, err := h.LaunchProcess(ctx, args, h.WorkspaceDir(), env, h.Console())
	if err != nil {
		return -1, fmt.Errorf("failed to run build command: %w", err)
	}
	if exitCode != 0 {
		a.logger.Warn().Int("exit_code", exitCode).Msg("Build command failed")
	}
	return exitCode, nil
}
