package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/cbtgo/cbtgo/cli/cbt"
	"github.com/cbtgo/cbtgo/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "cbtgo"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func workspaceFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "workspace",
		Aliases: []string{"w"},
		Usage:   "Workspace directory the tests are discovered in (default: current directory)",
		EnvVars: []string{"WORKSPACE"},
	}
}

func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "username",
			Usage:   "CrossBrowserTesting username (default: stored credentials)",
			EnvVars: []string{"CBT_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "apikey",
			Usage:   "CrossBrowserTesting API key (default: stored credentials)",
			EnvVars: []string{"CBT_APIKEY"},
		},
		&cli.StringFlag{
			Name:    "credentials",
			Usage:   "Path of the stored credentials file",
			Value:   config.DefaultCredentialsPath(),
			EnvVars: []string{"CBT_CREDENTIALS"},
		},
		&cli.StringFlag{
			Name:    "api-url",
			Usage:   "Base URL of the CrossBrowserTesting API",
			Value:   cbt.DefaultBaseURL,
			EnvVars: []string{"CBT_API_URL"},
		},
	}
}

func tunnelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "tunnel-binary",
			Usage:   "Path of the cbt_tunnels executable",
			Value:   cbt.DefaultTunnelBinary,
			EnvVars: []string{"CBT_TUNNEL_BINARY"},
		},
		&cli.StringSliceFlag{
			Name:  "tunnel-arg",
			Usage: "Extra argument passed to cbt_tunnels (repeatable)",
		},
	}
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Run CrossBrowserTesting selenium and screenshot tests as part of a CI build",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}

	runFlags := []cli.Flag{
		workspaceFlag(),
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   fmt.Sprintf("Build configuration file (default: <workspace>/%s)", config.DefaultFileName),
		},
		&cli.StringFlag{
			Name:    "job-name",
			Usage:   "Name of the CI job, used as the selenium build name (default: workspace directory name)",
			EnvVars: []string{"JOB_NAME"},
		},
		&cli.StringFlag{
			Name:    "build-number",
			Usage:   "Number of the CI build",
			EnvVars: []string{"BUILD_NUMBER"},
		},
		&cli.StringFlag{
			Name:  "screenshot-browser-list",
			Usage: "Name of the screenshot browser list to run",
		},
		&cli.StringFlag{
			Name:  "screenshot-url",
			Usage: "URL to take screenshots of",
		},
		&cli.StringSliceFlag{
			Name:  "selenium-test",
			Usage: "Selenium target as os|browser|resolution (repeatable, replaces the configured list)",
		},
		&cli.BoolFlag{
			Name:  "local-tunnel",
			Usage: "Start a local tunnel for the duration of the build",
		},
		&cli.IntFlag{
			Name:  "screenshot-wait-attempts",
			Usage: "Maximum screenshot completion polls before the tunnel is stopped (0: wait until complete)",
		},
		&cli.StringFlag{
			Name:    "metrics-file",
			Usage:   "Write build metrics in Prometheus text format to this file",
			EnvVars: []string{"CBT_METRICS_FILE"},
		},
	}
	runFlags = append(runFlags, credentialFlags()...)
	runFlags = append(runFlags, tunnelFlags()...)

	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Run the configured cross-browser tests around a build command",
		ArgsUsage: "[-- BUILD COMMAND...]",
		Action:    app.run,
		Flags:     runFlags,
		Description: `Sets up a local tunnel if requested, starts the screenshot test and runs
every selenium script in the workspace once per configured target. The
optional build command runs next, then remote test ids are resolved and the
tunnel is stopped.

Supported scripts: *.py, *.rb, *.jar, *.js, *.sh, *.exe, *.bat

Examples:
  cbtgo run --local-tunnel --selenium-test 'Win10|Chrome53|1366x768'
  cbtgo run -- make e2e`,
	})

	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:  "tunnel",
		Usage: "Manage the local tunnel outside of a build",
		Subcommands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "Start the local tunnel and wait until it is connected",
				Action: app.tunnelStart,
				Flags:  append(append([]cli.Flag{workspaceFlag()}, credentialFlags()...), tunnelFlags()...),
			},
			{
				Name:   "stop",
				Usage:  "Stop the account's active tunnels",
				Action: app.tunnelStop,
				Flags:  append(credentialFlags(), tunnelFlags()...),
			},
			{
				Name:   "status",
				Usage:  "Show the account's active tunnels",
				Action: app.tunnelStatus,
				Flags:  credentialFlags(),
			},
		},
	})

	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "configure",
		Usage:  "Store the CrossBrowserTesting username and API key",
		Action: app.configure,
		Flags:  credentialFlags(),
	})

	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "browsers",
		Usage:  "List screenshot browser lists and selenium configurations",
		Action: app.browsers,
		Flags:  credentialFlags(),
	})

	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List previous builds",
		Action: app.list,
		Flags: []cli.Flag{
			workspaceFlag(),
			&cli.StringFlag{
				Name:    "job",
				Aliases: []string{"j"},
				Usage:   "Filter by job name",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})

	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "view",
		Usage:           "View a build's test records from history",
		ArgsUsage:       "[ID|INDEX] [--] [RECORD...]",
		Action:          app.view,
		SkipFlagParsing: true,
		Description: `View a build's test records from history.

Arguments:
  0           View last build (default)
  -1          View 2nd last build
  <hex-id>    View build matching the ID prefix
  RECORD      Print the captured output of the numbered records

The workspace is taken from $WORKSPACE or the current directory.

Examples:
  cbtgo view              # View last build
  cbtgo view -1           # View 2nd last build
  cbtgo view abc123 -- 2  # View build abc123 and print output of record 2`,
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}
