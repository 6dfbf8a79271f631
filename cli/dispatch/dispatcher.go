package dispatch

// Package dispatch discovers runnable selenium test artifacts in the
// workspace and executes each one per configured browser target.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/cbtgo/cbtgo/metrics"
	"github.com/cbtgo/cbtgo/model"
	"github.com/rs/zerolog"
)

// Launcher describes how files of one extension are executed.
type Launcher struct {
	// Prefix is prepended to the file name, e.g. {"java", "-jar"}.
	Prefix []string
	// Direct files are executed by their absolute path without an interpreter.
	Direct bool
}

// Launchers maps every supported extension to its launcher.
var Launchers = map[string]Launcher{
	"py":  {Prefix: []string{"python"}},
	"rb":  {Prefix: []string{"ruby"}},
	"jar": {Prefix: []string{"java", "-jar"}},
	"js":  {Prefix: []string{"node"}},
	"sh":  {Prefix: []string{"sh"}},
	"exe": {Direct: true},
	"bat": {Direct: true},
}

// Extension returns the literal suffix after the last dot. Names without a
// dot, or whose only dot is the leading one, have no extension.
func Extension(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return ""
	}
	return name[i+1:]
}

// Command builds the argv for running file from workspace with launcher l.
func (l Launcher) Command(workspace, file string) []string {
	if l.Direct {
		return []string{filepath.Join(workspace, file)}
	}
	cmd := make([]string, 0, len(l.Prefix)+1)
	cmd = append(cmd, l.Prefix...)
	return append(cmd, file)
}

// Host is the part of the build system the dispatcher needs.
type Host interface {
	WorkspaceDir() string
	LaunchProcess(ctx context.Context, argv []string, cwd string, env map[string]string, out io.Writer) (int, error)
	AppendAction(rec *model.ExecutionRecord) error
	SaveOutput(name string, data []byte) (string, error)
	Console() io.Writer
	Log(line string)
}

// Identity is the build and account information injected into every test.
type Identity struct {
	Username    string
	APIKey      string
	BuildName   string
	BuildNumber string
}

// LaunchError is returned (joined) for artifacts that could not be started.
type LaunchError struct {
	File    string
	Command []string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.File, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Dispatcher runs selenium test artifacts.
type Dispatcher struct {
	logger   zerolog.Logger
	host     Host
	identity Identity
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a dispatcher. m may be nil.
func New(logger zerolog.Logger, host Host, identity Identity, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		host:     host,
		identity: identity,
		metrics:  m,
		now:      time.Now,
	}
}

// Descriptors pairs every configured test with every supported file, in
// configuration order then file order.
func Descriptors(files []string, tests []model.SeleniumTest) []model.TestDescriptor {
	var out []model.TestDescriptor
	for _, test := range tests {
		for _, file := range files {
			ext := Extension(file)
			l, ok := Launchers[ext]
			if !ok {
				continue
			}
			out = append(out, model.TestDescriptor{
				FileName:        file,
				Extension:       ext,
				OperatingSystem: test.OperatingSystem,
				Browser:         test.Browser,
				Resolution:      test.Resolution,
				Interpreter:     l.Prefix,
			})
		}
	}
	return out
}

// Environment builds the injected variables for one target.
func (d *Dispatcher) Environment(test model.SeleniumTest) model.EnvironmentContext {
	return model.EnvironmentContext{
		model.EnvUsername:        d.identity.Username,
		model.EnvAPIKey:          d.identity.APIKey,
		model.EnvBuildName:       d.identity.BuildName,
		model.EnvBuildNumber:     d.identity.BuildNumber,
		model.EnvOperatingSystem: test.OperatingSystem,
		model.EnvBrowser:         test.Browser,
		model.EnvResolution:      test.Resolution,
	}
}

// Dispatch executes every supported file once per configured test and
// appends one selenium record per execution. Launch failures are isolated to
// their artifact and returned joined once all artifacts have been tried.
func (d *Dispatcher) Dispatch(ctx context.Context, files []string, tests []model.SeleniumTest) ([]*model.ExecutionRecord, error) {
	if len(tests) == 0 {
		return nil, nil
	}

	workspace := d.host.WorkspaceDir()
	var records []*model.ExecutionRecord
	var errs []error

	for _, test := range tests {
		d.host.Log("\nEnvironment Variables")
		d.host.Log("---------------------")
		env := d.Environment(test).Redacted()
		for _, k := range env.Keys() {
			d.host.Log(k + ": " + env[k])
		}

		for _, desc := range Descriptors(files, []model.SeleniumTest{test}) {
			rec, err := d.run(ctx, workspace, desc, len(records)+len(errs)+1)
			if err != nil {
				if ctx.Err() != nil {
					return records, errors.Join(append(errs, ctx.Err())...)
				}
				d.metrics.LaunchError()
				d.logger.Error().Err(err).Str("file", desc.FileName).Msg("Failed to launch test")
				d.host.Log("[ERROR] " + err.Error())
				errs = append(errs, err)
				continue
			}
			records = append(records, rec)
		}
	}

	return records, errors.Join(errs...)
}

func (d *Dispatcher) run(ctx context.Context, workspace string, desc model.TestDescriptor, seq int) (*model.ExecutionRecord, error) {
	file := desc.FileName
	argv := Launchers[desc.Extension].Command(workspace, file)
	env := d.Environment(model.SeleniumTest{
		OperatingSystem: desc.OperatingSystem,
		Browser:         desc.Browser,
		Resolution:      desc.Resolution,
	})

	d.host.Log("\nErrors/Output")
	d.host.Log("-------------")

	d.logger.Info().
		Str("file", file).
		Str("command", quote(argv)).
		Str("browser", env[model.EnvBrowser]).
		Str("os", env[model.EnvOperatingSystem]).
		Msg("Executing selenium test")

	// Capture output for the build record while streaming it to the console
	var output bytes.Buffer
	started := d.now()
	exitCode, err := d.host.LaunchProcess(ctx, argv, workspace, env, io.MultiWriter(d.host.Console(), &output))
	if err != nil {
		return nil, &LaunchError{File: file, Command: argv, Err: err}
	}

	rec := &model.ExecutionRecord{
		Kind:        model.TestKindSelenium,
		Environment: env,
		File:        file,
		Command:     argv,
		ExitCode:    exitCode,
		StartedAt:   started,
		Duration:    d.now().Sub(started),
	}

	if output.Len() > 0 {
		name, err := d.host.SaveOutput(fmt.Sprintf("output-%03d.txt", seq), output.Bytes())
		if err != nil {
			d.logger.Warn().Err(err).Str("file", file).Msg("Failed to save test output")
		} else {
			rec.OutputFile = name
		}
	}

	if exitCode != 0 {
		d.logger.Info().Int("exit_code", exitCode).Str("file", file).Msg("Test completed with failures")
	}
	d.metrics.TestDispatched(desc.Extension, exitCode)

	if err := d.host.AppendAction(rec); err != nil {
		d.logger.Warn().Err(err).Str("file", file).Msg("Failed to persist execution record")
	}
	return rec, nil
}

func quote(argv []string) string {
	parts := make([]string, 0, len(argv))
	for _, arg := range argv {
		parts = append(parts, shellescape.Quote(arg))
	}
	return strings.Join(parts, " ")
}
