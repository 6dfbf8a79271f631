package host

// Package host adapts the local machine and the build history store to the
// narrow build-system interface the orchestration consumes.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/cbtgo/cbtgo/history"
	"github.com/cbtgo/cbtgo/model"
	"github.com/rs/zerolog"
)

// Host is the build system as seen by one orchestration.
type Host interface {
	WorkspaceDir() string
	Environment() map[string]string
	ListWorkspaceFiles(dir string) ([]string, error)
	// LaunchProcess runs argv to completion and returns its exit code. An
	// error is only returned when the process could not be started.
	LaunchProcess(ctx context.Context, argv []string, cwd string, env map[string]string, out io.Writer) (int, error)
	AppendAction(rec *model.ExecutionRecord) error
	Actions(kind model.TestKind) []*model.ExecutionRecord
	SaveOutput(name string, data []byte) (string, error)
	// Console is the build log.
	Console() io.Writer
	Log(line string)
}

// Local is a Host backed by the local filesystem and processes.
type Local struct {
	logger    zerolog.Logger
	workspace string
	env       map[string]string
	store     *history.Store
	console   io.Writer
}

var _ Host = (*Local)(nil)

// NewLocal creates a host for workspace. env is the build environment, it
// must contain JOB_NAME and BUILD_NUMBER.
func NewLocal(logger zerolog.Logger, workspace string, env map[string]string, store *history.Store, console io.Writer) *Local {
	return &Local{
		logger:    logger,
		workspace: workspace,
		env:       env,
		store:     store,
		console:   console,
	}
}

func (h *Local) WorkspaceDir() string {
	return h.workspace
}

func (h *Local) Environment() map[string]string {
	return h.env
}

// ListWorkspaceFiles returns the names of the regular files directly inside
// dir, sorted.
func (h *Local) ListWorkspaceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (h *Local) LaunchProcess(ctx context.Context, argv []string, cwd string, env map[string]string, out io.Writer) (int, error) {
	if len(argv) == 0 {
		return -1, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = MergeEnv(os.Environ(), env)
	cmd.Stdout = out
	cmd.Stderr = out

	h.logger.Debug().
		Strs("argv", argv).
		Str("cwd", cwd).
		Msg("Launching process")

	if err := cmd.Run(); err != nil {
		// Non-zero exits are results, not launch failures
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

func (h *Local) AppendAction(rec *model.ExecutionRecord) error {
	return h.store.AppendAction(rec)
}

func (h *Local) Actions(kind model.TestKind) []*model.ExecutionRecord {
	return h.store.Actions(kind)
}

func (h *Local) SaveOutput(name string, data []byte) (string, error) {
	return h.store.WriteFile(name, data)
}

func (h *Local) Console() io.Writer {
	return h.console
}

func (h *Local) Log(line string) {
	fmt.Fprintln(h.console, line)
}

// MergeEnv overlays extra on a KEY=VALUE environment list.
func MergeEnv(base []string, extra map[string]string) []string {
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[key]; overridden {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

// EnvironMap converts a KEY=VALUE list to a map.
func EnvironMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok {
			m[key] = value
		}
	}
	return m
}
