package cbt

// This file contains the local tunnel service, which launches the
// cbt_tunnels binary and uses the API to observe and stop it.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/cbtgo/cbtgo/cli/tunnel"
	"github.com/rs/zerolog"
)

const (
	DefaultTunnelBinary = "cbt_tunnels"
	startLockName       = "tunnel-start.lock"
	startLockStaleAfter = 2 * time.Minute
)

// LocalTunnel is a tunnel.Service backed by a local cbt_tunnels process.
type LocalTunnel struct {
	logger   zerolog.Logger
	client   *Client
	binary   string
	apiKey   string
	stateDir string
	extra    []string

	cmd      *exec.Cmd
	lockPath string
}

// TunnelOption is a function that configures a LocalTunnel.
type TunnelOption func(*LocalTunnel)

// WithTunnelBinary sets the tunnel executable to launch.
func WithTunnelBinary(path string) TunnelOption {
	return func(t *LocalTunnel) {
		t.binary = path
	}
}

// WithStateDir sets where the start lock and tunnel log are kept.
func WithStateDir(dir string) TunnelOption {
	return func(t *LocalTunnel) {
		t.stateDir = dir
	}
}

// WithTunnelArgs appends extra arguments to the tunnel command line.
func WithTunnelArgs(args ...string) TunnelOption {
	return func(t *LocalTunnel) {
		t.extra = append(t.extra, args...)
	}
}

var _ tunnel.Service = (*LocalTunnel)(nil)

// NewLocalTunnel creates a tunnel service authenticated as the client's user.
func NewLocalTunnel(logger zerolog.Logger, client *Client, opts ...TunnelOption) *LocalTunnel {
	t := &LocalTunnel{
		logger:   logger,
		client:   client,
		binary:   DefaultTunnelBinary,
		apiKey:   client.apiKey,
		stateDir: defaultStateDir(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Command returns the argv used to launch the tunnel rooted at dir.
func (t *LocalTunnel) Command(dir string) []string {
	args := []string{
		t.binary,
		"--username", t.client.Username(),
		"--authkey", t.apiKey,
		"--dir", dir,
	}
	return append(args, t.extra...)
}

// Start launches cbt_tunnels in the background. If another build holds the
// start lock, tunnel.ErrStartedElsewhere is returned and nothing is launched.
func (t *LocalTunnel) Start(ctx context.Context, dir string) error {
	if err := os.MkdirAll(t.stateDir, 0700); err != nil {
		return fmt.Errorf("failed to create tunnel state directory: %w", err)
	}

	lockPath := filepath.Join(t.stateDir, startLockName)
	if err := acquireLock(lockPath); err != nil {
		return err
	}
	t.lockPath = lockPath

	logFile, err := os.OpenFile(filepath.Join(t.stateDir, "cbt_tunnels.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.releaseLock()
		return fmt.Errorf("failed to open tunnel log: %w", err)
	}

	argv := t.Command(dir)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	t.logger.Debug().
		Str("command", redactedCommand(argv, t.apiKey)).
		Str("log", logFile.Name()).
		Msg("Launching tunnel process")

	if err := cmd.Start(); err != nil {
		logFile.Close()
		t.releaseLock()
		return fmt.Errorf("failed to launch %s: %w", t.binary, err)
	}
	t.cmd = cmd

	go func() {
		_ = cmd.Wait()
		logFile.Close()
	}()
	return nil
}

// Stop deletes the account's active tunnels and interrupts the local process.
func (t *LocalTunnel) Stop(ctx context.Context) error {
	defer t.releaseLock()

	tunnels, err := t.client.ActiveTunnels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tunnels: %w", err)
	}

	var errs []error
	for _, tun := range tunnels {
		t.logger.Debug().Str("tunnel_id", tun.ID.String()).Msg("Deleting tunnel")
		if err := t.client.DeleteTunnel(ctx, tun.ID.String()); err != nil {
			errs = append(errs, err)
		}
	}

	if t.cmd != nil && t.cmd.Process != nil {
		if err := t.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			t.logger.Debug().Err(err).Msg("Failed to interrupt tunnel process")
		}
	}
	return errors.Join(errs...)
}

// Running reports whether the account has an active tunnel. The start lock
// is released once the tunnel is up.
func (t *LocalTunnel) Running(ctx context.Context) (bool, error) {
	tunnels, err := t.client.ActiveTunnels(ctx)
	if err != nil {
		return false, err
	}
	if len(tunnels) > 0 {
		t.releaseLock()
	}
	return len(tunnels) > 0, nil
}

func (t *LocalTunnel) releaseLock() {
	if t.lockPath == "" {
		return
	}
	if err := os.Remove(t.lockPath); err != nil && !os.IsNotExist(err) {
		t.logger.Debug().Err(err).Str("path", t.lockPath).Msg("Failed to remove tunnel start lock")
	}
	t.lockPath = ""
}

func acquireLock(path string) error {
	for range 2 {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			return f.Close()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create tunnel start lock: %w", err)
		}

		info, statErr := os.Stat(path)
		if statErr != nil || time.Since(info.ModTime()) < startLockStaleAfter {
			return tunnel.ErrStartedElsewhere
		}
		// Stale lock from a build that never finished starting.
		_ = os.Remove(path)
	}
	return tunnel.ErrStartedElsewhere
}

func redactedCommand(argv []string, secret string) string {
	parts := make([]string, 0, len(argv))
	for _, arg := range argv {
		if secret != "" && arg == secret {
			arg = "********"
		}
		parts = append(parts, shellescape.Quote(arg))
	}
	return strings.Join(parts, " ")
}

// defaultStateDir returns the directory used for the tunnel start lock.
func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "cbtgo")
	}
	return filepath.Join(os.TempDir(), "cbtgo")
}
