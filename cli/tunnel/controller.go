package tunnel

// Package tunnel manages the lifecycle of the single local tunnel process
// that lets the remote test service reach resources inside the build network.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cbtgo/cbtgo/cli/poll"
	"github.com/cbtgo/cbtgo/metrics"
	"github.com/rs/zerolog"
)

const (
	DefaultConnectAttempts    = 15
	DefaultConnectInterval    = 2 * time.Second
	DefaultDisconnectAttempts = 3
	DefaultDisconnectInterval = 15 * time.Second
)

// State is the lifecycle state of the tunnel as seen by this controller.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateConnected
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Service is the external tunnel process and its status endpoint.
type Service interface {
	// Start launches the tunnel process rooted at dir. It must not block
	// until the tunnel is connected.
	Start(ctx context.Context, dir string) error
	// Stop asks the running tunnel to shut down.
	Stop(ctx context.Context) error
	// Running reports whether a tunnel is currently connected.
	Running(ctx context.Context) (bool, error)
}

// ErrStartedElsewhere is returned by Service.Start when another build is
// already starting the tunnel. The caller waits for it without owning it.
var ErrStartedElsewhere = errors.New("tunnel is being started by another build")

// TimeoutError is returned when the tunnel did not connect in time. It is
// fatal for the build step.
type TimeoutError struct {
	Attempts int
	Interval time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("the local tunnel did not connect within %s (%d attempts)", time.Duration(e.Attempts)*e.Interval, e.Attempts)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Controller drives a Service through start, connect, stop and disconnect.
type Controller struct {
	logger  zerolog.Logger
	service Service
	metrics *metrics.Metrics

	connect    poll.Options
	disconnect poll.Options

	state   State
	running bool
	owned   bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithConnectPolling overrides the connect polling bounds.
func WithConnectPolling(maxAttempts int, interval time.Duration) Option {
	return func(c *Controller) {
		c.connect.MaxAttempts = maxAttempts
		c.connect.Interval = interval
	}
}

// WithDisconnectPolling overrides the disconnect polling bounds.
func WithDisconnectPolling(maxAttempts int, interval time.Duration) Option {
	return func(c *Controller) {
		c.disconnect.MaxAttempts = maxAttempts
		c.disconnect.Interval = interval
	}
}

// WithSleeper replaces the sleeper used between status polls.
func WithSleeper(s poll.Sleeper) Option {
	return func(c *Controller) {
		c.connect.Sleeper = s
		c.disconnect.Sleeper = s
	}
}

// WithMetrics records poll counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// New creates a controller for the given service.
func New(logger zerolog.Logger, service Service, opts ...Option) *Controller {
	c := &Controller{
		logger:  logger,
		service: service,
		connect: poll.Options{
			MaxAttempts: DefaultConnectAttempts,
			Interval:    DefaultConnectInterval,
		},
		disconnect: poll.Options{
			MaxAttempts: DefaultDisconnectAttempts,
			Interval:    DefaultDisconnectInterval,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return c.state
}

// Running reports the last observed connectivity.
func (c *Controller) Running() bool {
	return c.running
}

// Owned reports whether this controller started the tunnel.
func (c *Controller) Owned() bool {
	return c.owned
}

// Refresh queries the service and updates the observed connectivity.
func (c *Controller) Refresh(ctx context.Context) (bool, error) {
	running, err := c.service.Running(ctx)
	if err != nil {
		return c.running, fmt.Errorf("failed to query tunnel status: %w", err)
	}
	c.running = running
	if running && c.state == StateStopped {
		c.state = StateConnected
	}
	return running, nil
}

// Start launches the tunnel unless one is already running. A tunnel that was
// already running is reused and never claimed.
func (c *Controller) Start(ctx context.Context, dir string) error {
	if _, err := c.Refresh(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Could not determine tunnel status, assuming it is not running")
	}

	if c.running {
		c.logger.Info().Msg("Tunnel is already running, not starting a new one")
		c.state = StateConnected
		return nil
	}

	c.logger.Info().Str("dir", dir).Msg("Starting local tunnel")
	err := c.service.Start(ctx, dir)
	if errors.Is(err, ErrStartedElsewhere) {
		c.logger.Info().Msg("Tunnel is being started by another build, waiting for it")
		c.state = StateStarting
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start tunnel: %w", err)
	}
	c.owned = true
	c.state = StateStarting
	return nil
}

// AwaitConnected polls until the tunnel reports running. It returns a
// *TimeoutError once the connect attempts are used up.
func (c *Controller) AwaitConnected(ctx context.Context) error {
	if c.running {
		c.state = StateConnected
		return nil
	}

	attempts, err := poll.Until(ctx, c.connect, func(ctx context.Context) (bool, error) {
		c.metrics.TunnelPoll("connect")
		running, err := c.Refresh(ctx)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Tunnel status poll failed")
			return false, nil
		}
		return running, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return &TimeoutError{Attempts: attempts, Interval: c.connect.Interval}
	}
	if err != nil {
		return err
	}

	c.state = StateConnected
	c.logger.Info().Int("attempts", attempts).Msg("Tunnel is now connected")
	return nil
}

// Stop shuts the tunnel down if this controller started it and waits for it
// to disconnect. Failing to confirm the disconnect is logged, not returned.
func (c *Controller) Stop(ctx context.Context) error {
	if !c.owned {
		c.logger.Debug().Msg("Tunnel not started by this build, leaving it running")
		return nil
	}

	c.state = StateStopping
	c.logger.Info().Msg("Stopping local tunnel")
	if err := c.service.Stop(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to issue tunnel stop")
	}

	disconnected, err := c.AwaitDisconnected(ctx)
	if err != nil {
		return err
	}
	if !disconnected {
		c.logger.Warn().Msg("Failed disconnecting the local tunnel")
		return nil
	}

	c.owned = false
	c.state = StateStopped
	c.logger.Info().Msg("Tunnel is now disconnected")
	return nil
}

// AwaitDisconnected polls until the tunnel no longer reports running.
func (c *Controller) AwaitDisconnected(ctx context.Context) (bool, error) {
	if !c.running {
		return true, nil
	}
	_, err := poll.Until(ctx, c.disconnect, func(ctx context.Context) (bool, error) {
		c.metrics.TunnelPoll("disconnect")
		running, err := c.Refresh(ctx)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Tunnel status poll failed")
			return false, nil
		}
		return !running, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
