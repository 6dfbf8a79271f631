package poll

// Package poll provides the blocking sleep-then-check loop used for tunnel
// connectivity and remote test completion.

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned by Until when every attempt was used without the
// condition becoming true.
var ErrExhausted = errors.New("condition not met within attempt limit")

// Sleeper blocks for the given duration or until the context is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// RealSleeper sleeps using a timer.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options configures a polling loop.
type Options struct {
	// MaxAttempts bounds the number of checks. Zero means no bound.
	MaxAttempts int
	// Interval is slept before every check.
	Interval time.Duration
	// Sleeper defaults to RealSleeper.
	Sleeper Sleeper
}

// Until sleeps Interval and then calls check, up to MaxAttempts times, until
// check reports done. It returns the number of checks performed.
//
// An error from check ends the loop immediately. When all attempts are used
// ErrExhausted is returned.
func Until(ctx context.Context, opts Options, check func(ctx context.Context) (bool, error)) (int, error) {
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper{}
	}

	attempts := 0
	for opts.MaxAttempts <= 0 || attempts < opts.MaxAttempts {
		if err := sleeper.Sleep(ctx, opts.Interval); err != nil {
			return attempts, err
		}
		attempts++

		done, err := check(ctx)
		if err != nil {
			return attempts, err
		}
		if done {
			return attempts, nil
		}
	}
	return attempts, ErrExhausted
}
