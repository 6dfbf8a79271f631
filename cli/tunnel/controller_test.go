package tunnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeService reports running once statusCalls reaches connectAfter, and
// stops reporting running disconnectAfter polls after Stop was called.
type fakeService struct {
	running         bool
	connectAfter    int // 0 = never connects after Start
	disconnectAfter int // 0 = never disconnects after Stop
	startErr        error

	startCalls  int
	stopCalls   int
	statusCalls int
	stoppedAt   int
	startedDir  string
}

func (f *fakeService) Start(_ context.Context, dir string) error {
	f.startCalls++
	f.startedDir = dir
	if f.startErr != nil {
		return f.startErr
	}
	f.statusCalls = 0
	return nil
}

func (f *fakeService) Stop(context.Context) error {
	f.stopCalls++
	f.stoppedAt = f.statusCalls
	return nil
}

func (f *fakeService) Running(context.Context) (bool, error) {
	f.statusCalls++
	if f.stopCalls > 0 {
		if f.disconnectAfter > 0 && f.statusCalls-f.stoppedAt >= f.disconnectAfter {
			f.running = false
		}
		return f.running, nil
	}
	if f.startCalls > 0 && f.connectAfter > 0 && f.statusCalls >= f.connectAfter {
		f.running = true
	}
	return f.running, nil
}

type countingSleeper struct {
	calls int
	total time.Duration
}

func (s *countingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.calls++
	s.total += d
	return nil
}

func newTestController(svc Service, sleeper *countingSleeper) *Controller {
	return New(zerolog.Nop(), svc, WithSleeper(sleeper))
}

func TestController_ConnectsAfterThreePolls(t *testing.T) {
	svc := &fakeService{connectAfter: 3}
	sleeper := &countingSleeper{}
	c := newTestController(svc, sleeper)

	require.NoError(t, c.Start(context.Background(), "/workspace"))
	require.Equal(t, StateStarting, c.State())
	require.True(t, c.Owned())
	require.Equal(t, "/workspace", svc.startedDir)

	require.NoError(t, c.AwaitConnected(context.Background()))
	require.Equal(t, StateConnected, c.State())
	require.True(t, c.Running())
	require.Equal(t, 3, svc.statusCalls)
	require.Equal(t, 3, sleeper.calls)
}

func TestController_ConnectTimeout(t *testing.T) {
	svc := &fakeService{}
	sleeper := &countingSleeper{}
	c := newTestController(svc, sleeper)

	require.NoError(t, c.Start(context.Background(), "/workspace"))
	err := c.AwaitConnected(context.Background())
	require.Error(t, err)
	require.True(t, IsTimeout(err))

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	require.Equal(t, DefaultConnectAttempts, te.Attempts)
	require.Equal(t, DefaultConnectAttempts, svc.statusCalls)
	require.Equal(t, time.Duration(DefaultConnectAttempts)*DefaultConnectInterval, sleeper.total)
	require.Equal(t, 30*time.Second, sleeper.total)
	require.Contains(t, err.Error(), "30s")
}

func TestController_StartIsIdempotentWhenAlreadyRunning(t *testing.T) {
	svc := &fakeService{running: true}
	sleeper := &countingSleeper{}
	c := newTestController(svc, sleeper)

	require.NoError(t, c.Start(context.Background(), "/workspace"))
	require.NoError(t, c.Start(context.Background(), "/workspace"))
	require.Equal(t, 0, svc.startCalls)
	require.False(t, c.Owned())
	require.Equal(t, StateConnected, c.State())

	require.NoError(t, c.AwaitConnected(context.Background()))
	require.Equal(t, 0, sleeper.calls)
}

func TestController_StopIsNoopWhenNotOwned(t *testing.T) {
	svc := &fakeService{running: true}
	c := newTestController(svc, &countingSleeper{})

	require.NoError(t, c.Start(context.Background(), "/workspace"))
	require.NoError(t, c.Stop(context.Background()))
	require.Equal(t, 0, svc.stopCalls)
	require.Equal(t, StateConnected, c.State())
}

func TestController_StopOwnedTunnel(t *testing.T) {
	svc := &fakeService{connectAfter: 1, disconnectAfter: 2}
	sleeper := &countingSleeper{}
	c := newTestController(svc, sleeper)

	require.NoError(t, c.Start(context.Background(), "/workspace"))
	require.NoError(t, c.AwaitConnected(context.Background()))

	sleeper.total = 0
	require.NoError(t, c.Stop(context.Background()))
	require.Equal(t, 1, svc.stopCalls)
	require.Equal(t, StateStopped, c.State())
	require.False(t, c.Owned())
	require.Equal(t, 2*DefaultDisconnectInterval, sleeper.total)
}

func TestController_StopDisconnectTimeoutIsNotAnError(t *testing.T) {
	svc := &fakeService{connectAfter: 1}
	sleeper := &countingSleeper{}
	c := newTestController(svc, sleeper)

	require.NoError(t, c.Start(context.Background(), "/workspace"))
	require.NoError(t, c.AwaitConnected(context.Background()))

	sleeper.total = 0
	require.NoError(t, c.Stop(context.Background()))
	require.Equal(t, 1, svc.stopCalls)
	require.Equal(t, StateStopping, c.State())
	require.True(t, c.Running())
	require.Equal(t, 45*time.Second, sleeper.total)
}

func TestController_StartError(t *testing.T) {
	svc := &fakeService{startErr: errors.New("cbt_tunnels: not found")}
	c := newTestController(svc, &countingSleeper{})

	err := c.Start(context.Background(), "/workspace")
	require.ErrorContains(t, err, "cbt_tunnels: not found")
	require.False(t, c.Owned())
	require.Equal(t, StateStopped, c.State())
}

func TestController_StartedElsewhereIsNotOwned(t *testing.T) {
	svc := &fakeService{startErr: ErrStartedElsewhere, connectAfter: 2}
	c := newTestController(svc, &countingSleeper{})

	require.NoError(t, c.Start(context.Background(), "/workspace"))
	require.False(t, c.Owned())
	require.Equal(t, StateStarting, c.State())

	require.NoError(t, c.Stop(context.Background()))
	require.Equal(t, 0, svc.stopCalls)
}

func TestController_CustomPolling(t *testing.T) {
	svc := &fakeService{}
	sleeper := &countingSleeper{}
	c := New(zerolog.Nop(), svc, WithSleeper(sleeper), WithConnectPolling(4, time.Second))

	require.NoError(t, c.Start(context.Background(), "/workspace"))
	err := c.AwaitConnected(context.Background())
	require.True(t, IsTimeout(err))
	require.Equal(t, 4, sleeper.calls)
	require.Equal(t, 4*time.Second, sleeper.total)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "stopped", StateStopped.String())
	require.Equal(t, "starting", StateStarting.String())
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "stopping", StateStopping.String())
	require.Equal(t, "state(9)", State(9).String())
}
