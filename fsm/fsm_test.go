package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitializeFromNew(t *testing.T) {
	m := New()
	target, err := m.Begin(CmdInitialize)
	require.NoError(t, err)
	require.Equal(t, StateInitializing, target)

	require.NoError(t, m.Complete("Initialized."))
	require.Equal(t, StateInit, m.Current())
}

func TestFullOrbitToRunToOrbit(t *testing.T) {
	m := New()
	_, err := m.Begin(CmdInitialize)
	require.NoError(t, err)
	require.NoError(t, m.Complete("Initialized."))

	_, err = m.Begin(CmdLaunch)
	require.NoError(t, err)
	require.NoError(t, m.Complete("Launched."))
	require.Equal(t, StateOrbit, m.Current())

	target, err := m.Begin(CmdStart)
	require.NoError(t, err)
	require.Equal(t, StateStarting, target)
	require.NoError(t, m.Complete("Finished preparations, starting."))
	require.Equal(t, StateRun, m.Current())

	ctx := context.Background()
	m.StartRun(ctx, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "Finished acquisition.", nil
	})
	require.True(t, m.RunActive())

	target, err = m.Begin(CmdStop)
	require.NoError(t, err)
	require.Equal(t, StateStopping, target)

	res, ok := m.CancelRun()
	require.True(t, ok)
	require.Equal(t, "Finished acquisition.", res.Status)
	require.False(t, m.RunActive())

	require.NoError(t, m.Complete("Acquisition stopped."))
	require.Equal(t, StateOrbit, m.Current())
}

func TestBeginRejectsDisallowedTransition(t *testing.T) {
	m := New()
	_, err := m.Begin(CmdLaunch)
	require.ErrorIs(t, err, ErrNotAllowed)
}

func TestBeginRejectsConcurrentTransition(t *testing.T) {
	m := New()
	_, err := m.Begin(CmdInitialize)
	require.NoError(t, err)

	_, err = m.Begin(CmdLaunch)
	require.ErrorIs(t, err, ErrNotAllowed)
}

func TestFailureAllowedFromTransitionalState(t *testing.T) {
	m := New()
	_, err := m.Begin(CmdInitialize)
	require.NoError(t, err)

	target, err := m.Begin(CmdFailure)
	require.NoError(t, err)
	require.Equal(t, StateError, target)
	require.Equal(t, StateError, m.Current())
}

func TestShutdownOnlyFromEligibleStates(t *testing.T) {
	m := New()
	_, err := m.Begin(CmdShutdown)
	require.ErrorIs(t, err, ErrNotAllowed)

	_, err = m.Begin(CmdInitialize)
	require.NoError(t, err)
	require.NoError(t, m.Complete("Initialized."))

	target, err := m.Begin(CmdShutdown)
	require.NoError(t, err)
	require.Equal(t, StateDead, target)
}

func TestConsumeTransitionedLatch(t *testing.T) {
	m := New()
	require.False(t, m.ConsumeTransitioned())
	require.False(t, m.ConsumeTransitioned())

	_, err := m.Begin(CmdInitialize)
	require.NoError(t, err)
	require.True(t, m.ConsumeTransitioned())
}

func TestInterruptFromRunCancelsWorker(t *testing.T) {
	m := New()
	for _, cmd := range []Command{CmdInitialize} {
		_, err := m.Begin(cmd)
		require.NoError(t, err)
		require.NoError(t, m.Complete("done"))
	}
	_, err := m.Begin(CmdLaunch)
	require.NoError(t, err)
	require.NoError(t, m.Complete("done"))
	_, err = m.Begin(CmdStart)
	require.NoError(t, err)
	require.NoError(t, m.Complete("done"))

	cancelled := make(chan struct{})
	m.StartRun(context.Background(), func(ctx context.Context) (string, error) {
		<-ctx.Done()
		close(cancelled)
		return "interrupted", nil
	})

	target, err := m.Begin(CmdInterrupt)
	require.NoError(t, err)
	require.Equal(t, StateInterrupting, target)

	res, ok := m.CancelRun()
	require.True(t, ok)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("worker was not cancelled")
	}
	require.Equal(t, "interrupted", res.Status)

	require.NoError(t, m.Complete("Interrupted."))
	require.Equal(t, StateSafe, m.Current())
}
