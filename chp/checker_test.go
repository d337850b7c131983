package chp

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/constellation-daq/constellation/fsm"
)

func TestObserveTriggersInterruptOnErrorState(t *testing.T) {
	var mu sync.Mutex
	var got []string
	c := NewChecker(func(name string, state fsm.State) {
		mu.Lock()
		got = append(got, name)
		mu.Unlock()
		require.Equal(t, fsm.StateError, state)
	})

	host := uuid.New()
	c.Register(host, "Sat.host1")
	c.Observe(host, &Message{Sender: "Sat.host1", SendTime: time.Now(), State: fsm.StateError, Interval: time.Second})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"Sat.host1"}, got)
	require.Equal(t, []string{"Sat.host1"}, c.Failed())
}

func TestObserveDoesNotRefireWhileStillFailed(t *testing.T) {
	calls := 0
	c := NewChecker(func(name string, state fsm.State) { calls++ })

	host := uuid.New()
	c.Register(host, "Sat.host1")
	c.Observe(host, &Message{Sender: "Sat.host1", SendTime: time.Now(), State: fsm.StateError, Interval: time.Second})
	c.Observe(host, &Message{Sender: "Sat.host1", SendTime: time.Now(), State: fsm.StateError, Interval: time.Second})
	require.Equal(t, 1, calls)
}

func TestObserveClearsFailedOnRecovery(t *testing.T) {
	c := NewChecker(func(name string, state fsm.State) {})
	host := uuid.New()
	c.Register(host, "Sat.host1")
	c.Observe(host, &Message{Sender: "Sat.host1", SendTime: time.Now(), State: fsm.StateError, Interval: time.Second})
	require.Len(t, c.Failed(), 1)

	c.Observe(host, &Message{Sender: "Sat.host1", SendTime: time.Now(), State: fsm.StateOrbit, Interval: time.Second})
	require.Empty(t, c.Failed())
}

func TestAutonomousRoleDoesNotTriggerOnFault(t *testing.T) {
	calls := 0
	c := NewChecker(func(name string, state fsm.State) { calls++ })
	host := uuid.New()
	c.Register(host, "Sat.host1")
	c.Observe(host, &Message{Sender: "Sat.host1", SendTime: time.Now(), State: fsm.StateError, Flags: FlagIsAutonomous, Interval: time.Second})
	require.Zero(t, calls)
}

func TestSweepDecrementsLivesAndFiresWhenExhausted(t *testing.T) {
	calls := 0
	c := NewChecker(func(name string, state fsm.State) {
		calls++
		require.Equal(t, fsm.StateDead, state)
	})
	host := uuid.New()
	c.Register(host, "Sat.host1")

	c.mu.Lock()
	peer := c.peers[host]
	peer.interval = 10 * time.Millisecond
	peer.lastSeen = time.Now().Add(-time.Second)
	peer.lives = 1
	c.mu.Unlock()

	c.sweep()
	require.Equal(t, 1, calls)
	require.Equal(t, []string{"Sat.host1"}, c.Failed())
}

func TestUnregisterDenyDepartureFiresInterrupt(t *testing.T) {
	var got fsm.State
	called := false
	c := NewChecker(func(name string, state fsm.State) {
		called = true
		got = state
	})
	host := uuid.New()
	c.Register(host, "Sat.host1")
	c.Observe(host, &Message{Sender: "Sat.host1", SendTime: time.Now(), State: fsm.StateOrbit, Flags: FlagIsAutonomous, Interval: time.Second})

	c.Unregister(host)
	require.True(t, called)
	require.Equal(t, fsm.StateDead, got)
}
