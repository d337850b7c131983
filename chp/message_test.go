package chp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/constellation-daq/constellation/fsm"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := &Message{
		Sender:   "Sat.host1",
		SendTime: time.Now().UTC().Truncate(time.Millisecond),
		State:    fsm.StateRun,
		Flags:    FlagIsExtrasystole,
		Interval: 660 * time.Millisecond,
		Status:   "Running.",
	}
	frames, err := msg.Encode()
	require.NoError(t, err)
	require.Len(t, frames, 2)

	decoded, err := Decode(frames)
	require.NoError(t, err)
	require.Equal(t, msg.Sender, decoded.Sender)
	require.Equal(t, msg.State, decoded.State)
	require.Equal(t, msg.Flags, decoded.Flags)
	require.Equal(t, msg.Interval, decoded.Interval)
	require.Equal(t, msg.Status, decoded.Status)
}

func TestMessageRoundTripWithoutStatus(t *testing.T) {
	msg := &Message{Sender: "Sat.host1", SendTime: time.Now().UTC(), State: fsm.StateOrbit, Interval: time.Second}
	frames, err := msg.Encode()
	require.NoError(t, err)
	require.Len(t, frames, 1)

	decoded, err := Decode(frames)
	require.NoError(t, err)
	require.Empty(t, decoded.Status)
}

func TestRoleFromFlags(t *testing.T) {
	require.Equal(t, RoleDynamic, RoleFromFlags(FlagNone))
	require.Equal(t, RoleAutonomous, RoleFromFlags(FlagIsAutonomous))
	require.True(t, RoleDynamic.RequiresTriggerInterrupt())
	require.False(t, RoleAutonomous.RequiresTriggerInterrupt())
	require.True(t, RoleAutonomous.DenyDeparture())
}
