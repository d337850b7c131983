package satellite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/constellation-daq/constellation/config"
	"github.com/constellation-daq/constellation/cscp"
	"github.com/constellation-daq/constellation/fsm"
)

type recordingHooks struct {
	NoopHooks
	initialized *config.Configuration
	launched    bool
	runCalls    int
}

func (h *recordingHooks) Initialize(_ context.Context, cfg *config.Configuration) error {
	h.initialized = cfg
	return nil
}

func (h *recordingHooks) Launch(context.Context) error {
	h.launched = true
	return nil
}

func (h *recordingHooks) Run(ctx context.Context, runID string) (string, error) {
	h.runCalls++
	<-ctx.Done()
	return "stopped " + runID, nil
}

func newBuiltinTestSatellite(hooks Hooks) (*Satellite, *CommandReceiver) {
	emptyConfig, err := config.New(nil)
	if err != nil {
		panic(err)
	}
	sat := &Satellite{
		name:    "Sat.test",
		hooks:   hooks,
		machine: fsm.New(),
		config:  emptyConfig,
		ctx:     context.Background(),
	}
	r := &CommandReceiver{self: sat.name, registry: make(map[string]*entry)}
	r.registerBuiltins(sat)
	return sat, r
}

func request(text string, payload interface{}) *cscp.Message {
	msg := &cscp.Message{Type: cscp.TypeRequest, Text: text}
	if payload != nil {
		encoded, err := msgpack.Marshal(payload)
		if err != nil {
			panic(err)
		}
		msg.Payload = encoded
	}
	return msg
}

func TestGetNameAndState(t *testing.T) {
	sat, r := newBuiltinTestSatellite(&recordingHooks{})
	require.Equal(t, "Sat.test", r.dispatch(request("get_name", nil)).Text)
	require.Equal(t, "NEW", r.dispatch(request("get_state", nil)).Text)
	require.Equal(t, fsm.StateNew, sat.Machine().Current())
}

func TestInitializeLaunchTransitionsState(t *testing.T) {
	hooks := &recordingHooks{}
	sat, r := newBuiltinTestSatellite(hooks)

	reply := r.dispatch(request("initialize", map[string]interface{}{"foo": "bar"}))
	require.Equal(t, cscp.TypeSuccess, reply.Type)
	require.Equal(t, "transitioning", reply.Text)
	var cmd string
	require.NoError(t, msgpack.Unmarshal(reply.Payload, &cmd))
	require.Equal(t, "initialize", cmd)

	require.Eventually(t, func() bool { return sat.Machine().Current() == fsm.StateInit }, time.Second, time.Millisecond)
	foo, err := hooks.initialized.GetString("foo")
	require.NoError(t, err)
	require.Equal(t, "bar", foo)
	foo, err = sat.Config().GetString("foo")
	require.NoError(t, err)
	require.Equal(t, "bar", foo)

	reply = r.dispatch(request("launch", nil))
	require.Equal(t, cscp.TypeSuccess, reply.Type)
	require.Equal(t, "transitioning", reply.Text)
	require.Eventually(t, func() bool { return sat.Machine().Current() == fsm.StateOrbit }, time.Second, time.Millisecond)
	require.True(t, hooks.launched)
}

func TestInitializeWithoutPayloadStillSucceedsWithEmptyConfig(t *testing.T) {
	_, r := newBuiltinTestSatellite(&recordingHooks{})
	reply := r.dispatch(request("initialize", nil))
	require.Equal(t, cscp.TypeSuccess, reply.Type)
}

func TestStartRequiresRunID(t *testing.T) {
	_, r := newBuiltinTestSatellite(&recordingHooks{})
	reply := r.dispatch(request("start", nil))
	require.Equal(t, cscp.TypeIncomplete, reply.Type)
}

func TestStartBeforeOrbitIsInvalid(t *testing.T) {
	_, r := newBuiltinTestSatellite(&recordingHooks{})
	reply := r.dispatch(request("start", "run-001"))
	require.Equal(t, cscp.TypeInvalid, reply.Type)
}

func TestFullLifecycleToRunAndStop(t *testing.T) {
	hooks := &recordingHooks{}
	sat, r := newBuiltinTestSatellite(hooks)

	require.Equal(t, cscp.TypeSuccess, r.dispatch(request("initialize", map[string]interface{}{})).Type)
	require.Eventually(t, func() bool { return sat.Machine().Current() == fsm.StateInit }, time.Second, time.Millisecond)
	require.Equal(t, cscp.TypeSuccess, r.dispatch(request("launch", nil)).Type)
	require.Eventually(t, func() bool { return sat.Machine().Current() == fsm.StateOrbit }, time.Second, time.Millisecond)

	reply := r.dispatch(request("start", "run-007"))
	require.Equal(t, cscp.TypeSuccess, reply.Type)
	require.Equal(t, "transitioning", reply.Text)
	require.Equal(t, "run-007", sat.RunID())

	require.Eventually(t, func() bool { return hooks.runCalls == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return sat.Machine().Current() == fsm.StateRun }, time.Second, time.Millisecond)
	require.True(t, sat.Machine().RunActive())

	reply = r.dispatch(request("stop", nil))
	require.Equal(t, cscp.TypeSuccess, reply.Type)
	require.Equal(t, "transitioning", reply.Text)
	require.Eventually(t, func() bool { return sat.Machine().Current() == fsm.StateOrbit }, time.Second, time.Millisecond)
	require.False(t, sat.Machine().RunActive())
}

func TestShutdownFromInitState(t *testing.T) {
	sat, r := newBuiltinTestSatellite(&recordingHooks{})
	require.Equal(t, cscp.TypeSuccess, r.dispatch(request("initialize", map[string]interface{}{})).Type)
	require.Eventually(t, func() bool { return sat.Machine().Current() == fsm.StateInit }, time.Second, time.Millisecond)
	reply := r.dispatch(request("shutdown", nil))
	require.Equal(t, cscp.TypeSuccess, reply.Type)
	require.Equal(t, fsm.StateDead, sat.Machine().Current())
}
