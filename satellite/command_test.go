package satellite

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/constellation-daq/constellation/cscp"
	"github.com/constellation-daq/constellation/fsm"
)

func newTestReceiver() *CommandReceiver {
	return &CommandReceiver{self: "Sat.test", registry: make(map[string]*entry)}
}

func TestDispatchRejectsNonRequestVerb(t *testing.T) {
	r := newTestReceiver()
	reply := r.dispatch(&cscp.Message{Type: cscp.TypeSuccess, Text: "whatever"})
	require.Equal(t, cscp.TypeInvalid, reply.Type)
}

func TestDispatchUnknownCommand(t *testing.T) {
	r := newTestReceiver()
	reply := r.dispatch(&cscp.Message{Type: cscp.TypeRequest, Text: "nosuchcommand"})
	require.Equal(t, cscp.TypeUnknown, reply.Type)
}

func TestDispatchGuardFalseYieldsInvalid(t *testing.T) {
	r := newTestReceiver()
	r.Register("locked", func() bool { return false }, func(*cscp.Message) (*Result, error) {
		return &Result{Text: "should not run"}, nil
	}, "")
	reply := r.dispatch(&cscp.Message{Type: cscp.TypeRequest, Text: "locked"})
	require.Equal(t, cscp.TypeInvalid, reply.Type)
}

func TestDispatchMapsSentinelErrors(t *testing.T) {
	r := newTestReceiver()
	r.Register("incomplete", nil, func(*cscp.Message) (*Result, error) {
		return nil, ErrIncomplete
	}, "")
	r.Register("notimpl", nil, func(*cscp.Message) (*Result, error) {
		return nil, ErrNotImplemented
	}, "")
	r.Register("notallowed", nil, func(*cscp.Message) (*Result, error) {
		return nil, fsm.ErrNotAllowed
	}, "")
	r.Register("boom", nil, func(*cscp.Message) (*Result, error) {
		return nil, errors.New("boom")
	}, "")
	r.Register("nilresult", nil, func(*cscp.Message) (*Result, error) {
		return nil, nil
	}, "")

	require.Equal(t, cscp.TypeIncomplete, r.dispatch(&cscp.Message{Type: cscp.TypeRequest, Text: "incomplete"}).Type)
	require.Equal(t, cscp.TypeNotImplemented, r.dispatch(&cscp.Message{Type: cscp.TypeRequest, Text: "notimpl"}).Type)
	require.Equal(t, cscp.TypeInvalid, r.dispatch(&cscp.Message{Type: cscp.TypeRequest, Text: "notallowed"}).Type)
	require.Equal(t, cscp.TypeInvalid, r.dispatch(&cscp.Message{Type: cscp.TypeRequest, Text: "boom"}).Type)
	require.Equal(t, cscp.TypeIncomplete, r.dispatch(&cscp.Message{Type: cscp.TypeRequest, Text: "nilresult"}).Type)
}

func TestDispatchSuccessCarriesResultFields(t *testing.T) {
	r := newTestReceiver()
	r.Register("echo", nil, func(req *cscp.Message) (*Result, error) {
		return &Result{Text: "ok", Tags: map[string]interface{}{"seen": req.Text}}, nil
	}, "")
	reply := r.dispatch(&cscp.Message{Type: cscp.TypeRequest, Text: "echo"})
	require.Equal(t, cscp.TypeSuccess, reply.Type)
	require.Equal(t, "ok", reply.Text)
	require.Equal(t, "echo", reply.Tags["seen"])
}

func TestRegisterGuardExpressionEvaluatesParams(t *testing.T) {
	r := newTestReceiver()
	open := true
	err := r.RegisterGuardExpression("maybe", "open == true", func() map[string]interface{} {
		return map[string]interface{}{"open": open}
	}, func(*cscp.Message) (*Result, error) {
		return &Result{Text: "ran"}, nil
	}, "")
	require.NoError(t, err)

	require.Equal(t, cscp.TypeSuccess, r.dispatch(&cscp.Message{Type: cscp.TypeRequest, Text: "maybe"}).Type)
	open = false
	require.Equal(t, cscp.TypeInvalid, r.dispatch(&cscp.Message{Type: cscp.TypeRequest, Text: "maybe"}).Type)
}
