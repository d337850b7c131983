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

package cscp

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// Responder is the REP side of one satellite's CSCP socket.
//
// GetMessage blocks until a request arrives or ctx (passed to Listen)
// is cancelled, rather than polling with an idle sleep: the REP socket
// was constructed from ctx, so cancellation unblocks the pending Recv
// the same way it does on every other socket in this codebase, and
// sidesteps needing a separate readiness-poll primitive on top of
// zmq4's blocking Socket.Recv.
type Responder struct {
	self string
	sock zmq4.Socket
}

// Listen opens a REP socket bound to endpoint (e.g. "tcp://*:0") and
// identifies outgoing replies as coming from self.
func Listen(ctx context.Context, self, endpoint string) (*Responder, error) {
	sock := zmq4.NewRep(ctx)
	if err := sock.Listen(endpoint); err != nil {
		return nil, fmt.Errorf("binding CSCP endpoint %s: %w", endpoint, err)
	}
	return &Responder{self: self, sock: sock}, nil
}

// Addr returns the socket's bound address, for CHIRP offer registration.
func (r *Responder) Addr() string {
	if a := r.sock.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// GetMessage receives and decodes the next request, blocking until one
// arrives or the Responder's context is cancelled. A malformed frame
// set yields a non-nil error the caller should reply to with a
// decoding-error text rather than dispatching.
func (r *Responder) GetMessage() (*Message, error) {
	raw, err := r.sock.Recv()
	if err != nil {
		return nil, fmt.Errorf("receiving CSCP request: %w", err)
	}
	return Disassemble(raw.Frames)
}

// Reply sends msg as the response to the most recently received request.
func (r *Responder) Reply(msg *Message) error {
	frames, err := msg.Assemble()
	if err != nil {
		return err
	}
	return r.sock.Send(zmq4.NewMsgFrom(frames...))
}

// Close releases the underlying socket.
func (r *Responder) Close() error {
	return r.sock.Close()
}
