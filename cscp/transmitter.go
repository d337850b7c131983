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
	"sync"

	"github.com/go-zeromq/zmq4"
)

// Transmitter is a single-writer CSCP1 REQ socket, used by a controller
// to talk to one satellite's command receiver.
type Transmitter struct {
	sender string
	sock   zmq4.Socket

	mu sync.Mutex
}

// Dial opens a REQ socket connected to endpoint and identifies
// outgoing requests as coming from sender (the controller's own
// canonical name).
func Dial(ctx context.Context, sender, endpoint string) (*Transmitter, error) {
	sock := zmq4.NewReq(ctx)
	if err := sock.Dial(endpoint); err != nil {
		return nil, fmt.Errorf("dialing CSCP endpoint %s: %w", endpoint, err)
	}
	return &Transmitter{sender: sender, sock: sock}, nil
}

// SendRequest sends command with an optional pre-encoded payload and
// tags, serialising concurrent callers onto the single REQ socket, per
// spec.md §4.E.
func (t *Transmitter) SendRequest(command string, payload []byte, tags map[string]interface{}) error {
	msg := NewRequest(t.sender, command, payload, tags)
	frames, err := msg.Assemble()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sock.Send(zmq4.NewMsgFrom(frames...))
}

// RequestGetResponse sends command and blocks for the matching REP
// reply, honoring REQ/REP's strict request-reply ordering.
func (t *Transmitter) RequestGetResponse(command string, payload []byte, tags map[string]interface{}) (*Message, error) {
	if err := t.SendRequest(command, payload, tags); err != nil {
		return nil, err
	}
	return t.recv()
}

func (t *Transmitter) recv() (*Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw, err := t.sock.Recv()
	if err != nil {
		return nil, fmt.Errorf("receiving CSCP reply: %w", err)
	}
	return Disassemble(raw.Frames)
}

// Close releases the underlying socket.
func (t *Transmitter) Close() error {
	return t.sock.Close()
}
