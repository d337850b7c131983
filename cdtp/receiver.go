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

package cdtp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

// MessageHandler is invoked for every CDTP2 message a Receiver
// decodes, including BOR and EOR framing messages.
type MessageHandler func(sender string, msg *Message)

// Receiver is the controller/consumer-side CDTP endpoint: one PULL
// socket per discovered DATA sender, each read by its own goroutine,
// with per-sender BOR/DATA/EOR bookkeeping and an EOR-timeout drain
// for orderly shutdown. Restricting spec.md §4.M's multiplexing
// poller to one goroutine per socket keeps every connection's
// reconstruction state local, at the cost of one extra goroutine per
// discovered sender — cheap in Go, and consistent with how the rest of
// this codebase favours goroutine-per-socket over a shared poller.
type Receiver struct {
	handler  MessageHandler
	restrict map[string]bool

	mu       sync.Mutex
	active   map[string]bool
	sockets  map[string]zmq4.Socket
	cancels  map[string]context.CancelFunc
	lastSeen time.Time

	bytesReceived uint64

	wg sync.WaitGroup
}

// NewReceiver returns a Receiver dispatching decoded messages to
// handler. If allowed is non-empty, only senders named in it may
// Connect; any other name is rejected.
func NewReceiver(handler MessageHandler, allowed []string) *Receiver {
	r := &Receiver{
		handler: handler,
		active:  make(map[string]bool),
		sockets: make(map[string]zmq4.Socket),
		cancels: make(map[string]context.CancelFunc),
	}
	if len(allowed) > 0 {
		r.restrict = make(map[string]bool, len(allowed))
		for _, name := range allowed {
			r.restrict[name] = true
		}
	}
	return r
}

// BytesReceived returns the monotonic count of payload bytes received
// across every sender, for exposure as a CMDP metric.
func (r *Receiver) BytesReceived() uint64 {
	return atomic.LoadUint64(&r.bytesReceived)
}

// ActiveSenders returns the names of senders for which BOR has been
// observed but not yet EOR.
func (r *Receiver) ActiveSenders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := maps.Keys(r.active)
	sort.Strings(out)
	return out
}

// Connect opens a PULL socket dialing endpoint and begins receiving
// from sender.
func (r *Receiver) Connect(ctx context.Context, sender, endpoint string) error {
	if r.restrict != nil && !r.restrict[sender] {
		return fmt.Errorf("cdtp: sender %q is not in the configured data_transmitters set", sender)
	}

	r.mu.Lock()
	if _, exists := r.sockets[sender]; exists {
		r.mu.Unlock()
		return fmt.Errorf("cdtp: already connected to sender %q", sender)
	}
	r.mu.Unlock()

	sock := zmq4.NewPull(ctx)
	if err := sock.Dial(endpoint); err != nil {
		return fmt.Errorf("dialing CDTP endpoint %s: %w", endpoint, err)
	}
	loopCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.sockets[sender] = sock
	r.cancels[sender] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.receiveLoop(loopCtx, sender, sock)
	return nil
}

// WaitForSenders blocks until every name in expected has a live
// connection, or returns an error listing the missing ones once
// timeout elapses.
func (r *Receiver) WaitForSenders(ctx context.Context, expected []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.allConnected(expected) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("cdtp: senders not discovered within %s: %v", timeout, r.missing(expected))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Receiver) allConnected(expected []string) bool {
	return len(r.missing(expected)) == 0
}

func (r *Receiver) missing(expected []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var missing []string
	for _, name := range expected {
		if _, ok := r.sockets[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func (r *Receiver) receiveLoop(ctx context.Context, sender string, sock zmq4.Socket) {
	defer r.wg.Done()
	for {
		msg, err := sock.Recv()
		if err != nil {
			return
		}
		if len(msg.Frames) != 1 {
			log.WithField("sender", sender).Warn("cdtp: dropping malformed multi-frame message")
			continue
		}
		decoded, err := Decode(msg.Frames[0])
		if err != nil {
			log.WithError(err).WithField("sender", sender).Warn("cdtp: dropping malformed message")
			continue
		}
		r.dispatch(sender, decoded)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (r *Receiver) dispatch(sender string, msg *Message) {
	r.mu.Lock()
	switch msg.Type {
	case TypeBOR:
		r.active[sender] = true
	case TypeData:
		if !r.active[sender] {
			log.WithField("sender", sender).Warn("cdtp: DATA received before BOR, adding sender as late joiner")
			r.active[sender] = true
		}
	case TypeEOR:
		delete(r.active, sender)
	}
	r.lastSeen = time.Now()
	r.mu.Unlock()

	atomic.AddUint64(&r.bytesReceived, uint64(msg.CountPayloadBytes()))
	if r.handler != nil {
		r.handler(sender, msg)
	}
}

// Drain waits for every active sender to send EOR, extending the
// deadline each time a message is observed, up to eorTimeout of total
// silence. If senders are still active when the deadline is reached
// it logs a warning and returns cleanly rather than erroring, per
// spec.md §4.M's stopping semantics.
func (r *Receiver) Drain(ctx context.Context, eorTimeout time.Duration) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	r.mu.Lock()
	deadline := time.Now().Add(eorTimeout)
	r.mu.Unlock()

	for {
		r.mu.Lock()
		remaining := len(r.active)
		lastSeen := r.lastSeen
		r.mu.Unlock()

		if remaining == 0 {
			return
		}
		if lastSeen.Add(eorTimeout).After(deadline) {
			deadline = lastSeen.Add(eorTimeout)
		}
		if time.Now().After(deadline) {
			log.WithField("pending_senders", r.ActiveSenders()).
				Warn("cdtp: EOR timeout reached with senders still active")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Disconnect stops receiving from sender and closes its socket
// without flushing, for use on failure.
func (r *Receiver) Disconnect(sender string) {
	r.mu.Lock()
	cancel, ok := r.cancels[sender]
	sock := r.sockets[sender]
	delete(r.cancels, sender)
	delete(r.sockets, sender)
	delete(r.active, sender)
	r.mu.Unlock()

	if ok {
		cancel()
	}
	if sock != nil {
		_ = sock.Close()
	}
}

// Close disconnects every sender and waits for their receive loops to
// exit.
func (r *Receiver) Close() error {
	r.mu.Lock()
	names := maps.Keys(r.sockets)
	r.mu.Unlock()

	for _, name := range names {
		r.Disconnect(name)
	}
	r.wg.Wait()
	return nil
}
