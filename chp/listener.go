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

package chp

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
	log "github.com/sirupsen/logrus"
)

// MessageHandler is invoked for every decoded heartbeat received from
// a subscribed peer.
type MessageHandler func(source string, msg *Message)

// Listener subscribes to a set of satellites' CHP XPUB endpoints and
// dispatches decoded heartbeats to a handler, for feeding a Checker.
type Listener struct {
	handler MessageHandler

	mu    sync.Mutex
	peers map[string]zmq4.Socket
}

// NewListener returns a Listener that invokes handler for every
// heartbeat received from any subscribed peer.
func NewListener(handler MessageHandler) *Listener {
	return &Listener{handler: handler, peers: make(map[string]zmq4.Socket)}
}

// Subscribe connects to a satellite's CHP endpoint and subscribes to
// every heartbeat it sends.
func (l *Listener) Subscribe(ctx context.Context, source, endpoint string) error {
	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(endpoint); err != nil {
		return fmt.Errorf("dialing CHP endpoint %s: %w", endpoint, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		_ = sock.Close()
		return fmt.Errorf("subscribing on %s: %w", endpoint, err)
	}

	l.mu.Lock()
	if old, ok := l.peers[source]; ok {
		_ = old.Close()
	}
	l.peers[source] = sock
	l.mu.Unlock()

	go l.receiveLoop(source, sock)
	return nil
}

// Unsubscribe disconnects and forgets source.
func (l *Listener) Unsubscribe(source string) {
	l.mu.Lock()
	sock, ok := l.peers[source]
	if ok {
		delete(l.peers, source)
	}
	l.mu.Unlock()
	if ok {
		_ = sock.Close()
	}
}

// Peers returns the names of every currently subscribed source.
func (l *Listener) Peers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.peers))
	for name := range l.peers {
		out = append(out, name)
	}
	return out
}

func (l *Listener) receiveLoop(source string, sock zmq4.Socket) {
	for {
		msg, err := sock.Recv()
		if err != nil {
			return
		}
		decoded, err := Decode(msg.Frames)
		if err != nil {
			log.WithError(err).WithField("source", source).Warn("chp: dropping malformed heartbeat")
			continue
		}
		if l.handler != nil {
			l.handler(source, decoded)
		}
	}
}

// Close disconnects every subscribed peer.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for name, sock := range l.peers {
		if err := sock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(l.peers, name)
	}
	return firstErr
}
