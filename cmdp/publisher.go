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

package cmdp

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-zeromq/zmq4"
	log "github.com/sirupsen/logrus"
)

// Publisher is the satellite-side CMDP endpoint: an XPUB socket that
// broadcasts log records and metrics, tracking which topic prefixes
// currently have at least one subscriber so the caller can skip
// building records nobody wants.
type Publisher struct {
	name string
	sock zmq4.Socket

	mu   sync.Mutex
	subs map[uint64]int

	statSubscribed bool
	logSubscribed  bool

	subFrames chan []byte
}

// NewPublisher binds an XPUB socket at endpoint (e.g. "tcp://*:0") and
// returns a Publisher ready to send once Run is driving its
// subscription collector.
func NewPublisher(ctx context.Context, name, endpoint string) (*Publisher, error) {
	sock := zmq4.NewXPub(ctx)
	if err := sock.Listen(endpoint); err != nil {
		return nil, err
	}
	p := &Publisher{
		name:      name,
		sock:      sock,
		subs:      make(map[uint64]int),
		subFrames: make(chan []byte, 64),
	}
	go p.collectSubscriptions()
	return p, nil
}

// Addr returns the socket's bound endpoint.
func (p *Publisher) Addr() string {
	addrs := p.sock.Addr()
	if addrs == nil {
		return ""
	}
	return addrs.String()
}

// Close releases the underlying socket.
func (p *Publisher) Close() error {
	return p.sock.Close()
}

func (p *Publisher) collectSubscriptions() {
	for {
		msg, err := p.sock.Recv()
		if err != nil {
			close(p.subFrames)
			return
		}
		if len(msg.Frames) == 0 {
			continue
		}
		p.subFrames <- msg.Frames[0]
	}
}

// Run drains subscription-change notifications until ctx is cancelled,
// updating the subscriber accounting and, on a tree's first
// subscriber, broadcasting its STAT?/LOG? notification topic.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-p.subFrames:
			if !ok {
				return nil
			}
			p.applySubscription(frame)
		}
	}
}

func (p *Publisher) applySubscription(frame []byte) {
	if len(frame) == 0 {
		return
	}
	subscribe := frame[0] == 1
	prefix := string(frame[1:])
	key := xxhash.Sum64String(prefix)

	p.mu.Lock()
	if subscribe {
		p.subs[key]++
	} else if p.subs[key] > 0 {
		p.subs[key]--
	}
	var notify []string
	if subscribe {
		if strings.HasPrefix("STAT/", prefix) || strings.HasPrefix(prefix, "STAT") {
			if !p.statSubscribed {
				p.statSubscribed = true
				notify = append(notify, "STAT?")
			}
		}
		if strings.HasPrefix("LOG/", prefix) || strings.HasPrefix(prefix, "LOG") {
			if !p.logSubscribed {
				p.logSubscribed = true
				notify = append(notify, "LOG?")
			}
		}
	}
	p.mu.Unlock()

	for _, topic := range notify {
		if err := p.sock.Send(zmq4.NewMsgFrom([]byte(topic))); err != nil {
			log.Warnf("cmdp: sending %s notification: %v", topic, err)
		}
	}
}

// candidatePrefixes enumerates the "/"-boundary-aligned prefixes of
// topic, from its full form down to the bare empty-string subscription,
// the granularity at which CMDP subscribers are expected to subscribe.
func candidatePrefixes(topic string) []string {
	prefixes := []string{topic, ""}
	idx := 0
	for {
		next := strings.IndexByte(topic[idx:], '/')
		if next < 0 {
			break
		}
		idx += next + 1
		prefixes = append(prefixes, topic[:idx])
	}
	return prefixes
}

func (p *Publisher) hasSubscribers(topic string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, prefix := range candidatePrefixes(topic) {
		if p.subs[xxhash.Sum64String(prefix)] > 0 {
			return true
		}
	}
	return false
}

// HasLogSubscribers reports whether any subscriber currently matches
// the given log topic.
func (p *Publisher) HasLogSubscribers(level LogLevel, logger string) bool {
	return p.hasSubscribers((&LogRecord{Level: level, Logger: logger}).Topic())
}

// HasMetricSubscribers reports whether any subscriber currently
// matches the given metric's topic.
func (p *Publisher) HasMetricSubscribers(name string) bool {
	return p.hasSubscribers((&Metric{Name: name}).Topic())
}

// SendLog publishes a log record. Sender and SendTime are filled in if
// unset.
func (p *Publisher) SendLog(rec *LogRecord) error {
	if rec.Sender == "" {
		rec.Sender = p.name
	}
	if rec.SendTime.IsZero() {
		rec.SendTime = time.Now().UTC()
	}
	frames, err := EncodeLog(rec)
	if err != nil {
		return err
	}
	return p.sock.Send(zmq4.NewMsgFrom(frames...))
}

// SendMetric publishes a metric reading. Sender and SendTime are
// filled in if unset.
func (p *Publisher) SendMetric(m *Metric) error {
	if m.Sender == "" {
		m.Sender = p.name
	}
	if m.SendTime.IsZero() {
		m.SendTime = time.Now().UTC()
	}
	frames, err := EncodeMetric(m)
	if err != nil {
		return err
	}
	return p.sock.Send(zmq4.NewMsgFrom(frames...))
}
