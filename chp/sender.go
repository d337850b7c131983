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
	"time"

	"github.com/eclesh/welford"
	"github.com/go-zeromq/zmq4"
	log "github.com/sirupsen/logrus"

	"github.com/constellation-daq/constellation/fsm"
)

// DefaultPeriod is the slowest a Sender will ever heartbeat, absent any
// subscribers driving the adaptive period down.
const DefaultPeriod = 60 * time.Second

const initialPeriod = 500 * time.Millisecond

// Sender publishes heartbeats for one satellite's FSM over an XPUB
// socket, adapting its send period to the observed subscriber count.
type Sender struct {
	name    string
	machine *fsm.Machine
	sock    zmq4.Socket

	defaultPeriod time.Duration

	mu          sync.Mutex
	period      time.Duration
	subscribers int
	lastSend    time.Time

	subFrames chan []byte
	jitter    *welford.Stats
}

// NewSender opens an XPUB socket on endpoint and returns a Sender ready
// to be driven by Run.
func NewSender(ctx context.Context, name, endpoint string, machine *fsm.Machine) (*Sender, error) {
	sock := zmq4.NewXPub(ctx)
	if err := sock.Listen(endpoint); err != nil {
		return nil, fmt.Errorf("binding CHP endpoint %s: %w", endpoint, err)
	}

	s := &Sender{
		name:          name,
		machine:       machine,
		sock:          sock,
		defaultPeriod: DefaultPeriod,
		period:        initialPeriod,
		lastSend:      time.Now(),
		subFrames:     make(chan []byte, 256),
		jitter:        welford.New(),
	}
	go s.collectSubscriptions()
	return s, nil
}

// Addr returns the socket's bound address, for CHIRP offer registration.
func (s *Sender) Addr() string {
	if a := s.sock.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Close releases the underlying socket. Run also closes it on context
// cancellation; Close exists so a caller that never started Run (e.g.
// cleaning up after a failed sibling socket) can still release it.
func (s *Sender) Close() error {
	return s.sock.Close()
}

// collectSubscriptions continuously reads XPUB subscription frames
// (one per subscribe/unsubscribe event, 0x01/0x00 prefixed) into a
// buffered channel, replacing the teacher's NOBLOCK-recv-until-empty
// loop with a dedicated goroutine so Run never blocks waiting on
// subscription traffic.
func (s *Sender) collectSubscriptions() {
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			return
		}
		for _, f := range msg.Frames {
			select {
			case s.subFrames <- f:
			default:
				log.Warn("chp: subscription frame queue full, dropping")
			}
		}
	}
}

func (s *Sender) drainSubscriptionDelta() int {
	delta := 0
	for {
		select {
		case frame := <-s.subFrames:
			if len(frame) > 0 && frame[0] == 0x01 {
				delta++
			} else {
				delta--
			}
		default:
			return delta
		}
	}
}

// JitterStats returns the running mean/stddev of the gap between the
// intended and the actual send interval, in nanoseconds. The metrics
// exporter does not register it.
func (s *Sender) JitterStats() (mean, stddev float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jitter.Mean(), s.jitter.Stddev()
}

// Run drives the adaptive-period send loop until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.sock.Close()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sender) tick() {
	s.mu.Lock()
	elapsed := time.Since(s.lastSend)
	due := elapsed >= s.period
	s.mu.Unlock()

	transitioned := s.machine.ConsumeTransitioned()
	if !due && !transitioned {
		return
	}

	s.mu.Lock()
	s.subscribers += s.drainSubscriptionDelta()
	if s.subscribers < 0 {
		s.subscribers = 0
	}
	scaled := float64(s.defaultPeriod) * pow2(0.01*float64(s.subscribers))
	candidate := time.Duration(scaled) + 500*time.Millisecond
	if candidate > s.defaultPeriod {
		candidate = s.defaultPeriod
	}
	s.jitter.Add(float64(elapsed - s.period))
	s.period = candidate

	s.lastSend = time.Now()
	subscribers := s.subscribers
	period := s.period
	s.mu.Unlock()

	flags := FlagNone
	if transitioned {
		flags = FlagIsExtrasystole
	}
	status, _ := s.machine.Status()

	msg := &Message{
		Sender:   s.name,
		SendTime: time.Now().UTC(),
		State:    s.machine.Current(),
		Flags:    flags,
		Interval: time.Duration(float64(period) * 1.1),
		Status:   status,
	}
	frames, err := msg.Encode()
	if err != nil {
		log.WithError(err).Warn("chp: failed to encode heartbeat")
		return
	}
	if err := s.sock.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		log.WithError(err).Warn("chp: failed to send heartbeat")
		return
	}
	log.WithFields(log.Fields{"period_ms": period.Milliseconds(), "subscribers": subscribers}).
		Trace("chp: heartbeat sent")
}

func pow2(x float64) float64 { return x * x }
