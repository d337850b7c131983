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
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	log "github.com/sirupsen/logrus"
)

// runState is the transmitter's own NOT_STARTED -> BOR_SENT -> DATA* ->
// EOR_SENT progression, independent of the satellite FSM.
type runState uint8

const (
	stateNotStarted runState = iota
	stateBORSent
	stateEORSent
)

const (
	defaultQueueCapacity   = 32768
	defaultPayloadThreshold = 128
	defaultBORTimeout       = 10 * time.Second
	defaultDataTimeout      = 5 * time.Second
	defaultEORTimeout       = 10 * time.Second
)

// ErrNotStarted is returned by SendDataBlock/SendEOR before SendBOR.
var ErrNotStarted = fmt.Errorf("cdtp: transmitter has not sent BOR yet")

// ErrAlreadyEnded is returned by any send after SendEOR.
var ErrAlreadyEnded = fmt.Errorf("cdtp: transmitter has already sent EOR")

// ErrQueueFull is returned by SendDataBlock when the outbound queue is
// saturated; callers should honour CheckRateLimited to avoid this.
var ErrQueueFull = fmt.Errorf("cdtp: outbound queue is full")

// Transmitter is the satellite-side CDTP endpoint: a PUSH socket fed by
// a background worker draining an outbound queue, enforcing the
// BOR/DATA*/EOR framing and sequence-numbering invariants.
type Transmitter struct {
	name string
	sock zmq4.Socket

	borTimeout, dataTimeout, eorTimeout time.Duration
	payloadThreshold                    int

	mu    sync.Mutex
	state runState
	seq   uint64

	queue       chan *Message
	queuedBytes int64

	firstSend chan struct{}
	firstOnce sync.Once

	errMu sync.Mutex
	err   error

	done chan struct{}
}

// Option customizes a Transmitter at construction time.
type Option func(*Transmitter)

// WithTimeouts overrides the default BOR/DATA/EOR deadlines.
func WithTimeouts(bor, data, eor time.Duration) Option {
	return func(t *Transmitter) { t.borTimeout, t.dataTimeout, t.eorTimeout = bor, data, eor }
}

// WithPayloadThreshold overrides the default coalescing threshold (in
// bytes) used by CheckRateLimited.
func WithPayloadThreshold(n int) Option {
	return func(t *Transmitter) { t.payloadThreshold = n }
}

// NewTransmitter binds a PUSH socket at endpoint and starts the
// background send worker.
func NewTransmitter(ctx context.Context, name, endpoint string, opts ...Option) (*Transmitter, error) {
	sock := zmq4.NewPush(ctx)
	if err := sock.Listen(endpoint); err != nil {
		return nil, fmt.Errorf("binding CDTP endpoint %s: %w", endpoint, err)
	}
	t := &Transmitter{
		name:             name,
		sock:             sock,
		borTimeout:       defaultBORTimeout,
		dataTimeout:      defaultDataTimeout,
		eorTimeout:       defaultEORTimeout,
		payloadThreshold: defaultPayloadThreshold,
		queue:            make(chan *Message, defaultQueueCapacity),
		firstSend:        make(chan struct{}),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.run(ctx)
	go t.watchBORTimeout()
	return t, nil
}

// Addr returns the socket's bound endpoint.
func (t *Transmitter) Addr() string {
	if a := t.sock.Addr(); a != nil {
		return a.String()
	}
	return ""
}

func (t *Transmitter) watchBORTimeout() {
	timer := time.NewTimer(t.borTimeout)
	defer timer.Stop()
	select {
	case <-t.firstSend:
	case <-t.done:
	case <-timer.C:
		t.setErr(fmt.Errorf("cdtp: no consumer attached within %s of BOR", t.borTimeout))
	}
}

func (t *Transmitter) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-t.queue:
			if !ok {
				return
			}
			n := msg.CountPayloadBytes()
			if err := t.sock.Send(zmq4.NewMsgFrom(mustEncode(msg))); err != nil {
				t.setErr(fmt.Errorf("cdtp: sending %s message: %w", msg.Type, err))
				atomic.AddInt64(&t.queuedBytes, int64(-n))
				continue
			}
			t.firstOnce.Do(func() { close(t.firstSend) })
			atomic.AddInt64(&t.queuedBytes, int64(-n))
			if msg.Type == TypeEOR {
				return
			}
		}
	}
}

func mustEncode(msg *Message) []byte {
	frame, err := msg.Encode()
	if err != nil {
		log.WithError(err).Error("cdtp: failed to encode message, dropping")
		return nil
	}
	return frame
}

func (t *Transmitter) setErr(err error) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

// CheckException returns and clears the worker's latched error, if
// any. A satellite tick calls this to drive the FSM into ERROR.
func (t *Transmitter) CheckException() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	err := t.err
	t.err = nil
	return err
}

// SendBOR sends the begin-of-run record. It must be the first
// operation after construction.
func (t *Transmitter) SendBOR(userTags, config map[string]interface{}) error {
	t.mu.Lock()
	if t.state != stateNotStarted {
		t.mu.Unlock()
		return fmt.Errorf("cdtp: BOR already sent")
	}
	t.state = stateBORSent
	t.seq = 1
	t.mu.Unlock()

	msg := NewBOR(t.name, userTags, config)
	return t.enqueue(msg)
}

// NewDataBlock returns an empty DataRecord with the next sequence
// number reserved, ready for the caller to fill in with Blocks.
func (t *Transmitter) NewDataBlock(tags map[string]interface{}) (*DataRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateNotStarted {
		return nil, ErrNotStarted
	}
	if t.state == stateEORSent {
		return nil, ErrAlreadyEnded
	}
	t.seq++
	return &DataRecord{SequenceNumber: t.seq, Tags: tags}, nil
}

// CheckRateLimited reports whether the outbound queue currently holds
// more bytes than the configured payload threshold, a hint that the
// caller should slow down or coalesce further blocks before sending.
func (t *Transmitter) CheckRateLimited() bool {
	return atomic.LoadInt64(&t.queuedBytes) > int64(t.payloadThreshold)
}

// QueuedBytes returns the current outbound queue size in bytes, for
// exposure as a metric.
func (t *Transmitter) QueuedBytes() int64 {
	return atomic.LoadInt64(&t.queuedBytes)
}

// SendDataBlock enqueues a data record without blocking. Returns
// ErrQueueFull if the outbound queue is saturated.
func (t *Transmitter) SendDataBlock(block *DataRecord) error {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state == stateNotStarted {
		return ErrNotStarted
	}
	if state == stateEORSent {
		return ErrAlreadyEnded
	}
	return t.enqueue(NewData(t.name, *block))
}

// SendEOR sends the final end-of-run record and closes the
// transmitter to further sends.
func (t *Transmitter) SendEOR(userTags, runMetadata map[string]interface{}) error {
	t.mu.Lock()
	if t.state == stateNotStarted {
		t.mu.Unlock()
		return ErrNotStarted
	}
	if t.state == stateEORSent {
		t.mu.Unlock()
		return ErrAlreadyEnded
	}
	t.state = stateEORSent
	t.seq++
	seq := t.seq
	t.mu.Unlock()

	return t.enqueue(NewEOR(t.name, seq, userTags, runMetadata))
}

func (t *Transmitter) enqueue(msg *Message) error {
	atomic.AddInt64(&t.queuedBytes, int64(msg.CountPayloadBytes()))
	select {
	case t.queue <- msg:
		return nil
	default:
		atomic.AddInt64(&t.queuedBytes, int64(-msg.CountPayloadBytes()))
		return ErrQueueFull
	}
}

// Close stops the worker and releases the socket. Safe to call after
// SendEOR, when the worker has already exited on its own.
func (t *Transmitter) Close() error {
	select {
	case <-t.done:
	default:
		close(t.queue)
		<-t.done
	}
	return t.sock.Close()
}
