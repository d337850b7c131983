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

// Package chp implements the Constellation Heartbeat Protocol: a
// best-effort XPUB/SUB broadcast of satellite liveness and state, with
// an adaptive send period and a per-peer liveness checker.
package chp

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/constellation-daq/constellation/fsm"
)

// ProtocolTag identifies this message on the wire.
const ProtocolTag = "CHP1"

// Flags are the bits carried in a CHP message.
type Flags uint8

// Message flags, per spec.md §3.
const (
	FlagNone           Flags = 0x0
	FlagIsExtrasystole Flags = 0x1
	FlagIsAutonomous   Flags = 0x2
)

// Role is the fault-handling policy the checker applies to a peer,
// derived from the flags most recently observed from it.
type Role uint8

const (
	// RoleDynamic is the default: the checker triggers interrupt on
	// this peer's failure or disappearance.
	RoleDynamic Role = iota
	// RoleAutonomous peers manage their own fault recovery; the
	// checker does not interrupt on a bad state report from them, but
	// still interrupts if the peer departs outright (it denies a
	// silent departure).
	RoleAutonomous
)

// RoleFromFlags derives a peer's role from its most recently received
// message flags.
func RoleFromFlags(f Flags) Role {
	if f&FlagIsAutonomous != 0 {
		return RoleAutonomous
	}
	return RoleDynamic
}

// RequiresTriggerInterrupt reports whether the checker should invoke
// its interrupt callback when this peer reports a faulty state.
func (r Role) RequiresTriggerInterrupt() bool {
	return r == RoleDynamic
}

// DenyDeparture reports whether losing this peer entirely (rather than
// merely a bad state report) must still trigger an interrupt.
func (r Role) DenyDeparture() bool {
	return r == RoleAutonomous
}

// Message is one decoded (or about-to-be-encoded) CHP heartbeat.
type Message struct {
	Sender   string
	SendTime time.Time
	State    fsm.State
	Flags    Flags
	Interval time.Duration // announced interval, receivers size their deadline against it
	Status   string        // optional
}

// Encode serializes m to CHP's multipart wire form: a msgpack frame
// with (tag, sender, send-time, state, flags, interval_ms), followed by
// a raw status-text frame only when Status is non-empty.
func (m *Message) Encode() ([][]byte, error) {
	body, err := msgpack.Marshal([]interface{}{
		ProtocolTag,
		m.Sender,
		m.SendTime,
		uint8(m.State),
		uint8(m.Flags),
		int64(m.Interval / time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding CHP message: %w", err)
	}
	frames := [][]byte{body}
	if m.Status != "" {
		frames = append(frames, []byte(m.Status))
	}
	return frames, nil
}

// Decode parses frames produced by Encode.
func Decode(frames [][]byte) (*Message, error) {
	if len(frames) != 1 && len(frames) != 2 {
		return nil, fmt.Errorf("malformed CHP message: expected 1 or 2 frames, got %d", len(frames))
	}

	var fields []interface{}
	if err := msgpack.Unmarshal(frames[0], &fields); err != nil {
		return nil, fmt.Errorf("decoding CHP message: %w", err)
	}
	if len(fields) != 6 {
		return nil, fmt.Errorf("malformed CHP message: expected 6 header fields, got %d", len(fields))
	}

	tag, _ := fields[0].(string)
	if tag != ProtocolTag {
		return nil, fmt.Errorf("malformed CHP header: unexpected protocol tag %q", tag)
	}

	sender, _ := fields[1].(string)
	sendTime, _ := fields[2].(time.Time)
	state, err := toUint8(fields[3])
	if err != nil {
		return nil, fmt.Errorf("malformed CHP state: %w", err)
	}
	flags, err := toUint8(fields[4])
	if err != nil {
		return nil, fmt.Errorf("malformed CHP flags: %w", err)
	}
	intervalMs, err := toInt64(fields[5])
	if err != nil {
		return nil, fmt.Errorf("malformed CHP interval: %w", err)
	}

	msg := &Message{
		Sender:   sender,
		SendTime: sendTime.UTC(),
		State:    fsm.State(state),
		Flags:    Flags(flags),
		Interval: time.Duration(intervalMs) * time.Millisecond,
	}
	if len(frames) == 2 {
		msg.Status = string(frames[1])
	}
	return msg, nil
}

func toUint8(v interface{}) (uint8, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	return uint8(n), nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
