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

// Package cscp implements the Constellation Satellite Control Protocol,
// a ZeroMQ REQ/REP request-reply protocol carrying a typed verb and an
// optional MessagePack payload.
package cscp

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ProtocolTag is the header tag for this (newer, CSCP1) protocol
// generation. Older satellites speaking plain "CSCP\x01" are rejected
// with *UnexpectedProtocolError, per spec.md §6.
const ProtocolTag = "CSCP1"

// Type is the verb type of a CSCP message.
type Type uint8

// Verb types, carried as a msgpack-encoded small int.
const (
	TypeRequest Type = iota
	TypeSuccess
	TypeNotImplemented
	TypeIncomplete
	TypeInvalid
	TypeUnknown
	TypeError
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "REQUEST"
	case TypeSuccess:
		return "SUCCESS"
	case TypeNotImplemented:
		return "NOTIMPLEMENTED"
	case TypeIncomplete:
		return "INCOMPLETE"
	case TypeInvalid:
		return "INVALID"
	case TypeUnknown:
		return "UNKNOWN"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Header carries the envelope fields common to every CSCP1 message.
type Header struct {
	Sender   string
	SendTime time.Time
	Tags     map[string]interface{}
}

// Message is one decoded (or about-to-be-encoded) CSCP1 request/reply.
type Message struct {
	Header

	Type    Type
	Text    string
	Payload []byte // single msgpack-encoded object, or nil
}

// NewRequest builds a REQUEST message for command, optionally carrying
// a payload already encoded as a single msgpack object.
func NewRequest(sender, command string, payload []byte, tags map[string]interface{}) *Message {
	return &Message{
		Header:  Header{Sender: sender, SendTime: time.Now().UTC(), Tags: tags},
		Type:    TypeRequest,
		Text:    command,
		Payload: payload,
	}
}

// Reply builds a reply message of the given type/text/payload, stamped
// with sender and the current time.
func Reply(sender string, typ Type, text string, payload []byte, tags map[string]interface{}) *Message {
	return &Message{
		Header:  Header{Sender: sender, SendTime: time.Now().UTC(), Tags: tags},
		Type:    typ,
		Text:    text,
		Payload: payload,
	}
}

// headerFrame is the wire shape of frame 0: protocol tag, sender,
// send-time, tag map.
type headerFrame struct {
	_msgpack struct{} `msgpack:",as_array"`
	Tag      string
	Sender   string
	SendTime time.Time
	Tags     map[string]interface{}
}

// verbFrame is the wire shape of frame 1: verb type, verb text.
type verbFrame struct {
	_msgpack struct{} `msgpack:",as_array"`
	Type     uint8
	Text     string
}

// Assemble encodes m into CSCP1's multipart wire form: header frame,
// verb frame, and — if m.Payload is non-nil — a third raw payload
// frame, unchanged.
func (m *Message) Assemble() ([][]byte, error) {
	header, err := msgpack.Marshal(&headerFrame{
		Tag:      ProtocolTag,
		Sender:   m.Sender,
		SendTime: m.SendTime,
		Tags:     m.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding CSCP header: %w", err)
	}

	verb, err := msgpack.Marshal(&verbFrame{Type: uint8(m.Type), Text: m.Text})
	if err != nil {
		return nil, fmt.Errorf("encoding CSCP verb: %w", err)
	}

	frames := [][]byte{header, verb}
	if m.Payload != nil {
		frames = append(frames, m.Payload)
	}
	return frames, nil
}

// Disassemble decodes frames produced by Assemble. The protocol tag is
// validated against ProtocolTag: a recognised-but-different tag (e.g.
// the older "CSCP\x01") yields *UnexpectedProtocolError, an
// unrecognised one yields *UnknownProtocolError, and any structural
// problem (wrong frame count, undecodable field, verb type out of
// range) yields *MalformedError.
func Disassemble(frames [][]byte) (*Message, error) {
	if len(frames) != 2 && len(frames) != 3 {
		return nil, &MalformedError{Reason: fmt.Sprintf("expected 2 or 3 frames, got %d", len(frames))}
	}

	var hdr headerFrame
	if err := msgpack.Unmarshal(frames[0], &hdr); err != nil {
		return nil, &MalformedError{Reason: fmt.Sprintf("decoding header: %v", err)}
	}
	if err := validateTag(hdr.Tag); err != nil {
		return nil, err
	}

	var verb verbFrame
	if err := msgpack.Unmarshal(frames[1], &verb); err != nil {
		return nil, &MalformedError{Reason: fmt.Sprintf("decoding verb: %v", err)}
	}
	if verb.Type > uint8(TypeError) {
		return nil, &MalformedError{Reason: fmt.Sprintf("verb type %d out of range", verb.Type)}
	}

	msg := &Message{
		Header: Header{Sender: hdr.Sender, SendTime: hdr.SendTime.UTC(), Tags: hdr.Tags},
		Type:   Type(verb.Type),
		Text:   lowerCommand(verb.Text, Type(verb.Type)),
	}
	if len(frames) == 3 {
		msg.Payload = frames[2]
	}
	return msg, nil
}

// lowerCommand lower-cases REQUEST verb text (the command name); reply
// verb text (free-form status prose) is left untouched.
func lowerCommand(text string, typ Type) string {
	if typ != TypeRequest {
		return text
	}
	return toLower(text)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func validateTag(tag string) error {
	switch tag {
	case ProtocolTag:
		return nil
	case "CSCP\x01":
		return &UnexpectedProtocolError{Tag: tag, Expected: ProtocolTag}
	default:
		return &UnknownProtocolError{Tag: tag}
	}
}
