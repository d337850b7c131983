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

// Package chirp implements the Constellation Host Identification and
// Reconnaissance Protocol: a fixed 42-byte UDP multicast datagram used
// to announce, request and retract service endpoints.
package chirp

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Port is the UDP port CHIRP binds and sends on.
const Port = 7123

// MulticastAddress is the IPv4 multicast group CHIRP joins.
const MulticastAddress = "239.192.7.123"

const header = "CHIRP\x01"

// MessageSize is the exact wire size of a CHIRP datagram.
const MessageSize = 42

// ServiceID identifies the protocol a discovered/offered endpoint speaks.
type ServiceID uint8

// Service identifiers, one byte on the wire.
const (
	ServiceNone       ServiceID = 0x0
	ServiceControl    ServiceID = 0x1 // CSCP
	ServiceHeartbeat  ServiceID = 0x2 // CHP
	ServiceMonitoring ServiceID = 0x3 // CMDP
	ServiceData       ServiceID = 0x4 // CDTP
)

func (s ServiceID) String() string {
	switch s {
	case ServiceNone:
		return "NONE"
	case ServiceControl:
		return "CONTROL"
	case ServiceHeartbeat:
		return "HEARTBEAT"
	case ServiceMonitoring:
		return "MONITORING"
	case ServiceData:
		return "DATA"
	default:
		return fmt.Sprintf("ServiceID(%d)", uint8(s))
	}
}

// MessageType identifies what a CHIRP datagram is announcing.
type MessageType uint8

// Message types, one byte on the wire.
const (
	TypeNone    MessageType = 0x0
	TypeRequest MessageType = 0x1
	TypeOffer   MessageType = 0x2
	TypeDepart  MessageType = 0x3
)

func (t MessageType) String() string {
	switch t {
	case TypeNone:
		return "NONE"
	case TypeRequest:
		return "REQUEST"
	case TypeOffer:
		return "OFFER"
	case TypeDepart:
		return "DEPART"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// ErrMalformed is returned when a datagram fails length, header, or
// enum-range validation.
type ErrMalformed struct {
	Reason string
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("malformed CHIRP message: %s", e.Reason)
}

// Message is a decoded (or about-to-be-encoded) CHIRP datagram.
type Message struct {
	Type      MessageType
	GroupUUID uuid.UUID
	HostUUID  uuid.UUID
	Service   ServiceID
	Port      uint16

	// FromAddress is set by Listen to the sender's address; ignored by Pack.
	FromAddress string
}

// Pack serializes m to the exact 42-byte CHIRP wire layout:
//
//	offset  size  field
//	0       6     magic "CHIRP\x01"
//	6       1     msgtype
//	7       16    group_uuid
//	23      16    host_uuid
//	39      1     service_id
//	40      2     port
func (m *Message) Pack() []byte {
	buf := make([]byte, MessageSize)
	copy(buf[0:6], header)
	buf[6] = byte(m.Type)
	copy(buf[7:23], m.GroupUUID[:])
	copy(buf[23:39], m.HostUUID[:])
	buf[39] = byte(m.Service)
	binary.BigEndian.PutUint16(buf[40:42], m.Port)
	return buf
}

// Unpack decodes a 42-byte CHIRP datagram into m.
func (m *Message) Unpack(b []byte) error {
	if len(b) != MessageSize {
		return &ErrMalformed{Reason: fmt.Sprintf("length is %d instead of %d bytes long", len(b), MessageSize)}
	}
	if string(b[0:6]) != header {
		return &ErrMalformed{Reason: fmt.Sprintf("header %q is malformed", b[0:6])}
	}
	m.Type = MessageType(b[6])
	copy(m.GroupUUID[:], b[7:23])
	copy(m.HostUUID[:], b[23:39])
	m.Service = ServiceID(b[39])
	m.Port = binary.BigEndian.Uint16(b[40:42])
	return nil
}

func (m *Message) String() string {
	return fmt.Sprintf("CHIRP message from %s received of type %s, host id %s, service id %s on port %d.",
		m.FromAddress, m.Type, m.HostUUID, m.Service, m.Port)
}
