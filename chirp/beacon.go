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

package chirp

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/constellation-daq/constellation/identity"
)

// BeaconTransmitter sends and receives CHIRP multicast messages for one
// host in one Constellation group.
type BeaconTransmitter struct {
	hostUUID  uuid.UUID
	groupUUID uuid.UUID
	socket    *MulticastSocket

	// FilterGroup controls whether Listen drops datagrams from other
	// groups. Exposed for tests that want to observe cross-group
	// traffic; production satellites always leave this enabled.
	FilterGroup bool
}

// NewBeaconTransmitter derives host/group identifiers from name and
// group and opens the underlying multicast socket on ifaceNames (or
// every usable interface, if empty).
func NewBeaconTransmitter(name, group string, ifaceNames []string) (*BeaconTransmitter, error) {
	socket, err := NewMulticastSocket(MulticastAddress, Port, ifaceNames)
	if err != nil {
		return nil, fmt.Errorf("opening CHIRP beacon socket: %w", err)
	}
	return &BeaconTransmitter{
		hostUUID:    identity.HostUUID(name),
		groupUUID:   identity.GroupUUID(group),
		socket:      socket,
		FilterGroup: true,
	}, nil
}

// Host returns the UUID of the host this transmitter represents.
func (b *BeaconTransmitter) Host() uuid.UUID { return b.hostUUID }

// Group returns the UUID of this transmitter's Constellation group.
func (b *BeaconTransmitter) Group() uuid.UUID { return b.groupUUID }

// Emit sends one CHIRP datagram for the given service across every
// configured interface.
func (b *BeaconTransmitter) Emit(service ServiceID, msgtype MessageType, port uint16) error {
	msg := &Message{
		Type:      msgtype,
		GroupUUID: b.groupUUID,
		HostUUID:  b.hostUUID,
		Service:   service,
		Port:      port,
	}
	return b.socket.Send(msg.Pack())
}

// Listen reads one datagram and returns the parsed message, or (nil, nil)
// on a timeout, a same-host echo, or a filtered cross-group datagram.
// A malformed datagram is returned as an error, per spec.md §4.C.
func (b *BeaconTransmitter) Listen() (*Message, error) {
	raw, addr, err := b.socket.Recv()
	if err != nil {
		return nil, fmt.Errorf("receiving CHIRP datagram: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	msg := &Message{}
	if err := msg.Unpack(raw); err != nil {
		return nil, fmt.Errorf("received malformed message from %s: %w", addr, err)
	}

	if msg.HostUUID == b.hostUUID {
		return nil, nil
	}
	if b.FilterGroup && msg.GroupUUID != b.groupUUID {
		return nil, nil
	}

	if addr != nil {
		msg.FromAddress = addr.String()
	}
	return msg, nil
}

// Close releases the underlying socket.
func (b *BeaconTransmitter) Close() error {
	return b.socket.Close()
}
