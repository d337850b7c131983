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
	"net"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// recvDeadline bounds every blocking read so the listener loop always
// has a chance to observe context cancellation.
const recvDeadline = 50 * time.Millisecond

// multicastTTL matches the teacher's convention of a small, deliberate
// TTL rather than the OS default of 1, so a beacon can cross one or two
// routed hops inside a lab network without leaving it.
const multicastTTL = 8

// MulticastSocket binds one receive socket to the wildcard address and
// opens a single send socket that is pointed at each configured
// interface in turn when sending; it does not keep a separate send
// socket per interface.
type MulticastSocket struct {
	pconn    *ipv4.PacketConn
	recvConn *net.UDPConn
	sendConn *net.UDPConn
	ifaces   []*net.Interface
	group    *net.UDPAddr
}

// NewMulticastSocket binds to the wildcard address on port and joins
// groupAddr on every interface named in ifaceNames (all multicast-
// capable interfaces if ifaceNames is empty).
func NewMulticastSocket(groupAddr string, port int, ifaceNames []string) (*MulticastSocket, error) {
	ifaces, err := resolveInterfaces(ifaceNames)
	if err != nil {
		return nil, err
	}
	if len(ifaces) == 0 {
		return nil, fmt.Errorf("no usable multicast interfaces found")
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if ctrlErr != nil {
					return
				}
				// SO_REUSEPORT is not available on every platform (e.g.
				// older Linux kernels lack it for UDP); failing softly
				// here keeps single-listener setups working.
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	pc, err := lc.ListenPacket(nil, "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding CHIRP receive socket: %w", err)
	}
	udpConn := pc.(*net.UDPConn)
	p := ipv4.NewPacketConn(udpConn)

	group := &net.UDPAddr{IP: net.ParseIP(groupAddr), Port: port}

	// Loopback is disabled explicitly by default and re-enabled only if
	// a loopback interface is among those joined, where it must stay on
	// or a satellite running entirely on 127.0.0.1 would never see its
	// own peers.
	loopback := false
	for _, iface := range ifaces {
		if err := p.JoinGroup(iface, group); err != nil {
			return nil, fmt.Errorf("joining multicast group on %s: %w", iface.Name, err)
		}
		if iface.Flags&net.FlagLoopback != 0 {
			loopback = true
		}
	}

	sendConn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("opening CHIRP send socket: %w", err)
	}
	// Loopback and TTL are sending options, so they go on the send socket.
	sp := ipv4.NewPacketConn(sendConn)
	if err := sp.SetMulticastLoopback(loopback); err != nil {
		return nil, fmt.Errorf("setting multicast loopback: %w", err)
	}
	if err := sp.SetMulticastTTL(multicastTTL); err != nil {
		return nil, fmt.Errorf("setting multicast TTL: %w", err)
	}

	return &MulticastSocket{
		pconn:    p,
		recvConn: udpConn,
		sendConn: sendConn,
		ifaces:   ifaces,
		group:    group,
	}, nil
}

// Send fans the datagram out to the multicast group once per configured
// interface, selecting each interface on the shared send socket in turn
// (multicast sends are otherwise routed over whatever the OS picks as
// the default outbound interface).
func (s *MulticastSocket) Send(b []byte) error {
	var firstErr error
	for _, iface := range s.ifaces {
		p := ipv4.NewPacketConn(s.sendConn)
		if err := p.SetMulticastInterface(iface); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := s.sendConn.WriteToUDP(b, s.group); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Recv reads one datagram, waiting at most recvDeadline. It returns
// (nil, nil, nil) on a timeout with no data, matching listen()'s "no
// message" case in spec.md.
func (s *MulticastSocket) Recv() ([]byte, net.Addr, error) {
	buf := make([]byte, MessageSize+64)
	if err := s.recvConn.SetReadDeadline(time.Now().Add(recvDeadline)); err != nil {
		return nil, nil, err
	}
	n, addr, err := s.recvConn.ReadFrom(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// Close releases both sockets.
func (s *MulticastSocket) Close() error {
	err1 := s.recvConn.Close()
	err2 := s.sendConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func resolveInterfaces(names []string) ([]*net.Interface, error) {
	all, err := interfacesViaNetlink()
	if err != nil || len(all) == 0 {
		all, err = net.Interfaces()
		if err != nil {
			return nil, fmt.Errorf("enumerating network interfaces: %w", err)
		}
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var out []*net.Interface
	for i := range all {
		iface := all[i]
		if len(want) > 0 && !want[iface.Name] {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 && iface.Flags&net.FlagLoopback == 0 {
			continue
		}
		ifaceCopy := iface
		out = append(out, &ifaceCopy)
	}
	return out, nil
}
