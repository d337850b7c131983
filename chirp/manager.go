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
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DiscoveredService is a service endpoint learned through CHIRP.
// Equality for manager bookkeeping is defined on (HostUUID, Service)
// only, per spec.md §3 — Address/Port are not part of the identity, a
// port change for the same key means the endpoint was replaced.
type DiscoveredService struct {
	HostUUID uuid.UUID
	Service  ServiceID
	Address  string
	Port     uint16
	Alive    bool
}

func (d DiscoveredService) sameKey(o DiscoveredService) bool {
	return d.HostUUID == o.HostUUID && d.Service == o.Service
}

// Callback is invoked once per relevant discovery event: a new offer,
// a replaced (dead then re-offered) endpoint, or a depart.
type Callback func(DiscoveredService)

type task struct {
	cb  Callback
	svc DiscoveredService
}

// Manager maintains the offered-services and discovered-services
// tables for one satellite process and answers CHIRP traffic in a
// background goroutine, per spec.md §4.D.
type Manager struct {
	beacon *BeaconTransmitter

	mu       sync.Mutex
	offered  map[uint16]ServiceID
	callback map[ServiceID]Callback
	discover []DiscoveredService

	tasks chan task

	rng *rand.Rand
}

// NewManager opens a CHIRP beacon for name/group on ifaceNames and
// returns a Manager ready to have offers and requests registered.
func NewManager(name, group string, ifaceNames []string) (*Manager, error) {
	beacon, err := NewBeaconTransmitter(name, group, ifaceNames)
	if err != nil {
		return nil, err
	}
	return &Manager{
		beacon:   beacon,
		offered:  make(map[uint16]ServiceID),
		callback: make(map[ServiceID]Callback),
		tasks:    make(chan task, 256),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter only, not security sensitive
	}, nil
}

// Host returns the manager's own host UUID.
func (m *Manager) Host() uuid.UUID { return m.beacon.Host() }

// RegisterOffer records that this process offers service on port,
// replacing any previous registration using the same port.
func (m *Manager) RegisterOffer(service ServiceID, port uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.offered[port]; exists {
		log.Warnf("chirp: replacing service registration for port %d", port)
	}
	m.offered[port] = service
}

// EmitOffers sends OFFER datagrams for every offered service, or only
// those matching filter when filter != ServiceNone.
func (m *Manager) EmitOffers(filter ServiceID) {
	m.mu.Lock()
	offers := make(map[uint16]ServiceID, len(m.offered))
	for port, svc := range m.offered {
		offers[port] = svc
	}
	m.mu.Unlock()

	for port, svc := range offers {
		if filter != ServiceNone && filter != svc {
			continue
		}
		if err := m.beacon.Emit(svc, TypeOffer, port); err != nil {
			log.Warnf("chirp: failed to emit OFFER for %s: %v", svc, err)
		}
	}
}

// RegisterRequest records callback as the handler for discoveries of
// service, and immediately enqueues one callback invocation per
// already-known matching service.
func (m *Manager) RegisterRequest(service ServiceID, callback Callback) {
	m.mu.Lock()
	if _, exists := m.callback[service]; exists {
		log.Warnf("chirp: overwriting callback for %s", service)
	}
	m.callback[service] = callback
	var known []DiscoveredService
	for _, d := range m.discover {
		if d.Service == service {
			known = append(known, d)
		}
	}
	m.mu.Unlock()

	for _, d := range known {
		m.enqueue(callback, d)
	}
}

// Request emits a REQUEST datagram for service.
func (m *Manager) Request(service ServiceID) {
	if err := m.beacon.Emit(service, TypeRequest, 0); err != nil {
		log.Warnf("chirp: failed to emit REQUEST for %s: %v", service, err)
	}
}

// EmitDepart sends a DEPART datagram for every offered service. Called
// once during satellite teardown.
func (m *Manager) EmitDepart() {
	m.mu.Lock()
	offers := make(map[uint16]ServiceID, len(m.offered))
	for port, svc := range m.offered {
		offers[port] = svc
	}
	m.mu.Unlock()

	for port, svc := range offers {
		if err := m.beacon.Emit(svc, TypeDepart, port); err != nil {
			log.Warnf("chirp: failed to emit DEPART for %s: %v", svc, err)
		}
	}
}

// Discovered returns a snapshot of every discovered service for id.
func (m *Manager) Discovered(id ServiceID) []DiscoveredService {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []DiscoveredService
	for _, d := range m.discover {
		if d.Service == id {
			res = append(res, d)
		}
	}
	return res
}

func (m *Manager) enqueue(cb Callback, svc DiscoveredService) {
	if cb == nil {
		return
	}
	select {
	case m.tasks <- task{cb: cb, svc: svc}:
	default:
		log.Error("chirp: task queue full, dropping discovery callback")
	}
}

// Run drives both the CHIRP receive loop and the task-handler worker
// until ctx is cancelled. It blocks; call it from its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.runTaskHandler(ctx)
	}()
	m.runReceiveLoop(ctx)
	<-done
}

func (m *Manager) runTaskHandler(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-m.tasks:
			t.cb(t.svc)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (m *Manager) runReceiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := m.beacon.Listen()
		if err != nil {
			log.Warnf("chirp: %v", err)
			continue
		}
		if msg == nil {
			continue
		}
		m.handle(msg)
	}
}

func (m *Manager) handle(msg *Message) {
	switch msg.Type {
	case TypeRequest:
		go m.answerRequest(msg.Service)
	case TypeOffer:
		m.discoverOffer(msg)
	case TypeDepart:
		if msg.Port != 0 {
			m.discoverDepart(msg)
		}
	}
}

// answerRequest spreads out replies to a REQUEST with a random delay,
// per spec.md §4.D, so a burst of requesting controllers doesn't cause
// every satellite on the network to answer in the same instant.
func (m *Manager) answerRequest(service ServiceID) {
	delay := time.Duration(m.rng.Int63n(int64(200 * time.Millisecond)))
	time.Sleep(delay)
	m.EmitOffers(service)
}

func (m *Manager) discoverOffer(msg *Message) {
	newService := DiscoveredService{
		HostUUID: msg.HostUUID,
		Service:  msg.Service,
		Address:  msg.FromAddress,
		Port:     msg.Port,
		Alive:    true,
	}

	m.mu.Lock()
	var existing *DiscoveredService
	idx := -1
	for i, d := range m.discover {
		if d.sameKey(newService) {
			existing = &m.discover[i]
			idx = i
			break
		}
	}

	if existing == nil {
		m.discover = append(m.discover, newService)
		cb := m.callback[msg.Service]
		m.mu.Unlock()
		m.enqueue(cb, newService)
		return
	}

	if existing.Port == newService.Port {
		m.mu.Unlock()
		return
	}

	dead := *existing
	dead.Alive = false
	m.discover = append(m.discover[:idx], m.discover[idx+1:]...)
	m.discover = append(m.discover, newService)
	cb := m.callback[msg.Service]
	m.mu.Unlock()

	m.enqueue(cb, dead)
	m.enqueue(cb, newService)
}

func (m *Manager) discoverDepart(msg *Message) {
	target := DiscoveredService{HostUUID: msg.HostUUID, Service: msg.Service}

	m.mu.Lock()
	idx := -1
	for i, d := range m.discover {
		if d.sameKey(target) && d.Port == msg.Port {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	dead := m.discover[idx]
	dead.Alive = false
	m.discover = append(m.discover[:idx], m.discover[idx+1:]...)
	cb := m.callback[msg.Service]
	m.mu.Unlock()

	m.enqueue(cb, dead)
}

// Close emits DEPART for every offered service, waits briefly for the
// datagrams to flush, then closes the underlying socket.
func (m *Manager) Close() error {
	m.EmitDepart()
	time.Sleep(50 * time.Millisecond)
	return m.beacon.Close()
}
