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

package controller

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/constellation-daq/constellation/cscp"
	"github.com/constellation-daq/constellation/fsm"
)

// peer tracks one discovered satellite: its host UUID and canonical
// name, a control-plane transmitter once one is dialed, its advertised
// commands, and the most recently observed FSM state/status from its
// heartbeats.
type peer struct {
	host uuid.UUID

	mu         sync.RWMutex
	name       string
	cscpClient *cscp.Transmitter
	commands   []string
	state      fsm.State
	status     string
	lastSeen   time.Time
}

func newPeer(host uuid.UUID) *peer {
	return &peer{host: host, state: fsm.StateNew}
}

func (p *peer) setName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
}

func (p *peer) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

func (p *peer) setCommands(names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = names
}

// Commands returns the satellite's command set, as learned from its
// get_commands reply when the control connection was established.
func (p *peer) Commands() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.commands
}

func (p *peer) observeHeartbeat(state fsm.State, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	p.status = status
	p.lastSeen = time.Now()
}

func (p *peer) State() fsm.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *peer) Status() (string, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status, p.lastSeen
}

func (p *peer) client() *cscp.Transmitter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cscpClient
}

func (p *peer) setClient(c *cscp.Transmitter) (previous *cscp.Transmitter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	previous = p.cscpClient
	p.cscpClient = c
	return previous
}
