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
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/constellation-daq/constellation/fsm"
)

const (
	initLives     = 3
	initInterval  = 2 * time.Second
	livenessCheck = 300 * time.Millisecond
	livenessRatio = 1.5
)

// FaultCallback is invoked (at most once per fault episode) when a
// peer is judged faulty: either its reported state demands interrupt,
// or it has gone silent past its liveness budget, or it departed
// outright while DenyDeparture is set.
type FaultCallback func(name string, state fsm.State)

type peerState struct {
	host       uuid.UUID
	name       string
	role       Role
	lives      int
	interval   time.Duration
	lastSeen   time.Time
	state      fsm.State
	failed     bool
}

// Checker tracks liveness for a set of subscribed peers and invokes a
// fault callback according to spec.md §4.I's rules.
type Checker struct {
	mu       sync.Mutex
	peers    map[uuid.UUID]*peerState
	callback FaultCallback
}

// NewChecker returns a Checker that invokes callback on fault events.
func NewChecker(callback FaultCallback) *Checker {
	return &Checker{peers: make(map[uuid.UUID]*peerState), callback: callback}
}

// Register adds or replaces the check entry for host.
func (c *Checker) Register(host uuid.UUID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.peers[host]; exists {
		log.Warnf("chp: replacing heartbeat check for %s", name)
	}
	c.peers[host] = &peerState{
		host:     host,
		name:     name,
		role:     RoleDynamic,
		lives:    initLives,
		interval: initInterval,
		lastSeen: time.Now(),
		state:    fsm.StateNew,
	}
}

// Unregister removes host's check entry. If its most recently known
// role denies silent departure, the fault callback fires with DEAD.
func (c *Checker) Unregister(host uuid.UUID) {
	c.mu.Lock()
	peer, ok := c.peers[host]
	if ok {
		delete(c.peers, host)
	}
	c.mu.Unlock()

	if ok && peer.role.DenyDeparture() {
		c.fire(peer.name, fsm.StateDead)
	}
}

// IsRegistered reports whether host has an active check entry.
func (c *Checker) IsRegistered(host uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.peers[host]
	return ok
}

// Failed returns the names of every peer currently marked failed.
func (c *Checker) Failed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.peers {
		if p.failed {
			out = append(out, p.name)
		}
	}
	return out
}

// Observe updates a peer's book of record from a received heartbeat,
// firing the fault callback when the reported state demands it.
func (c *Checker) Observe(host uuid.UUID, msg *Message) {
	c.mu.Lock()
	peer, ok := c.peers[host]
	if !ok {
		c.mu.Unlock()
		return
	}
	peer.name = msg.Sender
	peer.lastSeen = msg.SendTime
	peer.state = msg.State
	peer.interval = msg.Interval
	peer.role = RoleFromFlags(msg.Flags)
	peer.lives = initLives

	faulty := isFaultyState(peer.state)
	var fire bool
	var firedState fsm.State
	if faulty && peer.role.RequiresTriggerInterrupt() && !peer.failed {
		peer.failed = true
		fire = true
		firedState = peer.state
	} else if !faulty && peer.failed {
		peer.failed = false
	}
	name := peer.name
	c.mu.Unlock()

	if fire {
		c.fire(name, firedState)
	}
}

func isFaultyState(s fsm.State) bool {
	return s == fsm.StateError || s == fsm.StateSafe || s == fsm.StateDead
}

// RunLivenessChecks drives the periodic stale-connection sweep until
// ctx is cancelled.
func (c *Checker) RunLivenessChecks(ctx context.Context) {
	ticker := time.NewTicker(livenessCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Checker) sweep() {
	now := time.Now()

	type fault struct {
		name  string
		state fsm.State
	}
	var faults []fault

	c.mu.Lock()
	for _, peer := range c.peers {
		if now.Sub(peer.lastSeen) <= time.Duration(float64(peer.interval)*livenessRatio) {
			continue
		}
		peer.lives--
		if peer.lives <= 0 && peer.role.RequiresTriggerInterrupt() {
			if !peer.failed {
				peer.failed = true
				peer.state = fsm.StateDead
				faults = append(faults, fault{name: peer.name, state: fsm.StateDead})
			}
		}
		peer.lastSeen = now
	}
	c.mu.Unlock()

	for _, f := range faults {
		c.fire(f.name, f.state)
	}
}

func (c *Checker) fire(name string, state fsm.State) {
	if c.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("chp: fault callback for %s panicked: %v", name, r)
		}
	}()
	c.callback(name, state)
}
