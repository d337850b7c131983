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

// Package controller implements the constellation-wide counterpart to
// satellite: CHIRP-driven discovery of every satellite's control,
// heartbeat and monitoring endpoints, per-peer CSCP command dispatch,
// CHP-fed liveness/fault detection, and one aggregated global state.
package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/constellation-daq/constellation/chirp"
	"github.com/constellation-daq/constellation/chp"
	"github.com/constellation-daq/constellation/cmdp"
	"github.com/constellation-daq/constellation/cscp"
	"github.com/constellation-daq/constellation/fsm"
)

// RecordHandler is invoked for every log record or metric a subscribed
// satellite publishes over CMDP.
type RecordHandler func(source string, record interface{})

// Option customises New.
type Option func(*options)

type options struct {
	group      string
	interfaces []string
	logHandler RecordHandler
}

// WithGroup sets the CHIRP multicast group name (default "constellation").
func WithGroup(group string) Option { return func(o *options) { o.group = group } }

// WithInterfaces restricts CHIRP multicast to the named network interfaces.
func WithInterfaces(ifaces []string) Option { return func(o *options) { o.interfaces = ifaces } }

// WithLogHandler registers a callback invoked for every CMDP record
// received from any connected satellite. Without one, records are
// received (keeping subscriptions alive) and discarded.
func WithLogHandler(handler RecordHandler) Option {
	return func(o *options) { o.logHandler = handler }
}

// Controller discovers satellites via CHIRP, dials their control
// planes, and aggregates their heartbeat-reported state.
type Controller struct {
	self string

	chirpMgr   *chirp.Manager
	checker    *chp.Checker
	heartbeats *chp.Listener
	logs       *cmdp.Listener

	mu     sync.RWMutex
	peers  map[uuid.UUID]*peer
	byName map[string]*peer
}

// New returns a Controller identified as name on the given CHIRP group.
func New(name string, opts ...Option) (*Controller, error) {
	o := &options{group: "constellation"}
	for _, opt := range opts {
		opt(o)
	}

	chirpMgr, err := chirp.NewManager(name, o.group, o.interfaces)
	if err != nil {
		return nil, fmt.Errorf("starting CHIRP manager: %w", err)
	}

	c := &Controller{
		self:   name,
		peers:  make(map[uuid.UUID]*peer),
		byName: make(map[string]*peer),
	}
	c.chirpMgr = chirpMgr
	c.checker = chp.NewChecker(c.onFault)
	c.heartbeats = chp.NewListener(c.onHeartbeat)
	logHandler := o.logHandler
	c.logs = cmdp.NewListener(func(source string, record interface{}) {
		if logHandler != nil {
			logHandler(source, record)
		}
	})

	chirpMgr.RegisterRequest(chirp.ServiceControl, c.onDiscoverControl)
	chirpMgr.RegisterRequest(chirp.ServiceHeartbeat, c.onDiscoverHeartbeat)
	chirpMgr.RegisterRequest(chirp.ServiceMonitoring, c.onDiscoverMonitoring)

	return c, nil
}

// Run drives CHIRP discovery and liveness checking, and broadcasts
// CHIRP requests so already-running satellites announce themselves.
// It blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		c.chirpMgr.Run(gctx)
		return nil
	})
	group.Go(func() error {
		c.checker.RunLivenessChecks(gctx)
		return nil
	})

	c.chirpMgr.Request(chirp.ServiceControl)
	c.chirpMgr.Request(chirp.ServiceHeartbeat)
	c.chirpMgr.Request(chirp.ServiceMonitoring)

	err := group.Wait()
	c.teardown()
	return err
}

func (c *Controller) teardown() {
	_ = c.heartbeats.Close()
	_ = c.logs.Close()
	if err := c.chirpMgr.Close(); err != nil {
		log.WithError(err).Warn("controller: error closing CHIRP manager")
	}
}

func (c *Controller) peerFor(host uuid.UUID) *peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[host]
	if !ok {
		p = newPeer(host)
		c.peers[host] = p
	}
	return p
}

func (c *Controller) onDiscoverControl(svc chirp.DiscoveredService) {
	p := c.peerFor(svc.HostUUID)
	endpoint := fmt.Sprintf("tcp://%s:%d", svc.Address, svc.Port)

	if !svc.Alive {
		if old := p.setClient(nil); old != nil {
			_ = old.Close()
		}
		c.forgetIfOrphaned(svc.HostUUID)
		return
	}

	client, err := cscp.Dial(context.Background(), c.self, endpoint)
	if err != nil {
		log.WithError(err).WithField("endpoint", endpoint).Warn("controller: failed to dial CSCP peer")
		return
	}
	if old := p.setClient(client); old != nil {
		_ = old.Close()
	}

	// The canonical name is read off the reply envelope's Sender field,
	// not any reply's Text/payload: every CSCP reply a satellite sends
	// is stamped with its own canonical name as sender.
	reply, err := client.RequestGetResponse("get_commands", nil, nil)
	if err != nil {
		log.WithError(err).Warn("controller: failed to query get_commands")
		return
	}
	name := reply.Sender
	p.setName(name)
	names := make([]string, 0, len(reply.Tags))
	for cmd := range reply.Tags {
		names = append(names, cmd)
	}
	sort.Strings(names)
	p.setCommands(names)

	c.mu.Lock()
	c.byName[name] = p
	c.mu.Unlock()

	c.checker.Register(svc.HostUUID, name)
}

func (c *Controller) onDiscoverHeartbeat(svc chirp.DiscoveredService) {
	p := c.peerFor(svc.HostUUID)
	name := p.Name()
	if name == "" {
		name = svc.HostUUID.String()
	}
	endpoint := fmt.Sprintf("tcp://%s:%d", svc.Address, svc.Port)

	if !svc.Alive {
		c.heartbeats.Unsubscribe(name)
		c.checker.Unregister(svc.HostUUID)
		c.forgetIfOrphaned(svc.HostUUID)
		return
	}

	if err := c.heartbeats.Subscribe(context.Background(), name, endpoint); err != nil {
		log.WithError(err).WithField("endpoint", endpoint).Warn("controller: failed to subscribe to CHP peer")
		return
	}
	if !c.checker.IsRegistered(svc.HostUUID) {
		c.checker.Register(svc.HostUUID, name)
	}
}

func (c *Controller) onDiscoverMonitoring(svc chirp.DiscoveredService) {
	p := c.peerFor(svc.HostUUID)
	name := p.Name()
	if name == "" {
		name = svc.HostUUID.String()
	}
	endpoint := fmt.Sprintf("tcp://%s:%d", svc.Address, svc.Port)

	if !svc.Alive {
		c.logs.Unsubscribe(name)
		return
	}

	if err := c.logs.Subscribe(context.Background(), name, endpoint); err != nil {
		log.WithError(err).WithField("endpoint", endpoint).Warn("controller: failed to subscribe to CMDP peer")
	}
}

func (c *Controller) onHeartbeat(source string, msg *chp.Message) {
	c.mu.RLock()
	p, ok := c.byName[source]
	c.mu.RUnlock()
	if !ok {
		return
	}
	p.observeHeartbeat(msg.State, msg.Status)
	c.checker.Observe(p.host, msg)
}

func (c *Controller) onFault(name string, state fsm.State) {
	log.WithField("satellite", name).WithField("state", state).Warn("controller: peer fault detected")
}

// forgetIfOrphaned drops a peer's bookkeeping entry once it no longer
// has a control connection; heartbeat and monitoring subscriptions are
// not consulted.
func (c *Controller) forgetIfOrphaned(host uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[host]
	if !ok {
		return
	}
	if p.client() != nil {
		return
	}
	delete(c.peers, host)
	if p.name != "" {
		delete(c.byName, p.name)
	}
}

// PeerCommands returns the command set name advertised via
// get_commands when its control connection was established, or nil
// if name is unknown.
func (c *Controller) PeerCommands(name string) []string {
	c.mu.RLock()
	p, ok := c.byName[name]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return p.Commands()
}

// Peers returns the canonical names of every satellite with a
// resolved name, in no particular order.
func (c *Controller) Peers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byName))
	for name := range c.byName {
		out = append(out, name)
	}
	return out
}

// PeerState returns the most recently heartbeat-reported state and
// status for name, or (fsm.StateNew, "", false) if unknown.
func (c *Controller) PeerState(name string) (fsm.State, string, bool) {
	c.mu.RLock()
	p, ok := c.byName[name]
	c.mu.RUnlock()
	if !ok {
		return fsm.StateNew, "", false
	}
	status, _ := p.Status()
	return p.State(), status, true
}

// GlobalState folds every known peer's last reported state into one
// constellation-wide GlobalState.
func (c *Controller) GlobalState() GlobalState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	states := make([]fsm.State, 0, len(c.byName))
	for _, p := range c.byName {
		states = append(states, p.State())
	}
	return AggregateState(states)
}

// SendCommand dispatches command to the named satellite and blocks
// for its reply.
func (c *Controller) SendCommand(name, command string, payload []byte, tags map[string]interface{}) (*cscp.Message, error) {
	c.mu.RLock()
	p, ok := c.byName[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("controller: unknown satellite %q", name)
	}
	client := p.client()
	if client == nil {
		return nil, fmt.Errorf("controller: no control connection to %q", name)
	}
	return client.RequestGetResponse(command, payload, tags)
}

// BroadcastCommand dispatches command to every known satellite
// concurrently and returns each reply keyed by satellite name. A
// satellite that errors is present in the errs map, not replies.
func (c *Controller) BroadcastCommand(command string, payload []byte, tags map[string]interface{}) (replies map[string]*cscp.Message, errs map[string]error) {
	names := c.Peers()
	replies = make(map[string]*cscp.Message, len(names))
	errs = make(map[string]error)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := c.SendCommand(name, command, payload, tags)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[name] = err
				return
			}
			replies[name] = reply
		}()
	}
	wg.Wait()
	return replies, errs
}
