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

// Package satellite composes the five Constellation wire protocols and
// the lifecycle state machine into one running satellite process: a
// CSCP command receiver, a CHP heartbeat sender, a CMDP log/metric
// publisher, CHIRP offer broadcasting, and an optional CDTP data
// transmitter, all driven by a concrete Hooks implementation.
package satellite

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/constellation-daq/constellation/cdtp"
	"github.com/constellation-daq/constellation/chirp"
	"github.com/constellation-daq/constellation/chp"
	"github.com/constellation-daq/constellation/cmdp"
	"github.com/constellation-daq/constellation/config"
	"github.com/constellation-daq/constellation/fsm"
	"github.com/constellation-daq/constellation/identity"
)

// Version is reported by the get_version command. Overridden at build
// time via -ldflags, per spec.md §6.
var Version = "dev"

// Hooks is implemented by a concrete satellite and invoked by the
// command receiver at each FSM transition. The receiver replies
// "transitioning" as soon as a transition begins; every method but Run
// then executes on its own background goroutine, and the transition
// completes when it returns (or enters ERROR if it fails). Run executes
// on the FSM's single-slot threaded RUN worker and must watch ctx for
// cooperative cancellation on stop or interrupt.
type Hooks interface {
	Initialize(ctx context.Context, cfg *config.Configuration) error
	Launch(ctx context.Context) error
	Land(ctx context.Context) error
	Reconfigure(ctx context.Context, cfg *config.Configuration) error
	Stop(ctx context.Context) error
	Interrupt(ctx context.Context) error
	Run(ctx context.Context, runID string) (string, error)
}

// NoopHooks implements Hooks with no-ops, for embedding by satellites
// that only need to override a handful of transitions.
type NoopHooks struct{}

func (NoopHooks) Initialize(context.Context, *config.Configuration) error { return nil }
func (NoopHooks) Launch(context.Context) error                            { return nil }
func (NoopHooks) Land(context.Context) error                              { return nil }
func (NoopHooks) Reconfigure(context.Context, *config.Configuration) error { return nil }
func (NoopHooks) Stop(context.Context) error                              { return nil }
func (NoopHooks) Interrupt(context.Context) error                         { return nil }
func (NoopHooks) Run(ctx context.Context, runID string) (string, error) {
	<-ctx.Done()
	return "interrupted", nil
}

// Satellite wires together one instance's control plane (CSCP), its
// heartbeat and monitoring planes (CHP, CMDP), CHIRP discovery offers,
// the lifecycle Machine, and an optional CDTP data transmitter.
type Satellite struct {
	name string
	hooks Hooks

	machine  *fsm.Machine
	commands *CommandReceiver
	chirpMgr *chirp.Manager
	heart    *chp.Sender
	monitor  *cmdp.Publisher
	data     *cdtp.Transmitter

	cfgMu  sync.RWMutex
	config *config.Configuration

	runIDMu sync.RWMutex
	runID   string

	metricsAddr string

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option customises New.
type Option func(*options)

type options struct {
	group        string
	interfaces   []string
	cmdEndpoint  string
	hbEndpoint   string
	monEndpoint  string
	wantsData    bool
	dataEndpoint string
	metricsAddr  string
}

// WithGroup sets the CHIRP multicast group name (default "constellation").
func WithGroup(group string) Option { return func(o *options) { o.group = group } }

// WithInterfaces restricts CHIRP multicast to the named network interfaces.
func WithInterfaces(ifaces []string) Option { return func(o *options) { o.interfaces = ifaces } }

// WithEndpoints overrides the default "tcp://*:0" ephemeral bind
// addresses for the CSCP, CHP and CMDP sockets.
func WithEndpoints(cmd, hb, mon string) Option {
	return func(o *options) { o.cmdEndpoint, o.hbEndpoint, o.monEndpoint = cmd, hb, mon }
}

// WithMetricsAddr opts the satellite into serving Prometheus metrics
// at addr (e.g. ":9100"); empty (the default) disables the exporter.
func WithMetricsAddr(addr string) Option { return func(o *options) { o.metricsAddr = addr } }

// WithDataEndpoint opts the satellite into a CDTP PUSH transmitter
// bound at endpoint (an empty string binds "tcp://*:0"), advertised as
// a DATA CHIRP offer.
func WithDataEndpoint(endpoint string) Option {
	return func(o *options) { o.wantsData = true; o.dataEndpoint = endpoint }
}

// New constructs and binds a Satellite named "<satType>.<instance>",
// but does not yet start its background loops; call Start for that.
func New(ctx context.Context, satType, instance string, hooks Hooks, opts ...Option) (*Satellite, error) {
	name := (identity.CanonicalName{Type: satType, Instance: instance}).String()
	if _, err := identity.ParseCanonicalName(name); err != nil {
		return nil, err
	}

	o := &options{group: "constellation", cmdEndpoint: "tcp://*:0", hbEndpoint: "tcp://*:0", monEndpoint: "tcp://*:0"}
	for _, opt := range opts {
		opt(o)
	}

	emptyConfig, err := config.New(nil)
	if err != nil {
		return nil, err
	}

	sat := &Satellite{
		name:        name,
		hooks:       hooks,
		machine:     fsm.New(),
		config:      emptyConfig,
		metricsAddr: o.metricsAddr,
	}

	// Open the CSCP, CHP and CMDP sockets (and the optional CDTP one)
	// before CHIRP, so every bound port is known when offers are
	// registered.
	commands, err := NewCommandReceiver(ctx, name, o.cmdEndpoint, sat)
	if err != nil {
		return nil, fmt.Errorf("starting CSCP receiver: %w", err)
	}
	sat.commands = commands

	heart, err := chp.NewSender(ctx, name, o.hbEndpoint, sat.machine)
	if err != nil {
		_ = commands.Close()
		return nil, fmt.Errorf("starting CHP sender: %w", err)
	}
	sat.heart = heart

	monitor, err := cmdp.NewPublisher(ctx, name, o.monEndpoint)
	if err != nil {
		_ = commands.Close()
		_ = heart.Close()
		return nil, fmt.Errorf("starting CMDP publisher: %w", err)
	}
	sat.monitor = monitor

	if o.wantsData {
		endpoint := o.dataEndpoint
		if endpoint == "" {
			endpoint = "tcp://*:0"
		}
		data, err := cdtp.NewTransmitter(ctx, name, endpoint)
		if err != nil {
			_ = commands.Close()
			_ = heart.Close()
			_ = monitor.Close()
			return nil, fmt.Errorf("starting CDTP transmitter: %w", err)
		}
		sat.data = data
	}

	chirpMgr, err := chirp.NewManager(name, o.group, o.interfaces)
	if err != nil {
		_ = sat.closeSockets()
		return nil, fmt.Errorf("starting CHIRP manager: %w", err)
	}
	sat.chirpMgr = chirpMgr

	sat.registerOffer(chirp.ServiceControl, commands.Addr())
	sat.registerOffer(chirp.ServiceHeartbeat, heart.Addr())
	sat.registerOffer(chirp.ServiceMonitoring, monitor.Addr())
	if sat.data != nil {
		sat.registerOffer(chirp.ServiceData, sat.data.Addr())
	}

	return sat, nil
}

func (sat *Satellite) registerOffer(service chirp.ServiceID, addr string) {
	port, err := portOf(addr)
	if err != nil {
		log.WithError(err).WithField("service", service).Warn("satellite: could not parse bound port for CHIRP offer")
		return
	}
	sat.chirpMgr.RegisterOffer(service, port)
}

func portOf(addr string) (uint16, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("splitting host/port from %q: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parsing port from %q: %w", addr, err)
	}
	return uint16(port), nil
}

// Name returns the satellite's canonical "<Type>.<Instance>" name.
func (sat *Satellite) Name() string { return sat.name }

// Machine returns the lifecycle state machine, for a controller-side
// test harness or a concrete satellite's own diagnostics.
func (sat *Satellite) Machine() *fsm.Machine { return sat.machine }

// Monitor returns the CMDP publisher, so hooks can emit STAT metrics
// and LOG records while running.
func (sat *Satellite) Monitor() *cmdp.Publisher { return sat.monitor }

// Data returns the CDTP transmitter, or nil if this satellite was not
// constructed with WithDataEndpoint.
func (sat *Satellite) Data() *cdtp.Transmitter { return sat.data }

// Config returns the satellite's current configuration. The returned
// Configuration is read-tracked and safe for concurrent use; Initialize
// replaces it wholesale, Reconfigure mutates it in place.
func (sat *Satellite) Config() *config.Configuration {
	sat.cfgMu.RLock()
	defer sat.cfgMu.RUnlock()
	return sat.config
}

func (sat *Satellite) setConfig(cfg *config.Configuration) {
	sat.cfgMu.Lock()
	defer sat.cfgMu.Unlock()
	sat.config = cfg
}

// RunID returns the identifier of the most recently started run.
func (sat *Satellite) RunID() string {
	sat.runIDMu.RLock()
	defer sat.runIDMu.RUnlock()
	return sat.runID
}

func (sat *Satellite) setRunID(id string) {
	sat.runIDMu.Lock()
	defer sat.runIDMu.Unlock()
	sat.runID = id
}

// Start launches every background loop (CHIRP discovery, CHP
// heartbeats, CMDP subscription accounting, CSCP command receipt) and
// broadcasts CHIRP offers. It returns once every loop has exited,
// which only happens after ctx is cancelled or Shutdown is requested.
func (sat *Satellite) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	sat.cancel = cancel
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	sat.group = group
	sat.ctx = gctx

	group.Go(func() error {
		sat.chirpMgr.Run(gctx)
		return nil
	})
	group.Go(func() error { return sat.heart.Run(gctx) })
	group.Go(func() error { return sat.monitor.Run(gctx) })
	group.Go(func() error {
		sat.commands.Run(gctx)
		return nil
	})
	group.Go(func() error {
		runWatchdog(gctx)
		return nil
	})
	if sat.metricsAddr != "" {
		exporter := NewMetricsExporter(sat, sat.metricsAddr)
		group.Go(func() error { return exporter.Run(gctx) })
	}

	time.Sleep(100 * time.Millisecond)
	sat.chirpMgr.EmitOffers(chirp.ServiceNone)
	notifyReady()

	err := group.Wait()
	sat.teardown()
	return err
}

// Shutdown requests an orderly stop: it stops any active RUN worker
// and cancels every background loop. It does not block; Start returns
// once the loops have exited, after emitting a CHIRP DEPART and closing
// every socket.
func (sat *Satellite) Shutdown() {
	if sat.machine.RunActive() {
		sat.machine.CancelRun()
	}
	if sat.cancel != nil {
		sat.cancel()
	}
}

func (sat *Satellite) teardown() {
	sat.chirpMgr.EmitDepart()
	if err := sat.closeSockets(); err != nil {
		log.WithError(err).Warn("satellite: error closing sockets during teardown")
	}
}

func (sat *Satellite) closeSockets() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if sat.data != nil {
		record(sat.data.Close())
	}
	record(sat.monitor.Close())
	record(sat.heart.Close())
	record(sat.commands.Close())
	if sat.chirpMgr != nil {
		record(sat.chirpMgr.Close())
	}
	return firstErr
}
