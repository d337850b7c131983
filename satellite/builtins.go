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

package satellite

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/constellation-daq/constellation/config"
	"github.com/constellation-daq/constellation/cscp"
	"github.com/constellation-daq/constellation/fsm"
)

// registerBuiltins seeds the registry with the commands every
// satellite answers: the read-only get_* commands and the nine
// FSM-transition commands, per spec.md §4.G.
func (r *CommandReceiver) registerBuiltins(sat *Satellite) {
	r.Register("get_commands", nil, func(*cscp.Message) (*Result, error) {
		names := make([]string, 0, len(r.registry))
		docs := make(map[string]interface{}, len(r.registry))
		for name, e := range r.registry {
			names = append(names, name)
			docs[name] = e.doc
		}
		sort.Strings(names)
		return &Result{Text: "commands known to this satellite", Tags: docs}, nil
	}, "return the names and descriptions of all commands")

	r.Register("get_name", nil, func(*cscp.Message) (*Result, error) {
		return &Result{Text: sat.Name()}, nil
	}, "return this satellite's canonical name")

	r.Register("get_version", nil, func(*cscp.Message) (*Result, error) {
		return &Result{Text: Version}, nil
	}, "return the running software version")

	r.Register("get_state", nil, func(*cscp.Message) (*Result, error) {
		return &Result{Text: sat.Machine().Current().String()}, nil
	}, "return the current FSM state")

	r.Register("get_status", nil, func(*cscp.Message) (*Result, error) {
		status, changed := sat.Machine().Status()
		return &Result{Text: status, Tags: map[string]interface{}{"last_changed": changed}}, nil
	}, "return the current status text")

	r.Register("get_config", nil, func(*cscp.Message) (*Result, error) {
		payload, err := sat.Config().Assemble()
		if err != nil {
			return nil, err
		}
		return &Result{Text: "current configuration", Payload: payload}, nil
	}, "return the satellite's current configuration")

	r.Register("get_run_id", nil, func(*cscp.Message) (*Result, error) {
		return &Result{Text: sat.RunID()}, nil
	}, "return the identifier of the most recent run")

	r.Register("shutdown", nil, func(*cscp.Message) (*Result, error) {
		if _, err := sat.Machine().Begin(fsm.CmdShutdown); err != nil {
			return nil, err
		}
		sat.Shutdown()
		return &Result{Text: "shutting down"}, nil
	}, "request an orderly shutdown")

	r.Register("failure", nil, func(req *cscp.Message) (*Result, error) {
		reason, _ := decodeString(req.Payload)
		if reason == "" {
			reason = "failure requested"
		}
		if _, err := sat.Machine().Begin(fsm.CmdFailure); err != nil {
			return nil, err
		}
		return &Result{Text: reason}, nil
	}, "force the satellite into the ERROR state")

	r.Register("initialize", nil, func(req *cscp.Message) (*Result, error) {
		cfg, err := decodeConfig(req.Payload)
		if err != nil {
			return nil, ErrIncomplete
		}
		return r.runInline(sat, fsm.CmdInitialize, "Initialized.", func() error {
			sat.setConfig(cfg)
			return sat.hooks.Initialize(sat.ctx, cfg)
		})
	}, "initialize the satellite with the given configuration")

	r.Register("launch", nil, func(*cscp.Message) (*Result, error) {
		return r.runInline(sat, fsm.CmdLaunch, "Launched.", func() error {
			return sat.hooks.Launch(sat.ctx)
		})
	}, "prepare the satellite to take data")

	r.Register("land", nil, func(*cscp.Message) (*Result, error) {
		return r.runInline(sat, fsm.CmdLand, "Landed.", func() error {
			return sat.hooks.Land(sat.ctx)
		})
	}, "return the satellite to the INIT state")

	r.Register("reconfigure", nil, func(req *cscp.Message) (*Result, error) {
		patch, err := decodeConfig(req.Payload)
		if err != nil {
			return nil, ErrIncomplete
		}
		return r.runInline(sat, fsm.CmdReconfigure, "Reconfigured.", func() error {
			current := sat.Config()
			if err := current.Update(patch.Section); err != nil {
				return err
			}
			return sat.hooks.Reconfigure(sat.ctx, current)
		})
	}, "apply a partial configuration update without landing")

	r.Register("interrupt", nil, func(*cscp.Message) (*Result, error) {
		return r.runInline(sat, fsm.CmdInterrupt, "Interrupted.", func() error {
			if sat.Machine().RunActive() {
				sat.Machine().CancelRun()
			}
			return sat.hooks.Interrupt(sat.ctx)
		})
	}, "stop immediately and move to the SAFE state")

	r.Register("stop", nil, func(*cscp.Message) (*Result, error) {
		return r.runInline(sat, fsm.CmdStop, "Stopped.", func() error {
			if sat.Machine().RunActive() {
				sat.Machine().CancelRun()
			}
			return sat.hooks.Stop(sat.ctx)
		})
	}, "stop the current run")

	r.Register("start", nil, func(req *cscp.Message) (*Result, error) {
		runID, err := decodeString(req.Payload)
		if err != nil || runID == "" {
			return nil, ErrIncomplete
		}
		if _, err := sat.Machine().Begin(fsm.CmdStart); err != nil {
			return nil, err
		}
		sat.setRunID(runID)
		sat.Machine().StartRun(sat.ctx, func(ctx context.Context) (string, error) {
			if err := sat.Machine().Complete("Running."); err != nil {
				log.WithError(err).Warn("satellite: failed to complete start transition")
			}
			return sat.hooks.Run(ctx, runID)
		})
		return r.transitioning(fsm.CmdStart)
	}, "start a new run with the given run identifier")
}

// runInline starts the command's FSM transition, replies "transitioning"
// immediately per spec.md §4.F, and runs the hook on a background
// goroutine that lands the transition by calling Complete on success or
// forcing the ERROR state on failure, mirroring the async contract
// StartRun already gives the threaded RUN worker.
func (r *CommandReceiver) runInline(sat *Satellite, cmd fsm.Command, successStatus string, fn func() error) (*Result, error) {
	if _, err := sat.Machine().Begin(cmd); err != nil {
		return nil, err
	}
	go func() {
		if err := fn(); err != nil {
			log.WithError(err).Warnf("satellite: %s transition failed", cmd)
			if _, ferr := sat.Machine().Begin(fsm.CmdFailure); ferr != nil {
				log.WithError(ferr).Warn("satellite: failed to enter ERROR state after failed transition")
			}
			return
		}
		if err := sat.Machine().Complete(successStatus); err != nil {
			log.WithError(err).Warnf("satellite: failed to complete %s transition", cmd)
		}
	}()
	return r.transitioning(cmd)
}

// transitioning builds the immediate reply to a transition command: text
// "transitioning" with the command name as payload, per spec.md §4.F/§4.G
// and the original implementation's `_transition()`.
func (r *CommandReceiver) transitioning(cmd fsm.Command) (*Result, error) {
	payload, err := msgpack.Marshal(string(cmd))
	if err != nil {
		return nil, err
	}
	return &Result{Text: "transitioning", Payload: payload}, nil
}

func decodeString(payload []byte) (string, error) {
	if payload == nil {
		return "", nil
	}
	var s string
	if err := msgpack.Unmarshal(payload, &s); err != nil {
		return "", err
	}
	return s, nil
}

func decodeConfig(payload []byte) (*config.Configuration, error) {
	if payload == nil {
		return config.New(nil)
	}
	return config.Disassemble(payload)
}
