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

import "github.com/constellation-daq/constellation/fsm"

// GlobalState summarises every satellite's individual FSM state into
// one constellation-wide value.
type GlobalState string

const (
	GlobalNew           GlobalState = "NEW"
	GlobalInit          GlobalState = "INIT"
	GlobalOrbit         GlobalState = "ORBIT"
	GlobalRun           GlobalState = "RUN"
	GlobalSafe          GlobalState = "SAFE"
	GlobalError         GlobalState = "ERROR"
	GlobalDead          GlobalState = "DEAD"
	GlobalTransitioning GlobalState = "TRANSITIONING"
	GlobalUnknown       GlobalState = "UNKNOWN"
)

var steadyRank = map[fsm.State]int{
	fsm.StateNew:   0,
	fsm.StateInit:  1,
	fsm.StateOrbit: 2,
	fsm.StateRun:   3,
}

var steadyGlobal = map[fsm.State]GlobalState{
	fsm.StateNew:   GlobalNew,
	fsm.StateInit:  GlobalInit,
	fsm.StateOrbit: GlobalOrbit,
	fsm.StateRun:   GlobalRun,
}

// AggregateState folds a set of individual satellite states into one
// GlobalState: any ERROR/DEAD/SAFE dominates as ERROR, any transitional
// state (with none of those present) yields TRANSITIONING, and
// otherwise the result is the least-advanced steady state across the
// set (NEW < INIT < ORBIT < RUN), reflecting that the constellation as
// a whole has only progressed as far as its least-progressed member.
func AggregateState(states []fsm.State) GlobalState {
	if len(states) == 0 {
		return GlobalUnknown
	}

	for _, s := range states {
		if s == fsm.StateError || s == fsm.StateDead || s == fsm.StateSafe {
			return GlobalError
		}
	}

	transitioning := false
	best := -1
	var bestGlobal GlobalState
	for _, s := range states {
		if !s.IsSteady() {
			transitioning = true
			continue
		}
		rank, known := steadyRank[s]
		if !known {
			continue
		}
		if best == -1 || rank < best {
			best = rank
			bestGlobal = steadyGlobal[s]
		}
	}
	if transitioning {
		return GlobalTransitioning
	}
	if best == -1 {
		return GlobalUnknown
	}
	return bestGlobal
}
