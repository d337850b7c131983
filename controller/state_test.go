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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/constellation-daq/constellation/fsm"
)

func TestAggregateStateEmpty(t *testing.T) {
	assert.Equal(t, GlobalUnknown, AggregateState(nil))
}

func TestAggregateStateAllSameSteady(t *testing.T) {
	got := AggregateState([]fsm.State{fsm.StateOrbit, fsm.StateOrbit, fsm.StateOrbit})
	assert.Equal(t, GlobalOrbit, got)
}

func TestAggregateStateTakesLeastAdvanced(t *testing.T) {
	got := AggregateState([]fsm.State{fsm.StateRun, fsm.StateOrbit, fsm.StateInit})
	assert.Equal(t, GlobalInit, got)
}

func TestAggregateStateAnyTransitionalYieldsTransitioning(t *testing.T) {
	got := AggregateState([]fsm.State{fsm.StateOrbit, fsm.StateStarting})
	assert.Equal(t, GlobalTransitioning, got)
}

func TestAggregateStateErrorDominates(t *testing.T) {
	got := AggregateState([]fsm.State{fsm.StateRun, fsm.StateStarting, fsm.StateError})
	assert.Equal(t, GlobalError, got)

	got = AggregateState([]fsm.State{fsm.StateOrbit, fsm.StateSafe})
	assert.Equal(t, GlobalError, got)

	got = AggregateState([]fsm.State{fsm.StateOrbit, fsm.StateDead})
	assert.Equal(t, GlobalError, got)
}
