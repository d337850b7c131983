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
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/constellation-daq/constellation/fsm"
)

// stateColor renders s (a state name) in the color appropriate for g:
// green for the fully-up states, yellow for SAFE, red for ERROR/DEAD,
// plain for everything transitional.
func stateColor(g GlobalState, s string) string {
	switch g {
	case GlobalOrbit, GlobalRun:
		return color.GreenString("%s", s)
	case GlobalSafe:
		return color.YellowString("%s", s)
	case GlobalError, GlobalDead:
		return color.RedString("%s", s)
	default:
		return s
	}
}

// PrintStatus renders a table of every known satellite's name, state
// and status text to w, followed by the aggregated global state.
// Color is disabled automatically when w is not a terminal.
func (c *Controller) PrintStatus(w io.Writer) {
	if f, ok := w.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		color.NoColor = true
	}

	names := c.Peers()
	sort.Strings(names)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"satellite", "state", "status"})
	for _, name := range names {
		state, status, ok := c.PeerState(name)
		if !ok {
			continue
		}
		var g GlobalState
		switch {
		case state == fsm.StateSafe:
			g = GlobalSafe
		case state == fsm.StateError || state == fsm.StateDead:
			g = GlobalError
		case !state.IsSteady():
			g = GlobalTransitioning
		default:
			if mapped, known := steadyGlobal[state]; known {
				g = mapped
			} else {
				g = GlobalUnknown
			}
		}
		table.Append([]string{name, stateColor(g, state.String()), status})
	}
	table.Render()

	_, _ = io.WriteString(w, "global state: "+string(c.GlobalState())+"\n")
}
