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

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/constellation-daq/constellation/controller"
)

// connect starts a Controller and lets it run in the background for
// settle, long enough for CHIRP discovery and CSCP dialing of
// already-running satellites to complete. The caller must cancel the
// returned context (or let it expire) once done with the Controller.
func connect(ctx context.Context, settle time.Duration) (*controller.Controller, context.CancelFunc, error) {
	opts := []controller.Option{controller.WithGroup(rootGroupFlag)}
	if len(rootInterfaceFlag) > 0 {
		opts = append(opts, controller.WithInterfaces(rootInterfaceFlag))
	}

	ctrl, err := controller.New(rootNameFlag, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("constructing controller: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		_ = ctrl.Run(runCtx)
	}()

	select {
	case <-time.After(settle):
	case <-ctx.Done():
	}
	return ctrl, cancel, nil
}
