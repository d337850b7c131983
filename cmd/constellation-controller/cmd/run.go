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
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/constellation-daq/constellation/controller"
)

func init() {
	RootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run continuously, discovering and tracking satellite state",
	RunE: func(*cobra.Command, []string) error {
		ConfigureVerbosity()

		opts := []controller.Option{controller.WithGroup(rootGroupFlag)}
		if len(rootInterfaceFlag) > 0 {
			opts = append(opts, controller.WithInterfaces(rootInterfaceFlag))
		}

		ctrl, err := controller.New(rootNameFlag, opts...)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		log.WithField("controller", rootNameFlag).Info("constellation-controller: running")
		return ctrl.Run(ctx)
	},
}
