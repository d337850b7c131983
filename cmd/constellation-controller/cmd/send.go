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

	"github.com/spf13/cobra"
)

var (
	sendSatelliteFlag string
	sendSettleFlag    time.Duration
	sendAllFlag       bool
)

func init() {
	RootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendSatelliteFlag, "satellite", "", "canonical name of the satellite to command")
	sendCmd.Flags().BoolVar(&sendAllFlag, "all", false, "broadcast to every discovered satellite instead of one")
	sendCmd.Flags().DurationVar(&sendSettleFlag, "settle", 2*time.Second, "how long to wait for CHIRP discovery before sending")
}

var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "send a CSCP command to one or every satellite",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ConfigureVerbosity()
		command := args[0]
		if !sendAllFlag && sendSatelliteFlag == "" {
			return fmt.Errorf("either --satellite or --all is required")
		}

		ctrl, cancel, err := connect(context.Background(), sendSettleFlag)
		if err != nil {
			return err
		}
		defer cancel()

		if sendAllFlag {
			replies, errs := ctrl.BroadcastCommand(command, nil, nil)
			for name, reply := range replies {
				fmt.Printf("%s: %s %q\n", name, reply.Type, reply.Text)
			}
			for name, sendErr := range errs {
				fmt.Printf("%s: error: %v\n", name, sendErr)
			}
			return nil
		}

		reply, err := ctrl.SendCommand(sendSatelliteFlag, command, nil, nil)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s %q\n", sendSatelliteFlag, reply.Type, reply.Text)
		return nil
	},
}
