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
	"time"

	"github.com/spf13/cobra"
)

var statusSettleFlag time.Duration

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().DurationVar(&statusSettleFlag, "settle", 2*time.Second, "how long to wait for CHIRP discovery before printing")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "discover satellites and print their current state",
	RunE: func(*cobra.Command, []string) error {
		ConfigureVerbosity()
		ctrl, cancel, err := connect(context.Background(), statusSettleFlag)
		if err != nil {
			return err
		}
		defer cancel()
		ctrl.PrintStatus(os.Stdout)
		return nil
	},
}
