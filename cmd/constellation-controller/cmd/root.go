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
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is constellation-controller's entry point. Exported so a
// concrete deployment can add its own subcommands without touching
// this package.
var RootCmd = &cobra.Command{
	Use:   "constellation-controller",
	Short: "discover and command Constellation satellites",
}

var (
	rootNameFlag      string
	rootGroupFlag     string
	rootInterfaceFlag []string
	rootVerboseFlag   bool
)

func init() {
	RootCmd.PersistentFlags().StringVar(&rootNameFlag, "name", "controller", "this controller's name, as it appears as CSCP sender")
	RootCmd.PersistentFlags().StringVar(&rootGroupFlag, "group", "constellation", "CHIRP multicast group")
	RootCmd.PersistentFlags().StringSliceVar(&rootInterfaceFlag, "interface", nil, "network interfaces to use for CHIRP (default: all)")
	RootCmd.PersistentFlags().BoolVarP(&rootVerboseFlag, "verbose", "v", false, "verbose logging")
}

// ConfigureVerbosity applies rootVerboseFlag to the standard logger.
// Every subcommand that runs must call this itself.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if rootVerboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

// Execute is constellation-controller's main entry point.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
