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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/constellation-daq/constellation/satellite"
)

var (
	satType     string
	satInstance string
	group       string
	interfaces  []string
	metricsAddr string
	verboseFlag bool
)

// rootCmd runs a no-op example satellite, exercising the full
// composition (CHIRP/CSCP/CHP/CMDP, optional Prometheus exporter)
// without any real hardware or data behind it.
var rootCmd = &cobra.Command{
	Use:   "constellation-satellite",
	Short: "run a no-op example satellite",
	RunE:  runSatellite,
}

func init() {
	rootCmd.Flags().StringVar(&satType, "type", "Example", "satellite type")
	rootCmd.Flags().StringVar(&satInstance, "name", "1", "satellite instance name")
	rootCmd.Flags().StringVar(&group, "group", "constellation", "CHIRP multicast group")
	rootCmd.Flags().StringSliceVar(&interfaces, "interface", nil, "network interfaces to broadcast CHIRP on (default: all)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics", "", "bind address for the Prometheus exporter (empty disables it)")
	rootCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose logging")
}

func runSatellite(*cobra.Command, []string) error {
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []satellite.Option{
		satellite.WithGroup(group),
		satellite.WithMetricsAddr(metricsAddr),
	}
	if len(interfaces) > 0 {
		opts = append(opts, satellite.WithInterfaces(interfaces))
	}

	sat, err := satellite.New(ctx, satType, satInstance, satellite.NoopHooks{}, opts...)
	if err != nil {
		return fmt.Errorf("constructing satellite: %w", err)
	}
	log.WithField("satellite", sat.Name()).Info("constellation-satellite: starting")

	return sat.Start(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
