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

	"github.com/constellation-daq/constellation/chirp"
	"github.com/constellation-daq/constellation/cmdp"
)

var (
	listenerName       string
	listenerGroup      string
	listenerInterfaces []string
	verboseFlag        bool
)

// rootCmd discovers every satellite's CMDP monitoring endpoint over
// CHIRP and prints its logs and metrics to stdout, the same role
// `listener` plays in a deployed constellation: an operator's view of
// what every satellite is saying, without a control connection.
var rootCmd = &cobra.Command{
	Use:   "constellation-listener",
	Short: "print logs and metrics published by every discovered satellite",
	RunE:  runListener,
}

func init() {
	rootCmd.Flags().StringVar(&listenerName, "name", "listener", "this listener's name, as announced via CHIRP")
	rootCmd.Flags().StringVar(&listenerGroup, "group", "constellation", "CHIRP multicast group")
	rootCmd.Flags().StringSliceVar(&listenerInterfaces, "interface", nil, "network interfaces to use for CHIRP (default: all)")
	rootCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose logging")
}

func runListener(*cobra.Command, []string) error {
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	chirpMgr, err := chirp.NewManager(listenerName, listenerGroup, listenerInterfaces)
	if err != nil {
		return fmt.Errorf("starting CHIRP manager: %w", err)
	}

	cmdpListener := cmdp.NewListener(printRecord)
	chirpMgr.RegisterRequest(chirp.ServiceMonitoring, func(svc chirp.DiscoveredService) {
		source := svc.HostUUID.String()
		endpoint := fmt.Sprintf("tcp://%s:%d", svc.Address, svc.Port)
		if !svc.Alive {
			cmdpListener.Unsubscribe(source)
			return
		}
		if err := cmdpListener.Subscribe(context.Background(), source, endpoint); err != nil {
			log.WithError(err).WithField("endpoint", endpoint).Warn("constellation-listener: failed to subscribe")
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go chirpMgr.Run(ctx)
	chirpMgr.Request(chirp.ServiceMonitoring)

	log.WithField("listener", listenerName).Info("constellation-listener: listening")
	<-ctx.Done()

	_ = cmdpListener.Close()
	return chirpMgr.Close()
}

func printRecord(source string, record interface{}) {
	switch r := record.(type) {
	case *cmdp.LogRecord:
		fmt.Printf("[%s] %s %s: %s: %s\n", r.SendTime.Format("15:04:05"), source, r.Level, r.Logger, r.Message)
	case *cmdp.Metric:
		fmt.Printf("[%s] %s STAT %s = %v %s\n", r.SendTime.Format("15:04:05"), source, r.Name, r.Value, r.Unit)
	default:
		fmt.Printf("%s: %v\n", source, r)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
