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

package satellite

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

var processStartTime = time.Now()

// notifyReady tells systemd (if NOTIFY_SOCKET is set) that the
// satellite has finished binding its sockets and is ready to serve.
func notifyReady() {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if !supported && err != nil {
		log.WithError(err).Warn("satellite: sd_notify readiness failed")
	} else if !supported {
		log.Debug("satellite: sd_notify not supported, NOTIFY_SOCKET unset")
	}
}

// runWatchdog pings systemd's watchdog at the interval it advertised
// (if any) until ctx is cancelled, so a wedged satellite process gets
// restarted by its service manager rather than hanging forever.
func runWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.WithError(err).Warn("satellite: sd_notify watchdog ping failed")
			}
		}
	}
}

// MetricsExporter serves the satellite's live FSM/run/data-volume state
// as Prometheus gauges, each sampled directly from the running
// Satellite rather than through a separate scrape loop.
type MetricsExporter struct {
	sat      *Satellite
	registry *prometheus.Registry
	addr     string
}

// NewMetricsExporter registers the exporter's gauges against sat and
// prepares an HTTP listener on addr (e.g. ":9100").
func NewMetricsExporter(sat *Satellite, addr string) *MetricsExporter {
	e := &MetricsExporter{sat: sat, registry: prometheus.NewRegistry(), addr: addr}

	e.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "constellation_satellite_state",
		Help: "Current FSM state, encoded as its wire byte value.",
	}, func() float64 { return float64(sat.Machine().Current()) }))

	e.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "constellation_satellite_run_active",
		Help: "1 if a RUN worker currently holds the single run slot.",
	}, func() float64 {
		if sat.Machine().RunActive() {
			return 1
		}
		return 0
	}))

	if sat.Data() != nil {
		e.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "constellation_satellite_data_bytes_queued",
			Help: "Bytes currently queued in the CDTP transmitter's outbound channel.",
		}, func() float64 { return float64(sat.Data().QueuedBytes()) }))
	}

	e.registerProcessGauges()

	return e
}

// registerProcessGauges exposes process health independent of CMDP, per
// component P: goroutine count, RSS, open file descriptors, and uptime.
func (e *MetricsExporter) registerProcessGauges() {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.WithError(err).Warn("satellite: could not open self process handle for metrics")
		return
	}

	e.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "constellation_process_goroutines",
		Help: "Number of live goroutines.",
	}, func() float64 { return float64(runtime.NumGoroutine()) }))

	e.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "constellation_process_rss_bytes",
		Help: "Resident set size of this process, in bytes.",
	}, func() float64 {
		info, err := proc.MemoryInfo()
		if err != nil {
			return 0
		}
		return float64(info.RSS)
	}))

	e.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "constellation_process_open_fds",
		Help: "Number of open file descriptors held by this process.",
	}, func() float64 {
		n, err := proc.NumFDs()
		if err != nil {
			return 0
		}
		return float64(n)
	}))

	e.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "constellation_process_uptime_seconds",
		Help: "Seconds since this process started.",
	}, func() float64 { return time.Since(processStartTime).Seconds() }))
}

// Run serves /metrics until ctx is cancelled.
func (e *MetricsExporter) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	server := &http.Server{Addr: e.addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server on %s: %w", e.addr, err)
		}
		return nil
	}
}
