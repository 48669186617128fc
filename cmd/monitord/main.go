/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command monitord is the runtime's monitor daemon: it samples host health
// on a fixed interval through a mailbox worker pool, probes rsem with a
// take+release round trip on the same interval, and serves the results as
// Prometheus metrics over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nabbar/distribfs/bootstrap"
	"github.com/nabbar/distribfs/glitchlog"
	"github.com/nabbar/distribfs/internal/daemonconfig"
	"github.com/nabbar/distribfs/rsem/client"
	"github.com/nabbar/distribfs/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/spf13/cobra"
)

const (
	sampleInterval   = 10 * time.Second
	samplerPoolSize  = 4
	probeSemaphore   = "monitord-probe"
	probeReleaseWait = 2 * time.Second
)

var (
	metricCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "distribfs_host_cpu_percent",
		Help: "Host-wide CPU utilization percentage, averaged since the previous sample.",
	})
	metricMemPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "distribfs_host_mem_used_percent",
		Help: "Host memory used, as a percentage of total.",
	})
	metricSampleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distribfs_monitor_sample_errors_total",
		Help: "Host-stat samples that failed to collect.",
	})
	metricRsemProbeOK = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distribfs_monitor_rsem_probe_success_total",
		Help: "Successful take+release round trips against the probe semaphore.",
	})
	metricRsemProbeFail = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distribfs_monitor_rsem_probe_failure_total",
		Help: "Failed take or release attempts against the probe semaphore.",
	})
	metricSemaphoreCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "distribfs_monitor_configured_semaphores",
		Help: "Semaphore entries in the monitor daemon's own config file, refreshed on every edit.",
	})
)

func init() {
	prometheus.MustRegister(metricCPUPercent, metricMemPercent, metricSampleErrors, metricRsemProbeOK, metricRsemProbeFail, metricSemaphoreCount)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		foreground bool
	)

	cmd := &cobra.Command{
		Use:   "monitord",
		Short: "Monitor daemon: samples host/rsem health and serves it as Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, foreground)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the daemon's JSON config file")
	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the foreground; the process never detaches, and -f only suppresses the startup glitch-log line")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func run(configPath string, foreground bool) error {
	d, err := bootstrap.Start(configPath, nil, 0)
	if err != nil {
		return fmt.Errorf("monitord: %w", err)
	}
	defer func() {
		if serr := d.Shutdown(); serr != nil {
			glitchlog.Log("monitord: shutdown: %v", serr)
		}
	}()

	if d.Config.MonitorListenAddr == nil {
		return fmt.Errorf("monitord: config is missing \"monitor_listen_addr\"")
	}

	metricSemaphoreCount.Set(float64(len(d.Config.Semaphores)))
	if _, err := daemonconfig.Watch(configPath, onConfigChange); err != nil {
		glitchlog.Log("monitord: watching %s for semaphore-list edits: %v", configPath, err)
	}

	pool := workerpool.New(samplerPoolSize)

	var rc *client.Client
	if d.Config.RsemListenAddr != nil {
		portStart, portEnd := 31000, 31099
		if d.Config.ClientPortStart != nil {
			portStart = *d.Config.ClientPortStart
		}
		if d.Config.ClientPortEnd != nil {
			portEnd = *d.Config.ClientPortEnd
		}
		rc, err = client.New(client.Config{
			ServerAddr:   *d.Config.RsemListenAddr,
			CliPortStart: portStart,
			CliPortEnd:   portEnd,
		})
		if err != nil {
			return fmt.Errorf("monitord: building rsem probe client: %w", err)
		}
	}

	stopTicker := make(chan struct{})
	go sampleLoop(pool, rc, stopTicker)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: *d.Config.MonitorListenAddr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	if !foreground {
		glitchlog.Log("monitord: running, pid %d, serving metrics on %s", os.Getpid(), *d.Config.MonitorListenAddr)
	}

	// SIGINT is owned by the crash-log handler's fatal-signal set; only
	// SIGTERM requests an orderly shutdown here.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			close(stopTicker)
			return fmt.Errorf("monitord: metrics server: %w", err)
		}
	}

	close(stopTicker)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// sampleLoop dispatches one host-stat sample through pool every
// sampleInterval and, if an rsem probe client is configured, runs one
// take+release round trip directly on its own goroutine, until stop is closed.
func sampleLoop(pool *workerpool.Pool, rc *client.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	w, err := pool.Start("host-sampler", sampleHandler, nil, nil)
	if err != nil {
		glitchlog.Log("monitord: starting sampler worker: %v", err)
		return
	}
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = w.SendOrFree(&workerpool.Message{Type: 1})
			if rc != nil {
				probeRsem(rc)
			}
		}
	}
}

func sampleHandler(msg *workerpool.Message, ctx interface{}) error {
	pct, err := cpu.Percent(0, false)
	if err != nil || len(pct) == 0 {
		metricSampleErrors.Inc()
		return nil
	}
	metricCPUPercent.Set(pct[0])

	vm, err := mem.VirtualMemory()
	if err != nil {
		metricSampleErrors.Inc()
		return nil
	}
	metricMemPercent.Set(vm.UsedPercent)

	return nil
}

// onConfigChange is daemonconfig.Watch's callback: it runs on viper's watcher
// goroutine every time the config file monitord was started with changes, and
// republishes the semaphore count without requiring a restart to observe the
// edit. It cannot reach into rsemd's running Server to apply the edit there,
// since that is a separate process reachable only over the rsem wire
// protocol, and server.New's table is fixed for the Server's lifetime.
func onConfigChange(cfg *daemonconfig.Config, err error) {
	if err != nil {
		glitchlog.Log("monitord: reloading config: %v", err)
		return
	}
	metricSemaphoreCount.Set(float64(len(cfg.Semaphores)))
}

func probeRsem(rc *client.Client) {
	if err := rc.Wait(probeSemaphore); err != nil {
		metricRsemProbeFail.Inc()
		return
	}
	time.Sleep(probeReleaseWait)
	if err := rc.Post(probeSemaphore); err != nil {
		metricRsemProbeFail.Inc()
		return
	}
	metricRsemProbeOK.Inc()
}
