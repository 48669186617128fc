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

// Command rsemd is the remote-semaphore coordinator's daemon main: it
// bootstraps the shared ambient stack, builds the semaphore table from
// config, and serves take/release requests until SIGTERM.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nabbar/distribfs/bootstrap"
	"github.com/nabbar/distribfs/glitchlog"
	"github.com/nabbar/distribfs/rsem/server"
	"github.com/spf13/cobra"
)

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
		Use:   "rsemd",
		Short: "Remote-semaphore daemon: grants and queues take/release requests",
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
		return fmt.Errorf("rsemd: %w", err)
	}
	defer func() {
		if serr := d.Shutdown(); serr != nil {
			glitchlog.Log("rsemd: shutdown: %v", serr)
		}
	}()

	if d.Config.RsemListenAddr == nil {
		return fmt.Errorf("rsemd: config is missing \"rsem_listen_addr\"")
	}

	cfg := server.Config{
		ListenAddr:  *d.Config.RsemListenAddr,
		DialTimeout: 2 * time.Second,
	}
	for _, sc := range d.Config.Semaphores {
		cfg.Semaphores = append(cfg.Semaphores, server.SemConfig{Name: sc.Name, InitVal: sc.InitVal})
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("rsemd: building server: %w", err)
	}
	srv.Start()

	if !foreground {
		glitchlog.Log("rsemd: running, pid %d, listening on %s", os.Getpid(), srv.Addr())
	}

	// SIGINT is owned by the crash-log handler's fatal-signal set; only
	// SIGTERM requests an orderly shutdown here.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	<-sigCh

	return srv.Shutdown()
}
