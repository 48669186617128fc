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

// Command objectd is the object-storage server's daemon main. It shares
// metadatad's bootstrap and observer-socket shape, against the object
// daemon's own config and socket path.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nabbar/distribfs/bootstrap"
	"github.com/nabbar/distribfs/glitchlog"
	"github.com/nabbar/distribfs/outputservice"
	"github.com/spf13/cobra"
)

const defaultMaxObservers = 32

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
		Use:   "objectd",
		Short: "Object-storage daemon: serves the observer socket for object update events",
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
		return fmt.Errorf("objectd: %w", err)
	}
	defer func() {
		if serr := d.Shutdown(); serr != nil {
			glitchlog.Log("objectd: shutdown: %v", serr)
		}
	}()

	if d.Config.Listen == nil {
		return fmt.Errorf("objectd: config is missing \"listen\"")
	}

	svc, err := outputservice.New(*d.Config.Listen, defaultMaxObservers)
	if err != nil {
		return fmt.Errorf("objectd: starting output service: %w", err)
	}
	svc.Start()

	if !foreground {
		glitchlog.Log("objectd: running, pid %d, socket %s", os.Getpid(), *d.Config.Listen)
	}

	// SIGINT is owned by the crash-log handler's fatal-signal set; only
	// SIGTERM requests an orderly shutdown here.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	<-sigCh

	return svc.Shutdown()
}
