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

package glitchlog

import (
	"bufio"
	"fmt"
	"io"
	"log/syslog"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config selects the glitch log's destination once a daemon has finished
// reading its own configuration file.
type Config struct {
	// Path to the destination log file. Empty means stderr.
	Path string
	// Syslog additionally mirrors every line to the syslog daemon.
	Syslog bool
}

var (
	mu         sync.Mutex
	fd         *os.File
	tempPath   string
	configured bool
	syslogHook *hookSyslog
	entry      = logrus.New()
)

func init() {
	entry.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	entry.SetOutput(os.Stderr)
}

// hookSyslog is a logrus.Hook, in the shape of the file/syslog hooks golib's
// logger/hookfile and logger/hooksyslog packages register on a *logrus.Logger:
// it mirrors every fired entry's formatted message to a syslog.Writer instead
// of participating in entry's own Out destination.
type hookSyslog struct {
	w *syslog.Writer
}

func (h *hookSyslog) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *hookSyslog) Fire(e *logrus.Entry) error {
	return h.w.Err(e.Message)
}

// Log formats and emits one glitch-log line through entry. Before Configure
// has run, lines are buffered into a lazily-created temp file and echoed to
// stderr; once Configure has run they go straight to the chosen destination,
// still teed to stderr when that destination isn't stderr itself, and to
// syslog through syslogHook if enabled. Log is safe for concurrent use.
func Log(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	line := fmt.Sprintf(format, args...)

	if fd == nil {
		f, err := os.CreateTemp("", "glitchlog-*.log")
		if err != nil {
			fmt.Fprintln(os.Stderr, "glitchlog: out of memory opening temp buffer, dropping line")
			fmt.Fprintln(os.Stderr, line)
			return
		}
		fd = f
		tempPath = f.Name()
		entry.SetOutput(io.MultiWriter(fd, os.Stderr))
	}

	entry.Error(line)
}

// Configure points the glitch log at its real destination and replays every
// line buffered before this call, in order, into both the new destination and
// syslog (if enabled). Calling Configure a second time logs a warning and is
// otherwise a no-op, matching the "configure is not reentrant" contract.
func Configure(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if configured {
		fmt.Fprintln(os.Stderr, "glitchlog: configure called more than once, ignoring")
		return nil
	}

	var (
		newFd *os.File
		err   error
	)
	if cfg.Path == "" {
		newFd = os.Stderr
	} else {
		newFd, err = os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
	}

	if cfg.Syslog {
		w, serr := syslog.New(syslog.LOG_ERR, "distribfs")
		if serr == nil {
			syslogHook = &hookSyslog{w: w}
			entry.AddHook(syslogHook)
		}
	}

	dst := io.Writer(newFd)
	if newFd != os.Stderr {
		dst = io.MultiWriter(newFd, os.Stderr)
	}

	if tempPath != "" {
		regurgitate(tempPath, dst)

		old := fd
		oldPath := tempPath
		tempPath = ""
		if old != nil && old != os.Stderr {
			_ = old.Close()
		}
		_ = os.Remove(oldPath)
	}

	entry.SetOutput(dst)
	fd = newFd
	configured = true
	return nil
}

// regurgitate replays every line of the pre-configure temp file into dst and
// syslog, in order.
func regurgitate(path string, dst io.Writer) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if dst != nil {
			fmt.Fprintln(dst, line)
		}
		if syslogHook != nil {
			_ = syslogHook.w.Err(line)
		}
	}
}

// Close shuts the glitch log down: closes the destination fd (unless it is
// stderr), removes the syslog hook, and clears the configured flag so a later
// Configure can reopen it.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if fd != nil && fd != os.Stderr {
		if err := fd.Close(); err != nil {
			return err
		}
	}
	if syslogHook != nil {
		_ = syslogHook.w.Close()
		syslogHook = nil
		entry.ReplaceHooks(make(logrus.LevelHooks))
	}
	fd = nil
	configured = false
	entry.SetOutput(os.Stderr)
	return nil
}

// reset is a test-only hook that clears all package state, including any
// leftover temp-file path, without touching the filesystem. Production code
// never needs it: Configure/Close already cover the documented lifecycle.
func reset() {
	fd = nil
	tempPath = ""
	configured = false
	syslogHook = nil
	entry.ReplaceHooks(make(logrus.LevelHooks))
	entry.SetOutput(os.Stderr)
}
