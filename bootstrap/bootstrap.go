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

package bootstrap

import (
	"fmt"

	"github.com/nabbar/distribfs/crashlog"
	"github.com/nabbar/distribfs/fastlog"
	"github.com/nabbar/distribfs/glitchlog"
	"github.com/nabbar/distribfs/internal/daemonconfig"
)

// DefaultFastLogScratchCapacity is the entry count used for the crash log's
// scratch snapshot when a daemon main does not register any fastlog buffer
// wider than this. A daemon that creates wider buffers must pass their
// capacity as fastLogScratchCapacity to Start instead, per fastlog.DumpAll's
// "size scratch for the widest registered buffer" contract.
const DefaultFastLogScratchCapacity = 1 << 10

// Daemon is the handle a daemon main holds for the rest of its life: the
// harmonized config, the installed crash-log handler, and a single Shutdown
// method that reverses every step Start took.
type Daemon struct {
	Config       *daemonconfig.Config
	CrashHandler *crashlog.Handler

	deletePidFile func()
}

// Start runs the shared sequence every daemon main performs before entering
// its own loop: load config, harmonize defaults, validate, configure the
// glitch log, install the crash-log signal handler, and create the pid
// file. dumpers is the daemon's fastlog tag table, passed to fastlog.Init.
// fastLogScratchCapacity sizes the crash log's scratch snapshot; pass 0 to
// use DefaultFastLogScratchCapacity, or the capacity of the widest fastlog
// buffer this daemon will register.
func Start(configPath string, dumpers map[uint16]fastlog.Dumper, fastLogScratchCapacity int) (*Daemon, error) {
	cfg, err := daemonconfig.Load(configPath)
	if err != nil {
		return nil, err
	}
	daemonconfig.Harmonize(cfg)
	if err := daemonconfig.Validate(cfg); err != nil {
		return nil, err
	}

	if dumpers != nil {
		fastlog.Init(dumpers)
	}

	glitchCfg := glitchlog.Config{}
	if cfg.GlitchLog != nil && cfg.GlitchLog.Path != nil {
		glitchCfg.Path = *cfg.GlitchLog.Path
	}
	if cfg.GlitchLog != nil && cfg.GlitchLog.Syslog != nil {
		glitchCfg.Syslog = *cfg.GlitchLog.Syslog
	}
	if err := glitchlog.Configure(glitchCfg); err != nil {
		// Errors during configure_glitch_log degrade to stderr-only
		// logging rather than aborting startup.
		glitchlog.Log("bootstrap: glitch log configure failed, staying on stderr: %v", err)
	}

	if fastLogScratchCapacity <= 0 {
		fastLogScratchCapacity = DefaultFastLogScratchCapacity
	}
	crashCfg := crashlog.Config{
		FastLogScratch: fastlog.NewSnapshot(fastLogScratchCapacity),
	}
	if cfg.CrashLogPath != nil {
		crashCfg.Path = *cfg.CrashLogPath
	}
	handler, err := crashlog.Install(crashCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: installing crash log: %w", err)
	}

	pidPath := ""
	if cfg.PidFile != nil {
		pidPath = *cfg.PidFile
	}
	deletePid, err := CreatePidFile(pidPath)
	if err != nil {
		_ = handler.Reset()
		return nil, err
	}

	return &Daemon{
		Config:        cfg,
		CrashHandler:  handler,
		deletePidFile: deletePid,
	}, nil
}

// Shutdown reverses Start: removes the pid file, resets the crash-log signal
// handler, and closes the glitch log. It is safe to call once per Daemon.
func (d *Daemon) Shutdown() error {
	if d.deletePidFile != nil {
		d.deletePidFile()
	}
	if d.CrashHandler != nil {
		if err := d.CrashHandler.Reset(); err != nil {
			return err
		}
	}
	return glitchlog.Close()
}
