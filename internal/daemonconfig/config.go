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

package daemonconfig

import (
	"errors"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// ErrMissingBaseDir is returned by Validate when base_dir is unset or does
// not exist on disk: a required field per spec §7's "Configuration" error
// kind.
var ErrMissingBaseDir = errors.New("daemonconfig: base_dir is required and must exist")

// SemaphoreConfig is one entry of rsemd's configured semaphore table.
type SemaphoreConfig struct {
	Name    string `mapstructure:"name"`
	InitVal int    `mapstructure:"init_val"`
}

// FastLogConfig configures one daemon's fast-log ring buffers.
type FastLogConfig struct {
	// CapacityLog2 is log2 of each buffer's entry count. Nil means "use the
	// package default" rather than a sentinel integer.
	CapacityLog2 *uint `mapstructure:"capacity_log2"`
}

// Config is the JSON configuration shared by every daemon main. Fields a
// given daemon does not use are simply left nil/empty in that daemon's
// config file; absence, not a sentinel value, is how "unset" is represented.
type Config struct {
	BaseDir      string         `mapstructure:"base_dir"`
	CrashLogPath *string        `mapstructure:"crash_log_path"`
	GlitchLog    *GlitchLog     `mapstructure:"glitch_log"`
	FastLog      *FastLogConfig `mapstructure:"fast_log"`
	PidFile      *string        `mapstructure:"pid_file"`

	// Listen is the output service's UNIX-domain socket path (metadatad,
	// objectd).
	Listen *string `mapstructure:"listen"`

	// RsemListenAddr is the host:port the rsem server binds (rsemd only).
	RsemListenAddr *string `mapstructure:"rsem_listen_addr"`
	// Semaphores is rsemd's startup semaphore table.
	Semaphores []SemaphoreConfig `mapstructure:"semaphores"`
	// ClientPortStart/End bound the rsem client's callback port pool.
	ClientPortStart *int `mapstructure:"client_port_start"`
	ClientPortEnd   *int `mapstructure:"client_port_end"`

	// MonitorListenAddr is the address cmd/monitord serves /metrics on.
	MonitorListenAddr *string `mapstructure:"monitor_listen_addr"`
}

// GlitchLog configures the glitch-log destination.
type GlitchLog struct {
	Path   *string `mapstructure:"path"`
	Syslog *bool   `mapstructure:"syslog"`
}

// Load reads and decodes the JSON config file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("daemonconfig: reading %s: %w", path, err)
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("daemonconfig: decoding %s: %w", path, err)
	}

	return &cfg, nil
}

// Harmonize fills in defaults for every optional field Load left nil,
// mirroring the source's harmonize_log_config pass: load, then harmonize,
// then use.
func Harmonize(cfg *Config) {
	if cfg.FastLog == nil {
		cfg.FastLog = &FastLogConfig{}
	}
	if cfg.GlitchLog == nil {
		cfg.GlitchLog = &GlitchLog{}
	}
	if cfg.GlitchLog.Syslog == nil {
		b := false
		cfg.GlitchLog.Syslog = &b
	}
	if cfg.ClientPortStart == nil {
		p := 30000
		cfg.ClientPortStart = &p
	}
	if cfg.ClientPortEnd == nil {
		p := 30999
		cfg.ClientPortEnd = &p
	}
}

// Validate rejects a configuration that cannot be used to start a daemon.
// Failures here are the "Configuration" error kind from spec §7: fatal at
// startup, printed to stderr by the caller, process exits nonzero.
func Validate(cfg *Config) error {
	if cfg.BaseDir == "" {
		return ErrMissingBaseDir
	}
	if st, err := os.Stat(cfg.BaseDir); err != nil || !st.IsDir() {
		return ErrMissingBaseDir
	}
	if cfg.ClientPortStart != nil && cfg.ClientPortEnd != nil {
		if *cfg.ClientPortStart > *cfg.ClientPortEnd {
			return fmt.Errorf("daemonconfig: client_port_start > client_port_end")
		}
	}
	return nil
}
