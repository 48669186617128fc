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
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher re-reads a config file on every fsnotify-reported change, via
// viper's WatchConfig. cmd/monitord uses this against its own config file to
// republish the configured semaphore count in its metrics without needing a
// restart to observe the edit.
type Watcher struct {
	v *viper.Viper
}

// Watch starts watching path and invokes onChange with the freshly decoded
// Config each time the file changes. onChange is called from viper's watcher
// goroutine; callers that touch shared state from it must synchronize.
func Watch(path string, onChange func(*Config, error)) (*Watcher, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			onChange(nil, err)
			return
		}
		onChange(&cfg, nil)
	})
	v.WatchConfig()

	return &Watcher{v: v}, nil
}

// Current decodes the watcher's most recently read configuration.
func (w *Watcher) Current() (*Config, error) {
	var cfg Config
	if err := w.v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
