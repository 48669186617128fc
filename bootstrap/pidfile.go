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
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrPidFileAlreadyCreated is returned by CreatePidFile if called a second
// time within the same process: a single daemon main creates exactly one
// pid file.
var ErrPidFileAlreadyCreated = errors.New("bootstrap: create_pid_file was called twice")

var (
	pidFileMu   sync.Mutex
	pidFilePath string
)

// CreatePidFile writes the current process's decimal pid followed by a
// newline to path, and returns a cleanup function that unlinks it. If path
// is empty, CreatePidFile is a no-op and the returned cleanup does nothing.
func CreatePidFile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}

	pidFileMu.Lock()
	defer pidFileMu.Unlock()

	if pidFilePath != "" {
		return nil, ErrPidFileAlreadyCreated
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: failed to open pid file %q: %w", path, err)
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if werr != nil {
		return nil, fmt.Errorf("bootstrap: failed to write pid file %q: %w", path, werr)
	}
	if cerr != nil {
		return nil, cerr
	}

	pidFilePath = path
	return deletePidFile, nil
}

func deletePidFile() {
	pidFileMu.Lock()
	p := pidFilePath
	pidFilePath = ""
	pidFileMu.Unlock()

	if p != "" {
		_ = os.Remove(p)
	}
}
