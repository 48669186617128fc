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

// Package selfpipe implements the classic self-pipe trick: a byte channel a
// poll loop can include in its fd set so another goroutine can wake it up.
// It carries exactly one discriminating byte per wakeup: Shutdown or Kick.
package selfpipe

import (
	"os"

	"github.com/nabbar/distribfs/internal/safeio"
)

// Event is the single byte written down a Pipe to tell the poll loop why it
// was woken.
type Event byte

const (
	// EventShutdown asks the poll loop to terminate.
	EventShutdown Event = 0
	// EventKick asks the poll loop to re-evaluate application state (e.g.
	// broadcast to observers, or re-check a semaphore wake condition).
	EventKick Event = 1
)

// Pipe is a self-pipe: a pair of file descriptors, one readable and one
// writable, used purely for wakeups. It carries no data beyond Event bytes.
type Pipe struct {
	r *os.File
	w *os.File
}

// New creates a fresh self-pipe.
func New() (*Pipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &Pipe{r: r, w: w}, nil
}

// ReadFD returns the read-end descriptor, suitable for inclusion in a poll set.
func (p *Pipe) ReadFD() int {
	return int(p.r.Fd())
}

// Kick writes EventKick to the pipe, waking any poller without terminating it.
func (p *Pipe) Kick() error {
	return safeio.WriteFull(int(p.w.Fd()), []byte{byte(EventKick)})
}

// Shutdown writes EventShutdown to the pipe, telling the poller to exit.
func (p *Pipe) Shutdown() error {
	return safeio.WriteFull(int(p.w.Fd()), []byte{byte(EventShutdown)})
}

// Drain reads and discards every pending byte, returning the last Event seen.
// Poll loops call this once POLLIN fires on the read end, since multiple
// kicks may have been coalesced by the kernel pipe buffer.
func (p *Pipe) Drain() (Event, error) {
	var (
		last = EventKick
		buf  [64]byte
	)
	for {
		n, err := safeio.ReadSome(int(p.r.Fd()), buf[:])
		if err != nil {
			return last, err
		}
		if n == 0 {
			return last, nil
		}
		last = Event(buf[n-1])
		if n < len(buf) {
			return last, nil
		}
	}
}

// Close releases both ends of the pipe.
func (p *Pipe) Close() error {
	errR := p.r.Close()
	errW := p.w.Close()
	if errR != nil {
		return errR
	}
	return errW
}
