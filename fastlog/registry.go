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

package fastlog

import (
	"errors"
	"runtime"
	"sync/atomic"
)

// registryCapacity bounds how many buffers may be registered process-wide at
// once (capacity M from the data model).
const registryCapacity = 256

// ErrRegistryFull is returned by Register when all registry slots are taken.
var ErrRegistryFull = errors.New("fastlog: registry full")

// ErrAlreadyRegistered is returned by Register when the buffer is already
// present in the registry.
var ErrAlreadyRegistered = errors.New("fastlog: buffer already registered")

// spinLock is a tiny busy-wait mutex built from a single atomic word. It never
// calls into the scheduler's blocking primitives, so it is safe to take from
// the allocation-free dump path; critical sections guarded by it are kept to
// a handful of pointer assignments.
type spinLock struct {
	state int32
}

func (s *spinLock) Lock() {
	for !atomic.CompareAndSwapInt32(&s.state, 0, 1) {
		runtime.Gosched()
	}
}

func (s *spinLock) Unlock() {
	atomic.StoreInt32(&s.state, 0)
}

var (
	registryLock  spinLock
	registry      [registryCapacity]*Buffer
	dumperTable   map[uint16]Dumper
)

// Dumper renders one entry's payload for the given type tag to fd, returning
// the number of bytes written. The dumper table is immutable once installed
// by Init.
type Dumper func(tag uint16, payload []byte, fd int) (int, error)

// Init installs the process-wide dumper table and clears the buffer registry.
// Call it once, before any daemon component starts logging. It is not safe to
// call concurrently with Register/Unregister/DumpAll.
func Init(dumpers map[uint16]Dumper) {
	dumperTable = dumpers

	registryLock.Lock()
	for i := range registry {
		registry[i] = nil
	}
	registryLock.Unlock()
}

// Register inserts b into the global registry so DumpAll will include it.
// It fails with ErrRegistryFull once all registryCapacity slots are taken.
func (b *Buffer) Register() error {
	registryLock.Lock()
	defer registryLock.Unlock()

	if b.slot >= 0 {
		return ErrAlreadyRegistered
	}

	for i := range registry {
		if registry[i] == nil {
			registry[i] = b
			b.slot = int32(i)
			return nil
		}
	}
	return ErrRegistryFull
}

// Unregister removes b from the global registry. It is a no-op if b was never
// registered. Callers must Unregister before discarding a Buffer's last
// reference so the registry does not keep it alive forever.
func (b *Buffer) Unregister() {
	registryLock.Lock()
	defer registryLock.Unlock()

	if b.slot < 0 {
		return
	}
	if registry[b.slot] == b {
		registry[b.slot] = nil
	}
	b.slot = -1
}

// snapshotRegistryInto copies the live registry pointers into out, which must
// have length registryCapacity. It holds the spin lock only long enough to
// copy pointers, never while dumping, and performs no allocation so DumpAll
// can call it from the allocation-free dump path.
func snapshotRegistryInto(out *[registryCapacity]*Buffer) {
	registryLock.Lock()
	*out = registry
	registryLock.Unlock()
}
