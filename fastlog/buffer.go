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
	"sync/atomic"
)

// PayloadSize is the fixed payload capacity of every entry. It is a compile-time
// constant so that Log is always a single bounded copy.
const PayloadSize = 126

// Entry is one fixed-size, type-tagged record. Tag 0 is never emitted by Log;
// it marks slots a buffer has not yet written to.
type Entry struct {
	Tag     uint16
	Payload [PayloadSize]byte
}

// Buffer is a named, fixed-capacity ring of Entry values. It has exactly one
// producer: Log is not safe to call concurrently from two goroutines on the
// same Buffer, matching the "each producer owns its buffer" contract. Readers
// (Dump, DumpAll) only ever touch a Buffer through an atomically-read snapshot.
type Buffer struct {
	name     string
	entries  []Entry
	mask     uint64
	written  uint64 // atomic: total Log calls ever made
	slot     int32  // registry slot index, -1 when unregistered
}

// Create allocates a zeroed ring of capacity 1<<capacityLog2 entries under the
// given name. capacityLog2 is clamped to [1,20] so that capacity always stays
// a power of two between 2 and ~1M entries.
func Create(name string, capacityLog2 uint) *Buffer {
	if capacityLog2 < 1 {
		capacityLog2 = 1
	}
	if capacityLog2 > 20 {
		capacityLog2 = 20
	}
	n := uint64(1) << capacityLog2
	return &Buffer{
		name:    name,
		entries: make([]Entry, n),
		mask:    n - 1,
		slot:    -1,
	}
}

// Name returns the buffer's registered name.
func (b *Buffer) Name() string {
	return b.name
}

// Len returns the buffer's fixed capacity in entries.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Log copies tag and payload into the current ring slot and advances the
// write offset modulo capacity. It performs exactly one bounded array copy,
// never allocates, and never blocks: it is safe to call from a signal-adjacent
// path. payload longer than PayloadSize is truncated; the caller owns framing
// its own payload layout within PayloadSize bytes.
func (b *Buffer) Log(tag uint16, payload []byte) {
	w := atomic.LoadUint64(&b.written)
	idx := w & b.mask

	e := &b.entries[idx]
	e.Tag = tag
	e.Payload = [PayloadSize]byte{}
	copy(e.Payload[:], payload)

	atomic.StoreUint64(&b.written, w+1)
}

// Snapshot is scratch memory pre-sized for a Buffer capacity, reused across
// Dump calls so that the signal-safe path never allocates. One Snapshot can
// dump any Buffer whose capacity is at most its own; DumpAll uses the single
// Snapshot passed to it for every registered buffer.
type Snapshot struct {
	name    string
	entries []Entry
	written uint64
}

// NewSnapshot preallocates scratch memory for a buffer of the given capacity.
func NewSnapshot(capacity int) *Snapshot {
	return &Snapshot{entries: make([]Entry, capacity)}
}

// copyInto takes an allocation-free point-in-time copy of b into s. s must
// have been created with a capacity >= b.Len().
func (b *Buffer) copyInto(s *Snapshot) {
	s.name = b.name
	s.written = atomic.LoadUint64(&b.written)
	n := copy(s.entries, b.entries)
	for i := n; i < len(s.entries); i++ {
		s.entries[i] = Entry{}
	}
}
