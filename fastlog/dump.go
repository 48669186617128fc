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

	"github.com/nabbar/distribfs/internal/safeio"
)

// ErrScratchSize is returned by Dump when the supplied Snapshot's capacity
// is smaller than the Buffer's, since growing scratch memory would require an
// allocation the dump path cannot perform.
var ErrScratchSize = errors.New("fastlog: scratch snapshot size mismatch")

var header = []byte("*** FASTLOG ")
var newline = []byte("\n")

// Dump takes a point-in-time snapshot of b into scratch, then emits a header
// line followed by every valid entry in chronological order (oldest first),
// wrapping exactly once through the ring. It calls only Dumper functions from
// the table installed by Init, safeio.WriteFull, and bounded array copies: no
// allocation, no blocking lock. Dumper errors for one entry are reported but
// do not stop iteration over the remaining entries.
func (b *Buffer) Dump(scratch *Snapshot, fd int) error {
	if len(scratch.entries) < len(b.entries) {
		return ErrScratchSize
	}
	// Narrow the scratch view to b's capacity for this dump only, so the ring
	// arithmetic in dumpSnapshot uses b's length; no allocation is involved.
	full := scratch.entries
	scratch.entries = full[:len(b.entries)]
	b.copyInto(scratch)
	err := dumpSnapshot(scratch, fd)
	scratch.entries = full
	return err
}

func dumpSnapshot(s *Snapshot, fd int) error {
	n := uint64(len(s.entries))
	if n == 0 {
		return nil
	}

	if err := safeio.WriteFull(fd, header); err != nil {
		return err
	}
	if err := safeio.WriteFull(fd, []byte(s.name)); err != nil {
		return err
	}
	if err := safeio.WriteFull(fd, newline); err != nil {
		return err
	}

	count := s.written
	if count > n {
		count = n
	}
	start := (s.written - count) % n

	var firstErr error
	for i := uint64(0); i < count; i++ {
		idx := (start + i) % n
		e := &s.entries[idx]

		fn, ok := dumperTable[e.Tag]
		if !ok {
			continue
		}
		if _, err := fn(e.Tag, e.Payload[:], fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DumpAll iterates every registered buffer and dumps it to fd using scratch,
// which must be sized for the largest capacity among registered buffers (use
// 1<<capacityLog2 of the widest Create call when sizing it). Buffers whose
// capacity exceeds scratch are skipped with ErrScratchSize folded into
// the returned error rather than aborting the whole pass, matching the "log +
// continue" failure semantics from the rest of the subsystem.
func DumpAll(scratch *Snapshot, fd int) error {
	var live [registryCapacity]*Buffer
	snapshotRegistryInto(&live)

	var firstErr error
	for _, b := range live {
		if b == nil {
			continue
		}
		if err := b.Dump(scratch, fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
