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

// Package safeio provides retrying, signal-safe byte-count primitives over raw
// file descriptors. Every helper here is built exclusively from golang.org/x/sys/unix
// syscalls: no allocation beyond the caller-supplied buffer, no locking, no buffered
// I/O, so that the fatal-signal path in package crashlog can call them directly.
package safeio

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrShortRead is returned by ReadFull when fewer than len(buf) bytes could be
// read before EOF.
var ErrShortRead = errors.New("safeio: short read")

// WriteFull writes every byte of buf to fd, restarting on EINTR and resuming
// after a partial write. It returns nil only once len(buf) bytes have been
// written, or the first hard error otherwise.
func WriteFull(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// PWriteFull is the positional variant of WriteFull: it writes buf starting at
// off without disturbing the descriptor's current offset.
func PWriteFull(fd int, buf []byte, off int64) error {
	for len(buf) > 0 {
		n, err := unix.Pwrite(fd, buf, off)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

// ReadSome issues a single read into buf, restarting only on EINTR. It returns
// the number of bytes actually read, which may be less than len(buf); zero
// means EOF.
func ReadSome(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, err
		}
		return n, nil
	}
}

// ReadFull reads until buf is completely filled or EOF is reached, restarting
// on EINTR. It returns the number of bytes read and ErrShortRead if that count
// is less than len(buf).
func ReadFull(fd int, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := ReadSome(fd, buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total != len(buf) {
		return total, ErrShortRead
	}
	return total, nil
}

// PReadFull is the positional variant of ReadFull.
func PReadFull(fd int, buf []byte, off int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Pread(fd, buf[total:], off+int64(total))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total != len(buf) {
		return total, ErrShortRead
	}
	return total, nil
}
