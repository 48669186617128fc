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

package safeio_test

import (
	"os"

	"github.com/nabbar/distribfs/internal/safeio"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("safeio", func() {
	var (
		r, w *os.File
	)

	BeforeEach(func() {
		var err error
		r, w, err = os.Pipe()
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		_ = r.Close()
		_ = w.Close()
	})

	It("writes and reads back the exact byte count", func() {
		payload := []byte("the quick brown fox jumps over the lazy dog")

		done := make(chan error, 1)
		go func() {
			done <- safeio.WriteFull(int(w.Fd()), payload)
		}()

		buf := make([]byte, len(payload))
		n, err := safeio.ReadFull(int(r.Fd()), buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(len(payload)))
		Expect(buf).To(Equal(payload))
		Expect(<-done).ToNot(HaveOccurred())
	})

	It("reports a short read when the writer closes early", func() {
		payload := []byte("short")
		go func() {
			_ = safeio.WriteFull(int(w.Fd()), payload)
			_ = w.Close()
		}()

		buf := make([]byte, len(payload)+10)
		n, err := safeio.ReadFull(int(r.Fd()), buf)
		Expect(err).To(Equal(safeio.ErrShortRead))
		Expect(n).To(Equal(len(payload)))
	})

	It("ReadSome returns 0 at EOF", func() {
		Expect(w.Close()).To(Succeed())

		buf := make([]byte, 8)
		n, err := safeio.ReadSome(int(r.Fd()), buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(0))
	})

	It("positional writes and reads round-trip on a regular file", func() {
		f, err := os.CreateTemp("", "safeio-*.bin")
		Expect(err).ToNot(HaveOccurred())
		defer os.Remove(f.Name())
		defer f.Close()

		payload := []byte("positional payload")
		Expect(safeio.PWriteFull(int(f.Fd()), payload, 16)).To(Succeed())

		buf := make([]byte, len(payload))
		n, err := safeio.PReadFull(int(f.Fd()), buf, 16)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(len(payload)))
		Expect(buf).To(Equal(payload))
	})
})
