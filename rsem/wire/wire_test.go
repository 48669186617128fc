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

package wire_test

import (
	"bytes"

	"github.com/nabbar/distribfs/rsem/wire"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("wire", func() {
	It("round-trips a bare type code", func() {
		var buf bytes.Buffer
		Expect(wire.WriteType(&buf, wire.GiveSem)).To(Succeed())

		got, err := wire.ReadType(&buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal(wire.GiveSem))
	})

	It("round-trips a type code plus JSON body", func() {
		var buf bytes.Buffer
		Expect(wire.WriteMessage(&buf, wire.ReqSem, wire.TakeBody{Name: "foo", Port: 4242})).To(Succeed())

		got, err := wire.ReadType(&buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal(wire.ReqSem))

		var body wire.TakeBody
		Expect(wire.ReadBody(&buf, &body)).To(Succeed())
		Expect(body).To(Equal(wire.TakeBody{Name: "foo", Port: 4242}))
	})

	It("rejects a length prefix beyond the maximum body size", func() {
		var buf bytes.Buffer
		buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

		var body wire.ReleaseBody
		err := wire.ReadBody(&buf, &body)
		Expect(err).To(Equal(wire.ErrBodyTooLarge))
	})

	It("stringifies known type codes", func() {
		Expect(wire.DelaySem.String()).To(Equal("DELAY_SEM"))
	})
})
