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

package workerpool_test

import (
	"errors"
	"sync/atomic"

	"github.com/nabbar/distribfs/workerpool"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("workerpool", func() {
	var pool *workerpool.Pool

	BeforeEach(func() {
		pool = workerpool.New(64)
	})

	It("delivers messages to the handler in FIFO order", func() {
		var (
			got []int
			ch  = make(chan int, 1)
		)

		w, err := pool.Start("fifo", func(msg *workerpool.Message, ctx interface{}) error {
			ch <- msg.Body.(int)
			return nil
		}, nil, nil)
		Expect(err).ToNot(HaveOccurred())

		for i := 0; i < 10; i++ {
			Expect(w.Send(&workerpool.Message{Type: 1, Body: i})).To(Succeed())
		}
		for i := 0; i < 10; i++ {
			got = append(got, <-ch)
		}
		Expect(w.Stop()).To(Succeed())
		Expect(w.Join()).To(Equal(0))

		Expect(got).To(Equal([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}))
	})

	It("sums payloads across 20 workers to 900 (S4)", func() {
		var total int64

		workers := make([]*workerpool.Worker, 20)
		for i := range workers {
			w, err := pool.Start("summer", func(msg *workerpool.Message, ctx interface{}) error {
				atomic.AddInt64(&total, int64(msg.Body.(int)))
				return nil
			}, nil, nil)
			Expect(err).ToNot(HaveOccurred())
			workers[i] = w
		}

		for _, w := range workers {
			for n := 0; n < 10; n++ {
				Expect(w.Send(&workerpool.Message{Type: 1, Body: n})).To(Succeed())
			}
		}
		for _, w := range workers {
			Expect(w.Stop()).To(Succeed())
			Expect(w.Join()).To(Equal(0))
		}

		Expect(atomic.LoadInt64(&total)).To(Equal(int64(900)))
	})

	It("terminates on handler error and fails subsequent sends", func() {
		shutdownCalls := int32(0)

		w, err := pool.Start("erroring", func(msg *workerpool.Message, ctx interface{}) error {
			n := msg.Body.(int)
			if n == 3 {
				return errors.New("boom")
			}
			return nil
		}, func(ctx interface{}) {
			atomic.AddInt32(&shutdownCalls, 1)
		}, nil)
		Expect(err).ToNot(HaveOccurred())

		for n := 0; n < 10; n++ {
			_ = w.Send(&workerpool.Message{Type: 1, Body: n})
		}

		Expect(w.Join()).To(Equal(1))
		Expect(w.Send(&workerpool.Message{Type: 1, Body: 99})).To(Equal(workerpool.ErrNotRunning))
		Expect(atomic.LoadInt32(&shutdownCalls)).To(Equal(int32(1)))
	})

	It("returns ErrPoolFull once every slot is taken", func() {
		small := workerpool.New(1)
		_, err := small.Start("only", func(msg *workerpool.Message, ctx interface{}) error { return nil }, nil, nil)
		Expect(err).ToNot(HaveOccurred())

		_, err = small.Start("second", func(msg *workerpool.Message, ctx interface{}) error { return nil }, nil, nil)
		Expect(err).To(Equal(workerpool.ErrPoolFull))
	})

	It("reuses a joined slot for a new worker", func() {
		small := workerpool.New(1)
		w1, err := small.Start("first", func(msg *workerpool.Message, ctx interface{}) error { return nil }, nil, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(w1.Stop()).To(Succeed())
		Expect(w1.Join()).To(Equal(0))

		w2, err := small.Start("second", func(msg *workerpool.Message, ctx interface{}) error { return nil }, nil, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(w2.Stop()).To(Succeed())
		Expect(w2.Join()).To(Equal(0))
	})
})
