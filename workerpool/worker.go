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

package workerpool

import "sync"

// State is a worker's lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateStopped
	StateStoppedError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateStoppedError:
		return "stopped-error"
	default:
		return "uninitialized"
	}
}

// ShutdownMsgType is the reserved message type a worker treats as a request
// to terminate cleanly.
const ShutdownMsgType uint32 = 0

// Message is one mailbox entry: a type discriminator plus a handler-defined
// body.
type Message struct {
	Type uint32
	Body interface{}
}

// Handler processes one non-SHUTDOWN message. A nonzero error return
// terminates the worker in StateStoppedError and fails every subsequent Send.
type Handler func(msg *Message, ctx interface{}) error

// ShutdownFunc runs exactly once, after a worker's goroutine has fully
// drained and stopped, whether it stopped cleanly or on handler error.
type ShutdownFunc func(ctx interface{})

// worker is one pool slot. While state != StateRunning the mailbox is always
// empty, matching the data-model invariant.
type worker struct {
	slot int

	mu   sync.Mutex
	cond *sync.Cond

	name       string
	queue      []*Message
	state      State
	handler    Handler
	shutdownCB ShutdownFunc
	ctx        interface{}
	done       chan struct{}
	err        error

	next int32 // freelist link; meaningful only while idle
}

func (w *worker) reset() {
	w.name = ""
	w.queue = nil
	w.handler = nil
	w.shutdownCB = nil
	w.ctx = nil
	w.done = nil
	w.err = nil
	w.state = StateUninitialized
}

// run is the worker's goroutine body: dequeue, dispatch, repeat, until a
// SHUTDOWN message arrives or the handler reports an error.
func (w *worker) run() {
	for {
		w.mu.Lock()
		for len(w.queue) == 0 {
			w.cond.Wait()
		}
		msg := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if msg.Type == ShutdownMsgType {
			break
		}

		if err := w.handler(msg, w.ctx); err != nil {
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
			break
		}
	}

	w.mu.Lock()
	if w.err != nil {
		w.state = StateStoppedError
	} else {
		w.state = StateStopped
	}
	w.queue = nil
	cb := w.shutdownCB
	ctx := w.ctx
	done := w.done
	w.mu.Unlock()

	if cb != nil {
		cb(ctx)
	}
	close(done)
}

// Worker is the handle returned by Pool.Start. It is the only way callers
// interact with a running slot.
type Worker struct {
	pool *Pool
	w    *worker
}

// Name returns the name Start was called with.
func (h *Worker) Name() string {
	h.w.mu.Lock()
	defer h.w.mu.Unlock()
	return h.w.name
}

// State returns the worker's current lifecycle state.
func (h *Worker) State() State {
	h.w.mu.Lock()
	defer h.w.mu.Unlock()
	return h.w.state
}

// Send appends msg to the worker's mailbox and wakes it. It fails with
// ErrNotRunning if the worker is not currently running; the message is then
// the caller's to dispose of.
func (h *Worker) Send(msg *Message) error {
	h.w.mu.Lock()
	defer h.w.mu.Unlock()

	if h.w.state != StateRunning {
		return ErrNotRunning
	}
	h.w.queue = append(h.w.queue, msg)
	h.w.cond.Signal()
	return nil
}

// SendOrFree behaves exactly like Send, except a failed send never leaves the
// message referenced: in Go, "freeing" a rejected message is simply not
// holding on to it, which is what happens here either way. The method exists
// so callers ported from the mailbox-ownership contract never need a
// different error-handling shape for the two cases.
func (h *Worker) SendOrFree(msg *Message) error {
	return h.Send(msg)
}

// Stop enqueues a SHUTDOWN message, asking the worker to terminate after
// whatever is already queued ahead of it.
func (h *Worker) Stop() error {
	return h.Send(&Message{Type: ShutdownMsgType})
}

// Join blocks until the worker's goroutine has exited, then returns the slot
// to the pool's freelist. It returns 0 if the worker stopped cleanly, 1 if it
// stopped because the handler returned an error.
func (h *Worker) Join() int {
	<-h.w.done

	h.w.mu.Lock()
	errored := h.w.state == StateStoppedError
	h.w.mu.Unlock()

	h.pool.release(h.w)

	if errored {
		return 1
	}
	return 0
}
