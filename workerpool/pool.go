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

import (
	"errors"
	"sync"
)

// DefaultCapacity is the fixed slot count from the data model (e.g. 8192
// mailbox slots).
const DefaultCapacity = 8192

// ErrPoolFull is returned by Start when every slot is in use.
var ErrPoolFull = errors.New("workerpool: pool full")

// ErrNotRunning is returned by Send/SendOrFree when the target worker is not
// in the running state.
var ErrNotRunning = errors.New("workerpool: worker not running")

// Pool is a fixed-capacity collection of worker slots with an intrusive
// freelist. The zero value is not usable; call New.
type Pool struct {
	mu       sync.Mutex
	slots    []*worker
	freeHead int32 // index of first free slot, -1 if none
}

// New creates a pool with capacity slots, all initially free.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pool{
		slots: make([]*worker, capacity),
	}
	for i := range p.slots {
		w := &worker{slot: i, state: StateUninitialized}
		w.cond = sync.NewCond(&w.mu)
		if i+1 < capacity {
			w.next = int32(i + 1)
		} else {
			w.next = -1
		}
		p.slots[i] = w
	}
	p.freeHead = 0
	if capacity == 0 {
		p.freeHead = -1
	}
	return p
}

// acquire detaches the head slot from the freelist, or returns nil if the
// pool is full.
func (p *Pool) acquire() *worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.freeHead < 0 {
		return nil
	}
	w := p.slots[p.freeHead]
	p.freeHead = w.next
	w.next = -1
	return w
}

// release returns a stopped slot to the head of the freelist, resetting it
// for reuse.
func (p *Pool) release(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.reset()
	w.next = p.freeHead
	p.freeHead = int32(w.slot)
}

// Start detaches a free slot, wires up handler/shutdownCB/ctx, and spawns its
// goroutine. It returns ErrPoolFull if every slot is currently in use.
func (p *Pool) Start(name string, handler Handler, shutdownCB ShutdownFunc, ctx interface{}) (*Worker, error) {
	w := p.acquire()
	if w == nil {
		return nil, ErrPoolFull
	}

	w.mu.Lock()
	w.name = name
	w.handler = handler
	w.shutdownCB = shutdownCB
	w.ctx = ctx
	w.state = StateRunning
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run()

	return &Worker{pool: p, w: w}, nil
}

// Len returns the pool's total capacity.
func (p *Pool) Len() int {
	return len(p.slots)
}
