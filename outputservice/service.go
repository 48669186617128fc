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

package outputservice

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nabbar/distribfs/glitchlog"
	"github.com/nabbar/distribfs/internal/safeio"
	"github.com/nabbar/distribfs/internal/selfpipe"
)

const (
	fullUpdate    = "full_update"
	partialUpdate = "partial_update"
)

// ConnState is an observer slot's lifecycle state.
type ConnState int

const (
	Disconnected ConnState = iota
	New
	Established
)

type connSlot struct {
	fd    int
	state ConnState
}

// Service serves up to len(conns) observers over a UNIX-domain socket.
type Service struct {
	path     string
	listenFD int
	pipe     *selfpipe.Pipe

	conns []connSlot // touched only by run(), single-owner-thread discipline

	startOnce sync.Once
	done      chan struct{}
}

// New binds a UNIX-domain listening socket at path, deleting a stale socket
// file and retrying once on EADDRINUSE, and allocates maxObservers connection
// slots.
func New(path string, maxObservers int) (*Service, error) {
	fd, err := bindUnix(path)
	if err != nil {
		return nil, err
	}

	pipe, err := selfpipe.New()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Service{
		path:     path,
		listenFD: fd,
		pipe:     pipe,
		conns:    make([]connSlot, maxObservers),
		done:     make(chan struct{}),
	}, nil
}

func bindUnix(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}

	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		if err == unix.EADDRINUSE {
			_ = unix.Unlink(path)
			err = unix.Bind(fd, sa)
		}
		if err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
	}

	if err := unix.Listen(fd, 16); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Start spawns the service's single dedicated poll-loop goroutine.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Kick asks the poll loop to broadcast a state-change notification to every
// connected observer. It is safe to call from any goroutine.
func (s *Service) Kick() error {
	return s.pipe.Kick()
}

// Shutdown asks the poll loop to terminate and blocks until it has closed
// every slot and the listen socket.
func (s *Service) Shutdown() error {
	if err := s.pipe.Shutdown(); err != nil {
		return err
	}
	<-s.done
	return nil
}

func (s *Service) hasFreeSlot() bool {
	for i := range s.conns {
		if s.conns[i].state == Disconnected {
			return true
		}
	}
	return false
}

func (s *Service) run() {
	defer s.teardown()

	for {
		listenEvents := int16(0)
		if s.hasFreeSlot() {
			listenEvents = unix.POLLIN
		}

		fds := []unix.PollFd{
			{Fd: int32(s.pipe.ReadFD()), Events: unix.POLLIN},
			{Fd: int32(s.listenFD), Events: listenEvents},
		}

		_, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			glitchlog.Log("outputservice: poll error: %v", err)
			continue
		}

		if fds[0].Revents&unix.POLLIN != 0 {
			ev, err := s.pipe.Drain()
			if err != nil {
				glitchlog.Log("outputservice: self-pipe drain error: %v", err)
				continue
			}
			if ev == selfpipe.EventShutdown {
				return
			}
			s.broadcast()
		}

		if fds[1].Revents&unix.POLLIN != 0 {
			s.acceptOne()
		}
	}
}

func (s *Service) acceptOne() {
	connFD, _, err := unix.Accept(s.listenFD)
	if err != nil {
		glitchlog.Log("outputservice: accept error: %v", err)
		return
	}

	for i := range s.conns {
		if s.conns[i].state == Disconnected {
			s.conns[i] = connSlot{fd: connFD, state: New}
			return
		}
	}

	// No free slot: backpressure should have kept the listen socket out of
	// the poll set, but guard against a race anyway.
	_ = unix.Close(connFD)
}

func (s *Service) broadcast() {
	for i := range s.conns {
		var msg string
		switch s.conns[i].state {
		case New:
			msg = fullUpdate
			s.conns[i].state = Established
		case Established:
			msg = partialUpdate
		default:
			continue
		}

		if err := safeio.WriteFull(s.conns[i].fd, []byte(msg)); err != nil {
			_ = unix.Close(s.conns[i].fd)
			s.conns[i] = connSlot{}
		}
	}
}

func (s *Service) teardown() {
	for i := range s.conns {
		if s.conns[i].state != Disconnected {
			_ = unix.Close(s.conns[i].fd)
			s.conns[i] = connSlot{}
		}
	}
	_ = unix.Close(s.listenFD)
	_ = os.Remove(s.path)
	close(s.done)
}
