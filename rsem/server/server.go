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

package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nabbar/distribfs/glitchlog"
	"github.com/nabbar/distribfs/internal/selfpipe"
	"github.com/nabbar/distribfs/rsem/wire"
)

// ErrDuplicateName is returned by New when the configured semaphore list
// names the same semaphore twice.
var ErrDuplicateName = errors.New("server: duplicate semaphore name")

// SemConfig describes one semaphore's startup state.
type SemConfig struct {
	Name    string
	InitVal int
}

// Config configures a Server.
type Config struct {
	ListenAddr  string // host:port
	Semaphores  []SemConfig
	DialTimeout time.Duration // callback dial timeout; defaults to 2s
}

type waiter struct {
	addr string
	port int
}

type semaphore struct {
	name    string
	value   int
	waiters []waiter
}

// Server is the remote-semaphore coordinator. A single goroutine (run) owns
// every field below except listenFD/pipe/done, which are safe to touch from
// other goroutines by construction (pipe writes, a single close).
type Server struct {
	listenFD int
	listenOn string
	pipe     *selfpipe.Pipe
	table    map[string]*semaphore
	timeout  time.Duration

	startOnce sync.Once
	done      chan struct{}
}

// Addr returns the address the server is actually listening on, useful when
// Config.ListenAddr requested an ephemeral port (":0").
func (s *Server) Addr() string {
	return s.listenOn
}

// New builds the semaphore table from cfg and binds the listen socket. The
// table is never resized after this call: no semaphore name can be added or
// removed for the lifetime of the Server.
func New(cfg Config) (*Server, error) {
	table := make(map[string]*semaphore, len(cfg.Semaphores)*2)
	for _, sc := range cfg.Semaphores {
		if _, exists := table[sc.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, sc.Name)
		}
		table[sc.Name] = &semaphore{name: sc.Name, value: sc.InitVal}
	}

	fd, err := bindTCP(cfg.ListenAddr)
	if err != nil {
		return nil, err
	}

	listenOn := cfg.ListenAddr
	if sa, err := unix.Getsockname(fd); err == nil {
		if in4, ok := sa.(*unix.SockaddrInet4); ok {
			listenOn = fmt.Sprintf("%s:%d", net.IP(in4.Addr[:]).String(), in4.Port)
		}
	}

	pipe, err := selfpipe.New()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &Server{
		listenFD: fd,
		listenOn: listenOn,
		pipe:     pipe,
		table:    table,
		timeout:  timeout,
		done:     make(chan struct{}),
	}, nil
}

func bindTCP(addr string) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	var sa unix.SockaddrInet4
	sa.Port = tcpAddr.Port
	if tcpAddr.IP != nil {
		copy(sa.Addr[:], tcpAddr.IP.To4())
	}

	if err := unix.Bind(fd, &sa); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 16); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Start spawns the server's single dedicated poll-loop goroutine.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Shutdown asks the poll loop to terminate and blocks until every resource is
// released.
func (s *Server) Shutdown() error {
	if err := s.pipe.Shutdown(); err != nil {
		return err
	}
	<-s.done
	return nil
}

func (s *Server) run() {
	defer s.teardown()

	for {
		fds := []unix.PollFd{
			{Fd: int32(s.pipe.ReadFD()), Events: unix.POLLIN},
			{Fd: int32(s.listenFD), Events: unix.POLLIN},
		}

		_, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			glitchlog.Log("rsem/server: poll error: %v", err)
			continue
		}

		if fds[0].Revents&unix.POLLIN != 0 {
			ev, err := s.pipe.Drain()
			if err != nil {
				glitchlog.Log("rsem/server: self-pipe drain error: %v", err)
				continue
			}
			if ev == selfpipe.EventShutdown {
				return
			}
		}

		if fds[1].Revents&unix.POLLIN != 0 {
			s.acceptOne()
		}
	}
}

// acceptOne accepts exactly one connection and serves it to completion
// before returning to the poll loop: the service is intentionally simple and
// not built for concurrent request handling.
func (s *Server) acceptOne() {
	connFD, _, err := unix.Accept(s.listenFD)
	if err != nil {
		glitchlog.Log("rsem/server: accept error: %v", err)
		return
	}

	sa, err := unix.Getpeername(connFD)
	peerIP := "127.0.0.1"
	if err == nil {
		if in4, ok := sa.(*unix.SockaddrInet4); ok {
			peerIP = net.IP(in4.Addr[:]).String()
		}
	}

	f := os.NewFile(uintptr(connFD), "rsem-conn")
	defer f.Close()

	s.handle(f, peerIP)
}

func (s *Server) handle(conn *os.File, peerIP string) {
	t, err := wire.ReadType(conn)
	if err != nil {
		return
	}

	switch t {
	case wire.ReqSem:
		s.handleTake(conn, peerIP)
	case wire.RelSem:
		s.handleRelease(conn)
	default:
		glitchlog.Log("rsem/server: protocol violation: unexpected type %s", t)
	}
}

func (s *Server) handleTake(conn *os.File, peerIP string) {
	var body wire.TakeBody
	if err := wire.ReadBody(conn, &body); err != nil {
		glitchlog.Log("rsem/server: malformed take body: %v", err)
		return
	}

	sem, ok := s.table[body.Name]
	if !ok {
		_ = wire.WriteType(conn, wire.NoSuchSem)
		return
	}

	if sem.value > 0 {
		sem.value--
		_ = wire.WriteType(conn, wire.GiveSem)
		return
	}

	if body.Port == 0 {
		_ = wire.WriteType(conn, wire.Nack)
		return
	}

	sem.waiters = append(sem.waiters, waiter{addr: peerIP, port: body.Port})
	_ = wire.WriteType(conn, wire.DelaySem)
}

func (s *Server) handleRelease(conn *os.File) {
	var body wire.ReleaseBody
	if err := wire.ReadBody(conn, &body); err != nil {
		glitchlog.Log("rsem/server: malformed release body: %v", err)
		return
	}

	sem, ok := s.table[body.Name]
	if !ok {
		_ = wire.WriteType(conn, wire.NoSuchSem)
		return
	}

	_ = wire.WriteType(conn, wire.ServerAck)
	sem.value++
	s.wake(sem)
}

// wake attempts to hand the unit of value just released to the head waiter,
// skipping (but not yet dequeueing) any waiter whose callback socket is
// unreachable, and trying the next. The first successful callback dequeues
// that one waiter, which takes the released unit (value is decremented
// again); if every
// waiter is unreachable the queue and value are left exactly as they were
// after the increment, to be retried on the next release.
func (s *Server) wake(sem *semaphore) {
	for i, w := range sem.waiters {
		if s.dialGrant(w, sem.name) {
			sem.waiters = append(sem.waiters[:i:i], sem.waiters[i+1:]...)
			sem.value--
			return
		}
	}
}

func (s *Server) dialGrant(w waiter, name string) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", w.addr, w.port), s.timeout)
	if err != nil {
		return false
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(s.timeout))

	if err := wire.WriteMessage(conn, wire.GiveSem, wire.GrantBody{Name: name}); err != nil {
		return false
	}

	resp, err := wire.ReadType(conn)
	if err != nil {
		return false
	}
	return resp == wire.ClientAck
}

func (s *Server) teardown() {
	_ = unix.Close(s.listenFD)
	_ = s.pipe.Close()
	close(s.done)
}
