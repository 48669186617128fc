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

package client

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/nabbar/distribfs/rsem/wire"
)

// ErrInvalidPortRange is returned by New when cli_port_start > cli_port_end
// or the range exceeds the maximum pool size.
var ErrInvalidPortRange = errors.New("client: invalid callback port range")

// MaxPorts is the largest callback port pool New will accept.
const MaxPorts = 1000

// ErrGrantMismatch is returned by Wait if the server's callback delivers a
// grant for a different semaphore name than the one being waited on; this is
// a protocol violation and the connection is not acknowledged.
var ErrGrantMismatch = errors.New("client: callback grant name mismatch")

// Config configures a Client.
type Config struct {
	ServerAddr   string
	CliPortStart int
	CliPortEnd   int
	DialTimeout  time.Duration // per-attempt dial timeout; defaults to 2s
	ReleaseRetry time.Duration // spacing between post() retries; defaults to 1s

	// Logger receives retry/wait diagnostics. A nil Logger disables
	// logging entirely, letting callers avoid pulling a concrete logging
	// backend into client-only binaries.
	Logger hclog.Logger
}

// Client is a remote-semaphore client: it reserves a callback port from a
// bounded pool for each delayed Wait, and retries Post until the server
// acknowledges it.
type Client struct {
	serverAddr   string
	dialTimeout  time.Duration
	releaseRetry time.Duration
	log          hclog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	ports []int // free stack, descending order per the source behavior
}

// New validates cfg and pre-populates the free callback-port stack in
// descending order.
func New(cfg Config) (*Client, error) {
	if cfg.CliPortStart > cfg.CliPortEnd {
		return nil, ErrInvalidPortRange
	}
	count := cfg.CliPortEnd - cfg.CliPortStart + 1
	if count > MaxPorts {
		return nil, ErrInvalidPortRange
	}

	ports := make([]int, 0, count)
	for p := cfg.CliPortEnd; p >= cfg.CliPortStart; p-- {
		ports = append(ports, p)
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	releaseRetry := cfg.ReleaseRetry
	if releaseRetry <= 0 {
		releaseRetry = time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}

	c := &Client{
		serverAddr:   cfg.ServerAddr,
		dialTimeout:  dialTimeout,
		releaseRetry: releaseRetry,
		log:          log,
		ports:        ports,
	}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

func (c *Client) reservePort() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.ports) == 0 {
		c.cond.Wait()
	}
	n := len(c.ports) - 1
	p := c.ports[n]
	c.ports = c.ports[:n]
	return p
}

func (c *Client) releasePort(p int) {
	c.mu.Lock()
	c.ports = append(c.ports, p)
	c.mu.Unlock()
	c.cond.Signal()
}

// Post releases name, retrying at c.releaseRetry intervals (jittered up to
// 20%) until the server acknowledges the release. This supplements the core
// take/release exchange with the retry-until-ack behavior testable property
// 9 requires: a momentarily unreachable server does not fail the release, it
// delays it.
func (c *Client) Post(name string) error {
	for {
		ok, err := c.tryPost(name)
		if err == nil && ok {
			return nil
		}
		c.log.Debug("post retry", "semaphore", name, "error", err)
		time.Sleep(jitter(c.releaseRetry))
	}
}

func (c *Client) tryPost(name string) (bool, error) {
	conn, err := net.DialTimeout("tcp", c.serverAddr, c.dialTimeout)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.dialTimeout))

	if err := wire.WriteMessage(conn, wire.RelSem, wire.ReleaseBody{Name: name}); err != nil {
		return false, err
	}

	t, err := wire.ReadType(conn)
	if err != nil {
		return false, err
	}
	switch t {
	case wire.ServerAck:
		return true, nil
	case wire.NoSuchSem:
		return false, fmt.Errorf("client: no such semaphore %q", name)
	default:
		return false, nil
	}
}

// Wait takes name, reserving a callback port from the free pool for the
// duration of the call. If the server cannot grant immediately it blocks
// accepting the server's delayed-grant callback; the reserved port is always
// returned to the pool before Wait returns, on every code path.
func (c *Client) Wait(name string) error {
	port := c.reservePort()
	defer c.releasePort(port)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	defer ln.Close()

	conn, err := net.DialTimeout("tcp", c.serverAddr, c.dialTimeout)
	if err != nil {
		return err
	}

	if err := wire.WriteMessage(conn, wire.ReqSem, wire.TakeBody{Name: name, Port: port}); err != nil {
		conn.Close()
		return err
	}

	t, err := wire.ReadType(conn)
	conn.Close()
	if err != nil {
		return err
	}

	switch t {
	case wire.GiveSem:
		return nil
	case wire.NoSuchSem:
		return fmt.Errorf("client: no such semaphore %q", name)
	case wire.Nack:
		return fmt.Errorf("client: take refused for %q", name)
	case wire.DelaySem:
		c.log.Debug("take delayed, awaiting callback", "semaphore", name, "port", port)
		return c.awaitCallback(ln, name)
	default:
		return fmt.Errorf("client: unexpected server reply %s", t)
	}
}

func (c *Client) awaitCallback(ln net.Listener, name string) error {
	conn, err := ln.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()

	t, err := wire.ReadType(conn)
	if err != nil {
		return err
	}
	if t != wire.GiveSem {
		return fmt.Errorf("client: unexpected callback type %s", t)
	}

	var body wire.GrantBody
	if err := wire.ReadBody(conn, &body); err != nil {
		return err
	}
	if body.Name != name {
		return ErrGrantMismatch
	}

	return wire.WriteType(conn, wire.ClientAck)
}

func jitter(base time.Duration) time.Duration {
	delta := time.Duration(rand.Int63n(int64(base) / 5))
	return base + delta
}
