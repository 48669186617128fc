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

package outputservice_test

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/nabbar/distribfs/outputservice"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func dial(path string) net.Conn {
	var (
		conn net.Conn
		err  error
	)
	Eventually(func() error {
		conn, err = net.Dial("unix", path)
		return err
	}, time.Second, 10*time.Millisecond).Should(Succeed())
	return conn
}

func readOne(conn net.Conn) string {
	buf := make([]byte, 64)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	Expect(err).ToNot(HaveOccurred())
	return string(buf[:n])
}

var _ = Describe("outputservice", func() {
	var (
		sockPath string
		svc      *outputservice.Service
	)

	BeforeEach(func() {
		sockPath = filepath.Join(os.TempDir(), fmt.Sprintf("distribfs-out-%d.sock", time.Now().UnixNano()))
	})

	AfterEach(func() {
		if svc != nil {
			Expect(svc.Shutdown()).To(Succeed())
		}
		_ = os.Remove(sockPath)
	})

	It("sends a full_update on first kick and partial_update on subsequent kicks", func() {
		var err error
		svc, err = outputservice.New(sockPath, 2)
		Expect(err).ToNot(HaveOccurred())
		svc.Start()

		conn := dial(sockPath)
		defer conn.Close()

		Expect(svc.Kick()).To(Succeed())
		Expect(readOne(conn)).To(Equal("full_update"))

		Expect(svc.Kick()).To(Succeed())
		Expect(readOne(conn)).To(Equal("partial_update"))
	})

	It("applies backpressure once every observer slot is full", func() {
		var err error
		svc, err = outputservice.New(sockPath, 1)
		Expect(err).ToNot(HaveOccurred())
		svc.Start()

		conn1 := dial(sockPath)
		defer conn1.Close()

		// Give the single slot time to be claimed before a second dialer
		// shows up; the listen socket should then stop accepting.
		Expect(svc.Kick()).To(Succeed())
		Expect(readOne(conn1)).To(Equal("full_update"))

		conn2, err := net.DialTimeout("unix", sockPath, 200*time.Millisecond)
		if err == nil {
			// Connection was accepted at the OS backlog level even though no
			// slot claims it; it must never receive a notification.
			_ = conn2.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
			buf := make([]byte, 1)
			_, err = conn2.Read(buf)
			Expect(err).To(HaveOccurred())
			conn2.Close()
		}
	})

	It("drops an observer whose connection is closed without affecting others", func() {
		var err error
		svc, err = outputservice.New(sockPath, 2)
		Expect(err).ToNot(HaveOccurred())
		svc.Start()

		conn1 := dial(sockPath)
		Expect(svc.Kick()).To(Succeed())
		Expect(readOne(conn1)).To(Equal("full_update"))
		conn1.Close()

		conn2 := dial(sockPath)
		defer conn2.Close()

		Eventually(func() string {
			Expect(svc.Kick()).To(Succeed())
			return readOne(conn2)
		}, time.Second, 50*time.Millisecond).Should(Equal("full_update"))
	})

	It("removes the socket file on shutdown", func() {
		var err error
		svc, err = outputservice.New(sockPath, 1)
		Expect(err).ToNot(HaveOccurred())
		svc.Start()

		Expect(svc.Shutdown()).To(Succeed())
		_, err = os.Stat(sockPath)
		Expect(os.IsNotExist(err)).To(BeTrue())
		svc = nil
	})
})
