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

package daemonconfig_test

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nabbar/distribfs/internal/daemonconfig"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const rsemdConfig = `{
	"base_dir": "%s",
	"crash_log_path": "%s/crash.log",
	"rsem_listen_addr": "127.0.0.1:9700",
	"semaphores": [
		{"name": "foo", "init_val": 1}
	]
}`

var _ = Describe("daemonconfig", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "distribfs-cfg-*")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("loads and harmonizes a rsemd config", func() {
		path := filepath.Join(dir, "rsemd.json")
		Expect(os.WriteFile(path, []byte(fmt.Sprintf(rsemdConfig, dir, dir)), 0644)).To(Succeed())

		cfg, err := daemonconfig.Load(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.BaseDir).To(Equal(dir))
		Expect(cfg.Semaphores).To(HaveLen(1))
		Expect(cfg.Semaphores[0].Name).To(Equal("foo"))

		daemonconfig.Harmonize(cfg)
		Expect(*cfg.ClientPortStart).To(Equal(30000))
		Expect(*cfg.ClientPortEnd).To(Equal(30999))
		Expect(*cfg.GlitchLog.Syslog).To(BeFalse())

		Expect(daemonconfig.Validate(cfg)).To(Succeed())
	})

	It("rejects a missing or nonexistent base_dir", func() {
		path := filepath.Join(dir, "bad.json")
		Expect(os.WriteFile(path, []byte(`{"base_dir": "/does/not/exist"}`), 0644)).To(Succeed())

		cfg, err := daemonconfig.Load(path)
		Expect(err).ToNot(HaveOccurred())

		Expect(daemonconfig.Validate(cfg)).To(Equal(daemonconfig.ErrMissingBaseDir))
	})

	It("rejects an inverted client port range", func() {
		path := filepath.Join(dir, "badrange.json")
		body := `{"base_dir": "` + dir + `", "client_port_start": 500, "client_port_end": 100}`
		Expect(os.WriteFile(path, []byte(body), 0644)).To(Succeed())

		cfg, err := daemonconfig.Load(path)
		Expect(err).ToNot(HaveOccurred())

		Expect(daemonconfig.Validate(cfg)).To(HaveOccurred())
	})

	It("re-decodes a config after a watched file changes", func() {
		path := filepath.Join(dir, "watched.json")
		Expect(os.WriteFile(path, []byte(`{"base_dir": "`+dir+`", "semaphores": [{"name": "a", "init_val": 1}]}`), 0644)).To(Succeed())

		changed := make(chan *daemonconfig.Config, 1)
		w, err := daemonconfig.Watch(path, func(cfg *daemonconfig.Config, err error) {
			if err == nil {
				changed <- cfg
			}
		})
		Expect(err).ToNot(HaveOccurred())

		cur, err := w.Current()
		Expect(err).ToNot(HaveOccurred())
		Expect(cur.Semaphores).To(HaveLen(1))

		Expect(os.WriteFile(path, []byte(`{"base_dir": "`+dir+`", "semaphores": [{"name": "a", "init_val": 1}, {"name": "b", "init_val": 0}]}`), 0644)).To(Succeed())

		Eventually(changed, "2s", "20ms").Should(Receive(WithTransform(func(c *daemonconfig.Config) int {
			return len(c.Semaphores)
		}, Equal(2))))
	})
})
