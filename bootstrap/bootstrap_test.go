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

package bootstrap_test

import (
	"os"
	"path/filepath"

	"github.com/nabbar/distribfs/bootstrap"
	"github.com/nabbar/distribfs/internal/daemonconfig"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("bootstrap", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "distribfs-bootstrap-*")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("loads config, writes a pid file, and tears down cleanly on Shutdown", func() {
		cfgPath := filepath.Join(dir, "daemon.json")
		pidPath := filepath.Join(dir, "daemon.pid")
		crashPath := filepath.Join(dir, "crash.log")

		body := `{
			"base_dir": "` + dir + `",
			"pid_file": "` + pidPath + `",
			"crash_log_path": "` + crashPath + `"
		}`
		Expect(os.WriteFile(cfgPath, []byte(body), 0644)).To(Succeed())

		d, err := bootstrap.Start(cfgPath, nil, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(d.Config.BaseDir).To(Equal(dir))
		Expect(d.CrashHandler).ToNot(BeNil())

		data, err := os.ReadFile(pidPath)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(""))

		Expect(d.Shutdown()).To(Succeed())

		_, err = os.Stat(pidPath)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("fails fast on an invalid base_dir", func() {
		cfgPath := filepath.Join(dir, "bad.json")
		Expect(os.WriteFile(cfgPath, []byte(`{"base_dir": "/does/not/exist"}`), 0644)).To(Succeed())

		_, err := bootstrap.Start(cfgPath, nil, 0)
		Expect(err).To(Equal(daemonconfig.ErrMissingBaseDir))
	})
})
