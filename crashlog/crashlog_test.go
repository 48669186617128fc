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

package crashlog_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// This suite exercises a real SIGSEGV end to end: a child process raises it
// with a crash log path configured, and the crash file must exist, be
// readable, and begin with the fixed header. The child is this same test
// binary re-invoked with GO_WANT_CRASHLOG_HELPER=1, which is the standard way
// to drive a real signal/process-exit scenario from `go test`.
var _ = Describe("crashlog", func() {
	It("writes the stable header before the process terminates on SIGSEGV", func() {
		dir := GinkgoT().TempDir()
		crashPath := filepath.Join(dir, "crash.log")

		cmd := exec.Command(os.Args[0], "-test.run=TestCrashlogHelperProcess")
		cmd.Env = append(os.Environ(),
			"GO_WANT_CRASHLOG_HELPER=1",
			"CRASHLOG_HELPER_PATH="+crashPath,
		)
		_ = cmd.Run() // the child is expected to die from the re-raised SIGSEGV

		data, err := os.ReadFile(crashPath)
		Expect(err).ToNot(HaveOccurred())
		Expect(strings.HasPrefix(string(data), "HANDLE_FATAL_SIGNAL(sig=")).To(BeTrue())
		Expect(string(data)).To(ContainSubstring("name="))
		Expect(string(data)).To(ContainSubstring("END_HANDLE_FATAL_SIGNAL"))
	})
})
