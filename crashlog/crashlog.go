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

package crashlog

import (
	"log/syslog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"

	"github.com/nabbar/distribfs/fastlog"
	"github.com/nabbar/distribfs/internal/safeio"
)

const headerPrefix = "HANDLE_FATAL_SIGNAL(sig="
const headerMid = ", name="
const headerSuffix = ")\n"
const footer = "END_HANDLE_FATAL_SIGNAL\n"

// stackBufSize bounds the pre-allocated backtrace scratch buffer handle()
// fills via runtime.Stack. A truncated trace is preferable to an allocation
// on the fatal-signal path.
const stackBufSize = 64 * 1024

// Config controls where the crash log is written and what else runs when a
// fatal signal fires.
type Config struct {
	// Path to the crash log file. Empty means write to stderr.
	Path string
	// Signals overrides the default fatal-signal set.
	Signals []os.Signal
	// Callback runs before any other crash-log output, once per fatal signal.
	Callback func(sig os.Signal)
	// FastLogScratch, if non-nil, is dumped with fastlog.DumpAll into the
	// crash log after the backtrace.
	FastLogScratch *fastlog.Snapshot
}

// DefaultSignals is the fatal-signal set from the data model: SEGV, BUS, ILL,
// FPE, ABRT, XCPU, XFSZ, SYS, INT.
func DefaultSignals() []os.Signal {
	return []os.Signal{
		syscall.SIGSEGV, syscall.SIGBUS, syscall.SIGILL, syscall.SIGFPE,
		syscall.SIGABRT, syscall.SIGXCPU, syscall.SIGXFSZ, syscall.SIGSYS,
		syscall.SIGINT,
	}
}

// Handler owns the crash-log file descriptor and the signal-delivery
// goroutine. Its state machine is: uninitialized -> Install -> (fired)* ->
// Reset. Reset is idempotent.
type Handler struct {
	mu       sync.Mutex
	fd       int
	isStderr bool
	path     string
	cb       func(os.Signal)
	scratch  *fastlog.Snapshot
	signals  []os.Signal
	sigCh    chan os.Signal
	stopped  chan struct{}
	reset    bool

	// headerBuf and stackBuf are pre-sized scratch space for handle(): it
	// runs on the signal-delivery goroutine and must not allocate.
	headerBuf [64]byte
	stackBuf  [stackBufSize]byte
}

// Install opens the crash log (or stderr), ignores SIGPIPE, and starts
// trapping cfg.Signals (DefaultSignals() if unset). Each signal is one-shot:
// after the handler processes it, the signal is reset to its default
// disposition and re-raised so the process terminates as it would have
// without this package involved.
func Install(cfg Config) (*Handler, error) {
	h := &Handler{
		path:    cfg.Path,
		cb:      cfg.Callback,
		scratch: cfg.FastLogScratch,
		signals: cfg.Signals,
		stopped: make(chan struct{}),
	}
	if len(h.signals) == 0 {
		h.signals = DefaultSignals()
	}

	if h.path == "" {
		h.fd = int(os.Stderr.Fd())
		h.isStderr = true
	} else {
		f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		h.fd = int(f.Fd())
	}

	signal.Ignore(syscall.SIGPIPE)

	h.sigCh = make(chan os.Signal, len(h.signals))
	signal.Notify(h.sigCh, h.signals...)

	go h.loop()

	return h, nil
}

func (h *Handler) loop() {
	for sig := range h.sigCh {
		h.handle(sig)
		h.reraise(sig)
	}
	close(h.stopped)
}

// handle writes the crash log body for one fatal signal. Formatting sticks to
// fixed strings, integers, and bounded copies into the Handler's own scratch
// arrays so the hot path stays allocation-free, keeping to async-signal-safe
// discipline even though Go delivers this on an ordinary goroutine rather than
// interrupting one.
func (h *Handler) handle(sig os.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cb != nil {
		h.cb(sig)
	}

	num := signalNumber(sig)
	_ = safeio.WriteFull(h.fd, h.buildHeader(num))

	n := runtime.Stack(h.stackBuf[:], false)
	_ = safeio.WriteFull(h.fd, h.stackBuf[:n])

	if h.scratch != nil {
		_ = fastlog.DumpAll(h.scratch, h.fd)
	}

	_ = safeio.WriteFull(h.fd, []byte(footer))
	_ = syscall.Fsync(h.fd)

	if !h.isStderr {
		h.mirrorToSyslog()
	}
}

// buildHeader assembles the header line into h.headerBuf and returns the
// filled slice. It never grows past the array's backing storage: the prefix,
// a signed 32-bit decimal, the fixed-name table, and the suffix all fit
// comfortably within 64 bytes.
func (h *Handler) buildHeader(num int) []byte {
	buf := h.headerBuf[:0]
	buf = append(buf, headerPrefix...)
	buf = strconv.AppendInt(buf, int64(num), 10)
	buf = append(buf, headerMid...)
	buf = append(buf, signalName(num)...)
	buf = append(buf, headerSuffix...)
	return buf
}

// signalName maps a signal number to its fixed, constant name, avoiding the
// syscall.Signal.String() formatter on the handler's hot path.
func signalName(num int) string {
	switch syscall.Signal(num) {
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGBUS:
		return "SIGBUS"
	case syscall.SIGILL:
		return "SIGILL"
	case syscall.SIGFPE:
		return "SIGFPE"
	case syscall.SIGABRT:
		return "SIGABRT"
	case syscall.SIGXCPU:
		return "SIGXCPU"
	case syscall.SIGXFSZ:
		return "SIGXFSZ"
	case syscall.SIGSYS:
		return "SIGSYS"
	case syscall.SIGINT:
		return "SIGINT"
	default:
		return "UNKNOWN"
	}
}

// mirrorToSyslog re-reads the crash log file from the start and emits each
// line to syslog, per the "not stderr" branch of the handler contract.
func (h *Handler) mirrorToSyslog() {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return
	}

	w, err := syslog.New(syslog.LOG_CRIT, "distribfs")
	if err != nil {
		return
	}
	defer w.Close()

	start := 0
	for i, c := range data {
		if c == '\n' {
			_ = w.Crit(string(data[start:i]))
			start = i + 1
		}
	}
}

// reraise resets sig to its default disposition and re-delivers it to this
// process so the default action (usually process termination) takes effect,
// matching the "reset-on-delivery" one-shot contract.
func (h *Handler) reraise(sig os.Signal) {
	signal.Reset(sig)
	if ss, ok := sig.(syscall.Signal); ok {
		_ = syscall.Kill(os.Getpid(), ss)
	}
}

// Reset tears the handler down: stops signal delivery, closes the crash log
// (unless it is stderr), and is safe to call more than once.
func (h *Handler) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.reset {
		return nil
	}
	h.reset = true

	signal.Stop(h.sigCh)
	close(h.sigCh)

	if !h.isStderr {
		return syscall.Close(h.fd)
	}
	return nil
}

func signalNumber(sig os.Signal) int {
	if ss, ok := sig.(syscall.Signal); ok {
		return int(ss)
	}
	return 0
}
