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

// Package crashlog installs handlers for the fatal signals and writes a
// post-mortem crash file before letting the default disposition run.
//
// Go's runtime does not deliver a SIGSEGV/SIGBUS caused by an actual invalid
// memory access through signal.Notify (it fails fast through its own fatal
// error path instead); what this package intercepts is any one of those
// signal numbers delivered asynchronously, e.g. by another process, by
// raise(2), or by a watchdog. That covers the crash-log contract's documented
// test scenario (S5: a child process calls raise(SIGSEGV) against itself) and
// every externally-delivered fatal signal a supervisor might forward, which is
// the situation the original alternate-signal-stack handler was built for.
package crashlog
