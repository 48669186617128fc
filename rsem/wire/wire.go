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

// Package wire implements the remote-semaphore protocol's framing: a 4-byte
// big-endian message-type code, optionally followed by a 4-byte big-endian
// length prefix and that many bytes of JSON text.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

// Type is one of the fixed, 4-byte big-endian message-type codes exchanged
// between rsem clients and the rsem server. Numeric values are arbitrary but
// fixed for the lifetime of a deployment.
type Type uint32

const (
	ReqSem Type = iota + 1
	RelSem
	ClientAck
	GiveSem
	DelaySem
	Nack
	ServerAck
	NoSuchSem
	InternalError
)

func (t Type) String() string {
	switch t {
	case ReqSem:
		return "REQ_SEM"
	case RelSem:
		return "REL_SEM"
	case ClientAck:
		return "CLIENT_ACK"
	case GiveSem:
		return "GIVE_SEM"
	case DelaySem:
		return "DELAY_SEM"
	case Nack:
		return "NACK"
	case ServerAck:
		return "SERVER_ACK"
	case NoSuchSem:
		return "NO_SUCH_SEM"
	case InternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrBodyTooLarge guards against a malicious or corrupt length prefix forcing
// an unbounded allocation.
var ErrBodyTooLarge = errors.New("wire: body length exceeds maximum")

// MaxBodyLen is the largest JSON body this package will allocate a buffer for.
const MaxBodyLen = 1 << 20

// TakeBody is the JSON body of a CLIENT_REQ_SEM message. Port zero means
// "no-delay": fail instead of queueing.
type TakeBody struct {
	Name string `json:"name"`
	Port int    `json:"port"`
}

// ReleaseBody is the JSON body of a CLIENT_REL_SEM message.
type ReleaseBody struct {
	Name string `json:"name"`
}

// GrantBody is the JSON body following a callback SERVER_GIVE_SEM.
type GrantBody struct {
	Name string `json:"name"`
}

// WriteType writes a bare 4-byte type code with no body.
func WriteType(w io.Writer, t Type) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(t))
	_, err := w.Write(buf[:])
	return err
}

// ReadType reads a bare 4-byte type code.
func ReadType(r io.Reader) (Type, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return Type(binary.BigEndian.Uint32(buf[:])), nil
}

// WriteMessage writes a type code followed by the length-prefixed JSON
// encoding of body.
func WriteMessage(w io.Writer, t Type, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(t))
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadBody reads a 4-byte big-endian length prefix and that many bytes of
// JSON, then unmarshals into out.
func ReadBody(r io.Reader, out interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxBodyLen {
		return ErrBodyTooLarge
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}
