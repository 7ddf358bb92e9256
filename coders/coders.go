// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package coders provides the deterministic binary stream format used to
// persist checkpoint state across processing sessions, and across process
// boundaries.
//
// Values are written with an [Encoder] and read back with a [Decoder] using
// the same sequence of primitive calls. The format is not self describing:
// every read must be paired with the write that produced it. Numeric
// encodings are stable regardless of host byte order, so encoded state may
// be handed between processes.
package coders

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Encoder is an append-only buffer of encoded primitive values.
//
// The zero value is ready to use. Encoders may not be used concurrently.
type Encoder struct {
	data []byte
}

// NewEncoder returns a new empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Data returns the accumulated bytes.
//
// The returned slice aliases the encoder's buffer and is invalidated by
// further writes.
func (e *Encoder) Data() []byte {
	return e.data
}

// Reset discards all accumulated bytes, retaining the buffer for reuse.
func (e *Encoder) Reset() {
	e.data = e.data[:0]
}

// Bytes writes b without any framing. The reader must know the length
// out of band, or be consuming the remainder of the stream.
func (e *Encoder) Bytes(b []byte) {
	e.data = append(e.data, b...)
}

// NestedBytes writes b prefixed with its length as a varint, so the value
// is self delimiting when followed by further writes.
func (e *Encoder) NestedBytes(b []byte) {
	e.Varint64(int64(len(b)))
	e.data = append(e.data, b...)
}

// StringUtf8 writes s as a length-prefixed byte string.
func (e *Encoder) StringUtf8(s string) {
	e.Varint64(int64(len(s)))
	e.data = append(e.data, s...)
}

// Byte writes a single byte.
func (e *Encoder) Byte(b byte) {
	e.data = append(e.data, b)
}

// Varint writes v as a base-128 varint, 7 bits per byte, least significant
// group first.
func (e *Encoder) Varint(v uint64) {
	for v >= 0x80 {
		e.data = append(e.data, byte(v)|0x80)
		v >>= 7
	}
	e.data = append(e.data, byte(v))
}

// Varint64 writes v as a varint over its two's-complement bit pattern.
// Negative values always occupy ten bytes; the full int64 range round
// trips, including math.MinInt64 and math.MaxInt64.
func (e *Encoder) Varint64(v int64) {
	e.Varint(uint64(v))
}

// BigEndianUint64 writes v as exactly 8 big-endian bytes.
func (e *Encoder) BigEndianUint64(v uint64) {
	e.data = binary.BigEndian.AppendUint64(e.data, v)
}

// BigEndianInt64 writes v as exactly 8 big-endian bytes.
func (e *Encoder) BigEndianInt64(v int64) {
	e.data = binary.BigEndian.AppendUint64(e.data, uint64(v))
}

// BigEndianUint32 writes v as exactly 4 big-endian bytes.
func (e *Encoder) BigEndianUint32(v uint32) {
	e.data = binary.BigEndian.AppendUint32(e.data, v)
}

// BigEndianInt32 writes v as exactly 4 big-endian bytes.
func (e *Encoder) BigEndianInt32(v int32) {
	e.data = binary.BigEndian.AppendUint32(e.data, uint32(v))
}

// Double writes v as its IEEE-754 bit pattern in 8 big-endian bytes.
// Non-finite values round trip.
func (e *Encoder) Double(v float64) {
	e.data = binary.BigEndian.AppendUint64(e.data, math.Float64bits(v))
}

// ErrTruncated indicates the input ended before a complete value could be
// decoded.
var ErrTruncated = errors.New("coders: truncated input")

// ErrMalformed indicates the input cannot be a value produced by the
// matching Encoder write.
var ErrMalformed = errors.New("coders: malformed input")

// Decoder is a cursor over a byte slice produced by an Encoder.
//
// Reads must occur in the same order as the writes that produced the data.
// All reads report truncated or malformed input as errors rather than
// returning partial values.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder returns a Decoder reading from data. The slice is not copied.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining reports the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.pos
}

// Read consumes and returns the next n bytes.
func (d *Decoder) Read(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Wrapf(ErrMalformed, "negative read of %d bytes", n)
	}
	if d.Remaining() < n {
		return nil, errors.Wrapf(ErrTruncated, "reading %d bytes with %d remaining", n, d.Remaining())
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// ReadAll consumes and returns all remaining bytes.
func (d *Decoder) ReadAll() []byte {
	b := d.data[d.pos:]
	d.pos = len(d.data)
	return b
}

// Byte consumes and returns the next byte.
func (d *Decoder) Byte() (byte, error) {
	if d.Remaining() < 1 {
		return 0, errors.Wrap(ErrTruncated, "reading byte")
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

// Varint reads a base-128 varint.
func (d *Decoder) Varint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		if shift >= 64 {
			return 0, errors.Wrap(ErrMalformed, "varint exceeds 64 bits")
		}
		b, err := d.Byte()
		if err != nil {
			return 0, errors.Wrap(err, "reading varint")
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

// Varint64 reads a varint written by [Encoder.Varint64].
func (d *Decoder) Varint64() (int64, error) {
	v, err := d.Varint()
	return int64(v), err
}

// BigEndianUint64 reads exactly 8 big-endian bytes.
func (d *Decoder) BigEndianUint64() (uint64, error) {
	b, err := d.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// BigEndianInt64 reads exactly 8 big-endian bytes.
func (d *Decoder) BigEndianInt64() (int64, error) {
	v, err := d.BigEndianUint64()
	return int64(v), err
}

// BigEndianUint32 reads exactly 4 big-endian bytes.
func (d *Decoder) BigEndianUint32() (uint32, error) {
	b, err := d.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// BigEndianInt32 reads exactly 4 big-endian bytes.
func (d *Decoder) BigEndianInt32() (int32, error) {
	v, err := d.BigEndianUint32()
	return int32(v), err
}

// Double reads an IEEE-754 double from 8 big-endian bytes.
func (d *Decoder) Double() (float64, error) {
	v, err := d.BigEndianUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// NestedBytes reads a length-prefixed byte string written by
// [Encoder.NestedBytes].
func (d *Decoder) NestedBytes() ([]byte, error) {
	n, err := d.Varint64()
	if err != nil {
		return nil, errors.Wrap(err, "reading nested length")
	}
	if n < 0 {
		return nil, errors.Wrapf(ErrMalformed, "negative nested length %d", n)
	}
	return d.Read(int(n))
}

// StringUtf8 reads a length-prefixed string written by [Encoder.StringUtf8].
func (d *Decoder) StringUtf8() (string, error) {
	b, err := d.NestedBytes()
	return string(b), err
}
