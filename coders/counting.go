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

package coders

// CountingEncoder mirrors the write surface of [Encoder] but only tracks
// the cumulative number of bytes the equivalent writes would produce.
// Used to estimate serialized state size without materializing it.
type CountingEncoder struct {
	count int
}

// NewCountingEncoder returns a CountingEncoder with a zero count.
func NewCountingEncoder() *CountingEncoder {
	return &CountingEncoder{}
}

// Count reports the number of bytes written so far.
func (c *CountingEncoder) Count() int {
	return c.count
}

// Reset zeroes the count.
func (c *CountingEncoder) Reset() {
	c.count = 0
}

// VarintLen reports the encoded size of v as a varint.
func VarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// VarintLen64 reports the encoded size of v as written by
// [Encoder.Varint64]. Negative values always take ten bytes.
func VarintLen64(v int64) int {
	return VarintLen(uint64(v))
}

// Bytes counts an unframed write of b.
func (c *CountingEncoder) Bytes(b []byte) {
	c.count += len(b)
}

// NestedBytes counts a length-prefixed write of b, including the prefix
// itself.
func (c *CountingEncoder) NestedBytes(b []byte) {
	c.count += VarintLen64(int64(len(b))) + len(b)
}

// StringUtf8 counts a length-prefixed write of s.
func (c *CountingEncoder) StringUtf8(s string) {
	c.count += VarintLen64(int64(len(s))) + len(s)
}

// Byte counts a single byte write.
func (c *CountingEncoder) Byte(byte) {
	c.count++
}

// Varint counts a varint write of v.
func (c *CountingEncoder) Varint(v uint64) {
	c.count += VarintLen(v)
}

// Varint64 counts a varint write of v.
func (c *CountingEncoder) Varint64(v int64) {
	c.count += VarintLen64(v)
}

// BigEndianUint64 counts a fixed 8 byte write.
func (c *CountingEncoder) BigEndianUint64(uint64) {
	c.count += 8
}

// BigEndianInt64 counts a fixed 8 byte write.
func (c *CountingEncoder) BigEndianInt64(int64) {
	c.count += 8
}

// BigEndianUint32 counts a fixed 4 byte write.
func (c *CountingEncoder) BigEndianUint32(uint32) {
	c.count += 4
}

// BigEndianInt32 counts a fixed 4 byte write.
func (c *CountingEncoder) BigEndianInt32(int32) {
	c.count += 4
}

// Double counts a fixed 8 byte write.
func (c *CountingEncoder) Double(float64) {
	c.count += 8
}
