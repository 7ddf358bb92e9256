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

// Coder encodes and decodes values of a single type against the stream
// primitives. Encodings must be self delimiting within a larger stream,
// so variable length values use nested writes.
type Coder[E any] interface {
	Encode(enc *Encoder, v E)
	Decode(dec *Decoder) (E, error)
}

type varintCoder struct{}

func (varintCoder) Encode(enc *Encoder, v int64) { enc.Varint64(v) }
func (varintCoder) Decode(dec *Decoder) (int64, error) {
	return dec.Varint64()
}

// Varint is a Coder for int64 values using the varint encoding.
func Varint() Coder[int64] { return varintCoder{} }

type bytesCoder struct{}

func (bytesCoder) Encode(enc *Encoder, v []byte) { enc.NestedBytes(v) }
func (bytesCoder) Decode(dec *Decoder) ([]byte, error) {
	return dec.NestedBytes()
}

// Bytes is a Coder for byte slices, always length prefixed.
func Bytes() Coder[[]byte] { return bytesCoder{} }

type stringCoder struct{}

func (stringCoder) Encode(enc *Encoder, v string) { enc.StringUtf8(v) }
func (stringCoder) Decode(dec *Decoder) (string, error) {
	return dec.StringUtf8()
}

// String is a Coder for strings, always length prefixed.
func String() Coder[string] { return stringCoder{} }

type doubleCoder struct{}

func (doubleCoder) Encode(enc *Encoder, v float64) { enc.Double(v) }
func (doubleCoder) Decode(dec *Decoder) (float64, error) {
	return dec.Double()
}

// Double is a Coder for float64 values in fixed 8 byte big-endian form.
func Double() Coder[float64] { return doubleCoder{} }
