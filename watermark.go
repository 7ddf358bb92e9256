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

package splitrun

import (
	"fmt"
	"math"
	"time"

	"lostluck.dev/splitrun/coders"
)

// Watermark is an event time position in milliseconds since the Unix epoch.
//
// The two infinities are sentinels: a hold of WatermarkMin blocks downstream
// progress while residual work is pending, and a hold of WatermarkMax
// releases it.
type Watermark int64

const (
	// WatermarkMin is the negative infinity watermark.
	WatermarkMin Watermark = math.MinInt64
	// WatermarkMax is the positive infinity watermark.
	WatermarkMax Watermark = math.MaxInt64
)

// String renders the infinities symbolically for logs.
func (w Watermark) String() string {
	switch w {
	case WatermarkMin:
		return "-inf"
	case WatermarkMax:
		return "+inf"
	}
	return fmt.Sprintf("%d", int64(w))
}

// Time converts w to a wall time. The infinities saturate.
func (w Watermark) Time() time.Time {
	switch w {
	case WatermarkMin:
		return time.Time{}
	case WatermarkMax:
		return time.UnixMilli(math.MaxInt64 / int64(time.Millisecond))
	}
	return time.UnixMilli(int64(w))
}

// Window is the event time interval state and holds are scoped to,
// alongside the element's key. The interval is half open: [Start, End).
type Window struct {
	Start, End Watermark
}

// GlobalWindow spans all representable event time.
func GlobalWindow() Window {
	return Window{Start: WatermarkMin, End: WatermarkMax}
}

// Encode writes the window as two fixed width timestamps.
func (w Window) Encode(enc *coders.Encoder) {
	enc.BigEndianInt64(int64(w.Start))
	enc.BigEndianInt64(int64(w.End))
}

// DecodeWindow reads a window written by [Window.Encode].
func DecodeWindow(dec *coders.Decoder) (Window, error) {
	start, err := dec.BigEndianInt64()
	if err != nil {
		return Window{}, err
	}
	end, err := dec.BigEndianInt64()
	if err != nil {
		return Window{}, err
	}
	return Window{Start: Watermark(start), End: Watermark(end)}, nil
}

// WindowedValue pairs a value with its event timestamp and the windows it
// belongs to.
type WindowedValue[E any] struct {
	Value     E
	Timestamp Watermark
	Windows   []Window
}
