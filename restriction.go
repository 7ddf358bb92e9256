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
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"

	"lostluck.dev/splitrun/coders"
)

// Restriction is a range of logical positions describing the remaining work
// for one element. Restriction implementations must be serializable.
type Restriction[P any] interface {
	// Start is the earliest position in this restriction.
	Start() P
	// End is the first position past the work this restriction covers.
	End() P
	// Bounded reports whether this restriction is bounded.
	Bounded() bool
}

// Tracker manages claims against a single restriction for the duration of
// one processing session. A fresh tracker is created per session from the
// (possibly residual) restriction.
//
// Tracker implementations are not serialized, and need not be safe for
// concurrent use; the engine serializes access during a session.
type Tracker[R Restriction[P], P any] interface {
	// TryClaim attempts to claim the given position. Returning false
	// signals that processing must stop: the position is past the end of
	// the restriction, or the restriction was truncated by a checkpoint.
	TryClaim(P) bool

	// Checkpoint splits off and returns the unclaimed remainder of the
	// restriction, truncating the tracked restriction to what has been
	// claimed. ok is false when nothing remains unclaimed. Called at most
	// once per session.
	Checkpoint() (residual R, ok bool)

	// CheckDone returns an error unless the restriction has been fully
	// claimed, or truncated by a checkpoint. This is the closing sanity
	// check catching user code that returned while work remained.
	CheckDone() error

	// Restriction returns the restriction this tracker currently covers.
	Restriction() R
}

// Range is a half-open interval [Min, Max) of integer positions.
type Range[P constraints.Integer] struct {
	Min, Max P
}

// Start returns the first position of the range.
func (r Range[P]) Start() P { return r.Min }

// End returns the position just past the range.
func (r Range[P]) End() P { return r.Max }

// Bounded is always true for offset ranges.
func (r Range[P]) Bounded() bool { return true }

// IsEmpty reports whether the range covers no positions.
func (r Range[P]) IsEmpty() bool { return r.Min >= r.Max }

// Size returns the number of positions in the range.
func (r Range[P]) Size() float64 {
	if r.IsEmpty() {
		return 0
	}
	return float64(r.Max - r.Min)
}

func (r Range[P]) String() string {
	return fmt.Sprintf("[%v, %v)", r.Min, r.Max)
}

// RangeCoder serializes a Range using varint encoding for both bounds.
func RangeCoder[P constraints.Integer]() coders.Coder[Range[P]] {
	return rangeCoder[P]{}
}

type rangeCoder[P constraints.Integer] struct{}

func (rangeCoder[P]) Encode(enc *coders.Encoder, r Range[P]) {
	enc.Varint64(int64(r.Min))
	enc.Varint64(int64(r.Max))
}

func (rangeCoder[P]) Decode(dec *coders.Decoder) (Range[P], error) {
	lo, err := dec.Varint64()
	if err != nil {
		return Range[P]{}, errors.Wrap(err, "decoding range start")
	}
	hi, err := dec.Varint64()
	if err != nil {
		return Range[P]{}, errors.Wrap(err, "decoding range end")
	}
	return Range[P]{Min: P(lo), Max: P(hi)}, nil
}

// RangeTracker is the stock Tracker over a [Range].
//
// Positions must be claimed in strictly increasing order. A checkpoint
// truncates the range just past the last claimed position, so outstanding
// claims beyond it fail and the session winds down cooperatively.
type RangeTracker[P constraints.Integer] struct {
	rest Range[P]

	attempted     bool
	lastAttempted P
	claimed       bool
	lastClaimed   P
	checkpointed  bool
}

// NewRangeTracker returns a tracker over rest.
func NewRangeTracker[P constraints.Integer](rest Range[P]) *RangeTracker[P] {
	return &RangeTracker[P]{rest: rest}
}

// TryClaim attempts to claim pos.
func (t *RangeTracker[P]) TryClaim(pos P) bool {
	if t.attempted && pos <= t.lastAttempted {
		panic(fmt.Sprintf("splitrun: position %v claimed out of order, last attempted %v", pos, t.lastAttempted))
	}
	if pos < t.rest.Min {
		panic(fmt.Sprintf("splitrun: position %v precedes restriction %v", pos, t.rest))
	}
	t.attempted = true
	t.lastAttempted = pos
	if pos >= t.rest.Max {
		return false
	}
	t.claimed = true
	t.lastClaimed = pos
	return true
}

// Checkpoint returns the unclaimed remainder and truncates the tracked
// range to the claimed portion.
func (t *RangeTracker[P]) Checkpoint() (Range[P], bool) {
	if t.checkpointed {
		panic("splitrun: Checkpoint called twice within one session")
	}
	t.checkpointed = true
	split := t.rest.Min
	if t.claimed {
		split = t.lastClaimed + 1
	}
	if split >= t.rest.Max {
		return Range[P]{}, false
	}
	residual := Range[P]{Min: split, Max: t.rest.Max}
	t.rest.Max = split
	return residual, true
}

// CheckDone errors unless every position of the (possibly truncated)
// range has been claimed.
func (t *RangeTracker[P]) CheckDone() error {
	if t.rest.IsEmpty() {
		return nil
	}
	if t.claimed && t.lastClaimed >= t.rest.Max-1 {
		return nil
	}
	last := "none"
	if t.claimed {
		last = fmt.Sprintf("%v", t.lastClaimed)
	}
	return errors.Errorf("restriction %v not fully claimed: last claimed position %v", t.rest, last)
}

// Restriction returns the range this tracker currently covers.
func (t *RangeTracker[P]) Restriction() Range[P] {
	return t.rest
}

var _ Tracker[Range[int64], int64] = (*RangeTracker[int64])(nil)

// lockingTracker wraps a Tracker in a mutex to synchronize access between
// the session goroutine and the duration alarm.
type lockingTracker[R Restriction[P], P any] struct {
	mu      sync.Mutex
	wrapped Tracker[R, P]
}

func wrapWithLockTracker[R Restriction[P], P any](t Tracker[R, P]) *lockingTracker[R, P] {
	return &lockingTracker[R, P]{wrapped: t}
}

func (t *lockingTracker[R, P]) TryClaim(pos P) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wrapped.TryClaim(pos)
}

func (t *lockingTracker[R, P]) Checkpoint() (R, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wrapped.Checkpoint()
}

func (t *lockingTracker[R, P]) CheckDone() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wrapped.CheckDone()
}

func (t *lockingTracker[R, P]) Restriction() R {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wrapped.Restriction()
}
