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
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// ElementAndRestriction pairs an input element with its initial
// restriction. Produced once per distinct input element; immutable after
// construction.
type ElementAndRestriction[E any, R any] struct {
	Element     E
	Restriction R
}

// WorkItem is one unit of keyed work delivered to a ProcessFn: either an
// element paired with its initial restriction, or a bare key signaling a
// timer driven resumption when Value is nil.
type WorkItem[K comparable, E any, R any] struct {
	Key   K
	Value *ElementAndRestriction[E, R]

	Timestamp Watermark
	Window    Window
}

// StateCell is the three slot per-key-per-window state a ProcessFn reads
// and writes between sessions: the element being processed, its current
// (residual) restriction, and a watermark hold.
//
// Implementations must provide read-your-own-writes within one ProcessFn
// call and durability across calls. A cell is never written concurrently;
// the engine processes one session per key at a time.
type StateCell[E, R any] interface {
	Element(ctx context.Context) (E, bool, error)
	SetElement(ctx context.Context, e E) error
	ClearElement(ctx context.Context) error

	Restriction(ctx context.Context) (R, bool, error)
	SetRestriction(ctx context.Context, r R) error
	ClearRestriction(ctx context.Context) error

	WatermarkHold(ctx context.Context) (Watermark, bool, error)
	SetWatermarkHold(ctx context.Context, w Watermark) error
}

// StateStore hands out state cells keyed by element key and window.
type StateStore[K comparable, E, R any] interface {
	Cell(ctx context.Context, key K, w Window) (StateCell[E, R], error)
}

// TimerSetter arms a one-shot re-invocation timer for a key and window.
// Timer semantics are owned by the host runner; the engine only requires
// that the key is eventually redelivered as a timer WorkItem.
type TimerSetter[K comparable] interface {
	SetTimer(ctx context.Context, key K, w Window, delay time.Duration) error
}

// ErrCorruptState reports per-key state inconsistent with the kind of work
// item received, such as a timer firing for a key with no stored element.
// It indicates an engine or host programming error and aborts processing
// of that key.
var ErrCorruptState = errors.New("splitrun: inconsistent per-key state")

// ProcessFn bridges one incoming keyed unit of work to a processing
// session.
//
// A first delivery for a key seeds state from the incoming element and
// restriction; a timer redelivery resumes from the stored residual. After
// the session, a residual restriction is persisted together with a
// blocking watermark hold and a re-invocation timer, or, when the element
// is exhausted, state is cleared and the hold released.
//
// Output side effects are not transactional with state mutation: a crash
// between session completion and the state write may redeliver work.
// Hosts needing exactly-once output must deduplicate downstream.
type ProcessFn[K comparable, E, O any, R Restriction[P], P any] struct {
	// Invoker drives the checkpoint-bounded session.
	Invoker *Invoker[E, O, R, P]
	// MakeTracker creates the session tracker from the current restriction.
	MakeTracker func(R) Tracker[R, P]
	// Store holds the element, restriction and watermark hold slots.
	Store StateStore[K, E, R]
	// Timers arms re-invocation for residuals.
	Timers TimerSetter[K]

	// ResumeDelay is the default delay before a residual is reprocessed,
	// used when the session's continuation does not request one.
	ResumeDelay time.Duration

	// Log defaults to slog.Default.
	Log *slog.Logger
}

// Process runs one session for item, streaming session outputs through
// emit wrapped in the item's timestamp and window. State mutation and
// timer arming happen only after the session has fully completed.
func (fn *ProcessFn[K, E, O, R, P]) Process(ctx context.Context, item WorkItem[K, E, R], emit func(WindowedValue[O]) error) error {
	log := fn.Log
	if log == nil {
		log = slog.Default()
	}

	cell, err := fn.Store.Cell(ctx, item.Key, item.Window)
	if err != nil {
		return errors.Wrapf(err, "opening state for key %v", item.Key)
	}

	element, hasState, err := cell.Element(ctx)
	if err != nil {
		return errors.Wrapf(err, "reading element state for key %v", item.Key)
	}

	var restriction R
	switch {
	case !hasState:
		// Seed call: state for the key is empty, so the element and its
		// initial restriction must arrive with the work item.
		if item.Value == nil {
			return errors.Wrapf(ErrCorruptState, "timer fired for key %v with no stored element", item.Key)
		}
		element = item.Value.Element
		restriction = item.Value.Restriction
	case item.Value == nil:
		// Resumption call: continue from the stored residual.
		var ok bool
		restriction, ok, err = cell.Restriction(ctx)
		if err != nil {
			return errors.Wrapf(err, "reading restriction state for key %v", item.Key)
		}
		if !ok {
			return errors.Wrapf(ErrCorruptState, "key %v has a stored element but no restriction", item.Key)
		}
	default:
		// A second element arrived for a key mid element. Keys must be
		// unique per element; fail loudly rather than conflate the two.
		return errors.Wrapf(ErrCorruptState, "key %v received a new element while one is in progress", item.Key)
	}

	windowed := WindowedValue[E]{Value: element, Timestamp: item.Timestamp, Windows: []Window{item.Window}}
	tracker := fn.MakeTracker(restriction)

	result, err := fn.Invoker.Invoke(ctx, windowed, tracker, func(o O) error {
		return emit(WindowedValue[O]{Value: o, Timestamp: item.Timestamp, Windows: windowed.Windows})
	})
	if err != nil {
		return errors.Wrapf(err, "processing key %v", item.Key)
	}

	if result.Residual == nil {
		// All work for the element is complete: drop the element and
		// restriction, release the output watermark.
		if err := cell.ClearElement(ctx); err != nil {
			return errors.Wrapf(err, "clearing element state for key %v", item.Key)
		}
		if err := cell.ClearRestriction(ctx); err != nil {
			return errors.Wrapf(err, "clearing restriction state for key %v", item.Key)
		}
		if err := cell.SetWatermarkHold(ctx, WatermarkMax); err != nil {
			return errors.Wrapf(err, "releasing watermark hold for key %v", item.Key)
		}
		log.LogAttrs(ctx, slog.LevelDebug, "element complete", slog.Any("key", item.Key))
		return nil
	}

	if err := cell.SetElement(ctx, element); err != nil {
		return errors.Wrapf(err, "persisting element state for key %v", item.Key)
	}
	if err := cell.SetRestriction(ctx, *result.Residual); err != nil {
		return errors.Wrapf(err, "persisting residual for key %v", item.Key)
	}
	if err := cell.SetWatermarkHold(ctx, WatermarkMin); err != nil {
		return errors.Wrapf(err, "blocking watermark hold for key %v", item.Key)
	}

	delay := fn.ResumeDelay
	if d := result.Continuation.ResumeDelay(); d > 0 {
		delay = d
	}
	if err := fn.Timers.SetTimer(ctx, item.Key, item.Window, delay); err != nil {
		return errors.Wrapf(err, "arming resume timer for key %v", item.Key)
	}
	log.LogAttrs(ctx, slog.LevelDebug, "residual persisted",
		slog.Any("key", item.Key),
		slog.Duration("resume_delay", delay))
	return nil
}
