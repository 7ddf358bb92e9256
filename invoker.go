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
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// Emit delivers one output value of a processing session to the caller.
type Emit[O any] func(O) error

// TryClaim processes a user provided closure, passing in each claimed
// position. The closure returns the next position to claim, or an error.
// The loop ends when a claim is refused, either because the restriction is
// exhausted or because a checkpoint truncated it.
type TryClaim[P any] func(func(P) (P, error)) error

// ProcessRestriction is the user processing routine for one element and
// restriction. Outputs go through emit in order; positions are claimed
// through tc before the work they cover is performed. Returning
// [Resume] or [ResumeAfter] yields the unclaimed remainder voluntarily.
type ProcessRestriction[E, O any, R Restriction[P], P any] func(ctx context.Context, elm E, rest R, tc TryClaim[P], emit Emit[O]) (ProcessContinuation, error)

// Result describes how a processing session ended. Exactly one Result is
// produced per session, after the last output.
type Result[R any] struct {
	// Residual is the unprocessed remainder of the restriction, when a
	// checkpoint occurred. Nil means all work for the element is done.
	Residual *R
	// Continuation records a voluntary yield by user code.
	Continuation ProcessContinuation
	// FutureOutputWatermark, if set, is the output watermark of the
	// results the residual will produce when resumed.
	FutureOutputWatermark *Watermark
}

// ErrIncompleteRestriction reports user code that returned from processing
// while unclaimed work remained and no checkpoint had been taken. This is
// a programming contract violation, not a transient failure.
var ErrIncompleteRestriction = errors.New("splitrun: process returned with an incomplete restriction")

// Invoker runs one processing session and requests checkpoints.
//
// A session is bounded by two independent stop conditions: an output count
// and a wall clock duration. Crossing either requests a checkpoint through
// the session's tracker; user code observes the truncated restriction on
// its next claim and winds down. The checkpoint request is advisory: the
// engine never preempts a running session, so user code that ignores its
// tracker can run unbounded.
type Invoker[E, O any, R Restriction[P], P any] struct {
	// Proc is the user processing routine.
	Proc ProcessRestriction[E, O, R, P]

	// MaxOutputs bounds the outputs of one session. Zero means unlimited.
	MaxOutputs int
	// MaxDuration bounds the session wall clock time. Zero means
	// unbounded.
	MaxDuration time.Duration

	// Clock supplies the duration alarm. Defaults to the real clock;
	// tests substitute a mock.
	Clock clock.Clock
	// Log defaults to slog.Default.
	Log *slog.Logger
}

// Invoke runs the user processing routine for one element against tracker,
// streaming outputs through emit in production order. It returns exactly
// one Result, available only after the final output has been emitted.
//
// The tracker must be freshly created for this session. Invoke wraps it in
// a lock so the alarm and the session goroutine never race on it.
func (inv *Invoker[E, O, R, P]) Invoke(ctx context.Context, elm WindowedValue[E], tracker Tracker[R, P], emit Emit[O]) (Result[R], error) {
	cl := inv.Clock
	if cl == nil {
		cl = clock.New()
	}
	log := inv.Log
	if log == nil {
		log = slog.Default()
	}

	lt := wrapWithLockTracker[R, P](tracker)
	var cp struct {
		mu       sync.Mutex
		done     bool
		residual *R
	}
	initiateCheckpoint := func() {
		cp.mu.Lock()
		defer cp.mu.Unlock()
		if cp.done {
			return
		}
		cp.done = true
		if residual, ok := lt.Checkpoint(); ok {
			cp.residual = &residual
		}
	}

	if inv.MaxDuration > 0 {
		alarm := cl.AfterFunc(inv.MaxDuration, initiateCheckpoint)
		defer alarm.Stop()
	}

	outputCount := 0
	countingEmit := func(o O) error {
		if err := emit(o); err != nil {
			return err
		}
		outputCount++
		if inv.MaxOutputs > 0 && outputCount >= inv.MaxOutputs {
			initiateCheckpoint()
		}
		return nil
	}

	rest := lt.Restriction()
	tc := TryClaim[P](func(body func(P) (P, error)) error {
		pos := rest.Start()
		for lt.TryClaim(pos) {
			next, err := body(pos)
			if err != nil {
				return err
			}
			pos = next
		}
		return nil
	})

	continuation, err := inv.Proc(ctx, elm.Value, rest, tc, countingEmit)
	if err != nil {
		return Result[R]{}, err
	}

	if continuation.Resumes() {
		// Capture whatever remains unclaimed so the residual can be
		// rescheduled.
		initiateCheckpoint()
	}

	// The done check runs unconditionally: a checkpoint leaves the tracker
	// truncated to its claimed portion, so a graceful session passes either
	// way. A failure here means user code under-claimed its restriction.
	if err := lt.CheckDone(); err != nil {
		return Result[R]{}, errors.Wrap(ErrIncompleteRestriction, err.Error())
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.residual != nil {
		log.LogAttrs(ctx, slog.LevelDebug, "session checkpointed",
			slog.Int("outputs", outputCount),
			slog.Bool("voluntary", continuation.Resumes()))
	}
	return Result[R]{Residual: cp.residual, Continuation: continuation}, nil
}
