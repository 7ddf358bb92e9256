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

// Package direct is a local executor for splittable work.
//
// It pairs each incoming element with a unique key, delivers keyed work
// items and timer re-firings to a [splitrun.ProcessFn], runs keys across a
// bounded worker pool, and aggregates the per-key watermark holds into an
// output watermark. Work for one key is inherently serialized: a
// re-invocation timer is only armed once the prior session for that key
// has completed.
package direct

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lostluck.dev/splitrun"
)

// Config controls session bounds and executor sizing.
type Config struct {
	// Parallelism is the worker pool size. Defaults to 1.
	Parallelism int
	// MaxOutputs bounds each session's output count. Zero is unlimited.
	MaxOutputs int
	// MaxDuration bounds each session's wall clock time. Zero is
	// unbounded.
	MaxDuration time.Duration
	// ResumeDelay is the default delay before a residual is retried.
	ResumeDelay time.Duration

	// Clock defaults to the real clock. Tests substitute a mock.
	Clock clock.Clock
	// Log defaults to slog.Default.
	Log *slog.Logger
}

// Stats is a snapshot of executor counters.
type Stats struct {
	Elements    int64
	Sessions    int64
	Resumptions int64
}

// Runner drives elements through sessions until every restriction is
// exhausted. A Runner is single use: construct, Run once, then inspect
// [Runner.Stats] and [Runner.OutputWatermark].
type Runner[E, O any, R splitrun.Restriction[P], P any] struct {
	cfg   Config
	clock clock.Clock
	log   *slog.Logger

	store splitrun.StateStore[string, E, R]
	fn    *splitrun.ProcessFn[string, E, O, R, P]

	queue chan splitrun.WorkItem[string, E, R]
	wg    sync.WaitGroup

	timerMu      sync.Mutex
	timerStopped bool
	timers       map[int]*clock.Timer
	nextTimerID  int

	holdMu sync.Mutex
	holds  map[string]splitrun.Watermark

	elements    atomic.Int64
	sessions    atomic.Int64
	resumptions atomic.Int64
}

// New returns a Runner executing proc over store with the given session
// bounds. makeTracker creates a fresh tracker per session from the current
// restriction.
func New[E, O any, R splitrun.Restriction[P], P any](
	cfg Config,
	store splitrun.StateStore[string, E, R],
	makeTracker func(R) splitrun.Tracker[R, P],
	proc splitrun.ProcessRestriction[E, O, R, P],
) *Runner[E, O, R, P] {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	cl := cfg.Clock
	if cl == nil {
		cl = clock.New()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	r := &Runner[E, O, R, P]{
		cfg:    cfg,
		clock:  cl,
		log:    log,
		store:  store,
		timers: map[int]*clock.Timer{},
		holds:  map[string]splitrun.Watermark{},
	}
	r.fn = &splitrun.ProcessFn[string, E, O, R, P]{
		Invoker: &splitrun.Invoker[E, O, R, P]{
			Proc:        proc,
			MaxOutputs:  cfg.MaxOutputs,
			MaxDuration: cfg.MaxDuration,
			Clock:       cl,
			Log:         log,
		},
		MakeTracker: makeTracker,
		Store:       store,
		Timers:      r,
		ResumeDelay: cfg.ResumeDelay,
		Log:         log,
	}
	return r
}

// SetTimer arms a one-shot re-delivery of key after delay. It is called by
// the ProcessFn after persisting a residual.
func (r *Runner[E, O, R, P]) SetTimer(_ context.Context, key string, w splitrun.Window, delay time.Duration) error {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.timerStopped {
		return nil
	}
	id := r.nextTimerID
	r.nextTimerID++
	r.wg.Add(1)
	item := splitrun.WorkItem[string, E, R]{
		Key:       key,
		Timestamp: splitrun.WatermarkMin,
		Window:    w,
	}
	r.timers[id] = r.clock.AfterFunc(delay, func() {
		r.timerMu.Lock()
		delete(r.timers, id)
		r.timerMu.Unlock()
		r.queue <- item
	})
	return nil
}

// stopTimers prevents pending timers from firing after an abort. Timers
// already past the point of no return are left to drain through the queue.
func (r *Runner[E, O, R, P]) stopTimers() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	r.timerStopped = true
	for id, t := range r.timers {
		if t.Stop() {
			r.wg.Done()
		}
		delete(r.timers, id)
	}
}

// Run processes every element until no residual work remains, streaming
// outputs through emit. Outputs from concurrent keys interleave, but
// within one key they arrive in production order. Run returns the first
// session error, after draining in-flight work.
func (r *Runner[E, O, R, P]) Run(ctx context.Context, elements iter.Seq[splitrun.ElementAndRestriction[E, R]], emit func(splitrun.WindowedValue[O]) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.queue = make(chan splitrun.WorkItem[string, E, R], 64)

	var emitMu sync.Mutex
	safeEmit := func(wv splitrun.WindowedValue[O]) error {
		emitMu.Lock()
		defer emitMu.Unlock()
		return emit(wv)
	}

	// The seeding token keeps the queue open until all elements are in.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for ear := range elements {
			r.elements.Add(1)
			r.wg.Add(1)
			r.queue <- splitrun.WorkItem[string, E, R]{
				Key:       uuid.NewString(),
				Value:     &ear,
				Timestamp: splitrun.WatermarkMin,
				Window:    splitrun.GlobalWindow(),
			}
		}
	}()
	go func() {
		r.wg.Wait()
		close(r.queue)
	}()

	var g errgroup.Group
	for range r.cfg.Parallelism {
		g.Go(func() error {
			var firstErr error
			for item := range r.queue {
				if firstErr == nil && runCtx.Err() == nil {
					if err := r.process(runCtx, item, safeEmit); err != nil {
						firstErr = err
						r.log.LogAttrs(runCtx, slog.LevelError, "aborting key",
							slog.String("key", item.Key),
							slog.String("error", err.Error()))
						cancel()
						r.stopTimers()
					}
				}
				r.wg.Done()
			}
			return firstErr
		})
	}
	return g.Wait()
}

func (r *Runner[E, O, R, P]) process(ctx context.Context, item splitrun.WorkItem[string, E, R], emit func(splitrun.WindowedValue[O]) error) error {
	if err := r.fn.Process(ctx, item, emit); err != nil {
		return err
	}
	r.sessions.Add(1)
	if item.Value == nil {
		r.resumptions.Add(1)
	}
	cell, err := r.store.Cell(ctx, item.Key, item.Window)
	if err != nil {
		return err
	}
	hold, ok, err := cell.WatermarkHold(ctx)
	if err != nil {
		return err
	}
	if ok {
		r.holdMu.Lock()
		r.holds[item.Key] = hold
		r.holdMu.Unlock()
	}
	return nil
}

// OutputWatermark is the minimum watermark hold across all keys seen so
// far; [splitrun.WatermarkMax] once every element has completed.
func (r *Runner[E, O, R, P]) OutputWatermark() splitrun.Watermark {
	r.holdMu.Lock()
	defer r.holdMu.Unlock()
	w := splitrun.WatermarkMax
	for _, h := range r.holds {
		if h < w {
			w = h
		}
	}
	return w
}

// Stats returns a snapshot of the executor's counters.
func (r *Runner[E, O, R, P]) Stats() Stats {
	return Stats{
		Elements:    r.elements.Load(),
		Sessions:    r.sessions.Load(),
		Resumptions: r.resumptions.Load(),
	}
}
