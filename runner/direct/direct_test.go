package direct_test

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"lostluck.dev/splitrun"
	"lostluck.dev/splitrun/runner/direct"
	"lostluck.dev/splitrun/state"
	"lostluck.dev/splitrun/transforms/io/synthetic"
)

func syntheticElements(cfgs ...synthetic.SourceConfig) func(func(splitrun.ElementAndRestriction[synthetic.SourceConfig, splitrun.Range[int64]]) bool) {
	return func(yield func(splitrun.ElementAndRestriction[synthetic.SourceConfig, splitrun.Range[int64]]) bool) {
		for _, cfg := range cfgs {
			if !yield(splitrun.ElementAndRestriction[synthetic.SourceConfig, splitrun.Range[int64]]{
				Element:     cfg,
				Restriction: synthetic.Restriction(cfg),
			}) {
				return
			}
		}
	}
}

// runRecords executes cfgs through a fresh runner and returns the emitted
// records as sorted hex strings, so runs with different interleavings
// compare equal.
func runRecords(t *testing.T, rcfg direct.Config, cfgs ...synthetic.SourceConfig) ([]string, *direct.Runner[synthetic.SourceConfig, synthetic.Record, splitrun.Range[int64], int64]) {
	t.Helper()
	store := state.NewMemory[string, synthetic.SourceConfig, splitrun.Range[int64]]()
	r := direct.New(rcfg, store, synthetic.MakeTracker, synthetic.Source())

	var got []string
	err := r.Run(context.Background(), syntheticElements(cfgs...), func(wv splitrun.WindowedValue[synthetic.Record]) error {
		got = append(got, hex.EncodeToString(wv.Value.Key)+":"+hex.EncodeToString(wv.Value.Value))
		return nil
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	sort.Strings(got)
	return got, r
}

func TestRunner_DeliversEveryRecordOnce(t *testing.T) {
	cfg := synthetic.SourceConfig{NumRecords: 50, KeySize: 4, ValueSize: 8, Seed: 42}

	// A checkpointing run must produce exactly the records of an
	// unbounded single session run, each exactly once.
	unbounded, _ := runRecords(t, direct.Config{Parallelism: 1}, cfg)
	bounded, r := runRecords(t, direct.Config{Parallelism: 2, MaxOutputs: 7}, cfg)

	if got, want := len(unbounded), 50; got != want {
		t.Fatalf("unbounded run produced %v records, want %v", got, want)
	}
	if d := cmp.Diff(unbounded, bounded); d != "" {
		t.Errorf("bounded run records diff (-want, +got):\n%v", d)
	}

	stats := r.Stats()
	if got, want := stats.Elements, int64(1); got != want {
		t.Errorf("Stats().Elements = %v, want %v", got, want)
	}
	// 50 records at 7 per session needs 8 sessions, 7 of them resumptions.
	if got, want := stats.Sessions, int64(8); got != want {
		t.Errorf("Stats().Sessions = %v, want %v", got, want)
	}
	if got, want := stats.Resumptions, int64(7); got != want {
		t.Errorf("Stats().Resumptions = %v, want %v", got, want)
	}
}

func TestRunner_MultipleElements(t *testing.T) {
	cfgs := []synthetic.SourceConfig{
		{NumRecords: 20, KeySize: 4, ValueSize: 4, Seed: 1},
		{NumRecords: 30, KeySize: 4, ValueSize: 4, Seed: 2},
		{NumRecords: 10, KeySize: 4, ValueSize: 4, Seed: 3},
	}
	got, r := runRecords(t, direct.Config{Parallelism: 4, MaxOutputs: 6}, cfgs...)

	if got, want := len(got), 60; got != want {
		t.Errorf("record count = %v, want %v", got, want)
	}
	if got, want := r.Stats().Elements, int64(3); got != want {
		t.Errorf("Stats().Elements = %v, want %v", got, want)
	}
	if got, want := r.OutputWatermark(), splitrun.WatermarkMax; got != want {
		t.Errorf("OutputWatermark() = %v, want %v after all elements complete", got, want)
	}
}

func TestRunner_EmptyRestriction(t *testing.T) {
	cfg := synthetic.SourceConfig{NumRecords: 0, KeySize: 4, ValueSize: 4, Seed: 9}
	got, r := runRecords(t, direct.Config{Parallelism: 1, MaxOutputs: 5}, cfg)

	if len(got) != 0 {
		t.Errorf("records = %v, want none from an empty restriction", got)
	}
	if got, want := r.Stats().Sessions, int64(1); got != want {
		t.Errorf("Stats().Sessions = %v, want %v", got, want)
	}
}

func TestRunner_EmitErrorAborts(t *testing.T) {
	errSink := errors.New("sink full")
	cfg := synthetic.SourceConfig{NumRecords: 100, KeySize: 4, ValueSize: 4, Seed: 7}
	store := state.NewMemory[string, synthetic.SourceConfig, splitrun.Range[int64]]()
	r := direct.New(direct.Config{Parallelism: 2, MaxOutputs: 5}, store, synthetic.MakeTracker, synthetic.Source())

	var seen int
	err := r.Run(context.Background(), syntheticElements(cfg), func(splitrun.WindowedValue[synthetic.Record]) error {
		if seen++; seen > 12 {
			return errSink
		}
		return nil
	})
	if !errors.Is(err, errSink) {
		t.Errorf("Run error = %v, want %v", err, errSink)
	}
}

func TestRunner_ResumeDelayIsHonored(t *testing.T) {
	cfg := synthetic.SourceConfig{NumRecords: 12, KeySize: 2, ValueSize: 2, Seed: 5}
	store := state.NewMemory[string, synthetic.SourceConfig, splitrun.Range[int64]]()
	r := direct.New(direct.Config{
		Parallelism: 1,
		MaxOutputs:  5,
		ResumeDelay: time.Millisecond,
	}, store, synthetic.MakeTracker, synthetic.Source())

	var got int
	err := r.Run(context.Background(), syntheticElements(cfg), func(splitrun.WindowedValue[synthetic.Record]) error {
		got++
		return nil
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if want := 12; got != want {
		t.Errorf("records = %v, want %v", got, want)
	}
	if got, want := r.Stats().Resumptions, int64(2); got != want {
		t.Errorf("Stats().Resumptions = %v, want %v", got, want)
	}
}
