package splitrun_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"lostluck.dev/splitrun"
	"lostluck.dev/splitrun/state"
)

type timerCall struct {
	Key   string
	Delay time.Duration
}

// recordingTimers collects SetTimer calls instead of scheduling them.
type recordingTimers struct {
	calls []timerCall
}

func (r *recordingTimers) SetTimer(_ context.Context, key string, _ splitrun.Window, delay time.Duration) error {
	r.calls = append(r.calls, timerCall{Key: key, Delay: delay})
	return nil
}

func newTestFn(maxOutputs int, resumeDelay time.Duration) (*splitrun.ProcessFn[string, string, int64, splitrun.Range[int64], int64], *state.Memory[string, string, splitrun.Range[int64]], *recordingTimers) {
	store := state.NewMemory[string, string, splitrun.Range[int64]]()
	timers := &recordingTimers{}
	fn := &splitrun.ProcessFn[string, string, int64, splitrun.Range[int64], int64]{
		Invoker: &splitrun.Invoker[string, int64, splitrun.Range[int64], int64]{
			Proc:       emitPositions,
			MaxOutputs: maxOutputs,
		},
		MakeTracker: func(r splitrun.Range[int64]) splitrun.Tracker[splitrun.Range[int64], int64] {
			return splitrun.NewRangeTracker(r)
		},
		Store:       store,
		Timers:      timers,
		ResumeDelay: resumeDelay,
	}
	return fn, store, timers
}

func seedItem(key string, max int64) splitrun.WorkItem[string, string, splitrun.Range[int64]] {
	return splitrun.WorkItem[string, string, splitrun.Range[int64]]{
		Key: key,
		Value: &splitrun.ElementAndRestriction[string, splitrun.Range[int64]]{
			Element:     "elm",
			Restriction: splitrun.Range[int64]{Min: 0, Max: max},
		},
		Timestamp: splitrun.WatermarkMin,
		Window:    splitrun.GlobalWindow(),
	}
}

func timerItem(key string) splitrun.WorkItem[string, string, splitrun.Range[int64]] {
	return splitrun.WorkItem[string, string, splitrun.Range[int64]]{
		Key:       key,
		Timestamp: splitrun.WatermarkMin,
		Window:    splitrun.GlobalWindow(),
	}
}

func collectOutputs(got *[]int64) func(splitrun.WindowedValue[int64]) error {
	return func(wv splitrun.WindowedValue[int64]) error {
		*got = append(*got, wv.Value)
		return nil
	}
}

func TestProcessFn_SeedCompletes(t *testing.T) {
	ctx := context.Background()
	fn, store, timers := newTestFn(0, 0)

	var got []int64
	if err := fn.Process(ctx, seedItem("k", 3), collectOutputs(&got)); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if d := cmp.Diff([]int64{0, 1, 2}, got); d != "" {
		t.Errorf("outputs diff (-want, +got):\n%v", d)
	}
	if got, want := len(timers.calls), 0; got != want {
		t.Errorf("timers armed = %v, want %v", got, want)
	}

	cell, _ := store.Cell(ctx, "k", splitrun.GlobalWindow())
	if _, ok, _ := cell.Element(ctx); ok {
		t.Error("element slot still set after completion")
	}
	if _, ok, _ := cell.Restriction(ctx); ok {
		t.Error("restriction slot still set after completion")
	}
	hold, ok, _ := cell.WatermarkHold(ctx)
	if !ok || hold != splitrun.WatermarkMax {
		t.Errorf("hold = %v, %v; want released to %v", hold, ok, splitrun.WatermarkMax)
	}
}

func TestProcessFn_SeedCheckpointsAndResumes(t *testing.T) {
	ctx := context.Background()
	fn, store, timers := newTestFn(4, 250*time.Millisecond)

	var got []int64
	if err := fn.Process(ctx, seedItem("k", 10), collectOutputs(&got)); err != nil {
		t.Fatalf("seed Process error: %v", err)
	}
	if d := cmp.Diff([]int64{0, 1, 2, 3}, got); d != "" {
		t.Errorf("first session outputs diff (-want, +got):\n%v", d)
	}

	cell, _ := store.Cell(ctx, "k", splitrun.GlobalWindow())
	elm, ok, _ := cell.Element(ctx)
	if !ok || elm != "elm" {
		t.Errorf("element slot = %v, %v; want the seeded element persisted", elm, ok)
	}
	rest, ok, _ := cell.Restriction(ctx)
	if !ok {
		t.Fatal("restriction slot empty, want the residual persisted")
	}
	if d := cmp.Diff(splitrun.Range[int64]{Min: 4, Max: 10}, rest); d != "" {
		t.Errorf("residual diff (-want, +got):\n%v", d)
	}
	hold, ok, _ := cell.WatermarkHold(ctx)
	if !ok || hold != splitrun.WatermarkMin {
		t.Errorf("hold = %v, %v; want blocked at %v", hold, ok, splitrun.WatermarkMin)
	}
	wantTimers := []timerCall{{Key: "k", Delay: 250 * time.Millisecond}}
	if d := cmp.Diff(wantTimers, timers.calls); d != "" {
		t.Errorf("timer calls diff (-want, +got):\n%v", d)
	}

	// The timer redelivery resumes from the stored residual.
	for len(timers.calls) > 0 {
		timers.calls = timers.calls[:0]
		if err := fn.Process(ctx, timerItem("k"), collectOutputs(&got)); err != nil {
			t.Fatalf("resume Process error: %v", err)
		}
	}
	want := []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("total outputs diff (-want, +got):\n%v", d)
	}
	hold, ok, _ = cell.WatermarkHold(ctx)
	if !ok || hold != splitrun.WatermarkMax {
		t.Errorf("hold = %v, %v; want released after the final session", hold, ok)
	}
}

func TestProcessFn_ContinuationDelayWins(t *testing.T) {
	ctx := context.Background()
	fn, _, timers := newTestFn(0, time.Minute)
	errYield := errors.New("yield")
	fn.Invoker.Proc = func(_ context.Context, _ string, _ splitrun.Range[int64], tc splitrun.TryClaim[int64], emit splitrun.Emit[int64]) (splitrun.ProcessContinuation, error) {
		err := tc(func(p int64) (int64, error) {
			if err := emit(p); err != nil {
				return 0, err
			}
			return 0, errYield
		})
		if errors.Is(err, errYield) {
			return splitrun.ResumeAfter(3 * time.Second), nil
		}
		return splitrun.Stop(), err
	}

	var got []int64
	if err := fn.Process(ctx, seedItem("k", 5), collectOutputs(&got)); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	wantTimers := []timerCall{{Key: "k", Delay: 3 * time.Second}}
	if d := cmp.Diff(wantTimers, timers.calls); d != "" {
		t.Errorf("timer calls diff (-want, +got):\n%v", d)
	}
}

func TestProcessFn_TimerWithoutStateFails(t *testing.T) {
	fn, _, _ := newTestFn(0, 0)
	err := fn.Process(context.Background(), timerItem("ghost"), func(splitrun.WindowedValue[int64]) error { return nil })
	if !errors.Is(err, splitrun.ErrCorruptState) {
		t.Errorf("Process error = %v, want ErrCorruptState", err)
	}
}

func TestProcessFn_DuplicateKeyFails(t *testing.T) {
	ctx := context.Background()
	fn, _, _ := newTestFn(2, 0)

	sink := func(splitrun.WindowedValue[int64]) error { return nil }
	if err := fn.Process(ctx, seedItem("k", 10), sink); err != nil {
		t.Fatalf("seed Process error: %v", err)
	}
	// State for "k" now holds a checkpointed element; a second element
	// under the same key must be rejected.
	err := fn.Process(ctx, seedItem("k", 10), sink)
	if !errors.Is(err, splitrun.ErrCorruptState) {
		t.Errorf("Process error = %v, want ErrCorruptState", err)
	}
}

func TestProcessFn_OutputsCarryItemWindowing(t *testing.T) {
	ctx := context.Background()
	fn, _, _ := newTestFn(0, 0)

	item := seedItem("k", 1)
	item.Timestamp = 42

	var got []splitrun.WindowedValue[int64]
	err := fn.Process(ctx, item, func(wv splitrun.WindowedValue[int64]) error {
		got = append(got, wv)
		return nil
	})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	want := []splitrun.WindowedValue[int64]{{
		Value:     0,
		Timestamp: 42,
		Windows:   []splitrun.Window{splitrun.GlobalWindow()},
	}}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("outputs diff (-want, +got):\n%v", d)
	}
}
