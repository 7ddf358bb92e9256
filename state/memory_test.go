package state_test

import (
	"context"
	"testing"

	"lostluck.dev/splitrun"
	"lostluck.dev/splitrun/state"
)

func TestMemory_SlotLifecycle(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory[string, string, splitrun.Range[int64]]()

	cell, err := store.Cell(ctx, "k", splitrun.GlobalWindow())
	if err != nil {
		t.Fatalf("Cell error: %v", err)
	}

	// All three slots start empty.
	if _, ok, _ := cell.Element(ctx); ok {
		t.Error("fresh element slot reported set")
	}
	if _, ok, _ := cell.Restriction(ctx); ok {
		t.Error("fresh restriction slot reported set")
	}
	if _, ok, _ := cell.WatermarkHold(ctx); ok {
		t.Error("fresh hold slot reported set")
	}

	if err := cell.SetElement(ctx, "elm"); err != nil {
		t.Fatalf("SetElement error: %v", err)
	}
	if err := cell.SetRestriction(ctx, splitrun.Range[int64]{Min: 3, Max: 9}); err != nil {
		t.Fatalf("SetRestriction error: %v", err)
	}
	if err := cell.SetWatermarkHold(ctx, splitrun.WatermarkMin); err != nil {
		t.Fatalf("SetWatermarkHold error: %v", err)
	}

	if got, ok, _ := cell.Element(ctx); !ok || got != "elm" {
		t.Errorf("Element = %v, %v; want elm, true", got, ok)
	}
	if got, ok, _ := cell.Restriction(ctx); !ok || got != (splitrun.Range[int64]{Min: 3, Max: 9}) {
		t.Errorf("Restriction = %v, %v; want [3, 9), true", got, ok)
	}
	if got, ok, _ := cell.WatermarkHold(ctx); !ok || got != splitrun.WatermarkMin {
		t.Errorf("WatermarkHold = %v, %v; want -inf, true", got, ok)
	}

	// Overwrites replace, clears empty.
	if err := cell.SetWatermarkHold(ctx, splitrun.WatermarkMax); err != nil {
		t.Fatalf("SetWatermarkHold error: %v", err)
	}
	if got, ok, _ := cell.WatermarkHold(ctx); !ok || got != splitrun.WatermarkMax {
		t.Errorf("WatermarkHold = %v, %v; want +inf, true", got, ok)
	}
	if err := cell.ClearElement(ctx); err != nil {
		t.Fatalf("ClearElement error: %v", err)
	}
	if err := cell.ClearRestriction(ctx); err != nil {
		t.Fatalf("ClearRestriction error: %v", err)
	}
	if _, ok, _ := cell.Element(ctx); ok {
		t.Error("element slot still set after clear")
	}
	if _, ok, _ := cell.Restriction(ctx); ok {
		t.Error("restriction slot still set after clear")
	}
}

func TestMemory_CellsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory[string, int, splitrun.Range[int64]]()

	a, _ := store.Cell(ctx, "a", splitrun.GlobalWindow())
	b, _ := store.Cell(ctx, "b", splitrun.GlobalWindow())
	if err := a.SetElement(ctx, 1); err != nil {
		t.Fatalf("SetElement error: %v", err)
	}
	if _, ok, _ := b.Element(ctx); ok {
		t.Error("write to key a visible under key b")
	}

	// Same key, different window is a distinct cell.
	w := splitrun.Window{Start: 0, End: 100}
	aw, _ := store.Cell(ctx, "a", w)
	if _, ok, _ := aw.Element(ctx); ok {
		t.Error("write to the global window visible under another window")
	}
}

func TestMemory_CellHandleIsStable(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory[string, int, splitrun.Range[int64]]()

	first, _ := store.Cell(ctx, "k", splitrun.GlobalWindow())
	if err := first.SetElement(ctx, 7); err != nil {
		t.Fatalf("SetElement error: %v", err)
	}
	second, _ := store.Cell(ctx, "k", splitrun.GlobalWindow())
	if got, ok, _ := second.Element(ctx); !ok || got != 7 {
		t.Errorf("Element through a second handle = %v, %v; want 7, true", got, ok)
	}
}
