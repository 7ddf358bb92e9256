// Package state provides stores for the engine's per-key, per-window
// three slot state: the in-memory arena here, and a durable bbolt backed
// variant in the boltstate subpackage.
package state

import (
	"context"
	"sync"

	"lostluck.dev/splitrun"
)

// The engine's per-key state is arena style: one cell per (key, window)
// pair, handed out as a handle. Cells are created lazily on first access
// and survive until the store is discarded.

// Memory is an in-process StateStore. It is safe for concurrent use by
// multiple keys; a single cell is still owned by one session at a time.
type Memory[K comparable, E, R any] struct {
	mu    sync.Mutex
	cells map[cellKey[K]]*memCell[E, R]
}

type cellKey[K comparable] struct {
	Key    K
	Window splitrun.Window
}

// NewMemory returns an empty in-memory store.
func NewMemory[K comparable, E, R any]() *Memory[K, E, R] {
	return &Memory[K, E, R]{cells: map[cellKey[K]]*memCell[E, R]{}}
}

// Cell returns the cell for key and w, creating it empty if absent.
func (m *Memory[K, E, R]) Cell(_ context.Context, key K, w splitrun.Window) (splitrun.StateCell[E, R], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ck := cellKey[K]{Key: key, Window: w}
	c, ok := m.cells[ck]
	if !ok {
		c = &memCell[E, R]{}
		m.cells[ck] = c
	}
	return c, nil
}

type memCell[E, R any] struct {
	mu sync.Mutex

	element        E
	hasElement     bool
	restriction    R
	hasRestriction bool
	hold           splitrun.Watermark
	hasHold        bool
}

func (c *memCell[E, R]) Element(context.Context) (E, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.element, c.hasElement, nil
}

func (c *memCell[E, R]) SetElement(_ context.Context, e E) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.element, c.hasElement = e, true
	return nil
}

func (c *memCell[E, R]) ClearElement(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero E
	c.element, c.hasElement = zero, false
	return nil
}

func (c *memCell[E, R]) Restriction(context.Context) (R, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restriction, c.hasRestriction, nil
}

func (c *memCell[E, R]) SetRestriction(_ context.Context, r R) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restriction, c.hasRestriction = r, true
	return nil
}

func (c *memCell[E, R]) ClearRestriction(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero R
	c.restriction, c.hasRestriction = zero, false
	return nil
}

func (c *memCell[E, R]) WatermarkHold(context.Context) (splitrun.Watermark, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hold, c.hasHold, nil
}

func (c *memCell[E, R]) SetWatermarkHold(_ context.Context, w splitrun.Watermark) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold, c.hasHold = w, true
	return nil
}

var _ splitrun.StateStore[string, int, int] = (*Memory[string, int, int])(nil)
