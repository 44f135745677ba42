// Package gc implements a small stop-the-world mark-and-sweep garbage
// collector over an arena of cells. Cells are allocated with Collector.Alloc
// and referenced through lightweight Handles; Collector.Collect reclaims every
// cell that is not reachable from the provided roots, as discovered through
// the Tracer implementation of the payload type.
//
// A Collector is not safe for concurrent use. All mutation of the graph must
// be paused for the duration of a collection, which the collector enforces
// for mutations made through its handles.
package gc

import (
	"fmt"
	"math"
)

type phase uint8

const (
	idle phase = iota
	marking
	sweeping
	mutating
)

func (p phase) String() string {
	switch p {
	case marking:
		return "marking"
	case sweeping:
		return "sweeping"
	case mutating:
		return "mutating"
	default:
		return "idle"
	}
}

// Collector owns the cells of a heap. It must be created with New.
type Collector[T any] struct {
	// MaxCells is the maximum number of live cells. Once reached, Alloc fails
	// by panicking with a *ContractError wrapping ErrCellLimit. A value <= 0
	// means no limit other than the available memory.
	MaxCells int

	// OnFree is an optional function called by the sweep phase for each
	// reclaimed cell, just before its payload is released. It must not
	// allocate, mutate or collect.
	OnFree func(h Handle[T], v T)

	cells []cell[T]
	head  int32   // first cell of the allocation list, nilCell if empty
	free  []int32 // released cells available for reuse
	live  int

	trace  func(T)
	gray   []int32 // marked cells whose payload is not traced yet
	phase  phase
	cycles uint64
}

// Stats describes the result of a collection.
type Stats struct {
	// Cycle is the 1-based sequence number of the collection.
	Cycle uint64
	// Marked is the number of cells proven reachable from the roots.
	Marked int
	// Freed is the number of cells reclaimed.
	Freed int
	// Live is the number of cells left after the sweep.
	Live int
}

func (s Stats) String() string {
	return fmt.Sprintf("collect #%d: marked %d, freed %d, live %d", s.Cycle, s.Marked, s.Freed, s.Live)
}

// New returns an empty collector for payloads of type T.
func New[T Tracer]() *Collector[T] {
	return &Collector[T]{
		head:  nilCell,
		trace: func(v T) { v.Trace() },
	}
}

// Len returns the number of live cells.
func (c *Collector[T]) Len() int { return c.live }

// Cycles returns the number of completed collections.
func (c *Collector[T]) Cycles() uint64 { return c.cycles }

// Alloc allocates a new cell holding the zero value of T and returns a handle
// to it. The cell is unmarked and linked at the head of the allocation list.
func (c *Collector[T]) Alloc() Handle[T] {
	if err := c.busy(); err != nil {
		violation("alloc", err)
	}
	if c.MaxCells > 0 && c.live >= c.MaxCells {
		violation("alloc", fmt.Errorf("%w: %d", ErrCellLimit, c.MaxCells))
	}

	var idx int32
	if n := len(c.free); n > 0 {
		idx = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		if len(c.cells) == math.MaxInt32 {
			violation("alloc", fmt.Errorf("%w: arena full", ErrCellLimit))
		}
		idx = int32(len(c.cells))
		c.cells = append(c.cells, cell[T]{gen: 1})
	}

	cl := &c.cells[idx]
	cl.reset(c.head)
	c.head = idx
	c.live++
	return Handle[T]{c: c, idx: idx, gen: cl.gen}
}

// Collect runs a full collection: it marks every cell reachable from roots by
// calling their Trace method, then sweeps the allocation list, reclaiming the
// unmarked cells and clearing the mark of the surviving ones. It always runs
// to completion. It panics if called while a collection is already running on
// c, e.g. from a Trace method or the OnFree hook.
//
// The payload of a newly marked cell is traced from a work list, not from
// within the Mark call, so the depth of the graph does not grow the stack.
func (c *Collector[T]) Collect(roots ...T) Stats {
	if err := c.busy(); err != nil {
		violation("collect", err)
	}
	var done bool
	defer func() {
		if !done {
			// a Trace or OnFree panic interrupted the collection
			c.unmark()
		}
		c.phase = idle
	}()

	c.phase = marking
	for _, root := range roots {
		c.trace(root)
		c.drain()
	}

	c.phase = sweeping
	c.cycles++
	stats := c.sweep()
	stats.Cycle = c.cycles
	done = true
	return stats
}

// drain traces the payload of every cell on the gray list until it is empty.
// Tracing may mark more cells, which are pushed on the same list.
func (c *Collector[T]) drain() {
	for n := len(c.gray); n > 0; n = len(c.gray) {
		idx := c.gray[n-1]
		c.gray = c.gray[:n-1]
		c.trace(c.cells[idx].payload)
	}
}

// unmark clears the gray list and the mark of every cell in the allocation
// list.
func (c *Collector[T]) unmark() {
	c.gray = c.gray[:0]
	for cur := c.head; cur != nilCell; cur = c.cells[cur].next {
		c.cells[cur].visited = false
	}
}

// sweep walks the allocation list once from the head, unlinking and releasing
// every unmarked cell and resetting the mark of every marked one.
func (c *Collector[T]) sweep() Stats {
	var stats Stats

	prev := nilCell
	for cur := c.head; cur != nilCell; {
		cl := &c.cells[cur]
		next := cl.next
		if cl.visited {
			cl.visited = false
			stats.Marked++
			prev = cur
			cur = next
			continue
		}

		if c.OnFree != nil {
			c.OnFree(Handle[T]{c: c, idx: cur, gen: cl.gen}, cl.payload)
		}
		if prev == nilCell {
			c.head = next
		} else {
			c.cells[prev].next = next
		}
		cl.release()
		c.free = append(c.free, cur)
		c.live--
		stats.Freed++
		cur = next
	}
	stats.Live = c.live
	return stats
}

// Handles returns a handle to each live cell, in allocation list order (most
// recently allocated first).
func (c *Collector[T]) Handles() []Handle[T] {
	hs := make([]Handle[T], 0, c.live)
	for cur := c.head; cur != nilCell; cur = c.cells[cur].next {
		hs = append(hs, Handle[T]{c: c, idx: cur, gen: c.cells[cur].gen})
	}
	return hs
}

// busy returns the error describing why the heap cannot be modified right
// now, or nil if it is idle.
func (c *Collector[T]) busy() error {
	switch c.phase {
	case idle:
		return nil
	case mutating:
		return ErrMutating
	default:
		return fmt.Errorf("%w (%s)", ErrCollecting, c.phase)
	}
}

// lookup returns the cell referenced by h, or an error if h is nil or stale.
func (c *Collector[T]) lookup(idx int32, gen uint32) (*cell[T], error) {
	if idx < 0 || int(idx) >= len(c.cells) {
		return nil, ErrNilHandle
	}
	cl := &c.cells[idx]
	if !cl.live || cl.gen != gen {
		return nil, ErrStaleHandle
	}
	return cl, nil
}
