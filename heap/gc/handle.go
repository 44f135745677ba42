package gc

import "fmt"

// A Handle is a non-owning reference to a cell of a Collector. Handles are
// cheap to copy and comparable; copying one has no effect on reachability,
// which is recomputed from the roots on each collection. The zero Handle
// references no cell.
//
// A handle becomes stale once its cell is reclaimed. Using a stale handle is
// detected: the methods that can report an error return ErrStaleHandle, the
// others panic with a *ContractError.
type Handle[T any] struct {
	c   *Collector[T]
	idx int32
	gen uint32
}

// IsNil returns true if h is the zero Handle.
func (h Handle[T]) IsNil() bool { return h.c == nil }

// Valid returns true if h references a live cell.
func (h Handle[T]) Valid() bool {
	_, err := h.cell()
	return err == nil
}

// Index returns the arena index of the referenced cell, or -1 for the zero
// Handle. Indices of reclaimed cells are reused by later allocations.
func (h Handle[T]) Index() int {
	if h.c == nil {
		return -1
	}
	return int(h.idx)
}

func (h Handle[T]) String() string {
	if h.c == nil {
		return "#nil"
	}
	return fmt.Sprintf("#%d", h.idx)
}

// Mark sets the mark bit of the referenced cell. It may only be called during
// the mark phase of the cell's collector, i.e. from a Trace method invoked by
// Collect, and panics otherwise. When the bit was not set yet, the cell's
// payload is queued to be traced by the collector.
func (h Handle[T]) Mark() {
	cl := h.mustCell("mark")
	if h.c.phase != marking {
		violation("mark", fmt.Errorf("%s: %w (%s)", h, ErrNotMarking, h.c.phase))
	}
	if !cl.visited {
		cl.visited = true
		h.c.gray = append(h.c.gray, h.idx)
	}
}

// Marked returns the mark bit of the referenced cell.
func (h Handle[T]) Marked() bool {
	return h.mustCell("marked").visited
}

// Load returns a copy of the payload of the referenced cell. It panics if the
// handle is stale.
func (h Handle[T]) Load() T {
	return h.mustCell("load").payload
}

// Get returns a copy of the payload of the referenced cell.
func (h Handle[T]) Get() (T, error) {
	cl, err := h.cell()
	if err != nil {
		var zero T
		return zero, err
	}
	return cl.payload, nil
}

// Mutate calls fn with exclusive access to the payload of the referenced
// cell. The pointer must not be retained after fn returns. It fails if the
// handle is stale or a collection is in progress.
func (h Handle[T]) Mutate(fn func(*T)) error {
	cl, err := h.cell()
	if err != nil {
		return fmt.Errorf("mutate %s: %w", h, err)
	}
	if err := h.c.busy(); err != nil {
		return fmt.Errorf("mutate %s: %w", h, err)
	}

	// fn holds a pointer into the arena, it must not be able to grow it,
	// collect or start another mutation
	h.c.phase = mutating
	defer func() { h.c.phase = idle }()
	fn(&cl.payload)
	return nil
}

func (h Handle[T]) cell() (*cell[T], error) {
	if h.c == nil {
		return nil, ErrNilHandle
	}
	return h.c.lookup(h.idx, h.gen)
}

func (h Handle[T]) mustCell(op string) *cell[T] {
	cl, err := h.cell()
	if err != nil {
		violation(op, fmt.Errorf("%s: %w", h, err))
	}
	return cl
}
