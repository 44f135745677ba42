package gc

// nilCell is the index used as the null link of the allocation list.
const nilCell int32 = -1

// A cell is one slot of the collector's arena. While live, it is linked in the
// collector's allocation list through next; once released, it waits on the
// free stack to be reused and its generation is bumped so that outstanding
// handles to the previous occupant are detected as stale.
type cell[T any] struct {
	next    int32
	gen     uint32
	live    bool
	visited bool
	payload T
}

// reset prepares the cell for a new occupant.
func (c *cell[T]) reset(next int32) {
	var zero T
	c.next = next
	c.live = true
	c.visited = false
	c.payload = zero
}

// release drops the payload so that anything it points to can be collected
// by the Go runtime, and invalidates handles to the cell.
func (c *cell[T]) release() {
	var zero T
	c.payload = zero
	c.next = nilCell
	c.live = false
	c.visited = false
	c.gen++
	if c.gen == 0 {
		// generation 0 is reserved for the zero Handle
		c.gen = 1
	}
}
