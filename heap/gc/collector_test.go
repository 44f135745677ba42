package gc_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/mna/marksweep/heap/gc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// node is a minimal payload: an integer and a list of edges.
type node struct {
	n     int
	edges []gc.Handle[node]
}

func (nd node) Trace() {
	for _, h := range nd.edges {
		h.Mark()
	}
}

// ref is a root holding a single handle, traced the same way as an edge.
func ref(h gc.Handle[node]) node {
	return node{n: -1, edges: []gc.Handle[node]{h}}
}

func link(t *testing.T, from gc.Handle[node], to ...gc.Handle[node]) {
	t.Helper()
	err := from.Mutate(func(nd *node) { nd.edges = append(nd.edges, to...) })
	require.NoError(t, err)
}

func setN(t *testing.T, h gc.Handle[node], n int) {
	t.Helper()
	require.NoError(t, h.Mutate(func(nd *node) { nd.n = n }))
}

func alive(hs ...gc.Handle[node]) []bool {
	res := make([]bool, len(hs))
	for i, h := range hs {
		res[i] = h.Valid()
	}
	return res
}

// catch runs fn and returns the *gc.ContractError it panicked with, if any.
func catch(fn func()) (err error) {
	defer func() {
		if e := recover(); e != nil {
			ce, ok := e.(*gc.ContractError)
			if !ok {
				panic(e)
			}
			err = ce
		}
	}()
	fn()
	return nil
}

func TestAlloc(t *testing.T) {
	c := gc.New[node]()
	require.Equal(t, 0, c.Len())
	require.Empty(t, c.Handles())

	a, b, d := c.Alloc(), c.Alloc(), c.Alloc()
	require.Equal(t, 3, c.Len())

	// most recent first
	require.Equal(t, []gc.Handle[node]{d, b, a}, c.Handles())
	for _, h := range []gc.Handle[node]{a, b, d} {
		assert.True(t, h.Valid())
		assert.False(t, h.Marked())
		v, err := h.Get()
		require.NoError(t, err)
		assert.Equal(t, node{}, v)
	}
	assert.Equal(t, "#0", a.String())
	assert.Equal(t, 2, d.Index())
}

func TestCollectTwoCycles(t *testing.T) {
	c := gc.New[node]()
	hs := make([]gc.Handle[node], 6)
	for i := range hs {
		hs[i] = c.Alloc()
		setN(t, hs[i], i)
	}
	a, b, cc, d, e, f := hs[0], hs[1], hs[2], hs[3], hs[4], hs[5]
	link(t, a, b)
	link(t, b, cc)
	link(t, cc, a)
	link(t, d, e)
	link(t, e, f)
	link(t, f, d)

	var freed []int
	c.OnFree = func(_ gc.Handle[node], v node) { freed = append(freed, v.n) }

	stats := c.Collect(ref(a))
	assert.Equal(t, gc.Stats{Cycle: 1, Marked: 3, Freed: 3, Live: 3}, stats)
	assert.Equal(t, []bool{true, true, true, false, false, false}, alive(hs...))
	// sweep goes from the most recent allocation to the oldest
	assert.Equal(t, []int{5, 4, 3}, freed)
	assert.Equal(t, []gc.Handle[node]{cc, b, a}, c.Handles())
}

func TestCollectProduct(t *testing.T) {
	c := gc.New[node]()
	c1, c2, c3, c4 := c.Alloc(), c.Alloc(), c.Alloc(), c.Alloc()
	link(t, c1, c2, c3)

	v, err := c1.Get()
	require.NoError(t, err)
	stats := c.Collect(v)

	// the root is a copy of cell 1's payload, cell 1 itself is not referenced
	assert.Equal(t, 2, stats.Marked)
	assert.Equal(t, []bool{false, true, true, false}, alive(c1, c2, c3, c4))

	c = gc.New[node]()
	c1, c2, c3, c4 = c.Alloc(), c.Alloc(), c.Alloc(), c.Alloc()
	link(t, c1, c2, c3)
	stats = c.Collect(ref(c1))
	assert.Equal(t, gc.Stats{Cycle: 1, Marked: 3, Freed: 1, Live: 3}, stats)
	assert.Equal(t, []bool{true, true, true, false}, alive(c1, c2, c3, c4))
}

func TestCollectNoRoots(t *testing.T) {
	c := gc.New[node]()
	hs := []gc.Handle[node]{c.Alloc(), c.Alloc(), c.Alloc()}
	link(t, hs[0], hs[1])
	link(t, hs[1], hs[0])

	stats := c.Collect()
	assert.Equal(t, gc.Stats{Cycle: 1, Freed: 3}, stats)
	assert.Equal(t, []bool{false, false, false}, alive(hs...))
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Handles())

	// collecting an empty heap is fine
	stats = c.Collect()
	assert.Equal(t, gc.Stats{Cycle: 2}, stats)
}

func TestCollectIdempotent(t *testing.T) {
	c := gc.New[node]()
	a, b, d := c.Alloc(), c.Alloc(), c.Alloc()
	link(t, a, b)
	link(t, b, a)

	var nfree int
	c.OnFree = func(gc.Handle[node], node) { nfree++ }

	first := c.Collect(ref(a))
	assert.Equal(t, 1, first.Freed)
	assert.False(t, d.Valid())

	second := c.Collect(ref(a))
	assert.Equal(t, 0, second.Freed)
	assert.Equal(t, 2, second.Marked)
	assert.Equal(t, 1, nfree)
	assert.True(t, a.Valid())
	assert.True(t, b.Valid())
	assert.Equal(t, uint64(2), c.Cycles())
}

func TestCollectResetsMarks(t *testing.T) {
	c := gc.New[node]()
	a, b := c.Alloc(), c.Alloc()
	link(t, a, b)

	stats := c.Collect(ref(a))
	require.Equal(t, 0, stats.Freed)
	assert.False(t, a.Marked())
	assert.False(t, b.Marked())

	// b is no longer reachable, it must be reclaimed by the next collection
	require.NoError(t, a.Mutate(func(nd *node) { nd.edges = nil }))
	stats = c.Collect(ref(a))
	assert.Equal(t, 1, stats.Freed)
	assert.True(t, a.Valid())
	assert.False(t, b.Valid())

	// and a once it is not a root anymore
	stats = c.Collect()
	assert.Equal(t, 1, stats.Freed)
	assert.False(t, a.Valid())
}

func TestCollectUnrootedCycle(t *testing.T) {
	for _, n := range []int{1, 2, 3, 10, 1000} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			c := gc.New[node]()
			hs := make([]gc.Handle[node], n)
			for i := range hs {
				hs[i] = c.Alloc()
			}
			for i, h := range hs {
				link(t, h, hs[(i+1)%n])
			}
			// a root elsewhere in the heap keeps its own cell only
			other := c.Alloc()

			stats := c.Collect(ref(other))
			assert.Equal(t, n, stats.Freed)
			assert.Equal(t, 1, stats.Live)
			for _, h := range hs {
				assert.False(t, h.Valid())
			}
		})
	}
}

func TestCollectSharedSubgraph(t *testing.T) {
	c := gc.New[node]()
	shared := c.Alloc()
	var parents []gc.Handle[node]
	for i := 0; i < 5; i++ {
		p := c.Alloc()
		link(t, p, shared, shared)
		parents = append(parents, p)
	}

	var nfree int
	roots := make([]node, 0, len(parents))
	for _, p := range parents {
		roots = append(roots, ref(p))
	}
	c.OnFree = func(gc.Handle[node], node) { nfree++ }
	stats := c.Collect(roots...)
	assert.Equal(t, 6, stats.Marked)
	assert.Equal(t, 0, nfree)
}

// TestCollectReachability compares the survivors of a collection on random
// graphs with the closure of the roots computed independently.
func TestCollectReachability(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	for i := 0; i < 50; i++ {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			c := gc.New[node]()
			n := 1 + rnd.Intn(60)
			hs := make([]gc.Handle[node], n)
			adj := make([][]int, n)
			for j := range hs {
				hs[j] = c.Alloc()
			}
			for j := range hs {
				for k := rnd.Intn(4); k > 0; k-- {
					to := rnd.Intn(n)
					adj[j] = append(adj[j], to)
					link(t, hs[j], hs[to])
				}
			}

			var roots []node
			want := make([]bool, n)
			var stack []int
			for k := rnd.Intn(4); k > 0; k-- {
				r := rnd.Intn(n)
				roots = append(roots, ref(hs[r]))
				stack = append(stack, r)
			}
			for len(stack) > 0 {
				j := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if want[j] {
					continue
				}
				want[j] = true
				stack = append(stack, adj[j]...)
			}

			var nwant int
			for _, ok := range want {
				if ok {
					nwant++
				}
			}

			stats := c.Collect(roots...)
			assert.Equal(t, want, alive(hs...))
			assert.Equal(t, nwant, stats.Marked)
			assert.Equal(t, n-nwant, stats.Freed)
			assert.Equal(t, nwant, c.Len())
			assert.Len(t, c.Handles(), nwant)

			// a second pass changes nothing
			stats = c.Collect(roots...)
			assert.Equal(t, 0, stats.Freed)
			assert.Equal(t, want, alive(hs...))
		})
	}
}

func TestStaleHandle(t *testing.T) {
	c := gc.New[node]()
	a := c.Alloc()
	setN(t, a, 42)
	c.Collect()

	require.False(t, a.Valid())
	_, err := a.Get()
	assert.ErrorIs(t, err, gc.ErrStaleHandle)
	err = a.Mutate(func(*node) { t.Fatal("must not be called") })
	assert.ErrorIs(t, err, gc.ErrStaleHandle)

	err = catch(a.Mark)
	assert.ErrorIs(t, err, gc.ErrStaleHandle)
	err = catch(func() { a.Marked() })
	assert.ErrorIs(t, err, gc.ErrStaleHandle)
	err = catch(func() { a.Load() })
	assert.ErrorIs(t, err, gc.ErrStaleHandle)

	// the slot is reused, but the old handle stays stale
	b := c.Alloc()
	assert.Equal(t, a.Index(), b.Index())
	assert.NotEqual(t, a, b)
	assert.False(t, a.Valid())
	v, err := b.Get()
	require.NoError(t, err)
	assert.Equal(t, 0, v.n)
}

func TestNilHandle(t *testing.T) {
	var h gc.Handle[node]
	assert.True(t, h.IsNil())
	assert.False(t, h.Valid())
	assert.Equal(t, -1, h.Index())
	assert.Equal(t, "#nil", h.String())

	_, err := h.Get()
	assert.ErrorIs(t, err, gc.ErrNilHandle)
	assert.ErrorIs(t, h.Mutate(func(*node) {}), gc.ErrNilHandle)
	assert.ErrorIs(t, catch(h.Mark), gc.ErrNilHandle)
}

func TestMaxCells(t *testing.T) {
	c := gc.New[node]()
	c.MaxCells = 2
	a := c.Alloc()
	c.Alloc()

	err := catch(func() { c.Alloc() })
	require.ErrorIs(t, err, gc.ErrCellLimit)
	var ce *gc.ContractError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "alloc", ce.Op)

	// collecting makes room again
	c.Collect(ref(a))
	assert.Equal(t, 1, c.Len())
	assert.NoError(t, catch(func() { c.Alloc() }))
}

func TestBusyHeap(t *testing.T) {
	c := gc.New[node]()
	a, b := c.Alloc(), c.Alloc()

	var mutErr, allocErr, collectErr error
	c.OnFree = func(h gc.Handle[node], _ node) {
		mutErr = a.Mutate(func(*node) {})
		allocErr = catch(func() { c.Alloc() })
		collectErr = catch(func() { c.Collect() })
	}
	c.Collect(ref(a))
	assert.False(t, b.Valid())
	assert.ErrorIs(t, mutErr, gc.ErrCollecting)
	assert.ErrorIs(t, allocErr, gc.ErrCollecting)
	assert.ErrorIs(t, collectErr, gc.ErrCollecting)

	// the collector is usable again after the collection
	c.OnFree = nil
	require.NoError(t, a.Mutate(func(nd *node) {
		mutErr = b.Mutate(func(*node) {})
		allocErr = catch(func() { c.Alloc() })
		collectErr = catch(func() { c.Collect() })
	}))
	assert.ErrorIs(t, mutErr, gc.ErrStaleHandle)
	assert.ErrorIs(t, allocErr, gc.ErrMutating)
	assert.ErrorIs(t, collectErr, gc.ErrMutating)

	d := c.Alloc()
	require.NoError(t, a.Mutate(func(*node) {
		mutErr = d.Mutate(func(*node) {})
	}))
	assert.ErrorIs(t, mutErr, gc.ErrMutating)
}

func TestCollectAfterTracePanic(t *testing.T) {
	c := gc.New[node]()
	a := c.Alloc()
	stale := c.Alloc()
	c.Collect(ref(a))
	require.False(t, stale.Valid())

	// a root holding a stale handle is a contract violation
	b := c.Alloc()
	link(t, a, b)
	err := catch(func() { c.Collect(ref(a), ref(stale)) })
	require.ErrorIs(t, err, gc.ErrStaleHandle)

	// the marks set before the panic are dropped
	assert.False(t, a.Marked())
	assert.False(t, b.Marked())
	stats := c.Collect(ref(b))
	assert.Equal(t, gc.Stats{Cycle: 2, Marked: 1, Freed: 1, Live: 1}, stats)
	assert.Equal(t, []bool{false, true}, alive(a, b))
}

func TestCollectAfterOnFreePanic(t *testing.T) {
	c := gc.New[node]()
	a, b := c.Alloc(), c.Alloc()
	c.OnFree = func(gc.Handle[node], node) { panic("boom") }

	assert.PanicsWithValue(t, "boom", func() { c.Collect(ref(a)) })
	assert.False(t, a.Marked())
	assert.True(t, b.Valid())

	c.OnFree = nil
	stats := c.Collect()
	assert.Equal(t, 2, stats.Freed)
	assert.Equal(t, []bool{false, false}, alive(a, b))
}

func TestMarkOutsideCollect(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		c := gc.New[node]()
		a := c.Alloc()

		err := catch(a.Mark)
		require.ErrorIs(t, err, gc.ErrNotMarking)
		assert.EqualError(t, err, "gc: mark: #0: not in mark phase (idle)")
		assert.False(t, a.Marked())

		stats := c.Collect()
		assert.Equal(t, gc.Stats{Cycle: 1, Marked: 0, Freed: 1, Live: 0}, stats)
		assert.False(t, a.Valid())
	})

	t.Run("sweep", func(t *testing.T) {
		c := gc.New[node]()
		x := c.Alloc()
		y := c.Alloc()
		root := c.Alloc()

		// y is swept first, marking x from the hook must not save it
		var markErr error
		c.OnFree = func(h gc.Handle[node], _ node) {
			if h == y {
				markErr = catch(x.Mark)
			}
		}
		stats := c.Collect(ref(root))
		require.ErrorIs(t, markErr, gc.ErrNotMarking)
		assert.Equal(t, 2, stats.Freed)
		assert.Equal(t, []bool{false, false, true}, alive(x, y, root))
	})

	t.Run("other collector", func(t *testing.T) {
		c, other := gc.New[node](), gc.New[node]()
		a := c.Alloc()
		o := other.Alloc()

		err := catch(func() { c.Collect(ref(a), ref(o)) })
		require.ErrorIs(t, err, gc.ErrNotMarking)
		assert.False(t, a.Marked())
		assert.False(t, o.Marked())

		other.Collect()
		assert.False(t, o.Valid())
		c.Collect(ref(a))
		assert.True(t, a.Valid())
	})
}

func TestCollectLongChain(t *testing.T) {
	const n = 1 << 20

	c := gc.New[node]()
	hs := make([]gc.Handle[node], n)
	for i := range hs {
		hs[i] = c.Alloc()
	}
	for i := 0; i < n-1; i++ {
		link(t, hs[i], hs[i+1])
	}

	stats := c.Collect(ref(hs[0]))
	assert.Equal(t, gc.Stats{Cycle: 1, Marked: n, Freed: 0, Live: n}, stats)

	// close the chain into a cycle and drop the root
	link(t, hs[n-1], hs[0])
	stats = c.Collect()
	assert.Equal(t, gc.Stats{Cycle: 2, Marked: 0, Freed: n, Live: 0}, stats)
}
