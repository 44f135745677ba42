// Package value implements the tagged values stored in the cells of a heap:
// integers, floats, strings, products (ordered sequences of values) and
// references to other cells. Products and references are the only values
// that can make a cell reachable.
package value

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mna/marksweep/heap/gc"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// List of value kinds.
const (
	KindUninit Kind = iota
	KindInt
	KindFloat
	KindString
	KindProduct
	KindRef
)

var kindNames = [...]string{
	KindUninit:  "uninit",
	KindInt:     "int",
	KindFloat:   "float",
	KindString:  "string",
	KindProduct: "product",
	KindRef:     "ref",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ErrNotRef is the cause of the contract violation raised when a value that
// is not a reference is mutated.
var ErrNotRef = errors.New("value is not a reference")

// Heap is a collector of cells holding values.
type Heap = gc.Collector[Value]

// NewHeap returns an empty heap.
func NewHeap() *Heap { return gc.New[Value]() }

// Alloc allocates an uninitialized cell in h and returns a reference to it.
func Alloc(h *Heap) Value { return Ref(h.Alloc()) }

// AllocMany allocates n uninitialized cells in h and returns a reference to
// each.
func AllocMany(h *Heap, n int) []Value {
	vs := make([]Value, n)
	for i := range vs {
		vs[i] = Alloc(h)
	}
	return vs
}

// A Value is a tagged union of the supported variants. The zero value is an
// uninitialized value, which is what a freshly allocated cell holds.
type Value struct {
	kind  Kind
	num   int64 // KindInt
	flt   float64
	str   string
	elems []Value
	ref   gc.Handle[Value]
}

var _ gc.Tracer = Value{}

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, num: i} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, flt: f} }

// String returns a text value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Product returns an ordered sequence of values. Callers should not
// subsequently modify elems.
func Product(elems ...Value) Value { return Value{kind: KindProduct, elems: elems} }

// Ref returns a reference to the cell identified by h.
func Ref(h gc.Handle[Value]) Value { return Value{kind: KindRef, ref: h} }

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// Type returns a short string describing the value's type.
func (v Value) Type() string { return v.kind.String() }

// AsInt returns the integer held by v, if it is one.
func (v Value) AsInt() (int64, bool) { return v.num, v.kind == KindInt }

// AsFloat returns the float held by v, if it is one.
func (v Value) AsFloat() (float64, bool) { return v.flt, v.kind == KindFloat }

// AsString returns the text held by v, if it is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsRef returns the handle held by v, if it is a reference.
func (v Value) AsRef() (gc.Handle[Value], bool) { return v.ref, v.kind == KindRef }

// Len returns the number of elements of a product, 0 for any other value.
func (v Value) Len() int { return len(v.elems) }

// Index returns the element at index i of a product, which must satisfy 0 <=
// i < Len().
func (v Value) Index(i int) Value { return v.elems[i] }

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindProduct:
		var sb strings.Builder
		sb.WriteByte('(')
		for i, e := range v.elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.String())
		}
		if len(v.elems) == 1 {
			sb.WriteByte(',')
		}
		sb.WriteByte(')')
		return sb.String()
	case KindRef:
		return "&" + v.ref.String()
	default:
		return "uninit"
	}
}

// Trace marks the cells referenced by v. A reference marks its target only if
// it is not marked yet, the collector then traces the target's value once.
func (v Value) Trace() {
	switch v.kind {
	case KindProduct:
		for _, e := range v.elems {
			e.Trace()
		}
	case KindRef:
		if !v.ref.Marked() {
			v.ref.Mark()
		}
	}
}

// Mutate calls fn with exclusive access to the value held in the cell
// referenced by v. It panics with a *gc.ContractError if v is not a
// reference, and fails if the cell has been reclaimed or the heap is busy.
func (v Value) Mutate(fn func(*Value)) error {
	if v.kind != KindRef {
		panic(&gc.ContractError{Op: "mutate", Err: fmt.Errorf("%w: %s", ErrNotRef, v.kind)})
	}
	return v.ref.Mutate(fn)
}

// Set stores x in the cell referenced by v. It is a shorthand for a Mutate
// that replaces the whole value.
func (v Value) Set(x Value) error {
	return v.Mutate(func(p *Value) { *p = x })
}

// Deref returns the value held in the cell referenced by v.
func (v Value) Deref() (Value, error) {
	if v.kind != KindRef {
		return Value{}, fmt.Errorf("deref %s: %w", v.kind, ErrNotRef)
	}
	return v.ref.Get()
}

// Equal reports whether x and y hold the same variant and the same data.
// References are equal if they designate the same cell, products if their
// elements are pairwise equal. Floats compare as Go floats, so NaN is never
// equal to itself.
func Equal(x, y Value) bool {
	if x.kind != y.kind {
		return false
	}
	switch x.kind {
	case KindInt:
		return x.num == y.num
	case KindFloat:
		return x.flt == y.flt
	case KindString:
		return x.str == y.str
	case KindRef:
		return x.ref == y.ref
	case KindProduct:
		if len(x.elems) != len(y.elems) {
			return false
		}
		for i := range x.elems {
			if !Equal(x.elems[i], y.elems[i]) {
				return false
			}
		}
	}
	return true
}
