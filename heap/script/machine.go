package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dolthub/swiss"
	"github.com/mna/marksweep/heap/gc"
	"github.com/mna/marksweep/heap/value"
)

// Machine executes heap scripts. The zero value is ready to use; the heap is
// created on the first call to Exec and kept across calls, so that a machine
// can run a sequence of programs on the same cells.
type Machine struct {
	// Stdout is where the output of dump and collect statements is written. If
	// nil, os.Stdout is used.
	Stdout io.Writer

	// MaxCells is the maximum number of live cells of the heap, <= 0 means no
	// limit. Allocating past the limit fails the statement.
	MaxCells int

	// TraceFree prints each cell reclaimed by a collection.
	TraceFree bool

	heap  *value.Heap
	names *swiss.Map[string, gc.Handle[value.Value]]
	order []string // names in order of first allocation
	roots []value.Value
}

func (m *Machine) init() {
	if m.heap != nil {
		return
	}
	if m.Stdout == nil {
		m.Stdout = os.Stdout
	}
	m.heap = value.NewHeap()
	m.heap.MaxCells = m.MaxCells
	if m.TraceFree {
		m.heap.OnFree = func(h gc.Handle[value.Value], v value.Value) {
			fmt.Fprintf(m.Stdout, "free %s = %s\n", h, v)
		}
	}
	m.names = swiss.NewMap[string, gc.Handle[value.Value]](8)
}

// Heap returns the heap of the machine, or nil if no program was executed
// yet.
func (m *Machine) Heap() *value.Heap { return m.heap }

// Lookup returns the handle of the cell bound to name.
func (m *Machine) Lookup(name string) (gc.Handle[value.Value], bool) {
	if m.names == nil {
		return gc.Handle[value.Value]{}, false
	}
	return m.names.Get(name)
}

// Exec executes the statements of prog in order. It stops at the first
// failing statement and returns its error, prefixed with the statement's
// position. The context is checked before each statement.
func (m *Machine) Exec(ctx context.Context, prog *Program) error {
	m.init()
	for _, stmt := range prog.Stmts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.exec(stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt.Pos(), err)
		}
	}
	return nil
}

func (m *Machine) exec(stmt Stmt) (err error) {
	defer func() {
		if e := recover(); e != nil {
			var ce *gc.ContractError
			if ee, ok := e.(error); ok && errors.As(ee, &ce) {
				err = ce
				return
			}
			panic(e)
		}
	}()

	switch stmt := stmt.(type) {
	case *AllocStmt:
		for _, name := range stmt.Names {
			h := m.heap.Alloc()
			if _, ok := m.names.Get(name); !ok {
				m.order = append(m.order, name)
			}
			m.names.Put(name, h)
		}

	case *SetStmt:
		h, ok := m.names.Get(stmt.Name)
		if !ok {
			return fmt.Errorf("set %s: undefined cell", stmt.Name)
		}
		v, err := m.eval(stmt.Value)
		if err != nil {
			return err
		}
		if err := value.Ref(h).Set(v); err != nil {
			return fmt.Errorf("set %s: %w", stmt.Name, err)
		}

	case *RootStmt:
		v, err := m.eval(stmt.Value)
		if err != nil {
			return err
		}
		m.roots = append(m.roots, v)

	case *UnrootStmt:
		m.roots = nil

	case *CollectStmt:
		stats := m.heap.Collect(m.roots...)
		fmt.Fprintln(m.Stdout, stats)

	case *DumpStmt:
		for _, name := range m.order {
			h, _ := m.names.Get(name)
			v, err := h.Get()
			if err != nil {
				fmt.Fprintf(m.Stdout, "%s: freed\n", name)
				continue
			}
			fmt.Fprintf(m.Stdout, "%s %s = %s\n", name, h, v)
		}

	default:
		panic(fmt.Sprintf("unexpected statement type: %T", stmt))
	}
	return nil
}

func (m *Machine) eval(expr Expr) (value.Value, error) {
	switch expr := expr.(type) {
	case *Literal:
		return expr.Value, nil

	case *RefExpr:
		h, ok := m.names.Get(expr.Name)
		if !ok {
			return value.Value{}, fmt.Errorf("&%s: undefined cell", expr.Name)
		}
		if !h.Valid() {
			return value.Value{}, fmt.Errorf("&%s: %w", expr.Name, gc.ErrStaleHandle)
		}
		return value.Ref(h), nil

	case *ProductExpr:
		elems := make([]value.Value, 0, len(expr.Elems))
		for _, e := range expr.Elems {
			v, err := m.eval(e)
			if err != nil {
				return value.Value{}, err
			}
			elems = append(elems, v)
		}
		return value.Product(elems...), nil

	default:
		panic(fmt.Sprintf("unexpected expression type: %T", expr))
	}
}
