// Package script implements heap scripts, a tiny line-oriented language to
// build graphs of cells, designate roots and run collections. See grammar.ebnf
// for its syntax.
//
//	alloc a b c
//	set a = (1, &b)
//	set b = &c
//	set c = &a
//	root &a
//	collect
//	dump
package script

import (
	"text/scanner"

	"github.com/mna/marksweep/heap/value"
)

// Program is a parsed heap script.
type Program struct {
	Filename string
	Stmts    []Stmt
}

type (
	// Stmt is a statement of a script.
	Stmt interface {
		Pos() scanner.Position
		stmt()
	}

	// AllocStmt allocates a cell for each name and binds the name to it.
	AllocStmt struct {
		Start scanner.Position
		Names []string
	}

	// SetStmt stores the result of an expression in the cell bound to Name.
	SetStmt struct {
		Start scanner.Position
		Name  string
		Value Expr
	}

	// RootStmt adds a value to the root set.
	RootStmt struct {
		Start scanner.Position
		Value Expr
	}

	// UnrootStmt clears the root set.
	UnrootStmt struct{ Start scanner.Position }

	// CollectStmt runs a collection with the current root set.
	CollectStmt struct{ Start scanner.Position }

	// DumpStmt prints the value of each named cell.
	DumpStmt struct{ Start scanner.Position }
)

func (s *AllocStmt) Pos() scanner.Position   { return s.Start }
func (s *SetStmt) Pos() scanner.Position     { return s.Start }
func (s *RootStmt) Pos() scanner.Position    { return s.Start }
func (s *UnrootStmt) Pos() scanner.Position  { return s.Start }
func (s *CollectStmt) Pos() scanner.Position { return s.Start }
func (s *DumpStmt) Pos() scanner.Position    { return s.Start }

func (s *AllocStmt) stmt()   {}
func (s *SetStmt) stmt()     {}
func (s *RootStmt) stmt()    {}
func (s *UnrootStmt) stmt()  {}
func (s *CollectStmt) stmt() {}
func (s *DumpStmt) stmt()    {}

type (
	// Expr is an expression producing a value.
	Expr interface {
		Pos() scanner.Position
		expr()
	}

	// Literal is a scalar value: int, float, string or uninit.
	Literal struct {
		Start scanner.Position
		Value value.Value
	}

	// RefExpr is a reference to the cell bound to Name.
	RefExpr struct {
		Start scanner.Position
		Name  string
	}

	// ProductExpr builds a product of its elements.
	ProductExpr struct {
		Start scanner.Position
		Elems []Expr
	}
)

func (e *Literal) Pos() scanner.Position     { return e.Start }
func (e *RefExpr) Pos() scanner.Position     { return e.Start }
func (e *ProductExpr) Pos() scanner.Position { return e.Start }

func (e *Literal) expr()     {}
func (e *RefExpr) expr()     {}
func (e *ProductExpr) expr() {}
