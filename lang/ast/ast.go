// Package ast defines the pipeline language's abstract syntax tree. Every
// node category (declaration, type expression, expression) is a tagged
// variant implemented as a distinct Go struct; a shared Span field plays
// the role inheritance would in an object-oriented AST.
package ast

import "github.com/kbukum/flowforge/errors"

// Span is re-exported from errors so AST nodes and diagnostics share one
// source-position representation.
type Span = errors.Span

// Pipeline is the root of a parsed source file.
type Pipeline struct {
	Uses    []*Use
	Types   []*TypeDef
	Inputs  []*InputDecl
	Assigns []*Assignment
	Outputs []*OutputDecl
}

// Decl is any top-level declaration, in source order, used when the parser
// needs to preserve original interleaving (e.g. for formatting or for
// "assignment before use" diagnostics).
type Decl interface{ declNode() }

// Use is a `use QualifiedName (as Ident)?` namespace import.
type Use struct {
	Span      Span
	Namespace string
	Alias     string // "" if absent
}

// TypeDef is a `type Ident = TypeExpr` alias declaration.
type TypeDef struct {
	Span Span
	Name string
	Expr TypeExpr
}

// InputDecl is an `in Ident : TypeExpr` declaration, with zero or more
// @example annotations.
type InputDecl struct {
	Span     Span
	Name     string
	Type     TypeExpr
	Examples []Literal
}

// Assignment is `Ident = Expr`.
type Assignment struct {
	Span Span
	Name string
	Expr Expr
}

// OutputDecl is `out Ident`.
type OutputDecl struct {
	Span Span
	Name string
}

func (*Use) declNode()        {}
func (*TypeDef) declNode()    {}
func (*InputDecl) declNode()  {}
func (*Assignment) declNode() {}
func (*OutputDecl) declNode() {}

// TypeExpr is a parsed type expression, before alias expansion.
type TypeExpr interface {
	typeExprNode()
	span() Span
}

type (
	TString  struct{ Span Span }
	TInt     struct{ Span Span }
	TFloat   struct{ Span Span }
	TBool    struct{ Span Span }
	TList    struct {
		Span Span
		Elem TypeExpr
	}
	TMap struct {
		Span       Span
		Key, Value TypeExpr
	}
	TOptional struct {
		Span Span
		Elem TypeExpr
	}
	TRecordField struct {
		Name string
		Type TypeExpr
	}
	TRecord struct {
		Span   Span
		Fields []TRecordField
	}
	TUnion struct {
		Span    Span
		Members []TypeExpr
	}
	// TRef is either a type alias reference or a bare identifier type.
	TRef struct {
		Span Span
		Name string
	}
)

func (t TString) typeExprNode()   {}
func (t TInt) typeExprNode()      {}
func (t TFloat) typeExprNode()    {}
func (t TBool) typeExprNode()     {}
func (t TList) typeExprNode()     {}
func (t TMap) typeExprNode()      {}
func (t TOptional) typeExprNode() {}
func (t TRecord) typeExprNode()   {}
func (t TUnion) typeExprNode()    {}
func (t TRef) typeExprNode()      {}

func (t TString) span() Span   { return t.Span }
func (t TInt) span() Span      { return t.Span }
func (t TFloat) span() Span    { return t.Span }
func (t TBool) span() Span     { return t.Span }
func (t TList) span() Span     { return t.Span }
func (t TMap) span() Span      { return t.Span }
func (t TOptional) span() Span { return t.Span }
func (t TRecord) span() Span   { return t.Span }
func (t TUnion) span() Span    { return t.Span }
func (t TRef) span() Span      { return t.Span }

// Span returns a TypeExpr's source span.
func TypeSpan(t TypeExpr) Span { return t.span() }

// Literal is a parsed literal value (string, int, float, bool).
type Literal struct {
	Span Span
	Kind LiteralKind
	Str  string
	Int  int64
	Flt  float64
	Bool bool
}

type LiteralKind int

const (
	LitString LiteralKind = iota
	LitInt
	LitFloat
	LitBool
)

// Option is a single `Ident : OptionValue` entry of a with-clause.
type Option struct {
	Span  Span
	Name  string
	Value Expr
}

// Expr is a parsed expression, carrying only syntax — types are attached
// later by the checker via a side table keyed by node identity.
type Expr interface {
	exprNode()
	Spn() Span
}

// Base carries the source span shared by every Expr node, playing the role
// inheritance would in an object-oriented AST.
type Base struct{ Span Span }

func (b Base) Spn() Span { return b.Span }

type (
	LiteralExpr struct {
		Base
		Lit Literal
	}
	Ident struct {
		Base
		Name string
	}
	ListLit struct {
		Base
		Elements []Expr
	}
	RecordField struct {
		Name  string
		Value Expr
	}
	RecordLit struct {
		Base
		Fields []RecordField
	}
	FieldAccess struct {
		Base
		Target Expr
		Field  string
	}
	Projection struct {
		Base
		Target Expr
		Fields []string
	}
	Merge struct {
		Base
		Left, Right Expr
	}
	If struct {
		Base
		Cond, Then, Else Expr
	}
	BranchCase struct {
		Cond Expr
		Then Expr
	}
	Branch struct {
		Base
		Cases     []BranchCase
		Otherwise Expr
	}
	BinOp struct {
		Base
		Op          string
		Left, Right Expr
	}
	Not struct {
		Base
		Operand Expr
	}
	Coalesce struct {
		Base
		Left, Right Expr
	}
	Guard struct {
		Base
		Value Expr
		Cond  Expr
	}
	Lambda struct {
		Base
		Params []string
		Body   Expr
	}
	Call struct {
		Base
		Qualified string
		Args      []Expr
		Options   []Option
	}
	Interpolation struct {
		Base
		Parts []InterpPart
	}
)

// InterpPart is a literal chunk or an embedded expression inside a string
// interpolation.
type InterpPart struct {
	Literal string
	Expr    Expr // nil for a literal-only part
}

func (LiteralExpr) exprNode()   {}
func (Ident) exprNode()         {}
func (ListLit) exprNode()       {}
func (RecordLit) exprNode()     {}
func (FieldAccess) exprNode()   {}
func (Projection) exprNode()    {}
func (Merge) exprNode()         {}
func (If) exprNode()            {}
func (Branch) exprNode()        {}
func (BinOp) exprNode()         {}
func (Not) exprNode()           {}
func (Coalesce) exprNode()      {}
func (Guard) exprNode()         {}
func (Lambda) exprNode()        {}
func (Call) exprNode()          {}
func (Interpolation) exprNode() {}
