// Package check implements the pipeline language's bidirectional type
// checker: Synthesize infers a type bottom-up, Check verifies an
// expression against an expected type top-down. Both accumulate
// diagnostics rather than stopping at the first type error.
package check

import (
	"fmt"

	"github.com/kbukum/flowforge/errors"
	"github.com/kbukum/flowforge/lang/ast"
	"github.com/kbukum/flowforge/lang/resolve"
	"github.com/kbukum/flowforge/semtype"
)

// Checker holds the state shared across one pipeline's type-checking pass:
// the resolved aliases/calls from the name resolver, the accumulating
// variable scope, and the side table of synthesized expression types that
// the DAG compiler consumes next.
type Checker struct {
	resolved resolve.Result

	scope map[string]semtype.SemType
	types map[ast.Span]semtype.SemType

	diagnostics []errors.Diagnostic
}

// Result is the typed-IR side table the compiler reads.
type Result struct {
	InputTypes  map[string]semtype.SemType
	ExprTypes   map[ast.Span]semtype.SemType
	CallOptions map[ast.Span]CallOptions
	Diagnostics []errors.Diagnostic
}

// New creates a Checker seeded with a name-resolution result.
func New(resolved resolve.Result) *Checker {
	return &Checker{
		resolved: resolved,
		scope:    make(map[string]semtype.SemType),
		types:    make(map[ast.Span]semtype.SemType),
	}
}

// Check type-checks a full pipeline and returns the typed IR.
func Check(pipeline *ast.Pipeline, resolved resolve.Result) Result {
	c := New(resolved)
	c.diagnostics = append(c.diagnostics, resolved.Diagnostics...)

	inputTypes := make(map[string]semtype.SemType, len(pipeline.Inputs))
	for _, in := range pipeline.Inputs {
		t := c.expandTypeExpr(in.Type)
		inputTypes[in.Name] = t
		c.scope[in.Name] = t
	}

	callOptions := make(map[ast.Span]CallOptions)
	for _, a := range pipeline.Assigns {
		t := c.synthesize(a.Expr)
		c.scope[a.Name] = t
		if call, ok := a.Expr.(ast.Call); ok {
			if opts, ok := c.optionsFor(call); ok {
				callOptions[call.Spn()] = opts
			}
		}
	}

	for _, out := range pipeline.Outputs {
		if _, ok := c.scope[out.Name]; !ok {
			c.errorf(errors.CodeUndefinedVariable, errors.Span{}, "", "output %q is never assigned", out.Name)
		}
	}

	return Result{
		InputTypes:  inputTypes,
		ExprTypes:   c.types,
		CallOptions: callOptions,
		Diagnostics: c.diagnostics,
	}
}

func (c *Checker) errorf(code errors.Code, span errors.Span, suggestion, format string, args ...any) {
	d := errors.NewDiagnostic(code, errors.SeverityError, fmt.Sprintf(format, args...), span)
	d.Suggestion = suggestion
	c.diagnostics = append(c.diagnostics, d)
}

func (c *Checker) warnf(code errors.Code, span errors.Span, format string, args ...any) {
	d := errors.NewDiagnostic(code, errors.SeverityWarning, fmt.Sprintf(format, args...), span)
	c.diagnostics = append(c.diagnostics, d)
}

func (c *Checker) record(e ast.Expr, t semtype.SemType) semtype.SemType {
	c.types[e.Spn()] = t
	return t
}

// expandTypeExpr looks up an already-resolved type alias if the declared
// type expression is a reference, otherwise expands it structurally.
func (c *Checker) expandTypeExpr(t ast.TypeExpr) semtype.SemType {
	if ref, ok := t.(ast.TRef); ok {
		if st, ok := c.resolved.Aliases[ref.Name]; ok {
			return st
		}
	}
	return expandStandalone(t)
}

func expandStandalone(t ast.TypeExpr) semtype.SemType {
	switch tt := t.(type) {
	case ast.TString:
		return semtype.String{}
	case ast.TInt:
		return semtype.Int{}
	case ast.TFloat:
		return semtype.Float{}
	case ast.TBool:
		return semtype.Bool{}
	case ast.TList:
		return semtype.List{Elem: expandStandalone(tt.Elem)}
	case ast.TMap:
		return semtype.Map{Key: expandStandalone(tt.Key), Val: expandStandalone(tt.Value)}
	case ast.TOptional:
		return semtype.Optional{Inner: expandStandalone(tt.Elem)}
	case ast.TRecord:
		order := make([]string, 0, len(tt.Fields))
		fields := make(map[string]semtype.SemType, len(tt.Fields))
		for _, f := range tt.Fields {
			order = append(order, f.Name)
			fields[f.Name] = expandStandalone(f.Type)
		}
		return semtype.Product{Order: order, Fields: fields}
	case ast.TUnion:
		order := make([]string, 0, len(tt.Members))
		members := make(map[string]semtype.SemType, len(tt.Members))
		for i, m := range tt.Members {
			tag := fmt.Sprintf("case%d", i)
			order = append(order, tag)
			members[tag] = expandStandalone(m)
		}
		return semtype.Union{Order: order, Members: members}
	}
	return semtype.Nothing{}
}

// synthesize infers e's type bottom-up.
func (c *Checker) synthesize(e ast.Expr) semtype.SemType {
	switch n := e.(type) {
	case ast.LiteralExpr:
		return c.record(e, literalType(n.Lit))
	case ast.Ident:
		if t, ok := c.scope[n.Name]; ok {
			return c.record(e, t)
		}
		return c.record(e, semtype.Nothing{})
	case ast.ListLit:
		if len(n.Elements) == 0 {
			return c.record(e, semtype.List{Elem: semtype.Nothing{}})
		}
		elem := c.synthesize(n.Elements[0])
		for _, el := range n.Elements[1:] {
			elem = semtype.Join(elem, c.synthesize(el))
		}
		return c.record(e, semtype.List{Elem: elem})
	case ast.RecordLit:
		order := make([]string, 0, len(n.Fields))
		fields := make(map[string]semtype.SemType, len(n.Fields))
		for _, f := range n.Fields {
			order = append(order, f.Name)
			fields[f.Name] = c.synthesize(f.Value)
		}
		return c.record(e, semtype.Product{Order: order, Fields: fields})
	case ast.FieldAccess:
		target := c.synthesize(n.Target)
		if rec, ok := target.(semtype.Product); ok {
			if ft, ok := rec.Fields[n.Field]; ok {
				return c.record(e, ft)
			}
		}
		c.errorf(errors.CodeInvalidFieldAccess, n.Spn(), "", "no field %q on %s", n.Field, target)
		return c.record(e, semtype.Nothing{})
	case ast.Projection:
		target := c.synthesize(n.Target)
		rec, ok := target.(semtype.Product)
		if !ok {
			c.errorf(errors.CodeInvalidProjection, n.Spn(), "", "projection requires a record, got %s", target)
			return c.record(e, semtype.Nothing{})
		}
		order := make([]string, 0, len(n.Fields))
		fields := make(map[string]semtype.SemType, len(n.Fields))
		for _, f := range n.Fields {
			ft, ok := rec.Fields[f]
			if !ok {
				c.errorf(errors.CodeInvalidProjection, n.Spn(), "", "no field %q to project", f)
				continue
			}
			order = append(order, f)
			fields[f] = ft
		}
		return c.record(e, semtype.Product{Order: order, Fields: fields})
	case ast.Merge:
		return c.record(e, c.synthesizeMerge(n))
	case ast.BinOp:
		return c.record(e, c.synthesizeBinOp(n))
	case ast.Not:
		c.check(n.Operand, semtype.Bool{})
		return c.record(e, semtype.Bool{})
	case ast.Coalesce:
		left := c.synthesize(n.Left)
		opt, ok := left.(semtype.Optional)
		if !ok {
			c.errorf(errors.CodeTypeMismatch, n.Spn(), "", "'??' requires Optional on the left, got %s", left)
			return c.record(e, c.synthesize(n.Right))
		}
		c.check(n.Right, opt.Inner)
		return c.record(e, opt.Inner)
	case ast.Guard:
		val := c.synthesize(n.Value)
		c.check(n.Cond, semtype.Bool{})
		if opt, ok := val.(semtype.Optional); ok {
			return c.record(e, opt)
		}
		return c.record(e, semtype.Optional{Inner: val})
	case ast.If:
		c.check(n.Cond, semtype.Bool{})
		then := c.synthesize(n.Then)
		els := c.synthesize(n.Else)
		return c.record(e, semtype.Join(then, els))
	case ast.Branch:
		var result semtype.SemType = semtype.Nothing{}
		first := true
		for _, cs := range n.Cases {
			c.check(cs.Cond, semtype.Bool{})
			t := c.synthesize(cs.Then)
			if first {
				result = t
				first = false
			} else {
				result = semtype.Join(result, t)
			}
		}
		if n.Otherwise != nil {
			t := c.synthesize(n.Otherwise)
			if first {
				result = t
			} else {
				result = semtype.Join(result, t)
			}
		}
		return c.record(e, result)
	case ast.Lambda:
		// Lambda parameter types are unknown without a checking context;
		// treated as Nothing placeholders until used under Check.
		saved := make(map[string]semtype.SemType, len(c.scope))
		for k, v := range c.scope {
			saved[k] = v
		}
		for _, p := range n.Params {
			c.scope[p] = semtype.Nothing{}
		}
		body := c.synthesize(n.Body)
		c.scope = saved
		return c.record(e, semtype.Func{Result: body})
	case ast.Call:
		return c.record(e, c.synthesizeCall(n))
	case ast.Interpolation:
		for _, part := range n.Parts {
			if part.Expr != nil {
				c.synthesize(part.Expr)
			}
		}
		return c.record(e, semtype.String{})
	}
	return c.record(e, semtype.Nothing{})
}

// check verifies e against an expected type, falling back to synthesize
// plus an explicit subtype check for constructs with no dedicated rule.
func (c *Checker) check(e ast.Expr, expected semtype.SemType) {
	switch n := e.(type) {
	case ast.ListLit:
		elemExpected := semtype.SemType(semtype.Nothing{})
		if lt, ok := expected.(semtype.List); ok {
			elemExpected = lt.Elem
		}
		for _, el := range n.Elements {
			c.check(el, elemExpected)
		}
		c.record(e, expected)
		return
	case ast.If:
		c.check(n.Cond, semtype.Bool{})
		c.check(n.Then, expected)
		c.check(n.Else, expected)
		c.record(e, expected)
		return
	case ast.Lambda:
		fn, ok := expected.(semtype.Func)
		if !ok || len(fn.Params) != len(n.Params) {
			c.synthesize(e)
			return
		}
		saved := make(map[string]semtype.SemType, len(c.scope))
		for k, v := range c.scope {
			saved[k] = v
		}
		for i, p := range n.Params {
			c.scope[p] = fn.Params[i]
		}
		c.check(n.Body, fn.Result)
		c.scope = saved
		c.record(e, expected)
		return
	}

	actual := c.synthesize(e)
	if !semtype.Sub(actual, expected) {
		c.errorf(errors.CodeTypeMismatch, e.Spn(), "", "expected %s, got %s", expected, actual)
	}
}

func literalType(l ast.Literal) semtype.SemType {
	switch l.Kind {
	case ast.LitString:
		return semtype.String{}
	case ast.LitInt:
		return semtype.Int{}
	case ast.LitFloat:
		return semtype.Float{}
	case ast.LitBool:
		return semtype.Bool{}
	}
	return semtype.Nothing{}
}

func (c *Checker) synthesizeMerge(n ast.Merge) semtype.SemType {
	left := c.synthesize(n.Left)
	right := c.synthesize(n.Right)

	if ll, ok := left.(semtype.List); ok {
		if lr, ok := right.(semtype.List); ok {
			return semtype.List{Elem: mergeRecords(c, n, ll.Elem, lr.Elem)}
		}
		return semtype.List{Elem: mergeRecords(c, n, ll.Elem, right)}
	}
	return mergeRecords(c, n, left, right)
}

func mergeRecords(c *Checker, n ast.Merge, left, right semtype.SemType) semtype.SemType {
	lp, lok := left.(semtype.Product)
	rp, rok := right.(semtype.Product)
	if !lok || !rok {
		c.errorf(errors.CodeIncompatibleMerge, n.Spn(), "", "'+' requires records, got %s and %s", left, right)
		return semtype.Nothing{}
	}
	order := append([]string(nil), lp.Order...)
	fields := make(map[string]semtype.SemType, len(lp.Fields)+len(rp.Fields))
	for k, v := range lp.Fields {
		fields[k] = v
	}
	for _, k := range rp.Order {
		v := rp.Fields[k]
		if existing, ok := fields[k]; ok {
			if semtype.Sub(v, existing) {
				continue
			}
			if semtype.Sub(existing, v) {
				fields[k] = v
				continue
			}
			c.errorf(errors.CodeIncompatibleMerge, n.Spn(), "",
				"field %q has incompatible types %s and %s in merge", k, existing, v)
			continue
		}
		fields[k] = v
		order = append(order, k)
	}
	return semtype.Product{Order: order, Fields: fields}
}

func (c *Checker) synthesizeBinOp(n ast.BinOp) semtype.SemType {
	switch n.Op {
	case "-", "*", "/":
		left := c.synthesize(n.Left)
		right := c.synthesize(n.Right)
		if !isNumeric(left) || !isNumeric(right) || !semtype.Equal(left, right) {
			c.errorf(errors.CodeUnsupportedArithmetic, n.Spn(), "",
				"arithmetic requires matching numeric types, got %s and %s", left, right)
			return semtype.Nothing{}
		}
		return left
	case "==", "!=":
		left := c.synthesize(n.Left)
		right := c.synthesize(n.Right)
		if !semtype.Equal(left, right) {
			c.errorf(errors.CodeUnsupportedComparison, n.Spn(), "",
				"comparison requires identical types, got %s and %s", left, right)
		}
		return semtype.Bool{}
	case "<", "<=", ">", ">=":
		left := c.synthesize(n.Left)
		right := c.synthesize(n.Right)
		if !isOrdered(left) || !semtype.Equal(left, right) {
			c.errorf(errors.CodeUnsupportedComparison, n.Spn(), "",
				"comparison requires identical ordered primitive types, got %s and %s", left, right)
		}
		return semtype.Bool{}
	case "&&", "||":
		c.check(n.Left, semtype.Bool{})
		c.check(n.Right, semtype.Bool{})
		return semtype.Bool{}
	}
	c.errorf(errors.CodeIncompatibleOperator, n.Spn(), "", "unknown operator %q", n.Op)
	return semtype.Nothing{}
}

func isNumeric(t semtype.SemType) bool {
	switch t.(type) {
	case semtype.Int, semtype.Float:
		return true
	}
	return false
}

func isOrdered(t semtype.SemType) bool {
	switch t.(type) {
	case semtype.Int, semtype.Float, semtype.String:
		return true
	}
	return false
}

// synthesizeCall type-checks a module call's arguments against the
// resolved module's declared `consumes` record, allocating a fresh row
// context per call site: extra fields on the argument record beyond the
// module's declared fields are permitted by Product width subtyping,
// which is this checker's row-polymorphism mechanism (see DESIGN.md).
func (c *Checker) synthesizeCall(n ast.Call) semtype.SemType {
	m, ok := c.resolved.Calls[n.Spn()]
	if !ok {
		for _, a := range n.Args {
			c.synthesize(a)
		}
		for _, o := range n.Options {
			c.synthesize(o.Value)
		}
		return semtype.Nothing{}
	}

	consumes := semtype.Product{Order: m.ConsumesOrder(), Fields: m.Consumes}
	if len(n.Args) == 1 && len(consumes.Order) != 1 {
		c.check(n.Args[0], consumes)
	} else if len(n.Args) > 0 {
		order := consumes.Order
		for i, a := range n.Args {
			if i < len(order) {
				c.check(a, consumes.Fields[order[i]])
			} else {
				c.synthesize(a)
			}
		}
	}

	produces := semtype.Product{Order: m.ProducesOrder(), Fields: m.Produces}
	returnType := semtype.SemType(produces)
	if len(produces.Order) == 1 {
		returnType = produces.Fields[produces.Order[0]]
	}

	for _, o := range n.Options {
		if o.Name == "fallback" {
			c.check(o.Value, returnType)
		} else {
			c.synthesize(o.Value)
		}
	}

	return returnType
}
