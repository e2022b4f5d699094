// Package resolve binds identifier references to their declarations,
// expands type aliases, and resolves namespace-qualified module calls
// against a module registry. It runs after parsing and before type
// checking, and — like the parser — never stops at the first problem: it
// collects every diagnostic it can before returning.
package resolve

import (
	"fmt"
	"sort"

	"github.com/kbukum/flowforge/errors"
	"github.com/kbukum/flowforge/lang/ast"
	"github.com/kbukum/flowforge/module"
	"github.com/kbukum/flowforge/semtype"
)

// Result is everything downstream phases need: expanded type aliases,
// resolved module calls keyed by the Call node's span, and diagnostics.
type Result struct {
	Aliases     map[string]semtype.SemType
	Calls       map[ast.Span]*module.Module
	Diagnostics []errors.Diagnostic
}

// Resolver carries the registry and import list shared by one pipeline's
// resolution pass.
type Resolver struct {
	registry *module.Registry
	imports  []module.NamespaceImport

	aliasExprs map[string]ast.TypeExpr
	resolved   map[string]semtype.SemType

	scope map[string]bool
	calls map[ast.Span]*module.Module

	diagnostics []errors.Diagnostic
}

// New creates a Resolver bound to a module registry. imports should be
// built from the pipeline's `use` declarations, in source order.
func New(registry *module.Registry, imports []module.NamespaceImport) *Resolver {
	return &Resolver{
		registry:   registry,
		imports:    imports,
		aliasExprs: make(map[string]ast.TypeExpr),
		resolved:   make(map[string]semtype.SemType),
		scope:      make(map[string]bool),
		calls:      make(map[ast.Span]*module.Module),
	}
}

// Resolve runs alias expansion and identifier/call binding over a parsed
// pipeline and returns the combined result.
func Resolve(pipeline *ast.Pipeline, registry *module.Registry, imports []module.NamespaceImport) Result {
	r := New(registry, imports)
	r.resolveAliases(pipeline)
	r.bindScope(pipeline)
	return Result{Aliases: r.resolved, Calls: r.calls, Diagnostics: r.diagnostics}
}

func (r *Resolver) errorf(code errors.Code, span errors.Span, suggestion, format string, args ...any) {
	d := errors.NewDiagnostic(code, errors.SeverityError, fmt.Sprintf(format, args...), span)
	d.Suggestion = suggestion
	r.diagnostics = append(r.diagnostics, d)
}

// --- type alias expansion ---

func (r *Resolver) resolveAliases(pipeline *ast.Pipeline) {
	for _, td := range pipeline.Types {
		r.aliasExprs[td.Name] = td.Expr
	}
	for name := range r.aliasExprs {
		r.resolveAlias(name, nil)
	}
}

// resolveAlias resolves a single alias by name, detecting cycles via the
// chain of names currently being resolved.
func (r *Resolver) resolveAlias(name string, chain []string) semtype.SemType {
	if t, ok := r.resolved[name]; ok {
		return t
	}
	for _, seen := range chain {
		if seen == name {
			expr := r.aliasExprs[name]
			r.errorf(errors.CodeCircularDependency, ast.TypeSpan(expr), "",
				"type alias %q is part of a cycle: %v", name, append(chain, name))
			r.resolved[name] = semtype.Nothing{}
			return r.resolved[name]
		}
	}
	expr, ok := r.aliasExprs[name]
	if !ok {
		return nil
	}
	t := r.expandType(expr, append(chain, name))
	r.resolved[name] = t
	return t
}

func (r *Resolver) expandType(expr ast.TypeExpr, chain []string) semtype.SemType {
	switch t := expr.(type) {
	case ast.TString:
		return semtype.String{}
	case ast.TInt:
		return semtype.Int{}
	case ast.TFloat:
		return semtype.Float{}
	case ast.TBool:
		return semtype.Bool{}
	case ast.TList:
		return semtype.List{Elem: r.expandType(t.Elem, chain)}
	case ast.TMap:
		return semtype.Map{Key: r.expandType(t.Key, chain), Val: r.expandType(t.Value, chain)}
	case ast.TOptional:
		return semtype.Optional{Inner: r.expandType(t.Elem, chain)}
	case ast.TRecord:
		order := make([]string, 0, len(t.Fields))
		fields := make(map[string]semtype.SemType, len(t.Fields))
		for _, f := range t.Fields {
			order = append(order, f.Name)
			fields[f.Name] = r.expandType(f.Type, chain)
		}
		return semtype.Product{Order: order, Fields: fields}
	case ast.TUnion:
		order := make([]string, 0, len(t.Members))
		members := make(map[string]semtype.SemType, len(t.Members))
		for i, m := range t.Members {
			tag := fmt.Sprintf("case%d", i)
			order = append(order, tag)
			members[tag] = r.expandType(m, chain)
		}
		return semtype.Union{Order: order, Members: members}
	case ast.TRef:
		if _, isAlias := r.aliasExprs[t.Name]; isAlias {
			return r.resolveAlias(t.Name, chain)
		}
		suggestion := r.suggestType(t.Name)
		r.errorf(errors.CodeUndefinedType, t.Span, suggestion, "undefined type %q", t.Name)
		return semtype.Nothing{}
	}
	return semtype.Nothing{}
}

func (r *Resolver) suggestType(name string) string {
	candidates := make([]string, 0, len(r.aliasExprs))
	for n := range r.aliasExprs {
		candidates = append(candidates, n)
	}
	return closestMatch(name, candidates)
}

// --- identifier and call binding ---

func (r *Resolver) bindScope(pipeline *ast.Pipeline) {
	for _, in := range pipeline.Inputs {
		r.scope[in.Name] = true
	}
	for _, a := range pipeline.Assigns {
		r.bindExpr(a.Expr)
		r.scope[a.Name] = true
	}
}

func (r *Resolver) bindExpr(e ast.Expr) {
	switch n := e.(type) {
	case ast.Ident:
		if !r.scope[n.Name] {
			r.errorf(errors.CodeUndefinedVariable, n.Spn(), r.suggestIdent(n.Name),
				"undefined reference %q", n.Name)
		}
	case ast.LiteralExpr:
	case ast.ListLit:
		for _, el := range n.Elements {
			r.bindExpr(el)
		}
	case ast.RecordLit:
		for _, f := range n.Fields {
			r.bindExpr(f.Value)
		}
	case ast.FieldAccess:
		r.bindExpr(n.Target)
	case ast.Projection:
		r.bindExpr(n.Target)
	case ast.Merge:
		r.bindExpr(n.Left)
		r.bindExpr(n.Right)
	case ast.If:
		r.bindExpr(n.Cond)
		r.bindExpr(n.Then)
		r.bindExpr(n.Else)
	case ast.Branch:
		for _, c := range n.Cases {
			r.bindExpr(c.Cond)
			r.bindExpr(c.Then)
		}
		if n.Otherwise != nil {
			r.bindExpr(n.Otherwise)
		}
	case ast.BinOp:
		r.bindExpr(n.Left)
		r.bindExpr(n.Right)
	case ast.Not:
		r.bindExpr(n.Operand)
	case ast.Coalesce:
		r.bindExpr(n.Left)
		r.bindExpr(n.Right)
	case ast.Guard:
		r.bindExpr(n.Value)
		r.bindExpr(n.Cond)
	case ast.Lambda:
		inner := make(map[string]bool, len(r.scope)+len(n.Params))
		for k := range r.scope {
			inner[k] = true
		}
		for _, p := range n.Params {
			inner[p] = true
		}
		saved := r.scope
		r.scope = inner
		r.bindExpr(n.Body)
		r.scope = saved
	case ast.Call:
		r.bindCall(n)
	case ast.Interpolation:
		for _, part := range n.Parts {
			if part.Expr != nil {
				r.bindExpr(part.Expr)
			}
		}
	}
}

func (r *Resolver) bindCall(n ast.Call) {
	for _, arg := range n.Args {
		r.bindExpr(arg)
	}
	for _, opt := range n.Options {
		r.bindExpr(opt.Value)
	}
	if r.registry == nil {
		return
	}
	m, err := r.registry.Resolve(n.Qualified, r.imports)
	if err != nil {
		if amb, ok := err.(*module.AmbiguousReferenceError); ok {
			r.errorf(errors.CodeAmbiguousFunction, n.Spn(), "",
				"%q is ambiguous among %v", amb.Name, amb.Candidates)
			return
		}
		suggestion := closestMatch(n.Qualified, r.registry.List())
		r.errorf(errors.CodeUndefinedFunction, n.Spn(), suggestion,
			"undefined module %q", n.Qualified)
		return
	}
	r.calls[n.Spn()] = m
}

func (r *Resolver) suggestIdent(name string) string {
	candidates := make([]string, 0, len(r.scope))
	for n := range r.scope {
		candidates = append(candidates, n)
	}
	return closestMatch(name, candidates)
}

// closestMatch returns the candidate within edit distance 2 of name that
// is closest to it, or "" if none qualifies. Ties break on lexical order
// for determinism.
func closestMatch(name string, candidates []string) string {
	best := ""
	bestDist := 3
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	for _, c := range sorted {
		d := levenshtein(name, c)
		if d <= 2 && d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	m, n := len(ra), len(rb)
	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}
	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[n]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
