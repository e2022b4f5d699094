// Package compile lowers a type-checked pipeline into a directed acyclic
// execution graph: module-call nodes and data nodes wired by typed edges,
// topologically layered the way dag.Graph.BuildLevels layers its own
// task graphs.
package compile

import (
	"fmt"
	"sort"

	"github.com/kbukum/flowforge/errors"
	"github.com/kbukum/flowforge/lang/ast"
	"github.com/kbukum/flowforge/lang/check"
	"github.com/kbukum/flowforge/lang/resolve"
	"github.com/kbukum/flowforge/module"
	"github.com/kbukum/flowforge/semtype"
)

// NodeKind distinguishes a module invocation from a pure data computation.
type NodeKind int

const (
	KindModuleCall NodeKind = iota
	KindData
)

// Slot is a named, typed input or output port on a node.
type Slot struct {
	Name string
	Type semtype.SemType
}

// Node is one vertex of the compiled graph.
type Node struct {
	ID        string // the assignment name that produced this node
	Kind      NodeKind
	Qualified string // module FQN, for KindModuleCall
	Module    *module.Module
	Expr      ast.Expr
	Options   check.CallOptions
	Inputs    []Slot
	Outputs   []Slot
}

// Edge connects a producer's output slot to a consumer's input slot.
type Edge struct {
	From, FromSlot string
	To, ToSlot     string
	Type           semtype.SemType
}

// Graph is the compiled DAG.
type Graph struct {
	Nodes map[string]*Node
	Edges []Edge
	// Source holds the original pipeline text, used for the syntactic hash.
	Source string
}

// Compile lowers a checked pipeline into a Graph. It assumes pipeline has
// already passed name resolution and type checking with no error-severity
// diagnostics; callers should check that before compiling.
func Compile(pipeline *ast.Pipeline, resolved resolve.Result, checked check.Result, source string) (*Graph, []errors.Diagnostic) {
	g := &Graph{Nodes: make(map[string]*Node), Source: source}
	var diags []errors.Diagnostic

	for _, in := range pipeline.Inputs {
		g.Nodes[in.Name] = &Node{
			ID:      in.Name,
			Kind:    KindData,
			Outputs: []Slot{{Name: "value", Type: checked.InputTypes[in.Name]}},
		}
	}

	for _, a := range pipeline.Assigns {
		outType := checked.ExprTypes[a.Expr.Spn()]
		node := &Node{
			ID:      a.Name,
			Outputs: []Slot{{Name: "value", Type: outType}},
			Expr:    a.Expr,
		}
		if call, ok := a.Expr.(ast.Call); ok {
			node.Kind = KindModuleCall
			if m, ok := resolved.Calls[call.Spn()]; ok {
				node.Qualified = m.Qualified
				node.Module = m
				node.Inputs = inputSlots(m)
			}
			node.Options = checked.CallOptions[call.Spn()]
		} else {
			node.Kind = KindData
			node.Inputs = dataInputs(a.Expr, checked)
		}
		g.Nodes[a.Name] = node
	}

	for _, a := range pipeline.Assigns {
		deps := collectIdents(a.Expr)
		for _, dep := range deps {
			if _, ok := g.Nodes[dep]; !ok {
				continue
			}
			g.Edges = append(g.Edges, Edge{
				From: dep, FromSlot: "value",
				To: a.Name, ToSlot: dep,
				Type: g.Nodes[dep].Outputs[0].Type,
			})
		}
	}

	if _, err := BuildLevels(g); err != nil {
		diags = append(diags, errors.NewDiagnostic(errors.CodeCircularDependency, errors.SeverityError, err.Error(), errors.Span{}))
	}

	return g, diags
}

func inputSlots(m *module.Module) []Slot {
	order := m.ConsumesOrder()
	slots := make([]Slot, 0, len(order))
	for _, name := range order {
		slots = append(slots, Slot{Name: name, Type: m.Consumes[name]})
	}
	return slots
}

// dataInputs reports which upstream variables a pure-expression node reads,
// as slots named after those variables. The slots carry no type; the edge
// from each producer carries the producer's output type.
func dataInputs(e ast.Expr, checked check.Result) []Slot {
	idents := collectIdents(e)
	slots := make([]Slot, 0, len(idents))
	for _, name := range idents {
		slots = append(slots, Slot{Name: name})
	}
	return slots
}

// collectIdents walks an expression tree and returns the distinct variable
// names it references, in first-occurrence order.
func collectIdents(e ast.Expr) []string {
	var order []string
	seen := map[string]bool{}
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	var walk func(ast.Expr)
	walk = func(e ast.Expr) {
		switch n := e.(type) {
		case ast.Ident:
			add(n.Name)
		case ast.ListLit:
			for _, el := range n.Elements {
				walk(el)
			}
		case ast.RecordLit:
			for _, f := range n.Fields {
				walk(f.Value)
			}
		case ast.FieldAccess:
			walk(n.Target)
		case ast.Projection:
			walk(n.Target)
		case ast.Merge:
			walk(n.Left)
			walk(n.Right)
		case ast.If:
			walk(n.Cond)
			walk(n.Then)
			walk(n.Else)
		case ast.Branch:
			for _, c := range n.Cases {
				walk(c.Cond)
				walk(c.Then)
			}
			if n.Otherwise != nil {
				walk(n.Otherwise)
			}
		case ast.BinOp:
			walk(n.Left)
			walk(n.Right)
		case ast.Not:
			walk(n.Operand)
		case ast.Coalesce:
			walk(n.Left)
			walk(n.Right)
		case ast.Guard:
			walk(n.Value)
			walk(n.Cond)
		case ast.Call:
			for _, arg := range n.Args {
				walk(arg)
			}
			for _, opt := range n.Options {
				walk(opt.Value)
			}
		case ast.Interpolation:
			for _, part := range n.Parts {
				if part.Expr != nil {
					walk(part.Expr)
				}
			}
		}
	}
	walk(e)
	return order
}

// BuildLevels computes the graph's topological layers via Kahn's
// algorithm, the same construction dag.Graph.BuildLevels uses: nodes with
// no unresolved dependency form a layer, are peeled off, and the process
// repeats until the graph is empty or stuck (a cycle).
func BuildLevels(g *Graph) ([][]string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	dependents := make(map[string][]string, len(g.Nodes))
	for id := range g.Nodes {
		inDegree[id] = 0
	}
	for _, e := range g.Edges {
		inDegree[e.To]++
		dependents[e.From] = append(dependents[e.From], e.To)
	}

	var queue []string
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var levels [][]string
	processed := 0
	for len(queue) > 0 {
		sort.Strings(queue)
		levels = append(levels, queue)
		processed += len(queue)
		var next []string
		for _, id := range queue {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if processed != len(g.Nodes) {
		var stuck []string
		for id, d := range inDegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("compile: cycle detected among %v", stuck)
	}
	return levels, nil
}
