package resolve

import (
	"context"
	"testing"

	"github.com/kbukum/flowforge/lang/ast"
	"github.com/kbukum/flowforge/lang/parser"
	"github.com/kbukum/flowforge/module"
	"github.com/kbukum/flowforge/semtype"
	"github.com/kbukum/flowforge/value"
)

func newTestRegistry(t *testing.T) *module.Registry {
	t.Helper()
	reg := module.NewRegistry()
	trim := &module.Module{
		Qualified: "stdlib.strings.Trim",
		Consumes:  map[string]semtype.SemType{"value": semtype.String{}},
		Produces:  map[string]semtype.SemType{"value": semtype.String{}},
		Implementation: func(_ context.Context, args map[string]value.Value) (map[string]value.Value, error) {
			return args, nil
		},
	}
	if err := reg.Register(trim); err != nil {
		t.Fatalf("register Trim: %v", err)
	}
	return reg
}

func TestResolveBindsKnownCall(t *testing.T) {
	pipeline, diags := parser.Parse("in text: String\nresult = stdlib.strings.Trim(text)\nout result")
	if len(diags) != 0 {
		t.Fatalf("unexpected parse diagnostics: %+v", diags)
	}
	res := Resolve(pipeline, newTestRegistry(t), nil)
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected resolve diagnostics: %+v", res.Diagnostics)
	}
	call := pipeline.Assigns[0].Expr.(ast.Call)
	if _, ok := res.Calls[call.Spn()]; !ok {
		t.Fatal("expected the call span to resolve to a module")
	}
}

func TestResolveUndefinedModuleSuggestsClosestMatch(t *testing.T) {
	pipeline, _ := parser.Parse("in text: String\nresult = stdlib.strings.Trimm(text)\nout result")
	res := Resolve(pipeline, newTestRegistry(t), nil)
	if len(res.Diagnostics) != 1 {
		t.Fatalf("expected one diagnostic, got %+v", res.Diagnostics)
	}
	if res.Diagnostics[0].Suggestion != "stdlib.strings.Trim" {
		t.Errorf("expected suggestion %q, got %q", "stdlib.strings.Trim", res.Diagnostics[0].Suggestion)
	}
}

func TestResolveUndefinedIdentifierSuggestsScopedName(t *testing.T) {
	pipeline, _ := parser.Parse("in value: String\nresult = vlaue\nout result")
	res := Resolve(pipeline, nil, nil)
	if len(res.Diagnostics) != 1 {
		t.Fatalf("expected one diagnostic, got %+v", res.Diagnostics)
	}
	if res.Diagnostics[0].Suggestion != "value" {
		t.Errorf("expected suggestion %q, got %q", "value", res.Diagnostics[0].Suggestion)
	}
}

func TestResolveTypeAliasCycleDetected(t *testing.T) {
	pipeline, diags := parser.Parse("type A = B\ntype B = A\nin x: Int\nout x")
	if len(diags) != 0 {
		t.Fatalf("unexpected parse diagnostics: %+v", diags)
	}
	res := Resolve(pipeline, nil, nil)
	if len(res.Diagnostics) == 0 {
		t.Fatal("expected a circular-dependency diagnostic for A -> B -> A")
	}
	if _, ok := res.Aliases["A"].(semtype.Nothing); !ok {
		t.Errorf("expected the cyclic alias to resolve to Nothing, got %#v", res.Aliases["A"])
	}
}

func TestResolveAmbiguousCallAcrossImports(t *testing.T) {
	reg := module.NewRegistry()
	for _, ns := range []string{"a", "b"} {
		m := &module.Module{
			Qualified: ns + ".Shared",
			Implementation: func(_ context.Context, args map[string]value.Value) (map[string]value.Value, error) {
				return args, nil
			},
		}
		if err := reg.Register(m); err != nil {
			t.Fatalf("register %s: %v", ns, err)
		}
	}
	pipeline, _ := parser.Parse("result = Shared()\nout result")
	imports := []module.NamespaceImport{{Namespace: "a"}, {Namespace: "b"}}
	res := Resolve(pipeline, reg, imports)
	if len(res.Diagnostics) != 1 {
		t.Fatalf("expected one ambiguous-call diagnostic, got %+v", res.Diagnostics)
	}
}
