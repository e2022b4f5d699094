package parser

import (
	"testing"

	"github.com/kbukum/flowforge/lang/ast"
)

func TestParseSimplePipeline(t *testing.T) {
	src := `in text: String
trimmed = Trim(text)
result = Uppercase(trimmed)
out result`

	pipeline, diags := Parse(src)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	if len(pipeline.Inputs) != 1 || pipeline.Inputs[0].Name != "text" {
		t.Fatalf("expected one input named text, got %+v", pipeline.Inputs)
	}
	if _, ok := pipeline.Inputs[0].Type.(ast.TString); !ok {
		t.Errorf("expected TString input type, got %T", pipeline.Inputs[0].Type)
	}
	if len(pipeline.Assigns) != 2 {
		t.Fatalf("expected two assignments, got %d", len(pipeline.Assigns))
	}
	call, ok := pipeline.Assigns[0].Expr.(ast.Call)
	if !ok {
		t.Fatalf("expected first assignment to be a Call, got %T", pipeline.Assigns[0].Expr)
	}
	if call.Qualified != "Trim" {
		t.Errorf("expected call to Trim, got %q", call.Qualified)
	}
	if len(pipeline.Outputs) != 1 || pipeline.Outputs[0].Name != "result" {
		t.Fatalf("expected output result, got %+v", pipeline.Outputs)
	}
}

func TestParseRecordAndListTypes(t *testing.T) {
	src := `in xs: List<Int>
in rec: {name: String, age: Int}
out xs`

	pipeline, diags := Parse(src)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	listType, ok := pipeline.Inputs[0].Type.(ast.TList)
	if !ok {
		t.Fatalf("expected TList, got %T", pipeline.Inputs[0].Type)
	}
	if _, ok := listType.Elem.(ast.TInt); !ok {
		t.Errorf("expected List<Int>, got elem %T", listType.Elem)
	}
	recType, ok := pipeline.Inputs[1].Type.(ast.TRecord)
	if !ok {
		t.Fatalf("expected TRecord, got %T", pipeline.Inputs[1].Type)
	}
	if len(recType.Fields) != 2 {
		t.Fatalf("expected 2 record fields, got %d", len(recType.Fields))
	}
}

func TestParseOperatorPrecedence(t *testing.T) {
	// "+" lowers to Merge, so a*b+c should parse as Merge(BinOp(*), c).
	pipeline, diags := Parse("result = a * b + c\nout result")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	merge, ok := pipeline.Assigns[0].Expr.(ast.Merge)
	if !ok {
		t.Fatalf("expected top-level Merge, got %T", pipeline.Assigns[0].Expr)
	}
	mul, ok := merge.Left.(ast.BinOp)
	if !ok || mul.Op != "*" {
		t.Fatalf("expected left side to be a '*' BinOp, got %+v", merge.Left)
	}
}

func TestParseIfExpression(t *testing.T) {
	pipeline, diags := Parse("result = if a then b else c\nout result")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	ifExpr, ok := pipeline.Assigns[0].Expr.(ast.If)
	if !ok {
		t.Fatalf("expected ast.If, got %T", pipeline.Assigns[0].Expr)
	}
	if _, ok := ifExpr.Cond.(ast.Ident); !ok {
		t.Errorf("expected condition to be an Ident, got %T", ifExpr.Cond)
	}
}

func TestParseBranchRequiresOtherwise(t *testing.T) {
	_, diags := Parse("result = branch when a => b\nout result")
	if len(diags) == 0 {
		t.Fatal("expected a diagnostic for a branch missing 'otherwise'")
	}
}

func TestParseStringInterpolation(t *testing.T) {
	pipeline, diags := Parse(`result = "hello ${name}!"
out result`)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	interp, ok := pipeline.Assigns[0].Expr.(ast.Interpolation)
	if !ok {
		t.Fatalf("expected ast.Interpolation, got %T", pipeline.Assigns[0].Expr)
	}
	if len(interp.Parts) != 3 {
		t.Fatalf("expected 3 interpolation parts, got %d: %+v", len(interp.Parts), interp.Parts)
	}
	if interp.Parts[0].Literal != "hello " {
		t.Errorf("expected leading literal %q, got %q", "hello ", interp.Parts[0].Literal)
	}
	ident, ok := interp.Parts[1].Expr.(ast.Ident)
	if !ok || ident.Name != "name" {
		t.Errorf("expected embedded ident 'name', got %+v", interp.Parts[1].Expr)
	}
}

func TestParseRecoversAfterUnexpectedTopLevelToken(t *testing.T) {
	// "+" is not valid at the top level; parsing should record a diagnostic
	// and recover at the next "in" declaration rather than looping forever.
	pipeline, diags := Parse("+\nin x: Int\nout x")
	if len(diags) == 0 {
		t.Fatal("expected a diagnostic for the stray '+' token")
	}
	if len(pipeline.Inputs) != 1 || pipeline.Inputs[0].Name != "x" {
		t.Fatalf("expected parser to recover and still parse input x, got %+v", pipeline.Inputs)
	}
}

func TestParseCycleSourceFromScenario6(t *testing.T) {
	src := "a = b + {x:1}\nb = a + {y:2}\nout a"
	pipeline, diags := Parse(src)
	if len(diags) != 0 {
		t.Fatalf("unexpected parse diagnostics: %+v", diags)
	}
	if len(pipeline.Assigns) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(pipeline.Assigns))
	}
}
