package exec

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/flowforge/compile"
	"github.com/kbukum/flowforge/engine/scheduler"
	"github.com/kbukum/flowforge/lang/ast"
	"github.com/kbukum/flowforge/lang/check"
	"github.com/kbukum/flowforge/logger"
	"github.com/kbukum/flowforge/module"
	"github.com/kbukum/flowforge/semtype"
	"github.com/kbukum/flowforge/value"
)

func newTestEngine() *Engine {
	sched := scheduler.New(scheduler.Config{}, "test.exec")
	return New(nil, sched, logger.NewDefault("exec-test"))
}

// callGraph builds a two-node graph: a data input "x" feeding a single
// module-call node "y" that consumes and produces a field named "value".
func callGraph(m *module.Module, opts check.CallOptions) *compile.Graph {
	g := &compile.Graph{Nodes: make(map[string]*compile.Node), Source: "in x: Int\ny = m.Call(x)\nout y"}
	g.Nodes["x"] = &compile.Node{
		ID:      "x",
		Kind:    compile.KindData,
		Outputs: []compile.Slot{{Name: "value", Type: semtype.Int{}}},
	}
	g.Nodes["y"] = &compile.Node{
		ID:        "y",
		Kind:      compile.KindModuleCall,
		Qualified: m.Qualified,
		Module:    m,
		Options:   opts,
		Inputs:    []compile.Slot{{Name: "value", Type: semtype.Int{}}},
		Outputs:   []compile.Slot{{Name: "value", Type: semtype.Int{}}},
	}
	g.Edges = []compile.Edge{{From: "x", FromSlot: "value", To: "y", ToSlot: "value", Type: semtype.Int{}}}
	return g
}

func intFallback(n int64) ast.Expr {
	return ast.LiteralExpr{Lit: ast.Literal{Kind: ast.LitInt, Int: n}}
}

func TestRunSimplePipelinePassesInputThroughModule(t *testing.T) {
	m := &module.Module{
		Qualified: "m.Double",
		Consumes:  map[string]semtype.SemType{"value": semtype.Int{}},
		Produces:  map[string]semtype.SemType{"value": semtype.Int{}},
		Implementation: func(ctx context.Context, args map[string]value.Value) (map[string]value.Value, error) {
			v := args["value"].(value.VInt).V
			return map[string]value.Value{"value": value.VInt{V: v * 2}}, nil
		},
	}
	g := callGraph(m, check.CallOptions{})
	eng := newTestEngine()
	ex := NewExecution("exec-1", g)

	err := eng.Run(context.Background(), g, ex, map[string]value.Value{"x": value.VInt{V: 21}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, ok := ex.Value("y")
	if !ok {
		t.Fatal("expected y to have a value")
	}
	if !value.Equal(got, value.VInt{V: 42}) {
		t.Errorf("expected VInt{42}, got %v", got)
	}
	if ex.Status("y") != StatusCompleted {
		t.Errorf("expected y completed, got %v", ex.Status("y"))
	}
}

func TestRunSuspendsOnMissingInputAndReportsIt(t *testing.T) {
	m := &module.Module{
		Qualified:      "m.Double",
		Consumes:       map[string]semtype.SemType{"value": semtype.Int{}},
		Produces:       map[string]semtype.SemType{"value": semtype.Int{}},
		Implementation: func(ctx context.Context, args map[string]value.Value) (map[string]value.Value, error) { return nil, nil },
	}
	g := callGraph(m, check.CallOptions{})
	eng := newTestEngine()
	ex := NewExecution("exec-2", g)

	err := eng.Run(context.Background(), g, ex, nil)
	if !errors.Is(err, ErrSuspended) {
		t.Fatalf("expected ErrSuspended when x is never supplied, got %v", err)
	}
	if ex.Status("y") != StatusSuspended {
		t.Errorf("expected y suspended, got %v", ex.Status("y"))
	}
	found := false
	for _, name := range ex.MissingInputs() {
		if name == "x" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected x listed among missing inputs, got %v", ex.MissingInputs())
	}
}

func TestRunFallbackTriedBeforeOnError(t *testing.T) {
	boom := errors.New("boom")
	m := &module.Module{
		Qualified: "m.AlwaysFails",
		Consumes:  map[string]semtype.SemType{"value": semtype.Int{}},
		Produces:  map[string]semtype.SemType{"value": semtype.Int{}},
		Implementation: func(ctx context.Context, args map[string]value.Value) (map[string]value.Value, error) {
			return nil, boom
		},
	}
	opts := check.CallOptions{OnError: check.OnErrorSkip, Fallback: intFallback(99)}
	g := callGraph(m, opts)
	eng := newTestEngine()
	ex := NewExecution("exec-3", g)

	if err := eng.Run(context.Background(), g, ex, map[string]value.Value{"x": value.VInt{V: 1}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, ok := ex.Value("y")
	if !ok {
		t.Fatal("expected y to have a value from its fallback")
	}
	// A configured fallback must win over on_error's zero-value handling
	// once retries are exhausted.
	if !value.Equal(got, value.VInt{V: 99}) {
		t.Errorf("expected the fallback literal 99, got %v (on_error zero value would be 0)", got)
	}
	if ex.Status("y") != StatusCompleted {
		t.Errorf("expected y completed via fallback, got %v", ex.Status("y"))
	}
}

func TestRunOnErrorSkipUsesModuleDeclaredZeroValue(t *testing.T) {
	boom := errors.New("boom")
	m := &module.Module{
		Qualified: "m.AlwaysFails",
		Consumes:  map[string]semtype.SemType{"value": semtype.Int{}},
		Produces:  map[string]semtype.SemType{"value": semtype.Int{}},
		Implementation: func(ctx context.Context, args map[string]value.Value) (map[string]value.Value, error) {
			return nil, boom
		},
	}
	// No fallback configured: on_error=skip must resolve to the module's
	// declared zero return value, not an empty record.
	g := callGraph(m, check.CallOptions{OnError: check.OnErrorSkip})
	eng := newTestEngine()
	ex := NewExecution("exec-4", g)

	if err := eng.Run(context.Background(), g, ex, map[string]value.Value{"x": value.VInt{V: 1}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, ok := ex.Value("y")
	if !ok {
		t.Fatal("expected y to have a zero value from on_error=skip")
	}
	if !value.Equal(got, value.VInt{V: 0}) {
		t.Errorf("expected the module's declared zero value VInt{0}, got %v", got)
	}
}

func TestRunOnErrorPropagateFailsNode(t *testing.T) {
	boom := errors.New("boom")
	m := &module.Module{
		Qualified: "m.AlwaysFails",
		Consumes:  map[string]semtype.SemType{"value": semtype.Int{}},
		Produces:  map[string]semtype.SemType{"value": semtype.Int{}},
		Implementation: func(ctx context.Context, args map[string]value.Value) (map[string]value.Value, error) {
			return nil, boom
		},
	}
	g := callGraph(m, check.CallOptions{OnError: check.OnErrorPropagate})
	eng := newTestEngine()
	ex := NewExecution("exec-5", g)

	if err := eng.Run(context.Background(), g, ex, map[string]value.Value{"x": value.VInt{V: 1}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ex.Status("y") != StatusFailed {
		t.Errorf("expected y failed under on_error=propagate, got %v", ex.Status("y"))
	}
	if ex.Err("y") == nil {
		t.Error("expected a recorded error on y")
	}
}

func TestCallWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	boom := errors.New("boom")
	var calls int32
	m := &module.Module{
		Qualified: "m.Flaky",
		Consumes:  map[string]semtype.SemType{"value": semtype.Int{}},
		Produces:  map[string]semtype.SemType{"value": semtype.Int{}},
		Implementation: func(ctx context.Context, args map[string]value.Value) (map[string]value.Value, error) {
			if atomic.AddInt32(&calls, 1) <= 2 {
				return nil, boom
			}
			return map[string]value.Value{"value": value.VInt{V: 7}}, nil
		},
	}
	opts := check.CallOptions{Retry: 2, Delay: 10 * time.Millisecond, Backoff: check.BackoffExponential}
	g := callGraph(m, opts)
	eng := newTestEngine()
	ex := NewExecution("exec-6", g)

	start := time.Now()
	if err := eng.Run(context.Background(), g, ex, map[string]value.Value{"x": value.VInt{V: 1}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	// Exponential backoff over two failed attempts with a 10ms base delay
	// waits 10ms then 20ms, so completion should take at least 30ms.
	if elapsed < 30*time.Millisecond {
		t.Errorf("expected exponential backoff to take at least 30ms, took %v", elapsed)
	}
	got, ok := ex.Value("y")
	if !ok || !value.Equal(got, value.VInt{V: 7}) {
		t.Errorf("expected the eventual success value VInt{7}, got %v", got)
	}
}

func TestCallWithRetryExhaustsAndFails(t *testing.T) {
	boom := errors.New("boom")
	var calls int32
	m := &module.Module{
		Qualified: "m.AlwaysFails",
		Consumes:  map[string]semtype.SemType{"value": semtype.Int{}},
		Produces:  map[string]semtype.SemType{"value": semtype.Int{}},
		Implementation: func(ctx context.Context, args map[string]value.Value) (map[string]value.Value, error) {
			atomic.AddInt32(&calls, 1)
			return nil, boom
		},
	}
	opts := check.CallOptions{Retry: 2, OnError: check.OnErrorPropagate}
	g := callGraph(m, opts)
	eng := newTestEngine()
	ex := NewExecution("exec-7", g)

	if err := eng.Run(context.Background(), g, ex, map[string]value.Value{"x": value.VInt{V: 1}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected attempts = retry+1 = 3, got %d", got)
	}
	if ex.Status("y") != StatusFailed {
		t.Errorf("expected y failed once retries are exhausted, got %v", ex.Status("y"))
	}
}

func TestTimeoutAppliesPerAttemptNotAcrossRetries(t *testing.T) {
	var calls int32
	m := &module.Module{
		Qualified: "m.SlowEachTime",
		Consumes:  map[string]semtype.SemType{"value": semtype.Int{}},
		Produces:  map[string]semtype.SemType{"value": semtype.Int{}},
		Implementation: func(ctx context.Context, args map[string]value.Value) (map[string]value.Value, error) {
			atomic.AddInt32(&calls, 1)
			select {
			case <-time.After(200 * time.Millisecond):
				return map[string]value.Value{"value": value.VInt{V: 1}}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	// Each attempt gets its own 20ms deadline; if the timeout were shared
	// across the whole retry budget instead of reset per attempt, the
	// second attempt would never get a chance to run its own 20ms window.
	opts := check.CallOptions{Retry: 1, Timeout: 20 * time.Millisecond, OnError: check.OnErrorPropagate}
	g := callGraph(m, opts)
	eng := newTestEngine()
	ex := NewExecution("exec-8", g)

	start := time.Now()
	if err := eng.Run(context.Background(), g, ex, map[string]value.Value{"x": value.VInt{V: 1}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected both attempts to run, got %d calls", got)
	}
	if elapsed > 150*time.Millisecond {
		t.Errorf("expected each attempt to be cut off at its own 20ms timeout (~40ms total), took %v", elapsed)
	}
	if ex.Status("y") != StatusFailed {
		t.Errorf("expected y failed after both attempts time out, got %v", ex.Status("y"))
	}
}

func TestGatherArgsReportsMissingEdgeValue(t *testing.T) {
	m := &module.Module{
		Qualified:      "m.Noop",
		Consumes:       map[string]semtype.SemType{"value": semtype.Int{}},
		Produces:       map[string]semtype.SemType{"value": semtype.Int{}},
		Implementation: func(ctx context.Context, args map[string]value.Value) (map[string]value.Value, error) { return nil, nil },
	}
	g := callGraph(m, check.CallOptions{})
	// Drop the producing node entirely so gatherArgs can't resolve the edge.
	delete(g.Nodes, "x")

	eng := newTestEngine()
	ex := NewExecution("exec-9", g)
	_, err := eng.gatherArgs(g, ex, g.Nodes["y"])
	if err == nil {
		t.Fatal("expected gatherArgs to report the missing producer's value")
	}
}
