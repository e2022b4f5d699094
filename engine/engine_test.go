package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/flowforge/engine/exec"
	"github.com/kbukum/flowforge/engine/scheduler"
	"github.com/kbukum/flowforge/engine/suspend"
	"github.com/kbukum/flowforge/logger"
	"github.com/kbukum/flowforge/module"
	"github.com/kbukum/flowforge/semtype"
	"github.com/kbukum/flowforge/storage/local"
	"github.com/kbukum/flowforge/store"
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
	upper := &module.Module{
		Qualified: "stdlib.strings.Uppercase",
		Consumes:  map[string]semtype.SemType{"value": semtype.String{}},
		Produces:  map[string]semtype.SemType{"value": semtype.String{}},
		Implementation: func(_ context.Context, args map[string]value.Value) (map[string]value.Value, error) {
			s := args["value"].(value.VString).V
			return map[string]value.Value{"value": value.VString{V: upperASCII(s)}}, nil
		},
	}
	if err := reg.Register(trim); err != nil {
		t.Fatalf("register Trim: %v", err)
	}
	if err := reg.Register(upper); err != nil {
		t.Fatalf("register Uppercase: %v", err)
	}
	return reg
}

func upperASCII(s string) string {
	out := []byte(s)
	for i, b := range out {
		if b >= 'a' && b <= 'z' {
			out[i] = b - ('a' - 'A')
		}
	}
	return string(out)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	sched := scheduler.New(scheduler.Config{}, "test.engine")
	images, err := store.New(store.Config{Provider: "memory"}, logger.NewDefault("engine-test"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	backend, err := local.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("local.NewStorage: %v", err)
	}
	suspendStore := suspend.New(backend)
	return New(newTestRegistry(t), nil, sched, images, suspendStore, logger.NewDefault("engine-test"))
}

func TestScenario1SimplePipelineTrimThenUppercase(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	src := "in text: String\ntrimmed = stdlib.strings.Trim(text)\nresult = stdlib.strings.Uppercase(trimmed)\nout result"
	res, err := eng.Compile(ctx, src, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", res.Diagnostics)
	}
	if res.Graph == nil {
		t.Fatal("expected a compiled graph")
	}

	ex, err := eng.Execute(ctx, res.Graph, map[string]value.Value{"text": value.VString{V: "hi"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, ok := ex.Value("result")
	if !ok {
		t.Fatal("expected a value for result")
	}
	if !value.Equal(got, value.VString{V: "HI"}) {
		t.Errorf("expected VString{HI}, got %v", got)
	}
}

func TestScenario2SuspendResume(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	src := "in text: String\nresult = stdlib.strings.Trim(text)\nout result"
	res, err := eng.Compile(ctx, src, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", res.Diagnostics)
	}

	ex, err := eng.Execute(ctx, res.Graph, nil)
	if !errors.Is(err, exec.ErrSuspended) {
		t.Fatalf("expected ErrSuspended when text is never supplied, got %v", err)
	}
	if ex.Status("result") != exec.StatusSuspended {
		t.Fatalf("expected result suspended, got %v", ex.Status("result"))
	}

	resumed, err := eng.Resume(ctx, ex.ID, res.Graph, map[string]value.Value{"text": value.VString{V: "  padded  "}})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, ok := resumed.Value("result")
	if !ok {
		t.Fatal("expected result to have a value after resume")
	}
	if !value.Equal(got, value.VString{V: "  padded  "}) {
		t.Errorf("expected the stub Trim to echo its input, got %v", got)
	}
}

func TestResumeRejectsConcurrentResumeOfSameExecution(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	id := uuid.NewString()

	eng.mu.Lock()
	eng.resuming[id] = true
	eng.mu.Unlock()
	defer func() {
		eng.mu.Lock()
		delete(eng.resuming, id)
		eng.mu.Unlock()
	}()

	src := "in text: String\nresult = stdlib.strings.Trim(text)\nout result"
	res, err := eng.Compile(ctx, src, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if _, err := eng.Resume(ctx, id, res.Graph, map[string]value.Value{"text": value.VString{V: "x"}}); !errors.Is(err, ErrResumeInProgress) {
		t.Fatalf("expected ErrResumeInProgress, got %v", err)
	}
}

func TestCompileCycleReportsE031(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// assigns referencing each other form a cycle the checker/compiler
	// must reject before a graph is ever produced.
	src := "a = b + {x:1}\nb = a + {y:2}\nout a"
	res, err := eng.Compile(ctx, src, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if res.Graph != nil {
		t.Fatal("expected a cyclic pipeline to produce no graph")
	}
	if len(res.Diagnostics) == 0 {
		t.Fatal("expected at least one diagnostic for the cyclic pipeline")
	}
}

func TestExecuteDiscardsSuspensionSnapshotOnCompletion(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	src := "in text: String\nresult = stdlib.strings.Trim(text)\nout result"
	res, err := eng.Compile(ctx, src, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	ex, err := eng.Execute(ctx, res.Graph, map[string]value.Value{"text": value.VString{V: "ok"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	graphHash := ""
	if res.Image.StructuralHash != "" {
		graphHash = res.Image.StructuralHash
	}
	// A completed execution must not leave a resumable suspension snapshot
	// behind: Resume against its id should fail to find one.
	if _, err := eng.suspend.Resume(ctx, ex.ID, res.Graph, graphHash); err == nil {
		t.Error("expected no suspension snapshot to remain after a completed execution")
	}
}

func TestExecuteTimesOutViaContext(t *testing.T) {
	eng := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	src := "in text: String\nresult = stdlib.strings.Trim(text)\nout result"
	res, err := eng.Compile(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if _, err := eng.Execute(ctx, res.Graph, map[string]value.Value{"text": value.VString{V: "x"}}); err == nil {
		t.Error("expected Execute to report the already-expired context")
	}
}
