package suspend

import (
	"context"
	"testing"

	"github.com/kbukum/flowforge/compile"
	"github.com/kbukum/flowforge/engine/exec"
	"github.com/kbukum/flowforge/storage/local"
	"github.com/kbukum/flowforge/value"
)

func newTestGraph() *compile.Graph {
	g := &compile.Graph{Nodes: make(map[string]*compile.Node), Source: "in x: Int\nout x"}
	g.Nodes["x"] = &compile.Node{
		ID:      "x",
		Kind:    compile.KindData,
		Outputs: []compile.Slot{{Name: "value"}},
	}
	g.Nodes["y"] = &compile.Node{
		ID:      "y",
		Kind:    compile.KindData,
		Outputs: []compile.Slot{{Name: "value"}},
	}
	g.Edges = []compile.Edge{{From: "x", FromSlot: "value", To: "y", ToSlot: "x"}}
	return g
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := local.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("local.NewStorage: %v", err)
	}
	return New(backend)
}

func TestSuspendResumeRoundTripsCompletedValues(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()
	store := newTestStore(t)

	ex := exec.NewExecution("exec-1", g)
	ex.Restore("x", value.VInt{V: 42}, exec.StatusCompleted)

	graphHash, err := compile.StructuralHash(g)
	if err != nil {
		t.Fatalf("StructuralHash: %v", err)
	}
	if err := store.Suspend(ctx, ex, g, graphHash); err != nil {
		t.Fatalf("Suspend: %v", err)
	}

	resumed, err := store.Resume(ctx, "exec-1", g, graphHash)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, ok := resumed.Value("x")
	if !ok {
		t.Fatal("expected x's value to survive the suspend/resume round trip")
	}
	if !value.Equal(got, value.VInt{V: 42}) {
		t.Errorf("expected VInt{42}, got %v", got)
	}
	if resumed.Status("x") != exec.StatusCompleted {
		t.Errorf("expected status completed, got %v", resumed.Status("x"))
	}
}

func TestResumeRejectsMismatchedGraphHash(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()
	store := newTestStore(t)

	ex := exec.NewExecution("exec-2", g)
	if err := store.Suspend(ctx, ex, g, "hash-a"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if _, err := store.Resume(ctx, "exec-2", g, "hash-b"); err == nil {
		t.Fatal("expected Resume to reject a mismatched graph hash")
	}
}

func TestDiscardRemovesSnapshot(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()
	store := newTestStore(t)

	ex := exec.NewExecution("exec-3", g)
	if err := store.Suspend(ctx, ex, g, "hash"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if err := store.Discard(ctx, "exec-3"); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := store.Resume(ctx, "exec-3", g, "hash"); err == nil {
		t.Fatal("expected Resume to fail after Discard removed the snapshot")
	}
}
