// Package engine is the top-level facade tying the pipeline language's
// front end (lang/parser, lang/resolve, lang/check), the DAG compiler
// (compile), and the runtime (engine/exec, engine/suspend, store) into
// the three operations the rest of the system calls through: Compile,
// Execute, Resume. Everything outside this module — an HTTP surface, a
// CLI, an IDE server — is a thin adapter over these Go methods.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/flowforge/compile"
	"github.com/kbukum/flowforge/engine/cache"
	"github.com/kbukum/flowforge/engine/exec"
	"github.com/kbukum/flowforge/engine/scheduler"
	"github.com/kbukum/flowforge/engine/suspend"
	flowerrors "github.com/kbukum/flowforge/errors"
	"github.com/kbukum/flowforge/lang/ast"
	"github.com/kbukum/flowforge/lang/check"
	"github.com/kbukum/flowforge/lang/parser"
	"github.com/kbukum/flowforge/lang/resolve"
	"github.com/kbukum/flowforge/logger"
	"github.com/kbukum/flowforge/module"
	"github.com/kbukum/flowforge/semtype"
	"github.com/kbukum/flowforge/store"
	"github.com/kbukum/flowforge/util"
	"github.com/kbukum/flowforge/value"
)

// ErrResumeInProgress is returned by Resume when the same execution id is
// already being resumed by another caller.
var ErrResumeInProgress = errors.New("engine: resume already in progress for this execution")

// CompileResult is what Compile hands back: the compiled graph plus the
// pipeline-store image it was filed under, ready for Execute or for later
// retrieval by structural hash or alias.
type CompileResult struct {
	Graph       *compile.Graph
	Image       store.Image
	Diagnostics []flowerrors.Diagnostic
}

// Engine runs pipelines end to end: parse, resolve, check, compile,
// execute, and (when inputs are missing) suspend and later resume.
type Engine struct {
	registry *module.Registry
	runtime  *exec.Engine
	images   store.Backend
	suspend  *suspend.Store

	mu       sync.Mutex
	resuming map[string]bool

	log *logger.Logger
}

// New assembles an Engine from its already-constructed dependencies — the
// module registry, a cache backend (nil disables caching), a scheduler
// shared across every Run call, a pipeline image store, and a suspension
// store. Wiring these from configuration is bootstrap's job: this
// constructor takes finished components, the way a di.Container-resolved
// dependency graph would hand them over.
func New(registry *module.Registry, cacheBackend cache.Backend, sched *scheduler.Scheduler, images store.Backend, suspendStore *suspend.Store, log *logger.Logger) *Engine {
	return &Engine{
		registry: registry,
		runtime:  exec.New(cacheBackend, sched, log),
		images:   images,
		suspend:  suspendStore,
		resuming: make(map[string]bool),
		log:      log.WithComponent("engine"),
	}
}

// Compile parses, resolves, type-checks, and lowers source into a Graph,
// filing the result in the pipeline store under its structural hash. It
// returns every diagnostic collected along the way; a nil Graph means an
// error-severity diagnostic stopped the pipeline short of a usable graph.
func (e *Engine) Compile(ctx context.Context, source string, imports []module.NamespaceImport) (*CompileResult, error) {
	pipeline, diags := parser.Parse(source)
	if hasError(diags) {
		return &CompileResult{Diagnostics: diags}, nil
	}

	resolved := resolve.Resolve(pipeline, e.registry, imports)
	diags = append(diags, resolved.Diagnostics...)
	if hasError(diags) {
		return &CompileResult{Diagnostics: diags}, nil
	}

	checked := check.Check(pipeline, resolved)
	diags = append(diags, checked.Diagnostics...)
	if hasError(diags) {
		return &CompileResult{Diagnostics: diags}, nil
	}

	graph, compileDiags := compile.Compile(pipeline, resolved, checked, source)
	diags = append(diags, compileDiags...)
	if hasError(diags) {
		return &CompileResult{Diagnostics: diags}, nil
	}

	structuralHash, err := compile.StructuralHash(graph)
	if err != nil {
		return nil, fmt.Errorf("engine: structural hash: %w", err)
	}

	img := store.Image{
		StructuralHash: structuralHash,
		SyntacticHash:  compile.SyntacticHash(source),
		Source:         source,
		CompiledAt:     time.Now(),
		InputSchema:    inputSchema(pipeline, graph),
		OutputSchema:   outputSchema(pipeline, graph),
		ModuleRefs:     moduleRefs(graph),
	}
	if e.images != nil {
		if err := e.images.Put(ctx, img); err != nil {
			return nil, fmt.Errorf("engine: filing pipeline image: %w", err)
		}
	}

	return &CompileResult{Graph: graph, Image: img, Diagnostics: diags}, nil
}

// Execute runs a fresh execution of g against inputs, returning either a
// completed/failed Execution or, if a declared input was never supplied,
// a partially-completed Execution alongside exec.ErrSuspended after
// persisting its state to the suspension store.
func (e *Engine) Execute(ctx context.Context, g *compile.Graph, inputs map[string]value.Value) (*exec.Execution, error) {
	ex := exec.NewExecution(uuid.NewString(), g)
	runErr := e.runtime.Run(ctx, g, ex, inputs)
	return e.finishRun(ctx, ex, g, runErr)
}

// Resume merges newInputs into a previously suspended execution and
// re-enters the runtime loop. It rejects a concurrent resume of the same
// execution id with ErrResumeInProgress, per §4.J step 1.
func (e *Engine) Resume(ctx context.Context, executionID string, g *compile.Graph, newInputs map[string]value.Value) (*exec.Execution, error) {
	if _, err := util.ValidateUUID("executionID", executionID); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if !e.beginResume(executionID) {
		return nil, ErrResumeInProgress
	}
	defer e.endResume(executionID)

	graphHash, err := compile.StructuralHash(g)
	if err != nil {
		return nil, fmt.Errorf("engine: structural hash: %w", err)
	}

	ex, err := e.suspend.Resume(ctx, executionID, g, graphHash)
	if err != nil {
		return nil, err
	}

	runErr := e.runtime.Run(ctx, g, ex, newInputs)
	return e.finishRun(ctx, ex, g, runErr)
}

func (e *Engine) finishRun(ctx context.Context, ex *exec.Execution, g *compile.Graph, runErr error) (*exec.Execution, error) {
	if errors.Is(runErr, exec.ErrSuspended) {
		graphHash, err := compile.StructuralHash(g)
		if err != nil {
			return ex, fmt.Errorf("engine: structural hash: %w", err)
		}
		if err := e.suspend.Suspend(ctx, ex, g, graphHash); err != nil {
			return ex, fmt.Errorf("engine: persisting suspension: %w", err)
		}
		return ex, exec.ErrSuspended
	}
	if runErr != nil {
		return ex, runErr
	}
	if err := e.suspend.Discard(ctx, ex.ID); err != nil {
		e.log.Warn("discarding suspension snapshot after completion", map[string]interface{}{"execution_id": ex.ID, "error": err.Error()})
	}
	return ex, nil
}

func (e *Engine) beginResume(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resuming[executionID] {
		return false
	}
	e.resuming[executionID] = true
	return true
}

func (e *Engine) endResume(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.resuming, executionID)
}

func hasError(diags []flowerrors.Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == flowerrors.SeverityError || d.Severity == flowerrors.SeverityCritical {
			return true
		}
	}
	return false
}

// inputSchema/outputSchema read each declared input/output's type back off
// the compiled graph: compile.Compile has already resolved every node's
// slot types, so the pipeline store's image doesn't need its own copy of
// the type checker's side tables.
func inputSchema(pipeline *ast.Pipeline, g *compile.Graph) map[string]semtype.SemType {
	schema := make(map[string]semtype.SemType, len(pipeline.Inputs))
	for _, in := range pipeline.Inputs {
		if n, ok := g.Nodes[in.Name]; ok && len(n.Outputs) > 0 {
			schema[in.Name] = n.Outputs[0].Type
		}
	}
	return schema
}

func outputSchema(pipeline *ast.Pipeline, g *compile.Graph) map[string]semtype.SemType {
	schema := make(map[string]semtype.SemType, len(pipeline.Outputs))
	for _, out := range pipeline.Outputs {
		if n, ok := g.Nodes[out.Name]; ok && len(n.Outputs) > 0 {
			schema[out.Name] = n.Outputs[0].Type
		}
	}
	return schema
}

func moduleRefs(g *compile.Graph) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, n := range g.Nodes {
		if n.Kind != compile.KindModuleCall || n.Qualified == "" {
			continue
		}
		if !seen[n.Qualified] {
			seen[n.Qualified] = true
			refs = append(refs, n.Qualified)
		}
	}
	return refs
}
