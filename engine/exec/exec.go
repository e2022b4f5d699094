// Package exec runs a compiled graph: layer-by-layer execution the way
// dag.Engine.execute walks dag.Graph.BuildLevels' output, with each
// module-call node wrapped in the full per-call policy pipeline —
// throttle, then a concurrency permit, then a cache lookup, then a timeout
// and retry-with-backoff around the module body, then on-success cache
// writes or on-failure fallback/on_error handling — and an OpenTelemetry
// span per node.
package exec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/flowforge/compile"
	"github.com/kbukum/flowforge/engine/cache"
	"github.com/kbukum/flowforge/engine/circuit"
	"github.com/kbukum/flowforge/engine/scheduler"
	"github.com/kbukum/flowforge/engine/semaphore"
	"github.com/kbukum/flowforge/engine/throttle"
	"github.com/kbukum/flowforge/lang/ast"
	"github.com/kbukum/flowforge/lang/check"
	"github.com/kbukum/flowforge/logger"
	"github.com/kbukum/flowforge/observability"
	"github.com/kbukum/flowforge/semtype"
	"github.com/kbukum/flowforge/value"
)

// Status is a node's terminal or in-progress execution state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusSuspended Status = "suspended"
)

// Execution is the mutable state of one pipeline run: the values produced
// so far, each node's status, and how many times the run has been
// resumed after a suspension.
type Execution struct {
	ID              string
	mu              sync.RWMutex
	values          map[string]value.Value
	statuses        map[string]Status
	errs            map[string]error
	resumptionCount int
	missingInputs   []string
}

// NewExecution creates an empty execution state seeded with pending status
// for every node in g.
func NewExecution(id string, g *compile.Graph) *Execution {
	e := &Execution{
		ID:       id,
		values:   make(map[string]value.Value),
		statuses: make(map[string]Status),
		errs:     make(map[string]error),
	}
	for name := range g.Nodes {
		e.statuses[name] = StatusPending
	}
	return e
}

func (e *Execution) setValue(name string, v value.Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[name] = v
}

func (e *Execution) Value(name string) (value.Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[name]
	return v, ok
}

func (e *Execution) setStatus(name string, s Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses[name] = s
}

func (e *Execution) Status(name string) Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statuses[name]
}

func (e *Execution) setErr(name string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs[name] = err
}

func (e *Execution) Err(name string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.errs[name]
}

// MarkSuspended records name as waiting on missingInputs and bumps the
// resumption counter, for engine/suspend to persist and later resume.
func (e *Execution) MarkSuspended(name string, missingInputs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses[name] = StatusSuspended
	e.missingInputs = append(e.missingInputs, missingInputs...)
	e.resumptionCount++
}

// ResumptionCount reports how many times this execution has suspended.
func (e *Execution) ResumptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resumptionCount
}

// MissingInputs lists the names this execution is still waiting on.
func (e *Execution) MissingInputs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.missingInputs...)
}

// Restore seeds a rehydrated execution with a previously-computed value
// and status, used by engine/suspend when resuming from a snapshot.
func (e *Execution) Restore(name string, v value.Value, status Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[name] = v
	e.statuses[name] = status
}

// Engine runs compiled graphs against a module registry's implementations,
// applying each module call's resolved policy options.
type Engine struct {
	throttles  *throttle.Registry
	semaphores *semaphore.Registry
	breakers   *circuit.Registry
	cache      cache.Backend
	flight     *cache.Group
	sched      *scheduler.Scheduler
	log        *logger.Logger
	tracer     trace.Tracer
}

// New builds an Engine. cacheBackend may be nil to disable caching
// entirely (every call runs, nothing is looked up or stored). sched
// admits every node's execution, honoring its with-clause priority and
// (in bounded mode) aging against starvation; callers share one
// Scheduler across every Engine.Run invocation so MaxConcurrency bounds
// the whole process, not just one execution.
func New(cacheBackend cache.Backend, sched *scheduler.Scheduler, log *logger.Logger) *Engine {
	return &Engine{
		throttles:  throttle.New(),
		semaphores: semaphore.New(),
		breakers:   circuit.New(),
		cache:      cacheBackend,
		flight:     cache.NewGroup(),
		sched:      sched,
		log:        log.WithComponent("exec"),
		tracer:     observability.Tracer("github.com/kbukum/flowforge/engine/exec"),
	}
}

// ErrSuspended is returned by Run when the execution could not make
// further progress because one or more declared inputs were never
// supplied. Callers check for it with errors.Is and hand the Execution to
// engine/suspend rather than treating it as a failure.
var ErrSuspended = errors.New("exec: execution suspended on missing inputs")

// Run executes every node of g in topological order, level by level, the
// same shape dag.Engine.execute uses: each level's nodes run concurrently,
// and the next level only starts once every node in the current one has
// finished (successfully, with a fallback, or via on_error handling). If
// any declared input is absent from inputs, Run marks every node whose
// computation transitively depends on it Suspended instead of running it,
// runs everything else to completion, and returns ErrSuspended.
func (eng *Engine) Run(ctx context.Context, g *compile.Graph, ex *Execution, inputs map[string]value.Value) error {
	for name, v := range inputs {
		ex.setValue(name, v)
		ex.setStatus(name, StatusCompleted)
	}

	// missingInputs reads ex's accumulated status, not just this call's
	// inputs map, so a resumed execution's already-restored values (from
	// engine/suspend) count as supplied without needing to be re-passed.
	missing := missingInputs(g, ex)
	blocked := blockedNodes(g, missing)

	levels, err := compile.BuildLevels(g)
	if err != nil {
		return err
	}

	needed := neededNodes(g)

	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return err
		}
		var wg sync.WaitGroup
		for _, name := range level {
			node := g.Nodes[name]
			if node.Kind == compile.KindData && ex.Status(name) == StatusCompleted {
				continue // already seeded as an input
			}
			if blocked[name] {
				ex.MarkSuspended(name, missing)
				continue
			}
			if node.Options.Lazy && !needed[name] {
				ex.setStatus(name, StatusSkipped)
				continue
			}
			wg.Add(1)
			item := scheduler.Item{
				ID:       ex.ID + "/" + node.ID,
				Priority: node.Options.Priority,
				Run: func(ctx context.Context) {
					defer wg.Done()
					eng.runNode(ctx, g, ex, node)
				},
			}
			if err := eng.sched.Submit(ctx, item); err != nil {
				wg.Done()
				eng.fail(ex, trace.SpanFromContext(ctx), node, err)
			}
		}
		wg.Wait()
	}

	if len(missing) > 0 {
		return ErrSuspended
	}
	return nil
}

// missingInputs reports which of g's declared pipeline inputs (KindData
// nodes with no backing expression) have no value yet in ex — neither
// seeded this call nor restored from a prior suspension.
func missingInputs(g *compile.Graph, ex *Execution) []string {
	var missing []string
	for name, n := range g.Nodes {
		if n.Kind != compile.KindData || n.Expr != nil {
			continue
		}
		if ex.Status(name) != StatusCompleted {
			missing = append(missing, name)
		}
	}
	return missing
}

// blockedNodes computes the forward transitive closure of missing through
// g's edges: every node that can never receive all of its inputs because
// it depends, directly or indirectly, on an input that was never supplied.
func blockedNodes(g *compile.Graph, missing []string) map[string]bool {
	blocked := make(map[string]bool, len(missing))
	var mark func(string)
	mark = func(id string) {
		if blocked[id] {
			return
		}
		blocked[id] = true
		for _, e := range g.Edges {
			if e.From == id {
				mark(e.To)
			}
		}
	}
	for _, name := range missing {
		mark(name)
	}
	return blocked
}

// neededNodes computes which nodes must actually execute: every eager
// (non-lazy) node, every sink node (nothing downstream depends on it — the
// closest approximation available at this layer to "is a pipeline
// output", since compile.Graph does not itself retain the pipeline's
// declared output names), and the transitive dependency closure of both.
// A `with lazy: true` node outside this set is elided entirely — its
// value is never demanded, so its module is never invoked.
func neededNodes(g *compile.Graph) map[string]bool {
	hasDependent := make(map[string]bool, len(g.Nodes))
	for _, e := range g.Edges {
		hasDependent[e.From] = true
	}

	needed := make(map[string]bool, len(g.Nodes))
	var mark func(string)
	mark = func(id string) {
		if needed[id] {
			return
		}
		needed[id] = true
		for _, e := range g.Edges {
			if e.To == id {
				mark(e.From)
			}
		}
	}
	for id, n := range g.Nodes {
		if !n.Options.Lazy || !hasDependent[id] {
			mark(id)
		}
	}
	return needed
}

func (eng *Engine) runNode(ctx context.Context, g *compile.Graph, ex *Execution, node *compile.Node) {
	ctx, span := eng.tracer.Start(ctx, "node."+node.ID, trace.WithAttributes(
		attribute.String("flowforge.node.id", node.ID),
		attribute.String("flowforge.node.module", node.Qualified),
	))
	defer span.End()

	ex.setStatus(node.ID, StatusRunning)

	args, err := eng.gatherArgs(g, ex, node)
	if err != nil {
		eng.fail(ex, span, node, err)
		return
	}

	if node.Kind != compile.KindModuleCall {
		eng.failData(ex, span, node, args)
		return
	}

	out, err := eng.callModule(ctx, node, args)
	if err != nil {
		// §4.I: fallback is tried first when retries are exhausted; on_error
		// only fires once retries and fallback are both exhausted/absent.
		if fb, ok := eng.applyFallback(node, err); ok {
			ex.setValue(node.ID, fb)
			ex.setStatus(node.ID, StatusCompleted)
			span.SetStatus(codes.Ok, "fallback")
			return
		}
		out, err = eng.onError(node, node.Options, err)
		if err != nil {
			eng.fail(ex, span, node, err)
			return
		}
		ex.setValue(node.ID, singleOutput(out))
		ex.setStatus(node.ID, StatusCompleted)
		span.SetStatus(codes.Ok, "on_error")
		return
	}

	ex.setValue(node.ID, singleOutput(out))
	ex.setStatus(node.ID, StatusCompleted)
	span.SetStatus(codes.Ok, "")
}

// failData marks a pure-expression (KindData) node failed. compile stores
// such a node's expression in Expr without evaluating it, and exec has no
// expression evaluator, so every data node that is not a supplied
// pipeline input ends here with a run-time error.
func (eng *Engine) failData(ex *Execution, span trace.Span, node *compile.Node, args map[string]value.Value) {
	eng.fail(ex, span, node, fmt.Errorf("exec: node %q has no module to call", node.ID))
}

func (eng *Engine) fail(ex *Execution, span trace.Span, node *compile.Node, err error) {
	ex.setStatus(node.ID, StatusFailed)
	ex.setErr(node.ID, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	eng.log.Error("node failed", map[string]interface{}{"node": node.ID, "module": node.Qualified, "error": err.Error()})
}

func (eng *Engine) gatherArgs(g *compile.Graph, ex *Execution, node *compile.Node) (map[string]value.Value, error) {
	args := make(map[string]value.Value, len(node.Inputs))
	for _, e := range g.Edges {
		if e.To != node.ID {
			continue
		}
		v, ok := ex.Value(e.From)
		if !ok {
			return nil, fmt.Errorf("exec: node %q missing input %q from %q", node.ID, e.ToSlot, e.From)
		}
		args[e.ToSlot] = v
	}
	return args, nil
}

func singleOutput(out map[string]value.Value) value.Value {
	if len(out) == 1 {
		for _, v := range out {
			return v
		}
	}
	fields := make(map[string]value.Value, len(out))
	order := make([]string, 0, len(out))
	for k, v := range out {
		fields[k] = v
		order = append(order, k)
	}
	return value.VRecord{Fields: fields, Shape: value.NewProduct(order, typesOf(fields))}
}

func typesOf(fields map[string]value.Value) map[string]value.Type {
	types := make(map[string]value.Type, len(fields))
	for k, v := range fields {
		types[k] = v.Type()
	}
	return types
}

// applyFallback evaluates a call's `fallback` option when its body
// ultimately fails. lang/check only type-checks the fallback expression
// against the module's return type, so exec owns evaluating it. Only
// literal fallback values are supported — `with fallback: 0`, `fallback:
// "unknown"`, `fallback: true` — since a general expression evaluator
// belongs to a richer runtime than this engine layer currently has; a
// non-literal fallback expression is treated as "no fallback available".
func (eng *Engine) applyFallback(node *compile.Node, cause error) (value.Value, bool) {
	lit, ok := node.Options.Fallback.(ast.LiteralExpr)
	if !ok {
		return nil, false
	}
	switch lit.Lit.Kind {
	case ast.LitString:
		return value.VString{V: lit.Lit.Str}, true
	case ast.LitInt:
		return value.VInt{V: lit.Lit.Int}, true
	case ast.LitFloat:
		return value.VFloat{V: lit.Lit.Flt}, true
	case ast.LitBool:
		return value.VBool{V: lit.Lit.Bool}, true
	default:
		return nil, false
	}
}

// callModule runs the nested per-call policy pipeline: throttle, then a
// concurrency permit, then a cache lookup (single-flighted against
// concurrent identical misses), then timeout-and-retry around the module
// body, then an on-success cache write.
func (eng *Engine) callModule(ctx context.Context, node *compile.Node, args map[string]value.Value) (map[string]value.Value, error) {
	opts := node.Options

	if opts.Throttle != nil {
		if err := eng.throttles.Wait(ctx, node.Qualified, throttle.Rate{
			Count:   opts.Throttle.Count,
			Seconds: opts.Throttle.Duration.Seconds(),
		}); err != nil {
			return nil, err
		}
	}

	var lastOut map[string]value.Value
	var lastErr error
	call := func() error {
		out, runErr := eng.callWithCache(ctx, node, args, opts)
		lastOut, lastErr = out, runErr
		return runErr
	}
	guarded := call
	if opts.CircuitBreaker {
		guarded = func() error { return eng.breakers.Run(node.Qualified, call) }
	}

	semErr := eng.semaphores.Run(ctx, node.Qualified, opts.Concurrency, guarded)
	if semErr != nil && lastErr == nil {
		return nil, semErr
	}
	return lastOut, lastErr
}

// onError applies a retry-and-fallback-exhausted call's on_error option.
// skip and log resolve to the module's declared zero return value (§4.I's
// on_error table); wrap and propagate (the default) keep failing the node,
// leaving runNode to call fail with the returned error.
func (eng *Engine) onError(node *compile.Node, opts check.CallOptions, err error) (map[string]value.Value, error) {
	switch opts.OnError {
	case check.OnErrorSkip:
		return zeroOutputOf(node)
	case check.OnErrorLog:
		eng.log.Warn("module call failed, continuing per on_error=log", map[string]interface{}{"module": node.Qualified, "error": err.Error()})
		return zeroOutputOf(node)
	case check.OnErrorWrap:
		return nil, fmt.Errorf("%s: %w", node.Qualified, err)
	default:
		return nil, err
	}
}

// zeroOutputOf builds the zero value for every field node.Module declares
// in Produces, lowering each field's compile-time semtype.SemType to its
// runtime value.Type before calling value.Zero.
func zeroOutputOf(node *compile.Node) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(node.Module.Produces))
	for name, st := range node.Module.Produces {
		t, err := semtype.Lower(st)
		if err != nil {
			return nil, fmt.Errorf("exec: lowering %s.%s for on_error zero value: %w", node.Qualified, name, err)
		}
		out[name] = value.Zero(t)
	}
	return out, nil
}

func (eng *Engine) callWithCache(ctx context.Context, node *compile.Node, args map[string]value.Value, opts check.CallOptions) (map[string]value.Value, error) {
	if eng.cache == nil || opts.Cache <= 0 {
		return eng.callWithRetry(ctx, node, args, opts)
	}

	key, err := cache.Key(node.Qualified, args, "1")
	if err != nil {
		return nil, err
	}

	if v, ok, err := eng.cache.Lookup(ctx, key); err == nil && ok {
		return map[string]value.Value{"value": v}, nil
	}

	v, err := eng.flight.Do(key, func() (value.Value, error) {
		out, err := eng.callWithRetry(ctx, node, args, opts)
		if err != nil {
			return nil, err
		}
		return singleOutput(out), nil
	})
	if err != nil {
		return nil, err
	}
	_ = eng.cache.Put(ctx, key, v, opts.Cache)
	return map[string]value.Value{"value": v}, nil
}

func (eng *Engine) callWithRetry(ctx context.Context, node *compile.Node, args map[string]value.Value, opts check.CallOptions) (map[string]value.Value, error) {
	run := func() (map[string]value.Value, error) {
		callCtx := ctx
		var cancel context.CancelFunc
		if opts.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		return node.Module.Implementation(callCtx, args)
	}

	attempts := opts.Retry + 1
	if attempts <= 1 {
		return run()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := run()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		wait := backoffDelay(opts.Backoff, opts.Delay, attempt)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil, lastErr
}

// backoffDelay computes the wait before the attempt'th retry (attempt
// starting at 1 for the first retry, matching resilience.Retry's own
// attempt numbering) per the option table's three named strategies:
// fixed=delay, linear=delay*attempt, exponential=delay*2^(attempt-1)
// capped at 30s. This intentionally does not reuse resilience.Retry's
// calculateBackoff, which always applies jitter and a factor read from
// config — these three formulas are fixed by name, not configurable, and
// have no jitter.
func backoffDelay(strategy string, delay time.Duration, attempt int) time.Duration {
	if delay <= 0 {
		return 0
	}
	const maxBackoff = 30 * time.Second
	var d time.Duration
	switch strategy {
	case check.BackoffLinear:
		d = delay * time.Duration(attempt)
	case check.BackoffExponential:
		d = time.Duration(float64(delay) * math.Pow(2, float64(attempt-1)))
	default:
		d = delay
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
