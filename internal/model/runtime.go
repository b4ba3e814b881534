package model

import (
	"context"
	"sync"
	"time"
)

// StepStatus is the terminal or in-flight status of one step attempt chain.
type StepStatus string

const (
	StepOK       StepStatus = "ok"
	StepSkipped  StepStatus = "skipped"
	StepFailed   StepStatus = "failed"
	StepRetried  StepStatus = "retried"
	StepAborted  StepStatus = "aborted"
)

// StepResult is the outcome of dispatching a single step (spec §3).
type StepResult struct {
	Status   StepStatus
	Attempts int
	Elapsed  time.Duration
	Error    error

	// Compensated is set when a failed guard's on_fail=compensate already
	// ran its compensation sequence to completion (spec §4.7): the step
	// is still reported Failed, but the enclosing sequence must continue
	// with its next step regardless of the sequence's own on_error
	// action, rather than re-applying on_error to an already-handled
	// failure.
	Compensated bool
}

// SequenceStatus is the final state of a SequenceResult: the closed
// taxonomy is {ok, failed, cancelled} (spec §7, §8 seed scenarios) — an
// aborted step (guard/on_error abort, or a policy loop giving up) still
// fails its enclosing sequence rather than landing in a distinct
// "aborted" sequence status; only genuine cancellation gets its own.
type SequenceStatus string

const (
	SequenceOK        SequenceStatus = "ok"
	SequenceFailed    SequenceStatus = "failed"
	SequenceCancelled SequenceStatus = "cancelled"
)

// SequenceResult aggregates step results and final status for one
// execute_sequence call (spec §3, §8 seed scenarios).
type SequenceResult struct {
	SequenceID string
	Status     SequenceStatus
	Steps      []StepResult
	Completed  int
	Total      int
	Elapsed    time.Duration
	Error      error
}

// ResourceGrant is the opaque token returned by a successful resource
// acquire; releasing it exactly once returns the resource to the registry
// (spec §3, §4.5).
type ResourceGrant struct {
	ResourceID string
	Member     string
	Owner      string
	release    func()
	released   atomicBool
}

// Release returns the grant to the registry. Double release is a
// programming error and is logged rather than panicking, per spec §4.5.
func (g *ResourceGrant) Release(onDoubleRelease func()) {
	if !g.released.CompareAndSwap(false, true) {
		if onDoubleRelease != nil {
			onDoubleRelease()
		}
		return
	}
	if g.release != nil {
		g.release()
	}
}

// NewResourceGrant is used by the resource registry to construct a grant
// bound to its own release closure.
func NewResourceGrant(resourceID, member, owner string, release func()) *ResourceGrant {
	return &ResourceGrant{ResourceID: resourceID, Member: member, Owner: owner, release: release}
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) CompareAndSwap(old, new bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.v != old {
		return false
	}
	b.v = new
	return true
}

// ExecutionContext is owned by a single in-flight sequence invocation;
// child parallel branches hold a shared read-only reference plus their own
// cancellation sub-token (spec §3 Ownership).
type ExecutionContext struct {
	CorrelationID string
	Profile       *Profile
	Config        *Configuration // the snapshot this execution started with

	vars   *VarScope
	Start  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// Depth defends against unbounded nested-sequence recursion (spec
	// §4.9 default cap 32) that escaped validation.
	Depth int
}

// NewExecutionContext builds the root context for one execute_sequence
// call. parent is typically context.Background() for a top-level call, or
// a handler's own context for nested dispatch.
func NewExecutionContext(parent context.Context, correlationID string, cfg *Configuration, profile *Profile, callVars map[string]Value) *ExecutionContext {
	ctx, cancel := context.WithCancel(parent)
	scope := NewVarScope(nil, cfg.Vars)
	if profile != nil {
		scope = NewVarScope(scope, profile.VarOverlay)
	}
	scope = NewVarScope(scope, callVars)
	return &ExecutionContext{
		CorrelationID: correlationID,
		Profile:       profile,
		Config:        cfg,
		vars:          scope,
		Start:         time.Now(),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Context returns the cancellation-bearing context.Context for this
// execution.
func (e *ExecutionContext) Context() context.Context { return e.ctx }

// Cancel requests cooperative cancellation; observed at each suspension
// point and between attempts (spec §5).
func (e *ExecutionContext) Cancel() { e.cancel() }

// Cancelled reports whether cancellation has been requested.
func (e *ExecutionContext) Cancelled() bool {
	select {
	case <-e.ctx.Done():
		return true
	default:
		return false
	}
}

// Vars returns the effective variable scope chain (spec §3).
func (e *ExecutionContext) Vars() *VarScope { return e.vars }

// WithLet returns a child ExecutionContext whose variable scope adds a
// step-local `let` layer, sharing the same cancellation token (not a
// sub-token: `let` does not introduce a concurrency boundary).
func (e *ExecutionContext) WithLet(bindings map[string]Value) *ExecutionContext {
	if len(bindings) == 0 {
		return e
	}
	child := *e
	child.vars = NewVarScope(e.vars, bindings)
	return &child
}

// Sub creates a child ExecutionContext for a nested sequence or a parallel
// branch: its own cancellation sub-token such that a parent cancel
// cascades to children, but a child's own cancel does not propagate up
// (spec §3 Ownership, §5 Cancellation).
func (e *ExecutionContext) Sub() *ExecutionContext {
	ctx, cancel := context.WithCancel(e.ctx)
	child := *e
	child.ctx = ctx
	child.cancel = cancel
	child.Depth = e.Depth + 1
	return &child
}

// SubWithContext is like Sub, but the child's cancellation-bearing context
// is supplied externally rather than derived from this ExecutionContext's
// own ctx. A parallel block uses this so every branch shares the single
// errgroup-derived context: one branch's failure cancels its siblings
// without the executor package reaching into ExecutionContext's unexported
// fields (spec §4.9, §5).
func (e *ExecutionContext) SubWithContext(ctx context.Context) *ExecutionContext {
	child := *e
	child.ctx = ctx
	child.cancel = func() {}
	child.Depth = e.Depth + 1
	return &child
}

// VarScope is the chained variable scope of spec §3: global vars -> profile
// overlay -> call-site vars -> step-local let, inner scopes shadowing
// outer ones.
type VarScope struct {
	parent *VarScope
	local  map[string]Value
}

func NewVarScope(parent *VarScope, local map[string]Value) *VarScope {
	if local == nil {
		local = map[string]Value{}
	}
	return &VarScope{parent: parent, local: local}
}

// Lookup resolves an identifier against this scope, innermost first.
func (s *VarScope) Lookup(name string) (Value, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.local[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Flatten collects the effective value of every visible identifier, outer
// values first so inner scopes overwrite them, for template expansion and
// expression context construction.
func (s *VarScope) Flatten() map[string]Value {
	var chain []*VarScope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	out := map[string]Value{}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].local {
			out[k] = v
		}
	}
	return out
}
