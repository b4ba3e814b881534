// Package executor implements the Sequence Executor (spec §4.9): walking a
// parsed sequence, driving guards, policies, resources, and templates,
// emitting events, and handling cancellation. It is the largest single
// component (spec §2, ~24% share), grounded on the teacher's
// orchestration/executor.go step-dispatch shape: a semaphore-bounded pool
// walking one step at a time per sequence invocation, with a regex-driven
// template-substitution pass ahead of each attempt.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Homiakus/motto/internal/audit"
	"github.com/Homiakus/motto/internal/expr"
	"github.com/Homiakus/motto/internal/guard"
	"github.com/Homiakus/motto/internal/logging"
	"github.com/Homiakus/motto/internal/model"
	"github.com/Homiakus/motto/internal/policy"
	"github.com/Homiakus/motto/internal/resource"
	"github.com/Homiakus/motto/internal/template"
	"github.com/Homiakus/motto/internal/transport"
)

// MaxNestedDepth bounds nested-sequence recursion beyond what the
// Validator's cycle-freedom check already forbids, guarding against a
// pathological non-cyclic but very deep sequence graph (spec §4.9).
const MaxNestedDepth = 32

// EventPublisher is the seam the executor uses to emit step/sequence
// events without importing the event bus directly (avoiding an import
// cycle: the bus's ActionRunner calls back into the executor).
type EventPublisher interface {
	Publish(eventID, source string, payload map[string]any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, string, map[string]any) {}

// Executor walks sequences against one loaded Configuration.
type Executor struct {
	cfg       *model.Configuration
	transport transport.Transport
	resources *resource.Registry
	policyEng *policy.Engine
	guards    *guard.Evaluator
	events    EventPublisher
	auditB    *audit.Buffer
	log       logging.ComponentAwareLogger

	statusCtx *statusContext
}

// Option configures an Executor at construction.
type Option func(*Executor)

func WithEventPublisher(p EventPublisher) Option { return func(e *Executor) { e.events = p } }
func WithAuditBuffer(b *audit.Buffer) Option      { return func(e *Executor) { e.auditB = b } }
func WithLogger(l logging.ComponentAwareLogger) Option {
	return func(e *Executor) { e.log = l.WithComponent("core/executor") }
}

// New builds an Executor bound to cfg, tr, and a shared resource registry
// and policy engine/idempotency table (so idempotency and resource state
// survive across separate Execute calls against the same Orchestrator).
func New(cfg *model.Configuration, tr transport.Transport, resources *resource.Registry, policyEng *policy.Engine, opts ...Option) *Executor {
	e := &Executor{
		cfg: cfg, transport: tr, resources: resources, policyEng: policyEng,
		guards: guard.NewEvaluator(cfg), events: noopPublisher{}, log: logging.Noop(),
		statusCtx: newStatusContext(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StatusFeed is the write side of the executor's live status store: where
// transport notifications and sequence lifecycle events land so the
// expression evaluator's status()/elapsed()/count() built-ins (spec §4.3)
// and the Orchestrator Facade's status() Snapshot (spec §4.10) can read
// them back.
type StatusFeed interface {
	SetStatus(key string, v model.Value)
	Mark(marker string)
	IncrementCount(key string, by float64)
	RunningSequences() map[string]string
}

// StatusContext exposes the executor's status store as a StatusFeed so the
// Orchestrator can forward transport.Event payloads into it.
func (e *Executor) StatusContext() StatusFeed { return e.statusCtx }

// ExecuteSequence implements execute(sequence_id, vars, profile?) (spec
// §4.10): blocking, and returns a SequenceResult whose Status is always
// one of the closed enum values.
func (e *Executor) ExecuteSequence(parent context.Context, sequenceID string, vars map[string]model.Value, profile *model.Profile, correlationID string) model.SequenceResult {
	seq, ok := e.cfg.Sequences[sequenceID]
	if !ok {
		return model.SequenceResult{
			SequenceID: sequenceID, Status: model.SequenceFailed,
			Error: fmt.Errorf("%w: sequence %s", model.ErrRef, sequenceID),
		}
	}

	ec := model.NewExecutionContext(parent, correlationID, e.cfg, profile, vars)
	e.statusCtx.markRunning(correlationID, sequenceID)
	defer e.statusCtx.markDone(correlationID)

	start := time.Now()
	result := e.runSequence(ec, seq)
	result.SequenceID = sequenceID
	result.Elapsed = time.Since(start)
	result.Total = countSteps(seq.Steps)

	e.auditAppend(ec, "sequence_completed", map[string]any{
		"sequence_id": sequenceID, "status": string(result.Status), "completed": result.Completed, "total": result.Total,
	})
	return result
}

func countSteps(steps []model.Step) int {
	n := 0
	for _, s := range steps {
		n++
		n += countSteps(s.Then)
		n += countSteps(s.Else)
	}
	return n
}

// runSequence walks a sequence's steps and applies on_error handling for
// unguarded step failures. A sequence's declared pre/post guards are not
// checked here: they gate each command step's own dispatch (the GUARDS
// phase of the per-step state machine, spec §5), evaluated inside
// dispatchCommand every time that sequence's command steps run, not once
// at sequence entry/exit. seq is threaded explicitly into every step
// dispatched from it, rather than recovered from the Step pointer, so a
// command step's resources/policy/guards always resolve to the Sequence
// that actually declared them (spec §3: Sequence carries these, not
// Step).
func (e *Executor) runSequence(ec *model.ExecutionContext, seq *model.Sequence) model.SequenceResult {
	var results []model.StepResult
	completed := 0
	for i := range seq.Steps {
		if ec.Cancelled() {
			return model.SequenceResult{Status: model.SequenceCancelled, Steps: results, Completed: completed, Error: fmt.Errorf("%w", model.ErrCancelled)}
		}
		stepResult := e.dispatchStep(ec, seq, &seq.Steps[i])
		results = append(results, stepResult)

		switch {
		case stepResult.Status == model.StepOK || stepResult.Status == model.StepSkipped:
			completed++
			continue
		case stepResult.Status == model.StepFailed && stepResult.Compensated:
			// A guard's own on_fail=compensate already ran (spec §4.7):
			// the step stays Failed for reporting, but on_error is not
			// re-applied to it.
			completed++
			continue
		case stepResult.Status == model.StepAborted:
			return model.SequenceResult{Status: statusForAbort(stepResult.Error), Steps: results, Completed: completed, Error: stepResult.Error}
		case stepResult.Status == model.StepFailed || stepResult.Status == model.StepRetried:
			action := seq.OnError
			if action == "" {
				action = model.GuardActionAbort
			}
			switch action {
			case model.GuardActionSkip:
				completed++
				continue
			case model.GuardActionCompensate:
				if err := e.runCompensation(ec, seq.OnErrorCompensateSeq); err != nil {
					return model.SequenceResult{Status: model.SequenceFailed, Steps: results, Completed: completed, Error: err}
				}
				completed++
				continue
			default:
				return model.SequenceResult{Status: model.SequenceFailed, Steps: results, Completed: completed, Error: stepResult.Error}
			}
		}
	}

	return model.SequenceResult{Status: model.SequenceOK, Steps: results, Completed: completed}
}

// statusForAbort maps a step-level abort to the enclosing SequenceResult's
// status: cancellation (the only thing that can make a step abort without
// it being a "real" failure) keeps its own status; every other abort
// reason (guard on_fail=abort, on_error's default abort, a retry loop
// giving up) fails the sequence (spec §4.7 "terminate the enclosing
// sequence with failure", §8 seed scenario 2).
func statusForAbort(err error) model.SequenceStatus {
	if err != nil && errors.Is(err, model.ErrCancelled) {
		return model.SequenceCancelled
	}
	return model.SequenceFailed
}

// runCompensation executes a compensate target synchronously in the same
// context; it never consumes the failing step's retry budget (spec §4.7,
// §9 open question 2, decided in SPEC_FULL.md §13 item 2).
func (e *Executor) runCompensation(ec *model.ExecutionContext, sequenceID string) error {
	seq, ok := e.cfg.Sequences[sequenceID]
	if !ok {
		return fmt.Errorf("%w: compensate sequence %s", model.ErrRef, sequenceID)
	}
	sub := ec.Sub()
	result := e.runSequence(sub, seq)
	if result.Status != model.SequenceOK {
		return fmt.Errorf("%w: compensate sequence %s failed", model.ErrGuardFail, sequenceID)
	}
	return nil
}

// dispatchStep routes one step to the dispatcher for its kind. Only
// command steps go through the guard/resource/policy pipeline (see
// dispatchCommand); wait, if, parallel and sequence_ref steps do not.
// seq is the enclosing Sequence, whose resources/policy/guards every
// command step under it inherits (spec §3).
func (e *Executor) dispatchStep(ec *model.ExecutionContext, seq *model.Sequence, step *model.Step) model.StepResult {
	stepCtx := ec
	if len(step.Let) > 0 {
		stepCtx = ec.WithLet(step.Let)
	}

	switch step.Kind {
	case model.StepWait:
		return e.dispatchWait(stepCtx, step)
	case model.StepIf:
		return e.dispatchIf(stepCtx, seq, step)
	case model.StepParallel:
		return e.dispatchParallel(stepCtx, step)
	case model.StepSeqRef:
		return e.dispatchSeqRef(stepCtx, step)
	case model.StepCommand:
		return e.dispatchCommand(stepCtx, seq, step)
	default:
		return model.StepResult{Status: model.StepFailed, Error: fmt.Errorf("%w: unknown step kind %s", model.ErrRef, step.Kind)}
	}
}

func (e *Executor) dispatchWait(ec *model.ExecutionContext, step *model.Step) model.StepResult {
	start := time.Now()
	d := time.Duration(step.WaitSeconds * float64(time.Second))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return model.StepResult{Status: model.StepOK, Attempts: 1, Elapsed: time.Since(start)}
	case <-ec.Context().Done():
		return model.StepResult{Status: model.StepAborted, Attempts: 1, Elapsed: time.Since(start), Error: fmt.Errorf("%w", model.ErrCancelled)}
	}
}

func (e *Executor) dispatchIf(ec *model.ExecutionContext, seq *model.Sequence, step *model.Step) model.StepResult {
	cond, ok := e.cfg.Conditions[step.ConditionID]
	if !ok {
		return model.StepResult{Status: model.StepFailed, Error: fmt.Errorf("%w: condition %s", model.ErrRef, step.ConditionID)}
	}
	node, err := expr.Parse(cond.Expr)
	if err != nil {
		return model.StepResult{Status: model.StepFailed, Error: fmt.Errorf("%w: %v", model.ErrExpr, err)}
	}
	pass, err := expr.EvalBool(node, e.exprContext(ec))
	if err != nil {
		return model.StepResult{Status: model.StepFailed, Error: err}
	}
	branch := step.Else
	if pass {
		branch = step.Then
	}
	start := time.Now()
	for i := range branch {
		if ec.Cancelled() {
			return model.StepResult{Status: model.StepAborted, Elapsed: time.Since(start), Error: fmt.Errorf("%w", model.ErrCancelled)}
		}
		r := e.dispatchStep(ec, seq, &branch[i])
		if r.Status != model.StepOK && r.Status != model.StepSkipped {
			return r
		}
	}
	return model.StepResult{Status: model.StepOK, Attempts: 1, Elapsed: time.Since(start)}
}

// dispatchParallel runs each child sequence concurrently via
// golang.org/x/sync/errgroup, every branch sharing the errgroup's derived
// context via SubWithContext so one child's failure cancels its siblings
// (spec §4.9, §5).
func (e *Executor) dispatchParallel(ec *model.ExecutionContext, step *model.Step) model.StepResult {
	if ec.Depth >= MaxNestedDepth {
		return model.StepResult{Status: model.StepFailed, Error: fmt.Errorf("%w: nested depth exceeds %d", model.ErrTimeout, MaxNestedDepth)}
	}
	start := time.Now()
	g, gctx := errgroup.WithContext(ec.Context())
	results := make([]model.SequenceResult, len(step.Children))
	var mu sync.Mutex
	for i, childID := range step.Children {
		i, childID := i, childID
		seq, ok := e.cfg.Sequences[childID]
		if !ok {
			return model.StepResult{Status: model.StepFailed, Elapsed: time.Since(start), Error: fmt.Errorf("%w: sequence %s", model.ErrRef, childID)}
		}
		g.Go(func() error {
			sub := ec.SubWithContext(gctx)
			r := e.runSequence(sub, seq)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			if r.Status != model.SequenceOK {
				return r.Error
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		return model.StepResult{Status: model.StepFailed, Elapsed: time.Since(start), Error: err}
	}
	return model.StepResult{Status: model.StepOK, Attempts: 1, Elapsed: time.Since(start)}
}

func (e *Executor) dispatchSeqRef(ec *model.ExecutionContext, step *model.Step) model.StepResult {
	if ec.Depth >= MaxNestedDepth {
		return model.StepResult{Status: model.StepFailed, Error: fmt.Errorf("%w: nested depth exceeds %d", model.ErrTimeout, MaxNestedDepth)}
	}
	seq, ok := e.cfg.Sequences[step.SequenceID]
	if !ok {
		return model.StepResult{Status: model.StepFailed, Error: fmt.Errorf("%w: sequence %s", model.ErrRef, step.SequenceID)}
	}
	sub := ec.Sub()
	start := time.Now()
	r := e.runSequence(sub, seq)
	status := model.StepOK
	switch r.Status {
	case model.SequenceFailed:
		status = model.StepFailed
	case model.SequenceCancelled:
		status = model.StepAborted
	}
	return model.StepResult{Status: status, Attempts: 1, Elapsed: time.Since(start), Error: r.Error}
}

// dispatchCommand is the full pipeline described in spec §2 control flow
// step 2: pre-guards, acquire declared resources plus the implicit
// transport mutex, policy-wrapped transport call, post-guards, release in
// reverse order (guaranteed via defer, surviving panics from attempt_fn).
func (e *Executor) dispatchCommand(ec *model.ExecutionContext, seq *model.Sequence, step *model.Step) (result model.StepResult) {
	start := time.Now()
	cmd, ok := e.cfg.Commands[step.CommandID]
	if !ok {
		return model.StepResult{Status: model.StepFailed, Error: fmt.Errorf("%w: command %s", model.ErrRef, step.CommandID)}
	}

	acquireOrder := append(append([]string{}, seq.Resources...), resource.TransportResourceID)

	var pol *model.Policy
	if seq.PolicyID != "" {
		pol = e.cfg.Policies[seq.PolicyID]
	}

	if len(seq.PreGuards) > 0 {
		if passed, failResult := e.checkGuards(ec, pol, seq.PreGuards, start); !passed {
			return failResult
		}
	}

	var grants []*model.ResourceGrant
	defer func() {
		for i := len(grants) - 1; i >= 0; i-- {
			e.resources.Release(grants[i])
		}
		if r := recover(); r != nil {
			result = model.StepResult{Status: model.StepFailed, Elapsed: time.Since(start), Error: fmt.Errorf("%w: panic in step: %v", model.ErrTransport, r)}
		}
	}()

	for _, rid := range acquireOrder {
		acquireCtx, cancel := e.acquireTimeout(ec, pol, len(acquireOrder))
		grant, err := e.resources.Acquire(ec.Context(), rid, ec.CorrelationID, acquireCtx)
		cancel()
		if err != nil {
			return model.StepResult{Status: model.StepFailed, Elapsed: time.Since(start), Error: err}
		}
		grants = append(grants, grant)
	}

	resolvedArgs := resolveStepArgs(step, ec)
	line, err := template.ResolveArgs(cmd.Line, resolvedArgs)
	if err != nil {
		return model.StepResult{Status: model.StepFailed, Elapsed: time.Since(start), Error: err}
	}

	idemKey := ""
	if pol != nil && pol.IdempotencyKeyTpl != "" {
		idemKey, _ = template.ResolveArgs(pol.IdempotencyKeyTpl, resolvedArgs)
	}

	attempt := func(attemptCtx context.Context) error {
		deadline, _ := attemptCtx.Deadline()
		_, err := e.transport.Send(attemptCtx, line, deadline)
		return err
	}

	var stepResult model.StepResult
	if pol != nil {
		stepResult = e.policyEng.Run(ec.Context(), pol, attempt, idemKey)
	} else {
		err := attempt(ec.Context())
		if err != nil {
			stepResult = model.StepResult{Status: model.StepFailed, Attempts: 1, Error: err}
		} else {
			stepResult = model.StepResult{Status: model.StepOK, Attempts: 1}
		}
	}
	stepResult.Elapsed = time.Since(start)
	e.statusCtx.IncrementCount("step:"+step.CommandID+":attempts", float64(stepResult.Attempts))
	e.statusCtx.Mark("step:" + step.CommandID)
	e.statusCtx.SetStatus("step:"+step.CommandID+":last_status", string(stepResult.Status))

	skipPostGuardsOnTimeout := pol != nil && pol.SkipPostGuardsOnTimeout
	shouldRunPostGuards := stepResult.Status != model.StepAborted &&
		!(stepResult.Status == model.StepFailed && skipPostGuardsOnTimeout && errors.Is(stepResult.Error, model.ErrTimeout))

	if shouldRunPostGuards && len(seq.PostGuards) > 0 {
		if passed, failResult := e.checkGuards(ec, pol, seq.PostGuards, start); !passed {
			return failResult
		}
	}

	e.events.Publish("step.completed", "executor", map[string]any{
		"command_id": step.CommandID, "status": string(stepResult.Status),
	})
	e.auditAppend(ec, "step.completed", map[string]any{
		"command_id": step.CommandID, "status": string(stepResult.Status), "attempts": stepResult.Attempts,
	})

	return stepResult
}

// acquireTimeout derives the per-resource acquire deadline from the step's
// policy timeout_ms (spec §4.9 step 3: the whole-step cap is split into a
// fraction per declared resource, including the implicit transport mutex).
// A nil policy or non-positive timeout leaves acquisition bounded only by
// ec's own cancellation.
func (e *Executor) acquireTimeout(ec *model.ExecutionContext, pol *model.Policy, resourceCount int) (context.Context, context.CancelFunc) {
	if pol == nil || pol.TimeoutMS <= 0 || resourceCount <= 0 {
		return context.WithCancel(ec.Context())
	}
	share := time.Duration(pol.TimeoutMS) * time.Millisecond / time.Duration(resourceCount)
	if share <= 0 {
		return context.WithCancel(ec.Context())
	}
	return context.WithTimeout(ec.Context(), share)
}

// checkGuards evaluates guardIDs and, if the first failing guard's
// on_fail is retry, re-checks it after backing off along pol's curve,
// consuming one attempt from pol's budget per retry (spec §4.7) until it
// passes or guard.ApplyRetryAction degrades the action to abort once the
// budget is exhausted. Each re-check takes a fresh status snapshot (a
// retry is pointless against the frozen one the first check used: the
// whole point is to give an external status() value time to change).
// passed is false whenever the caller must return failResult immediately
// instead of continuing dispatchCommand's pipeline.
func (e *Executor) checkGuards(ec *model.ExecutionContext, pol *model.Policy, guardIDs []string, start time.Time) (passed bool, failResult model.StepResult) {
	outcome, err := e.guards.Check(guardIDs, e.exprContext(ec))
	if err != nil {
		return false, model.StepResult{Status: model.StepFailed, Elapsed: time.Since(start), Error: err}
	}

	attemptsRemaining := 0
	if pol != nil && pol.MaxAttempts > 1 {
		attemptsRemaining = pol.MaxAttempts - 1
	}

	for attempt := 1; !outcome.Passed; attempt++ {
		action := guard.ApplyRetryAction(outcome.Action, attemptsRemaining)
		if action != model.GuardActionRetry {
			return false, e.resolveGuardFailure(ec, outcome, action, start)
		}
		attemptsRemaining--

		if sleepErr := e.policyEng.Sleep(ec.Context(), policy.Delay(pol, attempt)); sleepErr != nil {
			return false, model.StepResult{Status: model.StepAborted, Elapsed: time.Since(start), Error: fmt.Errorf("%w", model.ErrCancelled)}
		}

		outcome, err = e.guards.Check(guardIDs, e.exprContext(ec))
		if err != nil {
			return false, model.StepResult{Status: model.StepFailed, Elapsed: time.Since(start), Error: err}
		}
	}

	return true, model.StepResult{}
}

// resolveGuardFailure turns a failed, non-retryable guard outcome into a
// StepResult (spec §4.7). A retry that exhausted its budget arrives here
// already degraded to GuardActionAbort by guard.ApplyRetryAction.
func (e *Executor) resolveGuardFailure(ec *model.ExecutionContext, outcome guard.Outcome, action model.GuardActionKind, start time.Time) model.StepResult {
	switch action {
	case model.GuardActionSkip:
		return model.StepResult{Status: model.StepSkipped, Attempts: 1, Elapsed: time.Since(start)}
	case model.GuardActionCompensate:
		if err := e.runCompensation(ec, outcome.CompensateID); err != nil {
			return model.StepResult{
				Status: model.StepAborted, Elapsed: time.Since(start),
				Error: fmt.Errorf("%w: compensation for guard %s: %v", model.ErrGuardFail, outcome.FailedGuard.ID, err),
			}
		}
		return model.StepResult{
			Status: model.StepFailed, Attempts: 1, Elapsed: time.Since(start), Compensated: true,
			Error: fmt.Errorf("%w: guard %s", model.ErrGuardFail, outcome.FailedGuard.ID),
		}
	default:
		return model.StepResult{Status: model.StepAborted, Attempts: 1, Elapsed: time.Since(start), Error: fmt.Errorf("%w: guard %s", model.ErrGuardFail, outcome.FailedGuard.ID)}
	}
}

func resolveStepArgs(step *model.Step, ec *model.ExecutionContext) map[string]string {
	vars := ec.Vars().Flatten()
	out := map[string]string{}
	for k, v := range step.Args {
		out[k] = resolveArgExpression(v, vars)
	}
	return out
}

// resolveArgExpression resolves a literal argument or a bare {var}
// reference against the current variable scope; full expression
// evaluation inside an arg value is intentionally not supported (spec
// §4.3 scopes the expression grammar to conditions/filters).
func resolveArgExpression(raw string, vars map[string]model.Value) string {
	if len(raw) > 2 && raw[0] == '{' && raw[len(raw)-1] == '}' {
		name := raw[1 : len(raw)-1]
		if v, ok := vars[name]; ok {
			return fmt.Sprintf("%v", v)
		}
	}
	return raw
}

func (e *Executor) exprContext(ec *model.ExecutionContext) expr.Context {
	return &executionExprContext{vars: ec.Vars().Flatten(), snap: e.statusCtx.snapshot(), clock: time.Now}
}

func (e *Executor) auditAppend(ec *model.ExecutionContext, kind string, data map[string]any) {
	if e.auditB == nil {
		return
	}
	data["correlation_id"] = ec.CorrelationID
	e.auditB.Append(audit.Record{Timestamp: time.Now(), CorrelationID: ec.CorrelationID, Kind: kind, Data: data})
}
