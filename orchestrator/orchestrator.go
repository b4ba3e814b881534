// Package orchestrator is the Orchestrator Facade (spec §4.10): the single
// value a host process owns, wrapping configuration load/reload, the
// executor, the event bus, and status reporting behind one API. It
// replaces the "global singletons registered in a DI container" pattern
// spec.md's Design Notes flag for re-architecture (§9): no process-wide
// mutable state, one explicit value passed around by the caller.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Homiakus/motto/internal/audit"
	"github.com/Homiakus/motto/internal/eventbus"
	"github.com/Homiakus/motto/internal/executor"
	"github.com/Homiakus/motto/internal/logging"
	"github.com/Homiakus/motto/internal/model"
	"github.com/Homiakus/motto/internal/parser"
	"github.com/Homiakus/motto/internal/policy"
	"github.com/Homiakus/motto/internal/resource"
	"github.com/Homiakus/motto/internal/template"
	"github.com/Homiakus/motto/internal/transport"
	"github.com/Homiakus/motto/internal/validator"
)

const defaultAuditCapacity = 4096

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

func WithLogger(l logging.ComponentAwareLogger) Option {
	return func(o *Orchestrator) { o.log = l.WithComponent("core/orchestrator") }
}

func WithAuditCapacity(n int) Option {
	return func(o *Orchestrator) { o.auditB = audit.NewBuffer(n) }
}

// generation bundles everything that must be rebuilt together on reload:
// Configuration, Resource Registry, Policy Engine, Executor, and Event Bus
// all close over one another and must be swapped atomically so an
// in-flight Execute call never sees half of an old configuration and half
// of a new one (spec §4.10 "reload has no effect on in-flight
// sequences").
type generation struct {
	cfg       *model.Configuration
	resources *resource.Registry
	policyEng *policy.Engine
	exec      *executor.Executor
	bus       *eventbus.Bus
}

// Orchestrator owns the registries and is the only entry point a host
// process needs (spec §4.10).
type Orchestrator struct {
	transport transport.Transport
	log       logging.ComponentAwareLogger
	auditB    *audit.Buffer

	gen atomic.Pointer[generation]

	handlesMu sync.Mutex
	handles   map[string]*Handle

	stopTransportPump context.CancelFunc
}

// New builds an Orchestrator over tr with an empty Configuration; call
// Load before Execute will find anything to run.
func New(tr transport.Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport: tr, log: logging.Noop(), auditB: audit.NewBuffer(defaultAuditCapacity),
		handles: map[string]*Handle{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.gen.Store(o.buildGeneration(model.NewConfiguration()))

	ctx, cancel := context.WithCancel(context.Background())
	o.stopTransportPump = cancel
	go o.pumpTransportEvents(ctx)

	return o
}

// Close stops the transport-event pump and the event dispatch executor.
func (o *Orchestrator) Close() {
	o.stopTransportPump()
	o.gen.Load().bus.Stop()
}

func (o *Orchestrator) buildGeneration(cfg *model.Configuration) *generation {
	resources := resource.NewRegistry(cfg, o.log)
	idem := policy.NewIdempotencyTable(policy.RealClock())
	policyEng := policy.NewEngine(policy.RealClock(), idem)
	bus := eventbus.NewBus(cfg, o.runHandlerAction, o.log, o.auditB)
	exec := executor.New(cfg, o.transport, resources, policyEng,
		executor.WithEventPublisher(busPublisher{bus}),
		executor.WithAuditBuffer(o.auditB),
		executor.WithLogger(o.log),
	)
	return &generation{cfg: cfg, resources: resources, policyEng: policyEng, exec: exec, bus: bus}
}

// Load parses, expands, and validates data, then atomically swaps in the
// new configuration (spec §4.1, §4.2, §4.4). Every ConfigError found is
// returned; nothing is swapped in on failure. In-flight executions keep
// running against the generation they started with.
func (o *Orchestrator) Load(data []byte) ([]model.ConfigError, error) {
	cfg, errs := parser.Load(data)
	if len(errs) > 0 {
		return errs, fmt.Errorf("%w: %d configuration error(s)", model.ErrRef, len(errs))
	}

	if expandErrs := template.NewExpander().Expand(cfg); len(expandErrs) > 0 {
		return expandErrs, fmt.Errorf("%w: %d template expansion error(s)", model.ErrParamMissing, len(expandErrs))
	}

	if err := validator.Validate(cfg); err != nil {
		if verr, ok := err.(*model.ValidationError); ok {
			return verr.Errors, err
		}
		return nil, err
	}

	old := o.gen.Swap(o.buildGeneration(cfg))
	if old != nil {
		old.bus.Stop()
	}
	return nil, nil
}

// Execute implements execute(sequence_id, vars, profile?) (spec §4.10):
// blocking.
func (o *Orchestrator) Execute(ctx context.Context, sequenceID string, vars map[string]model.Value, profileID string) model.SequenceResult {
	gen := o.gen.Load()
	profile := resolveProfile(gen.cfg, profileID)
	return gen.exec.ExecuteSequence(ctx, sequenceID, vars, profile, uuid.NewString())
}

// ExecuteAsync implements execute_async(...) -> Handle (spec §4.10):
// non-blocking, returning a Handle exposing cancel()/status()/await().
func (o *Orchestrator) ExecuteAsync(ctx context.Context, sequenceID string, vars map[string]model.Value, profileID string) *Handle {
	gen := o.gen.Load()
	profile := resolveProfile(gen.cfg, profileID)
	correlationID := uuid.NewString()

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{correlationID: correlationID, cancel: cancel, done: make(chan struct{})}

	o.handlesMu.Lock()
	o.handles[correlationID] = h
	o.handlesMu.Unlock()

	go func() {
		defer cancel()
		defer func() {
			o.handlesMu.Lock()
			delete(o.handles, correlationID)
			o.handlesMu.Unlock()
		}()
		h.result = gen.exec.ExecuteSequence(runCtx, sequenceID, vars, profile, correlationID)
		close(h.done)
	}()

	return h
}

func resolveProfile(cfg *model.Configuration, profileID string) *model.Profile {
	if profileID == "" {
		return nil
	}
	return cfg.Profiles[profileID]
}

// Publish implements publish(event_id, payload) (spec §4.10):
// fire-and-forget.
func (o *Orchestrator) Publish(eventID string, payload map[string]any) {
	o.gen.Load().bus.Publish(eventbus.Publication{EventID: eventID, Source: "manual", Payload: payload})
}

// Snapshot is the return value of Status(): currently running sequences,
// pending handler queue sizes, and acquired resources with owners (spec
// §4.10).
type Snapshot struct {
	RunningSequences map[string]string   // correlation id -> sequence id
	HandlerQueueSize map[string]int      // handler id -> pending count
	HeldResources    map[string][]string // resource id -> owners
}

// Status implements status() -> Snapshot (spec §4.10).
func (o *Orchestrator) Status() Snapshot {
	gen := o.gen.Load()
	queueSizes := map[string]int{}
	for id := range gen.cfg.Handlers {
		queueSizes[id] = gen.bus.PendingCount(id)
	}
	return Snapshot{
		RunningSequences: gen.exec.StatusContext().RunningSequences(),
		HandlerQueueSize: queueSizes,
		HeldResources:    gen.resources.Held(),
	}
}

// runHandlerAction is the eventbus.ActionRunner: a sequence reference
// invokes the sequence synchronously under the handler's own cancellation
// sub-token; a builtin is one of the fixed handler verbs (spec §4.8).
func (o *Orchestrator) runHandlerAction(ctx context.Context, action model.HandlerAction, pub eventbus.Publication) error {
	gen := o.gen.Load()
	if action.SequenceRef != "" {
		vars := map[string]model.Value{"payload": toValueMap(pub.Payload)}
		result := gen.exec.ExecuteSequence(ctx, action.SequenceRef, vars, nil, uuid.NewString())
		if result.Status != model.SequenceOK {
			return fmt.Errorf("handler sequence %s: %w", action.SequenceRef, result.Error)
		}
		return nil
	}
	switch action.Builtin {
	case "noop":
		return nil
	case "cancel_sequence":
		correlationID, _ := pub.Payload["correlation_id"].(string)
		o.handlesMu.Lock()
		h, ok := o.handles[correlationID]
		o.handlesMu.Unlock()
		if ok {
			h.Cancel()
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown builtin action %q", model.ErrRef, action.Builtin)
	}
}

func toValueMap(m map[string]any) map[string]model.Value {
	out := make(map[string]model.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// pumpTransportEvents forwards asynchronous device notifications (spec
// §4.8) into the live generation's status store and event bus. A
// transport.Event's Source doubles as the published event id, so a
// declared `[events.X]` with id "X" matches notifications tagged X.
func (o *Orchestrator) pumpTransportEvents(ctx context.Context) {
	events := o.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			gen := o.gen.Load()
			for k, v := range ev.Payload {
				gen.exec.StatusContext().SetStatus(k, v)
			}
			gen.bus.Publish(eventbus.Publication{EventID: ev.Source, Source: "transport", Payload: ev.Payload})
		}
	}
}

// busPublisher adapts eventbus.Bus to the executor.EventPublisher seam, so
// the executor can emit step/sequence events without importing eventbus
// directly (avoiding the import cycle eventbus.ActionRunner would
// otherwise create).
type busPublisher struct{ bus *eventbus.Bus }

func (b busPublisher) Publish(eventID, source string, payload map[string]any) {
	b.bus.Publish(eventbus.Publication{EventID: eventID, Source: source, Payload: payload})
}

// Handle is returned by ExecuteAsync: cancel()/status()/await() per spec
// §4.10.
type Handle struct {
	correlationID string
	cancel        context.CancelFunc
	done          chan struct{}
	result        model.SequenceResult
}

// Cancel requests cooperative cancellation of the running sequence.
func (h *Handle) Cancel() { h.cancel() }

// Status reports the result if the sequence has finished, and whether it
// has.
func (h *Handle) Status() (model.SequenceResult, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return model.SequenceResult{}, false
	}
}

// Await blocks until the sequence finishes and returns its result.
func (h *Handle) Await() model.SequenceResult {
	<-h.done
	return h.result
}
