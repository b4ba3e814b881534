// Package eventbus implements the Event Bus (spec §4.8): priority-ordered,
// debounced, back-pressured handler dispatch on a single-threaded
// dispatch executor so that handlers for the same event preserve their
// relative order.
package eventbus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Homiakus/motto/internal/audit"
	"github.com/Homiakus/motto/internal/expr"
	"github.com/Homiakus/motto/internal/logging"
	"github.com/Homiakus/motto/internal/model"
)

// DefaultQueueCapacity is the bounded per-handler queue size (spec §4.8).
const DefaultQueueCapacity = 64

// Publication is one emitted event, from publish(), a transport
// notification, or a periodic timer (spec §4.8).
type Publication struct {
	EventID string
	Source  string
	Payload map[string]any
}

// ActionRunner executes one handler action (a nested sequence invocation
// or a built-in) with its own cancellation sub-token. The bus itself does
// not know how to run sequences; the orchestrator facade supplies this to
// avoid an import cycle with the executor.
type ActionRunner func(ctx context.Context, action model.HandlerAction, pub Publication) error

type queuedEvent struct {
	handler *model.Handler
	pub     Publication
}

// Bus is one of the exactly-three synchronized data structures named in
// spec.md's REDESIGN FLAGS: it owns the per-handler queues and the
// debounce clock.
type Bus struct {
	cfg    *model.Configuration
	run    ActionRunner
	log    logging.ComponentAwareLogger
	auditB *audit.Buffer

	mu           sync.Mutex
	queues       map[string][]queuedEvent // handler id -> pending events
	lastDispatch map[string]time.Time
	overflow     map[string]int64

	incoming chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	now func() time.Time
}

// NewBus starts the single-threaded dispatch executor and returns a Bus
// ready to accept Publish calls.
func NewBus(cfg *model.Configuration, run ActionRunner, log logging.ComponentAwareLogger, auditB *audit.Buffer) *Bus {
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg: cfg, run: run, log: log.WithComponent("core/eventbus"), auditB: auditB,
		queues: map[string][]queuedEvent{}, lastDispatch: map[string]time.Time{}, overflow: map[string]int64{},
		incoming: make(chan struct{}, 1), ctx: ctx, cancel: cancel,
		now: time.Now,
	}
	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// Stop halts the dispatch executor; in-flight handler actions are allowed
// to finish via their own cancellation sub-token if they observe ctx.
func (b *Bus) Stop() {
	b.cancel()
	b.wg.Wait()
}

// Publish matches pub against declared events/handlers and enqueues the
// matching, non-debounced handlers, never blocking the publisher
// (handlers do not block publishers, spec §4.8).
func (b *Bus) Publish(pub Publication) {
	matched := b.matchHandlers(pub)
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})

	now := b.now()
	b.mu.Lock()
	for _, h := range matched {
		if h.DebounceMS > 0 {
			if last, ok := b.lastDispatch[h.ID]; ok && now.Sub(last) < time.Duration(h.DebounceMS)*time.Millisecond {
				continue
			}
		}
		b.lastDispatch[h.ID] = now
		q := b.queues[h.ID]
		if len(q) >= DefaultQueueCapacity {
			q = q[1:] // drop oldest
			b.overflow[h.ID]++
			b.log.Warn("handler queue overflow", map[string]any{"handler_id": h.ID})
		}
		b.queues[h.ID] = append(q, queuedEvent{handler: h, pub: pub})
	}
	b.mu.Unlock()

	select {
	case b.incoming <- struct{}{}:
	default:
	}
}

// OverflowCount returns how many events have been dropped for handlerID
// due to queue overflow (spec §4.8 back-pressure counter).
func (b *Bus) OverflowCount(handlerID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow[handlerID]
}

// PendingCount reports the current queue depth for handlerID, part of the
// Orchestrator Facade's status() Snapshot (spec §4.10).
func (b *Bus) PendingCount(handlerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[handlerID])
}

func (b *Bus) matchHandlers(pub Publication) []*model.Handler {
	var out []*model.Handler
	for _, h := range b.cfg.Handlers {
		ev, ok := b.cfg.Events[h.EventRef]
		if !ok || ev.ID != pub.EventID {
			continue
		}
		if ev.Filter != "" {
			node, err := expr.Parse(ev.Filter)
			if err != nil {
				b.log.Error("event filter failed to parse", map[string]any{"event_id": ev.ID, "error": err.Error()})
				continue
			}
			pass, err := expr.EvalBool(node, &filterContext{pub: pub})
			if err != nil || !pass {
				continue
			}
		}
		out = append(out, h)
	}
	return out
}

// dispatchLoop is the single-threaded event dispatch executor (spec §4.8,
// §5): it drains every handler's queue one event at a time, choosing
// which handler goes next by (priority desc, id asc) on each pop so
// handlers racing for the same event stay globally ordered, not just
// ordered within their own queue.
func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.incoming:
			b.drainOnce()
		}
	}
}

func (b *Bus) drainOnce() {
	for {
		ev, ok := b.popNext()
		if !ok {
			return
		}
		b.dispatchOne(ev)
	}
}

// popNext picks the next event to dispatch across every handler's queue
// by (priority desc, id asc) (spec §4.8 step 2, §8 invariant 6) — the
// handler id alone is not enough, since each handler keeps its own FIFO
// queue and a high-priority handler's queue must still win over a
// lower-priority one that merely sorts earlier by id.
func (b *Bus) popNext() (queuedEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var bestID string
	var bestPriority int
	for id, q := range b.queues {
		if len(q) == 0 {
			continue
		}
		priority := q[0].handler.Priority
		if bestID == "" || priority > bestPriority || (priority == bestPriority && id < bestID) {
			bestID, bestPriority = id, priority
		}
	}
	if bestID == "" {
		return queuedEvent{}, false
	}
	q := b.queues[bestID]
	ev := q[0]
	b.queues[bestID] = q[1:]
	return ev, true
}

func (b *Bus) dispatchOne(ev queuedEvent) {
	subCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	for _, action := range ev.handler.Actions {
		if err := b.run(subCtx, action, ev.pub); err != nil {
			b.log.Error("handler action failed", map[string]any{
				"handler_id": ev.handler.ID, "event_id": ev.pub.EventID, "error": err.Error(),
			})
			if b.auditB != nil {
				b.auditB.Append(audit.Record{Timestamp: b.now(), Kind: "handler_action_failed", Data: map[string]any{
					"handler_id": ev.handler.ID, "error": err.Error(),
				}})
			}
			return
		}
	}
	if b.auditB != nil {
		b.auditB.Append(audit.Record{Timestamp: b.now(), Kind: "handler_dispatched", Data: map[string]any{
			"handler_id": ev.handler.ID, "event_id": ev.pub.EventID,
		}})
	}
}

// filterContext exposes {payload, context} to an event filter expression
// (spec §4.8 item 1); only payload.* paths are currently populated, since
// the bus does not own execution-context variable scope.
type filterContext struct {
	pub Publication
}

func (f *filterContext) Lookup(path []string) (model.Value, bool) {
	if len(path) < 2 || path[0] != "payload" {
		return nil, false
	}
	v, ok := f.pub.Payload[path[1]]
	return v, ok
}
func (f *filterContext) Status(key string) (model.Value, bool)       { return nil, false }
func (f *filterContext) Count(key string) (float64, bool)            { return 0, false }
func (f *filterContext) Has(key string) bool {
	_, ok := f.pub.Payload[key]
	return ok
}
func (f *filterContext) Elapsed(marker string) (time.Duration, bool) { return 0, false }
func (f *filterContext) Now() time.Time                              { return time.Now() }

var _ expr.Context = (*filterContext)(nil)
