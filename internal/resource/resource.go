// Package resource implements the Resource Registry (spec §4.5): named
// mutexes and semaphores with fair, FIFO queued acquisition, grounded on
// golang.org/x/sync/semaphore.Weighted, which already provides FIFO
// fairness (first caller blocked is the first woken on release) rather
// than the unfair wakeup order of a bare channel-based semaphore.
package resource

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Homiakus/motto/internal/logging"
	"github.com/Homiakus/motto/internal/model"
)

// TransportResourceID is the built-in mutex every command step implicitly
// acquires, so concurrent sequences never interleave bytes on the wire
// (spec §5). The executor holds it for the whole command step: every
// policy attempt, the backoff sleeps between them and the post-guards;
// it is not released between attempts.
const TransportResourceID = "transport"

type entry struct {
	kind model.ResourceKind
	cap  int64
	sem  *semaphore.Weighted
}

// Registry owns every declared resource plus the built-in transport mutex.
// It is one of the exactly-three synchronized data structures named in
// spec.md's REDESIGN FLAGS.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	log     logging.ComponentAwareLogger

	heldMu sync.Mutex
	held   map[string][]string // resource id -> owners currently holding a permit
}

// NewRegistry builds a Registry from a Configuration's declared resources
// plus the built-in transport mutex.
func NewRegistry(cfg *model.Configuration, log logging.ComponentAwareLogger) *Registry {
	if log == nil {
		log = logging.Noop()
	}
	r := &Registry{entries: map[string]*entry{}, held: map[string][]string{}, log: log.WithComponent("core/resource")}
	for id, res := range cfg.Resources {
		cap := res.Capacity
		if res.Kind == model.ResourceMutex {
			cap = 1
		}
		r.entries[id] = &entry{kind: res.Kind, cap: cap, sem: semaphore.NewWeighted(cap)}
	}
	if _, ok := r.entries[TransportResourceID]; !ok {
		r.entries[TransportResourceID] = &entry{kind: model.ResourceMutex, cap: 1, sem: semaphore.NewWeighted(1)}
	}
	return r
}

// Acquire blocks until resourceID is available, ctx is cancelled, or
// timeout elapses, whichever comes first, and returns an opaque grant on
// success (spec §4.5).
func (r *Registry) Acquire(ctx context.Context, resourceID, owner string, timeout context.Context) (*model.ResourceGrant, error) {
	r.mu.RLock()
	e, ok := r.entries[resourceID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown resource %s", model.ErrRef, resourceID)
	}

	acquireCtx := ctx
	if timeout != nil {
		acquireCtx = timeout
	}

	if err := e.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: acquiring %s", model.ErrCancelled, resourceID)
		}
		return nil, fmt.Errorf("%w: acquiring %s", model.ErrResourceTimeout, resourceID)
	}

	r.heldMu.Lock()
	r.held[resourceID] = append(r.held[resourceID], owner)
	r.heldMu.Unlock()

	grant := model.NewResourceGrant(resourceID, "", owner, func() {
		e.sem.Release(1)
		r.removeHeld(resourceID, owner)
	})
	return grant, nil
}

func (r *Registry) removeHeld(resourceID, owner string) {
	r.heldMu.Lock()
	defer r.heldMu.Unlock()
	owners := r.held[resourceID]
	for i, o := range owners {
		if o == owner {
			r.held[resourceID] = append(owners[:i], owners[i+1:]...)
			return
		}
	}
}

// Release returns grant to its resource exactly once; a second call is
// logged as a programming error rather than panicking (spec §4.5).
func (r *Registry) Release(grant *model.ResourceGrant) {
	grant.Release(func() {
		r.log.Warn("double release of resource grant", map[string]any{
			"resource_id": grant.ResourceID,
			"owner":       grant.Owner,
		})
	})
}

// Held reports the owners currently holding a permit on resourceID, part
// of the Orchestrator Facade's status() Snapshot (spec §4.10 "acquired
// resources with owners").
func (r *Registry) Held() map[string][]string {
	r.heldMu.Lock()
	defer r.heldMu.Unlock()
	out := make(map[string][]string, len(r.held))
	for k, v := range r.held {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
