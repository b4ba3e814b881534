package executor

import (
	"sync"
	"time"

	"github.com/Homiakus/motto/internal/expr"
	"github.com/Homiakus/motto/internal/model"
)

// statusContext is the executor's live status/marker/counter store: it
// backs the expression evaluator's status()/elapsed()/count() built-ins
// (spec §4.3) and the Orchestrator Facade's status() Snapshot (spec
// §4.10). It is fed by sequence lifecycle tracking inside the executor and,
// via the StatusFeed seam, by transport notifications the Orchestrator
// forwards in; it is one of the executor's synchronized data structures,
// kept separate from the resource registry and event bus queues named in
// spec.md's REDESIGN FLAGS.
type statusContext struct {
	mu       sync.Mutex
	statuses map[string]model.Value
	markers  map[string]time.Time
	counts   map[string]float64
	running  map[string]string // correlation id -> sequence id
}

func newStatusContext() *statusContext {
	return &statusContext{
		statuses: map[string]model.Value{},
		markers:  map[string]time.Time{},
		counts:   map[string]float64{},
		running:  map[string]string{},
	}
}

func (s *statusContext) markRunning(correlationID, sequenceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[correlationID] = sequenceID
	s.markers["sequence:"+sequenceID] = time.Now()
}

func (s *statusContext) markDone(correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, correlationID)
}

// SetStatus records a status value visible to status("key") evaluations,
// typically from a transport notification payload.
func (s *statusContext) SetStatus(key string, v model.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[key] = v
}

// Mark stamps marker with the current time, for a later elapsed("marker").
func (s *statusContext) Mark(marker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[marker] = time.Now()
}

// IncrementCount accumulates a named counter visible to count("key").
func (s *statusContext) IncrementCount(key string, by float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key] += by
}

// RunningSequences reports every sequence currently in flight, keyed by
// correlation id, for the Orchestrator Facade's status() Snapshot.
func (s *statusContext) RunningSequences() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.running))
	for k, v := range s.running {
		out[k] = v
	}
	return out
}

// snapshot takes a consistent point-in-time copy so a single expression
// evaluation never observes status/marker/counter state changing mid-eval.
func (s *statusContext) snapshot() statusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make(map[string]model.Value, len(s.statuses))
	for k, v := range s.statuses {
		statuses[k] = v
	}
	markers := make(map[string]time.Time, len(s.markers))
	for k, v := range s.markers {
		markers[k] = v
	}
	counts := make(map[string]float64, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	return statusSnapshot{statuses: statuses, markers: markers, counts: counts}
}

type statusSnapshot struct {
	statuses map[string]model.Value
	markers  map[string]time.Time
	counts   map[string]float64
}

// executionExprContext adapts one ExecutionContext's variable scope plus a
// statusContext snapshot to the expr.Context interface (spec §4.3):
// identifier paths resolve against variables, status()/elapsed()/count()
// resolve against the snapshot taken at dispatch time.
type executionExprContext struct {
	vars  map[string]model.Value
	snap  statusSnapshot
	clock func() time.Time
}

var _ expr.Context = (*executionExprContext)(nil)

func (c *executionExprContext) Lookup(path []string) (model.Value, bool) {
	if len(path) == 0 {
		return nil, false
	}
	if len(path) == 1 {
		v, ok := c.vars[path[0]]
		return v, ok
	}
	v, ok := c.vars[path[0]]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]model.Value)
	if !ok {
		return nil, false
	}
	if len(path) == 2 {
		vv, ok := m[path[1]]
		return vv, ok
	}
	return nil, false
}

func (c *executionExprContext) Status(key string) (model.Value, bool) {
	v, ok := c.snap.statuses[key]
	return v, ok
}

func (c *executionExprContext) Elapsed(marker string) (time.Duration, bool) {
	t, ok := c.snap.markers[marker]
	if !ok {
		return 0, false
	}
	return c.clock().Sub(t), true
}

func (c *executionExprContext) Count(key string) (float64, bool) {
	v, ok := c.snap.counts[key]
	return v, ok
}

func (c *executionExprContext) Has(key string) bool {
	if _, ok := c.vars[key]; ok {
		return true
	}
	if _, ok := c.snap.statuses[key]; ok {
		return true
	}
	if _, ok := c.snap.counts[key]; ok {
		return true
	}
	_, ok := c.snap.markers[key]
	return ok
}

func (c *executionExprContext) Now() time.Time { return c.clock() }
