// Package policy implements the Policy Engine (spec §4.6):
// run_with_policy wraps a single step attempt with retry, backoff,
// per-attempt timeout, and idempotency. Backoff delay curves are computed
// with github.com/cenkalti/backoff/v5's BackOff implementations (already
// an indirect dependency of the teacher's ai/telemetry packages, promoted
// here to direct use); the spec's own uniform-jitter-in-[0,delay] rule is
// layered on top rather than using the library's multiplicative jitter, so
// the two jitter semantics are not conflated.
package policy

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Homiakus/motto/internal/model"
)

// AttemptFunc is one step attempt. It must respect ctx cancellation/
// deadline; the engine wraps ctx with the policy's per-attempt timeout.
type AttemptFunc func(ctx context.Context) error

// Clock is the engine's time source, satisfied by a real clock in
// production and a fake clock in tests to avoid sleeping for real.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RealClock is the production Clock implementation.
func RealClock() Clock { return realClock{} }

// idempotencyEntry is one cached successful result, expiring on first
// access after its TTL elapses (spec §4.6), the same expire-on-access
// semantics as the teacher's core/memory_store.go MemoryStore.Get.
type idempotencyEntry struct {
	result    model.StepResult
	expiresAt time.Time
}

// IdempotencyTable is one of the exactly-three synchronized data
// structures named in spec.md's REDESIGN FLAGS.
type IdempotencyTable struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	clock   Clock
}

func NewIdempotencyTable(clock Clock) *IdempotencyTable {
	if clock == nil {
		clock = RealClock()
	}
	return &IdempotencyTable{entries: map[string]idempotencyEntry{}, clock: clock}
}

func (t *IdempotencyTable) get(key string) (model.StepResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return model.StepResult{}, false
	}
	if t.clock.Now().After(e.expiresAt) {
		delete(t.entries, key)
		return model.StepResult{}, false
	}
	return e.result, true
}

func (t *IdempotencyTable) put(key string, result model.StepResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = idempotencyEntry{result: result, expiresAt: t.clock.Now().Add(ttl)}
}

// Engine runs step attempts under a Policy.
type Engine struct {
	clock       Clock
	idempotency *IdempotencyTable
}

func NewEngine(clock Clock, idempotency *IdempotencyTable) *Engine {
	if clock == nil {
		clock = RealClock()
	}
	if idempotency == nil {
		idempotency = NewIdempotencyTable(clock)
	}
	return &Engine{clock: clock, idempotency: idempotency}
}

// Run implements run_with_policy(policy, attempt_fn, idempotency_key?)
// (spec §4.6).
func (e *Engine) Run(ctx context.Context, pol *model.Policy, fn AttemptFunc, idempotencyKey string) model.StepResult {
	start := e.clock.Now()

	if idempotencyKey != "" {
		if cached, ok := e.idempotency.get(idempotencyKey); ok {
			return cached
		}
	}

	maxAttempts := pol.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return model.StepResult{Status: model.StepAborted, Attempts: attempt - 1, Elapsed: e.clock.Now().Sub(start), Error: fmt.Errorf("%w", model.ErrCancelled)}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if pol.TimeoutMS > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(pol.TimeoutMS)*time.Millisecond)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			result := model.StepResult{Status: model.StepOK, Attempts: attempt, Elapsed: e.clock.Now().Sub(start)}
			if idempotencyKey != "" {
				e.idempotency.put(idempotencyKey, result, time.Duration(pol.IdempotencyTTLMS)*time.Millisecond)
			}
			return result
		}

		if attemptCtx.Err() != nil && ctx.Err() == nil {
			lastErr = fmt.Errorf("%w: %v", model.ErrTimeout, err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return model.StepResult{Status: model.StepAborted, Attempts: attempt, Elapsed: e.clock.Now().Sub(start), Error: fmt.Errorf("%w", model.ErrCancelled)}
		}

		if attempt == maxAttempts {
			break
		}

		delay := Delay(pol, attempt)
		if sleepErr := e.clock.Sleep(ctx, delay); sleepErr != nil {
			return model.StepResult{Status: model.StepAborted, Attempts: attempt, Elapsed: e.clock.Now().Sub(start), Error: fmt.Errorf("%w", model.ErrCancelled)}
		}
	}

	return model.StepResult{Status: model.StepFailed, Attempts: maxAttempts, Elapsed: e.clock.Now().Sub(start), Error: lastErr}
}

// Sleep delegates to the engine's clock, letting callers outside this
// package (guard retry backoff, spec §4.7) share the same time source
// Run itself uses rather than threading a second Clock through.
func (e *Engine) Sleep(ctx context.Context, d time.Duration) error {
	return e.clock.Sleep(ctx, d)
}

// Delay returns the backoff delay before retry attempt N (1-based) under
// pol, the same curve Run applies between step attempts. Exposed so a
// guard's on_fail=retry (spec §4.7) can back off along the step's own
// policy curve instead of duplicating it.
func Delay(pol *model.Policy, attempt int) time.Duration {
	if pol == nil {
		return 0
	}
	return nextDelay(buildBackoff(pol.Backoff), pol.Backoff, attempt)
}

func buildBackoff(b model.Backoff) backoff.BackOff {
	switch b.Shape {
	case model.BackoffFixed:
		return backoff.NewConstantBackOff(time.Duration(b.FixedMS) * time.Millisecond)
	case model.BackoffExponential:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = time.Duration(b.InitialMS) * time.Millisecond
		eb.MaxInterval = time.Duration(b.CapMS) * time.Millisecond
		eb.Multiplier = b.Factor
		if eb.Multiplier <= 1 {
			eb.Multiplier = 2
		}
		eb.RandomizationFactor = 0 // spec's own jitter rule is applied separately
		return eb
	default:
		return backoff.NewConstantBackOff(0)
	}
}

// nextDelay asks the library BackOff for the unjittered base delay for
// this shape, caps it, and applies the spec's own jitter rule (uniform in
// [0, current_delay], added) rather than the library's multiplicative
// jitter (spec §4.6).
func nextDelay(bo backoff.BackOff, cfg model.Backoff, attempt int) time.Duration {
	if cfg.Shape == model.BackoffNone {
		return 0
	}
	var base time.Duration
	for i := 0; i < attempt; i++ {
		next := bo.NextBackOff()
		if next == backoff.Stop {
			base = time.Duration(cfg.CapMS) * time.Millisecond
			break
		}
		base = next
	}
	if cfg.CapMS > 0 {
		cap := time.Duration(cfg.CapMS) * time.Millisecond
		if base > cap {
			base = cap
		}
	}
	if cfg.Jitter && base > 0 {
		base += uniformJitter(base)
	}
	return base
}

// uniformJitter samples uniformly in [0, d] using crypto/rand rather than
// math/rand: this is the only source of randomness in the orchestration
// core and a process-wide seed would otherwise couple unrelated policies'
// jitter sequences together.
func uniformJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(d)+1))
	if err != nil {
		var buf [8]byte
		_, _ = rand.Read(buf[:])
		return time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(d))
	}
	return time.Duration(n.Int64())
}
