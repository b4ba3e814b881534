package policy_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Homiakus/motto/internal/model"
	"github.com/Homiakus/motto/internal/policy"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	eng := policy.NewEngine(&fakeClock{now: time.Unix(0, 0)}, nil)
	pol := &model.Policy{MaxAttempts: 3, TimeoutMS: 100, Backoff: model.Backoff{Shape: model.BackoffFixed, FixedMS: 10}}
	var calls int32
	result := eng.Run(context.Background(), pol, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, "")
	assert.Equal(t, model.StepOK, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.EqualValues(t, 1, calls)
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	eng := policy.NewEngine(&fakeClock{now: time.Unix(0, 0)}, nil)
	pol := &model.Policy{MaxAttempts: 3, TimeoutMS: 100, Backoff: model.Backoff{Shape: model.BackoffFixed, FixedMS: 5}}
	var calls int32
	result := eng.Run(context.Background(), pol, func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			return errors.New("transient")
		}
		return nil
	}, "")
	assert.Equal(t, model.StepOK, result.Status)
	assert.Equal(t, 2, result.Attempts)
}

func TestRunExhaustsMaxAttempts(t *testing.T) {
	eng := policy.NewEngine(&fakeClock{now: time.Unix(0, 0)}, nil)
	pol := &model.Policy{MaxAttempts: 2, TimeoutMS: 100, Backoff: model.Backoff{Shape: model.BackoffNone}}
	result := eng.Run(context.Background(), pol, func(ctx context.Context) error {
		return errors.New("always fails")
	}, "")
	assert.Equal(t, model.StepFailed, result.Status)
	assert.Equal(t, 2, result.Attempts)
	require.Error(t, result.Error)
}

func TestRunMaxAttemptsOneDisablesRetry(t *testing.T) {
	eng := policy.NewEngine(&fakeClock{now: time.Unix(0, 0)}, nil)
	pol := &model.Policy{MaxAttempts: 1, TimeoutMS: 100, Backoff: model.Backoff{Shape: model.BackoffExponential, InitialMS: 1000, Factor: 2, CapMS: 5000}}
	var calls int32
	result := eng.Run(context.Background(), pol, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("fails")
	}, "")
	assert.Equal(t, model.StepFailed, result.Status)
	assert.EqualValues(t, 1, calls)
}

func TestRunCancellationAborts(t *testing.T) {
	eng := policy.NewEngine(&fakeClock{now: time.Unix(0, 0)}, nil)
	pol := &model.Policy{MaxAttempts: 3, TimeoutMS: 100, Backoff: model.Backoff{Shape: model.BackoffFixed, FixedMS: 5}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := eng.Run(ctx, pol, func(ctx context.Context) error {
		return errors.New("fails")
	}, "")
	assert.Equal(t, model.StepAborted, result.Status)
}

func TestRunIdempotencyReturnsCachedResultWithoutCallingFn(t *testing.T) {
	eng := policy.NewEngine(&fakeClock{now: time.Unix(0, 0)}, nil)
	pol := &model.Policy{MaxAttempts: 1, TimeoutMS: 100, IdempotencyTTLMS: 60000}
	var calls int32
	fn := func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	first := eng.Run(context.Background(), pol, fn, "key1")
	require.Equal(t, model.StepOK, first.Status)
	second := eng.Run(context.Background(), pol, fn, "key1")
	require.Equal(t, model.StepOK, second.Status)
	assert.EqualValues(t, 1, calls)
}

func TestRunTimeoutProducesFailure(t *testing.T) {
	eng := policy.NewEngine(policy.RealClock(), nil)
	pol := &model.Policy{MaxAttempts: 1, TimeoutMS: 10}
	result := eng.Run(context.Background(), pol, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, "")
	assert.Equal(t, model.StepFailed, result.Status)
	assert.ErrorIs(t, result.Error, model.ErrTimeout)
}
