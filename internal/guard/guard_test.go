package guard_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Homiakus/motto/internal/guard"
	"github.com/Homiakus/motto/internal/model"
)

type fakeCtx struct {
	statuses map[string]model.Value
}

func (f *fakeCtx) Lookup(path []string) (model.Value, bool)         { return nil, false }
func (f *fakeCtx) Status(key string) (model.Value, bool)            { v, ok := f.statuses[key]; return v, ok }
func (f *fakeCtx) Count(key string) (float64, bool)                 { return 0, false }
func (f *fakeCtx) Has(key string) bool                              { _, ok := f.statuses[key]; return ok }
func (f *fakeCtx) Elapsed(marker string) (time.Duration, bool)      { return 0, false }
func (f *fakeCtx) Now() time.Time                                   { return time.Unix(0, 0) }

func cfgWithGuard(onFail model.GuardActionKind, alarmVal float64) *model.Configuration {
	cfg := model.NewConfiguration()
	cfg.Conditions["alarm_clear"] = &model.Condition{ID: "alarm_clear", Expr: `status("alarm") == 0`}
	cfg.Guards["g1"] = &model.Guard{ID: "g1", When: model.GuardPre, ConditionID: "alarm_clear", OnFail: model.GuardAction{Kind: onFail}}
	return cfg
}

func TestCheckPassesWhenConditionTrue(t *testing.T) {
	cfg := cfgWithGuard(model.GuardActionAbort, 0)
	ev := guard.NewEvaluator(cfg)
	ctx := &fakeCtx{statuses: map[string]model.Value{"alarm": float64(0)}}
	out, err := ev.Check([]string{"g1"}, ctx)
	require.NoError(t, err)
	assert.True(t, out.Passed)
}

func TestCheckFailsAndReportsAction(t *testing.T) {
	cfg := cfgWithGuard(model.GuardActionAbort, 1)
	ev := guard.NewEvaluator(cfg)
	ctx := &fakeCtx{statuses: map[string]model.Value{"alarm": float64(1)}}
	out, err := ev.Check([]string{"g1"}, ctx)
	require.NoError(t, err)
	assert.False(t, out.Passed)
	assert.Equal(t, model.GuardActionAbort, out.Action)
	assert.Equal(t, "g1", out.FailedGuard.ID)
}

func TestApplyRetryActionDegradesToAbortWhenExhausted(t *testing.T) {
	assert.Equal(t, model.GuardActionAbort, guard.ApplyRetryAction(model.GuardActionRetry, 0))
	assert.Equal(t, model.GuardActionRetry, guard.ApplyRetryAction(model.GuardActionRetry, 2))
	assert.Equal(t, model.GuardActionSkip, guard.ApplyRetryAction(model.GuardActionSkip, 0))
}

func TestCheckUnknownGuardRefIsError(t *testing.T) {
	cfg := model.NewConfiguration()
	ev := guard.NewEvaluator(cfg)
	_, err := ev.Check([]string{"missing"}, &fakeCtx{statuses: map[string]model.Value{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRef)
}
