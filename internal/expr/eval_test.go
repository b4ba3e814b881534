package expr_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Homiakus/motto/internal/expr"
	"github.com/Homiakus/motto/internal/model"
)

type fakeCtx struct {
	vars     map[string]model.Value
	statuses map[string]model.Value
	markers  map[string]time.Time
	counts   map[string]float64
	now      time.Time
}

func newFakeCtx() *fakeCtx {
	return &fakeCtx{
		vars:     map[string]model.Value{},
		statuses: map[string]model.Value{},
		markers:  map[string]time.Time{},
		counts:   map[string]float64{},
		now:      time.Unix(1000, 0),
	}
}

func (f *fakeCtx) Lookup(path []string) (model.Value, bool) {
	v, ok := f.vars[joinForTest(path)]
	return v, ok
}
func (f *fakeCtx) Status(key string) (model.Value, bool)       { v, ok := f.statuses[key]; return v, ok }
func (f *fakeCtx) Count(key string) (float64, bool)            { v, ok := f.counts[key]; return v, ok }
func (f *fakeCtx) Has(key string) bool {
	_, ok := f.vars[key]
	if ok {
		return true
	}
	_, ok = f.statuses[key]
	return ok
}
func (f *fakeCtx) Elapsed(marker string) (time.Duration, bool) {
	t, ok := f.markers[marker]
	if !ok {
		return 0, false
	}
	return f.now.Sub(t), true
}
func (f *fakeCtx) Now() time.Time { return f.now }

func joinForTest(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "." + p
	}
	return out
}

func TestEvalArithmeticAndComparison(t *testing.T) {
	n, err := expr.Parse("1 + 2 * 3 == 7")
	require.NoError(t, err)
	v, err := expr.Eval(n, newFakeCtx())
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEvalLogical(t *testing.T) {
	n, err := expr.Parse("true and not false or false")
	require.NoError(t, err)
	v, err := expr.EvalBool(n, newFakeCtx())
	require.NoError(t, err)
	assert.True(t, v)
}

func TestEvalStatusFunction(t *testing.T) {
	ctx := newFakeCtx()
	ctx.statuses["alarm"] = float64(0)
	n, err := expr.Parse(`status("alarm") == 0`)
	require.NoError(t, err)
	v, err := expr.EvalBool(n, ctx)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestEvalUndefinedIdentifierIsError(t *testing.T) {
	n, err := expr.Parse("missing_var or true")
	require.NoError(t, err)
	_, err = expr.Eval(n, newFakeCtx())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrExpr)
}

func TestEvalDivisionByZero(t *testing.T) {
	n, err := expr.Parse("1 / 0")
	require.NoError(t, err)
	_, err = expr.Eval(n, newFakeCtx())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrExpr)
}

func TestEvalHasAndCount(t *testing.T) {
	ctx := newFakeCtx()
	ctx.counts["retries"] = 3
	n, err := expr.Parse(`has("retries_missing") or count("retries") >= 3`)
	require.NoError(t, err)
	v, err := expr.EvalBool(n, ctx)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestEvalElapsed(t *testing.T) {
	ctx := newFakeCtx()
	ctx.markers["boot"] = ctx.now.Add(-5 * time.Second)
	n, err := expr.Parse(`elapsed("boot") >= 5`)
	require.NoError(t, err)
	v, err := expr.EvalBool(n, ctx)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestEvalTypeMismatch(t *testing.T) {
	n, err := expr.Parse(`"a" + 1`)
	require.NoError(t, err)
	_, err = expr.Eval(n, newFakeCtx())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrExpr)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := expr.Parse("1 +")
	require.Error(t, err)
}
