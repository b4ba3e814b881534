package validator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Homiakus/motto/internal/model"
	"github.com/Homiakus/motto/internal/validator"
)

func baseConfig() *model.Configuration {
	cfg := model.NewConfiguration()
	cfg.Version = "1.0"
	cfg.Commands["move"] = &model.Command{ID: "move", Line: "MOVE {pos}", Params: []string{"pos"}}
	return cfg
}

func TestValidateAcceptsCleanConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Sequences["boot"] = &model.Sequence{
		ID: "boot",
		Steps: []model.Step{
			{Kind: model.StepCommand, CommandID: "move", Args: map[string]string{"pos": "10"}},
		},
	}
	assert.NoError(t, validator.Validate(cfg))
}

func TestValidateCatchesUnknownCommandRef(t *testing.T) {
	cfg := baseConfig()
	cfg.Sequences["boot"] = &model.Sequence{
		ID:    "boot",
		Steps: []model.Step{{Kind: model.StepCommand, CommandID: "nope"}},
	}
	err := validator.Validate(cfg)
	require.Error(t, err)
	verr, ok := err.(*model.ValidationError)
	require.True(t, ok)
	assertHasKind(t, verr, "unknown_ref")
}

func TestValidateCatchesCycle(t *testing.T) {
	cfg := baseConfig()
	cfg.Sequences["a"] = &model.Sequence{ID: "a", Steps: []model.Step{{Kind: model.StepSeqRef, SequenceID: "b"}}}
	cfg.Sequences["b"] = &model.Sequence{ID: "b", Steps: []model.Step{{Kind: model.StepSeqRef, SequenceID: "a"}}}
	err := validator.Validate(cfg)
	require.Error(t, err)
	verr := err.(*model.ValidationError)
	assertHasKind(t, verr, "cycle")
}

func TestValidateCatchesMissingParam(t *testing.T) {
	cfg := baseConfig()
	cfg.Sequences["boot"] = &model.Sequence{
		ID:    "boot",
		Steps: []model.Step{{Kind: model.StepCommand, CommandID: "move", Args: map[string]string{}}},
	}
	err := validator.Validate(cfg)
	require.Error(t, err)
	verr := err.(*model.ValidationError)
	assertHasKind(t, verr, "param_missing")
}

func TestValidateCatchesMutexConflictInParallel(t *testing.T) {
	cfg := baseConfig()
	cfg.Resources["lock"] = &model.Resource{ID: "lock", Kind: model.ResourceMutex, Capacity: 1}
	cfg.Sequences["child1"] = &model.Sequence{ID: "child1", Resources: []string{"lock"}}
	cfg.Sequences["child2"] = &model.Sequence{ID: "child2", Resources: []string{"lock"}}
	cfg.Sequences["parent"] = &model.Sequence{
		ID:    "parent",
		Steps: []model.Step{{Kind: model.StepParallel, Children: []string{"child1", "child2"}}},
	}
	err := validator.Validate(cfg)
	require.Error(t, err)
	verr := err.(*model.ValidationError)
	assertHasKind(t, verr, "resource_conflict")
}

func TestValidateCatchesBadExpressionSyntax(t *testing.T) {
	cfg := baseConfig()
	cfg.Conditions["c1"] = &model.Condition{ID: "c1", Expr: "1 +"}
	err := validator.Validate(cfg)
	require.Error(t, err)
	verr := err.(*model.ValidationError)
	assertHasKind(t, verr, "expr_syntax")
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := baseConfig()
	cfg.Sequences["boot"] = &model.Sequence{
		ID:       "boot",
		PolicyID: "missing_policy",
		Steps:    []model.Step{{Kind: model.StepCommand, CommandID: "also_missing"}},
	}
	err := validator.Validate(cfg)
	require.Error(t, err)
	verr := err.(*model.ValidationError)
	assert.GreaterOrEqual(t, len(verr.Errors), 2)
}

func assertHasKind(t *testing.T, verr *model.ValidationError, kind string) {
	t.Helper()
	for _, e := range verr.Errors {
		if e.Kind == kind {
			return
		}
	}
	t.Fatalf("expected a ConfigError with kind %q, got %+v", kind, verr.Errors)
}
