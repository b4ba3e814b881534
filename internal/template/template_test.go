package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Homiakus/motto/internal/model"
	"github.com/Homiakus/motto/internal/template"
)

func TestExpandProducesCommandsAndSequences(t *testing.T) {
	cfg := model.NewConfiguration()
	cfg.Templates["move_axis"] = &model.Template{
		ID: "move_axis",
		Params: []model.TemplateParam{
			{Name: "axis", Required: true, Default: "x"},
		},
		ProducesCommands: []model.TemplateCommandSpec{
			{IDPattern: "move_{axis}", LinePattern: "MOVE {axis} {pos}", Params: []string{"pos"}},
		},
		ProducesSequences: []model.TemplateSequenceSpec{
			{IDPattern: "home_{axis}", Steps: []model.Step{{Kind: model.StepWait, WaitSeconds: 0.5}}},
		},
	}

	errs := template.NewExpander().Expand(cfg)
	require.Empty(t, errs)

	cmd, ok := cfg.Commands["move_x"]
	require.True(t, ok)
	assert.Equal(t, "MOVE x {pos}", cmd.Line)
	assert.Equal(t, []string{"pos"}, cmd.Placeholders)

	seq, ok := cfg.Sequences["home_x"]
	require.True(t, ok)
	assert.Len(t, seq.Steps, 1)
}

func TestExpandMissingParamIsReported(t *testing.T) {
	cfg := model.NewConfiguration()
	cfg.Templates["bad"] = &model.Template{
		ID: "bad",
		ProducesCommands: []model.TemplateCommandSpec{
			{IDPattern: "cmd_{axis}", LinePattern: "MOVE {axis}"},
		},
	}
	errs := template.NewExpander().Expand(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, "template_param_missing", errs[0].Kind)
}

func TestExpandDuplicateIDIsReported(t *testing.T) {
	cfg := model.NewConfiguration()
	cfg.Commands["move_x"] = &model.Command{ID: "move_x"}
	cfg.Templates["move_axis"] = &model.Template{
		ID: "move_axis",
		ProducesCommands: []model.TemplateCommandSpec{
			{IDPattern: "move_x", LinePattern: "MOVE x"},
		},
	}
	errs := template.NewExpander().Expand(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, "duplicate_id", errs[0].Kind)
}

func TestResolveArgsSubstitutesAtDispatch(t *testing.T) {
	out, err := template.ResolveArgs("MOVE {axis} {pos}", map[string]string{"axis": "x", "pos": "10"})
	require.NoError(t, err)
	assert.Equal(t, "MOVE x 10", out)
}

func TestResolveArgsMissingParam(t *testing.T) {
	_, err := template.ResolveArgs("MOVE {axis}", map[string]string{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrParamMissing)
}

func TestPlaceholdersDedupesAndOrders(t *testing.T) {
	got := template.Placeholders("{a} {b} {a}")
	assert.Equal(t, []string{"a", "b"}, got)
}
