package legacyconvert_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Homiakus/motto/internal/legacyconvert"
	"github.com/Homiakus/motto/internal/model"
)

const sampleLegacy = `
buttons:
  - id: home
    label: Home
    line: "HOME"
  - id: move_x
    label: Move X
    line: "MOVE X {pos}"
flows:
  - id: startup
    steps:
      - button: home
        delay_ms: 500
      - button: move_x
      - line: "PING"
`

func TestConvertProducesCommandsAndSequence(t *testing.T) {
	cfg, err := legacyconvert.Convert([]byte(sampleLegacy))
	require.NoError(t, err)

	require.Contains(t, cfg.Commands, "home")
	require.Contains(t, cfg.Commands, "move_x")
	assert.Equal(t, "HOME", cfg.Commands["home"].Line)

	require.Contains(t, cfg.Sequences, "startup")
	steps := cfg.Sequences["startup"].Steps
	require.Len(t, steps, 4)
	assert.Equal(t, model.StepCommand, steps[0].Kind)
	assert.Equal(t, "home", steps[0].CommandID)
	assert.Equal(t, model.StepWait, steps[1].Kind)
	assert.Equal(t, 0.5, steps[1].WaitSeconds)
	assert.Equal(t, model.StepCommand, steps[2].Kind)
	assert.Equal(t, "move_x", steps[2].CommandID)
	assert.Equal(t, model.StepCommand, steps[3].Kind)
	assert.Equal(t, "PING", cfg.Commands[steps[3].CommandID].Line)

	require.Contains(t, cfg.Profiles, legacyconvert.DefaultProfileID)
}

func TestConvertRejectsUnknownButtonRef(t *testing.T) {
	_, err := legacyconvert.Convert([]byte(`
flows:
  - id: f1
    steps:
      - button: nope
`))
	require.Error(t, err)
}

func TestConvertRejectsDuplicateButtonID(t *testing.T) {
	_, err := legacyconvert.Convert([]byte(`
buttons:
  - id: a
    line: "X"
  - id: a
    line: "Y"
`))
	require.Error(t, err)
}
