package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Homiakus/motto/internal/parser"
)

const sampleTOML = `
version = "1.0"
strict = true

[vars]
speed = 10

[commands.move]
line = "MOVE { axis } {pos}"
params = ["axis", "pos"]

[conditions.alarm_clear]
expr = "status(\"alarm\") == 0"

[guards.g1]
when = "pre"
condition = "alarm_clear"
[guards.g1.on_fail]
kind = "abort"

[policies.default]
max_attempts = 3
timeout_ms = 1000
[policies.default.backoff]
shape = "fixed"
fixed_ms = 100

[resources.transport]
kind = "mutex"

[sequences.boot]
policy = "default"
pre_guards = ["g1"]

[[sequences.boot.steps]]
kind = "command"
command = "move"
args = { axis = "x", pos = "10" }
`

func TestLoadValidDocument(t *testing.T) {
	cfg, errs := parser.Load([]byte(sampleTOML))
	require.Empty(t, errs)
	require.NotNil(t, cfg)
	assert.Equal(t, "1.0", cfg.Version)
	require.Contains(t, cfg.Commands, "move")
	assert.Equal(t, "MOVE {axis} {pos}", cfg.Commands["move"].Line)
	require.Contains(t, cfg.Sequences, "boot")
	assert.Len(t, cfg.Sequences["boot"].Steps, 1)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	_, errs := parser.Load([]byte(`version = "9.9"`))
	require.NotEmpty(t, errs)
	found := false
	for _, e := range errs {
		if e.Kind == "unknown_version" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCanonicalizeRoundTrip(t *testing.T) {
	cfg, errs := parser.Load([]byte(sampleTOML))
	require.Empty(t, errs)

	first, err := parser.Canonicalize(cfg)
	require.NoError(t, err)

	reloaded, errs := parser.Load(first)
	require.Empty(t, errs)

	second, err := parser.Canonicalize(reloaded)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}
