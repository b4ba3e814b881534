// Package legacyconvert implements the one-shot transform from a legacy
// flat button/sequence configuration into a core model.Configuration
// (spec.md §1 out-of-scope item, SPEC_FULL.md §12). It is pure: bytes in,
// Configuration or error out, never on the hot execution path.
package legacyconvert

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Homiakus/motto/internal/model"
)

// legacyDocument is the flat shape this package converts from: a list of
// buttons (one-line commands) and a list of flows (ordered references to
// button ids or raw lines, with optional delays between steps).
type legacyDocument struct {
	Buttons []legacyButton `yaml:"buttons"`
	Flows   []legacyFlow   `yaml:"flows"`
}

type legacyButton struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	Line  string `yaml:"line"`
}

type legacyFlow struct {
	ID      string           `yaml:"id"`
	Steps   []legacyFlowStep `yaml:"steps"`
}

// legacyFlowStep is a single flow entry: either a reference to a declared
// button id, or a raw command line, optionally followed by a delay before
// the next step.
type legacyFlowStep struct {
	ButtonID string `yaml:"button"`
	Line     string `yaml:"line"`
	DelayMS  int64  `yaml:"delay_ms"`
}

// DefaultProfileID names the synthetic profile legacy flows run under,
// since the legacy format has no concept of profiles.
const DefaultProfileID = "legacy_default"

// Convert reads a legacy YAML document and produces an equivalent
// model.Configuration: one Command per button, one Sequence per flow
// (command steps interleaved with wait steps for non-zero delay_ms), and a
// synthetic default Profile.
func Convert(data []byte) (*model.Configuration, error) {
	var doc legacyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("legacyconvert: decode: %w", err)
	}

	cfg := model.NewConfiguration()
	cfg.Version = "1.1"
	cfg.Profiles[DefaultProfileID] = &model.Profile{ID: DefaultProfileID}

	seen := map[string]bool{}
	for _, b := range doc.Buttons {
		if b.ID == "" {
			return nil, fmt.Errorf("legacyconvert: button missing id")
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("legacyconvert: duplicate button id %q", b.ID)
		}
		seen[b.ID] = true
		cfg.Commands[b.ID] = &model.Command{ID: b.ID, Line: b.Line}
	}

	rawCounter := 0
	for _, f := range doc.Flows {
		if f.ID == "" {
			return nil, fmt.Errorf("legacyconvert: flow missing id")
		}
		var steps []model.Step
		for _, fs := range f.Steps {
			cmdID := fs.ButtonID
			if cmdID == "" {
				if fs.Line == "" {
					return nil, fmt.Errorf("legacyconvert: flow %q step has neither button nor line", f.ID)
				}
				rawCounter++
				cmdID = fmt.Sprintf("%s_raw_%d", f.ID, rawCounter)
				cfg.Commands[cmdID] = &model.Command{ID: cmdID, Line: fs.Line}
			} else if _, ok := cfg.Commands[cmdID]; !ok {
				return nil, fmt.Errorf("legacyconvert: flow %q references unknown button %q", f.ID, cmdID)
			}
			steps = append(steps, model.Step{Kind: model.StepCommand, CommandID: cmdID})
			if fs.DelayMS > 0 {
				steps = append(steps, model.Step{Kind: model.StepWait, WaitSeconds: float64(fs.DelayMS) / 1000.0})
			}
		}
		cfg.Sequences[f.ID] = &model.Sequence{ID: f.ID, Steps: steps, OnError: model.GuardActionAbort}
	}

	return cfg, nil
}
