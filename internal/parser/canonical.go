package parser

import (
	"bytes"

	"github.com/BurntSushi/toml"

	"github.com/Homiakus/motto/internal/model"
)

// Canonicalize re-encodes a validated Configuration into a byte-stable
// canonical TOML form: unordered maps are emitted in sorted-key order
// (BurntSushi/toml's encoder does this for Go maps already), and the
// semantically-ordered containers (sequence steps, handler action lists,
// resource member lists) keep their original slice order. Load(Canonicalize(cfg))
// re-encoded again reproduces the same bytes (spec §8 round-trip law).
func Canonicalize(cfg *model.Configuration) ([]byte, error) {
	doc := toDocument(cfg)
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toDocument(cfg *model.Configuration) document {
	doc := document{
		Version: cfg.Version,
		Strict:  cfg.Strict,
		Vars:    cfg.Vars,
	}

	doc.Units = map[string]docUnit{}
	for _, id := range sortedKeys(cfg.Units) {
		u := cfg.Units[id]
		doc.Units[id] = docUnit{Symbol: u.Symbol, Scale: u.Scale}
	}

	doc.Profiles = map[string]docProfile{}
	for _, id := range sortedKeys(cfg.Profiles) {
		p := cfg.Profiles[id]
		doc.Profiles[id] = docProfile{Vars: p.VarOverlay, TransportOpts: p.TransportOpts}
	}

	doc.Commands = map[string]docCommand{}
	for _, id := range sortedKeys(cfg.Commands) {
		c := cfg.Commands[id]
		doc.Commands[id] = docCommand{Line: c.Line, Params: c.Params, UnitRefs: c.UnitRefs}
	}

	doc.Conditions = map[string]docCondition{}
	for _, id := range sortedKeys(cfg.Conditions) {
		c := cfg.Conditions[id]
		doc.Conditions[id] = docCondition{Expr: c.Expr, ContextRefs: c.ContextRefs}
	}

	doc.Guards = map[string]docGuard{}
	for _, id := range sortedKeys(cfg.Guards) {
		g := cfg.Guards[id]
		doc.Guards[id] = docGuard{
			When: string(g.When), Condition: g.ConditionID,
			OnFail: docGuardAction{Kind: string(g.OnFail.Kind), CompensateSeq: g.OnFail.CompensateSeq},
		}
	}

	doc.Policies = map[string]docPolicy{}
	for _, id := range sortedKeys(cfg.Policies) {
		p := cfg.Policies[id]
		doc.Policies[id] = docPolicy{
			MaxAttempts: p.MaxAttempts,
			Backoff: docBackoff{
				Shape: string(p.Backoff.Shape), FixedMS: p.Backoff.FixedMS, InitialMS: p.Backoff.InitialMS,
				Factor: p.Backoff.Factor, CapMS: p.Backoff.CapMS, Jitter: p.Backoff.Jitter,
			},
			TimeoutMS: p.TimeoutMS, IdempotencyKeyTpl: p.IdempotencyKeyTpl, IdempotencyTTLMS: p.IdempotencyTTLMS,
			SkipPostGuardsOnTimeout: p.SkipPostGuardsOnTimeout,
		}
	}

	doc.Resources = map[string]docResource{}
	for _, id := range sortedKeys(cfg.Resources) {
		r := cfg.Resources[id]
		doc.Resources[id] = docResource{Kind: string(r.Kind), Capacity: r.Capacity, Members: r.Members}
	}

	doc.Events = map[string]docEvent{}
	for _, id := range sortedKeys(cfg.Events) {
		e := cfg.Events[id]
		doc.Events[id] = docEvent{Source: e.Source, Filter: e.Filter}
	}

	doc.Handlers = map[string]docHandler{}
	for _, id := range sortedKeys(cfg.Handlers) {
		h := cfg.Handlers[id]
		actions := make([]docHandlerAction, 0, len(h.Actions))
		for _, a := range h.Actions {
			actions = append(actions, docHandlerAction{SequenceRef: a.SequenceRef, Builtin: a.Builtin})
		}
		doc.Handlers[id] = docHandler{EventRef: h.EventRef, Actions: actions, Priority: h.Priority, DebounceMS: h.DebounceMS}
	}

	doc.Templates = map[string]docTemplate{}
	for _, id := range sortedKeys(cfg.Templates) {
		t := cfg.Templates[id]
		params := make([]docTemplateParam, 0, len(t.Params))
		for _, p := range t.Params {
			params = append(params, docTemplateParam{Name: p.Name, Required: p.Required, Default: p.Default})
		}
		cmdSpecs := make([]docTemplateCommandSpec, 0, len(t.ProducesCommands))
		for _, c := range t.ProducesCommands {
			cmdSpecs = append(cmdSpecs, docTemplateCommandSpec{IDPattern: c.IDPattern, LinePattern: c.LinePattern, Params: c.Params})
		}
		seqSpecs := make([]docTemplateSequenceSpec, 0, len(t.ProducesSequences))
		for _, s := range t.ProducesSequences {
			seqSpecs = append(seqSpecs, docTemplateSequenceSpec{IDPattern: s.IDPattern, Steps: toDocSteps(s.Steps)})
		}
		doc.Templates[id] = docTemplate{Params: params, ProducesCommands: cmdSpecs, ProducesSequences: seqSpecs}
	}

	doc.Sequences = map[string]docSequence{}
	for _, id := range sortedKeys(cfg.Sequences) {
		s := cfg.Sequences[id]
		doc.Sequences[id] = docSequence{
			Steps: toDocSteps(s.Steps), PolicyID: s.PolicyID,
			PreGuards: s.PreGuards, PostGuards: s.PostGuards, Resources: s.Resources,
			OnError: string(s.OnError), OnErrorCompensateSeq: s.OnErrorCompensateSeq,
		}
	}

	return doc
}

func toDocSteps(steps []model.Step) []docStep {
	out := make([]docStep, 0, len(steps))
	for _, s := range steps {
		out = append(out, docStep{
			Kind: string(s.Kind), CommandID: s.CommandID, Args: s.Args, SequenceID: s.SequenceID,
			WaitSeconds: s.WaitSeconds, ConditionID: s.ConditionID,
			Then: toDocSteps(s.Then), Else: toDocSteps(s.Else),
			Children: s.Children, Let: s.Let,
		})
	}
	return out
}
