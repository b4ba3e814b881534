// Package parser implements the Parser/Loader (spec §4.1): decoding a TOML
// configuration document into a model.Configuration, collecting every
// ConfigError found rather than stopping at the first, and re-encoding a
// validated configuration into a byte-stable canonical form (spec §8
// round-trip law).
package parser

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/Homiakus/motto/internal/model"
	"github.com/Homiakus/motto/internal/template"
)

// document mirrors the TOML document shape before it is lifted into the
// richer model.Configuration types; BurntSushi/toml decodes straight into
// this, then Load walks it field by field so every problem becomes a
// collected model.ConfigError instead of a single decode panic/error.
type document struct {
	Version string                    `toml:"version"`
	Strict  bool                      `toml:"strict"`
	Vars    map[string]model.Value    `toml:"vars"`

	Profiles   map[string]docProfile   `toml:"profiles"`
	Commands   map[string]docCommand   `toml:"commands"`
	Sequences  map[string]docSequence  `toml:"sequences"`
	Conditions map[string]docCondition `toml:"conditions"`
	Guards     map[string]docGuard     `toml:"guards"`
	Policies   map[string]docPolicy    `toml:"policies"`
	Resources  map[string]docResource  `toml:"resources"`
	Events     map[string]docEvent     `toml:"events"`
	Handlers   map[string]docHandler   `toml:"handlers"`
	Templates  map[string]docTemplate  `toml:"templates"`
	Units      map[string]docUnit      `toml:"units"`
}

type docUnit struct {
	Symbol string  `toml:"symbol"`
	Scale  float64 `toml:"scale"`
}

type docProfile struct {
	Vars          map[string]model.Value `toml:"vars"`
	TransportOpts map[string]model.Value `toml:"transport_opts"`
}

type docCommand struct {
	Line     string            `toml:"line"`
	Params   []string          `toml:"params"`
	UnitRefs map[string]string `toml:"unit_refs"`
}

type docCondition struct {
	Expr        string   `toml:"expr"`
	ContextRefs []string `toml:"context_refs"`
}

type docGuardAction struct {
	Kind          string `toml:"kind"`
	CompensateSeq string `toml:"compensate_seq"`
}

type docGuard struct {
	When      string         `toml:"when"`
	Condition string         `toml:"condition"`
	OnFail    docGuardAction `toml:"on_fail"`
}

type docBackoff struct {
	Shape     string  `toml:"shape"`
	FixedMS   int64   `toml:"fixed_ms"`
	InitialMS int64   `toml:"initial_ms"`
	Factor    float64 `toml:"factor"`
	CapMS     int64   `toml:"cap_ms"`
	Jitter    bool    `toml:"jitter"`
}

type docPolicy struct {
	MaxAttempts             int        `toml:"max_attempts"`
	Backoff                 docBackoff `toml:"backoff"`
	TimeoutMS               int64      `toml:"timeout_ms"`
	IdempotencyKeyTpl       string     `toml:"idempotency_key"`
	IdempotencyTTLMS        int64      `toml:"idempotency_ttl_ms"`
	SkipPostGuardsOnTimeout bool       `toml:"skip_post_guards_on_timeout"`
}

type docResource struct {
	Kind     string   `toml:"kind"`
	Capacity int64    `toml:"capacity"`
	Members  []string `toml:"members"`
}

type docEvent struct {
	Source string `toml:"source"`
	Filter string `toml:"filter"`
}

type docHandlerAction struct {
	SequenceRef string `toml:"sequence_ref"`
	Builtin     string `toml:"builtin"`
}

type docHandler struct {
	EventRef   string             `toml:"event_ref"`
	Actions    []docHandlerAction `toml:"actions"`
	Priority   int                `toml:"priority"`
	DebounceMS int64              `toml:"debounce_ms"`
}

type docTemplateParam struct {
	Name     string      `toml:"name"`
	Required bool        `toml:"required"`
	Default  model.Value `toml:"default"`
}

type docTemplateCommandSpec struct {
	IDPattern   string   `toml:"id"`
	LinePattern string   `toml:"line"`
	Params      []string `toml:"params"`
}

type docTemplateSequenceSpec struct {
	IDPattern string    `toml:"id"`
	Steps     []docStep `toml:"steps"`
}

type docTemplate struct {
	Params            []docTemplateParam       `toml:"params"`
	ProducesCommands  []docTemplateCommandSpec `toml:"produces_commands"`
	ProducesSequences []docTemplateSequenceSpec `toml:"produces_sequences"`
}

type docStep struct {
	Kind        string            `toml:"kind"`
	CommandID   string            `toml:"command"`
	Args        map[string]string `toml:"args"`
	SequenceID  string            `toml:"sequence"`
	WaitSeconds float64           `toml:"wait_seconds"`
	ConditionID string            `toml:"condition"`
	Then        []docStep         `toml:"then"`
	Else        []docStep         `toml:"else"`
	Children    []string          `toml:"children"`
	Let         map[string]model.Value `toml:"let"`
}

type docSequence struct {
	Steps                []docStep `toml:"steps"`
	PolicyID             string    `toml:"policy"`
	PreGuards            []string  `toml:"pre_guards"`
	PostGuards           []string  `toml:"post_guards"`
	Resources            []string  `toml:"resources"`
	OnError              string    `toml:"on_error"`
	OnErrorCompensateSeq string    `toml:"on_error_compensate_seq"`
}

// Load decodes a TOML document into a model.Configuration. It never
// executes any expression (spec §4.1); expressions are only parsed into
// ASTs by the caller (typically the Validator) after Load succeeds.
// Load returns a non-nil []model.ConfigError whenever any problem is
// found; it does not stop at the first one.
func Load(data []byte) (*model.Configuration, []model.ConfigError) {
	var doc document
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, []model.ConfigError{{Path: "$", Kind: "decode_error", Message: err.Error()}}
	}

	var errs []model.ConfigError
	if doc.Strict {
		for _, k := range md.Undecoded() {
			errs = append(errs, model.ConfigError{Path: k.String(), Kind: "unknown_key", Message: "unrecognized key"})
		}
	}

	if !model.SupportedVersions[doc.Version] {
		errs = append(errs, model.ConfigError{Path: "version", Kind: "unknown_version", Message: fmt.Sprintf("unsupported version %q", doc.Version)})
	}

	cfg := model.NewConfiguration()
	cfg.Version = doc.Version
	cfg.Strict = doc.Strict
	cfg.Vars = doc.Vars
	if cfg.Vars == nil {
		cfg.Vars = map[string]model.Value{}
	}

	for id, u := range doc.Units {
		cfg.Units[id] = &model.Unit{ID: id, Symbol: u.Symbol, Scale: u.Scale}
	}

	for id, p := range doc.Profiles {
		cfg.Profiles[id] = &model.Profile{ID: id, VarOverlay: p.Vars, TransportOpts: p.TransportOpts}
	}

	for id, c := range doc.Commands {
		line := normalizePlaceholders(c.Line)
		cfg.Commands[id] = &model.Command{
			ID:           id,
			Line:         line,
			Params:       c.Params,
			UnitRefs:     c.UnitRefs,
			Placeholders: template.Placeholders(line),
		}
	}

	for id, c := range doc.Conditions {
		cfg.Conditions[id] = &model.Condition{ID: id, Expr: c.Expr, ContextRefs: c.ContextRefs}
	}

	for id, g := range doc.Guards {
		when := model.GuardWhen(g.When)
		if when != model.GuardPre && when != model.GuardPost {
			errs = append(errs, model.ConfigError{Path: "guards." + id + ".when", Kind: "invalid_enum", Message: fmt.Sprintf("when must be pre or post, got %q", g.When)})
		}
		kind := model.GuardActionKind(g.OnFail.Kind)
		switch kind {
		case model.GuardActionAbort, model.GuardActionSkip, model.GuardActionRetry, model.GuardActionCompensate:
		default:
			errs = append(errs, model.ConfigError{Path: "guards." + id + ".on_fail.kind", Kind: "invalid_enum", Message: fmt.Sprintf("unknown on_fail kind %q", g.OnFail.Kind)})
		}
		cfg.Guards[id] = &model.Guard{
			ID:          id,
			When:        when,
			ConditionID: g.Condition,
			OnFail:      model.GuardAction{Kind: kind, CompensateSeq: g.OnFail.CompensateSeq},
		}
	}

	for id, p := range doc.Policies {
		if p.MaxAttempts < 1 {
			errs = append(errs, model.ConfigError{Path: "policies." + id + ".max_attempts", Kind: "out_of_range", Message: "max_attempts must be >= 1"})
		}
		if p.TimeoutMS <= 0 {
			errs = append(errs, model.ConfigError{Path: "policies." + id + ".timeout_ms", Kind: "out_of_range", Message: "timeout_ms must be > 0"})
		}
		shape := model.BackoffShape(p.Backoff.Shape)
		switch shape {
		case model.BackoffNone, model.BackoffFixed, model.BackoffExponential, "":
			if shape == "" {
				shape = model.BackoffNone
			}
		default:
			errs = append(errs, model.ConfigError{Path: "policies." + id + ".backoff.shape", Kind: "invalid_enum", Message: fmt.Sprintf("unknown backoff shape %q", p.Backoff.Shape)})
		}
		cfg.Policies[id] = &model.Policy{
			ID:          id,
			MaxAttempts: p.MaxAttempts,
			Backoff: model.Backoff{
				Shape: shape, FixedMS: p.Backoff.FixedMS, InitialMS: p.Backoff.InitialMS,
				Factor: p.Backoff.Factor, CapMS: p.Backoff.CapMS, Jitter: p.Backoff.Jitter,
			},
			TimeoutMS:               p.TimeoutMS,
			IdempotencyKeyTpl:       normalizePlaceholders(p.IdempotencyKeyTpl),
			IdempotencyTTLMS:        p.IdempotencyTTLMS,
			SkipPostGuardsOnTimeout: p.SkipPostGuardsOnTimeout,
		}
	}

	for id, r := range doc.Resources {
		kind := model.ResourceKind(r.Kind)
		cap := r.Capacity
		switch kind {
		case model.ResourceMutex:
			cap = 1
		case model.ResourceSemaphore:
			if cap < 1 {
				errs = append(errs, model.ConfigError{Path: "resources." + id + ".capacity", Kind: "out_of_range", Message: "semaphore capacity must be >= 1"})
			}
		default:
			errs = append(errs, model.ConfigError{Path: "resources." + id + ".kind", Kind: "invalid_enum", Message: fmt.Sprintf("unknown resource kind %q", r.Kind)})
		}
		cfg.Resources[id] = &model.Resource{ID: id, Kind: kind, Capacity: cap, Members: r.Members}
	}

	for id, e := range doc.Events {
		cfg.Events[id] = &model.Event{ID: id, Source: e.Source, Filter: e.Filter}
	}

	for id, h := range doc.Handlers {
		actions := make([]model.HandlerAction, 0, len(h.Actions))
		for _, a := range h.Actions {
			actions = append(actions, model.HandlerAction{SequenceRef: a.SequenceRef, Builtin: a.Builtin})
		}
		cfg.Handlers[id] = &model.Handler{ID: id, EventRef: h.EventRef, Actions: actions, Priority: h.Priority, DebounceMS: h.DebounceMS}
	}

	for id, t := range doc.Templates {
		params := make([]model.TemplateParam, 0, len(t.Params))
		for _, p := range t.Params {
			params = append(params, model.TemplateParam{Name: p.Name, Required: p.Required, Default: p.Default})
		}
		cmdSpecs := make([]model.TemplateCommandSpec, 0, len(t.ProducesCommands))
		for _, c := range t.ProducesCommands {
			cmdSpecs = append(cmdSpecs, model.TemplateCommandSpec{IDPattern: c.IDPattern, LinePattern: normalizePlaceholders(c.LinePattern), Params: c.Params})
		}
		seqSpecs := make([]model.TemplateSequenceSpec, 0, len(t.ProducesSequences))
		for _, s := range t.ProducesSequences {
			steps, serrs := convertSteps(fmt.Sprintf("templates.%s.produces_sequences.%s", id, s.IDPattern), s.Steps)
			errs = append(errs, serrs...)
			seqSpecs = append(seqSpecs, model.TemplateSequenceSpec{IDPattern: s.IDPattern, Steps: steps})
		}
		cfg.Templates[id] = &model.Template{ID: id, Params: params, ProducesCommands: cmdSpecs, ProducesSequences: seqSpecs}
	}

	for id, s := range doc.Sequences {
		steps, serrs := convertSteps("sequences."+id, s.Steps)
		errs = append(errs, serrs...)
		onErr := model.GuardActionKind(s.OnError)
		if onErr == "" {
			onErr = model.GuardActionAbort
		}
		cfg.Sequences[id] = &model.Sequence{
			ID: id, Steps: steps, PolicyID: s.PolicyID,
			PreGuards: s.PreGuards, PostGuards: s.PostGuards, Resources: s.Resources,
			OnError: onErr, OnErrorCompensateSeq: s.OnErrorCompensateSeq,
		}
	}

	for id, c := range doc.Commands {
		for range c.UnitRefs {
			if _, ok := cfg.Commands[id]; !ok {
				continue
			}
		}
	}

	// Duplicate id detection: the TOML decoder rejects a table or key
	// defined twice, which surfaces as the decode_error above. The only
	// duplicate surface left to check is across *different* sections that
	// must share an id namespace; the spec scopes uniqueness per section,
	// so nothing further is needed here.

	return cfg, errs
}

func convertSteps(path string, steps []docStep) ([]model.Step, []model.ConfigError) {
	var errs []model.ConfigError
	out := make([]model.Step, 0, len(steps))
	for i, s := range steps {
		kind := model.StepKind(s.Kind)
		switch kind {
		case model.StepCommand, model.StepSeqRef, model.StepWait, model.StepIf, model.StepParallel:
		default:
			errs = append(errs, model.ConfigError{Path: fmt.Sprintf("%s.steps[%d].kind", path, i), Kind: "invalid_enum", Message: fmt.Sprintf("unknown step kind %q", s.Kind)})
		}
		then, thenErrs := convertSteps(fmt.Sprintf("%s.steps[%d].then", path, i), s.Then)
		els, elseErrs := convertSteps(fmt.Sprintf("%s.steps[%d].else", path, i), s.Else)
		errs = append(errs, thenErrs...)
		errs = append(errs, elseErrs...)
		out = append(out, model.Step{
			Kind: kind, CommandID: s.CommandID, Args: s.Args, SequenceID: s.SequenceID,
			WaitSeconds: s.WaitSeconds, ConditionID: s.ConditionID, Then: then, Else: els,
			Children: s.Children, Let: s.Let,
		})
	}
	return out, errs
}

// normalizePlaceholders canonicalizes whitespace-tolerant placeholder
// syntax (e.g. "{ name }") to the strict "{name}" form the template
// package's regexp expects, at load time only (spec §4.1).
func normalizePlaceholders(s string) string {
	var buf bytes.Buffer
	i := 0
	for i < len(s) {
		if s[i] == '{' {
			j := i + 1
			for j < len(s) && s[j] != '}' {
				j++
			}
			if j < len(s) {
				inner := bytes.TrimSpace([]byte(s[i+1 : j]))
				buf.WriteByte('{')
				buf.Write(inner)
				buf.WriteByte('}')
				i = j + 1
				continue
			}
		}
		buf.WriteByte(s[i])
		i++
	}
	return buf.String()
}

// sortedKeys gives deterministic map iteration; Canonicalize
// (canonical.go) uses it.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
