// Package template implements the Template Expander (spec §4.4): load-time
// expansion of parameterized templates into concrete Commands/Sequences,
// and dispatch-time {param} substitution into a command line using the
// current variable scope.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Homiakus/motto/internal/model"
)

// placeholderPattern matches the normalized {name} substitution syntax
// (spec §4.1 "normalize placeholder syntax at load time").
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Placeholders returns the distinct {name} placeholders referenced by a
// command line, in first-appearance order.
func Placeholders(line string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(line, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		name := m[1]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Expander walks a Configuration's Templates and populates its Commands
// and Sequences maps with the expansion results. Expansion is a pure
// function of the template and its default/declared parameters: no
// variable scope or transport is consulted (spec §4.4).
type Expander struct{}

func NewExpander() *Expander { return &Expander{} }

// Expand mutates cfg in place, adding one Command per TemplateCommandSpec
// and one Sequence per TemplateSequenceSpec across all declared templates.
// It returns every problem found rather than stopping at the first, in
// keeping with the Parser/Validator convention (spec §4.2).
func (e *Expander) Expand(cfg *model.Configuration) []model.ConfigError {
	var errs []model.ConfigError
	for _, tpl := range cfg.Templates {
		params := defaultParams(tpl)

		for _, cspec := range tpl.ProducesCommands {
			id, err := substitute(cspec.IDPattern, params)
			if err != nil {
				errs = append(errs, model.ConfigError{
					Path: fmt.Sprintf("templates.%s.produces_commands", tpl.ID), Kind: "template_param_missing", Message: err.Error(),
				})
				continue
			}
			// The command's own declared params are filled at dispatch
			// time, so their placeholders stay in the expanded line.
			lineParams := params
			if len(cspec.Params) > 0 {
				lineParams = make(map[string]string, len(params)+len(cspec.Params))
				for k, v := range params {
					lineParams[k] = v
				}
				for _, p := range cspec.Params {
					if _, ok := lineParams[p]; !ok {
						lineParams[p] = "{" + p + "}"
					}
				}
			}
			line, err := substitute(cspec.LinePattern, lineParams)
			if err != nil {
				errs = append(errs, model.ConfigError{
					Path: fmt.Sprintf("templates.%s.produces_commands.%s", tpl.ID, id), Kind: "template_param_missing", Message: err.Error(),
				})
				continue
			}
			if _, exists := cfg.Commands[id]; exists {
				errs = append(errs, model.ConfigError{
					Path: fmt.Sprintf("templates.%s", tpl.ID), Kind: "duplicate_id", Message: "template expansion produced duplicate command id " + id,
				})
				continue
			}
			cfg.Commands[id] = &model.Command{
				ID:           id,
				Line:         line,
				Params:       cspec.Params,
				Placeholders: Placeholders(line),
			}
		}

		for _, sspec := range tpl.ProducesSequences {
			id, err := substitute(sspec.IDPattern, params)
			if err != nil {
				errs = append(errs, model.ConfigError{
					Path: fmt.Sprintf("templates.%s.produces_sequences", tpl.ID), Kind: "template_param_missing", Message: err.Error(),
				})
				continue
			}
			if _, exists := cfg.Sequences[id]; exists {
				errs = append(errs, model.ConfigError{
					Path: fmt.Sprintf("templates.%s", tpl.ID), Kind: "duplicate_id", Message: "template expansion produced duplicate sequence id " + id,
				})
				continue
			}
			cfg.Sequences[id] = &model.Sequence{
				ID:    id,
				Steps: sspec.Steps,
			}
		}
	}
	return errs
}

func defaultParams(tpl *model.Template) map[string]string {
	out := map[string]string{}
	for _, p := range tpl.Params {
		if p.Default != nil {
			out[p.Name] = fmt.Sprintf("%v", p.Default)
		}
	}
	return out
}

// substitute is the load-time {param} replacement used only against a
// template's own declared parameters (not the runtime variable scope).
func substitute(pattern string, params map[string]string) (string, error) {
	var missing []string
	result := placeholderPattern.ReplaceAllStringFunc(pattern, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", model.ErrParamMissing, strings.Join(missing, ", "))
	}
	return result, nil
}

// ResolveArgs is the dispatch-time substitution (spec §4.4 second
// paragraph): replaces {name} placeholders in a command line using the
// step's resolved Args map. Missing placeholders are reported as
// ErrParamMissing rather than left unresolved in the wire line.
func ResolveArgs(line string, args map[string]string) (string, error) {
	var missing []string
	result := placeholderPattern.ReplaceAllStringFunc(line, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := args[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", model.ErrParamMissing, strings.Join(missing, ", "))
	}
	return result, nil
}
