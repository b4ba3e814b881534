// Package validator implements the Validator (spec §4.2): reference
// closure, block balance, cycle freedom, resource safety, parameter
// completeness, and expression typing over a parsed model.Configuration.
// It collects every violation into a model.ValidationError rather than
// stopping at the first, the way the teacher's orchestration package
// reports workflow-DAG problems in bulk.
package validator

import (
	"fmt"

	"github.com/Homiakus/motto/internal/expr"
	"github.com/Homiakus/motto/internal/model"
)

// Validate runs every check in spec §4.2 against cfg and returns nil if
// none found a problem, or a *model.ValidationError aggregating all of
// them otherwise.
func Validate(cfg *model.Configuration) error {
	verr := &model.ValidationError{}

	checkReferenceClosure(cfg, verr)
	checkBlockBalance(cfg, verr)
	checkCycleFreedom(cfg, verr)
	checkResourceSafety(cfg, verr)
	checkParameterCompleteness(cfg, verr)
	checkExpressionTyping(cfg, verr)

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// checkReferenceClosure verifies every id referenced anywhere resolves to
// an existing entity: guard->condition, handler->event/sequences,
// step->command/sequence/condition/policy/resource (spec §4.2 item 1).
func checkReferenceClosure(cfg *model.Configuration, verr *model.ValidationError) {
	for id, g := range cfg.Guards {
		if _, ok := cfg.Conditions[g.ConditionID]; !ok {
			verr.Add(model.ConfigError{Path: "guards." + id + ".condition", Kind: "unknown_ref", Message: "references unknown condition " + g.ConditionID})
		}
		if g.OnFail.Kind == model.GuardActionCompensate {
			if _, ok := cfg.Sequences[g.OnFail.CompensateSeq]; !ok {
				verr.Add(model.ConfigError{Path: "guards." + id + ".on_fail.compensate_seq", Kind: "unknown_ref", Message: "references unknown sequence " + g.OnFail.CompensateSeq})
			}
		}
	}

	for id, h := range cfg.Handlers {
		if _, ok := cfg.Events[h.EventRef]; !ok {
			verr.Add(model.ConfigError{Path: "handlers." + id + ".event_ref", Kind: "unknown_ref", Message: "references unknown event " + h.EventRef})
		}
		for i, a := range h.Actions {
			if a.SequenceRef != "" {
				if _, ok := cfg.Sequences[a.SequenceRef]; !ok {
					verr.Add(model.ConfigError{Path: fmt.Sprintf("handlers.%s.actions[%d]", id, i), Kind: "unknown_ref", Message: "references unknown sequence " + a.SequenceRef})
				}
			}
		}
	}

	for id, s := range cfg.Sequences {
		if s.PolicyID != "" {
			if _, ok := cfg.Policies[s.PolicyID]; !ok {
				verr.Add(model.ConfigError{Path: "sequences." + id + ".policy", Kind: "unknown_ref", Message: "references unknown policy " + s.PolicyID})
			}
		}
		for _, gid := range append(append([]string{}, s.PreGuards...), s.PostGuards...) {
			if _, ok := cfg.Guards[gid]; !ok {
				verr.Add(model.ConfigError{Path: "sequences." + id, Kind: "unknown_ref", Message: "references unknown guard " + gid})
			}
		}
		for _, rid := range s.Resources {
			if _, ok := cfg.Resources[rid]; !ok {
				verr.Add(model.ConfigError{Path: "sequences." + id + ".resources", Kind: "unknown_ref", Message: "references unknown resource " + rid})
			}
		}
		if s.OnError == model.GuardActionCompensate {
			if _, ok := cfg.Sequences[s.OnErrorCompensateSeq]; !ok {
				verr.Add(model.ConfigError{Path: "sequences." + id + ".on_error_compensate_seq", Kind: "unknown_ref", Message: "references unknown sequence " + s.OnErrorCompensateSeq})
			}
		}
		checkStepRefs(cfg, "sequences."+id, s.Steps, verr)
	}

	for id, t := range cfg.Templates {
		for _, sspec := range t.ProducesSequences {
			checkStepRefs(cfg, "templates."+id, sspec.Steps, verr)
		}
	}
}

func checkStepRefs(cfg *model.Configuration, path string, steps []model.Step, verr *model.ValidationError) {
	for i, st := range steps {
		p := fmt.Sprintf("%s.steps[%d]", path, i)
		switch st.Kind {
		case model.StepCommand:
			if _, ok := cfg.Commands[st.CommandID]; !ok {
				verr.Add(model.ConfigError{Path: p + ".command", Kind: "unknown_ref", Message: "references unknown command " + st.CommandID})
			}
		case model.StepSeqRef:
			if _, ok := cfg.Sequences[st.SequenceID]; !ok {
				verr.Add(model.ConfigError{Path: p + ".sequence", Kind: "unknown_ref", Message: "references unknown sequence " + st.SequenceID})
			}
		case model.StepIf:
			if st.ConditionID != "" {
				if _, ok := cfg.Conditions[st.ConditionID]; !ok {
					verr.Add(model.ConfigError{Path: p + ".condition", Kind: "unknown_ref", Message: "references unknown condition " + st.ConditionID})
				}
			}
			checkStepRefs(cfg, p+".then", st.Then, verr)
			checkStepRefs(cfg, p+".else", st.Else, verr)
		case model.StepParallel:
			for _, c := range st.Children {
				if _, ok := cfg.Sequences[c]; !ok {
					verr.Add(model.ConfigError{Path: p + ".children", Kind: "unknown_ref", Message: "references unknown sequence " + c})
				}
			}
		}
	}
}

// checkBlockBalance is a defensive re-check: the parser's step tree is
// already structurally balanced (Then/Else are distinct fields, not a
// flat if/else/endif token stream), so the only remaining balance rule is
// "else appears at most once", which the struct shape enforces by
// construction. This walks the tree anyway to catch a StepIf with a
// non-empty Else but StepKind other than "if" slipping through
// hand-authored TOML (spec §4.2 item 2).
func checkBlockBalance(cfg *model.Configuration, verr *model.ValidationError) {
	var walk func(path string, steps []model.Step)
	walk = func(path string, steps []model.Step) {
		for i, st := range steps {
			p := fmt.Sprintf("%s.steps[%d]", path, i)
			if st.Kind != model.StepIf && (len(st.Then) > 0 || len(st.Else) > 0) {
				verr.Add(model.ConfigError{Path: p, Kind: "unbalanced_if", Message: "then/else populated on a non-if step"})
			}
			walk(p+".then", st.Then)
			walk(p+".else", st.Else)
		}
	}
	for id, s := range cfg.Sequences {
		walk("sequences."+id, s.Steps)
	}
}

// checkCycleFreedom runs a DFS cycle check over the sequence->sequence
// reference graph (sequence_ref steps and parallel children), grounded on
// the teacher's workflow_dag.go hasCycleDFS recursion-stack technique, and
// separately confirms template expansion cannot recurse (templates cannot
// reference other templates, so expansion always terminates in one pass;
// asserted here rather than walked).
func checkCycleFreedom(cfg *model.Configuration, verr *model.ValidationError) {
	graph := map[string][]string{}
	for id, s := range cfg.Sequences {
		graph[id] = sequenceDeps(s.Steps)
		if s.OnError == model.GuardActionCompensate && s.OnErrorCompensateSeq != "" {
			graph[id] = append(graph[id], s.OnErrorCompensateSeq)
		}
	}

	visited := map[string]bool{}
	recStack := map[string]bool{}
	var cyclic []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true
		for _, dep := range graph[id] {
			if !visited[dep] {
				if dfs(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}
		recStack[id] = false
		return false
	}

	for id := range graph {
		if !visited[id] {
			if dfs(id) {
				cyclic = append(cyclic, id)
			}
		}
	}

	for _, id := range cyclic {
		verr.Add(model.ConfigError{Path: "sequences." + id, Kind: "cycle", Message: "sequence reference graph contains a cycle reachable from " + id})
	}
}

func sequenceDeps(steps []model.Step) []string {
	var deps []string
	for _, st := range steps {
		switch st.Kind {
		case model.StepSeqRef:
			deps = append(deps, st.SequenceID)
		case model.StepIf:
			deps = append(deps, sequenceDeps(st.Then)...)
			deps = append(deps, sequenceDeps(st.Else)...)
		case model.StepParallel:
			deps = append(deps, st.Children...)
		}
	}
	return deps
}

// checkResourceSafety verifies that within a parallel block, no two
// children declare the same mutex, and semaphore requests do not exceed
// n (spec §4.2 item 4).
func checkResourceSafety(cfg *model.Configuration, verr *model.ValidationError) {
	var walk func(path string, steps []model.Step)
	walk = func(path string, steps []model.Step) {
		for i, st := range steps {
			p := fmt.Sprintf("%s.steps[%d]", path, i)
			if st.Kind == model.StepParallel {
				mutexOwners := map[string]string{}
				semaphoreDemand := map[string]int64{}
				for _, childID := range st.Children {
					child, ok := cfg.Sequences[childID]
					if !ok {
						continue
					}
					for _, rid := range child.Resources {
						res, ok := cfg.Resources[rid]
						if !ok {
							continue
						}
						switch res.Kind {
						case model.ResourceMutex:
							if owner, taken := mutexOwners[rid]; taken && owner != childID {
								verr.Add(model.ConfigError{Path: p, Kind: "resource_conflict", Message: fmt.Sprintf("parallel children %s and %s both declare mutex %s", owner, childID, rid)})
							}
							mutexOwners[rid] = childID
						case model.ResourceSemaphore:
							semaphoreDemand[rid]++
							if semaphoreDemand[rid] > res.Capacity {
								verr.Add(model.ConfigError{Path: p, Kind: "resource_conflict", Message: fmt.Sprintf("parallel block demands semaphore %s more than capacity %d", rid, res.Capacity)})
							}
						}
					}
				}
			}
			walk(p+".then", st.Then)
			walk(p+".else", st.Else)
		}
	}
	for id, s := range cfg.Sequences {
		walk("sequences."+id, s.Steps)
	}
}

// checkParameterCompleteness verifies each command invocation supplies
// every declared parameter in its args; no default is consulted, so a
// declared parameter missing from args is always reported (spec §4.2
// item 5). Dispatch-time {var} substitution
// failures are a separate, runtime ParamMissing concern (§4.6); this
// check is purely structural over the declared params list.
func checkParameterCompleteness(cfg *model.Configuration, verr *model.ValidationError) {
	var walk func(path string, steps []model.Step)
	walk = func(path string, steps []model.Step) {
		for i, st := range steps {
			p := fmt.Sprintf("%s.steps[%d]", path, i)
			if st.Kind == model.StepCommand {
				cmd, ok := cfg.Commands[st.CommandID]
				if ok {
					for _, param := range cmd.Params {
						if _, supplied := st.Args[param]; !supplied {
							verr.Add(model.ConfigError{Path: p + ".args", Kind: "param_missing", Message: "missing required parameter " + param})
						}
					}
				}
			}
			walk(p+".then", st.Then)
			walk(p+".else", st.Else)
		}
	}
	for id, s := range cfg.Sequences {
		walk("sequences."+id, s.Steps)
	}
}

// checkExpressionTyping parses every condition and event filter expression
// and runs a static shape check that the result can be boolean (spec §4.2
// item 6). It does not evaluate the expression and does not compare
// identifiers with declared_refs, so undefined-identifier and operand type
// errors are not reported here; they surface when the expression is
// evaluated at dispatch time.
func checkExpressionTyping(cfg *model.Configuration, verr *model.ValidationError) {
	for id, c := range cfg.Conditions {
		node, err := expr.Parse(c.Expr)
		if err != nil {
			verr.Add(model.ConfigError{Path: "conditions." + id + ".expr", Kind: "expr_syntax", Message: err.Error()})
			continue
		}
		if !typeChecksToBool(node) {
			verr.Add(model.ConfigError{Path: "conditions." + id + ".expr", Kind: "expr_not_boolean", Message: "expression does not type-check to boolean"})
		}
	}
	for id, e := range cfg.Events {
		if e.Filter == "" {
			continue
		}
		node, err := expr.Parse(e.Filter)
		if err != nil {
			verr.Add(model.ConfigError{Path: "events." + id + ".filter", Kind: "expr_syntax", Message: err.Error()})
			continue
		}
		if !typeChecksToBool(node) {
			verr.Add(model.ConfigError{Path: "events." + id + ".filter", Kind: "expr_not_boolean", Message: "filter does not type-check to boolean"})
		}
	}
}

// typeChecksToBool performs a conservative static shape check: the
// top-level node must be a comparison, logical combinator, boolean
// literal, unary "not", or a call/identifier (whose runtime type cannot be
// known without a context, and is therefore accepted optimistically and
// re-checked by expr.EvalBool at dispatch time).
func typeChecksToBool(n expr.Node) bool {
	switch t := n.(type) {
	case expr.BoolLit:
		return true
	case expr.UnaryOp:
		return t.Op == "not"
	case expr.BinaryOp:
		switch t.Op {
		case "and", "or", "==", "!=", "<", "<=", ">", ">=":
			return true
		default:
			return false
		}
	case expr.IdentPath, expr.Call:
		return true
	default:
		return false
	}
}
