// Package guard implements the Guard Evaluator (spec §4.7):
// check_guards(when, guards, ctx) evaluates guards in declared order and
// maps the first failure to its on_fail action.
package guard

import (
	"fmt"

	"github.com/Homiakus/motto/internal/expr"
	"github.com/Homiakus/motto/internal/model"
)

// Outcome is the result of evaluating an ordered list of guards.
type Outcome struct {
	Passed       bool
	FailedGuard  *model.Guard
	Action       model.GuardActionKind
	CompensateID string
}

// Evaluator resolves condition expressions and walks a guard list.
type Evaluator struct {
	cfg *model.Configuration
}

func NewEvaluator(cfg *model.Configuration) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Check evaluates guardIDs in declared order against evalCtx. The first
// guard whose condition evaluates false determines the Outcome; if none
// fail, Outcome.Passed is true (spec §4.7).
func (e *Evaluator) Check(guardIDs []string, evalCtx expr.Context) (Outcome, error) {
	for _, gid := range guardIDs {
		g, ok := e.cfg.Guards[gid]
		if !ok {
			return Outcome{}, fmt.Errorf("%w: guard %s", model.ErrRef, gid)
		}
		cond, ok := e.cfg.Conditions[g.ConditionID]
		if !ok {
			return Outcome{}, fmt.Errorf("%w: condition %s", model.ErrRef, g.ConditionID)
		}
		node, err := expr.Parse(cond.Expr)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", model.ErrExpr, err)
		}
		pass, err := expr.EvalBool(node, evalCtx)
		if err != nil {
			return Outcome{}, err
		}
		if !pass {
			return Outcome{
				Passed:       false,
				FailedGuard:  g,
				Action:       g.OnFail.Kind,
				CompensateID: g.OnFail.CompensateSeq,
			}, nil
		}
	}
	return Outcome{Passed: true}, nil
}

// ApplyRetryAction resolves the "retry" action's interaction with the
// step's remaining retry budget: if attemptsRemaining is 0, retry
// degrades to abort (spec §4.7 action semantics: "if none remain, treat
// as abort").
func ApplyRetryAction(action model.GuardActionKind, attemptsRemaining int) model.GuardActionKind {
	if action == model.GuardActionRetry && attemptsRemaining <= 0 {
		return model.GuardActionAbort
	}
	return action
}
