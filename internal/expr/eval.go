package expr

import (
	"fmt"
	"time"

	"github.com/Homiakus/motto/internal/model"
)

// Context is the read-only evaluation context an expression may observe:
// identifier lookups and the fixed built-in functions (spec §4.3). The
// executor and event bus supply concrete implementations backed by
// ExecutionContext vars, last-known transport status, and marker
// timestamps; nothing else is reachable from inside an expression.
type Context interface {
	// Lookup resolves a dotted identifier path against the context's
	// variables (e.g. payload.code, context.profile).
	Lookup(path []string) (model.Value, bool)
	// Status returns the last known status value for key, and whether one
	// exists.
	Status(key string) (model.Value, bool)
	// Elapsed returns the duration since marker was last recorded, and
	// whether the marker exists.
	Elapsed(marker string) (time.Duration, bool)
	// Count returns the current value of a named counter.
	Count(key string) (float64, bool)
	// Has reports whether key is present in the context (used by has()).
	Has(key string) bool
	// Now returns the evaluator clock's current instant.
	Now() time.Time
}

// EvalError is the typed error ExprError wraps (spec §7 ExprError): every
// failure mode the grammar can produce is represented, not a bare string,
// so callers can distinguish "undefined identifier" from "division by
// zero" without parsing messages.
type EvalError struct {
	Reason string // "undefined_identifier", "div_by_zero", "type_mismatch", "unknown_function", "overflow", "bounded_time_exceeded"
	Detail string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func undefinedErr(name string) error {
	return fmt.Errorf("%w: %v", model.ErrExpr, &EvalError{Reason: "undefined_identifier", Detail: name})
}

func typeErr(detail string) error {
	return fmt.Errorf("%w: %v", model.ErrExpr, &EvalError{Reason: "type_mismatch", Detail: detail})
}

// maxEvalSteps bounds a single Eval call; the grammar has no loops or
// recursion a document author can control, but this is cheap insurance
// for deeply nested parenthesized expressions from a malformed config.
const maxEvalSteps = 100000

type evaluator struct {
	ctx   Context
	steps int
}

// Eval walks a pre-parsed AST against ctx and returns its value as one of
// float64, string, or bool. Parsing (Parse) and evaluation are separate
// steps, so one parsed AST can be evaluated many times; the current
// callers (guard checks, if steps, event filters) parse the expression
// again on every evaluation.
func Eval(n Node, ctx Context) (model.Value, error) {
	ev := &evaluator{ctx: ctx}
	return ev.eval(n)
}

// EvalBool is a convenience wrapper for the common case (conditions,
// guards, event filters) where the expression must type-check to boolean
// (spec §4.2 item 6).
func EvalBool(n Node, ctx Context) (bool, error) {
	v, err := Eval(n, ctx)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeErr(fmt.Sprintf("expected bool result, got %T", v))
	}
	return b, nil
}

func (ev *evaluator) eval(n Node) (model.Value, error) {
	ev.steps++
	if ev.steps > maxEvalSteps {
		return nil, fmt.Errorf("%w: %v", model.ErrExpr, &EvalError{Reason: "bounded_time_exceeded"})
	}
	switch t := n.(type) {
	case NumberLit:
		return t.Value, nil
	case StringLit:
		return t.Value, nil
	case BoolLit:
		return t.Value, nil
	case IdentPath:
		v, ok := ev.ctx.Lookup(t.Parts)
		if !ok {
			return nil, undefinedErr(joinPath(t.Parts))
		}
		return v, nil
	case UnaryOp:
		return ev.evalUnary(t)
	case BinaryOp:
		return ev.evalBinary(t)
	case Call:
		return ev.evalCall(t)
	default:
		return nil, typeErr(fmt.Sprintf("unknown node type %T", n))
	}
}

func (ev *evaluator) evalUnary(n UnaryOp) (model.Value, error) {
	v, err := ev.eval(n.Expr)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "-":
		f, ok := asFloat(v)
		if !ok {
			return nil, typeErr("unary '-' requires numeric operand")
		}
		return -f, nil
	case "not":
		b, ok := v.(bool)
		if !ok {
			return nil, typeErr("'not' requires boolean operand")
		}
		return !b, nil
	default:
		return nil, typeErr("unknown unary operator " + n.Op)
	}
}

func (ev *evaluator) evalBinary(n BinaryOp) (model.Value, error) {
	switch n.Op {
	case "and":
		l, err := ev.eval(n.Left)
		if err != nil {
			return nil, err
		}
		lb, ok := l.(bool)
		if !ok {
			return nil, typeErr("'and' requires boolean operands")
		}
		if !lb {
			return false, nil
		}
		r, err := ev.eval(n.Right)
		if err != nil {
			return nil, err
		}
		rb, ok := r.(bool)
		if !ok {
			return nil, typeErr("'and' requires boolean operands")
		}
		return rb, nil
	case "or":
		l, err := ev.eval(n.Left)
		if err != nil {
			return nil, err
		}
		lb, ok := l.(bool)
		if !ok {
			return nil, typeErr("'or' requires boolean operands")
		}
		if lb {
			return true, nil
		}
		r, err := ev.eval(n.Right)
		if err != nil {
			return nil, err
		}
		rb, ok := r.(bool)
		if !ok {
			return nil, typeErr("'or' requires boolean operands")
		}
		return rb, nil
	}

	l, err := ev.eval(n.Left)
	if err != nil {
		return nil, err
	}
	r, err := ev.eval(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "+", "-", "*", "/":
		lf, lok := asFloat(l)
		rf, rok := asFloat(r)
		if !lok || !rok {
			return nil, typeErr(fmt.Sprintf("arithmetic requires numeric operands, got %T and %T", l, r))
		}
		switch n.Op {
		case "+":
			return lf + rf, nil
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, fmt.Errorf("%w: %v", model.ErrExpr, &EvalError{Reason: "div_by_zero"})
			}
			result := lf / rf
			if isInfOrNaN(result) {
				return nil, fmt.Errorf("%w: %v", model.ErrExpr, &EvalError{Reason: "overflow"})
			}
			return result, nil
		}
	case "==":
		return valuesEqual(l, r), nil
	case "!=":
		return !valuesEqual(l, r), nil
	case "<", "<=", ">", ">=":
		lf, lok := asFloat(l)
		rf, rok := asFloat(r)
		if !lok || !rok {
			return nil, typeErr(fmt.Sprintf("comparison requires numeric operands, got %T and %T", l, r))
		}
		switch n.Op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	return nil, typeErr("unknown binary operator " + n.Op)
}

func (ev *evaluator) evalCall(n Call) (model.Value, error) {
	switch n.Name {
	case "status":
		key, err := ev.stringArg(n, 0)
		if err != nil {
			return nil, err
		}
		v, ok := ev.ctx.Status(key)
		if !ok {
			return nil, undefinedErr("status(" + key + ")")
		}
		return v, nil
	case "now":
		if len(n.Args) != 0 {
			return nil, typeErr("now() takes no arguments")
		}
		return float64(ev.ctx.Now().UnixMilli()), nil
	case "elapsed":
		marker, err := ev.stringArg(n, 0)
		if err != nil {
			return nil, err
		}
		d, ok := ev.ctx.Elapsed(marker)
		if !ok {
			return nil, undefinedErr("elapsed(" + marker + ")")
		}
		return d.Seconds(), nil
	case "count":
		key, err := ev.stringArg(n, 0)
		if err != nil {
			return nil, err
		}
		c, ok := ev.ctx.Count(key)
		if !ok {
			return nil, undefinedErr("count(" + key + ")")
		}
		return c, nil
	case "has":
		key, err := ev.stringArg(n, 0)
		if err != nil {
			return nil, err
		}
		return ev.ctx.Has(key), nil
	default:
		return nil, fmt.Errorf("%w: %v", model.ErrExpr, &EvalError{Reason: "unknown_function", Detail: n.Name})
	}
}

func (ev *evaluator) stringArg(n Call, idx int) (string, error) {
	if idx >= len(n.Args) {
		return "", typeErr(fmt.Sprintf("%s() requires %d argument(s)", n.Name, idx+1))
	}
	v, err := ev.eval(n.Args[idx])
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", typeErr(fmt.Sprintf("%s() argument %d must be a string literal", n.Name, idx))
	}
	return s, nil
}

func asFloat(v model.Value) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func valuesEqual(a, b model.Value) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}
	return false
}

func isInfOrNaN(f float64) bool {
	return f != f || f > maxFloat || f < -maxFloat
}

const maxFloat = 1.7976931348623157e+308

func joinPath(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "." + p
	}
	return out
}
