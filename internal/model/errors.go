// Package model defines the in-memory configuration and runtime types shared
// across the orchestration core: profiles, commands, sequences, guards,
// policies, resources, events, handlers, templates, and the runtime results
// the executor produces while walking them.
package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the closed failure taxonomy of spec §7. Components
// wrap these with errors.Is-compatible context rather than inventing new
// error types per package, the way core/errors.go does for the teacher
// framework.
var (
	ErrRef             = errors.New("unknown reference")
	ErrParamMissing    = errors.New("required parameter unresolved")
	ErrExpr            = errors.New("expression evaluation error")
	ErrGuardFail       = errors.New("guard check failed")
	ErrTimeout         = errors.New("timeout exceeded")
	ErrTransport       = errors.New("transport call failed")
	ErrResourceTimeout = errors.New("resource acquire timed out")
	ErrCancelled       = errors.New("cancelled")
	ErrHandlerOverflow = errors.New("handler queue overflow")
)

// Kind identifies which bucket of the closed taxonomy an OrchestrationError
// belongs to. It is distinct from the sentinel errors above so that callers
// can switch on it without a chain of errors.Is calls.
type Kind string

const (
	KindConfig          Kind = "ConfigError"
	KindRef             Kind = "RefError"
	KindParamMissing    Kind = "ParamMissing"
	KindExpr            Kind = "ExprError"
	KindGuardFail       Kind = "GuardFail"
	KindTimeout         Kind = "Timeout"
	KindTransport       Kind = "TransportError"
	KindResourceTimeout Kind = "ResourceTimeout"
	KindCancelled       Kind = "Cancelled"
	KindHandlerOverflow Kind = "HandlerOverflow"
)

// OrchestrationError carries structured context (operation, entity id) about
// a failure from the closed taxonomy. Modeled on core.FrameworkError: a thin
// wrapper that supports errors.Is/As via Unwrap rather than a hierarchy of
// concrete error types per component.
type OrchestrationError struct {
	Op      string // e.g. "executor.dispatchStep", "guard.check"
	Kind    Kind
	ID      string // sequence, step, guard, or resource id involved
	Message string
	Err     error
}

func (e *OrchestrationError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *OrchestrationError) Unwrap() error { return e.Err }

// NewError builds an OrchestrationError wrapping one of the sentinel errors
// declared above (or any error) with operation/kind/id context.
func NewError(op string, kind Kind, id string, err error) *OrchestrationError {
	return &OrchestrationError{Op: op, Kind: kind, ID: id, Err: err}
}

// IsRetryable reports whether an error kind is one the policy engine should
// spend a retry attempt on, mirroring core.IsRetryable's grouping of
// transient-vs-permanent failures.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport) || errors.Is(err, ErrResourceTimeout)
}

// ConfigError is one parse/validate failure, collected (never thrown
// singly) by the Parser/Loader and Validator per spec §4.1/§4.2.
type ConfigError struct {
	Path    string // dotted path into the document, e.g. "sequences.boot.steps[2]"
	Kind    string // e.g. "duplicate_id", "unknown_version", "unbalanced_if"
	Message string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Kind, e.Message)
}

// ValidationError aggregates every violation the Validator finds; it never
// stops at the first error (spec §4.2).
type ValidationError struct {
	Errors []ConfigError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d configuration errors, first: %s", len(e.Errors), e.Errors[0].Error())
}

func (e *ValidationError) Add(ce ConfigError) {
	e.Errors = append(e.Errors, ce)
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}
