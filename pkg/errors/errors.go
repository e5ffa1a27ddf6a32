// Package errors defines the categorized error kinds surfaced by convergo operations.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for reporting and exit handling.
type Kind string

const (
	// KindNotSetUp indicates the state directories are absent.
	KindNotSetUp Kind = "not_set_up"

	// KindConfigMalformed indicates a schema violation in a generation, manager, order or settings file.
	KindConfigMalformed Kind = "config_malformed"

	// KindMissingFile indicates an optional file is absent. Callers normally absorb it into defaults.
	KindMissingFile Kind = "missing_file"

	// KindManagerCommandFailed indicates a non-zero exit from an add/remove/sync/upgrade/list command.
	KindManagerCommandFailed Kind = "manager_command_failed"

	// KindHookFailed indicates a hook executable exited non-zero.
	KindHookFailed Kind = "hook_failed"

	// KindRange indicates a rollback offset or generation index out of bounds.
	KindRange Kind = "range"

	// KindLockHeld indicates another process holds the mutation lock.
	KindLockHeld Kind = "lock_held"

	// KindVersionStore indicates the underlying history tool failed.
	KindVersionStore Kind = "version_store"

	// KindNoGeneration indicates there is no committed generation to act on.
	KindNoGeneration Kind = "no_generation"

	// KindPolicyDenied indicates a policy rule rejected a generation.
	KindPolicyDenied Kind = "policy_denied"

	// KindInternal is used for everything else.
	KindInternal Kind = "internal"
)

// Error is a classified error with operation context.
type Error struct {
	// Kind is the error category.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Op is the operation being performed when the error occurred.
	Op string

	// Resource names the manager, file or snapshot involved, if any.
	Resource string

	// Err is the underlying cause.
	Err error

	// Details carries additional context for logging.
	Details map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Resource != "" && e.Op != "" {
		msg = fmt.Sprintf("%s (resource=%s, op=%s)", msg, e.Resource, e.Op)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	} else if e.Op != "" {
		msg = fmt.Sprintf("%s (op=%s)", msg, e.Op)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so errors.Is(err, &Error{Kind: KindLockHeld}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a kind and message. A nil err yields nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf wraps err with a kind and formatted message. A nil err yields nil.
func Wrapf(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithOp adds operation context.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithResource adds resource context.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithCause sets the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// WithDetail adds a detail field.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the outermost classified error in the chain,
// or KindInternal if none is present.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return stderrors.Is(err, &Error{Kind: kind})
}

// As finds the first classified error in the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}
