package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindPrecondition Kind = "precondition_failed"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindDependency   Kind = "dependency_failure"
	KindCompensation Kind = "compensation_failure"
	KindInternal     Kind = "internal"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrNoActiveVersion is returned when a function has no active version to serve.
var ErrNoActiveVersion = &Error{Kind: KindPrecondition, Msg: "no active version found"}

// Error carries a Kind so callers and the HTTP layer can classify failures
// without matching on message text.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Precondition(op, format string, args ...any) error {
	return &Error{Kind: KindPrecondition, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(op, format string, args ...any) error {
	return &Error{Kind: KindConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...), Err: ErrNotFound}
}

// Dependency wraps a failed store or substrate call. Msg is the context
// prefix, e.g. "failed to create backup policy".
func Dependency(op, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindDependency, Op: op, Msg: msg, Err: err}
}

func Compensation(op string, err error) error {
	return &Error{Kind: KindCompensation, Op: op, Msg: "compensating action failed", Err: err}
}

// KindOf returns the Kind of the outermost classified error in err's chain.
// Bare ErrNotFound from a store counts as KindNotFound.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || Is(err, KindNotFound)
}
