package escrow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the engine can surface. Kinds are
// locally detected, synchronous and non-retryable by the engine itself;
// retry policy, if any, belongs to the caller.
type ErrorKind uint8

const (
	KindInvalidArgument ErrorKind = iota + 1
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindInvalidState
	KindDeadlineViolation
	KindAlreadyExists
	KindRailFailure
	KindStorageFailure
)

// String renders the canonical kind name used in RPC payloads and metrics
// labels.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindInvalidState:
		return "invalid_state"
	case KindDeadlineViolation:
		return "deadline_violation"
	case KindAlreadyExists:
		return "already_exists"
	case KindRailFailure:
		return "rail_failure"
	case KindStorageFailure:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// Error is the tagged failure value returned by every engine operation. It
// carries the taxonomy kind plus the payment id and principal involved, so
// callers can render a precise message.
type Error struct {
	Kind      ErrorKind
	Op        string
	Payment   uint64
	HasID     bool
	Principal string
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.HasID {
		return fmt.Sprintf("escrow %s: payment %d: %s: %s", e.Op, e.Payment, e.Kind, msg)
	}
	return fmt.Sprintf("escrow %s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind extracts the taxonomy kind from an engine error, or zero when the
// error did not originate from the engine.
func Kind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether the error carries the given taxonomy kind.
func IsKind(err error, kind ErrorKind) bool {
	return Kind(err) == kind
}

func failf(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func failID(kind ErrorKind, op string, id uint64, msg string) *Error {
	return &Error{Kind: kind, Op: op, Payment: id, HasID: true, Msg: msg}
}

func failCaller(kind ErrorKind, op string, id uint64, caller Address, msg string) *Error {
	return &Error{Kind: kind, Op: op, Payment: id, HasID: true, Principal: fmt.Sprintf("%x", caller), Msg: msg}
}

func wrapID(kind ErrorKind, op string, id uint64, err error) *Error {
	return &Error{Kind: kind, Op: op, Payment: id, HasID: true, Err: err}
}

func wrap(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
