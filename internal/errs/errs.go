package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can branch on structure
// instead of matching message text.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindConflict
	KindTransientStore
	KindStaleVersion
	KindConnectionLost
	KindShutdownTimeout
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransientStore:
		return "transient_store"
	case KindStaleVersion:
		return "stale_version"
	case KindConnectionLost:
		return "connection_lost"
	case KindShutdownTimeout:
		return "shutdown_timeout"
	default:
		return "internal"
	}
}

// Error is a structured application error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two *Error values by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Validation reports a rejected input. Nothing was mutated.
func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// NotFound reports a missing entity.
func NotFound(op, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

// Conflict reports an operation illegal in the current state.
func Conflict(op, message string) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: message}
}

// TransientStore wraps a store failure that is safe to retry.
func TransientStore(op string, err error) *Error {
	return &Error{Kind: KindTransientStore, Op: op, Err: err}
}

// StaleVersion reports a flush snapshot older than the live entry.
func StaleVersion(op string, snapshot, current uint64) *Error {
	return &Error{
		Kind:    KindStaleVersion,
		Op:      op,
		Message: fmt.Sprintf("snapshot version %d behind current %d", snapshot, current),
	}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the operation that produced err should
// be attempted again (store hiccups and stale flush snapshots).
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindTransientStore || k == KindStaleVersion
}
