package shared

import (
	"errors"
	"fmt"
)

// Kind classifies ledger errors so transports can map them and callers know
// whether a retry can ever succeed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation marks malformed input rejected before any write.
	KindValidation
	// KindConflict marks duplicate numbers, over-application and double voids.
	KindConflict
	// KindReferential marks unknown or in-use references.
	KindReferential
	// KindState marks operations illegal for the current status.
	KindState
	// KindNotFound marks missing resources.
	KindNotFound
	// KindFatal marks broken internal invariants. Never repaired silently.
	KindFatal
)

// Error is the typed error returned by every ledger operation.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		if e.msg == "" {
			return e.err.Error()
		}
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Is matches the kind sentinels below, so errors.Is(err, ErrConflict) works
// for any conflict regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.msg == "" && t.err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrConflict    = &Error{Kind: KindConflict}
	ErrReferential = &Error{Kind: KindReferential}
	ErrState       = &Error{Kind: KindState}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrFatal       = &Error{Kind: KindFatal}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Validationf builds a KindValidation error.
func Validationf(format string, args ...any) error {
	return newError(KindValidation, format, args...)
}

// Conflictf builds a KindConflict error.
func Conflictf(format string, args ...any) error {
	return newError(KindConflict, format, args...)
}

// Referentialf builds a KindReferential error.
func Referentialf(format string, args ...any) error {
	return newError(KindReferential, format, args...)
}

// Statef builds a KindState error.
func Statef(format string, args ...any) error {
	return newError(KindState, format, args...)
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

// Fatalf builds a KindFatal error for broken internal invariants.
func Fatalf(format string, args ...any) error {
	return newError(KindFatal, format, args...)
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	e := newError(kind, format, args...)
	e.err = err
	return e
}

// KindOf extracts the kind from err, KindUnknown when untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
