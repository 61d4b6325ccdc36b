// Package apperr classifies failures of the scheduling services so callers
// can tell a missing record from a broken one without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind string

const (
	// KindNotFound: no overlay or mastery record exists for the key.
	KindNotFound Kind = "not_found"
	// KindIntegrity: the record exists but its curriculum reference is missing
	// and needs a backfill.
	KindIntegrity Kind = "integrity"
	// KindValidation: structurally malformed input or a stored value rejected
	// by the persistence schema.
	KindValidation Kind = "validation"
	// KindUpstream: the document store was unreachable, denied the request,
	// or returned malformed data.
	KindUpstream Kind = "upstream"
	// KindConflict: a write raced with another writer and was rejected.
	KindConflict Kind = "conflict"
)

// Sentinels for errors.Is matching. Any *Error of the same kind matches.
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrIntegrity  = &Error{Kind: KindIntegrity}
	ErrValidation = &Error{Kind: KindValidation}
	ErrUpstream   = &Error{Kind: KindUpstream}
	ErrConflict   = &Error{Kind: KindConflict}
)

// Error carries the kind of failure and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// E builds an *Error for op wrapping err.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error for op with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
