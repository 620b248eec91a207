// Package apperrors carries the error kinds the HTTP boundary translates into statuses.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the boundary layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUpstream
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream_failure"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a tagged failure. Code follows the "<operation>.<reason>" convention.
type Error struct {
	kind   Kind
	code   string
	detail string
	err    error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Code() string {
	return e.code
}

// Detail is the client-facing message, when one was supplied.
func (e *Error) Detail() string {
	return e.detail
}

// New builds an Error with a code derived from operation and reason.
func New(kind Kind, operation, reason string, cause error) *Error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

// WithDetail attaches a client-facing message.
func (e *Error) WithDetail(detail string) *Error {
	e.detail = detail
	return e
}

func Validation(operation, reason string, cause error) error {
	return New(KindValidation, operation, reason, cause)
}

func NotFound(operation, reason string, cause error) error {
	return New(KindNotFound, operation, reason, cause)
}

func Internal(operation, reason string, cause error) error {
	return New(KindInternal, operation, reason, cause)
}

// KindOf reports the kind of the first *Error in the chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.kind
	}
	return KindInternal
}

// CodeOf reports the code of the first *Error in the chain.
func CodeOf(err error) string {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.code
	}
	return ""
}

// DetailOf reports the client-facing detail of the first *Error in the chain.
func DetailOf(err error) string {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.detail
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
