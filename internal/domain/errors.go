package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrKind classifies engine failures. Each kind maps to exactly one HTTP
// status so handlers never invent their own codes.
type ErrKind int

const (
	// ErrValidation - missing or malformed field, negative quantity,
	// non-positive ratio, unknown event type.
	ErrValidation ErrKind = iota
	// ErrLegality - the replay would drive a position negative
	// (sell-without-holdings), so the write is rejected and rolled back.
	ErrLegality
	// ErrDuplicate - colliding externalId on the same account.
	ErrDuplicate
	// ErrNotFound - unknown id on read, edit or delete.
	ErrNotFound
	// ErrDependency - FX provider or store unavailable.
	ErrDependency
	// ErrInternal - unexpected invariant violation.
	ErrInternal
)

// Error is a classified engine error.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf builds an ErrValidation error.
func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// Legalityf builds an ErrLegality error.
func Legalityf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrLegality, Msg: fmt.Sprintf(format, args...)}
}

// Duplicatef builds an ErrDuplicate error.
func Duplicatef(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrDuplicate, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds an ErrNotFound error.
func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Dependencyf builds an ErrDependency error wrapping the upstream failure.
func Dependencyf(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrDependency, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Internalf builds an ErrInternal error wrapping the cause.
func Internalf(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInternal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to ErrInternal.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// HTTPStatus maps an error to its HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrValidation, ErrLegality:
		return http.StatusBadRequest
	case ErrDuplicate:
		return http.StatusConflict
	case ErrNotFound:
		return http.StatusNotFound
	case ErrDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
