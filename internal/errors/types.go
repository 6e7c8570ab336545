package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures reported by the context store and the config
// evolution pipeline.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindInvalidTarget   Kind = "invalid_target"
	KindUpstream        Kind = "upstream"
	KindModelRejected   Kind = "model_rejected"
	KindInvalidProposal Kind = "invalid_proposal"
	KindBackupFailed    Kind = "backup_failed"
	KindApplyFailed     Kind = "apply_failed"
	KindIO              Kind = "io"
	KindInternal        Kind = "internal"
)

// Error is the structured failure returned to callers. Stage names the step
// that failed (e.g. "gate", "validate"); Details carries diagnostics that are
// safe to show an operator.
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by kind so callers can write
// errors.Is(err, apperrors.ErrNotFound).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	if other.Stage != "" && other.Stage != e.Stage {
		return false
	}
	return other.Kind == e.Kind
}

// WithDetail returns e after setting key on its details map.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrInvalidTarget   = &Error{Kind: KindInvalidTarget}
	ErrUpstream        = &Error{Kind: KindUpstream}
	ErrModelRejected   = &Error{Kind: KindModelRejected}
	ErrInvalidProposal = &Error{Kind: KindInvalidProposal}
	ErrBackupFailed    = &Error{Kind: KindBackupFailed}
	ErrApplyFailed     = &Error{Kind: KindApplyFailed}
	ErrIO              = &Error{Kind: KindIO}
)

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Validation reports malformed caller input.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// NotFound reports a missing resource of the given type.
func NotFound(resource, id string) *Error {
	return New(KindNotFound, "%s %q not found", resource, id).WithDetail("id", id)
}

// IO wraps a storage fault.
func IO(cause error, format string, args ...any) *Error {
	return Wrap(KindIO, cause, format, args...)
}

// KindOf extracts the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Kind
	}
	return KindInternal
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return nil, false
}

// HTTPStatus maps a kind onto the status code the HTTP layer reports.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindInvalidTarget:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindModelRejected, KindInvalidProposal:
		return http.StatusUnprocessableEntity
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsTransientHTTPStatus reports whether an upstream status code is worth
// resubmitting later. Used only to label upstream failures; nothing in the
// service retries on its own.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
