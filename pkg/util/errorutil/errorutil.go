package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure independently of the transport.
type Kind string

const (
	KindInvalidInput Kind = "INVALID_INPUT"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindConflict     Kind = "CONFLICT"
	KindNotFound     Kind = "NOT_FOUND"
	KindInternal     Kind = "INTERNAL_ERROR"
)

// HTTPStatus maps a kind onto its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// InternalMessage is the only message ever shown for internal failures.
const InternalMessage = "Internal server error"

// DomainError standardizes application errors.
type DomainError struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(kind Kind, message string, err error) *DomainError {
	return &DomainError{Kind: kind, Message: message, HTTPStatus: kind.HTTPStatus(), Err: err}
}

func NewInvalidInput(message string) error {
	return NewDomainError(KindInvalidInput, message, nil)
}

func NewUnauthorized(message string) error {
	return NewDomainError(KindUnauthorized, message, nil)
}

func NewConflict(message string) error {
	return NewDomainError(KindConflict, message, nil)
}

func NewNotFound(message string) error {
	return NewDomainError(KindNotFound, message, nil)
}

// NewInternalError hides err behind a generic message; err is kept for logs.
func NewInternalError(err error) error {
	return NewDomainError(KindInternal, InternalMessage, err)
}

// NewInternalMessage is an internal failure with a caller-visible message.
func NewInternalMessage(message string, err error) error {
	return NewDomainError(KindInternal, message, err)
}

// ToDomainError converts generic errors to DomainError. Anything that is not
// already classified becomes an internal error.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return NewDomainError(KindInternal, InternalMessage, err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Kind == kind
	}
	return false
}
