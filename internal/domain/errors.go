package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for classification via errors.Is. Every relay error wraps exactly one.
var (
	ErrConfig          = errors.New("configuration error")
	ErrUpstreamStorage = errors.New("upstream storage error")
	ErrUpstreamService = errors.New("upstream service error")
	ErrAuth            = errors.New("unauthorized")
	ErrInput           = errors.New("invalid input")
	ErrInternal        = errors.New("internal error")

	// ErrNotFound is returned by repositories; the relay converts it to an input error.
	ErrNotFound = errors.New("not found")
)

// Error is the structured error returned across the relay boundary.
type Error struct {
	Kind    error  // one of the sentinels above
	Op      string // e.g. "storage.upload", "runpod.submit"
	Message string // safe to show to the caller
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// ConfigError reports a missing or invalid piece of configuration.
func ConfigError(op, message string) error {
	return &Error{Kind: ErrConfig, Op: op, Message: message}
}

// StorageError wraps a failure talking to object storage.
func StorageError(op string, cause error) error {
	return &Error{Kind: ErrUpstreamStorage, Op: op, Message: fmt.Sprintf("%s: %v", op, cause), Cause: cause}
}

// ServiceError wraps a failure talking to the remote inference service.
func ServiceError(op string, cause error) error {
	return &Error{Kind: ErrUpstreamService, Op: op, Message: fmt.Sprintf("%s: %v", op, cause), Cause: cause}
}

// AuthError rejects the caller.
func AuthError(message string) error {
	return &Error{Kind: ErrAuth, Message: message}
}

// InputError rejects the request payload.
func InputError(message string) error {
	return &Error{Kind: ErrInput, Message: message}
}

// InternalError wraps a job store failure.
func InternalError(op string, cause error) error {
	return &Error{Kind: ErrInternal, Op: op, Message: fmt.Sprintf("%s: %v", op, cause), Cause: cause}
}

// HTTPStatus maps an error to its response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUpstreamService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
