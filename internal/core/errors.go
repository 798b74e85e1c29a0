package core

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Error codes for domain errors.
const (
	ErrCodeNotFound       = "not_found"
	ErrCodeNotAuthorized  = "not_authorized"
	ErrCodeInvalidContent = "invalid_content"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeStorage        = "storage_error"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeInternal       = "internal_error"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotAuthorized  = errors.New("not authorized")
	ErrInvalidContent = errors.New("invalid content")
	ErrBadRequest     = errors.New("bad request")
	ErrStorage        = errors.New("storage unavailable")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(code, msg string, err error) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}

func notFound(msg string) *CoreError {
	return coreError(ErrCodeNotFound, msg, ErrNotFound)
}

func notAuthorized(msg string) *CoreError {
	return coreError(ErrCodeNotAuthorized, msg, ErrNotAuthorized)
}

func invalidContent(msg string) *CoreError {
	return coreError(ErrCodeInvalidContent, msg, ErrInvalidContent)
}

func badRequest(msg string) *CoreError {
	return coreError(ErrCodeBadRequest, msg, ErrBadRequest)
}

// storageError keeps the cause reachable through errors.Is while reporting a
// generic message to clients.
func storageError(op string, cause error) *CoreError {
	return coreError(ErrCodeStorage, "message storage unavailable", fmt.Errorf("%s: %w: %w", op, ErrStorage, cause))
}

// fromStore classifies a store error: store.ErrNotFound becomes NotFound with
// msg, anything else is a StorageError.
func fromStore(op, msg string, err error) *CoreError {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(msg)
	}
	return storageError(op, err)
}

// AsCoreError converts any error into a CoreError suitable for the wire.
func AsCoreError(err error) *CoreError {
	if err == nil {
		return nil
	}
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	return coreError(ErrCodeInternal, "internal error", err)
}

// BadRequestError reports a malformed command.
func BadRequestError(msg string) *CoreError {
	return badRequest(msg)
}

// RateLimitedError reports a connection exceeding its command rate.
func RateLimitedError() *CoreError {
	return coreError(ErrCodeRateLimited, "too many requests", nil)
}
