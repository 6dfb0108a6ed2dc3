// Package services implements the registry's business logic on top of the
// catalog repositories, the blob store and the package index: the publish
// saga, catalog queries and download resolution. Every failure leaves this
// package as an *Error carrying one of the kinds below.
package services

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrValidationFailed        = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrOwnershipConflict       = errors.New("ownership conflict")
	ErrVersionAlreadyPublished = errors.New("version already published")
	ErrUnknownDependency       = errors.New("unknown dependency")
	ErrPayloadTooLarge         = errors.New("payload too large")
	ErrUploadFailed            = errors.New("upload failed")
	ErrIndexingFailed          = errors.New("indexing failed")
	ErrInternal                = errors.New("internal error")
)

// Error is a typed service failure. Message is safe to show to clients for
// every kind except the internal ones (UploadFailed, IndexingFailed,
// Internal); Err keeps the underlying cause for logs.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Internal reports whether the kind is one whose details must not reach clients.
func (e *Error) Internal() bool {
	return e.Kind == ErrUploadFailed || e.Kind == ErrIndexingFailed || e.Kind == ErrInternal
}

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind error, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// outcomeLabel names the error kind for metric labels.
func outcomeLabel(err error) string {
	var serr *Error
	if !errors.As(err, &serr) {
		return "internal"
	}
	switch serr.Kind {
	case ErrInvalidRequest:
		return "invalid_request"
	case ErrValidationFailed:
		return "validation_failed"
	case ErrNotFound:
		return "not_found"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrOwnershipConflict:
		return "ownership_conflict"
	case ErrVersionAlreadyPublished:
		return "version_already_published"
	case ErrUnknownDependency:
		return "unknown_dependency"
	case ErrPayloadTooLarge:
		return "payload_too_large"
	case ErrUploadFailed:
		return "upload_failed"
	case ErrIndexingFailed:
		return "indexing_failed"
	default:
		return "internal"
	}
}
