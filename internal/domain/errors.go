package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest signals a malformed request. Wrapped by ValidationError.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized signals a missing or unknown API key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrStoreUnavailable signals a backing store failure.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrDependencyTimeout signals a dependency that exceeded its deadline.
	ErrDependencyTimeout = errors.New("dependency timeout")
	// ErrResourceExhausted signals pool backpressure.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrIndexUnavailable signals a vector index that is not built or not supported.
	ErrIndexUnavailable = errors.New("index unavailable")
)

// ValidationError describes a malformed request field. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidRequest.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidRequest.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// NewValidationError creates a validation error for the given field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Dependency names used in DependencyTimeoutError and health checks.
const (
	DependencyEmbedding = "embedding"
	DependencyStore     = "store"
	DependencyCache     = "cache"
)

// DependencyTimeoutError reports a dependency call that exceeded its deadline.
type DependencyTimeoutError struct {
	Dependency string
	Elapsed    time.Duration
	RetryAfter time.Duration
}

func (e *DependencyTimeoutError) Error() string {
	return fmt.Sprintf("%s: %s after %s", ErrDependencyTimeout.Error(), e.Dependency, e.Elapsed.Round(time.Millisecond))
}

func (e *DependencyTimeoutError) Unwrap() error { return ErrDependencyTimeout }

// ResourceExhaustedError reports a pool acquisition that timed out.
type ResourceExhaustedError struct {
	Resource string
	Waited   time.Duration
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s busy after %s", ErrResourceExhausted.Error(), e.Resource, e.Waited.Round(time.Millisecond))
}

func (e *ResourceExhaustedError) Unwrap() error { return ErrResourceExhausted }

// IndexUnavailableError reports a missing or unsupported vector index.
type IndexUnavailableError struct {
	Kind   string
	Reason string
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrIndexUnavailable.Error(), e.Kind, e.Reason)
}

func (e *IndexUnavailableError) Unwrap() error { return ErrIndexUnavailable }

// ErrorKind is the machine-readable error class returned to callers.
type ErrorKind string

// Error kinds.
const (
	KindValidation        ErrorKind = "validation_error"
	KindNotFound          ErrorKind = "not_found"
	KindRateLimited       ErrorKind = "rate_limited"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindDependencyTimeout ErrorKind = "dependency_timeout"
	KindDependencyError   ErrorKind = "dependency_error"
	KindIndexUnavailable  ErrorKind = "index_unavailable"
	KindInternal          ErrorKind = "internal_error"
)

// Kind classifies err into an ErrorKind. Order matters: a timeout wrapping a provider error is a timeout.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrVectorDimMismatch):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrDependencyTimeout):
		return KindDependencyTimeout
	case errors.Is(err, ErrIndexUnavailable):
		return KindIndexUnavailable
	case errors.Is(err, ErrEmbeddingProviderError), errors.Is(err, ErrStoreUnavailable):
		return KindDependencyError
	default:
		return KindInternal
	}
}

// Retryable reports whether a caller may retry the request as-is.
func Retryable(err error) bool {
	switch Kind(err) {
	case KindRateLimited, KindResourceExhausted, KindDependencyTimeout, KindDependencyError:
		return true
	default:
		return false
	}
}
