package vecrank

import "github.com/kailas-cloud/vecrank/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound               = domain.ErrNotFound
	ErrInvalidRequest         = domain.ErrInvalidRequest
	ErrVectorDimMismatch      = domain.ErrVectorDimMismatch
	ErrRateLimited            = domain.ErrRateLimited
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
	ErrStoreUnavailable       = domain.ErrStoreUnavailable
	ErrDependencyTimeout      = domain.ErrDependencyTimeout
	ErrResourceExhausted      = domain.ErrResourceExhausted
	ErrIndexUnavailable       = domain.ErrIndexUnavailable
)

// ErrorKind classifies err the way the HTTP API reports it in error_kind.
func ErrorKind(err error) string {
	return string(domain.Kind(err))
}

// Retryable reports whether the same call may succeed later.
func Retryable(err error) bool {
	return domain.Retryable(err)
}
