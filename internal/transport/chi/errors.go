package chi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrank/internal/domain"
	"github.com/kailas-cloud/vecrank/internal/logger"
	"github.com/kailas-cloud/vecrank/internal/usecase/ratelimit"
)

// errorResponse is the structured error body. Raw internal errors never reach it.
type errorResponse struct {
	ErrorKind domain.ErrorKind `json:"error_kind"`
	Message   string           `json:"message"`
	RequestID string           `json:"request_id,omitempty"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, r *http.Request, err error) bool

// kindStatus maps each error kind to its HTTP status.
var kindStatus = map[domain.ErrorKind]int{
	domain.KindValidation:        http.StatusBadRequest,
	domain.KindNotFound:          http.StatusNotFound,
	domain.KindRateLimited:       http.StatusTooManyRequests,
	domain.KindUnauthorized:      http.StatusUnauthorized,
	domain.KindResourceExhausted: http.StatusServiceUnavailable,
	domain.KindDependencyTimeout: http.StatusGatewayTimeout,
	domain.KindDependencyError:   http.StatusBadGateway,
	domain.KindIndexUnavailable:  http.StatusServiceUnavailable,
	domain.KindInternal:          http.StatusInternalServerError,
}

// defaultErrorHandlers run in order; the first match writes the response.
func defaultErrorHandlers(retryAfter time.Duration) []errorHandler {
	return []errorHandler{
		rateLimitHandler,
		dependencyTimeoutHandler,
		resourceExhaustedHandler(retryAfter),
		validationHandler,
		sentinelHandler(domain.ErrNotFound),
		sentinelHandler(domain.ErrUnauthorized),
		sentinelHandler(domain.ErrIndexUnavailable),
		sentinelHandler(domain.ErrEmbeddingProviderError),
		sentinelHandler(domain.ErrStoreUnavailable),
	}
}

func rateLimitHandler(w http.ResponseWriter, r *http.Request, err error) bool {
	var le *ratelimit.Error
	if !errors.As(err, &le) {
		return false
	}
	setRetryAfter(w, le.RetryAfter)
	writeError(w, r, domain.KindRateLimited, domain.ErrRateLimited.Error())
	return true
}

func dependencyTimeoutHandler(w http.ResponseWriter, r *http.Request, err error) bool {
	var te *domain.DependencyTimeoutError
	if !errors.As(err, &te) {
		return false
	}
	setRetryAfter(w, te.RetryAfter)
	writeError(w, r, domain.KindDependencyTimeout, te.Error())
	return true
}

func resourceExhaustedHandler(retryAfter time.Duration) errorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) bool {
		if !errors.Is(err, domain.ErrResourceExhausted) {
			return false
		}
		setRetryAfter(w, retryAfter)
		writeError(w, r, domain.KindResourceExhausted, domain.ErrResourceExhausted.Error())
		return true
	}
}

func validationHandler(w http.ResponseWriter, r *http.Request, err error) bool {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		writeError(w, r, domain.KindValidation, ve.Error())
		return true
	}
	if errors.Is(err, domain.ErrVectorDimMismatch) {
		writeError(w, r, domain.KindValidation, domain.ErrVectorDimMismatch.Error())
		return true
	}
	return false
}

// sentinelHandler returns an errorHandler that matches a single sentinel and replies with its text.
func sentinelHandler(sentinel error) errorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		msg := sentinel.Error()
		var iue *domain.IndexUnavailableError
		if errors.As(err, &iue) {
			msg = iue.Error()
		}
		writeError(w, r, domain.Kind(err), msg)
		return true
	}
}

// publicSentinels are the error texts safe to show clients verbatim.
var publicSentinels = []error{
	domain.ErrNotFound,
	domain.ErrRateLimited,
	domain.ErrEmbeddingProviderError,
	domain.ErrStoreUnavailable,
	domain.ErrDependencyTimeout,
	domain.ErrResourceExhausted,
	domain.ErrIndexUnavailable,
}

// publicMessage renders err for a response body without internal detail.
func publicMessage(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	if errors.Is(err, domain.ErrVectorDimMismatch) {
		return domain.ErrVectorDimMismatch.Error()
	}
	for _, sentinel := range publicSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.Kind(err)
	annotate(r, func(e *event) { e.errorKind = string(kind) })

	log := logger.FromContext(r.Context())
	for _, h := range s.errorHandlers {
		if h(w, r, err) {
			log.Warn("Request failed", zap.String("error_kind", string(kind)), zap.Error(err))
			return
		}
	}
	log.Error("Internal error", zap.Error(err))
	writeError(w, r, domain.KindInternal, "internal error")
}

func writeError(w http.ResponseWriter, r *http.Request, kind domain.ErrorKind, message string) {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{ErrorKind: kind, Message: message, RequestID: requestID(r)})
}

// setRetryAfter writes the hint in whole seconds, rounded up.
func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
