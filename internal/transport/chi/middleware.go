package chi

import (
	"context"
	"net/http"
	"regexp"
	"time"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrank/internal/domain"
	"github.com/kailas-cloud/vecrank/internal/logger"
	"github.com/kailas-cloud/vecrank/internal/usecase/ratelimit"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

var requestIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]{1,128}$`)

// requestIDMiddleware keeps a well-formed client X-Request-ID or generates a UUID.
// The id is stored under chi's key so middleware.GetReqID works downstream.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !requestIDRegex.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), chiMiddleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(r *http.Request) string {
	return chiMiddleware.GetReqID(r.Context())
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(log *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					log.Error("Panic recovered",
						zap.Any("panic", rvr),
						zap.String("request_id", requestID(r)),
						zap.Stack("stacktrace"),
					)
					writeError(w, r, domain.KindInternal, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// event collects request facts that handlers learn and the canonical log line reports.
type event struct {
	caller    string
	errorKind string
	fromCache bool
	results   int
}

type eventKey struct{}

// annotate updates the request's wide event, if any.
func annotate(r *http.Request, fn func(e *event)) {
	if e, ok := r.Context().Value(eventKey{}).(*event); ok {
		fn(e)
	}
}

// wideEventMiddleware emits one canonical log line per request. Query text is never logged.
func wideEventMiddleware(log *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := requestID(r)

			reqLogger := log.With(zap.String("request_id", id))
			ev := &event{}
			ctx := logger.ContextWithLogger(r.Context(), reqLogger)
			ctx = context.WithValue(ctx, eventKey{}, ev)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			route := "unknown"
			if rc := gochi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.Int("response_bytes", ww.BytesWritten()),
				zap.Bool("from_cache", ev.fromCache),
			}
			if ev.caller != "" {
				fields = append(fields, zap.String("caller", ev.caller))
			}
			if ev.errorKind != "" {
				fields = append(fields, zap.String("error_kind", ev.errorKind))
			}
			if ev.results > 0 {
				fields = append(fields, zap.Int("results", ev.results))
			}
			reqLogger.Info("http_request", fields...)
		})
	}
}

// rateLimitMiddleware rejects callers over their limit before any handler runs.
func rateLimitMiddleware(limiter ratelimit.Limiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := callerIdentity(r)
			annotate(r, func(e *event) { e.caller = caller })

			if err := limiter.Allow(r.Context(), caller); err != nil {
				annotate(r, func(e *event) { e.errorKind = string(domain.KindRateLimited) })
				rateLimitHandler(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
