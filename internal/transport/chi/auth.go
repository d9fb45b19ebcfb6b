package chi

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/kailas-cloud/vecrank/internal/domain"
	"github.com/kailas-cloud/vecrank/internal/usecase/telemetry"
)

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":      {},
	"/health/live": {},
	"/metrics":     {},
}

type apiKeyCtxKey struct{}

// BearerAuthMiddleware returns a middleware that validates Bearer tokens.
// If apiKeys is empty, authentication is disabled (pass-through).
func BearerAuthMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	validKeys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			validKeys = append(validKeys, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		// Auth disabled, pass everything through
		if len(validKeys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, r, domain.KindUnauthorized, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(auth, bearerPrefix) {
				writeError(w, r, domain.KindUnauthorized, "authorization header must use Bearer scheme")
				return
			}

			token := []byte(auth[len(bearerPrefix):])
			if !knownKey(validKeys, token) {
				writeError(w, r, domain.KindUnauthorized, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyCtxKey{}, string(token))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func knownKey(keys [][]byte, token []byte) bool {
	found := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare(k, token) == 1 {
			found = true
		}
	}
	return found
}

// callerIdentity is the rate limit key: a fingerprint of the API key, else the remote IP.
// chi's RealIP middleware has already rewritten RemoteAddr from proxy headers.
func callerIdentity(r *http.Request) string {
	if key, ok := r.Context().Value(apiKeyCtxKey{}).(string); ok && key != "" {
		return "key:" + telemetry.Fingerprint(key)[:16]
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
