// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

const bearerPrefix = "Bearer "

// BearerToken returns middleware that requires an Authorization header
// carrying token. An empty token disables the check so local and seeded
// deployments can run without credentials. Comparison is constant-time.
func BearerToken(token string, logger log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	if token == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, bearerPrefix) {
				reject(w, "missing or malformed authorization header")
				logger.Warn(r.Context(), "rejected request", "reason", "missing token", "path", r.URL.Path)
				return
			}

			got := []byte(strings.TrimSpace(auth[len(bearerPrefix):]))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				reject(w, "invalid token")
				logger.Warn(r.Context(), "rejected request", "reason", "invalid token", "path", r.URL.Path)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="reviewqueue"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
