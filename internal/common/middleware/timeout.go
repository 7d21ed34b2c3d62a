package middleware

import (
	"context"
	"net/http"
	"time"
)

// SetTimeout bounds the request context. Handlers observe the deadline
// through ctx; store and subsystem calls made with it are cancelled.
func SetTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			w.Header().Set("X-Sockethub-Timeout", timeout.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
