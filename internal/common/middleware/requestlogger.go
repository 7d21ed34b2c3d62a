// Package middleware provides the HTTP middleware used by the admin server:
// request logging with request ids, panic recovery and request timeouts.
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fourks/sockethub/internal/common/httpx"
	"github.com/fourks/sockethub/internal/common/logtrace"
	"github.com/fourks/sockethub/internal/common/uuid"
)

const RequestIDHeader = "X-Sockethub-Request-ID"

// RequestLogger assigns a request id, attaches a logger carrying it to the
// request context, and logs the start and completion of every request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := newRequestId()

		ctx := logtrace.WithRequestId(r.Context(), requestID)
		ctx = log.With().Str("request_id", requestID).Logger().WithContext(ctx)
		w.Header().Set(RequestIDHeader, requestID)

		log.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_ip", r.RemoteAddr).
			Msg("incoming request")

		rw := httpx.NewResponseWriter(w)
		defer func() {
			log.Ctx(ctx).Info().
				Int("status", rw.Status()).
				Int64("bytes", rw.Size()).
				Str("duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds())).
				Msg("request completed")
		}()
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

func newRequestId() string {
	u, err := uuid.NewRandom()
	if err == nil {
		return u.String()
	}
	return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
}
