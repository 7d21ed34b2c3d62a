package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/fourks/sockethub/internal/common/httpx"
)

// PanicHandler turns a handler panic into a logged 500. A response that has
// already started is left as is. http.ErrAbortHandler is re-raised so the
// server aborts the connection.
func PanicHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := httpx.NewResponseWriter(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			log.Ctx(r.Context()).Error().
				Interface("panic", rec).
				Bytes("stack_trace", debug.Stack()).
				Str("path", r.URL.Path).
				Msg("admin handler panicked")
			if !rw.Written() {
				httpx.ErrApplicationError("unable to process request").Send(rw)
			}
		}()
		next.ServeHTTP(rw, r)
	})
}
