package httpx

import (
	"net/http"
)

// ResponseWriter wraps an http.ResponseWriter to remember the status and
// the body size of the response. A second WriteHeader is dropped.
type ResponseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	if rw, ok := w.(*ResponseWriter); ok {
		return rw
	}
	return &ResponseWriter{ResponseWriter: w}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if rw.status != 0 {
		return
	}
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

func (rw *ResponseWriter) Written() bool { return rw.status != 0 }

// Status returns the written status, or 200 if nothing was written yet.
func (rw *ResponseWriter) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// Size is the number of body bytes written.
func (rw *ResponseWriter) Size() int64 { return rw.size }

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *ResponseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
