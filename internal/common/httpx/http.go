// Package httpx holds the request parsing and JSON response helpers used by
// the admin API handlers.
package httpx

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/fourks/sockethub/internal/common/apperrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GetRequestData decodes a JSON request body into data. Only POST, PUT and
// PATCH carry bodies.
func GetRequestData(r *http.Request, data any) error {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil || r.Body == http.NoBody {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response is what a RequestHandler returns on success.
type Response struct {
	StatusCode  int
	Response    any
	ContentType string
}

// RequestHandler handles a request and returns a response or an error.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp adapts a RequestHandler to http.HandlerFunc. Errors are mapped
// to their status codes; apperrors without a status become 500.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			sendAnyError(w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		if rsp.StatusCode == http.StatusNoContent {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		switch rsp.ContentType {
		case "", "application/json":
			SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response)
		case "text/plain":
			s, _ := rsp.Response.(string)
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(rsp.StatusCode)
			w.Write([]byte(s))
		default:
			ErrApplicationError("unsupported response type").Send(w)
		}
	}
}

func sendAnyError(w http.ResponseWriter, err error) {
	if httperror, ok := err.(*Error); ok {
		httperror.Send(w)
		return
	}
	if appErr, ok := apperrors.As(err); ok {
		SendError(w, appErr)
		return
	}
	ErrApplicationError(err.Error()).Send(w)
}
