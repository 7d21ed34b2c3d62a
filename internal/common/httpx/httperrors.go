package httpx

import (
	"net/http"

	"github.com/fourks/sockethub/internal/common/apperrors"
)

// Error is an HTTP error response.
type Error struct {
	Description string `json:"description"`
	StatusCode  int    `json:"http_status_code"`
}

type errorRsp struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
}

// Failure is the result code carried by every error response.
const Failure int = 0

// Send writes the error as a JSON body.
func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	body, err := json.Marshal(&errorRsp{Result: Failure, Error: e.Description})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Unable to parse error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	w.Write(body)
}

func (e *Error) Error() string {
	return e.Description
}

// SendError writes an application error using its status code.
func SendError(w http.ResponseWriter, err apperrors.Error) {
	if err == nil {
		return
	}
	statusCode := err.StatusCode()
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	(&Error{StatusCode: statusCode, Description: err.ErrorAll()}).Send(w)
}

func ErrReqMethodNotSupported() *Error {
	return &Error{
		Description: "request method not supported",
		StatusCode:  http.StatusMethodNotAllowed,
	}
}

func ErrUnableToParseReqData() *Error {
	return &Error{
		Description: "unable to parse request data",
		StatusCode:  http.StatusBadRequest,
	}
}

// ErrApplicationError is a 500 with an optional description.
func ErrApplicationError(str ...string) *Error {
	e := &Error{
		Description: "application error",
		StatusCode:  http.StatusInternalServerError,
	}
	if len(str) > 0 && str[0] != "" {
		e.Description += ": " + str[0]
	}
	return e
}

func ErrInvalidRequest(str ...string) *Error {
	e := &Error{
		Description: "invalid request",
		StatusCode:  http.StatusBadRequest,
	}
	if len(str) > 0 && str[0] != "" {
		e.Description = str[0]
	}
	return e
}

func ErrUnAuthorized(str string) *Error {
	return &Error{
		Description: str,
		StatusCode:  http.StatusUnauthorized,
	}
}

func ErrForbidden(str string) *Error {
	return &Error{
		Description: str,
		StatusCode:  http.StatusForbidden,
	}
}

func ErrRequestTimeout() *Error {
	return &Error{
		Description: "request timed out",
		StatusCode:  http.StatusServiceUnavailable,
	}
}
