package jsruntime

import (
	"net/http"

	"github.com/fourks/sockethub/internal/common/apperrors"
)

var (
	ErrJSRuntime        = apperrors.New("jsruntime error")
	ErrJSRuntimeTimeout = ErrJSRuntime.New("jsruntime timeout")
	ErrInvalidModule    = ErrJSRuntime.New("invalid javascript module").SetStatusCode(http.StatusBadRequest).SetExpandError(true)
	ErrJSExecutionError = ErrJSRuntime.New("js execution error").SetStatusCode(http.StatusUnprocessableEntity).SetExpandError(true)
)
