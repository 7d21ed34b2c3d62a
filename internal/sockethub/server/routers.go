package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fourks/sockethub/internal/common/httpx"
)

// ResponseHandlerParam binds a handler to a method and path.
type ResponseHandlerParam struct {
	Method  string
	Path    string
	Handler httpx.RequestHandler
}

func wrap(h httpx.RequestHandler) http.HandlerFunc {
	return httpx.WrapHttpRsp(h)
}

func (s *AdminServer) sessionRouter(r chi.Router) {
	handlers := []ResponseHandlerParam{
		{Method: http.MethodGet, Path: "/", Handler: s.listSessions},
		{Method: http.MethodGet, Path: "/{sid}", Handler: s.getSession},
		{Method: http.MethodDelete, Path: "/{sid}", Handler: s.deleteSession},
		{Method: http.MethodGet, Path: "/{sid}/config/{ns}/{key}", Handler: s.getSessionConfig},
		{Method: http.MethodPatch, Path: "/{sid}/config/{ns}/{key}", Handler: s.patchSessionConfig},
	}
	for _, h := range handlers {
		r.Method(h.Method, h.Path, wrap(h.Handler))
	}
}
