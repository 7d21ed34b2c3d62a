// Package server is the sockethub admin API: an operator surface over the
// session managers hosted by this process.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/fourks/sockethub/internal/common/middleware"
	"github.com/fourks/sockethub/internal/sockethub/protocols"
	"github.com/fourks/sockethub/internal/sockethub/session"
	"github.com/fourks/sockethub/internal/sockethub/store"
)

const defaultRequestTimeout = 30 * time.Second

type Options struct {
	// Managers are the session managers of the platforms run by this
	// process. The first one serves requests that name no platform, unless
	// a dispatcher manager is present.
	Managers       []*session.Manager
	Store          store.SharedStore
	Registry       *protocols.Registry // optional; serves GET /platforms
	TokenSecret    []byte              // when set, routes other than /ready and /version need a token
	HandleCORS     bool
	RequestTimeout time.Duration
	Trace          bool // print the route table on mount
}

// AdminServer routes admin API requests.
type AdminServer struct {
	Router   *chi.Mux
	opts     Options
	managers map[string]*session.Manager
	primary  *session.Manager
}

func CreateNewServer(opts Options) (*AdminServer, error) {
	if len(opts.Managers) == 0 {
		return nil, ErrNoManagers
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &AdminServer{
		Router:   chi.NewRouter(),
		opts:     opts,
		managers: make(map[string]*session.Manager, len(opts.Managers)),
		primary:  opts.Managers[0],
	}
	for _, m := range opts.Managers {
		s.managers[m.Platform()] = m
		if m.Platform() == session.DispatcherPlatform {
			s.primary = m
		}
	}
	return s, nil
}

// MountHandlers installs middleware and routes.
func (s *AdminServer) MountHandlers() {
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.PanicHandler)
	s.Router.Use(middleware.SetTimeout(s.opts.RequestTimeout))
	if s.opts.HandleCORS {
		s.Router.Use(s.HandleCORS)
	}
	s.mountResourceHandlers(s.Router)
	if s.opts.Trace {
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			log.Debug().Str("method", method).Str("route", route).Msg("admin route")
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Error().Err(err).Msg("error walking router")
		}
	}
}

func (s *AdminServer) mountResourceHandlers(r chi.Router) {
	r.Get("/version", s.getVersion)
	r.Get("/ready", s.getReadiness)
	r.Group(func(r chi.Router) {
		if len(s.opts.TokenSecret) > 0 {
			r.Use(AdminAuthMiddleware(s.opts.TokenSecret, s.primary.InstanceID()))
		}
		r.Route("/sessions", func(r chi.Router) {
			s.sessionRouter(r)
		})
		r.Method(http.MethodPost, "/cleanup", wrap(s.postCleanup))
		r.Method(http.MethodGet, "/subsystem", wrap(s.getSubsystem))
		r.Method(http.MethodGet, "/platforms", wrap(s.listPlatforms))
	})
}

// HandleCORS allows browser-based admin tools on any origin.
func (s *AdminServer) HandleCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization"},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}
