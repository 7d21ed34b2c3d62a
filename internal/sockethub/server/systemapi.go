package server

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fourks/sockethub/internal/common/httpx"
)

// PlatformRsp lists the verbs a registered platform accepts.
type PlatformRsp struct {
	Name  string   `json:"name"`
	Verbs []string `json:"verbs"`
	Local bool     `json:"local"`
}

// readinessKey is probed to check the shared store answers.
const readinessKey = "sockethub:readiness"

// GetVersionRsp reports server and API versions. Compatible is set when the
// caller passes ?client=<version>.
type GetVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
	Compatible    *bool  `json:"compatible,omitempty"`
}

func (s *AdminServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &GetVersionRsp{
		ServerVersion: "Sockethub: " + Version,
		ApiVersion:    APIVersion,
	}
	if client := r.URL.Query().Get("client"); client != "" {
		ok := IsVersionCompatible(client)
		rsp.Compatible = &ok
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

func (s *AdminServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("Readiness check")
	if s.opts.Store != nil {
		if _, err := s.opts.Store.Exists(r.Context(), readinessKey); err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("shared store not ready")
			httpx.SendError(w, ErrStoreNotReady.Err(err))
			return
		}
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

func (s *AdminServer) listPlatforms(r *http.Request) (*httpx.Response, error) {
	rsp := []PlatformRsp{}
	if s.opts.Registry != nil {
		for _, d := range s.opts.Registry.Descriptors() {
			_, local := s.managers[d.Name]
			rsp = append(rsp, PlatformRsp{Name: d.Name, Verbs: d.VerbNames(), Local: local})
		}
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}
