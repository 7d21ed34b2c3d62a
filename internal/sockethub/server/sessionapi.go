package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/fourks/sockethub/internal/common/httpx"
	"github.com/fourks/sockethub/internal/sockethub/session"
	"github.com/fourks/sockethub/internal/sockethub/subsystem"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SessionRsp describes one session.
type SessionRsp struct {
	ID         string `json:"id"`
	Platform   string `json:"platform"`
	Registered bool   `json:"registered"`
}

// CleanupReq is the body of POST /cleanup.
type CleanupReq struct {
	Sids []string `json:"sids"`
}

// SubsystemRsp reports one hosted platform.
type SubsystemRsp struct {
	Platform  string `json:"platform"`
	EncKeySet bool   `json:"encKeySet"`
	Sessions  int    `json:"sessions"`
}

// manager picks the manager named by ?platform=, or the primary one.
func (s *AdminServer) manager(r *http.Request) (*session.Manager, error) {
	platform := r.URL.Query().Get("platform")
	if platform == "" {
		return s.primary, nil
	}
	m, ok := s.managers[platform]
	if !ok {
		return nil, ErrUnknownPlatform.Msg("platform not hosted by this process: " + platform)
	}
	return m, nil
}

func (s *AdminServer) lookupSession(r *http.Request) (*session.Session, *session.Manager, error) {
	m, err := s.manager(r)
	if err != nil {
		return nil, nil, err
	}
	sess, appErr := m.Get(r.Context(), chi.URLParam(r, "sid"), false)
	if appErr != nil {
		return nil, nil, appErr
	}
	return sess, m, nil
}

func (s *AdminServer) listSessions(r *http.Request) (*httpx.Response, error) {
	m, err := s.manager(r)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: m.Sessions()}, nil
}

func (s *AdminServer) getSession(r *http.Request) (*httpx.Response, error) {
	sess, m, err := s.lookupSession(r)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &SessionRsp{ID: sess.ID(), Platform: m.Platform(), Registered: sess.IsRegistered()},
	}, nil
}

func (s *AdminServer) deleteSession(r *http.Request) (*httpx.Response, error) {
	m, err := s.manager(r)
	if err != nil {
		return nil, err
	}
	if err := m.Destroy(r.Context(), chi.URLParam(r, "sid")); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusNoContent}, nil
}

// getSessionConfig returns the config value, or the part of it selected by
// a gjson ?path=.
func (s *AdminServer) getSessionConfig(r *http.Request) (*httpx.Response, error) {
	sess, _, err := s.lookupSession(r)
	if err != nil {
		return nil, err
	}
	value := sess.GetConfig(chi.URLParam(r, "ns"), chi.URLParam(r, "key"))
	if p := r.URL.Query().Get("path"); p != "" {
		raw, goErr := json.Marshal(value)
		if goErr != nil {
			return nil, httpx.ErrApplicationError(goErr.Error())
		}
		res := gjson.GetBytes(raw, p)
		if !res.Exists() {
			return nil, ErrPathNotFound.Msg("config path not found: " + p)
		}
		value = res.Value()
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: value}, nil
}

// patchSessionConfig deep merges the JSON body into the config value. With
// ?path= the body is placed at that path first, so only the subtree it names
// changes.
func (s *AdminServer) patchSessionConfig(r *http.Request) (*httpx.Response, error) {
	sess, _, err := s.lookupSession(r)
	if err != nil {
		return nil, err
	}
	if r.Body == nil {
		return nil, httpx.ErrInvalidRequest("request body is required")
	}
	body, goErr := io.ReadAll(r.Body)
	if goErr != nil || !gjson.ValidBytes(body) {
		return nil, httpx.ErrUnableToParseReqData()
	}
	if p := r.URL.Query().Get("path"); p != "" {
		body, goErr = sjson.SetRawBytes([]byte(`{}`), p, body)
		if goErr != nil {
			return nil, httpx.ErrInvalidRequest("invalid path: " + goErr.Error())
		}
	}
	var patch any
	if goErr := json.Unmarshal(body, &patch); goErr != nil {
		return nil, httpx.ErrUnableToParseReqData()
	}
	ns, key := chi.URLParam(r, "ns"), chi.URLParam(r, "key")
	if err := sess.SetConfig(r.Context(), ns, key, patch); err != nil {
		return nil, err
	}
	log.Ctx(r.Context()).Info().Str("session_id", sess.ID()).Str("namespace", ns).Str("key", key).Msg("session config patched")
	return &httpx.Response{StatusCode: http.StatusOK, Response: sess.GetConfig(ns, key)}, nil
}

// postCleanup broadcasts a cleanup. Only a process hosting the dispatcher
// may send one.
func (s *AdminServer) postCleanup(r *http.Request) (*httpx.Response, error) {
	m, ok := s.managers[session.DispatcherPlatform]
	if !ok {
		return nil, subsystem.ErrNotDispatcher
	}
	req := &CleanupReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	if len(req.Sids) == 0 {
		return nil, httpx.ErrInvalidRequest("sids is required")
	}
	sub, err := m.Subsystem(r.Context())
	if err != nil {
		return nil, err
	}
	if err := sub.Cleanup(r.Context(), req.Sids); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusAccepted, Response: req}, nil
}

func (s *AdminServer) getSubsystem(r *http.Request) (*httpx.Response, error) {
	rsp := make([]SubsystemRsp, 0, len(s.opts.Managers))
	for _, m := range s.opts.Managers {
		rsp = append(rsp, SubsystemRsp{
			Platform:  m.Platform(),
			EncKeySet: m.EncKeySet(),
			Sessions:  len(m.Sessions()),
		})
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}
