package server

import (
	"net/http"

	"github.com/fourks/sockethub/internal/common/apperrors"
)

var (
	ErrServer apperrors.Error = apperrors.New("admin server error").SetStatusCode(http.StatusInternalServerError)

	ErrNoManagers      apperrors.Error = ErrServer.New("no session managers to serve")
	ErrUnknownPlatform apperrors.Error = ErrServer.New("platform not hosted by this process").SetStatusCode(http.StatusNotFound)
	ErrPathNotFound    apperrors.Error = ErrServer.New("config path not found").SetStatusCode(http.StatusNotFound)
	ErrStoreNotReady   apperrors.Error = ErrServer.New("shared store not reachable").SetStatusCode(http.StatusServiceUnavailable)
	ErrTokenGeneration apperrors.Error = ErrServer.New("unable to create admin token")
	ErrInvalidToken    apperrors.Error = ErrServer.New("invalid admin token").SetStatusCode(http.StatusUnauthorized)
)
