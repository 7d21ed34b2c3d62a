package protocols

import (
	"net/http"

	"github.com/fourks/sockethub/internal/common/apperrors"
)

var (
	ErrProtocol = apperrors.New("protocol error")

	// ErrInvalidDescriptor is returned when a platform descriptor does not
	// match the descriptor schema.
	ErrInvalidDescriptor = ErrProtocol.New("invalid platform descriptor").SetStatusCode(http.StatusBadRequest).SetExpandError(true)

	// ErrUnknownPlatform is returned when a descriptor names a platform that
	// is not enabled in PLATFORMS.
	ErrUnknownPlatform = ErrProtocol.New("platform not enabled").SetStatusCode(http.StatusNotFound)
)
