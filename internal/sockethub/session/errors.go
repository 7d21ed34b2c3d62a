package session

import (
	"net/http"

	"github.com/fourks/sockethub/internal/common/apperrors"
)

var (
	// ErrSessionError is the base error for all session errors.
	ErrSessionError apperrors.Error = apperrors.New("error in processing session").SetStatusCode(http.StatusInternalServerError)

	// ErrSessionNotFound is returned by Get for an absent session when
	// creation is not requested.
	ErrSessionNotFound apperrors.Error = ErrSessionError.New("session not found").SetStatusCode(http.StatusNotFound)

	// ErrInvalidSessionID is returned for ids that cannot be used in a store key.
	ErrInvalidSessionID apperrors.Error = ErrSessionError.New("invalid session id").SetStatusCode(http.StatusBadRequest)

	// ErrStoreUnavailable wraps shared store failures.
	ErrStoreUnavailable apperrors.Error = ErrSessionError.New("session store unavailable").SetStatusCode(http.StatusServiceUnavailable).SetTemporary(true)

	// ErrInvalidRecord is returned when a stored record cannot be decoded.
	ErrInvalidRecord apperrors.Error = ErrSessionError.New("invalid session record")

	// ErrMissingEncryptionKey is returned when the dispatcher is started
	// without a key, or when secret session state is read or written before
	// the key has been received.
	ErrMissingEncryptionKey apperrors.Error = ErrSessionError.New("missing encryption key")

	// ErrInvalidConfig is returned by SetConfig for a missing namespace or key
	// and for values that do not encode as JSON.
	ErrInvalidConfig apperrors.Error = ErrSessionError.New("invalid session config").SetStatusCode(http.StatusBadRequest)

	// ErrRemoteStorageNotConfigured is returned by GetFile when the session
	// has no remoteStorage/default config.
	ErrRemoteStorageNotConfigured apperrors.Error = ErrSessionError.New("remoteStorage not configured").SetStatusCode(http.StatusPreconditionFailed)

	// ErrInvalidRemotePath is returned by GetFile for a module or path with
	// "." or ".." segments.
	ErrInvalidRemotePath apperrors.Error = ErrSessionError.New("invalid remoteStorage path").SetStatusCode(http.StatusBadRequest)

	// ErrRemoteFetchFailed covers transport errors and non-2xx responses.
	ErrRemoteFetchFailed apperrors.Error = ErrSessionError.New("remote fetch failed").SetStatusCode(http.StatusBadGateway).SetExpandError(true)

	// ErrManagerClosed is returned by Get and Subsystem after Close.
	ErrManagerClosed apperrors.Error = ErrSessionError.New("session manager closed")
)
