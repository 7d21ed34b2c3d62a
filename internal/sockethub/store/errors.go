package store

import (
	"net/http"

	"github.com/fourks/sockethub/internal/common/apperrors"
)

var (
	// ErrStore is the base error for shared store operations.
	ErrStore = apperrors.New("shared store error").SetExpandError(true)

	// ErrStoreUnavailable is returned when the store cannot be reached. It is
	// flagged temporary so callers may retry.
	ErrStoreUnavailable = ErrStore.New("shared store unavailable").SetStatusCode(http.StatusServiceUnavailable).SetTemporary(true)

	// ErrKeyNotFound is returned by Get for absent keys.
	ErrKeyNotFound = ErrStore.New("key not found").SetStatusCode(http.StatusNotFound)

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = ErrStore.New("shared store closed")
)
