package subsystem

import (
	"net/http"

	"github.com/fourks/sockethub/internal/common/apperrors"
)

var (
	// ErrSubsystem is the base error for the control protocol.
	ErrSubsystem = apperrors.New("subsystem error").SetStatusCode(http.StatusInternalServerError)

	// ErrInvalidControlMessage marks payloads that are dropped on receipt.
	ErrInvalidControlMessage = ErrSubsystem.New("invalid control message").SetStatusCode(http.StatusBadRequest)

	// ErrNotDispatcher is returned when a non-dispatcher process tries to
	// broadcast a cleanup.
	ErrNotDispatcher = ErrSubsystem.New("only the dispatcher may broadcast cleanup").SetStatusCode(http.StatusForbidden)

	// ErrPublish and ErrSubscribe wrap shared store failures on the control
	// channel. Both are temporary.
	ErrPublish   = ErrSubsystem.New("failed to publish control message").SetStatusCode(http.StatusServiceUnavailable).SetTemporary(true)
	ErrSubscribe = ErrSubsystem.New("failed to subscribe to control channel").SetStatusCode(http.StatusServiceUnavailable).SetTemporary(true)

	// ErrKeyTimeout is returned by RequestEncKey when no dispatcher answered
	// within the key timeout.
	ErrKeyTimeout = ErrSubsystem.New("timed out waiting for encryption key").SetStatusCode(http.StatusGatewayTimeout).SetTemporary(true)

	// ErrClosed is returned by Send after Close.
	ErrClosed = ErrSubsystem.New("subsystem closed")
)
