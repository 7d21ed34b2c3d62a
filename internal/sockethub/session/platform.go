package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fourks/sockethub/internal/common/apperrors"
)

// PlatformSession is a Session scoped to one platform. Its config lives in
// the session under a hidden per-platform namespace, so platforms using the
// same namespace and key never collide.
type PlatformSession struct {
	session  *Session
	platform string
	logger   zerolog.Logger
}

// SessionID returns the id of the owning session.
func (p *PlatformSession) SessionID() string {
	return p.session.id
}

// Platform returns the platform this view is scoped to.
func (p *PlatformSession) Platform() string {
	return p.platform
}

func (p *PlatformSession) namespace(ns string) string {
	return "_platform:" + p.platform + ":" + ns
}

// SetConfig stores value under the platform's own copy of namespace. Merge
// rules are those of Session.SetConfig.
func (p *PlatformSession) SetConfig(ctx context.Context, namespace, key string, value any) apperrors.Error {
	if namespace == "" {
		return ErrInvalidConfig.Msg("namespace is required")
	}
	return p.session.SetConfig(ctx, p.namespace(namespace), key, value)
}

// GetConfig reads what SetConfig stored for this platform, or an empty
// object.
func (p *PlatformSession) GetConfig(namespace, key string) any {
	return p.session.GetConfig(p.namespace(namespace), key)
}

// GetFile fetches from the remoteStorage configured on the owning session.
func (p *PlatformSession) GetFile(ctx context.Context, module, path string) (*RemoteFile, apperrors.Error) {
	return p.session.GetFile(ctx, module, path)
}

// Logger returns a logger tagged with the session id and platform.
func (p *PlatformSession) Logger() *zerolog.Logger {
	return &p.logger
}

// Log is Info.
func (p *PlatformSession) Log(format string, args ...any) {
	p.logger.Info().Msgf(format, args...)
}

func (p *PlatformSession) Info(format string, args ...any) {
	p.logger.Info().Msgf(format, args...)
}

func (p *PlatformSession) Error(format string, args ...any) {
	p.logger.Error().Msgf(format, args...)
}

func (p *PlatformSession) Debug(format string, args ...any) {
	p.logger.Debug().Msgf(format, args...)
}

func (p *PlatformSession) Warn(format string, args ...any) {
	p.logger.Warn().Msgf(format, args...)
}
