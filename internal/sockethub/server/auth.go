package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/fourks/sockethub/internal/common/apperrors"
	"github.com/fourks/sockethub/internal/common/httpx"
)

const (
	AuthHeaderPrefix = "Bearer "

	tokenIssuer = "sockethub"
	tokenUse    = "admin"
)

// CreateAdminToken signs an admin API token for the instance audience.
func CreateAdminToken(secret []byte, audience string, ttl time.Duration) (string, time.Time, apperrors.Error) {
	if len(secret) == 0 {
		return "", time.Time{}, ErrTokenGeneration.Msg("no token secret configured")
	}
	now := time.Now()
	expiry := now.Add(ttl)
	claims := jwt.MapClaims{
		"token_use": tokenUse,
		"iss":       tokenIssuer,
		"aud":       []string{audience},
		"exp":       jwt.NewNumericDate(expiry),
		"iat":       jwt.NewNumericDate(now),
		"nbf":       jwt.NewNumericDate(now.Add(-2 * time.Minute)), // 2-minute skew buffer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, ErrTokenGeneration.MsgErr("unable to sign token", err)
	}
	return signed, expiry, nil
}

// ValidateAdminToken checks the signature, time window, issuer and audience.
func ValidateAdminToken(secret []byte, audience, tokenString string) apperrors.Error {
	if tokenString == "" {
		return ErrInvalidToken.Msg("empty token")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return ErrInvalidToken.Err(err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims["token_use"] != tokenUse {
		return ErrInvalidToken.Msg("not an admin token")
	}
	return nil
}

// AdminAuthMiddleware rejects requests without a valid admin bearer token.
func AdminAuthMiddleware(secret []byte, audience string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, AuthHeaderPrefix) {
				log.Ctx(ctx).Warn().Msg("missing or invalid authorization header")
				httpx.ErrUnAuthorized("missing or invalid authorization header").Send(w)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, AuthHeaderPrefix))
			if err := ValidateAdminToken(secret, audience, token); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("token validation failed")
				httpx.ErrUnAuthorized("invalid authorization").Send(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
