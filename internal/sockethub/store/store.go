// Package store is the shared key-value and publish/subscribe store that
// sockethub processes use to persist sessions and exchange control messages.
// Redis is the production backend; Postgres and an in-process memory store
// implement the same contract.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/fourks/sockethub/internal/sockethub/config"
)

// SharedStore is the store contract the session subsystem depends on.
type SharedStore interface {
	// Get returns the value at key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Del removes keys; absent keys are ignored.
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the subscription is active, so messages
	// published after it returns are delivered.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

// Subscription delivers the payloads published on one channel. Messages is
// closed when the subscription ends.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

const keyPrefix = "sockethub"

// SessionKey is the key holding a session's record. Its existence is the
// existence test for the session.
func SessionKey(instanceID, sessionID string) string {
	return strings.Join([]string{keyPrefix, instanceID, "session", sessionID, "_internal"}, ":")
}

// ControlChannel is the broadcast channel shared by every process of an
// instance.
func ControlChannel(instanceID string) string {
	return strings.Join([]string{keyPrefix, instanceID, "subsystem"}, ":")
}

// Open connects to the backend selected in cfg.
func Open(ctx context.Context, cfg *config.Config) (SharedStore, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return NewMemory(), nil
	case config.StorePostgres:
		return NewPostgres(ctx, cfg.Store.PostgresDSN)
	default:
		return NewRedis(ctx, RedisOptions{Addr: cfg.Redis.Addr()})
	}
}

// connectRetry pings a freshly opened backend until it answers.
func connectRetry(ctx context.Context, backend string, ping func() error, attempts uint) error {
	return retry.Do(
		ping,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Str("backend", backend).Uint("attempt", n+1).Msg("shared store not reachable, retrying")
		}),
	)
}
