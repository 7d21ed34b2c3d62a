package store

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisOptions configure NewRedis.
type RedisOptions struct {
	Addr            string
	Password        string
	DB              int
	ConnectAttempts uint // default 5
}

// Redis is the SharedStore backed by a Redis server.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and pings the server, retrying with backoff.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.ConnectAttempts == 0 {
		opts.ConnectAttempts = 5
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	err := connectRetry(ctx, "redis", func() error {
		return client.Ping(ctx).Err()
	}, opts.ConnectAttempts)
	if err != nil {
		client.Close()
		return nil, ErrStoreUnavailable.MsgErr("unable to connect to redis at "+opts.Addr, err)
	}
	log.Debug().Str("addr", opts.Addr).Msg("connected to redis")
	return &Redis{client: client}, nil
}

func redisError(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrStoreClosed
	}
	return ErrStoreUnavailable.Err(err)
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound.Msg("key not found: " + key)
	}
	if err != nil {
		return nil, redisError(err)
	}
	return b, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return redisError(err)
	}
	return nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return redisError(err)
	}
	return nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, redisError(err)
	}
	return n > 0, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return redisError(err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, channel)
	// wait for the subscribe confirmation so later publishes are not missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, redisError(err)
	}
	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
