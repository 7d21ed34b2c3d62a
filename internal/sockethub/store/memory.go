package store

import (
	"context"
	"sync"
	"time"

	"github.com/fourks/sockethub/internal/common/eventbus"
)

const (
	memoryBufferSize     = 256
	memoryPublishTimeout = time.Second
)

// Memory is an in-process SharedStore. Every Manager sharing one Memory
// value behaves like processes sharing one Redis.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	bus    *eventbus.EventBus
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]byte),
		bus:  eventbus.New(),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound.Msg("key not found: " + key)
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrStoreClosed
	}
	_, ok := m.data[key]
	return ok, nil
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrStoreClosed
	}
	m.bus.Publish(channel, append([]byte(nil), payload...), memoryPublishTimeout)
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	events, unsubscribe := m.bus.Subscribe(channel, memoryBufferSize)
	sub := &memorySubscription{
		out:         make(chan []byte),
		done:        make(chan struct{}),
		unsubscribe: unsubscribe,
	}
	go sub.pump(events)
	return sub, nil
}

// Keys returns the stored keys. Used by tests and the admin API.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.bus.Shutdown()
	return nil
}

type memorySubscription struct {
	out         chan []byte
	done        chan struct{}
	unsubscribe func()
	once        sync.Once
}

func (s *memorySubscription) pump(events <-chan eventbus.Event) {
	defer close(s.out)
	for ev := range events {
		b, ok := ev.Data.([]byte)
		if !ok {
			continue
		}
		select {
		case s.out <- b:
		case <-s.done:
			return
		}
	}
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.unsubscribe()
	})
	return nil
}
