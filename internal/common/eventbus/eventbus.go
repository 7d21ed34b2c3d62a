// Package eventbus is an in-process publish/subscribe bus. It backs the
// memory shared store, where it stands in for Redis channels: topics are
// ':'-separated names and a subscription may use '*' for one segment.
package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a published payload together with the topic it was sent on.
type Event struct {
	Topic string
	Data  any
}

// Subscriber owns one buffered delivery channel.
type Subscriber struct {
	ID      string
	Topic   string
	Channel chan Event
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// TimedSend delivers event, waiting at most timeout for buffer space.
func (s *Subscriber) TimedSend(event Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.Channel <- event:
		return true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s.Channel <- event:
		return true
	case <-t.C:
		return false
	}
}

// Close cancels the subscriber and closes its channel. Safe to call twice.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.cancel()
		close(s.Channel)
	}
}

// EventBus routes published events to matching subscribers.
type EventBus struct {
	sync.RWMutex
	subscribers map[string]map[string]*Subscriber // pattern -> id -> subscriber
	counter     uint64
}

func New() *EventBus {
	return &EventBus{
		subscribers: make(map[string]map[string]*Subscriber),
	}
}

// Subscribe registers interest in topic and returns the delivery channel and
// an unsubscribe func. The channel is closed on unsubscribe or Shutdown.
func (bus *EventBus) Subscribe(topic string, bufferSize int) (<-chan Event, func()) {
	id := fmt.Sprintf("sub-%d", atomic.AddUint64(&bus.counter, 1))
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscriber{
		ID:      id,
		Topic:   topic,
		Channel: make(chan Event, bufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	bus.Lock()
	if _, ok := bus.subscribers[topic]; !ok {
		bus.subscribers[topic] = make(map[string]*Subscriber)
	}
	bus.subscribers[topic][id] = sub
	bus.Unlock()

	unsubscribe := func() {
		bus.Lock()
		defer bus.Unlock()
		if subMap, ok := bus.subscribers[topic]; ok {
			if s, ok := subMap[id]; ok {
				s.Close()
				delete(subMap, id)
				if len(subMap) == 0 {
					delete(bus.subscribers, topic)
				}
			}
		}
	}
	return sub.Channel, unsubscribe
}

// Publish delivers data to every subscriber whose pattern matches topic and
// returns how many received it. Subscribers that stay full for longer than
// timeout miss the event.
func (bus *EventBus) Publish(topic string, data any, timeout time.Duration) int {
	event := Event{Topic: topic, Data: data}
	delivered := 0

	bus.RLock()
	defer bus.RUnlock()
	for pattern, subMap := range bus.subscribers {
		if !matchTopic(pattern, topic) {
			continue
		}
		for _, sub := range subMap {
			if sub.ctx.Err() != nil {
				continue
			}
			if sub.TimedSend(event, timeout) {
				delivered++
			}
		}
	}
	return delivered
}

// Shutdown closes all subscribers.
func (bus *EventBus) Shutdown() {
	bus.Lock()
	defer bus.Unlock()
	for _, subs := range bus.subscribers {
		for _, sub := range subs {
			sub.Close()
		}
	}
	bus.subscribers = make(map[string]map[string]*Subscriber)
}

// matchTopic matches ':'-separated segments, with '*' matching any single
// segment and a lone '*' matching everything.
func matchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	if pattern == "*" || pattern == topic {
		return true
	}
	patternParts := strings.Split(pattern, ":")
	topicParts := strings.Split(topic, ":")
	if len(patternParts) != len(topicParts) {
		return false
	}
	for i := range patternParts {
		if patternParts[i] != "*" && patternParts[i] != topicParts[i] {
			return false
		}
	}
	return true
}
