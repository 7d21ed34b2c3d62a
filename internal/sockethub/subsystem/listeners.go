package subsystem

import (
	"context"
	"sync"
)

// Handler reacts to one received control message. Handlers run on the
// subsystem's receive goroutine, one message at a time.
type Handler func(ctx context.Context, msg *Message)

type listener struct {
	id      uint64
	handler Handler
}

// listenerTable maps verbs to handlers in registration order.
type listenerTable struct {
	mu     sync.RWMutex
	nextID uint64
	byVerb map[string][]listener
}

func newListenerTable() *listenerTable {
	return &listenerTable{byVerb: make(map[string][]listener)}
}

func (t *listenerTable) add(verb string, h Handler) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.byVerb[verb] = append(t.byVerb[verb], listener{id: id, handler: h})
	return func() { t.remove(verb, id) }
}

func (t *listenerTable) remove(verb string, id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ls := t.byVerb[verb]
	for i, l := range ls {
		if l.id == id {
			t.byVerb[verb] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

func (t *listenerTable) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byVerb = make(map[string][]listener)
}

// handlers returns a snapshot so handlers may add or remove listeners.
func (t *listenerTable) handlers(verb string) []Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ls := t.byVerb[verb]
	out := make([]Handler, len(ls))
	for i, l := range ls {
		out[i] = l.handler
	}
	return out
}

func (t *listenerTable) count(verb string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byVerb[verb])
}
