package channel

import (
	"sync"

	"proofcanvas/domain/collab"
)

// Handler receives one inbound envelope
type Handler func(env collab.Envelope)

type subscriber struct {
	id      uint64
	handler Handler
}

// Registry dispatches envelopes to subscribers keyed by message type.
// Handlers run outside the registry lock, in subscription order. Once
// closed, no handler starts and Subscribe is a no-op.
type Registry struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[collab.MessageType][]subscriber
	closed   bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[collab.MessageType][]subscriber)}
}

// Subscription is returned by Subscribe. Unsubscribe is idempotent.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. Safe to call more than once and from
// inside the handler itself.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Subscribe registers h for envelopes of type t
func (r *Registry) Subscribe(t collab.MessageType, h Handler) *Subscription {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &Subscription{cancel: func() {}}
	}
	r.next++
	id := r.next
	r.handlers[t] = append(r.handlers[t], subscriber{id: id, handler: h})
	r.mu.Unlock()

	return &Subscription{cancel: func() { r.remove(t, id) }}
}

func (r *Registry) remove(t collab.MessageType, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.handlers[t]
	for i, s := range subs {
		if s.id == id {
			// copy so an in-flight dispatch keeps its snapshot
			next := make([]subscriber, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(r.handlers, t)
			} else {
				r.handlers[t] = next
			}
			return
		}
	}
}

// Dispatch delivers env to every handler of its type and returns how many ran
func (r *Registry) Dispatch(env collab.Envelope) int {
	r.mu.RLock()
	subs := r.handlers[env.Type]
	r.mu.RUnlock()

	ran := 0
	for _, s := range subs {
		if r.isClosed() {
			break
		}
		s.handler(env)
		ran++
	}
	return ran
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Count returns the number of handlers for t
func (r *Registry) Count(t collab.MessageType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[t])
}

// Close drops every handler and stops any dispatch in progress before its
// next handler. Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.handlers = make(map[collab.MessageType][]subscriber)
}
