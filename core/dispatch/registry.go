package dispatch

import (
	"sync"

	"github.com/codewandler/clstr-go/core/sdkerr"
)

// Handler processes one WireEvent payload. Handlers are borrowed references
// supplied by the caller of Subscribe; the dispatcher invokes them but does
// not own them (§3).
type Handler func(event WireEventView) error

// Registry holds eventType -> handler(s) subscriptions. Subscription
// multiplicity is transport-characterized (§4.4): persistent-bidi backends
// allow exactly one handler per eventType (a second registration fails with
// sdkerr.ErrDuplicateSubscription); the HTTP backend allows many, all
// invoked sequentially per event in registration order.
type Registry struct {
	allowMultiple bool

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewRegistry creates a Registry. allowMultiple selects the HTTP-style
// multi-subscriber policy; false selects the persistent-bidi single-handler
// policy.
func NewRegistry(allowMultiple bool) *Registry {
	return &Registry{
		allowMultiple: allowMultiple,
		handlers:      make(map[string][]Handler),
	}
}

// Subscribe registers h for eventType. Returns sdkerr.ErrDuplicateSubscription
// if the registry disallows multiple handlers per type and one is already
// registered.
func (r *Registry) Subscribe(eventType string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.handlers[eventType]
	if len(existing) > 0 && !r.allowMultiple {
		return sdkerr.ErrDuplicateSubscription
	}
	r.handlers[eventType] = append(existing, h)
	return nil
}

// Unsubscribe removes every handler registered for eventType.
func (r *Registry) Unsubscribe(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, eventType)
}

// Count returns the number of handlers registered for eventType.
func (r *Registry) Count(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}

// snapshot returns a copy of the current eventType -> handlers map. Dispatch
// iterates this snapshot rather than the live map, so concurrent
// Subscribe/Unsubscribe calls never race with an in-flight dispatch (§5).
func (r *Registry) snapshot() map[string][]Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]Handler, len(r.handlers))
	for k, v := range r.handlers {
		cp := make([]Handler, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
