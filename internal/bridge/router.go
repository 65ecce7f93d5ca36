package bridge

import (
	"context"
	"sync"
)

// Handler consumes inbound events. Handlers run on the pump goroutine, in
// arrival order.
type Handler interface {
	HandleEvent(ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev Event)

// HandleEvent calls f(ev).
func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }

// Source produces inbound events.
type Source interface {
	Events() <-chan Event
}

// Router fans every event out to all registered handlers.
type Router struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewRouter returns a router dispatching to handlers in the given order.
func NewRouter(handlers ...Handler) *Router {
	return &Router{handlers: handlers}
}

// Add appends h; it sees events dispatched after Add returns.
func (r *Router) Add(h Handler) {
	r.mu.Lock()
	r.handlers = append(r.handlers, h)
	r.mu.Unlock()
}

// Dispatch hands ev to every handler synchronously, in registration order.
func (r *Router) Dispatch(ev Event) {
	r.mu.RLock()
	hs := r.handlers
	r.mu.RUnlock()
	for _, h := range hs {
		h.HandleEvent(ev)
	}
}

// Pump dispatches events from ch until it closes or ctx is done.
func (r *Router) Pump(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.Dispatch(ev)
		}
	}
}
