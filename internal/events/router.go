package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handler reacts to one decoded event inside this process.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Router fans a decoded event out to the local handlers subscribed to its discriminator.
type Router struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *zap.SugaredLogger
}

func NewRouter(log *zap.SugaredLogger) *Router {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Router{handlers: make(map[string][]Handler), log: log}
}

// Subscribe appends h to the handlers of eventType. Handlers run in subscription order.
func (r *Router) Subscribe(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], h)
}

// Publish runs every handler for evt in order. The first handler error stops the fan-out
// and is returned; handlers that already ran are not rolled back.
func (r *Router) Publish(ctx context.Context, evt Event) error {
	eventType := evt.EventType()

	r.mu.RLock()
	handlers := append([]Handler(nil), r.handlers[eventType]...)
	r.mu.RUnlock()

	if len(handlers) == 0 {
		r.log.Debugf("no local handlers for %s (event %s)", eventType, evt.Header().ID)
		return nil
	}
	for i, h := range handlers {
		if err := h.Handle(ctx, evt); err != nil {
			r.log.Errorw("local handler failed",
				"event_type", eventType, "event_id", evt.Header().ID, "handler", i, "error", err)
			return fmt.Errorf("handle %s: %w", eventType, err)
		}
	}
	return nil
}

// HandlerCount returns how many handlers are subscribed to eventType.
func (r *Router) HandlerCount(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}
