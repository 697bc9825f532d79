package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage"
)

type handlerFunc func(ctx context.Context, w storage.ProjectionWriter, evt event.Event) error

// Router dispatches events to projection handlers by type. Typed handlers
// registered via HandleProjection receive a decoded payload.
type Router struct {
	handlers map[event.Type]handlerFunc
	types    []event.Type
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[event.Type]handlerFunc)}
}

// Route applies evt through its handler. Types without a handler are no-ops
// so older binaries tolerate events written by newer ones.
func (r *Router) Route(ctx context.Context, w storage.ProjectionWriter, evt event.Event) error {
	h, ok := r.handlers[evt.Type]
	if !ok {
		return nil
	}
	return h(ctx, w, evt)
}

// HandledTypes returns all registered event types in registration order.
func (r *Router) HandledTypes() []event.Type {
	return append([]event.Type(nil), r.types...)
}

// HandleProjection registers a handler that receives the decoded payload.
func HandleProjection[P any](r *Router, t event.Type, fn func(ctx context.Context, w storage.ProjectionWriter, evt event.Event, payload P) error) {
	r.register(t, func(ctx context.Context, w storage.ProjectionWriter, evt event.Event) error {
		var payload P
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", t, err)
		}
		return fn(ctx, w, evt, payload)
	})
}

func (r *Router) register(t event.Type, h handlerFunc) {
	if _, exists := r.handlers[t]; !exists {
		r.types = append(r.types, t)
	}
	r.handlers[t] = h
}
