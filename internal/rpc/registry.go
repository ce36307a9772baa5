package rpc

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Handler executes one RPC method. Params arrive as raw JSON; each handler
// does its own decoding so malformed params fail that call only.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Registry is the concurrent method table shared by the HTTP server and the
// introspection surface.
type Registry struct {
	handlers *xsync.MapOf[string, Handler]
}

func NewRegistry() *Registry {
	return &Registry{handlers: xsync.NewMapOf[string, Handler]()}
}

func (r *Registry) Register(name string, handler Handler) {
	r.handlers.Store(name, handler)
}

// Dispatch runs the named method, or fails with method-not-found.
func (r *Registry) Dispatch(ctx context.Context, name string, params json.RawMessage) (any, error) {
	handler, ok := r.handlers.Load(name)
	if !ok {
		return nil, MethodNotFound(name)
	}
	return handler(ctx, params)
}

// Names returns every registered method, sorted.
func (r *Registry) Names() []string {
	var names []string
	r.handlers.Range(func(name string, _ Handler) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}
