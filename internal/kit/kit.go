// Package kit provides the small request-handling vocabulary shared across
// the dispatch engine: an endpoint/middleware shape for wrapping dispatched
// calls (audit logging, tracing) and a handful of well-known context slots.
package kit

import "context"

// Endpoint is a single unit of work: a request in, a response or error out.
// Dispatcher calls, meta-tool calls, and chain steps are all endpoints so
// the same middleware (audit logging, in particular) wraps all of them.
type Endpoint func(ctx context.Context, request any) (any, error)

// Middleware wraps an Endpoint to add cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares in the order given: Chain(a, b)(e) runs a outside b.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

type ctxKey int

const (
	ctxTransport ctxKey = iota
	ctxUserID
	ctxRequestID
	ctxTraceID
	ctxPersona
)

func WithTransport(ctx context.Context, v string) context.Context { return set(ctx, ctxTransport, v) }
func WithUserID(ctx context.Context, v string) context.Context    { return set(ctx, ctxUserID, v) }
func WithRequestID(ctx context.Context, v string) context.Context { return set(ctx, ctxRequestID, v) }
func WithTraceID(ctx context.Context, v string) context.Context   { return set(ctx, ctxTraceID, v) }
func WithPersona(ctx context.Context, v string) context.Context   { return set(ctx, ctxPersona, v) }

func GetTransport(ctx context.Context) string { return get(ctx, ctxTransport) }
func GetUserID(ctx context.Context) string    { return get(ctx, ctxUserID) }
func GetRequestID(ctx context.Context) string { return get(ctx, ctxRequestID) }
func GetTraceID(ctx context.Context) string   { return get(ctx, ctxTraceID) }

// GetPersona reads the persona from the well-known context slot, falling
// back to "default" on any absence. Persona resolution never fails a call.
func GetPersona(ctx context.Context) string {
	if v := get(ctx, ctxPersona); v != "" {
		return v
	}
	return "default"
}

func set(ctx context.Context, key ctxKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func get(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}
