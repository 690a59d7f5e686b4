package core

import (
	"context"
)

// contextKey is a typed context key. Each value type gets its own key.
type contextKey[C any] struct{}

// WithValue attaches a value to the context, keyed by its type. Later calls
// with the same type override earlier ones.
//
// Example:
//
//	ctx := core.WithValue(ctx, mat)
func WithValue[C any](ctx context.Context, v C) context.Context {
	return context.WithValue(ctx, contextKey[C]{}, v)
}

// ValueFrom retrieves the value of type C from the context.
func ValueFrom[C any](ctx context.Context) (C, bool) {
	if v, ok := ctx.Value(contextKey[C]{}).(C); ok {
		return v, true
	}
	return *new(C), false
}

// WithMaterializer attaches m to the context so that helpers running graphs
// from a context can find it.
func WithMaterializer(ctx context.Context, m *Materializer) context.Context {
	return WithValue(ctx, m)
}

// MaterializerFrom returns the materializer attached to ctx.
func MaterializerFrom(ctx context.Context) (*Materializer, bool) {
	m, ok := ValueFrom[*Materializer](ctx)
	return m, ok && m != nil
}
