package turn

import "context"

// Handler is the bot logic invoked at the end of the middleware chain.
type Handler func(ctx context.Context, tc *Context) error

// Middleware wraps the rest of the chain. Calling next continues the turn;
// returning without calling it short-circuits.
type Middleware interface {
	OnTurn(ctx context.Context, tc *Context, next func(context.Context) error) error
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(ctx context.Context, tc *Context, next func(context.Context) error) error

// OnTurn implements Middleware.
func (f MiddlewareFunc) OnTurn(ctx context.Context, tc *Context, next func(context.Context) error) error {
	return f(ctx, tc, next)
}

// Set is an ordered middleware chain.
type Set struct {
	items []Middleware
}

// NewSet builds a chain from mws, skipping nils.
func NewSet(mws ...Middleware) *Set {
	s := &Set{}
	return s.Use(mws...)
}

// Use appends middleware to the chain.
func (s *Set) Use(mws ...Middleware) *Set {
	for _, mw := range mws {
		if mw != nil {
			s.items = append(s.items, mw)
		}
	}
	return s
}

// Run executes the chain in order and then logic. A nil logic only runs the
// middleware.
func (s *Set) Run(ctx context.Context, tc *Context, logic Handler) error {
	var items []Middleware
	if s != nil {
		items = s.items
	}
	var step func(i int) func(context.Context) error
	step = func(i int) func(context.Context) error {
		return func(ctx context.Context) error {
			if i < len(items) {
				return items[i].OnTurn(ctx, tc, step(i+1))
			}
			if logic == nil {
				return nil
			}
			return logic(ctx, tc)
		}
	}
	return step(0)(ctx)
}
