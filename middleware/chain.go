// ABOUTME: Middleware chaining utility for composing HTTP middleware
// ABOUTME: Applies middleware in declaration order (first is outermost)

package middleware

import "net/http"

// Middleware wraps a handler with cross-cutting behaviour
type Middleware func(http.HandlerFunc) http.HandlerFunc

// Chain applies middleware functions to a handler in order.
// The first middleware in the list is the outermost (executes first).
// Example: Chain(handler, audit, blocklist) applies as: audit(blocklist(handler))
func Chain(h http.HandlerFunc, middlewares ...Middleware) http.HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		h = middlewares[i](h)
	}
	return h
}

// Stack is a reusable, ordered set of middleware
type Stack []Middleware

// With returns a new stack with extra middleware appended innermost
func (s Stack) With(extra ...Middleware) Stack {
	out := make(Stack, 0, len(s)+len(extra))
	out = append(out, s...)
	return append(out, extra...)
}

// Then wraps h with every middleware in the stack
func (s Stack) Then(h http.HandlerFunc) http.HandlerFunc {
	return Chain(h, s...)
}
