package chain

import (
	"context"
	"sync"
)

// Result is what a Handler hands back: either the (possibly transformed)
// input for the next handler, or a final value that ends the traversal.
type Result[T, R any] struct {
	next T
	done R
	end  bool
}

func Next[T, R any](v T) Result[T, R] {
	return Result[T, R]{next: v}
}

func Done[T, R any](v R) Result[T, R] {
	return Result[T, R]{done: v, end: true}
}

func (r Result[T, R]) IsDone() bool { return r.end }

// Next returns the value to continue with. Only meaningful if !IsDone().
func (r Result[T, R]) Next() T { return r.next }

// Done returns the final value. Only meaningful if IsDone().
func (r Result[T, R]) Done() R { return r.done }

type Handler[T, R any] interface {
	Handle(ctx context.Context, input T) Result[T, R]
}

type HandlerFunc[T, R any] func(ctx context.Context, input T) Result[T, R]

func (f HandlerFunc[T, R]) Handle(ctx context.Context, input T) Result[T, R] {
	return f(ctx, input)
}

type handlers[T, R any] struct {
	mu   sync.RWMutex
	list []Handler[T, R]
}

// Chain is an ordered list of handlers. Copies of a Chain share the same
// underlying list.
type Chain[T, R any] struct {
	h *handlers[T, R]
}

func New[T, R any](hs ...Handler[T, R]) Chain[T, R] {
	return Chain[T, R]{h: &handlers[T, R]{list: hs}}
}

// Append adds handlers to the end of the chain. Traversals already running
// keep the list they started with. A zero Chain gets its list here; copies
// taken before that do not see it.
func (c *Chain[T, R]) Append(hs ...Handler[T, R]) {
	if c.h == nil {
		c.h = &handlers[T, R]{}
	}
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	c.h.list = append(c.h.list, hs...)
}

func (c Chain[T, R]) Len() int {
	if c.h == nil {
		return 0
	}
	c.h.mu.RLock()
	defer c.h.mu.RUnlock()
	return len(c.h.list)
}

func (c Chain[T, R]) snapshot() []Handler[T, R] {
	if c.h == nil {
		return nil
	}
	c.h.mu.RLock()
	defer c.h.mu.RUnlock()
	out := make([]Handler[T, R], len(c.h.list))
	copy(out, c.h.list)
	return out
}

// Traverse feeds input through the handlers in order and stops at the first
// Done. If no handler finishes, the last transformed input is returned as
// Next.
func (c Chain[T, R]) Traverse(ctx context.Context, input T) Result[T, R] {
	for _, h := range c.snapshot() {
		r := h.Handle(ctx, input)
		if r.IsDone() {
			return r
		}
		input = r.Next()
	}
	return Next[T, R](input)
}
