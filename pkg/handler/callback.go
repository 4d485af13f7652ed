package handler

import (
	"runtime"
	"sync/atomic"
)

// Callback is a one-shot callable produced by SafeWrapper or Wrap. It holds a
// reference to its boundary until Invoke or Discard runs; a Callback that is
// dropped without either releases the reference when it is garbage collected.
type Callback[T any] struct {
	boundary *Boundary
	fn       func(T) error
	used     atomic.Bool
	cleanup  runtime.Cleanup
}

// Wrap pairs fn with a new reference to b
func Wrap[T any](b *Boundary, fn func(T) error) *Callback[T] {
	cb := &Callback[T]{
		boundary: b.Retain(),
		fn:       fn,
	}
	cb.cleanup = runtime.AddCleanup(cb, releaseBoundary, b)
	return cb
}

func releaseBoundary(b *Boundary) {
	b.Release()
}

// Invoke runs the callback behind the boundary and releases the reference.
// Only the first Invoke (or Discard) has any effect.
func (c *Callback[T]) Invoke(arg T) {
	fn, ok := c.take()
	if !ok {
		return
	}
	defer c.boundary.Release()

	c.boundary.protect(func() error {
		return fn(arg)
	})
}

// Discard releases the reference without running the callback
func (c *Callback[T]) Discard() {
	if _, ok := c.take(); !ok {
		return
	}
	c.boundary.Release()
}

// Func returns Invoke as a plain function value
func (c *Callback[T]) Func() func(T) {
	return c.Invoke
}

// take consumes the callback exactly once
func (c *Callback[T]) take() (func(T) error, bool) {
	if !c.used.CompareAndSwap(false, true) {
		return nil, false
	}
	c.cleanup.Stop()
	fn := c.fn
	c.fn = nil
	return fn, true
}
