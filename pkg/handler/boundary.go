// Package handler implements the failure and lifetime boundary every request
// handler runs behind.
//
// A Boundary owns the Transport of one in-flight request. Business logic runs
// either synchronously through SafeCall or asynchronously through callbacks
// produced by SafeWrapper/Wrap and registered with the reactor. Any error
// returned, or panic raised, inside such a region is classified, logged once
// and turned into exactly one reply on the transport. Nothing escapes into the
// caller's goroutine.
//
// Boundaries are reference counted. New returns a boundary holding one
// reference for the caller; every wrapped callback holds another until it is
// invoked or discarded. When the last reference is released the transport is
// closed (if it implements io.Closer).
package handler

import (
	"fmt"
	"io"
	"runtime/debug"
	"sync/atomic"

	"github.com/iderikon/mediastorage-proxy/pkg/reactor"
)

// Logger is the leveled logger a transport hands out for its request
type Logger interface {
	Info(message string, fields ...map[string]interface{})
	Error(message string, fields ...map[string]interface{})
}

// Transport is the network side of one request
type Transport interface {
	// SendReply sends the reply status. Behavior on a second call is up to the transport.
	SendReply(status int) error
	Logger() Logger
}

// Observer is notified of every failure absorbed by a boundary
type Observer interface {
	ObserveFailure(outcome Outcome)
}

// Option configures a Boundary
type Option func(*Boundary)

// WithObserver registers a failure observer (metrics, tracing)
func WithObserver(o Observer) Option {
	return func(b *Boundary) {
		b.observer = o
	}
}

// Boundary is the per-request failure boundary
type Boundary struct {
	transport Transport
	observer  Observer
	refs      atomic.Int64
}

// New creates a boundary over t. The caller owns the single initial reference
// and must Release it when it no longer needs the boundary.
func New(t Transport, opts ...Option) *Boundary {
	b := &Boundary{transport: t}
	for _, opt := range opts {
		opt(b)
	}
	b.refs.Store(1)
	return b
}

// Transport returns the transport owned by the boundary
func (b *Boundary) Transport() Transport {
	return b.transport
}

// Retain takes an additional reference
func (b *Boundary) Retain() *Boundary {
	if b.refs.Add(1) <= 1 {
		panic("handler: retain of released boundary")
	}
	return b
}

// Release drops a reference. The transport is closed when the last one goes.
func (b *Boundary) Release() {
	n := b.refs.Add(-1)
	switch {
	case n == 0:
		if c, ok := b.transport.(io.Closer); ok {
			if err := c.Close(); err != nil {
				b.transport.Logger().Error(fmt.Sprintf("transport close failed: %v", err))
			}
		}
	case n < 0:
		panic("handler: negative boundary reference count")
	}
}

// Refs returns the current reference count
func (b *Boundary) Refs() int64 {
	return b.refs.Load()
}

// SafeCall runs fn on the calling goroutine behind the boundary
func (b *Boundary) SafeCall(fn func() error) {
	b.protect(fn)
}

// SafeWrapper wraps a reactor completion callback. The returned callback keeps
// the boundary alive until it is invoked or discarded.
func (b *Boundary) SafeWrapper(fn func(reactor.Completion) error) *Callback[reactor.Completion] {
	return Wrap(b, fn)
}

// protect runs fn and absorbs any failure it produces
func (b *Boundary) protect(fn func() error) {
	var (
		failure  any
		panicked bool
		stack    []byte
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				failure, panicked = r, true
				stack = debug.Stack()
			}
		}()
		if err := fn(); err != nil {
			failure = err
		}
	}()

	if failure == nil {
		return
	}
	b.fail(failure, panicked, stack)
}

// fail performs classify -> log -> reply
func (b *Boundary) fail(failure any, panicked bool, stack []byte) {
	outcome := Classify(failure)
	log := b.transport.Logger()

	fields := map[string]interface{}{"status": outcome.Status}
	if panicked {
		fields["panic"] = true
		fields["stack"] = string(stack)
	}

	if outcome.Severity == SeverityError {
		log.Error(outcome.Message, fields)
	} else {
		log.Info(outcome.Message, fields)
	}

	if b.observer != nil {
		b.observer.ObserveFailure(outcome)
	}

	if err := b.reply(outcome.Status); err != nil {
		log.Error(fmt.Sprintf("reply failed: http_status = %d ; %v", outcome.Status, err),
			map[string]interface{}{"status": outcome.Status})
	}
}

// reply sends the status; a panicking transport is reported, not re-classified
func (b *Boundary) reply(status int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panicked: %v", r)
		}
	}()
	return b.transport.SendReply(status)
}
