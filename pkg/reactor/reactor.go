// Package reactor runs blocking I/O operations on a fixed pool of worker
// goroutines and dispatches each completion to the handler registered for it.
//
// Handlers run on whichever worker finished the operation. The reactor does
// not recover panics raised by handlers; callers are expected to register
// handlers that absorb their own failures.
package reactor

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/iderikon/mediastorage-proxy/pkg/logging"
)

var (
	ErrStopped = errors.New("reactor stopped")
)

// Completion is the result of one operation
type Completion struct {
	N    int64
	Data []byte
	Err  error
}

// EOF reports whether the operation hit the end of its stream
func (c Completion) EOF() bool {
	return errors.Is(c.Err, io.EOF)
}

// Handler receives a completion exactly once, or is discarded if the
// operation never runs
type Handler interface {
	Invoke(Completion)
	Discard()
}

// HandlerFunc adapts a plain function to Handler. Discard is a no-op.
type HandlerFunc func(Completion)

// Invoke calls f(c)
func (f HandlerFunc) Invoke(c Completion) { f(c) }

// Discard does nothing
func (f HandlerFunc) Discard() {}

// Operation is the blocking part of an asynchronous call
type Operation func(ctx context.Context) Completion

type task struct {
	op       Operation
	handler  Handler
	queuedAt time.Time
}

// Config holds reactor sizing
type Config struct {
	Workers   int `mapstructure:"workers" yaml:"workers"`
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:   16,
		QueueSize: 1024,
	}
}

// Reactor dispatches operations to workers
type Reactor struct {
	queue   chan task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	logger  *logging.Logger
	stats   Stats
}

// New creates and starts a reactor
func New(cfg Config, logger *logging.Logger) *Reactor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reactor{
		queue:  make(chan task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.WithField("component", "reactor"),
	}

	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}

	r.logger.Debug("reactor started", map[string]interface{}{
		"workers": cfg.Workers,
		"queue":   cfg.QueueSize,
	})
	return r
}

func (r *Reactor) worker() {
	defer r.wg.Done()

	for t := range r.queue {
		// Work still queued at stop time never runs
		if r.ctx.Err() != nil {
			r.stats.discarded.Add(1)
			t.handler.Discard()
			continue
		}

		r.stats.observeWait(time.Since(t.queuedAt))
		c := t.op(r.ctx)
		r.stats.completed.Add(1)
		t.handler.Invoke(c)
	}
}

// Submit queues op; h is invoked with its completion on a worker goroutine.
// If the reactor is stopped h is discarded and ErrStopped returned.
func (r *Reactor) Submit(op Operation, h Handler) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		h.Discard()
		return ErrStopped
	}

	t := task{op: op, handler: h, queuedAt: time.Now()}
	r.stats.submitted.Add(1)
	select {
	case r.queue <- t:
		return nil
	default:
	}

	// Queue full. Callbacks submit from worker goroutines, so blocking here
	// could stall every worker; the send finishes in the background.
	go r.enqueue(t)
	return nil
}

func (r *Reactor) enqueue(t task) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.stopped {
		select {
		case r.queue <- t:
			return
		case <-r.ctx.Done():
		}
	}
	r.stats.discarded.Add(1)
	t.handler.Discard()
}

// Read reads up to size bytes from src. A short final chunk is reported
// together with io.EOF.
func (r *Reactor) Read(src io.Reader, size int, h Handler) error {
	return r.Submit(func(ctx context.Context) Completion {
		buf := make([]byte, size)
		n, err := io.ReadFull(src, buf)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return Completion{N: int64(n), Data: buf[:n], Err: err}
	}, h)
}

// Write writes p to dst
func (r *Reactor) Write(dst io.Writer, p []byte, h Handler) error {
	return r.Submit(func(ctx context.Context) Completion {
		n, err := dst.Write(p)
		return Completion{N: int64(n), Err: err}
	}, h)
}

// Do runs fn and reports its error
func (r *Reactor) Do(fn func(ctx context.Context) error, h Handler) error {
	return r.Submit(func(ctx context.Context) Completion {
		return Completion{Err: fn(ctx)}
	}, h)
}

// Stats returns a snapshot of the reactor counters
func (r *Reactor) Stats() StatsSnapshot {
	return r.stats.snapshot(len(r.queue))
}

// Stop stops accepting work, discards queued operations and waits for the
// workers to finish what they are running
func (r *Reactor) Stop(ctx context.Context) error {
	r.cancel()

	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("reactor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
