package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/iderikon/mediastorage-proxy/pkg/logging"
)

// Func is one step of a graceful shutdown
type Func func(context.Context) error

type step struct {
	name string
	fn   Func
}

// Manager runs registered shutdown steps in reverse order
type Manager struct {
	steps   []step
	mu      sync.Mutex
	timeout time.Duration
	logger  *logging.Logger
	once    sync.Once
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a shutdown step. Steps run in LIFO order.
func (m *Manager) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{name: name, fn: fn})
}

// Wait blocks until SIGINT/SIGTERM or ctx is done, then runs Shutdown
func (m *Manager) Wait(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info("received signal, shutting down", map[string]interface{}{"signal": sig.String()})
	case <-ctx.Done():
		m.logger.Info("context done, shutting down")
	}
	return m.Shutdown()
}

// Shutdown executes all registered steps once. The first error is returned
// but every step still runs.
func (m *Manager) Shutdown() error {
	var first error
	m.once.Do(func() {
		m.mu.Lock()
		steps := m.steps
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(steps) - 1; i >= 0; i-- {
			s := steps[i]
			if err := s.fn(ctx); err != nil {
				m.logger.Error("shutdown step failed", map[string]interface{}{
					"step":  s.name,
					"error": err.Error(),
				})
				if first == nil {
					first = fmt.Errorf("%s: %w", s.name, err)
				}
				continue
			}
			m.logger.Debug("shutdown step complete", map[string]interface{}{"step": s.name})
		}
		m.logger.Info("graceful shutdown complete")
	})
	return first
}

// StopHTTPServer creates a shutdown step for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) Func {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// CloseResource creates a shutdown step for an io.Closer
func CloseResource(closer interface{ Close() error }) Func {
	return func(ctx context.Context) error {
		return closer.Close()
	}
}
