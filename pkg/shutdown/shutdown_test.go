package shutdown

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iderikon/mediastorage-proxy/pkg/logging"
)

type closer struct{ closed int }

func (c *closer) Close() error {
	c.closed++
	return nil
}

func TestShutdownRunsStepsInReverse(t *testing.T) {
	m := New(time.Second, logging.Discard())

	var order []string
	for _, name := range []string{"store", "reactor", "listener"} {
		name := name
		m.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"listener", "reactor", "store"}, order)
}

func TestShutdownReturnsFirstErrorAndRunsAll(t *testing.T) {
	m := New(time.Second, logging.Discard())
	boom := errors.New("boom")

	c := &closer{}
	m.Register("resource", CloseResource(c))
	m.Register("second", func(ctx context.Context) error { return errors.New("second") })
	m.Register("first", func(ctx context.Context) error { return boom })

	err := m.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "first")
	assert.Equal(t, 1, c.closed)

	// Later calls are no-ops
	assert.NoError(t, m.Shutdown())
	assert.Equal(t, 1, c.closed)
}

func TestStepsShareDeadline(t *testing.T) {
	m := New(50*time.Millisecond, logging.Discard())

	m.Register("slow", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	assert.ErrorIs(t, m.Shutdown(), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitReturnsOnContext(t *testing.T) {
	m := New(time.Second, logging.Discard())

	srv := httptest.NewServer(http.NotFoundHandler())
	m.Register("server", StopHTTPServer(srv.Config))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Wait(ctx))

	_, err := http.Get(srv.URL)
	assert.Error(t, err, "server should be stopped")
	srv.Close()
}
