package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iderikon/mediastorage-proxy/pkg/handler"
	"github.com/iderikon/mediastorage-proxy/pkg/logging"
	"github.com/iderikon/mediastorage-proxy/pkg/models"
	"github.com/iderikon/mediastorage-proxy/pkg/reactor"
	"github.com/iderikon/mediastorage-proxy/pkg/store"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveFailure(t *testing.T) {
	c := NewCollector()

	c.ObserveFailure(handler.Classify(handler.ClientError(http.StatusNotFound, "missing")))
	c.ObserveFailure(handler.Classify(handler.ClientError(http.StatusNotFound, "missing")))
	c.ObserveFailure(handler.Classify("panic value"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.failures.WithLabelValues("404", "info")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("500", "error")))
}

func TestHandlerLifecycle(t *testing.T) {
	c := NewCollector()

	c.HandlerStarted()
	c.HandlerStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.inflight))

	c.HandlerFinished("upload", http.StatusOK, 15*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inflight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("upload", "200")))

	c.AddUploaded("images", 100)
	c.AddUploaded("images", 28)
	c.AddDownloaded("images", 64)
	assert.Equal(t, 128.0, testutil.ToFloat64(c.bytesIn.WithLabelValues("images")))
	assert.Equal(t, 64.0, testutil.ToFloat64(c.bytesOut.WithLabelValues("images")))
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	c := NewCollector()

	r := reactor.New(reactor.Config{Workers: 1}, logging.Discard())
	defer r.Stop(context.Background())
	c.RegisterReactor(r)

	s := store.NewMemoryStore()
	_, err := s.PutObject(context.Background(), &models.Object{
		ID:        "id-1",
		Namespace: "images",
		Key:       "cat.jpg",
		Size:      42,
	}, true)
	require.NoError(t, err)
	c.RegisterStore(s)

	c.HandlerFinished("get", http.StatusOK, time.Millisecond)

	body := scrape(t, c)
	for _, name := range []string{
		"mdsproxy_requests_total",
		"mdsproxy_request_duration_seconds",
		"mdsproxy_inflight_handlers",
		"mdsproxy_uptime_seconds",
		"mdsproxy_reactor_operations_total",
		"mdsproxy_reactor_queue_length",
		"go_goroutines",
	} {
		assert.Contains(t, body, name)
	}
	assert.True(t, strings.Contains(body, `mdsproxy_objects{namespace="images"} 1`), body)
	assert.True(t, strings.Contains(body, `mdsproxy_objects_bytes{namespace="images"} 42`), body)
}

func TestWriteStoreSnapshot(t *testing.T) {
	s := store.NewMemoryStore()
	for i, key := range []string{"a", "b"} {
		_, err := s.PutObject(context.Background(), &models.Object{
			ID:        key,
			Namespace: "docs",
			Key:       key,
			Size:      int64(10 * (i + 1)),
		}, true)
		require.NoError(t, err)
	}

	var buf strings.Builder
	require.NoError(t, WriteStoreSnapshot(&buf, s))

	out := buf.String()
	assert.Contains(t, out, "# TYPE mdsproxy_objects gauge")
	assert.Contains(t, out, `mdsproxy_objects{namespace="docs"} 2`)
	assert.Contains(t, out, `mdsproxy_objects_bytes{namespace="docs"} 30`)
}
