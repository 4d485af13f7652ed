package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iderikon/mediastorage-proxy/pkg/api"
	"github.com/iderikon/mediastorage-proxy/pkg/config"
	"github.com/iderikon/mediastorage-proxy/pkg/logging"
	"github.com/iderikon/mediastorage-proxy/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.FromViper(config.NewViper())
	require.NoError(t, err)

	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.MetricsListen = "127.0.0.1:0"
	cfg.Storage.Backend = "memory"
	cfg.Database.Type = "memory"
	cfg.Reactor.Workers = 2
	return cfg
}

func TestServerHandlesRequests(t *testing.T) {
	s, err := New(context.Background(), testConfig(t), logging.Discard())
	require.NoError(t, err)
	defer s.Close()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/upload/default/hello.txt", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health api.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.GreaterOrEqual(t, health.Reactor.Completed, int64(3))

	stats, err := s.Store().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalObjects)

	families, err := s.Metrics().Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["mdsproxy_objects"])
	assert.True(t, names["mdsproxy_reactor_operations_total"])
}

func TestServerFSBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "fs"
	cfg.Storage.Root = filepath.Join(t.TempDir(), "blobs")
	cfg.Storage.MinFreeBytes = 0
	cfg.Database.Type = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "meta.db")

	s, err := New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer s.Close()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/upload/default/a.bin", "application/octet-stream", strings.NewReader("payload"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.UploadResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))

	data, err := os.ReadFile(filepath.Join(cfg.Storage.Root, "default", result.ID))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	obj, err := s.Store().GetObject(context.Background(), "default", "a.bin")
	require.NoError(t, err)
	assert.Equal(t, result.ID, obj.ID)
}

func TestNewFailsCleanly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Type = "mongo"
	_, err := New(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	cfg = testConfig(t)
	cfg.Storage.Backend = "fs"
	cfg.Storage.Root = filepath.Join(file, "blobs")
	_, err = New(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestRunStopsOnContext(t *testing.T) {
	s, err := New(context.Background(), testConfig(t), logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReportsListenerFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Listen = "256.0.0.1:bad"
	cfg.Server.MetricsListen = ""

	s, err := New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api listener")
}
