package client

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iderikon/mediastorage-proxy/pkg/api"
	"github.com/iderikon/mediastorage-proxy/pkg/auth"
	"github.com/iderikon/mediastorage-proxy/pkg/logging"
	"github.com/iderikon/mediastorage-proxy/pkg/models"
	"github.com/iderikon/mediastorage-proxy/pkg/reactor"
	"github.com/iderikon/mediastorage-proxy/pkg/storage"
	"github.com/iderikon/mediastorage-proxy/pkg/store"
)

func newProxy(t *testing.T) string {
	t.Helper()
	r := reactor.New(reactor.Config{Workers: 2, QueueSize: 8}, logging.Discard())

	router := mux.NewRouter()
	api.New(api.Options{
		Backend:    storage.NewMemoryBackend(),
		Store:      store.NewMemoryStore(),
		Reactor:    r,
		Verifier:   auth.NewVerifier("secret"),
		Namespaces: []models.Namespace{{Name: "media", MaxObjectSize: 1024}},
		ChunkSize:  64,
	}).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.Stop(ctx)
	})
	return srv.URL
}

func TestClientRoundTrip(t *testing.T) {
	c := NewClient(newProxy(t)+"/", "secret")
	ctx := context.Background()

	payload := strings.Repeat("frame", 100)
	result, err := c.Upload(ctx, "media", "clip one.ts", strings.NewReader(payload), int64(len(payload)), "video/mp2t")
	require.NoError(t, err)
	assert.Equal(t, "clip one.ts", result.Key)
	assert.Equal(t, int64(len(payload)), result.Size)

	var buf bytes.Buffer
	n, err := c.Download(ctx, "media", "clip one.ts", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, buf.String())

	obj, err := c.Info(ctx, "media", "clip one.ts")
	require.NoError(t, err)
	assert.Equal(t, result.ID, obj.ID)
	assert.Equal(t, "video/mp2t", obj.ContentType)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health["status"])

	require.NoError(t, c.Delete(ctx, "media", "clip one.ts"))
	_, err = c.Info(ctx, "media", "clip one.ts")
	assert.True(t, IsNotFound(err), "got %v", err)
}

func TestClientErrors(t *testing.T) {
	url := newProxy(t)
	ctx := context.Background()

	_, err := NewClient(url, "").Upload(ctx, "media", "a", strings.NewReader("x"), 1, "")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Status)
	assert.Equal(t, "Unauthorized", se.Message)
	assert.NotEmpty(t, se.RequestID)

	c := NewClient(url, "secret")
	_, err = c.Upload(ctx, "media", "big", bytes.NewReader(make([]byte, 2048)), -1, "")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusRequestEntityTooLarge, se.Status)

	_, err = c.Download(ctx, "media", "absent", &bytes.Buffer{})
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "404")
}
